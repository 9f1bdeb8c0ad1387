package provider

import (
	"encoding/json"
	"fmt"

	"modelgate/internal/schema"
)

// deepseek and glm both speak the OpenAI chat-completions wire shape, batch
// and delta-framed streaming alike. The shared decode lives here.

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func parseOpenAIResponse(providerName string, raw []byte) (schema.Completion, error) {
	var out openAIResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return schema.Completion{}, &ParseError{Provider: providerName, Err: err}
	}
	if len(out.Choices) == 0 {
		return schema.Completion{}, &ParseError{Provider: providerName, Err: fmt.Errorf("empty choices")}
	}
	choice := out.Choices[0]
	return schema.Completion{
		ID:           out.ID,
		Model:        out.Model,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: schema.Usage{
			PromptTokens:     out.Usage.PromptTokens,
			CompletionTokens: out.Usage.CompletionTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
		CreatedAt: out.Created,
	}, nil
}

// parseOpenAIDelta extracts the newly generated text from one delta-framed
// stream event. Malformed frames report ok=false and are skipped upstream.
func parseOpenAIDelta(data []byte) (string, bool) {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", false
	}
	if len(chunk.Choices) == 0 {
		return "", false
	}
	return chunk.Choices[0].Delta.Content, true
}
