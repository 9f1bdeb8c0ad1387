package provider

import (
	"context"
	"encoding/json"
	"time"

	"modelgate/internal/schema"
)

const qwenBaseURL = "https://dashscope-intl.aliyuncs.com/api/v1"

// Qwen serves the qwen* models over the DashScope generation API. Its
// stream is snapshot-or-delta framed: an event may carry only the newly
// generated text or the full cumulative text so far, distinguished by
// content length against what has already been forwarded.
type Qwen struct {
	client client
}

// NewQwen builds a qwen adapter. baseURL overrides the production endpoint,
// for tests; empty means the real API.
func NewQwen(apiKey, baseURL string, timeout time.Duration) *Qwen {
	if baseURL == "" {
		baseURL = qwenBaseURL
	}
	return &Qwen{
		client: newClient("qwen", baseURL, "/services/aigc/text-generation/generation", apiKey, timeout),
	}
}

func (q *Qwen) Name() string { return "qwen" }

func (q *Qwen) Models() []string {
	return []string{"qwen3-235b-a22b", "qwen-max", "qwen-plus", "qwen-turbo"}
}

func (q *Qwen) Transform(messages []schema.Message) ([]WireMessage, error) {
	return transformMessages(messages)
}

func (q *Qwen) BuildRequest(messages []WireMessage, model string, opts Options, stream bool) map[string]any {
	return map[string]any{
		"model": model,
		"input": map[string]any{
			"messages": messages,
		},
		"parameters": map[string]any{
			"temperature":        opts.temperature(),
			"max_tokens":         opts.maxTokens(),
			"top_p":              opts.topP(),
			"repetition_penalty": 1.0,
			"stream":             stream,
			"result_format":      "message",
			"enable_search":      false,
			"enable_thinking":    false,
		},
	}
}

type qwenResponse struct {
	RequestID string `json:"request_id"`
	Model     string `json:"model"`
	Output    struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
		Choices      []struct {
			FinishReason string `json:"finish_reason"`
			Message      struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (q *Qwen) Complete(ctx context.Context, messages []schema.Message, model string, opts Options) (schema.Completion, error) {
	wire, err := q.Transform(messages)
	if err != nil {
		return schema.Completion{}, err
	}
	raw, err := q.client.postJSON(ctx, q.BuildRequest(wire, model, opts, false))
	if err != nil {
		return schema.Completion{}, err
	}

	var out qwenResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return schema.Completion{}, &ParseError{Provider: q.Name(), Err: err}
	}

	content := out.Output.Text
	finish := out.Output.FinishReason
	if len(out.Output.Choices) > 0 {
		content = out.Output.Choices[0].Message.Content
		finish = out.Output.Choices[0].FinishReason
	}
	if finish == "" {
		finish = "stop"
	}
	respModel := out.Model
	if respModel == "" {
		respModel = model
	}
	return schema.Completion{
		ID:           out.RequestID,
		Model:        respModel,
		Content:      content,
		FinishReason: finish,
		Usage: schema.Usage{
			PromptTokens:     out.Usage.InputTokens,
			CompletionTokens: out.Usage.OutputTokens,
			TotalTokens:      out.Usage.TotalTokens,
		},
		CreatedAt: time.Now().Unix(),
	}, nil
}

func (q *Qwen) Stream(ctx context.Context, messages []schema.Message, model string, opts Options) (<-chan string, <-chan error) {
	wire, err := q.Transform(messages)
	if err != nil {
		return failedStream(err)
	}
	// The forwarded-length cursor belongs to this one stream call, so
	// concurrent streams on a shared adapter cannot leak state.
	cursor := &qwenCursor{}
	return q.client.streamFrames(ctx, q.BuildRequest(wire, model, opts, true), cursor.parse)
}

// qwenCursor tracks how many characters of message-framed cumulative text
// have already been forwarded for one stream call.
type qwenCursor struct {
	sent int
}

type qwenStreamFrame struct {
	Choices []qwenStreamChoice `json:"choices"`
	Output  struct {
		Choices []qwenStreamChoice `json:"choices"`
	} `json:"output"`
}

type qwenStreamChoice struct {
	Delta *struct {
		Content string `json:"content"`
	} `json:"delta"`
	Message *struct {
		Content string `json:"content"`
	} `json:"message"`
}

func (c *qwenCursor) parse(data []byte) (string, bool) {
	var frame qwenStreamFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return "", false
	}
	choices := frame.Output.Choices
	if len(choices) == 0 {
		choices = frame.Choices
	}
	if len(choices) == 0 {
		return "", false
	}
	choice := choices[0]

	// Delta frames carry only new text; forward verbatim.
	if choice.Delta != nil {
		c.sent += len(choice.Delta.Content)
		return choice.Delta.Content, true
	}
	if choice.Message == nil {
		return "", false
	}

	// Message frames are cumulative snapshots; forward only the unseen
	// suffix. A snapshot no longer than what went out already is a no-op.
	content := choice.Message.Content
	if len(content) <= c.sent {
		return "", false
	}
	fragment := content[c.sent:]
	c.sent = len(content)
	return fragment, true
}
