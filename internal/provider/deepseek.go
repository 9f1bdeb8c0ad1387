package provider

import (
	"context"
	"time"

	"modelgate/internal/schema"
)

const deepseekBaseURL = "https://api.deepseek.com"

// DeepSeek serves the deepseek-* models over the OpenAI-compatible API with
// delta-framed streaming.
type DeepSeek struct {
	client client
}

// NewDeepSeek builds a deepseek adapter. baseURL overrides the production
// endpoint, for tests; empty means the real API.
func NewDeepSeek(apiKey, baseURL string, timeout time.Duration) *DeepSeek {
	if baseURL == "" {
		baseURL = deepseekBaseURL
	}
	return &DeepSeek{
		client: newClient("deepseek", baseURL, "/v1/chat/completions", apiKey, timeout),
	}
}

func (d *DeepSeek) Name() string { return "deepseek" }

func (d *DeepSeek) Models() []string {
	return []string{"deepseek-chat", "deepseek-coder"}
}

func (d *DeepSeek) Transform(messages []schema.Message) ([]WireMessage, error) {
	return transformMessages(messages)
}

func (d *DeepSeek) BuildRequest(messages []WireMessage, model string, opts Options, stream bool) map[string]any {
	return map[string]any{
		"model":             model,
		"messages":          messages,
		"temperature":       opts.temperature(),
		"max_tokens":        opts.maxTokens(),
		"stream":            stream,
		"top_p":             opts.topP(),
		"frequency_penalty": 0,
		"presence_penalty":  0,
	}
}

func (d *DeepSeek) Complete(ctx context.Context, messages []schema.Message, model string, opts Options) (schema.Completion, error) {
	wire, err := d.Transform(messages)
	if err != nil {
		return schema.Completion{}, err
	}
	raw, err := d.client.postJSON(ctx, d.BuildRequest(wire, model, opts, false))
	if err != nil {
		return schema.Completion{}, err
	}
	return parseOpenAIResponse(d.Name(), raw)
}

func (d *DeepSeek) Stream(ctx context.Context, messages []schema.Message, model string, opts Options) (<-chan string, <-chan error) {
	wire, err := d.Transform(messages)
	if err != nil {
		return failedStream(err)
	}
	return d.client.streamFrames(ctx, d.BuildRequest(wire, model, opts, true), parseOpenAIDelta)
}

// failedStream reports a pre-flight failure through the stream contract.
func failedStream(err error) (<-chan string, <-chan error) {
	fragments := make(chan string)
	errs := make(chan error, 1)
	errs <- err
	close(fragments)
	close(errs)
	return fragments, errs
}
