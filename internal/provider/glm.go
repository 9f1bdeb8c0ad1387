package provider

import (
	"context"
	"fmt"
	"time"

	"modelgate/internal/schema"
)

const glmBaseURL = "https://open.bigmodel.cn/api/paas/v4"

// GLM serves the glm-* models. The wire shape is OpenAI-compatible with two
// vendor extras: a request_id nonce and an explicit do_sample flag.
type GLM struct {
	client client
	now    func() time.Time
}

// NewGLM builds a glm adapter. baseURL overrides the production endpoint,
// for tests; empty means the real API.
func NewGLM(apiKey, baseURL string, timeout time.Duration) *GLM {
	if baseURL == "" {
		baseURL = glmBaseURL
	}
	return &GLM{
		client: newClient("glm", baseURL, "/chat/completions", apiKey, timeout),
		now:    time.Now,
	}
}

func (g *GLM) Name() string { return "glm" }

func (g *GLM) Models() []string {
	return []string{"glm-4.5", "glm-4", "glm-4-flash"}
}

func (g *GLM) Transform(messages []schema.Message) ([]WireMessage, error) {
	return transformMessages(messages)
}

func (g *GLM) BuildRequest(messages []WireMessage, model string, opts Options, stream bool) map[string]any {
	return map[string]any{
		"model":       model,
		"messages":    messages,
		"temperature": opts.temperature(),
		"max_tokens":  opts.maxTokens(),
		"stream":      stream,
		"top_p":       opts.topP(),
		// Vendor-mandated request nonce; the only non-deterministic field.
		"request_id": fmt.Sprintf("req_%d", g.now().UnixMilli()),
		"do_sample":  true,
	}
}

func (g *GLM) Complete(ctx context.Context, messages []schema.Message, model string, opts Options) (schema.Completion, error) {
	wire, err := g.Transform(messages)
	if err != nil {
		return schema.Completion{}, err
	}
	raw, err := g.client.postJSON(ctx, g.BuildRequest(wire, model, opts, false))
	if err != nil {
		return schema.Completion{}, err
	}
	return parseOpenAIResponse(g.Name(), raw)
}

func (g *GLM) Stream(ctx context.Context, messages []schema.Message, model string, opts Options) (<-chan string, <-chan error) {
	wire, err := g.Transform(messages)
	if err != nil {
		return failedStream(err)
	}
	return g.client.streamFrames(ctx, g.BuildRequest(wire, model, opts, true), parseOpenAIDelta)
}
