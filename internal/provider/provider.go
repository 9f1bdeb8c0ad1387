// Package provider maps provider-specific request/response formats to the
// canonical schema. Each backend implements the flat Provider interface and
// is selected at runtime by model-name prefix.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"modelgate/internal/schema"
)

// Options are the generation parameters a caller may set. Zero values mean
// "use the documented vendor default".
type Options struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
}

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
	defaultTopP        = 0.95
)

func (o Options) temperature() float64 {
	if o.Temperature <= 0 {
		return defaultTemperature
	}
	return o.Temperature
}

func (o Options) maxTokens() int {
	if o.MaxTokens <= 0 {
		return defaultMaxTokens
	}
	return o.MaxTokens
}

func (o Options) topP() float64 {
	if o.TopP <= 0 {
		return defaultTopP
	}
	return o.TopP
}

// WireMessage is one message in a vendor body. All three backends use a
// role/content pair on the wire; what differs is where the array sits in
// the payload and how responses come back.
type WireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is the capability contract implemented once per backend.
type Provider interface {
	Name() string
	// Models lists the model identifiers this backend serves.
	Models() []string
	// Transform maps canonical messages to the vendor message array without
	// dropping or reordering anything.
	Transform(messages []schema.Message) ([]WireMessage, error)
	// BuildRequest merges transformed messages with generation parameters,
	// filling vendor defaults for anything unset. Deterministic for identical
	// inputs except vendor-mandated request ids.
	BuildRequest(messages []WireMessage, model string, opts Options, stream bool) map[string]any
	// Complete issues a blocking request and returns the canonical result.
	Complete(ctx context.Context, messages []schema.Message, model string, opts Options) (schema.Completion, error)
	// Stream issues a long-lived request and yields text fragments. The
	// fragment channel is closed at end of sequence; at most one error is
	// sent on the error channel, which is closed afterwards.
	Stream(ctx context.Context, messages []schema.Message, model string, opts Options) (<-chan string, <-chan error)
}

// HTTPError is a non-2xx upstream response.
type HTTPError struct {
	Provider string
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.Status, strings.TrimSpace(e.Body))
}

// ParseError is a malformed upstream response body.
type ParseError struct {
	Provider string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: decode upstream response: %v", e.Provider, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Registry resolves a model identifier to the backend that serves it.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from the given providers, keyed by name.
func NewRegistry(providers ...Provider) *Registry {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		m[p.Name()] = p
	}
	return &Registry{providers: m}
}

// ForModel picks the provider by model-name prefix. qwen3-* models map to
// the qwen backend; everything else uses the segment before the first dash.
func (r *Registry) ForModel(model string) (Provider, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("empty model name")
	}
	name := model
	if strings.HasPrefix(model, "qwen") {
		name = "qwen"
	} else if i := strings.Index(model, "-"); i > 0 {
		name = model[:i]
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider for model %q", model)
	}
	return p, nil
}

func transformMessages(messages []schema.Message) ([]WireMessage, error) {
	if err := schema.ValidateMessages(messages); err != nil {
		return nil, err
	}
	out := make([]WireMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, WireMessage{Role: m.Role, Content: m.Content})
	}
	return out, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
