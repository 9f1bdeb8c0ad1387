// Package relay drives one upstream completion per request: it forwards
// streamed fragments to the caller, accumulates the full response, and
// emits exactly one usage delta per request no matter how the stream ends.
package relay

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"modelgate/internal/provider"
	"modelgate/internal/schema"
)

// UsageFunc receives the single usage delta for a request. It is called
// at most once, after the stream finishes, fails, or is cancelled.
type UsageFunc func(delta schema.UsageDelta)

// Relay owns token counting and the streaming lifecycle. Safe for
// concurrent use.
type Relay struct {
	counter *TokenCounter
	log     *logrus.Logger
}

func New(log *logrus.Logger) *Relay {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Relay{counter: NewTokenCounter(), log: log}
}

// Stream runs a streaming completion and returns a chunk channel.
//
// Content chunks arrive in upstream order. If the upstream fails midway,
// one chunk carries Err; accumulated content up to the failure still
// counts toward usage. The final chunk has Done set and the channel is
// closed after it. onUsage fires exactly once with the totals, including
// on cancellation.
func (r *Relay) Stream(ctx context.Context, p provider.Provider, model, userID string, messages []schema.Message, opts provider.Options, onUsage UsageFunc) <-chan schema.Chunk {
	out := make(chan schema.Chunk, 16)
	inputTokens := r.counter.CountMessages(messages)

	go func() {
		defer close(out)

		var (
			accumulated []byte
			usageOnce   sync.Once
		)
		finalize := func() {
			usageOnce.Do(func() {
				if onUsage == nil {
					return
				}
				onUsage(schema.UsageDelta{
					UserID:       userID,
					Model:        model,
					InputTokens:  inputTokens,
					OutputTokens: r.counter.Count(string(accumulated)),
				})
			})
		}
		defer finalize()

		fragments, errs := p.Stream(ctx, messages, model, opts)

		for fragment := range fragments {
			accumulated = append(accumulated, fragment...)
			select {
			case out <- schema.Chunk{Content: fragment}:
			case <-ctx.Done():
				finalize()
				select {
				case out <- schema.Chunk{Done: true}:
				default:
				}
				return
			}
		}

		if err := <-errs; err != nil {
			r.log.WithError(err).WithField("model", model).Warn("upstream stream failed")
			select {
			case out <- schema.Chunk{Err: err}:
			case <-ctx.Done():
			}
		}

		finalize()
		select {
		case out <- schema.Chunk{Done: true}:
		case <-ctx.Done():
		}
	}()

	return out
}

// Complete runs a blocking completion. Upstream-reported usage wins;
// when the vendor omits it, tokens are counted locally. onUsage fires
// once on success and not at all on error.
func (r *Relay) Complete(ctx context.Context, p provider.Provider, model, userID string, messages []schema.Message, opts provider.Options, onUsage UsageFunc) (schema.Completion, error) {
	completion, err := p.Complete(ctx, messages, model, opts)
	if err != nil {
		return schema.Completion{}, err
	}

	if completion.Usage.TotalTokens == 0 {
		completion.Usage.PromptTokens = r.counter.CountMessages(messages)
		completion.Usage.CompletionTokens = r.counter.Count(completion.Content)
		completion.Usage.TotalTokens = completion.Usage.PromptTokens + completion.Usage.CompletionTokens
	}

	if onUsage != nil {
		onUsage(schema.UsageDelta{
			UserID:       userID,
			Model:        model,
			InputTokens:  completion.Usage.PromptTokens,
			OutputTokens: completion.Usage.CompletionTokens,
		})
	}
	return completion, nil
}
