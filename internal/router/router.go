// Package router implements the model-selection policy: task
// classification, provider scoring, deterministic fallback ordering and
// fire-and-forget analytics for every routing decision.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"modelgate/internal/storage"
)

// ErrNoProviders is returned when no backend has a usable credential.
var ErrNoProviders = errors.New("no providers have API keys configured")

// ReasonUserPreference and ReasonAPIKeyFallback are the non-task selection
// reasons; task matches use "task_match_<task>".
const (
	ReasonUserPreference = "user_preference"
	ReasonAPIKeyFallback = "api_key_fallback"
)

// Decision is the analytics record of one routing call. It is written to
// the sink and never read back by the router itself.
type Decision struct {
	QueryPreview  string             `json:"query_preview"`
	TaskType      TaskType           `json:"task_type"`
	SelectedModel string             `json:"selected_model"`
	Scores        map[string]float64 `json:"scores"`
	// Timestamp is unix milliseconds and keys the stored record.
	Timestamp int64 `json:"timestamp"`
}

// Sink receives routing decisions. Implementations must tolerate being
// called concurrently; failures never affect the returned selection.
type Sink interface {
	Record(ctx context.Context, decision Decision) error
}

const decisionTTL = 7 * 24 * time.Hour

// StorageSink writes decisions to the keyspace backend under
// routing_decision:<unix-millis> with a 7-day expiry.
type StorageSink struct {
	Backend storage.Backend
}

func (s *StorageSink) Record(ctx context.Context, decision Decision) error {
	raw, err := json.Marshal(decision)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("routing_decision:%d", decision.Timestamp)
	return s.Backend.SetEx(ctx, key, string(raw), decisionTTL)
}

// NopSink discards decisions; used when no backend is configured.
type NopSink struct{}

func (NopSink) Record(context.Context, Decision) error { return nil }

// Router scores a static descriptor table. It holds no mutable state
// between requests, so concurrent use needs no locking.
type Router struct {
	descriptors []Descriptor
	sink        Sink
	log         *logrus.Logger
}

func New(descriptors []Descriptor, sink Sink, log *logrus.Logger) *Router {
	if sink == nil {
		sink = NopSink{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Router{
		descriptors: append([]Descriptor(nil), descriptors...),
		sink:        sink,
		log:         log,
	}
}

// Descriptors returns the table in declaration order.
func (r *Router) Descriptors() []Descriptor {
	return append([]Descriptor(nil), r.descriptors...)
}

// Select picks the model for a query.
//
// Policy, in order: honor a credentialed concrete user preference; classify
// and score candidates whose context window covers the request; widen to
// any credentialed provider when the window filter empties the pool; fail
// with ErrNoProviders when nothing is credentialed at all. Ties break on
// table declaration order.
func (r *Router) Select(query, preference string, contextLength int) (string, string, error) {
	if preference != "" && preference != "auto" {
		for _, d := range r.descriptors {
			if d.Model == preference {
				if d.Credentialed() {
					return d.Model, ReasonUserPreference, nil
				}
				break
			}
		}
	}

	task := Classify(query)

	candidates := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		if d.Credentialed() && d.ContextWindow >= contextLength {
			candidates = append(candidates, d)
		}
	}

	if len(candidates) == 0 {
		for _, d := range r.descriptors {
			if d.Credentialed() {
				return d.Model, ReasonAPIKeyFallback, nil
			}
		}
		return "", "", ErrNoProviders
	}

	scores := make(map[string]float64, len(candidates))
	best := candidates[0]
	bestScore := -1.0
	for _, d := range candidates {
		score := r.score(d, task)
		scores[d.Model] = score
		// Strict > keeps the first-declared candidate on ties.
		if score > bestScore {
			best = d
			bestScore = score
		}
	}

	r.recordDecision(Decision{
		QueryPreview:  preview(query),
		TaskType:      task,
		SelectedModel: best.Model,
		Scores:        scores,
		Timestamp:     time.Now().UnixMilli(),
	})

	return best.Model, fmt.Sprintf("task_match_%s", task), nil
}

func (r *Router) score(d Descriptor, task TaskType) float64 {
	score := 20.0
	if d.hasSpecialty(task) {
		score = 50.0
	}

	costScore := (1 / d.Cost) * 10
	if costScore > 30 {
		costScore = 30
	}
	score += costScore

	switch d.Latency {
	case LatencyLow:
		score += 20
	case LatencyHigh:
		score += 5
	default:
		score += 10
	}
	return score
}

// Fallback returns the next-cheapest credentialed model other than the
// failed one, or "" when no alternative exists. Retry orchestration belongs
// to the caller.
func (r *Router) Fallback(failedModel string) string {
	sorted := append([]Descriptor(nil), r.descriptors...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Cost < sorted[j].Cost
	})
	for _, d := range sorted {
		if d.Model != failedModel && d.Credentialed() {
			return d.Model
		}
	}
	return ""
}

func (r *Router) recordDecision(decision Decision) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.sink.Record(ctx, decision); err != nil {
			r.log.WithError(err).Warn("failed to record routing decision")
		}
	}()
}

func preview(query string) string {
	runes := []rune(query)
	if len(runes) > 100 {
		runes = runes[:100]
	}
	return string(runes)
}
