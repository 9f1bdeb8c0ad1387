package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"modelgate/internal/provider"
	"modelgate/internal/quota"
	"modelgate/internal/router"
	"modelgate/internal/schema"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages       []chatMessage `json:"messages" binding:"required"`
	Model          string        `json:"model"`
	Temperature    float64       `json:"temperature"`
	Stream         *bool         `json:"stream"`
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id"`
}

func (r *chatRequest) wantsStream() bool {
	return r.Stream == nil || *r.Stream
}

// resolveUser prefers the authenticated identity; the body field exists
// for unauthenticated demo clients.
func (s *Server) resolveUser(c *gin.Context, req *chatRequest) string {
	if id := UserID(c); id != "anonymous" {
		return id
	}
	if req.UserID != "" {
		return req.UserID
	}
	return "anonymous"
}

func upgradeMessage(tier quota.Tier) string {
	switch tier {
	case quota.TierFree:
		return "Upgrade to Starter ($9.99/mo) for 2,000 messages per month or Pro ($19.99/mo) for unlimited messages."
	case quota.TierStarter:
		return "Upgrade to Pro ($19.99/mo) for unlimited messages."
	}
	return ""
}

func (s *Server) handleChatCompletions(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	messages := make([]schema.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, schema.Message{Role: m.Role, Content: m.Content})
	}
	if err := schema.ValidateMessages(messages); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := s.resolveUser(c, &req)
	tier := TierOf(c, userID)

	// Anonymous traffic shares one counter, so enforcing a limit on it
	// would let one client exhaust it for everyone. Identified users only;
	// anonymous usage is still counted.
	remaining := -1
	if userID != "anonymous" {
		allowed, rem, limit, err := s.gate.Admit(c.Request.Context(), userID, tier)
		if err != nil {
			// Quota backend trouble never blocks a request.
			s.log.WithError(err).Warn("quota check failed, allowing request")
		} else {
			remaining = rem
			if !allowed {
				c.JSON(http.StatusTooManyRequests, gin.H{
					"error": fmt.Sprintf("Usage limit exceeded. You've reached your %d message limit. %s",
						limit, upgradeMessage(tier)),
				})
				return
			}
		}
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	// Only this request's turns are persisted; prior turns are already in
	// the store.
	incoming := messages

	// Prior turns come first so the upstream sees the full conversation.
	if req.ConversationID != "" && s.store != nil {
		history, err := s.store.Context(c.Request.Context(), userID, conversationID, 0)
		if err != nil {
			s.log.WithError(err).Warn("failed to load conversation context")
		} else if len(history) > 0 {
			messages = append(history, messages...)
		}
	}

	contextLength := schema.ContextLength(messages)

	preference := req.Model
	if preference == "" {
		preference = "auto"
	}
	model, reason, err := s.router.Select(schema.LastUserContent(messages), preference, contextLength)
	if err != nil {
		// No credentialed provider is a client-visible configuration
		// problem, not a server fault.
		if errors.Is(err, router.ErrNoProviders) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.log.WithFields(logrus.Fields{
		"model":  model,
		"reason": reason,
		"user":   userID,
	}).Info("model selected")

	p, err := s.registry.ForModel(model)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts := provider.Options{Temperature: req.Temperature}

	onUsage := s.usageRecorder(userID)

	c.Header("X-Selected-Model", model)
	c.Header("X-Messages-Remaining", fmt.Sprintf("%d", remaining))
	c.Header("X-Conversation-Id", conversationID)

	if req.wantsStream() {
		s.streamCompletion(c, p, model, userID, conversationID, messages, incoming, opts, onUsage)
		return
	}
	s.blockingCompletion(c, p, model, userID, conversationID, remaining, messages, incoming, opts, onUsage)
}

// usageRecorder returns the relay callback that queues token and message
// accounting off the request path.
func (s *Server) usageRecorder(userID string) func(schema.UsageDelta) {
	return func(delta schema.UsageDelta) {
		s.submit(func(ctx context.Context) {
			s.gate.RecordTokens(ctx, delta)
			s.gate.RecordMessage(ctx, userID)
		})
	}
}

// submit runs a job on the accounting pool, inline when no pool is
// configured.
func (s *Server) submit(job func(context.Context)) {
	if s.pool != nil {
		s.pool.Submit(job)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job(ctx)
}

func (s *Server) persistConversation(userID, conversationID, model, response string, messages []schema.Message) {
	if s.store == nil || response == "" {
		return
	}
	turns := append(append([]schema.Message(nil), messages...), schema.Message{
		Role:    schema.RoleAssistant,
		Content: response,
	})
	s.submit(func(ctx context.Context) {
		if err := s.store.Append(ctx, userID, conversationID, model, turns); err != nil {
			s.log.WithError(err).Warn("failed to persist conversation")
		}
	})
}

func (s *Server) streamCompletion(c *gin.Context, p provider.Provider, model, userID, conversationID string, messages, newTurns []schema.Message, opts provider.Options, onUsage func(schema.UsageDelta)) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	chunks := s.relay.Stream(c.Request.Context(), p, model, userID, messages, opts, onUsage)

	var full []byte
	for chunk := range chunks {
		switch {
		case chunk.Err != nil:
			if err := writeSSE(c.Writer, gin.H{"error": chunk.Err.Error()}); err != nil {
				s.log.WithError(err).Debug("client went away during error frame")
			}
			c.Writer.Flush()
		case chunk.Done:
			if err := writeSSEDone(c.Writer); err == nil {
				c.Writer.Flush()
			}
		default:
			full = append(full, chunk.Content...)
			if err := writeSSE(c.Writer, gin.H{"content": chunk.Content}); err != nil {
				s.log.WithError(err).Debug("client went away mid-stream")
			}
			c.Writer.Flush()
		}
	}

	s.persistConversation(userID, conversationID, model, string(full), newTurns)
}

func (s *Server) blockingCompletion(c *gin.Context, p provider.Provider, model, userID, conversationID string, remaining int, messages, newTurns []schema.Message, opts provider.Options, onUsage func(schema.UsageDelta)) {
	completion, err := s.relay.Complete(c.Request.Context(), p, model, userID, messages, opts, onUsage)
	if err != nil {
		// One retry against the next-cheapest credentialed model.
		fallback := s.router.Fallback(model)
		if fallback == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		s.log.WithError(err).WithFields(logrus.Fields{
			"failed_model":   model,
			"fallback_model": fallback,
		}).Warn("retrying with fallback model")

		fp, ferr := s.registry.ForModel(fallback)
		if ferr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		completion, ferr = s.relay.Complete(c.Request.Context(), fp, fallback, userID, messages, opts, s.usageRecorder(userID))
		if ferr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": ferr.Error()})
			return
		}
		model = fallback
		c.Header("X-Selected-Model", model)
	}

	s.persistConversation(userID, conversationID, model, completion.Content, newTurns)

	if completion.FinishReason == "" {
		completion.FinishReason = "stop"
	}
	c.JSON(http.StatusOK, gin.H{
		"choices": []gin.H{{
			"message":       gin.H{"role": "assistant", "content": completion.Content},
			"finish_reason": completion.FinishReason,
		}},
		"model": model,
		"usage": gin.H{
			"prompt_tokens":     completion.Usage.PromptTokens,
			"completion_tokens": completion.Usage.CompletionTokens,
			"total_tokens":      completion.Usage.TotalTokens,
		},
		"messages_remaining": remaining,
		"conversation_id":    conversationID,
	})
}
