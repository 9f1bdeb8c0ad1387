// Package memory persists conversation transcripts so follow-up requests
// can carry prior context. Conversations live under conv:<user>:<id> with
// a 7-day expiry; user_convs:<user> indexes a user's conversations by
// recency.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"modelgate/internal/schema"
	"modelgate/internal/storage"
)

const (
	conversationTTL = 7 * 24 * time.Hour
	// DefaultContextMessages bounds how much history a request inherits.
	DefaultContextMessages = 20
)

// StoredMessage is one transcript entry. Model is set only on assistant
// turns.
type StoredMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Model     string `json:"model,omitempty"`
}

// Store reads and writes conversation transcripts.
type Store struct {
	backend storage.Backend
	log     *logrus.Logger
	now     func() time.Time
}

func NewStore(backend storage.Backend, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{backend: backend, log: log, now: time.Now}
}

func conversationKey(userID, conversationID string) string {
	return fmt.Sprintf("conv:%s:%s", userID, conversationID)
}

func indexKey(userID string) string {
	return fmt.Sprintf("user_convs:%s", userID)
}

// Context returns up to maxMessages of the most recent transcript entries
// for a conversation, oldest first. Entries that fail to decode are
// skipped. A missing conversation yields an empty slice.
func (s *Store) Context(ctx context.Context, userID, conversationID string, maxMessages int) ([]schema.Message, error) {
	if maxMessages <= 0 {
		maxMessages = DefaultContextMessages
	}
	raw, err := s.backend.LRange(ctx, conversationKey(userID, conversationID), int64(-maxMessages), -1)
	if err != nil {
		return nil, err
	}

	messages := make([]schema.Message, 0, len(raw))
	for _, entry := range raw {
		var m StoredMessage
		if err := json.Unmarshal([]byte(entry), &m); err != nil {
			s.log.WithError(err).Warn("skipping undecodable conversation entry")
			continue
		}
		messages = append(messages, schema.Message{Role: m.Role, Content: m.Content})
	}
	return messages, nil
}

// Append stores messages at the end of a conversation and refreshes the
// user's conversation index. model tags assistant turns only.
func (s *Store) Append(ctx context.Context, userID, conversationID, model string, messages []schema.Message) error {
	if len(messages) == 0 {
		return nil
	}

	key := conversationKey(userID, conversationID)
	timestamp := s.now().UTC().Format(time.RFC3339)

	entries := make([]string, 0, len(messages))
	for _, m := range messages {
		stored := StoredMessage{Role: m.Role, Content: m.Content, Timestamp: timestamp}
		if m.Role == schema.RoleAssistant {
			stored.Model = model
		}
		raw, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		entries = append(entries, string(raw))
	}

	if err := s.backend.RPush(ctx, key, conversationTTL, entries...); err != nil {
		return err
	}
	return s.backend.ZAdd(ctx, indexKey(userID), conversationID, float64(s.now().Unix()), conversationTTL)
}
