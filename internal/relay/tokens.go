package relay

import (
	"github.com/pkoukk/tiktoken-go"

	"modelgate/internal/schema"
)

// TokenCounter counts tokens with the cl100k_base encoding, falling back
// to a four-characters-per-token estimate when the encoding is
// unavailable.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

func (c *TokenCounter) Count(text string) int {
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// CountMessages counts tokens across the concatenated message contents.
func (c *TokenCounter) CountMessages(messages []schema.Message) int {
	var buf []byte
	for _, m := range messages {
		buf = append(buf, m.Content...)
	}
	return c.Count(string(buf))
}
