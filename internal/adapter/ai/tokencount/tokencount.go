// Package tokencount measures text length in model tokens.
//
// The chunker sizes windows in tokens rather than characters so chunk
// budgets line up with the embedding model's context, using tiktoken-go's
// cl100k_base encoding as a close approximation for modern models.
package tokencount

import (
	"fmt"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// Counter provides thread-safe token counting.
type Counter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewCounter creates a counter backed by the cl100k_base encoding.
func NewCounter() (*Counter, error) {
	enc, err := tiktoken.GetEncoding(defaultEncoding)
	if err != nil {
		return nil, fmt.Errorf("op=tokencount.NewCounter: %w", err)
	}
	return &Counter{enc: enc}, nil
}

// CountTokens returns the number of tokens in text.
func (c *Counter) CountTokens(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateTokens approximates a token count without an encoder, at the usual
// four characters per token. Used as a fallback when the encoding cannot be
// loaded.
func EstimateTokens(text string) int {
	return len(text) / 4
}
