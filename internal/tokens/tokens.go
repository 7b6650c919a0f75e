// Package tokens counts model tokens for transcript budgeting.
package tokens

import (
	"log/slog"

	"github.com/tiktoken-go/tokenizer"
)

// Counter counts tokens the way the chat model bills them. A single Counter
// is safe for concurrent use.
type Counter struct {
	codec tokenizer.Codec
}

// NewCounter loads the cl100k_base encoding. The encoding is pinned rather
// than derived from the configured model so history budgets stay stable
// across model swaps.
func NewCounter() (*Counter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, err
	}
	return &Counter{codec: codec}, nil
}

// Count returns the token count for text. If encoding fails it falls back to
// a chars/4 estimate so budgeting degrades instead of blocking a reply.
func (c *Counter) Count(text string) int {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		slog.Warn("Counter.Count: encode failed, using estimate", "error", err)
		return len(text) / 4
	}
	return len(ids)
}
