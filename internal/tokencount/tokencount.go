// Package tokencount estimates token counts for prompt-budget math. It
// prefers a real BPE count via tiktoken-go when an encoder is cached for
// the configured model family, and falls back to the len(text)/4 heuristic
// when no encoder is available — the exact heuristic named in the spec so
// budget math keeps working offline or for unrecognized models.
package tokencount

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// charsPerTokenHeuristic is the fallback ratio used when no tiktoken
// encoding is available.
const charsPerTokenHeuristic = 4

// Counter estimates token counts for a specific model family, falling back
// to the heuristic when its encoder could not be loaded (offline, unknown
// model name).
type Counter struct {
	mu      sync.Mutex
	enc     *tiktoken.Tiktoken
	enabled bool
}

// NewCounter attempts to load a tiktoken encoding for model. If no encoding
// is registered for that model (or tiktoken's codec cache is unavailable,
// e.g. fully offline), the returned Counter silently uses the heuristic for
// every call — callers never need to check for an error here, since the
// heuristic is always a valid fallback.
func NewCounter(model string) *Counter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil || enc == nil {
		return &Counter{enabled: false}
	}
	return &Counter{enc: enc, enabled: true}
}

// Estimate returns the estimated token count for text.
func (c *Counter) Estimate(text string) int {
	if text == "" {
		return 0
	}
	if c.enabled {
		c.mu.Lock()
		defer c.mu.Unlock()
		tokens := c.enc.Encode(text, nil, nil)
		return len(tokens)
	}
	return estimateHeuristic(text)
}

func estimateHeuristic(text string) int {
	n := len(text) / charsPerTokenHeuristic
	if n == 0 && text != "" {
		n = 1
	}
	return n
}
