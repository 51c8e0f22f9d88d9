package generation

import (
	"fmt"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// NewCounter returns a Counter for unit "chars" or "tokens".
// encoding names the tiktoken encoding used for "tokens".
func NewCounter(unit, encoding string) (Counter, error) {
	switch unit {
	case "", "chars":
		return CharCounter{}, nil
	case "tokens":
		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, fmt.Errorf("load encoding %q: %w", encoding, err)
		}
		return &TokenCounter{enc: enc}, nil
	default:
		return nil, fmt.Errorf("unknown budget unit %q", unit)
	}
}

// CharCounter counts Unicode code points.
type CharCounter struct{}

// Count implements Counter.
func (CharCounter) Count(text string) int { return utf8.RuneCountInString(text) }

// Trim implements Counter.
func (CharCounter) Trim(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	n := 0
	for i := range text {
		if n == budget {
			return text[:i]
		}
		n++
	}
	return text
}

// TokenCounter counts tokens of a tiktoken encoding.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// Count implements Counter.
func (c *TokenCounter) Count(text string) int { return len(c.enc.Encode(text, nil, nil)) }

// Trim implements Counter.
func (c *TokenCounter) Trim(text string, budget int) string {
	if budget <= 0 {
		return ""
	}
	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) <= budget {
		return text
	}
	return c.enc.Decode(tokens[:budget])
}
