package safety

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

// Local applies in-process rules: blocked phrases, a length cap, and
// control-character stripping.
type Local struct {
	phrases  []string
	maxChars int
}

// NewLocal creates a rule gate. Phrases match case-insensitively.
// maxChars <= 0 disables the length rule.
func NewLocal(phrases []string, maxChars int) *Local {
	lowered := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return &Local{phrases: lowered, maxChars: maxChars}
}

// Check implements guard.Gate.
func (l *Local) Check(_ context.Context, text string) (domain.Verdict, error) {
	if l.maxChars > 0 && utf8.RuneCountInString(text) > l.maxChars {
		return domain.Verdict{Decision: domain.Block, Reason: "query too long"}, nil
	}

	lower := strings.ToLower(text)
	for _, p := range l.phrases {
		if strings.Contains(lower, p) {
			return domain.Verdict{Decision: domain.Block, Reason: "blocked phrase"}, nil
		}
	}

	if cleaned := stripControl(text); cleaned != text {
		return domain.Verdict{Decision: domain.Modify, Sanitized: cleaned, Reason: "control characters removed"}, nil
	}
	return domain.Verdict{Decision: domain.Allow}, nil
}

// stripControl drops control characters other than tab and newline.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
