package filter

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

// Config controls redaction.
type Config struct {
	Phrases     []string
	WindowChars int
	Replacement string
	Buffer      int
}

// Filter redacts disallowed phrases from a live fragment stream.
// It holds back the trailing WindowChars-1 runes so that a phrase split
// across fragments is still caught.
type Filter struct {
	phrases     [][]rune // lower-cased, longest first
	hold        int
	replacement string
	buffer      int
	redactions  prometheus.Counter
}

// New creates a Filter. redactions can be nil.
func New(cfg Config, redactions prometheus.Counter) *Filter {
	f := &Filter{replacement: cfg.Replacement, buffer: cfg.Buffer, redactions: redactions}
	longest := 0
	for _, p := range cfg.Phrases {
		if strings.TrimSpace(p) == "" {
			continue
		}
		rs := []rune(p)
		for i := range rs {
			rs[i] = unicode.ToLower(rs[i])
		}
		f.phrases = append(f.phrases, rs)
		longest = max(longest, len(rs))
	}
	sort.SliceStable(f.phrases, func(i, j int) bool { return len(f.phrases[i]) > len(f.phrases[j]) })

	if len(f.phrases) > 0 {
		f.hold = max(cfg.WindowChars, longest) - 1
	}
	if f.buffer < 0 {
		f.buffer = 0
	}
	return f
}

// Apply returns the filtered stream. Fragments keep their source seq and
// order; a fragment left with no text is dropped unless it is terminal.
func (f *Filter) Apply(ctx context.Context, in <-chan domain.Fragment) <-chan domain.Fragment {
	out := make(chan domain.Fragment, f.buffer)
	go func() {
		defer close(out)

		send := func(fr domain.Fragment) bool {
			select {
			case out <- fr:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var pending []rune
		lastSeq := 0
		for {
			var fr domain.Fragment
			var ok bool
			select {
			case fr, ok = <-in:
			case <-ctx.Done():
				return
			}
			if !ok {
				if ctx.Err() == nil {
					send(domain.Fragment{
						Seq:  lastSeq + 1,
						Text: f.redact(pending),
						Err:  fmt.Errorf("stream ended without terminal fragment: %w", domain.ErrInternal),
					})
				}
				return
			}
			lastSeq = fr.Seq

			pending = append(pending, []rune(fr.Text)...)
			if fr.Terminal() {
				fr.Text = f.redact(pending)
				send(fr)
				return
			}

			var emit string
			emit, pending = f.split(pending)
			if emit == "" {
				continue
			}
			fr.Text = emit
			if !send(fr) {
				return
			}
		}
	}()
	return out
}

// split redacts and returns the part of buf that can no longer be the start
// of a phrase, keeping the rest for the next fragment.
func (f *Filter) split(buf []rune) (string, []rune) {
	boundary := len(buf) - f.hold
	if boundary <= 0 {
		return "", buf
	}
	// A match starting before the boundary is complete; emit all of it.
	for _, m := range f.matches(buf) {
		if m.start < boundary && m.end > boundary {
			boundary = m.end
		}
	}
	rest := append([]rune(nil), buf[boundary:]...)
	return f.redact(buf[:boundary]), rest
}

type span struct{ start, end int }

func (f *Filter) matches(buf []rune) []span {
	if len(f.phrases) == 0 {
		return nil
	}
	var out []span
	for i := 0; i < len(buf); {
		matched := false
		for _, p := range f.phrases {
			if hasPrefixFold(buf[i:], p) {
				out = append(out, span{i, i + len(p)})
				i += len(p)
				matched = true
				break
			}
		}
		if !matched {
			i++
		}
	}
	return out
}

func (f *Filter) redact(buf []rune) string {
	ms := f.matches(buf)
	if len(ms) == 0 {
		return string(buf)
	}
	var sb strings.Builder
	prev := 0
	for _, m := range ms {
		sb.WriteString(string(buf[prev:m.start]))
		sb.WriteString(f.replacement)
		prev = m.end
	}
	sb.WriteString(string(buf[prev:]))
	if f.redactions != nil {
		f.redactions.Add(float64(len(ms)))
	}
	return sb.String()
}

func hasPrefixFold(s, prefix []rune) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i, r := range prefix {
		if unicode.ToLower(s[i]) != r {
			return false
		}
	}
	return true
}
