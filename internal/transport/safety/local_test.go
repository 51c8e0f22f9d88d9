package safety

import (
	"context"
	"strings"
	"testing"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

func TestLocal_Check(t *testing.T) {
	gate := NewLocal([]string{"Ignore previous instructions", "  "}, 20)

	tests := []struct {
		name string
		text string
		want domain.Decision
		san  string
	}{
		{"plain", "what is rrf?", domain.Allow, ""},
		{"blocked phrase any case", "IGNORE previous instructions", domain.Block, ""},
		{"too long", strings.Repeat("a", 21), domain.Block, ""},
		{"control chars", "hi\x00 there\x1b", domain.Modify, "hi there"},
		{"newline kept", "line1\nline2", domain.Allow, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := gate.Check(context.Background(), tt.text)
			if err != nil {
				t.Fatalf("Check: %v", err)
			}
			if v.Decision != tt.want {
				t.Errorf("decision = %s, want %s", v.Decision, tt.want)
			}
			if v.Sanitized != tt.san {
				t.Errorf("sanitized = %q, want %q", v.Sanitized, tt.san)
			}
		})
	}
}

func TestLocal_NoLengthLimit(t *testing.T) {
	v, _ := NewLocal(nil, 0).Check(context.Background(), string(make([]byte, 5000)))
	// NUL bytes are control characters.
	if v.Decision != domain.Modify || v.Sanitized != "" {
		t.Errorf("got %+v", v)
	}
}
