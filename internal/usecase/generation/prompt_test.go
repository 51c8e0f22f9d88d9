package generation

import (
	"strings"
	"testing"

	"github.com/kailas-cloud/ragstream/internal/domain/candidate"
)

func ranked(texts ...string) []candidate.Ranked {
	out := make([]candidate.Ranked, len(texts))
	for i, text := range texts {
		c := candidate.New(string(rune('a'+i)), text, 1, nil).WithRank(i)
		out[i] = candidate.NewRanked(c, 1)
	}
	return out
}

func TestBuildPrompt_PacksUntilBudget(t *testing.T) {
	svc := New(nil, nil, Config{SystemPrompt: "sys", ContextBudget: 10})

	pc := svc.BuildPrompt("q", ranked("aaaa", "bbbb", "cccc"))
	if len(pc.Documents) != 2 || pc.Used != 8 || !pc.Truncated {
		t.Fatalf("got %+v", pc)
	}
	if pc.DocIDs[0] != "a" || pc.DocIDs[1] != "b" {
		t.Errorf("doc ids = %v", pc.DocIDs)
	}
	if pc.System != "sys" || pc.Question != "q" {
		t.Errorf("got %+v", pc)
	}
}

func TestBuildPrompt_StopsAtFirstMisfit(t *testing.T) {
	svc := New(nil, nil, Config{ContextBudget: 10})

	pc := svc.BuildPrompt("q", ranked("aaaa", "bbbbbbbbb", "c"))
	if len(pc.Documents) != 1 || pc.Documents[0] != "aaaa" {
		t.Fatalf("got %+v", pc.Documents)
	}
}

func TestBuildPrompt_TrimsOversizedFirstDocument(t *testing.T) {
	svc := New(nil, nil, Config{ContextBudget: 5})

	pc := svc.BuildPrompt("q", ranked("héllo world", "x"))
	if len(pc.Documents) != 1 || pc.Documents[0] != "héllo" {
		t.Fatalf("got %q", pc.Documents)
	}
	if pc.Used != 5 || !pc.Truncated {
		t.Errorf("used=%d truncated=%v", pc.Used, pc.Truncated)
	}
}

func TestBuildPrompt_NoBudget(t *testing.T) {
	pc := New(nil, nil, Config{}).BuildPrompt("q", ranked("a", "b", "c"))
	if len(pc.Documents) != 3 || pc.Truncated {
		t.Fatalf("got %+v", pc)
	}
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	svc := New(nil, nil, Config{ContextBudget: 7})
	in := ranked("abc", "def", "ghi")
	a := svc.Render(svc.BuildPrompt("q", in), "")
	b := svc.Render(svc.BuildPrompt("q", in), "")
	if a != b {
		t.Error("prompt construction is not deterministic")
	}
}

func TestRender(t *testing.T) {
	svc := New(nil, nil, Config{SystemPrompt: "sys"})
	p := svc.Render(svc.BuildPrompt("what?", ranked("first", "second")), "m2")

	if p.System != "sys" || p.Model != "m2" {
		t.Errorf("got %+v", p)
	}
	want := "Context:\n[1] first\n\n[2] second\n\nQuestion: what?"
	if p.User != want {
		t.Errorf("user prompt = %q, want %q", p.User, want)
	}
}

func TestCharCounter(t *testing.T) {
	c := CharCounter{}
	if c.Count("héllo") != 5 {
		t.Errorf("Count = %d", c.Count("héllo"))
	}
	if got := c.Trim("héllo", 2); got != "hé" {
		t.Errorf("Trim = %q", got)
	}
	if got := c.Trim("hi", 5); got != "hi" {
		t.Errorf("Trim = %q", got)
	}
	if got := c.Trim("hi", 0); got != "" {
		t.Errorf("Trim = %q", got)
	}
}

func TestNewCounter(t *testing.T) {
	if c, err := NewCounter("chars", ""); err != nil || c.Count("abc") != 3 {
		t.Fatalf("chars counter: %v", err)
	}
	if _, err := NewCounter("words", ""); err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestTokenCounter(t *testing.T) {
	c, err := NewCounter("tokens", "cl100k_base")
	if err != nil {
		t.Skipf("encoding unavailable: %v", err)
	}
	text := strings.Repeat("retrieval augmented generation ", 20)
	n := c.Count(text)
	if n == 0 {
		t.Fatal("expected tokens")
	}
	trimmed := c.Trim(text, 5)
	if got := c.Count(trimmed); got > 5 {
		t.Errorf("trimmed to %d tokens, want <= 5", got)
	}
}
