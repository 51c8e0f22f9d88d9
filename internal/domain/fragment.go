package domain

// Fragment is one piece of a generated answer.
// Seq is strictly increasing within a stream; EOS marks the final fragment.
// A fragment with Err set terminates the stream with an in-band error.
type Fragment struct {
	Seq  int
	Text string
	EOS  bool
	Err  error
}

// Terminal reports whether no fragment follows this one.
func (f Fragment) Terminal() bool { return f.EOS || f.Err != nil }

// PromptContext is the packed grounding context plus the assembled prompt.
type PromptContext struct {
	System    string
	Question  string
	Documents []string
	DocIDs    []string
	Used      int // budget units consumed by Documents
	Truncated bool
}

// Prompt is the request sent to the generation service.
type Prompt struct {
	System string
	User   string
	Model  string // optional per-request model override
}

// TokenStream is an open generation stream.
// Recv returns io.EOF once the backend has finished.
type TokenStream interface {
	Recv() (string, error)
	Close() error
}
