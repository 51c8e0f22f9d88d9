package candidate

// Candidate is a retrieved document in retrieval order.
type Candidate struct {
	id       string
	text     string
	score    float64
	rank     int
	metadata map[string]string
}

// New creates a candidate with an unassigned origin rank.
func New(id, text string, score float64, metadata map[string]string) Candidate {
	return Candidate{id: id, text: text, score: score, rank: -1, metadata: metadata}
}

// WithRank returns a copy carrying its position in the retrieval order.
func (c Candidate) WithRank(rank int) Candidate {
	c.rank = rank
	return c
}

// ID returns the document identifier.
func (c Candidate) ID() string { return c.id }

// Text returns the document text.
func (c Candidate) Text() string { return c.text }

// Score returns the retrieval score.
func (c Candidate) Score() float64 { return c.score }

// Rank returns the 0-based retrieval position, or -1 before retrieval ordering.
func (c Candidate) Rank() int { return c.rank }

// Metadata returns the document metadata.
func (c Candidate) Metadata() map[string]string { return c.metadata }

// Ranked is a candidate after reranking.
type Ranked struct {
	Candidate
	rerankScore float64
}

// NewRanked wraps a candidate with its rerank score.
func NewRanked(c Candidate, rerankScore float64) Ranked {
	return Ranked{Candidate: c, rerankScore: rerankScore}
}

// RerankScore returns the score assigned by the rerank stage.
func (r Ranked) RerankScore() float64 { return r.rerankScore }

// OriginRank returns the position this candidate had after retrieval.
func (r Ranked) OriginRank() int { return r.rank }

// Score is a relevance score for the document at Index of a rerank request.
type Score struct {
	Index int
	Value float64
}
