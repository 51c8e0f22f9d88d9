package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Query is an accepted search request. It is immutable once built by NewQuery.
type Query struct {
	text     string
	userID   string
	traceID  string
	deadline time.Time
}

// NewQuery validates raw input and builds a Query.
// maxChars <= 0 disables the length check.
func NewQuery(text, userID, traceID string, deadline time.Time, maxChars int) (Query, error) {
	if !utf8.ValidString(text) {
		return Query{}, fmt.Errorf("%w: query is not valid UTF-8", ErrValidation)
	}
	if strings.TrimSpace(text) == "" {
		return Query{}, fmt.Errorf("%w: query is required", ErrValidation)
	}
	if maxChars > 0 && utf8.RuneCountInString(text) > maxChars {
		return Query{}, fmt.Errorf("%w: query exceeds %d characters", ErrValidation, maxChars)
	}
	return Query{text: text, userID: userID, traceID: traceID, deadline: deadline}, nil
}

// Text returns the raw query text.
func (q Query) Text() string { return q.text }

// UserID returns the optional caller identifier.
func (q Query) UserID() string { return q.userID }

// TraceID returns the trace identifier.
func (q Query) TraceID() string { return q.traceID }

// Deadline returns the request deadline; zero means none was requested.
func (q Query) Deadline() time.Time { return q.deadline }

// Decision is the safety gate outcome.
type Decision string

const (
	// Allow lets the query through unchanged.
	Allow Decision = "allow"
	// Block rejects the query.
	Block Decision = "block"
	// Modify lets a sanitized version of the query through.
	Modify Decision = "modify"
)

// Verdict is the safety gate result for one query.
type Verdict struct {
	Decision  Decision
	Sanitized string
	Reason    string
}

// Text returns the text later stages should use for the original query.
func (v Verdict) Text(original string) string {
	if v.Decision == Modify && v.Sanitized != "" {
		return v.Sanitized
	}
	return original
}
