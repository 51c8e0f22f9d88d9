package db

import "errors"

// ErrKeyNotFound reports a missing or expired cache key.
var ErrKeyNotFound = errors.New("db: key not found")

// Failing operation names carried by Error.
const (
	OpGet    = "GET"
	OpSet    = "SET"
	OpSearch = "FT.SEARCH"
	OpQuery  = "QUERY"
)

// Error tags a driver failure with the operation that produced it.
// Context errors stay visible through errors.Is.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "db " + e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
