package domain

import "time"

// CachedRewrite is a stored query rewrite and the time it was produced.
type CachedRewrite struct {
	Text     string
	StoredAt time.Time
}
