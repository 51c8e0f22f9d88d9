package rewritecache

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kailas-cloud/ragstream/internal/domain"
)

// entryRow is the stored JSON form of a CachedRewrite.
type entryRow struct {
	Text     string `json:"text"`
	StoredAt int64  `json:"stored_at"` // unix millis
}

func encodeEntry(e domain.CachedRewrite) ([]byte, error) {
	data, err := json.Marshal(entryRow{Text: e.Text, StoredAt: e.StoredAt.UnixMilli()})
	if err != nil {
		return nil, fmt.Errorf("marshal entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (domain.CachedRewrite, error) {
	var row entryRow
	if err := json.Unmarshal(data, &row); err != nil {
		return domain.CachedRewrite{}, fmt.Errorf("unmarshal entry: %w", err)
	}
	if row.Text == "" || row.StoredAt <= 0 {
		return domain.CachedRewrite{}, fmt.Errorf("incomplete entry")
	}
	return domain.CachedRewrite{Text: row.Text, StoredAt: time.UnixMilli(row.StoredAt)}, nil
}
