package redis

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragstream/internal/db"
)

const vectorScoreField = "__vector_score"

// ftSearch is one FT.SEARCH invocation.
type ftSearch struct {
	index      string
	query      string
	fields     []string
	params     []string // name, value pairs
	withScores bool
	limit      int
}

func (q ftSearch) args(ctx context.Context) []string {
	args := []string{q.index, q.query}
	if q.withScores {
		args = append(args, "WITHSCORES")
	}
	if len(q.fields) > 0 {
		args = append(args, "RETURN", strconv.Itoa(len(q.fields)))
		args = append(args, q.fields...)
	}
	// Let the server abandon the query once the caller's budget is spent.
	if dl, ok := ctx.Deadline(); ok {
		ms := max(time.Until(dl).Milliseconds(), 1)
		args = append(args, "TIMEOUT", strconv.FormatInt(ms, 10))
	}
	if len(q.params) > 0 {
		args = append(args, "PARAMS", strconv.Itoa(len(q.params)))
		args = append(args, q.params...)
	}
	return append(args, "LIMIT", "0", strconv.Itoa(q.limit), "DIALECT", "2")
}

func (s *Store) run(ctx context.Context, q ftSearch) (*db.SearchResult, error) {
	cmd := s.b().Arbitrary("FT.SEARCH").Args(q.args(ctx)...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}
	return parseReply(raw, q.withScores)
}

// SearchKNN runs a KNN query over the "vector" field.
// Scores are cosine similarities clamped to [0,1].
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	switch {
	case q.IndexName == "":
		return nil, errors.New("index name is required")
	case len(q.Vector) == 0:
		return nil, errors.New("vector is required")
	case q.K <= 0:
		return nil, errors.New("k must be positive")
	}

	knn := fmt.Sprintf("*=>[KNN %d @vector $BLOB", q.K)
	params := []string{"BLOB", vectorToBytes(q.Vector)}
	if q.EFRuntime > 0 {
		knn += " EF_RUNTIME $EF"
		params = append(params, "EF", strconv.Itoa(q.EFRuntime))
	}
	knn += "]"

	res, err := s.run(ctx, ftSearch{
		index:  q.IndexName,
		query:  knn,
		fields: q.ReturnFields,
		params: params,
		limit:  q.K,
	})
	if err != nil {
		return nil, err
	}
	for i := range res.Entries {
		e := &res.Entries[i]
		if d, err := strconv.ParseFloat(e.Fields[vectorScoreField], 64); err == nil {
			e.Score = max(0, 1-d) // cosine distance to similarity
		}
		delete(e.Fields, vectorScoreField)
	}
	return res, nil
}

// SearchBM25 matches any query term against the content field, ranked by BM25.
func (s *Store) SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error) {
	switch {
	case q.IndexName == "":
		return nil, errors.New("index name is required")
	case strings.TrimSpace(q.Query) == "":
		return nil, errors.New("query is required")
	case q.TopK <= 0:
		return nil, errors.New("topK must be positive")
	}

	terms := queryTerms(q.Query)
	if len(terms) == 0 {
		return &db.SearchResult{}, nil
	}
	return s.run(ctx, ftSearch{
		index:      q.IndexName,
		query:      fmt.Sprintf("@%s:(%s)", db.FieldContent, strings.Join(terms, "|")),
		fields:     q.ReturnFields,
		withScores: true,
		limit:      q.TopK,
	})
}

// queryTerms splits natural-language text into lowercase word terms, which
// need no escaping. Terms are OR-ed so a question matches documents sharing
// any keyword.
func queryTerms(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(w)
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}
	return terms
}

// --- Reply parsing ---

// parseReply reads a RESP2 FT.SEARCH reply:
// [total, key, fields, ...] or, WITHSCORES, [total, key, score, fields, ...].
// Malformed entries are skipped.
func parseReply(raw []rueidis.RedisMessage, withScores bool) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}

	stride := 2
	if withScores {
		stride = 3
	}
	res := &db.SearchResult{Total: int(total), Entries: make([]db.SearchEntry, 0, (len(raw)-1)/stride)}
	for i := 1; i+stride-1 < len(raw); i += stride {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		entry := db.SearchEntry{Key: key}
		if withScores {
			str, err := raw[i+1].ToString()
			if err != nil {
				continue
			}
			if entry.Score, err = strconv.ParseFloat(str, 64); err != nil {
				continue
			}
		}
		fields, err := raw[i+stride-1].ToArray()
		if err != nil {
			continue
		}
		entry.Fields = fieldMap(fields)
		res.Entries = append(res.Entries, entry)
	}
	return res, nil
}

func fieldMap(pairs []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for j := 0; j+1 < len(pairs); j += 2 {
		name, err := pairs[j].ToString()
		if err != nil {
			continue
		}
		if value, err := pairs[j+1].ToString(); err == nil {
			m[name] = value
		}
	}
	return m
}

// --- Encoding ---

// vectorToBytes encodes a FLOAT32 vector blob.
func vectorToBytes(v []float32) string {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return string(buf)
}
