package qdrant

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/qdrant/go-client/qdrant"

	"github.com/kailas-cloud/ragstream/internal/db"
)

// Compile-time check: Store implements db.SearchStore.
var _ db.SearchStore = (*Store)(nil)

const (
	payloadContent = "content"
	payloadDocID   = "document_id"
	defaultPort    = 6334
)

// client is the subset of *qdrant.Client the store uses.
type client interface {
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Config holds the qdrant gRPC endpoint.
type Config struct {
	Addr   string // host:port, port defaults to 6334
	APIKey string
}

// Store runs dense-vector search against qdrant collections.
// KNNQuery.IndexName is used as the collection name.
type Store struct {
	client client
}

// NewStore dials qdrant over gRPC.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("addr is required")
	}
	host, portStr, err := net.SplitHostPort(cfg.Addr)
	port := defaultPort
	if err != nil {
		host = cfg.Addr
	} else if port, err = strconv.Atoi(portStr); err != nil {
		return nil, fmt.Errorf("invalid port in qdrant addr: %w", err)
	}

	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return &Store{client: c}, nil
}

func newStoreWithClient(c client) *Store {
	return &Store{client: c}
}

// Ping runs the qdrant health check.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close closes the gRPC connection.
func (s *Store) Close() {
	_ = s.client.Close()
}

// SearchKNN runs a nearest-neighbour query. Scores are qdrant similarities as returned.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	req := &qdrant.QueryPoints{
		CollectionName: q.IndexName,
		Query:          qdrant.NewQuery(q.Vector...),
		Limit:          qdrant.PtrOf(uint64(q.K)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if q.EFRuntime > 0 {
		req.Params = &qdrant.SearchParams{HnswEf: qdrant.PtrOf(uint64(q.EFRuntime))}
	}
	points, err := s.client.Query(ctx, req)
	if err != nil {
		return nil, &db.Error{Op: db.OpQuery, Err: err}
	}

	entries := make([]db.SearchEntry, 0, len(points))
	for _, p := range points {
		entries = append(entries, toEntry(p))
	}
	return &db.SearchResult{Total: len(entries), Entries: entries}, nil
}

func toEntry(p *qdrant.ScoredPoint) db.SearchEntry {
	fields := make(map[string]string, len(p.GetPayload()))
	for k, v := range p.GetPayload() {
		switch k {
		case payloadContent:
			fields[db.FieldContent] = v.GetStringValue()
		case payloadDocID:
			fields[db.FieldID] = v.GetStringValue()
		default:
			fields[k] = v.GetStringValue()
		}
	}
	return db.SearchEntry{
		Key:    pointID(p.GetId()),
		Score:  float64(p.GetScore()),
		Fields: fields,
	}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}
