package service

import (
	"context"

	"vec_server/server/vecman/domain"
)

// UpsertPoint is one vector-and-payload pair keyed by the store's point id.
type UpsertPoint struct {
	ID      string
	Vector  []float32
	Payload domain.Payload
}

type FoundPoint struct {
	ID      string
	Vector  []float32
	Payload domain.Payload
}

type ScoredPoint struct {
	ID      string
	Score   float64
	Payload domain.Payload
}

// FieldFilter is an equality condition on a top-level payload field or a
// metadata.<key> sub-field. Multiple filters are conjunctive.
type FieldFilter struct {
	Key   string
	Value any
}

type VectorStore interface {
	EnsureCollection(ctx context.Context) error
	// EnsureIndexes creates filterable payload indexes on content_id, type,
	// and every metadata.<key> in metadataKeys. "Already exists" counts as
	// success; other failures are logged and swallowed.
	EnsureIndexes(ctx context.Context, metadataKeys []string)
	EnsureMetadataIndex(ctx context.Context, key string)
	Upsert(ctx context.Context, points []UpsertPoint) error
	Delete(ctx context.Context, pointID string) error
	// FindByContentID returns at most one match, or nil when none exists.
	FindByContentID(ctx context.Context, contentID string) (*FoundPoint, error)
	Search(ctx context.Context, vector []float32, filters []FieldFilter, limit int) ([]ScoredPoint, error)
}
