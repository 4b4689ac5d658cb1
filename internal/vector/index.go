// Package vector provides the chunk vector index and similarity search.
package vector

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed index.
var ErrClosed = errors.New("vector index is closed")

// VectorIndex stores chunk vectors grouped by paper and answers nearest-neighbour queries.
type VectorIndex interface {
	// Add inserts entries. All entries of one paper become visible to searches at once.
	// Re-adding an existing chunk ID is an error.
	Add(ctx context.Context, entries []Entry) error
	// Search returns at most k hits by descending cosine similarity, ties broken by
	// ascending chunk ID. A non-empty filter restricts hits to those paper IDs.
	Search(ctx context.Context, query []float32, k int, filter map[string]struct{}) ([]*VectorResult, error)
	// DeletePaper removes every vector of the paper atomically and returns how many were removed.
	DeletePaper(ctx context.Context, paperID string) (int, error)
	Size() int
	PaperSize(paperID string) int
	Dimensions() int
	Type() string
	Close() error
}

// Entry is a chunk vector to be indexed.
type Entry struct {
	ChunkID string
	PaperID string
	Vector  []float32
}

// VectorResult is a single vector search hit.
type VectorResult struct {
	ChunkID string
	PaperID string
	Score   float64 // cosine similarity in [-1, 1]
}

// Filter builds a search filter from paper IDs. An empty input means no filter.
func Filter(paperIDs ...string) map[string]struct{} {
	if len(paperIDs) == 0 {
		return nil
	}
	f := make(map[string]struct{}, len(paperIDs))
	for _, id := range paperIDs {
		f[id] = struct{}{}
	}
	return f
}
