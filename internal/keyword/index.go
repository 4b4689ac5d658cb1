// Package keyword provides the paper catalogue: full-text search over paper titles,
// authors and abstracts.
package keyword

import (
	"context"

	"github.com/hyperjump/scholar/internal/models"
)

// SearchOptions optional parameters for catalogue search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from title matches. Use 1.0 for no boost.
	TitleBoost float64
	// FuzzyEnabled tolerates typos within Fuzziness edits (1 or 2, default 1).
	FuzzyEnabled bool
	Fuzziness    int
}

// CatalogueIndex indexes paper metadata for keyword search.
type CatalogueIndex interface {
	Index(ctx context.Context, paper *models.Paper) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	// DocCount returns the total number of papers in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single catalogue search hit.
type KeywordResult struct {
	ID    string
	Score float64
}
