// Package storage defines the persistence interface for papers and their chunks.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/scholar/internal/models"
)

// ErrNotFound is returned when a paper does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a paper with the same ID is already stored.
var ErrDuplicate = errors.New("paper already exists")

// Storage is the Paper Store: paper metadata plus the chunk rows (with vectors) that belong to each paper.
type Storage interface {
	// CreatePaper stores the paper and all of its chunks in one transaction.
	CreatePaper(ctx context.Context, paper *models.Paper, chunks []*models.Chunk) error
	GetPaper(ctx context.Context, id string) (*models.Paper, error)
	GetPaperBySourcePath(ctx context.Context, path string) (*models.Paper, error)
	GetPapers(ctx context.Context, ids []string) (map[string]*models.Paper, error)
	ListPapers(ctx context.Context) ([]*models.Paper, error)
	// DeletePaper removes the paper and its chunks and returns how many chunks went with it.
	DeletePaper(ctx context.Context, id string) (int, error)

	GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
	ListChunks(ctx context.Context, paperID string) ([]*models.Chunk, error)
	// ForEachChunk calls fn for every stored chunk, vectors included, grouped by paper in sequence order.
	ForEachChunk(ctx context.Context, fn func(*models.Chunk) error) error

	CountPapers(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
