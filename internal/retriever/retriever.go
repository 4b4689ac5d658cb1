// Package retriever turns a question into ranked, budgeted passages with paper metadata attached.
package retriever

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/embedding"
	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/internal/vector"
	"github.com/hyperjump/scholar/pkg/utils"
	"go.uber.org/zap"
)

// Store is the part of the Paper Store the retriever reads from.
type Store interface {
	GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error)
	GetPapers(ctx context.Context, ids []string) (map[string]*models.Paper, error)
}

// Retriever ranks chunks for a query.
type Retriever struct {
	index            vector.VectorIndex
	embedder         embedding.Embedder
	store            Store
	queryPrefix      string
	maxContextTokens int
	logger           *zap.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithQueryPrefix prepends an instruction to every query before embedding (BGE-style models).
func WithQueryPrefix(prefix string) Option {
	return func(r *Retriever) { r.queryPrefix = prefix }
}

// WithMaxContextTokens bounds the estimated token total of returned contexts. Zero disables the bound.
func WithMaxContextTokens(n int) Option {
	return func(r *Retriever) { r.maxContextTokens = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Retriever) { r.logger = utils.LoggerOrNop(l) }
}

// New returns a Retriever over the given index, vectorizer and store.
func New(index vector.VectorIndex, embedder embedding.Embedder, store Store, opts ...Option) *Retriever {
	r := &Retriever{
		index:    index,
		embedder: embedder,
		store:    store,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retrieve returns up to n contexts for query, restricted to paperIDs when non-empty,
// ordered by non-increasing relevance.
func (r *Retriever) Retrieve(ctx context.Context, query string, paperIDs []string, n int) ([]*models.RetrievedContext, error) {
	const op = "retrieve"
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, op, "query cannot be empty")
	}
	if n <= 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, op, "n_results must be positive")
	}
	start := time.Now()

	qvec, err := r.embedder.Embed(ctx, r.queryPrefix+query)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindVectorizerUnavailable || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindVectorizerUnavailable, op, err, "failed to embed query")
	}

	hits, err := r.index.Search(ctx, qvec, n, vector.Filter(paperIDs...))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindIndexUnavailable, op, err, "vector search failed")
	}
	if len(hits) == 0 {
		return []*models.RetrievedContext{}, nil
	}

	contexts, err := r.hydrate(ctx, hits)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIndexUnavailable, op, err, "failed to load retrieved chunks")
	}
	contexts = r.budget(contexts)

	r.logger.Debug("retrieved contexts",
		zap.Int("hits", len(hits)),
		zap.Int("contexts", len(contexts)),
		zap.Duration("elapsed", time.Since(start)))
	return contexts, nil
}

// hydrate attaches chunk text and paper metadata. Hits whose chunk or paper has
// vanished since the search are dropped.
func (r *Retriever) hydrate(ctx context.Context, hits []*vector.VectorResult) ([]*models.RetrievedContext, error) {
	chunkIDs := make([]string, len(hits))
	paperSet := make(map[string]struct{})
	var paperIDs []string
	for i, h := range hits {
		chunkIDs[i] = h.ChunkID
		if _, ok := paperSet[h.PaperID]; !ok {
			paperSet[h.PaperID] = struct{}{}
			paperIDs = append(paperIDs, h.PaperID)
		}
	}
	chunks, err := r.store.GetChunks(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}
	papers, err := r.store.GetPapers(ctx, paperIDs)
	if err != nil {
		return nil, err
	}

	contexts := make([]*models.RetrievedContext, 0, len(hits))
	for _, h := range hits {
		c, ok := chunks[h.ChunkID]
		if !ok {
			continue
		}
		p, ok := papers[h.PaperID]
		if !ok {
			continue
		}
		contexts = append(contexts, &models.RetrievedContext{
			ChunkID:        c.ID,
			Text:           c.Text,
			PaperID:        p.ID,
			Title:          p.Title,
			Section:        c.Section,
			Page:           c.Page,
			RelevanceScore: Relevance(h.Score),
		})
	}
	return contexts, nil
}

// budget drops the lowest-scoring contexts until the estimated token total fits,
// always keeping at least one.
func (r *Retriever) budget(contexts []*models.RetrievedContext) []*models.RetrievedContext {
	sort.SliceStable(contexts, func(i, j int) bool {
		return contexts[i].RelevanceScore > contexts[j].RelevanceScore
	})
	if r.maxContextTokens <= 0 {
		return contexts
	}
	total := 0
	for _, c := range contexts {
		total += utils.EstimateTokens(c.Text)
	}
	for total > r.maxContextTokens && len(contexts) > 1 {
		last := contexts[len(contexts)-1]
		total -= utils.EstimateTokens(last.Text)
		contexts = contexts[:len(contexts)-1]
	}
	return contexts
}

// Relevance maps a cosine similarity in [-1, 1] onto [0, 1].
func Relevance(cos float64) float64 {
	r := (cos + 1) / 2
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
