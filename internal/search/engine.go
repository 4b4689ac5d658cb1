// Package search provides the question answering engine: retrieval, answer
// composition, comparison and the read side of the paper registry.
package search

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/comparator"
	"github.com/hyperjump/scholar/internal/composer"
	"github.com/hyperjump/scholar/internal/keyword"
	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/internal/retriever"
	"github.com/hyperjump/scholar/internal/storage"
	"github.com/hyperjump/scholar/internal/vector"
	"github.com/hyperjump/scholar/pkg/utils"
	"go.uber.org/zap"
)

const (
	defaultMaxResults   = 50
	defaultProbeTimeout = 3 * time.Second
	defaultSearchLimit  = 20
)

// Pinger is a collaborator whose reachability is reported by Status.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Engine answers questions over the indexed papers.
type Engine struct {
	store      storage.Storage
	index      vector.VectorIndex
	retriever  *retriever.Retriever
	composer   *composer.Composer
	comparator *comparator.Comparator
	catalogue  keyword.CatalogueIndex
	files      *storage.FileStore

	maxResults   int
	nResults     int
	probes       map[string]Pinger
	probeTimeout time.Duration
	embedding    models.ServiceInfo
	llm          models.ServiceInfo
	chunking     models.ChunkingInfo
	diskPaths    []string
	logger       *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCatalogue enables catalogue search over paper metadata.
func WithCatalogue(c keyword.CatalogueIndex) EngineOption {
	return func(e *Engine) { e.catalogue = c }
}

// WithFileStore lets PaperFile serve kept uploads.
func WithFileStore(fs *storage.FileStore) EngineOption {
	return func(e *Engine) { e.files = fs }
}

// WithMaxResults caps n_results of a query.
func WithMaxResults(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxResults = n
		}
	}
}

// WithDefaultResults sets n_results for queries that leave it unset.
func WithDefaultResults(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.nResults = n
		}
	}
}

// WithProbe registers a collaborator health check under name.
func WithProbe(name string, p Pinger) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.probes[name] = p
		}
	}
}

// WithProbeTimeout bounds each health check.
func WithProbeTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.probeTimeout = d
		}
	}
}

// WithServiceInfo sets the embedding and LLM descriptions reported by Status.
func WithServiceInfo(embedding, llm models.ServiceInfo) EngineOption {
	return func(e *Engine) {
		e.embedding = embedding
		e.llm = llm
	}
}

// WithChunking sets the chunker settings reported by Status.
func WithChunking(c models.ChunkingInfo) EngineOption {
	return func(e *Engine) { e.chunking = c }
}

// WithDiskPaths sets the files and directories whose size Status reports.
func WithDiskPaths(paths ...string) EngineOption {
	return func(e *Engine) { e.diskPaths = paths }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine over the given store and index.
func NewEngine(
	store storage.Storage,
	index vector.VectorIndex,
	r *retriever.Retriever,
	c *composer.Composer,
	cmp *comparator.Comparator,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		store:        store,
		index:        index,
		retriever:    r,
		composer:     c,
		comparator:   cmp,
		maxResults:   defaultMaxResults,
		nResults:     models.DefaultNResults,
		probes:       make(map[string]Pinger),
		probeTimeout: defaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = utils.LoggerOrNop(e.logger)
	return e
}

// Query retrieves the contexts most relevant to the question and composes a cited
// answer from them. When req.Partial is set and composition fails, the result
// carries the retrieved contexts alongside the error.
func (e *Engine) Query(ctx context.Context, req *models.QueryRequest) (*models.QueryResult, error) {
	start := time.Now()
	if req == nil {
		return nil, apperr.New(apperr.KindInvalidRequest, "query", "request body is required")
	}
	if req.NResults == 0 {
		req.NResults = e.nResults
	}
	if err := req.Validate(e.maxResults); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidRequest, "query", err, err.Error())
	}

	contexts, err := e.retriever.Retrieve(ctx, req.Query, req.PaperIDs, req.NResults)
	if err != nil {
		return nil, err
	}

	answer, err := e.composer.Compose(ctx, req.Query, contexts)
	if err != nil {
		e.logger.Warn("answer composition failed",
			zap.Int("contexts", len(contexts)),
			zap.Bool("partial", req.Partial),
			zap.Error(err),
		)
		if req.Partial {
			return &models.QueryResult{
				Citations: []models.Citation{},
				Contexts:  contexts,
				QueryTime: time.Since(start).Milliseconds(),
			}, err
		}
		return nil, err
	}

	result := &models.QueryResult{
		AnswerText:   answer.Text,
		Citations:    answer.Citations,
		ContextsUsed: answer.ContextsUsed,
		QueryTime:    time.Since(start).Milliseconds(),
	}
	if req.Partial {
		result.Contexts = contexts
	}
	e.logger.Debug("query answered",
		zap.Int("contexts", len(contexts)),
		zap.Int("citations", len(result.Citations)),
		zap.Int64("elapsed_ms", result.QueryTime),
	)
	return result, nil
}

// Compare produces a structured comparison of the requested papers.
func (e *Engine) Compare(ctx context.Context, req *models.CompareRequest) (*models.ComparisonResult, error) {
	if req == nil {
		return nil, apperr.New(apperr.KindInvalidRequest, "compare", "request body is required")
	}
	return e.comparator.Compare(ctx, req.PaperIDs, req.Aspects)
}

// ListPapers returns every registered paper, newest first.
func (e *Engine) ListPapers(ctx context.Context) ([]*models.Paper, error) {
	papers, err := e.store.ListPapers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	if papers == nil {
		papers = []*models.Paper{}
	}
	return papers, nil
}

// SearchPapers runs a catalogue search over titles, authors and abstracts and
// returns the matching papers by descending score.
func (e *Engine) SearchPapers(ctx context.Context, q string, limit int) ([]*models.Paper, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return e.ListPapers(ctx)
	}
	if e.catalogue == nil {
		return nil, apperr.New(apperr.KindInvalidRequest, "search papers", "catalogue search is not enabled")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	hits, err := e.catalogue.Search(ctx, q, limit, &keyword.SearchOptions{FuzzyEnabled: true})
	if err != nil {
		return nil, fmt.Errorf("catalogue search: %w", err)
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	found, err := e.store.GetPapers(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load papers: %w", err)
	}
	papers := make([]*models.Paper, 0, len(hits))
	for _, id := range ids {
		if p, ok := found[id]; ok {
			papers = append(papers, p)
		}
	}
	return papers, nil
}

// GetPaper returns one paper.
func (e *Engine) GetPaper(ctx context.Context, id string) (*models.Paper, error) {
	p, err := e.store.GetPaper(ctx, strings.TrimSpace(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Wrap(apperr.KindPaperNotFound, "get paper", err, "paper not found: "+id)
	}
	if err != nil {
		return nil, fmt.Errorf("get paper: %w", err)
	}
	return p, nil
}

// PaperFile returns the path of the original file of a paper: the kept upload, or the
// watched source file when it still exists.
func (e *Engine) PaperFile(ctx context.Context, id string) (string, error) {
	p, err := e.GetPaper(ctx, id)
	if err != nil {
		return "", err
	}
	if e.files != nil {
		path, err := e.files.Path(p.ID)
		if err == nil {
			return path, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("paper file: %w", err)
		}
	}
	if p.SourcePath != "" {
		if info, err := os.Stat(p.SourcePath); err == nil && info.Mode().IsRegular() {
			return p.SourcePath, nil
		}
	}
	return "", apperr.New(apperr.KindPaperNotFound, "paper file", "no original file kept for paper: "+p.ID)
}

// Stats counts papers, chunks and indexed vectors.
func (e *Engine) Stats(ctx context.Context) (models.Stats, error) {
	papers, err := e.store.CountPapers(ctx)
	if err != nil {
		return models.Stats{}, fmt.Errorf("count papers: %w", err)
	}
	chunks, err := e.store.CountChunks(ctx)
	if err != nil {
		return models.Stats{}, fmt.Errorf("count chunks: %w", err)
	}
	return models.Stats{Papers: int(papers), Chunks: int(chunks), Vectors: e.index.Size()}, nil
}

// Status reports statistics, configuration and collaborator reachability. An
// unreachable collaborator is reported, never returned as an error.
func (e *Engine) Status(ctx context.Context) (*models.Status, error) {
	stats, err := e.Stats(ctx)
	if err != nil {
		return nil, err
	}
	status := &models.Status{
		Stats:           stats,
		VectorIndexType: e.index.Type(),
		Embedding:       e.embedding,
		LLM:             e.llm,
		Chunking:        e.chunking,
		Collaborators:   e.probe(ctx),
	}
	if len(e.diskPaths) > 0 {
		if n, err := storage.DiskUsageBytes(e.diskPaths...); err == nil {
			status.DiskUsageBytes = &n
		} else {
			e.logger.Debug("disk usage unavailable", zap.Error(err))
		}
	}
	return status, nil
}

func (e *Engine) probe(ctx context.Context) map[string]models.Reachability {
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]models.Reachability, len(e.probes))
	)
	for name, p := range e.probes {
		name, p := name, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, e.probeTimeout)
			defer cancel()
			start := time.Now()
			err := p.Ping(pctx)
			r := models.Reachability{Reachable: err == nil, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				r.Error = err.Error()
			}
			mu.Lock()
			out[name] = r
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}
