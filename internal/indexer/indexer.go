// Package indexer provides paper chunking and the ingestion pipeline.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/embedding"
	"github.com/hyperjump/scholar/internal/extract"
	"github.com/hyperjump/scholar/internal/fileid"
	"github.com/hyperjump/scholar/internal/keyword"
	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/internal/storage"
	"github.com/hyperjump/scholar/internal/vector"
	"github.com/hyperjump/scholar/pkg/utils"
	"go.uber.org/zap"
)

// ErrPaperNotFound is returned when deleting a paper that is not registered.
var ErrPaperNotFound = apperr.New(apperr.KindPaperNotFound, "delete", "paper not found")

// Indexer ingests papers into the store, the vector index and the catalogue, and
// removes them again. Ingestion and deletion of one paper id are serialised.
type Indexer struct {
	store     storage.Storage
	embedder  embedding.Embedder
	index     vector.VectorIndex
	catalogue keyword.CatalogueIndex
	extractor extract.StructureExtractor
	files     *storage.FileStore
	chunker   *Chunker
	locks     *utils.KeyedMutex
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithCatalogue sets the catalogue index that papers are registered in after ingestion.
func WithCatalogue(c keyword.CatalogueIndex) IndexerOption {
	return func(idx *Indexer) { idx.catalogue = c }
}

// WithExtractor sets the structure extractor used when a request carries raw bytes only.
func WithExtractor(e extract.StructureExtractor) IndexerOption {
	return func(idx *Indexer) { idx.extractor = e }
}

// WithFileStore keeps the bytes of uploads that have no source path on disk, so that
// they can be served back.
func WithFileStore(fs *storage.FileStore) IndexerOption {
	return func(idx *Indexer) { idx.files = fs }
}

// NewIndexer creates an indexer with the given dependencies.
// Without WithExtractor, requests must carry pre-structured sections.
func NewIndexer(
	store storage.Storage,
	embedder embedding.Embedder,
	index vector.VectorIndex,
	chunker *Chunker,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		store:    store,
		embedder: embedder,
		index:    index,
		chunker:  chunker,
		locks:    utils.NewKeyedMutex(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.LoggerOrNop(idx.logger)
	return idx
}

// Ingest registers a paper: it extracts structure when needed, chunks and embeds the
// sections, then stores the paper with its chunks and indexes the vectors. Either all
// of it becomes visible or none of it does. Re-ingesting content that is already
// registered returns the stored paper with Duplicate set.
func (idx *Indexer) Ingest(ctx context.Context, req *models.IngestRequest) (*models.IngestResult, error) {
	if req == nil || (len(req.Content) == 0 && len(req.Sections) == 0) {
		return nil, apperr.New(apperr.KindEmptyDocument, "ingest", "document has no content")
	}
	start := time.Now()
	id := paperID(req)

	unlock := idx.locks.Lock(id)
	defer unlock()

	existing, err := idx.store.GetPaper(ctx, id)
	if err == nil {
		idx.logger.Debug("paper already registered", zap.String("paper_id", id))
		return &models.IngestResult{
			PaperID:           existing.ID,
			Title:             existing.Title,
			ChunksProcessed:   existing.ChunkCount,
			SectionsProcessed: existing.SectionCount,
			Duplicate:         true,
		}, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("lookup paper: %w", err)
	}

	doc, err := idx.structure(ctx, req)
	if err != nil {
		return nil, err
	}

	chunks, err := idx.chunker.Chunk(id, doc.Sections)
	if err != nil {
		return nil, err
	}
	if err := idx.embed(ctx, chunks); err != nil {
		return nil, err
	}

	paper := &models.Paper{
		ID:           id,
		Title:        doc.Title,
		Authors:      doc.Authors,
		Year:         doc.Year,
		Abstract:     doc.Abstract,
		UploadDate:   time.Now().UTC(),
		SectionCount: len(doc.Sections),
		ChunkCount:   len(chunks),
		SourcePath:   req.SourcePath,
		ContentHash:  id,
	}
	if paper.Title == "" {
		paper.Title = titleFromFilename(req.Filename, id)
	}
	if err := idx.store.CreatePaper(ctx, paper, chunks); err != nil {
		return nil, fmt.Errorf("store paper: %w", err)
	}

	entries := make([]vector.Entry, len(chunks))
	for i, ch := range chunks {
		entries[i] = vector.Entry{ChunkID: ch.ID, PaperID: id, Vector: ch.Vector}
	}
	if err := idx.index.Add(ctx, entries); err != nil {
		if _, delErr := idx.store.DeletePaper(context.WithoutCancel(ctx), id); delErr != nil {
			idx.logger.Error("rollback after index failure", zap.String("paper_id", id), zap.Error(delErr))
		}
		return nil, apperr.Wrap(apperr.KindIndexUnavailable, "ingest", err, "vector index rejected the paper")
	}

	if idx.files != nil && len(req.Content) > 0 && req.SourcePath == "" {
		if _, err := idx.files.Put(id, req.Filename, req.Content); err != nil {
			idx.logger.Warn("keeping uploaded file failed", zap.String("paper_id", id), zap.Error(err))
		}
	}

	if idx.catalogue != nil {
		if err := idx.catalogue.Index(ctx, paper); err != nil {
			idx.logger.Warn("catalogue index failed", zap.String("paper_id", id), zap.Error(err))
		}
	}

	idx.logger.Info("paper ingested",
		zap.String("paper_id", id),
		zap.String("title", paper.Title),
		zap.Int("sections", paper.SectionCount),
		zap.Int("chunks", len(chunks)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return &models.IngestResult{
		PaperID:           id,
		Title:             paper.Title,
		ChunksProcessed:   len(chunks),
		SectionsProcessed: paper.SectionCount,
	}, nil
}

// paperID hashes the raw bytes when there are any, otherwise the title and sections,
// so that resubmitting the same request finds the paper already registered.
func paperID(req *models.IngestRequest) string {
	if len(req.Content) > 0 {
		return fileid.PaperID(req.Content)
	}
	sections := make([]fileid.StructuredSection, len(req.Sections))
	for i, s := range req.Sections {
		page := s.Page
		if page < 1 {
			page = 1
		}
		sections[i] = fileid.StructuredSection{Name: strings.TrimSpace(s.Name), Page: page, Text: s.Text}
	}
	return fileid.StructuredID(strings.TrimSpace(req.Title), sections)
}

// structure returns the document to chunk. Caller-supplied metadata wins over
// extracted metadata.
func (idx *Indexer) structure(ctx context.Context, req *models.IngestRequest) (*models.Document, error) {
	var doc *models.Document
	if len(req.Sections) > 0 {
		doc = &models.Document{Sections: make([]models.Section, len(req.Sections))}
		copy(doc.Sections, req.Sections)
		for i := range doc.Sections {
			doc.Sections[i].OrderIndex = i
			if doc.Sections[i].Page < 1 {
				doc.Sections[i].Page = 1
			}
		}
		doc.Abstract = abstractOf(doc.Sections)
	} else {
		if idx.extractor == nil {
			return nil, apperr.New(apperr.KindStructureExtractionFailed, "ingest", "no structure extractor configured")
		}
		extracted, err := idx.extractor.Extract(ctx, req.Content)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal && !errors.Is(err, context.Canceled) {
				return nil, apperr.Wrap(apperr.KindStructureExtractionFailed, "ingest", err, "structure extraction failed")
			}
			return nil, err
		}
		doc = extracted
	}
	if t := strings.TrimSpace(req.Title); t != "" {
		doc.Title = t
	}
	if len(req.Authors) > 0 {
		doc.Authors = req.Authors
	}
	if req.Year > 0 {
		doc.Year = req.Year
	}
	return doc, nil
}

func (idx *Indexer) embed(ctx context.Context, chunks []*models.Chunk) error {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		if errors.Is(err, context.Canceled) || apperr.KindOf(err) == apperr.KindVectorizerUnavailable {
			return err
		}
		return apperr.Wrap(apperr.KindVectorizerUnavailable, "ingest", err, "vectorizer failed")
	}
	if len(vectors) != len(chunks) {
		return apperr.New(apperr.KindVectorizerUnavailable, "ingest",
			fmt.Sprintf("vectorizer returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}
	dims := idx.index.Dimensions()
	for i, v := range vectors {
		if len(v) != dims {
			return apperr.New(apperr.KindVectorizerUnavailable, "ingest",
				fmt.Sprintf("vector has %d dimensions, index expects %d", len(v), dims))
		}
		chunks[i].Vector = v
	}
	return nil
}

func abstractOf(sections []models.Section) string {
	for _, s := range sections {
		if strings.EqualFold(strings.TrimSpace(s.Name), "abstract") {
			return strings.TrimSpace(s.Text)
		}
	}
	return ""
}

func titleFromFilename(name, id string) string {
	base := strings.TrimSpace(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	if base == "" || base == "." {
		return "Untitled " + id[:min(12, len(id))]
	}
	return strings.NewReplacer("_", " ", "-", " ").Replace(base)
}

// IngestFile reads a file and ingests it, recording its absolute path as the source path.
func (idx *Indexer) IngestFile(ctx context.Context, path string) (*models.IngestResult, error) {
	absPath := fileid.SourcePath(path)
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, apperr.New(apperr.KindInvalidRequest, "ingest", "not a regular file: "+absPath)
	}
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	idx.logger.Debug("ingesting file", zap.String("path", absPath))
	return idx.Ingest(ctx, &models.IngestRequest{
		Content:    content,
		Filename:   filepath.Base(absPath),
		SourcePath: absPath,
	})
}

// IngestDirectory walks dir and ingests each regular file whose extension is in
// allowedExts (all files when empty). Subdirectories are only descended into when
// recursive is set. Files that fail are logged and skipped. Returns the number of
// papers newly registered.
func (idx *Indexer) IngestDirectory(ctx context.Context, dir string, allowedExts []string, recursive bool) (n int, err error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return 0, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", absDir)
	}
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != absDir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if len(allowedExts) > 0 && !extensionAllowed(filepath.Ext(path), allowedExts) {
			return nil
		}
		res, ingestErr := idx.IngestFile(ctx, path)
		if ingestErr != nil {
			if errors.Is(ingestErr, context.Canceled) {
				return ingestErr
			}
			idx.logger.Warn("ingest file failed", zap.String("path", path), zap.Error(ingestErr))
			return nil
		}
		if !res.Duplicate {
			n++
		}
		return nil
	})
	return n, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// Delete removes a paper with all its chunks and vectors and returns how many
// chunks were removed.
func (idx *Indexer) Delete(ctx context.Context, id string) (int, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return 0, apperr.New(apperr.KindInvalidRequest, "delete", "paper id is required")
	}
	unlock := idx.locks.Lock(id)
	defer unlock()

	removed, err := idx.store.DeletePaper(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%w: %s", ErrPaperNotFound, id)
	}
	if err != nil {
		return 0, fmt.Errorf("delete paper: %w", err)
	}
	vectors, err := idx.index.DeletePaper(ctx, id)
	if err != nil {
		return removed, apperr.Wrap(apperr.KindIndexUnavailable, "delete", err, "vector index delete failed")
	}
	if vectors != removed {
		idx.logger.Warn("vector count differs from stored chunks",
			zap.String("paper_id", id), zap.Int("chunks", removed), zap.Int("vectors", vectors))
	}
	if idx.catalogue != nil {
		if err := idx.catalogue.Delete(ctx, id); err != nil {
			idx.logger.Warn("catalogue delete failed", zap.String("paper_id", id), zap.Error(err))
		}
	}
	if idx.files != nil {
		if err := idx.files.Remove(id); err != nil {
			idx.logger.Warn("removing uploaded file failed", zap.String("paper_id", id), zap.Error(err))
		}
	}
	idx.logger.Info("paper deleted", zap.String("paper_id", id), zap.Int("chunks", removed))
	return removed, nil
}

// DeleteBySourcePath removes the paper that was ingested from path.
func (idx *Indexer) DeleteBySourcePath(ctx context.Context, path string) (int, error) {
	absPath := fileid.SourcePath(path)
	paper, err := idx.store.GetPaperBySourcePath(ctx, absPath)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, fmt.Errorf("%w: no paper for %s", ErrPaperNotFound, absPath)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup source path: %w", err)
	}
	return idx.Delete(ctx, paper.ID)
}

// Restore loads every stored vector into the vector index and registers every stored
// paper in the catalogue. It is run once at startup, before requests are served.
func (idx *Indexer) Restore(ctx context.Context) (int, error) {
	start := time.Now()
	var (
		batch   []vector.Entry
		current string
		total   int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if idx.index.PaperSize(current) == 0 {
			if err := idx.index.Add(ctx, batch); err != nil {
				return apperr.Wrap(apperr.KindIndexUnavailable, "restore", err, "vector index rejected stored vectors")
			}
			total += len(batch)
		}
		batch = nil
		return nil
	}
	err := idx.store.ForEachChunk(ctx, func(ch *models.Chunk) error {
		if ch.PaperID != current {
			if err := flush(); err != nil {
				return err
			}
			current = ch.PaperID
		}
		batch = append(batch, vector.Entry{ChunkID: ch.ID, PaperID: ch.PaperID, Vector: ch.Vector})
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return total, fmt.Errorf("restore vectors: %w", err)
	}

	if idx.catalogue != nil {
		papers, err := idx.store.ListPapers(ctx)
		if err != nil {
			return total, fmt.Errorf("restore catalogue: %w", err)
		}
		for _, p := range papers {
			if err := idx.catalogue.Index(ctx, p); err != nil {
				idx.logger.Warn("catalogue restore failed", zap.String("paper_id", p.ID), zap.Error(err))
			}
		}
	}
	idx.logger.Info("index restored", zap.Int("vectors", total), zap.Duration("elapsed", time.Since(start)))
	return total, nil
}
