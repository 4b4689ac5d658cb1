package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/scholar/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS papers (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		authors TEXT NOT NULL DEFAULT '[]',
		year INTEGER NOT NULL DEFAULT 0,
		abstract TEXT NOT NULL DEFAULT '',
		upload_date TIMESTAMP NOT NULL,
		section_count INTEGER NOT NULL,
		chunk_count INTEGER NOT NULL,
		source_path TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_papers_upload_date ON papers(upload_date);
	CREATE INDEX IF NOT EXISTS idx_papers_source_path ON papers(source_path);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		paper_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		section TEXT NOT NULL,
		page INTEGER NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		FOREIGN KEY (paper_id) REFERENCES papers(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_paper_seq ON chunks(paper_id, seq);
	`
	_, err := db.Exec(schema)
	return err
}

// Path returns the database file path.
func (s *SQLiteStorage) Path() string {
	return s.path
}

// CreatePaper inserts the paper and its chunks atomically. A paper with the same ID yields ErrDuplicate.
func (s *SQLiteStorage) CreatePaper(ctx context.Context, paper *models.Paper, chunks []*models.Chunk) error {
	authorsJSON, err := json.Marshal(nonNil(paper.Authors))
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}
	if paper.UploadDate.IsZero() {
		paper.UploadDate = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO papers (id, title, authors, year, abstract, upload_date, section_count, chunk_count, source_path, content_hash)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		paper.ID, paper.Title, string(authorsJSON), paper.Year, paper.Abstract, paper.UploadDate,
		paper.SectionCount, paper.ChunkCount, paper.SourcePath, paper.ContentHash,
	)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, paper.ID)
		}
		return fmt.Errorf("insert paper: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, paper_id, seq, section, page, content, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.PaperID != paper.ID {
			return fmt.Errorf("chunk %s belongs to paper %s, not %s", c.ID, c.PaperID, paper.ID)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.PaperID, c.Sequence, c.Section, c.Page, c.Text, encodeVector(c.Vector)); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

const paperColumns = `id, title, authors, year, abstract, upload_date, section_count, chunk_count, source_path, content_hash`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPaper(row rowScanner) (*models.Paper, error) {
	var p models.Paper
	var authorsJSON string
	if err := row.Scan(&p.ID, &p.Title, &authorsJSON, &p.Year, &p.Abstract, &p.UploadDate,
		&p.SectionCount, &p.ChunkCount, &p.SourcePath, &p.ContentHash); err != nil {
		return nil, err
	}
	if authorsJSON != "" {
		if err := json.Unmarshal([]byte(authorsJSON), &p.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}
	return &p, nil
}

// GetPaper returns a paper by ID, or ErrNotFound.
func (s *SQLiteStorage) GetPaper(ctx context.Context, id string) (*models.Paper, error) {
	p, err := scanPaper(s.db.QueryRowContext(ctx, `SELECT `+paperColumns+` FROM papers WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("paper %s: %w", id, ErrNotFound)
	}
	return p, err
}

// GetPaperBySourcePath returns the most recent paper ingested from path, or ErrNotFound.
func (s *SQLiteStorage) GetPaperBySourcePath(ctx context.Context, path string) (*models.Paper, error) {
	p, err := scanPaper(s.db.QueryRowContext(ctx,
		`SELECT `+paperColumns+` FROM papers WHERE source_path = ? ORDER BY upload_date DESC LIMIT 1`, path))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("paper from %s: %w", path, ErrNotFound)
	}
	return p, err
}

// GetPapers returns the papers among ids that exist, keyed by ID.
func (s *SQLiteStorage) GetPapers(ctx context.Context, ids []string) (map[string]*models.Paper, error) {
	out := make(map[string]*models.Paper, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+paperColumns+` FROM papers WHERE id IN (`+placeholders(len(ids))+`)`, toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// ListPapers returns all papers, newest first.
func (s *SQLiteStorage) ListPapers(ctx context.Context) ([]*models.Paper, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+paperColumns+` FROM papers ORDER BY upload_date DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papers []*models.Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, rows.Err()
}

// DeletePaper removes a paper and its chunks. Returns ErrNotFound when the paper is absent.
func (s *SQLiteStorage) DeletePaper(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE paper_id = ?`, id)
	if err != nil {
		return 0, err
	}
	chunks, _ := res.RowsAffected()
	res, err = tx.ExecContext(ctx, `DELETE FROM papers WHERE id = ?`, id)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("paper %s: %w", id, ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(chunks), nil
}

const chunkColumns = `id, paper_id, seq, section, page, content`

func scanChunk(row rowScanner, withVector bool) (*models.Chunk, error) {
	var c models.Chunk
	if !withVector {
		err := row.Scan(&c.ID, &c.PaperID, &c.Sequence, &c.Section, &c.Page, &c.Text)
		return &c, err
	}
	var blob []byte
	if err := row.Scan(&c.ID, &c.PaperID, &c.Sequence, &c.Section, &c.Page, &c.Text, &blob); err != nil {
		return nil, err
	}
	c.Vector = decodeVector(blob)
	return &c, nil
}

// GetChunks returns the chunks among ids that exist, keyed by ID. Vectors are not loaded.
func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) (map[string]*models.Chunk, error) {
	out := make(map[string]*models.Chunk, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+placeholders(len(ids))+`)`, toArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows, false)
		if err != nil {
			return nil, err
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// ListChunks returns a paper's chunks in sequence order. Vectors are not loaded.
func (s *SQLiteStorage) ListChunks(ctx context.Context, paperID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE paper_id = ? ORDER BY seq`, paperID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows, false)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// ForEachChunk streams every chunk with its vector, grouped by paper in sequence order.
func (s *SQLiteStorage) ForEachChunk(ctx context.Context, fn func(*models.Chunk) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chunkColumns+`, embedding FROM chunks ORDER BY paper_id, seq`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanChunk(rows, true)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountPapers returns the total number of papers.
func (s *SQLiteStorage) CountPapers(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers`).Scan(&count)
	return count, err
}

// CountChunks returns the total number of chunks.
func (s *SQLiteStorage) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func encodeVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
