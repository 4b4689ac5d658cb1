// Package indexer provides paper chunking and the ingestion pipeline.
package indexer

import (
	"strings"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/models"
)

// DefaultSection names sections that arrive without a heading.
const DefaultSection = "Unknown Section"

// Chunker splits section text into overlapping character windows.
//
// For a section of L runes (after whitespace normalisation), chunk size S and
// overlap O, the window count is 1 when L <= S and ceil((L-S)/(S-O)) + 1
// otherwise. Window i starts at i*(S-O). Interior window ends move back to the
// nearest sentence end within min(tolerance, O/2) runes, so a window never
// exceeds S runes and consecutive windows always share text.
type Chunker struct {
	chunkSize    int
	chunkOverlap int
	tolerance    int
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithSentenceTolerance sets how far back a window end may move to land on a sentence boundary.
func WithSentenceTolerance(n int) ChunkerOption {
	return func(c *Chunker) {
		if n >= 0 {
			c.tolerance = n
		}
	}
}

// NewChunker creates a chunker with the given size and overlap (in characters).
func NewChunker(chunkSize, chunkOverlap int, opts ...ChunkerOption) *Chunker {
	if chunkSize <= 0 {
		chunkSize = 1
	}
	if chunkOverlap < 0 {
		chunkOverlap = 0
	}
	if chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize - 1
	}
	c := &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		tolerance:    100,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WindowCount returns how many windows a text of length runes is split into.
func (c *Chunker) WindowCount(length int) int {
	if length <= 0 {
		return 0
	}
	if length <= c.chunkSize {
		return 1
	}
	step := c.chunkSize - c.chunkOverlap
	return (length-c.chunkSize+step-1)/step + 1
}

// Chunk splits the ordered sections of a paper into chunks numbered from zero.
// Sections with blank text contribute nothing; if no section yields a chunk the
// error has kind EmptyDocument.
func (c *Chunker) Chunk(paperID string, sections []models.Section) ([]*models.Chunk, error) {
	var chunks []*models.Chunk
	for _, sec := range sections {
		for _, w := range c.windows(sec) {
			chunks = append(chunks, &models.Chunk{
				ID:       models.ChunkID(paperID, len(chunks)),
				PaperID:  paperID,
				Text:     w.text,
				Section:  sectionName(sec.Name),
				Page:     w.page,
				Sequence: len(chunks),
			})
		}
	}
	if len(chunks) == 0 {
		return nil, apperr.New(apperr.KindEmptyDocument, "chunk", "document produced no text chunks")
	}
	return chunks, nil
}

type window struct {
	text string
	page int
}

func (c *Chunker) windows(sec models.Section) []window {
	runes, offsets := preprocessRunes(sec.Text)
	n := c.WindowCount(len(runes))
	if n == 0 {
		return nil
	}

	// Page breaks are given against the raw text; move them onto the normalised text.
	paged := models.Section{Page: sec.Page}
	for _, b := range sec.PageBreaks {
		off := b.Offset
		if off < 0 {
			off = 0
		}
		if off >= len(offsets) {
			off = len(offsets) - 1
		}
		paged.PageBreaks = append(paged.PageBreaks, models.PageBreak{Offset: offsets[off], Page: b.Page})
	}

	step := c.chunkSize - c.chunkOverlap
	tol := c.tolerance
	if half := c.chunkOverlap / 2; tol > half {
		tol = half
	}
	out := make([]window, 0, n)
	for i := 0; i < n; i++ {
		start := i * step
		end := start + c.chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if i < n-1 {
			end = snapToSentence(runes, end, tol)
		}
		out = append(out, window{
			text: strings.TrimSpace(string(runes[start:end])),
			page: paged.PageAt(start),
		})
	}
	return out
}

// snapToSentence returns the largest position p in [end-tol, end] that directly
// follows sentence-ending punctuation and precedes a space, or end if none does.
func snapToSentence(runes []rune, end, tol int) int {
	for p := end; p >= end-tol && p > 0; p-- {
		if p >= len(runes) {
			continue
		}
		if isSentenceEnd(runes[p-1]) && runes[p] == ' ' {
			return p
		}
	}
	return end
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func sectionName(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return DefaultSection
	}
	return name
}
