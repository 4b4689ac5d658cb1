// Package models defines core data structures for papers, chunks, queries, and answers.
package models

import "time"

// Paper is the registry entry for an ingested document.
type Paper struct {
	ID           string    `json:"paper_id"`
	Title        string    `json:"title"`
	Authors      []string  `json:"authors"`
	Year         int       `json:"year,omitempty"`
	Abstract     string    `json:"abstract,omitempty"`
	UploadDate   time.Time `json:"upload_date"`
	SectionCount int       `json:"section_count"`
	ChunkCount   int       `json:"chunk_count"`
	SourcePath   string    `json:"source_path,omitempty"`
	ContentHash  string    `json:"content_hash,omitempty"`
}

// PaperSummary is the short form of a Paper used in listings and comparisons.
type PaperSummary struct {
	ID      string   `json:"paper_id"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Year    int      `json:"year,omitempty"`
}

// Summary returns the summary view of p.
func (p *Paper) Summary() PaperSummary {
	return PaperSummary{ID: p.ID, Title: p.Title, Authors: p.Authors, Year: p.Year}
}

// Document is the structured form of a paper as returned by a structure extractor.
type Document struct {
	Title      string    `json:"title"`
	Authors    []string  `json:"authors"`
	Year       int       `json:"year,omitempty"`
	Abstract   string    `json:"abstract,omitempty"`
	Sections   []Section `json:"sections"`
	References []string  `json:"references,omitempty"`
}

// Section is a named run of text starting on Page. PageBreaks marks rune offsets
// within Text where a later page begins.
type Section struct {
	Name       string      `json:"section_name"`
	Page       int         `json:"page"`
	Text       string      `json:"text"`
	PageBreaks []PageBreak `json:"page_breaks,omitempty"`
	OrderIndex int         `json:"order_index"`
}

// PageBreak records that text from Offset onwards is on Page.
type PageBreak struct {
	Offset int `json:"offset"`
	Page   int `json:"page"`
}

// PageAt returns the page of the rune at offset.
func (s *Section) PageAt(offset int) int {
	page := s.Page
	for _, b := range s.PageBreaks {
		if b.Offset > offset {
			break
		}
		page = b.Page
	}
	return page
}

// IngestRequest is the input for ingesting a paper. When Sections is empty the
// structure extractor is run over Content.
type IngestRequest struct {
	Content    []byte    `json:"-"`
	Filename   string    `json:"filename,omitempty"`
	SourcePath string    `json:"-"`
	Title      string    `json:"title,omitempty"`
	Authors    []string  `json:"authors,omitempty"`
	Year       int       `json:"year,omitempty"`
	Sections   []Section `json:"sections,omitempty"`
}

// IngestResult reports the outcome of an ingestion.
type IngestResult struct {
	PaperID           string `json:"paper_id"`
	Title             string `json:"title"`
	ChunksProcessed   int    `json:"chunks_processed"`
	SectionsProcessed int    `json:"sections_processed"`
	Duplicate         bool   `json:"duplicate,omitempty"`
}
