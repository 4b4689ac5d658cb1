package models

import "fmt"

// Chunk is a bounded passage of a paper with its provenance.
type Chunk struct {
	ID       string    `json:"chunk_id"`
	PaperID  string    `json:"paper_id"`
	Text     string    `json:"text"`
	Section  string    `json:"section"`
	Page     int       `json:"page"`
	Sequence int       `json:"sequence_index"`
	Vector   []float32 `json:"-"`
}

// ChunkID returns the identifier of the seq-th chunk of paperID. Zero padding
// keeps lexical order equal to sequence order.
func ChunkID(paperID string, seq int) string {
	return fmt.Sprintf("%s-%05d", paperID, seq)
}

// RetrievedContext is a chunk returned for a query, with paper metadata attached.
type RetrievedContext struct {
	ChunkID        string  `json:"chunk_id"`
	Text           string  `json:"text"`
	PaperID        string  `json:"paper_id"`
	Title          string  `json:"title"`
	Section        string  `json:"section"`
	Page           int     `json:"page"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Citation is a numbered reference to a (paper, section, page) source.
type Citation struct {
	Number  int    `json:"citation_number"`
	PaperID string `json:"paper_id"`
	Title   string `json:"title"`
	Section string `json:"section"`
	Page    int    `json:"page"`
}
