package models

import (
	"fmt"
	"strings"
)

// DefaultNResults is used when a query does not set NResults.
const DefaultNResults = 5

// QueryRequest is a question, optionally restricted to a set of papers.
type QueryRequest struct {
	Query    string   `json:"query"`
	PaperIDs []string `json:"paper_ids,omitempty"`
	NResults int      `json:"n_results,omitempty"`
	// Partial asks for the retrieved contexts even when answer composition fails.
	Partial bool `json:"partial,omitempty"`
}

// Validate trims the query, drops blank paper ids, and applies the n_results default and cap.
func (q *QueryRequest) Validate(maxResults int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.NResults < 0 {
		return fmt.Errorf("n_results must not be negative")
	}
	if q.NResults == 0 {
		q.NResults = DefaultNResults
	}
	if maxResults > 0 && q.NResults > maxResults {
		q.NResults = maxResults
	}
	ids := q.PaperIDs[:0]
	for _, id := range q.PaperIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(q.PaperIDs) > 0 && len(ids) == 0 {
		return fmt.Errorf("paper_ids must contain at least one non-blank id")
	}
	q.PaperIDs = ids
	return nil
}

// CompareRequest asks for a structured comparison of papers across aspects.
// A nil Aspects means "use the configured defaults"; an empty, non-nil one is rejected.
type CompareRequest struct {
	PaperIDs []string `json:"paper_ids"`
	Aspects  []string `json:"aspects"`
}
