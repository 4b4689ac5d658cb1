// Package citation numbers retrieved contexts by their (paper, section, page) source.
package citation

import "github.com/hyperjump/scholar/internal/models"

// Key identifies a citable source. Two contexts from the same page of the same
// section share a citation.
type Key struct {
	PaperID string
	Section string
	Page    int
}

// KeyOf returns the citation key of a retrieved context.
func KeyOf(c *models.RetrievedContext) Key {
	return Key{PaperID: c.PaperID, Section: c.Section, Page: c.Page}
}

// Numbering maps citation keys to their 1-based number.
type Numbering map[Key]int

// Of returns the number assigned to the context's source, or 0 if unknown.
func (n Numbering) Of(c *models.RetrievedContext) int {
	return n[KeyOf(c)]
}

// Link emits one citation per distinct source in first-seen order, numbered from 1.
func Link(contexts []*models.RetrievedContext) []models.Citation {
	cites, _ := Number(contexts)
	return cites
}

// Number is Link plus the key-to-number mapping used to label prompt blocks.
func Number(contexts []*models.RetrievedContext) ([]models.Citation, Numbering) {
	numbering := make(Numbering, len(contexts))
	cites := make([]models.Citation, 0, len(contexts))
	for _, c := range contexts {
		if c == nil {
			continue
		}
		k := KeyOf(c)
		if _, ok := numbering[k]; ok {
			continue
		}
		numbering[k] = len(cites) + 1
		cites = append(cites, models.Citation{
			Number:  len(cites) + 1,
			PaperID: c.PaperID,
			Title:   c.Title,
			Section: c.Section,
			Page:    c.Page,
		})
	}
	return cites, numbering
}
