package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/pkg/utils"
)

// extractPDFPages returns the plain text of every page. Pages without content yield "".
func extractPDFPages(content []byte) ([]string, string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, "", fmt.Errorf("open PDF: %w", err)
	}
	numPages := r.NumPage()
	pages := make([]string, numPages)
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, "", fmt.Errorf("extract page %d: %w", i+1, err)
		}
		pages[i] = text
	}
	title := strings.TrimSpace(r.Trailer().Key("Info").Key("Title").Text())
	return pages, title, nil
}

// extractPDF builds a Document from a PDF without layout analysis: the title comes from
// the document info or the first line, and sections are split at recognised headings.
func extractPDF(content []byte) (*models.Document, error) {
	pages, title, err := extractPDFPages(content)
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = firstLine(strings.Join(pages, "\n"))
	}
	doc := &models.Document{Title: utils.Truncate(title, 200), Sections: sectionsFromPages(pages)}
	doc.Abstract = abstractOf(doc.Sections)
	return doc, nil
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
