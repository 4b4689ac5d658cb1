package extract

import (
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/pkg/utils"
)

// extractPlain treats content as UTF-8 text (invalid sequences are replaced). The first
// non-empty line is the title; recognised heading lines start new sections. Everything is page 1.
func extractPlain(content []byte) (*models.Document, error) {
	text := string(content)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")

	title := firstLine(text)
	body := text
	if title != "" {
		body = strings.Replace(text, title, "", 1)
	}
	doc := &models.Document{
		Title:    utils.Truncate(strings.TrimLeft(title, "# "), 200),
		Sections: sectionsFromPages([]string{body}),
	}
	doc.Abstract = abstractOf(doc.Sections)
	return doc, nil
}
