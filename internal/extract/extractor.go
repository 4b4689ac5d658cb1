// Package extract turns raw paper bytes into a structured Document: title, authors, and
// sections carrying page numbers.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/models"
)

// UnknownSection names text that precedes any recognised heading.
const UnknownSection = "Unknown Section"

// StructureExtractor extracts the structure of a paper from its raw bytes.
type StructureExtractor interface {
	Extract(ctx context.Context, content []byte) (*models.Document, error)
}

// Pinger is implemented by extractors backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Local extracts structure without any external service: page-by-page text for PDFs,
// heading-delimited sections for plain text and Markdown.
type Local struct{}

// NewLocal returns a Local extractor.
func NewLocal() *Local {
	return &Local{}
}

// Extract detects the format from content and extracts its structure.
func (l *Local) Extract(ctx context.Context, content []byte) (*models.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		doc *models.Document
		err error
	)
	if IsPDF(content) {
		doc, err = extractPDF(content)
	} else {
		doc, err = extractPlain(content)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStructureExtractionFailed, "extract", err, "could not extract document structure")
	}
	return doc, nil
}

// ExtractFile reads path and extracts its structure.
func (l *Local) ExtractFile(ctx context.Context, path string) (*models.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return l.Extract(ctx, content)
}

// IsPDF reports whether content starts with the PDF magic bytes.
func IsPDF(content []byte) bool {
	return bytes.HasPrefix(bytes.TrimLeft(content[:min(len(content), 1024)], " \t\r\n"), []byte("%PDF-"))
}

// Supported reports whether path has one of the given extensions (case-insensitive, with dot).
func Supported(path string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}
