// Package export writes the paper catalogue and comparison results to an xlsx workbook.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/scholar/internal/models"
	"github.com/xuri/excelize/v2"
)

// Sheet names.
const (
	SheetPapers      = "Papers"
	SheetComparisons = "Comparisons"
	SheetCitations   = "Citations"
)

var (
	paperHeader      = []any{"Paper ID", "Title", "Authors", "Year", "Uploaded", "Sections", "Chunks", "Source"}
	comparisonHeader = []any{"Comparison", "Papers", "Aspects", "Text", "Unknown IDs"}
	citationHeader   = []any{"Comparison", "Citation", "Paper ID", "Title", "Section", "Page"}
)

// Write renders papers and comparisons into a workbook and writes it to w. The
// comparison sheets are only added when comparisons are given.
func Write(w io.Writer, papers []*models.Paper, comparisons ...*models.ComparisonResult) error {
	f, err := build(papers, comparisons)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// WriteFile is Write to a file at path, creating parent directories.
func WriteFile(path string, papers []*models.Paper, comparisons ...*models.ComparisonResult) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create workbook: %w", err)
	}
	if err := Write(out, papers, comparisons...); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func build(papers []*models.Paper, comparisons []*models.ComparisonResult) (*excelize.File, error) {
	f := excelize.NewFile()
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create style: %w", err)
	}
	if err := f.SetSheetName("Sheet1", SheetPapers); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	rows := make([][]any, 0, len(papers))
	for _, p := range papers {
		rows = append(rows, []any{
			p.ID,
			p.Title,
			strings.Join(p.Authors, "; "),
			yearCell(p.Year),
			p.UploadDate.UTC().Format(time.RFC3339),
			p.SectionCount,
			p.ChunkCount,
			p.SourcePath,
		})
	}
	if err := writeSheet(f, SheetPapers, paperHeader, rows, bold); err != nil {
		f.Close()
		return nil, err
	}
	_ = f.SetColWidth(SheetPapers, "B", "B", 60)
	_ = f.SetColWidth(SheetPapers, "C", "C", 40)

	if len(comparisons) > 0 {
		var cmpRows, citeRows [][]any
		for i, c := range comparisons {
			if c == nil {
				continue
			}
			n := i + 1
			titles := make([]string, len(c.Papers))
			for j, p := range c.Papers {
				titles[j] = p.Title
			}
			cmpRows = append(cmpRows, []any{
				n,
				strings.Join(titles, "; "),
				strings.Join(c.Aspects, ", "),
				c.ComparisonText,
				strings.Join(c.UnknownPaperIDs, ", "),
			})
			for _, cite := range c.Citations {
				citeRows = append(citeRows, []any{n, cite.Number, cite.PaperID, cite.Title, cite.Section, cite.Page})
			}
		}
		for _, s := range []struct {
			name   string
			header []any
			rows   [][]any
		}{
			{SheetComparisons, comparisonHeader, cmpRows},
			{SheetCitations, citationHeader, citeRows},
		} {
			if _, err := f.NewSheet(s.name); err != nil {
				f.Close()
				return nil, fmt.Errorf("create sheet %q: %w", s.name, err)
			}
			if err := writeSheet(f, s.name, s.header, s.rows, bold); err != nil {
				f.Close()
				return nil, err
			}
		}
		_ = f.SetColWidth(SheetComparisons, "D", "D", 100)
	}
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, header []any, rows [][]any, headerStyle int) error {
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func yearCell(year int) any {
	if year <= 0 {
		return ""
	}
	return year
}
