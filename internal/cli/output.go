// Package cli provides output formatting and the HTTP client used by the scholar CLI.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const rule = "─────────────────────────────────────────────────────────"

// WriteAnswer writes a query result.
func WriteAnswer(w io.Writer, res *models.QueryResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	fmt.Fprintf(w, "\n%s\n\n", strings.TrimSpace(res.AnswerText))
	if len(res.Citations) > 0 {
		fmt.Fprintln(w, "Sources:")
		writeCitations(w, res.Citations)
	}
	fmt.Fprintf(w, "\n(%d contexts used, %dms)\n", res.ContextsUsed, res.QueryTime)
	if len(res.Contexts) > 0 {
		fmt.Fprintln(w, "\nRetrieved contexts:")
		WriteContexts(w, res.Contexts)
	}
	return nil
}

// WriteContexts writes retrieved contexts, one block each.
func WriteContexts(w io.Writer, contexts []*models.RetrievedContext) {
	for _, c := range contexts {
		fmt.Fprintln(w, rule)
		fmt.Fprintf(w, "%s | %s, p. %d | relevance %.3f\n", c.Title, c.Section, c.Page, c.RelevanceScore)
		fmt.Fprintf(w, "%s\n", TruncateWords(c.Text, 60))
	}
}

func writeCitations(w io.Writer, cites []models.Citation) {
	for _, c := range cites {
		fmt.Fprintf(w, "  [%d] %s, %s, p. %d\n", c.Number, c.Title, c.Section, c.Page)
	}
}

// WritePapers writes a paper listing.
func WritePapers(w io.Writer, papers []*models.Paper, format OutputFormat) error {
	if format == OutputJSON {
		if papers == nil {
			papers = []*models.Paper{}
		}
		return WriteJSON(w, papers)
	}
	if len(papers) == 0 {
		fmt.Fprintln(w, "No papers.")
		return nil
	}
	for _, p := range papers {
		fmt.Fprintf(w, "%s  %s\n", utils.Truncate(p.ID, 12), utils.Truncate(p.Title, 70))
		meta := []string{p.UploadDate.Format("2006-01-02"), fmt.Sprintf("%d chunks", p.ChunkCount)}
		if p.Year > 0 {
			meta = append([]string{fmt.Sprint(p.Year)}, meta...)
		}
		if len(p.Authors) > 0 {
			meta = append([]string{TruncateWords(strings.Join(p.Authors, ", "), 8)}, meta...)
		}
		fmt.Fprintf(w, "              %s\n", strings.Join(meta, " · "))
	}
	fmt.Fprintf(w, "\n%d paper(s)\n", len(papers))
	return nil
}

// WritePaper writes one paper in full.
func WritePaper(w io.Writer, p *models.Paper, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, p)
	}
	fmt.Fprintf(w, "id:        %s\n", p.ID)
	fmt.Fprintf(w, "title:     %s\n", p.Title)
	if len(p.Authors) > 0 {
		fmt.Fprintf(w, "authors:   %s\n", strings.Join(p.Authors, ", "))
	}
	if p.Year > 0 {
		fmt.Fprintf(w, "year:      %d\n", p.Year)
	}
	fmt.Fprintf(w, "uploaded:  %s\n", p.UploadDate.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "sections:  %d\n", p.SectionCount)
	fmt.Fprintf(w, "chunks:    %d\n", p.ChunkCount)
	if p.SourcePath != "" {
		fmt.Fprintf(w, "source:    %s\n", p.SourcePath)
	}
	if p.Abstract != "" {
		fmt.Fprintf(w, "\n%s\n", TruncateWords(p.Abstract, 120))
	}
	return nil
}

// WriteIngestResults writes the outcome of one or more uploads.
func WriteIngestResults(w io.Writer, results []*models.IngestResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, results)
	}
	for _, r := range results {
		state := "ingested"
		if r.Duplicate {
			state = "already registered"
		}
		fmt.Fprintf(w, "%s: %s (%s, %d sections, %d chunks)\n",
			state, r.Title, r.PaperID, r.SectionsProcessed, r.ChunksProcessed)
	}
	return nil
}

// WriteComparison writes a comparison result.
func WriteComparison(w io.Writer, res *models.ComparisonResult, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, res)
	}
	titles := make([]string, len(res.Papers))
	for i, p := range res.Papers {
		titles[i] = p.Title
	}
	fmt.Fprintf(w, "Papers:  %s\n", strings.Join(titles, " | "))
	fmt.Fprintf(w, "Aspects: %s\n\n", strings.Join(res.Aspects, ", "))
	fmt.Fprintf(w, "%s\n", strings.TrimSpace(res.ComparisonText))
	if len(res.Citations) > 0 {
		fmt.Fprintln(w, "\nSources:")
		writeCitations(w, res.Citations)
	}
	if len(res.UnknownPaperIDs) > 0 {
		fmt.Fprintf(w, "\nUnknown paper ids ignored: %s\n", strings.Join(res.UnknownPaperIDs, ", "))
	}
	return nil
}

// WriteStatus writes server status.
func WriteStatus(w io.Writer, st *models.Status, format OutputFormat) error {
	if format == OutputJSON {
		return WriteJSON(w, st)
	}
	fmt.Fprintf(w, "papers:             %d\n", st.Stats.Papers)
	fmt.Fprintf(w, "chunks:             %d\n", st.Stats.Chunks)
	fmt.Fprintf(w, "vectors:            %d   # %s index\n", st.Stats.Vectors, st.VectorIndexType)
	if st.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d\n", *st.DiskUsageBytes)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# configuration")
	fmt.Fprintf(w, "embedding:          %s/%s (%d dims)\n", st.Embedding.Provider, st.Embedding.Model, st.Embedding.Dimensions)
	fmt.Fprintf(w, "llm:                %s/%s\n", st.LLM.Provider, st.LLM.Model)
	fmt.Fprintf(w, "chunk_size:         %d\n", st.Chunking.ChunkSize)
	fmt.Fprintf(w, "chunk_overlap:      %d\n", st.Chunking.ChunkOverlap)

	if len(st.Collaborators) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# collaborators")
		names := make([]string, 0, len(st.Collaborators))
		for name := range st.Collaborators {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			r := st.Collaborators[name]
			if r.Reachable {
				fmt.Fprintf(w, "%-19s ok (%dms)\n", name+":", r.LatencyMS)
			} else {
				fmt.Fprintf(w, "%-19s unreachable: %s\n", name+":", r.Error)
			}
		}
	}
	return nil
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
