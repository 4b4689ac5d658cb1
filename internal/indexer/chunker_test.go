package indexer

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/models"
)

// filler returns exactly n runes of text with no sentence boundaries.
func filler(n int) string {
	s := strings.Repeat("lorem ipsum dolor sit amet ", n/27+1)
	return s[:n-1] + "x"
}

func TestChunker_ShortSectionYieldsOneChunk(t *testing.T) {
	c := NewChunker(1000, 200)
	chunks, err := c.Chunk("p1", []models.Section{{Name: "Abstract", Page: 1, Text: filler(600)}})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].ID != "p1-00000" || chunks[0].Section != "Abstract" || chunks[0].Page != 1 {
		t.Errorf("unexpected chunk: %+v", chunks[0])
	}
}

func TestChunker_TwiceSizeMinusOverlapYieldsTwoOverlappingChunks(t *testing.T) {
	c := NewChunker(1000, 200)
	text := filler(2*1000 - 200)
	chunks, err := c.Chunk("p1", []models.Section{{Name: "Intro", Page: 2, Text: text}})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	shared := strings.TrimSpace(text[800:1000])
	if !strings.HasSuffix(chunks[0].Text, shared) || !strings.HasPrefix(chunks[1].Text, shared) {
		t.Error("consecutive chunks should share the overlap region")
	}
}

func TestChunker_ScenarioAbstractAndIntro(t *testing.T) {
	c := NewChunker(1000, 200)
	chunks, err := c.Chunk("paper", []models.Section{
		{Name: "Abstract", Page: 1, Text: filler(600)},
		{Name: "Intro", Page: 2, Text: filler(1800)},
	})
	if err != nil {
		t.Fatal(err)
	}
	bySection := map[string]int{}
	for i, ch := range chunks {
		bySection[ch.Section]++
		if ch.Sequence != i {
			t.Errorf("chunk %d has sequence %d", i, ch.Sequence)
		}
		if ch.ID != models.ChunkID("paper", i) {
			t.Errorf("chunk %d has id %s", i, ch.ID)
		}
	}
	if bySection["Abstract"] != 1 || bySection["Intro"] != 2 {
		t.Errorf("per-section counts: %v", bySection)
	}
	if len(chunks) != c.WindowCount(600)+c.WindowCount(1800) {
		t.Errorf("chunk count %d does not match window formula", len(chunks))
	}
}

func TestChunker_WindowCount(t *testing.T) {
	c := NewChunker(1000, 200)
	tests := []struct{ length, want int }{
		{0, 0}, {1, 1}, {1000, 1}, {1001, 2}, {1800, 2}, {1801, 3}, {2600, 3}, {2601, 4},
	}
	for _, tt := range tests {
		if got := c.WindowCount(tt.length); got != tt.want {
			t.Errorf("WindowCount(%d) = %d, want %d", tt.length, got, tt.want)
		}
	}
}

func TestChunker_CountMatchesFormulaWithSentences(t *testing.T) {
	c := NewChunker(300, 100, WithSentenceTolerance(50))
	var b strings.Builder
	for i := 0; b.Len() < 2000; i++ {
		fmt.Fprintf(&b, "Sentence number %d says something. ", i)
	}
	text := strings.TrimSpace(b.String())
	chunks, err := c.Chunk("p", []models.Section{{Name: "Body", Page: 1, Text: text}})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != c.WindowCount(utf8.RuneCountInString(text)) {
		t.Fatalf("got %d chunks, formula says %d", len(chunks), c.WindowCount(len(text)))
	}
	for i, ch := range chunks {
		if n := utf8.RuneCountInString(ch.Text); n > 300 {
			t.Errorf("chunk %d has %d runes", i, n)
		}
		if i < len(chunks)-1 && !strings.HasSuffix(ch.Text, ".") {
			t.Errorf("interior chunk %d should end on a sentence boundary: %q", i, ch.Text[len(ch.Text)-20:])
		}
	}
}

func TestChunker_EmptySectionYieldsNothing(t *testing.T) {
	c := NewChunker(100, 10)
	chunks, err := c.Chunk("p", []models.Section{
		{Name: "Empty", Page: 1, Text: "   \n\t "},
		{Name: "Body", Page: 2, Text: "Some text."},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 1 || chunks[0].Section != "Body" || chunks[0].ID != "p-00000" {
		t.Errorf("unexpected chunks: %+v", chunks)
	}
}

func TestChunker_NoTextIsEmptyDocument(t *testing.T) {
	c := NewChunker(100, 10)
	_, err := c.Chunk("p", []models.Section{{Name: "A", Text: ""}, {Name: "B", Text: "  "}})
	if apperr.KindOf(err) != apperr.KindEmptyDocument {
		t.Fatalf("expected EmptyDocument, got %v", err)
	}
}

func TestChunker_PageAttributedToWindowStart(t *testing.T) {
	c := NewChunker(100, 20, WithSentenceTolerance(0))
	text := filler(250)
	// page 5 starts at rune 90, page 6 at rune 170
	sec := models.Section{Name: "Results", Page: 4, Text: text,
		PageBreaks: []models.PageBreak{{Offset: 90, Page: 5}, {Offset: 170, Page: 6}}}
	chunks, err := c.Chunk("p", []models.Section{sec})
	if err != nil {
		t.Fatal(err)
	}
	// windows start at 0, 80, 160
	want := []int{4, 4, 5}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		if chunks[i].Page != w {
			t.Errorf("chunk %d page = %d, want %d", i, chunks[i].Page, w)
		}
	}
}

func TestChunker_BlankSectionName(t *testing.T) {
	c := NewChunker(100, 10)
	chunks, err := c.Chunk("p", []models.Section{{Name: " ", Text: "text"}})
	if err != nil {
		t.Fatal(err)
	}
	if chunks[0].Section != DefaultSection {
		t.Errorf("section = %q", chunks[0].Section)
	}
}

func TestPreprocess(t *testing.T) {
	if Preprocess("  a  b  ") != "a b" {
		t.Error("expected trimmed and collapsed spaces")
	}
	if Preprocess("a\n\n\tb") != "a b" {
		t.Error("expected newlines and tabs collapsed")
	}
}

func TestPreprocessRunes_Offsets(t *testing.T) {
	out, offsets := preprocessRunes("  ab   cd ")
	if string(out) != "ab cd" {
		t.Fatalf("got %q", string(out))
	}
	// 'c' is at raw offset 7 and normalised offset 3
	if offsets[7] != 3 {
		t.Errorf("offsets[7] = %d, want 3", offsets[7])
	}
	if offsets[len(offsets)-1] != len(out) {
		t.Errorf("end offset = %d", offsets[len(offsets)-1])
	}
}
