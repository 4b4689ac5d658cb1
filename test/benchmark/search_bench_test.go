package benchmark

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hyperjump/scholar/internal/embedding"
	"github.com/hyperjump/scholar/internal/indexer"
	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/internal/vector"
)

const dims = 384

func filledIndex(b *testing.B, papers, chunksPerPaper int) *vector.MemoryIndex {
	b.Helper()
	idx, err := vector.NewMemoryIndex(dims)
	if err != nil {
		b.Fatal(err)
	}
	emb := embedding.NewMockEmbedder(dims)
	ctx := context.Background()
	for p := 0; p < papers; p++ {
		paperID := fmt.Sprintf("paper-%04d", p)
		entries := make([]vector.Entry, chunksPerPaper)
		for c := range entries {
			v, err := emb.Embed(ctx, fmt.Sprintf("paper %d chunk %d", p, c))
			if err != nil {
				b.Fatal(err)
			}
			entries[c] = vector.Entry{ChunkID: models.ChunkID(paperID, c), PaperID: paperID, Vector: v}
		}
		if err := idx.Add(ctx, entries); err != nil {
			b.Fatal(err)
		}
	}
	return idx
}

func BenchmarkMemoryIndexSearch(b *testing.B) {
	idx := filledIndex(b, 100, 20)
	query, _ := embedding.NewMockEmbedder(dims).Embed(context.Background(), "what is attention")
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 5, nil)
	}
}

func BenchmarkMemoryIndexSearch_Filtered(b *testing.B) {
	idx := filledIndex(b, 100, 20)
	query, _ := embedding.NewMockEmbedder(dims).Embed(context.Background(), "what is attention")
	filter := vector.Filter("paper-0003", "paper-0042")
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = idx.Search(ctx, query, 5, filter)
	}
}

func BenchmarkChunker(b *testing.B) {
	c := indexer.NewChunker(1000, 200, indexer.WithSentenceTolerance(100))
	sections := []models.Section{
		{Name: "Abstract", Page: 1, Text: strings.Repeat("We propose a new model. ", 40)},
		{Name: "Introduction", Page: 2, Text: strings.Repeat("Prior work relies on recurrence. ", 400)},
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = c.Chunk("paper", sections)
	}
}

func BenchmarkMockEmbedder_Embed(b *testing.B) {
	e := embedding.NewMockEmbedder(dims)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Embed(ctx, "benchmark query text for embedding")
	}
}

func BenchmarkCosineSimilarity(b *testing.B) {
	a := make([]float32, dims)
	c := make([]float32, dims)
	for i := range a {
		a[i] = float32(i%7) / 7
		c[i] = float32(i%5) / 5
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = vector.CosineSimilarity(a, c)
	}
}
