package keyword

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/scholar/internal/models"
)

func seed(t *testing.T, idx *BleveIndex) {
	t.Helper()
	ctx := context.Background()
	papers := []*models.Paper{
		{ID: "p1", Title: "Attention Is All You Need", Authors: []string{"Ashish Vaswani", "Noam Shazeer"}, Abstract: "We propose the Transformer, based solely on attention mechanisms.", Year: 2017},
		{ID: "p2", Title: "BERT: Pre-training of Deep Bidirectional Transformers", Authors: []string{"Jacob Devlin"}, Abstract: "Language representation model pre-trained with masked tokens.", Year: 2019},
		{ID: "p3", Title: "Deep Residual Learning", Authors: []string{"Kaiming He"}, Abstract: "Residual networks ease training and rely on attention to shortcuts.", Year: 2016},
	}
	for _, p := range papers {
		if err := idx.Index(ctx, p); err != nil {
			t.Fatalf("Index %s: %v", p.ID, err)
		}
	}
}

func TestBleveIndex_SearchFields(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	defer func() {
		_ = idx.Close()
	}()
	seed(t, idx)
	ctx := context.Background()

	tests := []struct {
		query string
		want  string
	}{
		{"vaswani", "p1"},
		{"bidirectional", "p2"},
		{"residual", "p3"},
		{"masked", "p2"},
	}
	for _, tt := range tests {
		results, err := idx.Search(ctx, tt.query, 10, nil)
		if err != nil {
			t.Fatalf("Search %q: %v", tt.query, err)
		}
		if len(results) == 0 || results[0].ID != tt.want {
			t.Errorf("Search %q = %v, want first %s", tt.query, results, tt.want)
		}
	}
}

func TestBleveIndex_TitleBoost(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	seed(t, idx)

	// "attention" is in p1's title and p3's abstract; the title match wins.
	results, err := idx.Search(context.Background(), "attention", 10, &SearchOptions{TitleBoost: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) < 2 || results[0].ID != "p1" {
		t.Errorf("results = %+v", results)
	}
}

func TestBleveIndex_Fuzzy(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	seed(t, idx)
	ctx := context.Background()

	results, err := idx.Search(ctx, "devlni", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("exact search for typo should miss, got %v", results)
	}
	results, err = idx.Search(ctx, "devlin", 10, &SearchOptions{FuzzyEnabled: true})
	if err != nil || len(results) == 0 || results[0].ID != "p2" {
		t.Errorf("fuzzy exact = %v, %v", results, err)
	}
	results, err = idx.Search(ctx, "devlim", 10, &SearchOptions{FuzzyEnabled: true})
	if err != nil || len(results) == 0 || results[0].ID != "p2" {
		t.Errorf("fuzzy typo = %v, %v", results, err)
	}
}

func TestBleveIndex_EmptyQuery(t *testing.T) {
	idx, err := NewBleveIndex("")
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	results, err := idx.Search(context.Background(), "   ", 10, nil)
	if err != nil || len(results) != 0 {
		t.Errorf("results = %v, err = %v", results, err)
	}
}

func TestBleveIndex_PersistsAndDeletes(t *testing.T) {
	indexPath := filepath.Join(t.TempDir(), "sub", "catalogue")
	ctx := context.Background()

	idx1, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex: %v", err)
	}
	if err := idx1.Index(ctx, &models.Paper{ID: "doc1", Title: "Uniqueword Studies"}); err != nil {
		t.Fatalf("Index: %v", err)
	}
	if err := idx1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := os.Stat(indexPath); err != nil {
		t.Fatalf("index path should exist: %v", err)
	}

	idx2, err := NewBleveIndex(indexPath)
	if err != nil {
		t.Fatalf("NewBleveIndex (reopen): %v", err)
	}
	defer func() {
		_ = idx2.Close()
	}()
	if n, _ := idx2.DocCount(); n != 1 {
		t.Errorf("DocCount after reopen = %d, want 1", n)
	}
	if err := idx2.Delete(ctx, "doc1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	results, err := idx2.Search(ctx, "uniqueword", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results after delete, got %d", len(results))
	}
}
