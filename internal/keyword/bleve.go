package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/hyperjump/scholar/internal/models"
)

const defaultTitleBoost = 3.0

// catalogueDoc is the indexed form of a paper.
type catalogueDoc struct {
	Title    string `json:"title"`
	Authors  string `json:"authors"`
	Abstract string `json:"abstract"`
	Year     int    `json:"year"`
}

// BleveIndex implements CatalogueIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func catalogueMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so author surnames match exactly.
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("authors", textFieldMapping)
	docMapping.AddFieldMappingsAt("abstract", textFieldMapping)
	docMapping.AddFieldMappingsAt("year", bleve.NewNumericFieldMapping())
	im.AddDocumentMapping("paper", docMapping)
	im.DefaultType = "paper"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path. An empty path gives an
// in-memory index. The catalogue can always be rebuilt from the Paper Store.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(catalogueMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create in-memory Bleve index: %w", err)
		}
		return &BleveIndex{index: index}, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	index, err := bleve.New(path, catalogueMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index adds or replaces the catalogue entry of paper.
func (b *BleveIndex) Index(ctx context.Context, paper *models.Paper) error {
	return b.index.Index(paper.ID, catalogueDoc{
		Title:    paper.Title,
		Authors:  strings.Join(paper.Authors, ", "),
		Abstract: paper.Abstract,
		Year:     paper.Year,
	})
}

// Search matches query against title, authors and abstract and returns up to limit hits,
// best first. Title matches are boosted.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return []*KeywordResult{}, nil
	}
	titleBoost := defaultTitleBoost
	fuzziness := 0
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		if opts.FuzzyEnabled {
			fuzziness = 1
			if opts.Fuzziness > 0 {
				fuzziness = min(opts.Fuzziness, 2)
			}
		}
	}

	fieldQuery := func(field string, boost float64) blevequery.Query {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		mq.SetFuzziness(fuzziness)
		if boost != 1 {
			mq.SetBoost(boost)
		}
		return mq
	}
	q := bleve.NewDisjunctionQuery(
		fieldQuery("title", titleBoost),
		fieldQuery("authors", 1),
		fieldQuery("abstract", 1),
	)

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// Delete removes a paper from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// DocCount returns the total number of papers in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
