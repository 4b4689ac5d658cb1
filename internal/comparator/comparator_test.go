package comparator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/composer"
	"github.com/hyperjump/scholar/internal/llm"
	"github.com/hyperjump/scholar/internal/models"
)

type stubStore map[string]*models.Paper

func (s stubStore) GetPapers(_ context.Context, ids []string) (map[string]*models.Paper, error) {
	out := map[string]*models.Paper{}
	for _, id := range ids {
		if p, ok := s[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type call struct {
	query string
	paper string
	n     int
}

type stubRetriever struct {
	calls []call
	empty bool
	err   error
}

func (r *stubRetriever) Retrieve(_ context.Context, query string, paperIDs []string, n int) ([]*models.RetrievedContext, error) {
	r.calls = append(r.calls, call{query: query, paper: paperIDs[0], n: n})
	if r.err != nil {
		return nil, r.err
	}
	if r.empty {
		return []*models.RetrievedContext{}, nil
	}
	pid := paperIDs[0]
	return []*models.RetrievedContext{{
		ChunkID: pid + "-" + query,
		PaperID: pid,
		Title:   "Title " + pid,
		Section: strings.ToUpper(query[:1]) + query[1:],
		Page:    1,
		Text:    query + " of " + pid,
	}}, nil
}

func store() stubStore {
	return stubStore{
		"a": {ID: "a", Title: "Title a", Year: 2017},
		"b": {ID: "b", Title: "Title b", Year: 2019},
		"c": {ID: "c", Title: "Title c"},
	}
}

type noCallCompleter struct{ t *testing.T }

func (n noCallCompleter) Complete(context.Context, string) (string, error) {
	n.t.Fatal("completion service must not be called")
	return "", nil
}

func TestCompare_InsufficientPapers(t *testing.T) {
	r := &stubRetriever{}
	c := New(store(), r, noCallCompleter{t})

	for _, ids := range [][]string{nil, {"a"}, {"a", " a ", "a"}, {"a", "ghost"}, {"", "  "}} {
		_, err := c.Compare(context.Background(), ids, []string{"results"})
		require.Error(t, err, "ids=%v", ids)
		assert.Equal(t, apperr.KindInsufficientPapers, apperr.KindOf(err))
		assert.Equal(t, apperr.CategoryComparison, apperr.KindOf(err).Category())
	}
	assert.Empty(t, r.calls)
}

func TestCompare_NoAspects(t *testing.T) {
	r := &stubRetriever{}
	c := New(store(), r, noCallCompleter{t}, WithDefaultAspects([]string{"methodology"}))

	for _, aspects := range [][]string{{}, {"", "   "}} {
		_, err := c.Compare(context.Background(), []string{"a", "b"}, aspects)
		require.Error(t, err)
		assert.Equal(t, apperr.KindNoAspects, apperr.KindOf(err))
	}
	assert.Empty(t, r.calls)
}

func TestCompare_StrictUnknownID(t *testing.T) {
	r := &stubRetriever{}
	c := New(store(), r, noCallCompleter{t}, WithStrictIDs(true))
	_, err := c.Compare(context.Background(), []string{"a", "b", "ghost"}, []string{"results"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnknownPaperID, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "ghost")
	assert.Empty(t, r.calls)
}

func TestCompare_LenientUnknownIDs(t *testing.T) {
	r := &stubRetriever{}
	mock := llm.NewMockCompleter("A uses attention [1] while B does not [2].")
	c := New(store(), r, mock)

	res, err := c.Compare(context.Background(), []string{"a", "ghost", "b", "a"}, []string{"results"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ghost"}, res.UnknownPaperIDs)
	require.Len(t, res.Papers, 2)
	assert.Equal(t, "a", res.Papers[0].ID)
	assert.Equal(t, "b", res.Papers[1].ID)
}

func TestCompare_RetrievesPerPaperAndAspect(t *testing.T) {
	r := &stubRetriever{}
	mock := llm.NewMockCompleter("Methods differ [3]; results agree [2, 4].")
	c := New(store(), r, mock, WithContextsPerAspect(2))

	res, err := c.Compare(context.Background(), []string{"a", "b"}, []string{" methodology ", "Results", "results", ""})
	require.NoError(t, err)

	assert.Equal(t, []string{"methodology", "Results"}, res.Aspects)
	require.Len(t, r.calls, 4)
	assert.Equal(t, call{query: "methodology", paper: "a", n: 2}, r.calls[0])
	assert.Equal(t, call{query: "Results", paper: "a", n: 2}, r.calls[1])
	assert.Equal(t, call{query: "methodology", paper: "b", n: 2}, r.calls[2])
	assert.Equal(t, "b", r.calls[3].paper)

	require.Equal(t, 1, mock.Calls(), "one aggregated completion call")
	prompt := mock.Prompts()[0]
	assert.Contains(t, prompt, "## Paper: Title a (2017)")
	assert.Contains(t, prompt, "### Aspect: methodology")
	assert.Contains(t, prompt, "[1] Source: Title a, Section: Methodology, Page: 1")
	assert.Contains(t, prompt, "[4] Source: Title b, Section: Results, Page: 1")
	assert.Less(t, strings.Index(prompt, "Title a (2017)"), strings.Index(prompt, "## Paper: Title b"))

	assert.Equal(t, "Methods differ [1]; results agree [2, 3].", res.ComparisonText)
	require.Len(t, res.Citations, 3)
	assert.Equal(t, "b", res.Citations[0].PaperID)
	assert.Equal(t, "Methodology", res.Citations[0].Section)
	assert.Equal(t, "a", res.Citations[1].PaperID)
}

func TestCompare_DefaultAspectsOnlyWhenNil(t *testing.T) {
	r := &stubRetriever{}
	c := New(store(), r, llm.NewMockCompleter("ok [1]"), WithDefaultAspects([]string{"methodology", "limitations"}))
	res, err := c.Compare(context.Background(), []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"methodology", "limitations"}, res.Aspects)
}

func TestCompare_NoEvidenceSkipsCompletion(t *testing.T) {
	r := &stubRetriever{empty: true}
	c := New(store(), r, noCallCompleter{t})
	res, err := c.Compare(context.Background(), []string{"a", "c"}, []string{"results"})
	require.NoError(t, err)
	assert.Equal(t, composer.InsufficientEvidenceAnswer, res.ComparisonText)
	assert.Empty(t, res.Citations)
	assert.Len(t, res.Papers, 2)
}

func TestCompare_Errors(t *testing.T) {
	r := &stubRetriever{err: apperr.New(apperr.KindVectorizerUnavailable, "embed", "down")}
	c := New(store(), r, llm.NewMockCompleter("x"))
	_, err := c.Compare(context.Background(), []string{"a", "b"}, []string{"results"})
	assert.Equal(t, apperr.KindVectorizerUnavailable, apperr.KindOf(err))

	mock := &llm.MockCompleter{Err: errors.New("refused")}
	c = New(store(), &stubRetriever{}, mock)
	_, err = c.Compare(context.Background(), []string{"a", "b"}, []string{"results"})
	assert.Equal(t, apperr.KindCompletionServiceUnavailable, apperr.KindOf(err))

	c = New(store(), &stubRetriever{}, llm.NewMockCompleter("   "))
	_, err = c.Compare(context.Background(), []string{"a", "b"}, []string{"results"})
	assert.Equal(t, apperr.KindUnparseableCompletion, apperr.KindOf(err))
}
