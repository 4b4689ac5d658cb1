package composer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/citation"
	"github.com/hyperjump/scholar/internal/llm"
	"github.com/hyperjump/scholar/internal/models"
)

func sampleContexts() []*models.RetrievedContext {
	return []*models.RetrievedContext{
		{ChunkID: "p1-00000", PaperID: "p1", Title: "Attention", Section: "Abstract", Page: 1, Text: "Transformers use attention.", RelevanceScore: 0.9},
		{ChunkID: "p1-00001", PaperID: "p1", Title: "Attention", Section: "Introduction", Page: 2, Text: "RNNs are sequential.", RelevanceScore: 0.8},
		{ChunkID: "p1-00002", PaperID: "p1", Title: "Attention", Section: "Introduction", Page: 2, Text: "Attention is parallel.", RelevanceScore: 0.7},
		{ChunkID: "p2-00000", PaperID: "p2", Title: "BERT", Section: "Methods", Page: 4, Text: "BERT is bidirectional.", RelevanceScore: 0.6},
	}
}

type failingCompleter struct{ t *testing.T }

func (f failingCompleter) Complete(context.Context, string) (string, error) {
	f.t.Fatal("completion service must not be called")
	return "", nil
}

func TestCompose_EmptyContextsShortCircuit(t *testing.T) {
	c := New(failingCompleter{t})
	for _, contexts := range [][]*models.RetrievedContext{nil, {}} {
		ans, err := c.Compose(context.Background(), "anything?", contexts)
		require.NoError(t, err)
		assert.Equal(t, InsufficientEvidenceAnswer, ans.Text)
		assert.Empty(t, ans.Citations)
		assert.Equal(t, 0, ans.ContextsUsed)
	}
}

func TestCompose_PromptLabels(t *testing.T) {
	mock := llm.NewMockCompleter("Transformers rely on attention [1].")
	_, err := New(mock).Compose(context.Background(), "How do transformers work?", sampleContexts())
	require.NoError(t, err)

	prompts := mock.Prompts()
	require.Len(t, prompts, 1)
	p := prompts[0]
	assert.Contains(t, p, "[1] Source: Attention, Section: Abstract, Page: 1\nTransformers use attention.")
	assert.Contains(t, p, "[2] Source: Attention, Section: Introduction, Page: 2\nRNNs are sequential.")
	assert.Contains(t, p, "[2] Source: Attention, Section: Introduction, Page: 2\nAttention is parallel.")
	assert.Contains(t, p, "[3] Source: BERT, Section: Methods, Page: 4")
	assert.Contains(t, p, "Question: How do transformers work?")
	assert.NotContains(t, p, "[4]")
}

func TestCompose_RenumbersByFirstAppearance(t *testing.T) {
	mock := llm.NewMockCompleter("BERT is bidirectional [3]. Attention is parallel [2, 3]. Also [1].")
	ans, err := New(mock).Compose(context.Background(), "q", sampleContexts())
	require.NoError(t, err)

	assert.Equal(t, "BERT is bidirectional [1]. Attention is parallel [2, 1]. Also [3].", ans.Text)
	require.Len(t, ans.Citations, 3)
	assert.Equal(t, "p2", ans.Citations[0].PaperID)
	assert.Equal(t, 1, ans.Citations[0].Number)
	assert.Equal(t, "Introduction", ans.Citations[1].Section)
	assert.Equal(t, 2, ans.Citations[1].Number)
	assert.Equal(t, "Abstract", ans.Citations[2].Section)
	assert.Equal(t, 4, ans.ContextsUsed)
}

func TestCompose_StripsUnknownMarkers(t *testing.T) {
	mock := llm.NewMockCompleter("Claim one [7]. Claim two [2] and [9, 2].")
	ans, err := New(mock).Compose(context.Background(), "q", sampleContexts())
	require.NoError(t, err)

	assert.Equal(t, "Claim one. Claim two [1] and [1].", ans.Text)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, 1, ans.Citations[0].Number)
	assert.Equal(t, 2, ans.Citations[0].Page)
	// both Introduction/page 2 contexts share the cited tuple
	assert.Equal(t, 2, ans.ContextsUsed)
}

func TestCompose_RangeMarkers(t *testing.T) {
	mock := llm.NewMockCompleter("Attention is parallel [2-9]. BERT is bidirectional [3–7]. Nothing here [8-9].")
	ans, err := New(mock).Compose(context.Background(), "q", sampleContexts())
	require.NoError(t, err)

	assert.Equal(t, "Attention is parallel [1, 2]. BERT is bidirectional [2]. Nothing here.", ans.Text)
	require.Len(t, ans.Citations, 2)
	assert.Equal(t, "Introduction", ans.Citations[0].Section)
	assert.Equal(t, "BERT", ans.Citations[1].Title)
	assert.Equal(t, 3, ans.ContextsUsed)
}

func TestMarkerNumbers(t *testing.T) {
	tests := []struct {
		inner string
		want  []int
	}{
		{"3", []int{3}},
		{"1, 3-5", []int{1, 3, 4, 5}},
		{"2 – 4", []int{2, 3, 4}},
		{"5-2", []int{5, 2}},
		{"1-100000", []int{1, 100000}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, markerNumbers(tt.inner), tt.inner)
	}
}

func TestCompose_NoMarkersFallsBackToAllCitations(t *testing.T) {
	mock := llm.NewMockCompleter("  Attention replaced recurrence.  ")
	contexts := sampleContexts()
	ans, err := New(mock).Compose(context.Background(), "q", contexts)
	require.NoError(t, err)

	assert.Equal(t, "Attention replaced recurrence.", ans.Text)
	assert.Equal(t, citation.Link(contexts), ans.Citations)
	assert.Equal(t, len(contexts), ans.ContextsUsed)
}

func TestCompose_CitationNumbersContiguous(t *testing.T) {
	mock := llm.NewMockCompleter("[3] then [1] then [3] then [2]")
	ans, err := New(mock).Compose(context.Background(), "q", sampleContexts())
	require.NoError(t, err)
	for i, c := range ans.Citations {
		assert.Equal(t, i+1, c.Number)
	}
	assert.Equal(t, "[1] then [2] then [1] then [3]", ans.Text)
}

func TestCompose_Unparseable(t *testing.T) {
	for _, raw := range []string{"", "   \n\t", "[42]"} {
		_, err := New(llm.NewMockCompleter(raw)).Compose(context.Background(), "q", sampleContexts())
		require.Error(t, err, "raw=%q", raw)
		assert.Equal(t, apperr.KindUnparseableCompletion, apperr.KindOf(err))
		assert.Equal(t, apperr.CategoryComposition, apperr.KindOf(err).Category())
	}
}

func TestCompose_CompletionErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"plain", errors.New("boom"), apperr.KindCompletionServiceUnavailable},
		{"deadline", context.DeadlineExceeded, apperr.KindCompletionTimeout},
		{"typed", apperr.New(apperr.KindCompletionTimeout, "complete", "slow"), apperr.KindCompletionTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &llm.MockCompleter{Err: tt.err}
			_, err := New(mock).Compose(context.Background(), "q", sampleContexts())
			require.Error(t, err)
			assert.Equal(t, tt.want, apperr.KindOf(err))
			assert.True(t, apperr.IsRetryable(err))
		})
	}
}

func TestBuildPrompt_TrimsQuery(t *testing.T) {
	contexts := sampleContexts()[:1]
	_, numbering := citation.Number(contexts)
	p := BuildPrompt("  why?  ", contexts, numbering)
	assert.True(t, strings.HasSuffix(p, "Question: why?\nAnswer:"))
}
