package cli

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/hyperjump/scholar/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, OutputText, f)

	f, err = ParseFormat(" JSON ")
	require.NoError(t, err)
	assert.Equal(t, OutputJSON, f)

	_, err = ParseFormat("yaml")
	assert.Error(t, err)
}

func TestWriteAnswer_Text(t *testing.T) {
	res := &models.QueryResult{
		AnswerText:   "Transformers use attention [1].",
		Citations:    []models.Citation{{Number: 1, PaperID: "p1", Title: "Attention", Section: "Model", Page: 3}},
		ContextsUsed: 1,
		QueryTime:    42,
	}
	var buf bytes.Buffer
	require.NoError(t, WriteAnswer(&buf, res, OutputText))
	out := buf.String()
	assert.Contains(t, out, "Transformers use attention [1].")
	assert.Contains(t, out, "[1] Attention, Model, p. 3")
	assert.Contains(t, out, "(1 contexts used, 42ms)")
	assert.NotContains(t, out, "Retrieved contexts")
}

func TestWritePapers(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePapers(&buf, nil, OutputText))
	assert.Equal(t, "No papers.\n", buf.String())

	buf.Reset()
	require.NoError(t, WritePapers(&buf, nil, OutputJSON))
	assert.JSONEq(t, "[]", buf.String())

	buf.Reset()
	papers := []*models.Paper{{ID: "0123456789abcdef", Title: "Graphs", Authors: []string{"Ada"}, Year: 2020,
		UploadDate: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), ChunkCount: 4}}
	require.NoError(t, WritePapers(&buf, papers, OutputText))
	assert.Contains(t, buf.String(), "Graphs")
	assert.Contains(t, buf.String(), "Ada · 2020 · 2026-01-02 · 4 chunks")
	assert.Contains(t, buf.String(), "1 paper(s)")
}

func TestWriteStatus_JSON(t *testing.T) {
	st := &models.Status{
		Stats:         models.Stats{Papers: 2, Chunks: 10, Vectors: 10},
		Collaborators: map[string]models.Reachability{"llm": {Reachable: true, LatencyMS: 5}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteStatus(&buf, st, OutputJSON))
	var got models.Status
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, 2, got.Stats.Papers)
	assert.True(t, got.Collaborators["llm"].Reachable)
}

func TestWriteStatus_TextSortsCollaborators(t *testing.T) {
	st := &models.Status{Collaborators: map[string]models.Reachability{
		"llm":    {Error: "connection refused"},
		"grobid": {Reachable: true, LatencyMS: 12},
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteStatus(&buf, st, OutputText))
	out := buf.String()
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("grobid:")), bytes.Index(buf.Bytes(), []byte("llm:")))
	assert.Contains(t, out, "unreachable: connection refused")
	assert.Contains(t, out, "ok (12ms)")
}

func TestWriteComparison_UnknownIDs(t *testing.T) {
	res := &models.ComparisonResult{
		ComparisonText:  "A and B differ [1][2].",
		Papers:          []models.PaperSummary{{ID: "a", Title: "A"}, {ID: "b", Title: "B"}},
		Aspects:         []string{"methodology"},
		UnknownPaperIDs: []string{"zzz"},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteComparison(&buf, res, OutputText))
	assert.Contains(t, buf.String(), "Papers:  A | B")
	assert.Contains(t, buf.String(), "Unknown paper ids ignored: zzz")
}

func TestTruncateWords(t *testing.T) {
	assert.Equal(t, "a b", TruncateWords("a  b", 5))
	assert.Equal(t, "a b...", TruncateWords("a b c d", 2))
}
