package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hyperjump/scholar/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", 5*time.Second)
}

func TestClient_Ingest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paper.md")
	require.NoError(t, os.WriteFile(path, []byte("Title\n\nIntro\nbody"), 0600))

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/papers", r.URL.Path)
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "paper.md", hdr.Filename)
		assert.Equal(t, "Title\n\nIntro\nbody", string(data))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.IngestResult{PaperID: "abc", Title: "Title", ChunksProcessed: 1})
	})

	res, err := c.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "abc", res.PaperID)
	assert.Equal(t, 1, res.ChunksProcessed)
}

func TestClient_IngestMissingFile(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	_, err := c.Ingest(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"))
	assert.Error(t, err)
}

func TestClient_ListPapersWithQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "graph nets", r.URL.Query().Get("q"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"papers": []models.Paper{{ID: "p1", Title: "Graph Networks"}},
		})
	})
	papers, err := c.ListPapers(context.Background(), " graph nets ")
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "Graph Networks", papers[0].Title)
}

func TestClient_DeletePaper(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api/v1/papers/p1", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"paper_id": "p1", "chunks_deleted": 7})
	})
	n, err := c.DeletePaper(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestClient_QuerySendsJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var req models.QueryRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "what is attention?", req.Query)
		assert.Equal(t, 3, req.NResults)
		_ = json.NewEncoder(w).Encode(models.QueryResult{AnswerText: "It is [1].", ContextsUsed: 1,
			Citations: []models.Citation{{Number: 1, PaperID: "p1", Title: "A", Section: "Intro", Page: 1}}})
	})
	res, err := c.Query(context.Background(), &models.QueryRequest{Query: "what is attention?", NResults: 3})
	require.NoError(t, err)
	assert.Equal(t, "It is [1].", res.AnswerText)
	require.Len(t, res.Citations, 1)
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":{"kind":"CompletionServiceUnavailable","category":"upstream","message":"llm down"},` +
			`"contexts":[{"chunk_id":"p1-00000","text":"t","paper_id":"p1","title":"A","section":"Intro","page":1,"relevance_score":0.9}]}`))
	})
	_, err := c.Query(context.Background(), &models.QueryRequest{Query: "q", Partial: true})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "CompletionServiceUnavailable", apiErr.Kind)
	assert.Equal(t, "llm down", apiErr.Message)
	require.Len(t, apiErr.Contexts, 1)
	assert.Equal(t, "p1-00000", apiErr.Contexts[0].ChunkID)
	assert.Contains(t, apiErr.Error(), "CompletionServiceUnavailable")
}

func TestClient_NonJSONError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := c.Status(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "", apiErr.Kind)
	assert.Equal(t, "boom", apiErr.Message)
	assert.Equal(t, "server returned 500: boom", apiErr.Error())
}

func TestClient_DownloadPaperFile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/papers/p1/file" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"kind":"PaperNotFound","category":"not_found","message":"paper not found: p2"}}`))
			return
		}
		w.Header().Set("Content-Disposition", `inline; filename="p1.pdf"`)
		_, _ = w.Write([]byte("%PDF-1.4"))
	})

	var buf bytes.Buffer
	name, err := c.DownloadPaperFile(context.Background(), "p1", &buf)
	require.NoError(t, err)
	assert.Equal(t, "p1.pdf", name)
	assert.Equal(t, "%PDF-1.4", buf.String())

	buf.Reset()
	_, err = c.DownloadPaperFile(context.Background(), "p2", &buf)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "PaperNotFound", apiErr.Kind)
	assert.Zero(t, buf.Len())
}
