package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hyperjump/scholar/internal/models"
)

// DefaultServerURL is where the CLI expects the server when --server is not given.
const DefaultServerURL = "http://localhost:8080"

// APIError is an error response from the server.
type APIError struct {
	StatusCode int
	Kind       string
	Category   string
	Message    string
	// Contexts holds the retrieved contexts of a partial query failure.
	Contexts []*models.RetrievedContext
}

func (e *APIError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Category, e.Message)
}

type errorBody struct {
	Error struct {
		Kind     string `json:"kind"`
		Category string `json:"category"`
		Message  string `json:"message"`
	} `json:"error"`
	Contexts []*models.RetrievedContext `json:"contexts,omitempty"`
}

// Client talks to the scholar HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultServerURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Ingest uploads the file at path.
func (c *Client) Ingest(ctx context.Context, path string) (*models.IngestResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	var out models.IngestResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/papers", mw.FormDataContentType(), &body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListPapers lists papers; a non-empty q runs a catalogue search instead.
func (c *Client) ListPapers(ctx context.Context, q string) ([]*models.Paper, error) {
	path := "/api/v1/papers"
	if q = strings.TrimSpace(q); q != "" {
		path += "?q=" + url.QueryEscape(q)
	}
	var out struct {
		Papers []*models.Paper `json:"papers"`
	}
	if err := c.do(ctx, http.MethodGet, path, "", nil, &out); err != nil {
		return nil, err
	}
	return out.Papers, nil
}

// GetPaper fetches one paper.
func (c *Client) GetPaper(ctx context.Context, id string) (*models.Paper, error) {
	var out models.Paper
	if err := c.do(ctx, http.MethodGet, "/api/v1/papers/"+url.PathEscape(id), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePaper deletes a paper and returns how many chunks were removed.
func (c *Client) DeletePaper(ctx context.Context, id string) (int, error) {
	var out struct {
		ChunksDeleted int `json:"chunks_deleted"`
	}
	if err := c.do(ctx, http.MethodDelete, "/api/v1/papers/"+url.PathEscape(id), "", nil, &out); err != nil {
		return 0, err
	}
	return out.ChunksDeleted, nil
}

// Query asks a question.
func (c *Client) Query(ctx context.Context, req *models.QueryRequest) (*models.QueryResult, error) {
	var out models.QueryResult
	if err := c.postJSON(ctx, "/api/v1/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Compare compares papers.
func (c *Client) Compare(ctx context.Context, req *models.CompareRequest) (*models.ComparisonResult, error) {
	var out models.ComparisonResult
	if err := c.postJSON(ctx, "/api/v1/compare", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches server status.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	var out models.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/status", "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DownloadPaperFile writes the original file of a paper to w and returns the file
// name the server suggests.
func (c *Client) DownloadPaperFile(ctx context.Context, id string, w io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/papers/"+url.PathEscape(id)+"/file", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return "", newAPIError(resp.StatusCode, data)
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	name := id
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil && params["filename"] != "" {
		name = params["filename"]
	}
	return name, nil
}

func newAPIError(status int, data []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: strings.TrimSpace(string(data))}
	var eb errorBody
	if json.Unmarshal(data, &eb) == nil && eb.Error.Kind != "" {
		apiErr.Kind = eb.Error.Kind
		apiErr.Category = eb.Error.Category
		apiErr.Message = eb.Error.Message
		apiErr.Contexts = eb.Contexts
	}
	return apiErr
}

func (c *Client) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, "application/json", bytes.NewReader(body), out)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
