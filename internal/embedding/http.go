package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/retry"
	"github.com/hyperjump/scholar/pkg/utils"
	"go.uber.org/zap"
)

// Provider names the wire protocol spoken by an HTTPEmbedder.
type Provider string

const (
	// ProviderOpenAI is the OpenAI-compatible POST /embeddings API.
	ProviderOpenAI Provider = "openai"
	// ProviderOllama is the Ollama POST /api/embed API.
	ProviderOllama Provider = "ollama"
)

// HTTPConfig configures an HTTPEmbedder.
type HTTPConfig struct {
	Provider    Provider
	BaseURL     string
	Model       string
	APIKey      string
	Dimensions  int
	BatchSize   int
	CacheSize   int
	Timeout     time.Duration
	MaxAttempts int
}

// HTTPEmbedder calls a remote embedding service, with per-attempt timeouts,
// bounded retry and an LRU cache in front.
type HTTPEmbedder struct {
	cfg    HTTPConfig
	client *http.Client
	policy retry.Policy
	cache  *EmbeddingCache
	logger *zap.Logger
}

// HTTPOption configures an HTTPEmbedder.
type HTTPOption func(*HTTPEmbedder)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(e *HTTPEmbedder) { e.client = c }
}

// WithLogger sets a logger for retry and batch debug output.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(e *HTTPEmbedder) { e.logger = utils.LoggerOrNop(l) }
}

// WithRetryPolicy overrides the retry policy derived from the config.
func WithRetryPolicy(p retry.Policy) HTTPOption {
	return func(e *HTTPEmbedder) { e.policy = p }
}

// NewHTTPEmbedder returns an embedder for the configured provider.
func NewHTTPEmbedder(cfg HTTPConfig, opts ...HTTPOption) (*HTTPEmbedder, error) {
	if cfg.Provider != ProviderOpenAI && cfg.Provider != ProviderOllama {
		return nil, fmt.Errorf("unsupported embedding provider: %q", cfg.Provider)
	}
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("embedding base_url and model are required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions must be positive")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	policy := retry.DefaultPolicy(cfg.Timeout)
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	e := &HTTPEmbedder{
		cfg:    cfg,
		client: &http.Client{},
		policy: policy,
		cache:  NewEmbeddingCache(cfg.CacheSize),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed returns the embedding of a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts, serving repeats from the cache and sending the rest in batches.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []int
	for i, text := range texts {
		if v, ok := e.cache.Get(text); ok {
			out[i] = v
			continue
		}
		missing = append(missing, i)
	}
	for start := 0; start < len(missing); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		idx := missing[start:end]
		batch := make([]string, len(idx))
		for j, i := range idx {
			batch[j] = texts[i]
		}
		var vectors [][]float32
		err := retry.Do(ctx, e.policy, e.logger, "embed", func(ctx context.Context) error {
			var err error
			vectors, err = e.request(ctx, batch)
			return err
		})
		if err != nil {
			return nil, apperr.Wrap(apperr.KindVectorizerUnavailable, "embed", err, "embedding service unavailable")
		}
		for j, i := range idx {
			out[i] = vectors[j]
			e.cache.Set(texts[i], vectors[j])
		}
		e.logger.Debug("embedded batch", zap.Int("texts", len(batch)), zap.String("model", e.cfg.Model))
	}
	return out, nil
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *HTTPEmbedder) request(ctx context.Context, batch []string) ([][]float32, error) {
	var (
		url  string
		body any
	)
	switch e.cfg.Provider {
	case ProviderOpenAI:
		url = e.cfg.BaseURL + "/embeddings"
		body = openAIEmbedRequest{Model: e.cfg.Model, Input: batch}
	default:
		url = e.cfg.BaseURL + "/api/embed"
		body = ollamaEmbedRequest{Model: e.cfg.Model, Input: batch}
	}
	raw, err := e.post(ctx, url, body)
	if err != nil {
		return nil, err
	}

	var vectors [][]float32
	switch e.cfg.Provider {
	case ProviderOpenAI:
		var resp openAIEmbedResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode embeddings: %w", err)
		}
		vectors = make([][]float32, len(batch))
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= len(batch) {
				return nil, fmt.Errorf("embedding index %d out of range", d.Index)
			}
			vectors[d.Index] = d.Embedding
		}
	default:
		var resp ollamaEmbedResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("decode embeddings: %w", err)
		}
		vectors = resp.Embeddings
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(batch), len(vectors))
	}
	for i, v := range vectors {
		if len(v) != e.cfg.Dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), e.cfg.Dimensions)
		}
		utils.NormalizeL2(v)
	}
	return vectors, nil
}

func (e *HTTPEmbedder) post(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindVectorizerUnavailable, "embed", err, "")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		return nil, statusError(resp, raw)
	}
	return raw, nil
}

// statusError turns a non-2xx response into a retry-aware error, honouring Retry-After.
func statusError(resp *http.Response, body []byte) error {
	se := &retry.StatusError{Code: resp.StatusCode, Body: utils.Truncate(strings.TrimSpace(string(body)), 200)}
	if v := resp.Header.Get("Retry-After"); v != "" && se.Temporary() {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return &retry.AfterError{After: time.Duration(secs) * time.Second, Err: se}
		}
	}
	return se
}

// Ping checks the service answers its model listing endpoint.
func (e *HTTPEmbedder) Ping(ctx context.Context) error {
	url := e.cfg.BaseURL + "/api/tags"
	if e.cfg.Provider == ProviderOpenAI {
		url = e.cfg.BaseURL + "/models"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return &retry.StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Dimensions returns the embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
