package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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

// Provider names the chat API spoken by a Client.
type Provider string

const (
	// ProviderOpenAI is the OpenAI-compatible POST /chat/completions API.
	ProviderOpenAI Provider = "openai"
	// ProviderOllama is the Ollama POST /api/chat API.
	ProviderOllama Provider = "ollama"
)

const systemPrompt = "You are a research assistant. Answer strictly from the numbered sources you are given."

// Config configures a Client.
type Config struct {
	Provider    Provider
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxAttempts int
}

// Client is a chat-completion client with per-attempt timeouts and bounded retry.
type Client struct {
	cfg    Config
	client *http.Client
	policy retry.Policy
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithLogger sets the logger used for retry output.
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) { cl.logger = utils.LoggerOrNop(l) }
}

// WithRetryPolicy overrides the retry policy derived from the config.
func WithRetryPolicy(p retry.Policy) Option {
	return func(cl *Client) { cl.policy = p }
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Provider != ProviderOpenAI && cfg.Provider != ProviderOllama {
		return nil, fmt.Errorf("unsupported llm provider: %q", cfg.Provider)
	}
	if cfg.BaseURL == "" || cfg.Model == "" {
		return nil, fmt.Errorf("llm base_url and model are required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	policy := retry.DefaultPolicy(cfg.Timeout)
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	c := &Client{
		cfg:    cfg,
		client: &http.Client{},
		policy: policy,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaChatResponse struct {
	Message chatMessage `json:"message"`
}

// Complete sends prompt as the user message and returns the assistant's reply.
// Exhausted timeouts surface as CompletionTimeout, everything else as CompletionServiceUnavailable.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	var text string
	err := retry.Do(ctx, c.policy, c.logger, "complete", func(ctx context.Context) error {
		var err error
		text, err = c.request(ctx, prompt)
		return err
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperr.Wrap(apperr.KindCompletionTimeout, "complete", err, "completion service timed out")
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", apperr.Wrap(apperr.KindCompletionServiceUnavailable, "complete", err, "completion service unavailable")
	}
	c.logger.Debug("completion received",
		zap.String("model", c.cfg.Model),
		zap.Int("chars", len(text)),
		zap.Duration("elapsed", time.Since(start)))
	return text, nil
}

func (c *Client) request(ctx context.Context, prompt string) (string, error) {
	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}
	if c.cfg.Provider == ProviderOpenAI {
		raw, err := c.post(ctx, c.cfg.BaseURL+"/chat/completions", openAIChatRequest{
			Model:       c.cfg.Model,
			Messages:    messages,
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		})
		if err != nil {
			return "", err
		}
		var resp openAIChatResponse
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", fmt.Errorf("decode completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.Content, nil
	}

	raw, err := c.post(ctx, c.cfg.BaseURL+"/api/chat", ollamaChatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
		Options:  ollamaOptions{Temperature: c.cfg.Temperature, NumPredict: c.cfg.MaxTokens},
	})
	if err != nil {
		return "", err
	}
	var resp ollamaChatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	return resp.Message.Content, nil
}

func (c *Client) post(ctx context.Context, url string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.Wrap(apperr.KindCompletionServiceUnavailable, "complete", err, "")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		se := &retry.StatusError{Code: resp.StatusCode, Body: utils.Truncate(strings.TrimSpace(string(raw)), 200)}
		if v := resp.Header.Get("Retry-After"); v != "" && se.Temporary() {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return nil, &retry.AfterError{After: time.Duration(secs) * time.Second, Err: se}
			}
		}
		return nil, se
	}
	return raw, nil
}

// Ping checks the service answers its model listing endpoint.
func (c *Client) Ping(ctx context.Context) error {
	url := c.cfg.BaseURL + "/api/tags"
	if c.cfg.Provider == ProviderOpenAI {
		url = c.cfg.BaseURL + "/models"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return &retry.StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}
