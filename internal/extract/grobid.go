package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/internal/retry"
	"github.com/hyperjump/scholar/pkg/utils"
	"go.uber.org/zap"
)

// GrobidClient extracts paper structure with a GROBID service.
type GrobidClient struct {
	baseURL string
	client  *http.Client
	policy  retry.Policy
	logger  *zap.Logger
}

// GrobidOption configures a GrobidClient.
type GrobidOption func(*GrobidClient)

// WithGrobidHTTPClient replaces the default http.Client.
func WithGrobidHTTPClient(c *http.Client) GrobidOption {
	return func(g *GrobidClient) { g.client = c }
}

// WithGrobidRetryPolicy overrides the default retry policy.
func WithGrobidRetryPolicy(p retry.Policy) GrobidOption {
	return func(g *GrobidClient) { g.policy = p }
}

// WithGrobidLogger sets the logger.
func WithGrobidLogger(l *zap.Logger) GrobidOption {
	return func(g *GrobidClient) { g.logger = utils.LoggerOrNop(l) }
}

// NewGrobidClient returns a client for the GROBID service at baseURL.
// A zero timeout leaves full-text processing bounded only by the caller's context.
func NewGrobidClient(baseURL string, timeout time.Duration, opts ...GrobidOption) *GrobidClient {
	g := &GrobidClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		policy:  retry.DefaultPolicy(timeout),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Extract sends the PDF to processFulltextDocument and parses the TEI response.
// GROBID answers 503 while its worker pool is busy; that is retried.
func (g *GrobidClient) Extract(ctx context.Context, content []byte) (*models.Document, error) {
	if len(content) == 0 {
		return nil, apperr.New(apperr.KindEmptyDocument, "grobid", "document is empty")
	}
	start := time.Now()
	var doc *models.Document
	err := retry.Do(ctx, g.policy, g.logger, "grobid", func(ctx context.Context) error {
		tei, err := g.process(ctx, content)
		if err != nil {
			return err
		}
		doc, err = ParseTEI(bytes.NewReader(tei))
		return err
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStructureExtractionFailed, "grobid", err, "GROBID could not process the document")
	}
	g.logger.Debug("grobid extracted document",
		zap.String("title", doc.Title),
		zap.Int("sections", len(doc.Sections)),
		zap.Duration("elapsed", time.Since(start)))
	return doc, nil
}

func (g *GrobidClient) process(ctx context.Context, content []byte) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("input", "paper.pdf")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	for _, el := range []string{"head", "p", "s"} {
		if err := mw.WriteField("teiCoordinates", el); err != nil {
			return nil, err
		}
	}
	if err := mw.WriteField("segmentSentences", "1"); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/processFulltextDocument", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/xml")
	resp, err := g.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("grobid request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil, fmt.Errorf("grobid extracted no content")
	}
	if resp.StatusCode/100 != 2 {
		return nil, &retry.StatusError{Code: resp.StatusCode, Body: utils.Truncate(strings.TrimSpace(string(raw)), 200)}
	}
	return raw, nil
}

// Ping checks GET /api/isalive.
func (g *GrobidClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/isalive", nil)
	if err != nil {
		return err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return &retry.StatusError{Code: resp.StatusCode}
	}
	return nil
}
