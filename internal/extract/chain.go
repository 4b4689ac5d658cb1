package extract

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/pkg/utils"
	"go.uber.org/zap"
)

// Chain tries extractors in order and returns the first document that has sections.
type Chain struct {
	extractors []StructureExtractor
	logger     *zap.Logger
}

// NewChain returns a Chain over extractors.
func NewChain(logger *zap.Logger, extractors ...StructureExtractor) *Chain {
	return &Chain{extractors: extractors, logger: utils.LoggerOrNop(logger)}
}

// Extract runs each extractor until one yields sections. Cancellation stops the chain.
func (c *Chain) Extract(ctx context.Context, content []byte) (*models.Document, error) {
	var errs []error
	for i, ex := range c.extractors {
		doc, err := ex.Extract(ctx, content)
		if err == nil && len(doc.Sections) > 0 {
			if i > 0 {
				c.logger.Info("used fallback structure extractor", zap.Int("position", i))
			}
			return doc, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err == nil {
			err = fmt.Errorf("extractor %d found no sections", i)
		}
		c.logger.Warn("structure extractor failed", zap.Int("position", i), zap.Error(err))
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, apperr.New(apperr.KindStructureExtractionFailed, "extract", "no structure extractor configured")
	}
	return nil, apperr.Wrap(apperr.KindStructureExtractionFailed, "extract", errors.Join(errs...), "could not extract document structure")
}

// Ping reports the health of the first extractor that can be pinged.
func (c *Chain) Ping(ctx context.Context) error {
	for _, ex := range c.extractors {
		if p, ok := ex.(Pinger); ok {
			return p.Ping(ctx)
		}
	}
	return nil
}
