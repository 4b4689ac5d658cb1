// Package composer writes citation-grounded answers from retrieved contexts.
package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/citation"
	"github.com/hyperjump/scholar/internal/llm"
	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/pkg/utils"
	"go.uber.org/zap"
)

// InsufficientEvidenceAnswer is returned without calling the completion service when nothing was retrieved.
const InsufficientEvidenceAnswer = "I could not find enough evidence in the indexed papers to answer this question."

const instructions = `Answer the question using only the numbered sources below.
Only state claims the sources support. After each claim, cite its source as [n] or [n, m].
If the sources do not answer the question, say so.`

// Composer turns a query and its contexts into an Answer.
type Composer struct {
	completer llm.Completer
	logger    *zap.Logger
}

// Option configures a Composer.
type Option func(*Composer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Composer) { c.logger = utils.LoggerOrNop(l) }
}

// New returns a Composer backed by completer.
func New(completer llm.Completer, opts ...Option) *Composer {
	c := &Composer{completer: completer, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose answers query from contexts. With no contexts it returns InsufficientEvidenceAnswer
// and never calls the completion service.
func (c *Composer) Compose(ctx context.Context, query string, contexts []*models.RetrievedContext) (*models.Answer, error) {
	if len(contexts) == 0 {
		return &models.Answer{Text: InsufficientEvidenceAnswer, Citations: []models.Citation{}}, nil
	}
	cites, numbering := citation.Number(contexts)
	prompt := BuildPrompt(query, contexts, numbering)

	start := time.Now()
	raw, err := c.completer.Complete(ctx, prompt)
	if err != nil {
		return nil, CompletionError("compose", err)
	}
	answer, err := ParseAnswer(raw, contexts, cites, numbering)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("composed answer",
		zap.Int("contexts", len(contexts)),
		zap.Int("citations", len(answer.Citations)),
		zap.Duration("elapsed", time.Since(start)))
	return answer, nil
}

// BuildPrompt renders the instruction, one labelled block per context, and the question.
func BuildPrompt(query string, contexts []*models.RetrievedContext, numbering citation.Numbering) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\nSources:\n")
	for _, ctx := range contexts {
		WriteSource(&b, numbering.Of(ctx), ctx)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\nAnswer:")
	return b.String()
}

// WriteSource writes a single "[n] Source: ..." block followed by the context text.
func WriteSource(b *strings.Builder, n int, c *models.RetrievedContext) {
	fmt.Fprintf(b, "[%d] Source: %s, Section: %s, Page: %d\n%s\n\n", n, c.Title, c.Section, c.Page, strings.TrimSpace(c.Text))
}

// CompletionError maps a completer failure onto a composition error kind.
func CompletionError(op string, err error) error {
	switch apperr.KindOf(err) {
	case apperr.KindCompletionTimeout, apperr.KindCompletionServiceUnavailable:
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindCompletionTimeout, op, err, "completion service timed out")
	}
	return apperr.Wrap(apperr.KindCompletionServiceUnavailable, op, err, "completion service unavailable")
}
