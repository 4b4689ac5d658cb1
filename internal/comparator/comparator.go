// Package comparator writes structured, cited comparisons of two or more papers.
package comparator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/scholar/internal/apperr"
	"github.com/hyperjump/scholar/internal/citation"
	"github.com/hyperjump/scholar/internal/composer"
	"github.com/hyperjump/scholar/internal/llm"
	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/pkg/utils"
	"go.uber.org/zap"
)

// PaperStore resolves paper ids to papers. Missing ids are simply absent from the result.
type PaperStore interface {
	GetPapers(ctx context.Context, ids []string) (map[string]*models.Paper, error)
}

// Retriever fetches contexts for a query restricted to papers.
type Retriever interface {
	Retrieve(ctx context.Context, query string, paperIDs []string, n int) ([]*models.RetrievedContext, error)
}

// DefaultContextsPerAspect is used when WithContextsPerAspect is not given.
const DefaultContextsPerAspect = 3

// Comparator compares papers aspect by aspect.
type Comparator struct {
	store          PaperStore
	retriever      Retriever
	completer      llm.Completer
	perAspect      int
	defaultAspects []string
	strictIDs      bool
	logger         *zap.Logger
}

// Option configures a Comparator.
type Option func(*Comparator)

// WithContextsPerAspect sets how many contexts are retrieved per paper and aspect.
func WithContextsPerAspect(n int) Option {
	return func(c *Comparator) {
		if n > 0 {
			c.perAspect = n
		}
	}
}

// WithDefaultAspects sets the aspects used when a request passes nil aspects.
func WithDefaultAspects(aspects []string) Option {
	return func(c *Comparator) { c.defaultAspects = aspects }
}

// WithStrictIDs makes any unknown paper id fail the comparison instead of being skipped.
func WithStrictIDs(strict bool) Option {
	return func(c *Comparator) { c.strictIDs = strict }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Comparator) { c.logger = utils.LoggerOrNop(l) }
}

// New returns a Comparator.
func New(store PaperStore, retriever Retriever, completer llm.Completer, opts ...Option) *Comparator {
	c := &Comparator{
		store:     store,
		retriever: retriever,
		completer: completer,
		perAspect: DefaultContextsPerAspect,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compare validates the request, retrieves per-paper per-aspect evidence and asks the
// completion service for a single comparison. Validation never calls a collaborator.
func (c *Comparator) Compare(ctx context.Context, paperIDs []string, aspects []string) (*models.ComparisonResult, error) {
	const op = "compare"

	ids := normalizeIDs(paperIDs)
	found, err := c.store.GetPapers(ctx, ids)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, op, err, "failed to load papers")
	}
	var papers []*models.Paper
	var unknown []string
	for _, id := range ids {
		p, ok := found[id]
		if !ok {
			if c.strictIDs {
				return nil, apperr.New(apperr.KindUnknownPaperID, op, fmt.Sprintf("unknown paper id: %s", id))
			}
			unknown = append(unknown, id)
			continue
		}
		papers = append(papers, p)
	}
	if len(papers) < 2 {
		return nil, apperr.New(apperr.KindInsufficientPapers, op,
			fmt.Sprintf("at least 2 known papers are required, got %d", len(papers)))
	}

	if aspects == nil {
		aspects = c.defaultAspects
	}
	aspects = normalizeAspects(aspects)
	if len(aspects) == 0 {
		return nil, apperr.New(apperr.KindNoAspects, op, "at least one comparison aspect is required")
	}

	start := time.Now()
	result := &models.ComparisonResult{
		Aspects:         aspects,
		Citations:       []models.Citation{},
		UnknownPaperIDs: unknown,
	}
	for _, p := range papers {
		result.Papers = append(result.Papers, p.Summary())
	}

	groups, all, err := c.gather(ctx, papers, aspects)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		result.ComparisonText = composer.InsufficientEvidenceAnswer
		return result, nil
	}

	cites, numbering := citation.Number(all)
	raw, err := c.completer.Complete(ctx, buildPrompt(papers, aspects, groups, numbering))
	if err != nil {
		return nil, composer.CompletionError(op, err)
	}
	answer, err := composer.ParseAnswer(raw, all, cites, numbering)
	if err != nil {
		return nil, err
	}
	result.ComparisonText = answer.Text
	result.Citations = answer.Citations

	c.logger.Info("compared papers",
		zap.Int("papers", len(papers)),
		zap.Int("aspects", len(aspects)),
		zap.Int("contexts", len(all)),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

// group holds the contexts retrieved for one paper and one aspect.
type group struct {
	paper    *models.Paper
	aspect   string
	contexts []*models.RetrievedContext
}

func (c *Comparator) gather(ctx context.Context, papers []*models.Paper, aspects []string) ([]group, []*models.RetrievedContext, error) {
	var groups []group
	var all []*models.RetrievedContext
	for _, p := range papers {
		for _, aspect := range aspects {
			contexts, err := c.retriever.Retrieve(ctx, aspect, []string{p.ID}, c.perAspect)
			if err != nil {
				return nil, nil, err
			}
			groups = append(groups, group{paper: p, aspect: aspect, contexts: contexts})
			all = append(all, contexts...)
		}
	}
	return groups, all, nil
}

func buildPrompt(papers []*models.Paper, aspects []string, groups []group, numbering citation.Numbering) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compare the following %d papers on these aspects: %s.\n", len(papers), strings.Join(aspects, ", "))
	b.WriteString("For each aspect, explain where the papers agree and where they differ.\n")
	b.WriteString("Only use the numbered sources. Cite every claim as [n] or [n, m].\n")

	var current *models.Paper
	for _, g := range groups {
		if g.paper != current {
			current = g.paper
			fmt.Fprintf(&b, "\n## Paper: %s", g.paper.Title)
			if g.paper.Year > 0 {
				fmt.Fprintf(&b, " (%d)", g.paper.Year)
			}
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "\n### Aspect: %s\n", g.aspect)
		if len(g.contexts) == 0 {
			b.WriteString("No relevant passages found.\n")
			continue
		}
		for _, ctx := range g.contexts {
			composer.WriteSource(&b, numbering.Of(ctx), ctx)
		}
	}
	b.WriteString("\nComparison:")
	return b.String()
}

func normalizeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func normalizeAspects(aspects []string) []string {
	seen := make(map[string]struct{}, len(aspects))
	out := make([]string, 0, len(aspects))
	for _, a := range aspects {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		key := strings.ToLower(a)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}
