// Package retriever normalizes search backends into knowledge.Evidence and
// applies retries, exclusion and domain-reliability filtering.
package retriever

import (
	"context"
	"net/url"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"auto_article_curator/knowledge"
	"auto_article_curator/retry"
)

// Retriever is the search capability consumed by the research stage.
type Retriever interface {
	// Search runs every query and returns deduplicated evidence. Partial or
	// empty results are not an error.
	Search(ctx context.Context, queries []string, excludeURLs []string) ([]knowledge.Evidence, error)
}

// Backend is one concrete search provider.
type Backend interface {
	Name() string
	Query(ctx context.Context, query string, k int) ([]knowledge.Evidence, error)
}

// Adapter turns a Backend into a Retriever.
type Adapter struct {
	backend Backend
	k       int
	policy  retry.Policy
	filter  *DomainFilter
	logger  *zap.Logger

	queries atomic.Int64
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithTopK sets how many results are requested per query.
func WithTopK(k int) Option {
	return func(a *Adapter) {
		if k > 0 {
			a.k = k
		}
	}
}

// WithPolicy sets the retry policy applied to each backend query.
func WithPolicy(p retry.Policy) Option {
	return func(a *Adapter) { a.policy = p }
}

// WithFilter sets the domain filter; nil disables filtering.
func WithFilter(f *DomainFilter) Option {
	return func(a *Adapter) { a.filter = f }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

func New(b Backend, opts ...Option) *Adapter {
	a := &Adapter{
		backend: b,
		k:       3,
		policy:  retry.DefaultPolicy(),
		filter:  NewDomainFilter(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Search queries the backend once per distinct query. A query that still
// fails after retries is logged and contributes no evidence.
func (a *Adapter) Search(ctx context.Context, queries []string, excludeURLs []string) ([]knowledge.Evidence, error) {
	excluded := make(map[string]bool, len(excludeURLs))
	for _, u := range excludeURLs {
		excluded[normalizeURL(u)] = true
	}

	var collected []knowledge.Evidence
	seen := make(map[string]bool)
	for _, q := range queries {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		a.queries.Add(1)

		var results []knowledge.Evidence
		err := a.policy.Do(ctx, func(ctx context.Context) error {
			var err error
			results, err = a.backend.Query(ctx, q, a.k)
			return err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("search query failed",
				zap.String("backend", a.backend.Name()),
				zap.String("query", q),
				zap.Error(err))
			continue
		}
		for _, r := range results {
			if r.URL == "" || excluded[normalizeURL(r.URL)] {
				continue
			}
			if a.filter != nil && !a.filter.Allowed(r.URL) {
				a.logger.Debug("dropping unreliable source", zap.String("url", r.URL))
				continue
			}
			collected = append(collected, r)
		}
	}
	return knowledge.DedupeByURL(collected), nil
}

// DrainQueryCount returns the number of backend queries issued since the
// previous call and resets the counter.
func (a *Adapter) DrainQueryCount() int64 {
	return a.queries.Swap(0)
}

func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}
