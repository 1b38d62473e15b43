package retriever

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"auto_article_curator/knowledge"
)

// KV is the storage a Cached backend persists results in.
type KV interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
}

// Cached memoizes backend results by query and k. Cache errors are logged
// and bypassed; they never fail a query.
type Cached struct {
	Backend Backend
	Store   KV
	Logger  *zap.Logger
}

func (c *Cached) Name() string { return c.Backend.Name() }

func (c *Cached) Query(ctx context.Context, query string, k int) ([]knowledge.Evidence, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ns := c.Backend.Name()
	key := fmt.Sprintf("%d:%s", k, query)

	data, ok, err := c.Store.Get(ctx, ns, key)
	if err != nil {
		logger.Warn("search cache read failed", zap.String("query", query), zap.Error(err))
	} else if ok {
		var cached []knowledge.Evidence
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached, nil
		}
		logger.Warn("search cache entry corrupt", zap.String("query", query))
	}

	results, err := c.Backend.Query(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(results); err == nil {
		if err := c.Store.Put(ctx, ns, key, data); err != nil {
			logger.Warn("search cache write failed", zap.String("query", query), zap.Error(err))
		}
	}
	return results, nil
}
