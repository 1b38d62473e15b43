package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T, ttl time.Duration) *SQLite {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestPutGet(t *testing.T) {
	c := openTemp(t, 0)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "ddg", "3:moon")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "ddg", "3:moon", []byte("v1")))
	require.NoError(t, c.Put(ctx, "ddg", "3:moon", []byte("v2")))
	got, ok, err := c.Get(ctx, "ddg", "3:moon")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), got)

	_, ok, err = c.Get(ctx, "searxng", "3:moon")
	require.NoError(t, err)
	assert.False(t, ok, "namespaces are separate")
}

func TestExpiredEntriesAreMisses(t *testing.T) {
	c := openTemp(t, time.Hour)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(ctx, "ns", "k", []byte("v")))
	now = now.Add(2 * time.Hour)

	_, ok, err := c.Get(ctx, "ns", "k")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := c.Purge(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
