package retriever

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_article_curator/knowledge"
	"auto_article_curator/retry"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   map[string]int
	results map[string][]knowledge.Evidence
	fail    map[string]error
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Query(_ context.Context, q string, k int) ([]knowledge.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[q]++
	if err := f.fail[q]; err != nil {
		return nil, err
	}
	res := f.results[q]
	if len(res) > k {
		res = res[:k]
	}
	return res, nil
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2}
}

func TestAdapterDedupesAndExcludes(t *testing.T) {
	b := &fakeBackend{results: map[string][]knowledge.Evidence{
		"moon": {
			{URL: "https://en.wikipedia.org/wiki/Moon", Snippets: []string{"a"}},
			{URL: "https://nasa.gov/moon", Snippets: []string{"b"}},
		},
		"lunar": {
			{URL: "https://nasa.gov/moon", Snippets: []string{"c"}},
			{URL: "https://www.dailymail.co.uk/moon", Snippets: []string{"d"}},
		},
	}}
	a := New(b, WithPolicy(fastPolicy()))

	got, err := a.Search(context.Background(), []string{"moon", "lunar", "moon", " "}, []string{"https://en.wikipedia.org/wiki/Moon/"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "https://nasa.gov/moon", got[0].URL)
	assert.Equal(t, []string{"b", "c"}, got[0].Snippets)
	assert.Equal(t, 1, b.calls["moon"], "duplicate queries are issued once")
	assert.Equal(t, int64(2), a.DrainQueryCount())
	assert.Equal(t, int64(0), a.DrainQueryCount())
}

func TestAdapterDegradesOnFailure(t *testing.T) {
	b := &fakeBackend{
		results: map[string][]knowledge.Evidence{"ok": {{URL: "https://x.org", Snippets: []string{"x"}}}},
		fail: map[string]error{
			"flaky": retry.Transient(errors.New("429")),
			"auth":  errors.New("401 unauthorized"),
		},
	}
	a := New(b, WithPolicy(fastPolicy()))

	got, err := a.Search(context.Background(), []string{"flaky", "auth", "ok"}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 3, b.calls["flaky"], "transient errors are retried")
	assert.Equal(t, 1, b.calls["auth"], "permanent errors are not retried")
}

func TestAdapterReturnsCancellation(t *testing.T) {
	b := &fakeBackend{fail: map[string]error{"q": retry.Transient(errors.New("timeout"))}}
	a := New(b, WithPolicy(fastPolicy()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Search(ctx, []string{"q"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDomainFilter(t *testing.T) {
	f := NewDomainFilter("example.net")
	assert.True(t, f.Allowed("https://en.wikipedia.org/wiki/Go"))
	assert.False(t, f.Allowed("https://www.breitbart.com/x"))
	assert.False(t, f.Allowed("https://news.example.net/a"))
	assert.False(t, f.Allowed("not a url"))
}

func TestDuckDuckGoParsesResults(t *testing.T) {
	page := `<html><body>
<div class="result results_links results_links_deep web-result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fexample.org%2Fmoon&amp;rut=abc">The <b>Moon</b></a>
  <a class="result__snippet" href="#">Earth's only natural satellite.</a>
</div>
<div class="result results_links web-result">
  <a class="result__a" href="https://example.com/tides">Tides</a>
</div>
</body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "moon", r.URL.Query().Get("q"))
		fmt.Fprint(w, page)
	}))
	defer srv.Close()

	d := NewDuckDuckGo(time.Second)
	d.BaseURL = srv.URL + "/html/"
	got, err := d.Query(context.Background(), "moon", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "https://example.org/moon", got[0].URL)
	assert.Equal(t, "The Moon", got[0].Title)
	assert.Equal(t, []string{"Earth's only natural satellite."}, got[0].Snippets)
	assert.Empty(t, got[1].Snippets)
}

func TestSearXNGQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		fmt.Fprint(w, `{"results":[{"url":"https://a","title":"A","content":"alpha"},{"url":"https://b","title":"B","content":""},{"url":"https://c"}]}`)
	}))
	defer srv.Close()

	got, err := NewSearXNG(srv.URL+"/", time.Second).Query(context.Background(), "q", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"alpha"}, got[0].Snippets)
	assert.Nil(t, got[1].Snippets)
}

func TestHTTPStatusClassification(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusTooManyRequests)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	_, err := NewSearXNG(srv.URL, time.Second).Query(context.Background(), "q", 1)
	assert.True(t, retry.IsTransient(err))

	status.Store(http.StatusForbidden)
	_, err = NewSearXNG(srv.URL, time.Second).Query(context.Background(), "q", 1)
	require.Error(t, err)
	assert.False(t, retry.IsTransient(err))
}

func TestPageOutliner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Moon - Wiki</title></head><body>
<h1>Moon</h1><h2>Contents</h2>
<h2>Formation<span>[edit]</span></h2><h3>Giant impact</h3>
<h2>References</h2></body></html>`)
	}))
	defer srv.Close()

	title, toc, err := NewPageOutliner(time.Second).LookupOutline(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Moon", title)
	assert.Equal(t, "Formation\n  Giant impact", toc)
}

func TestExpandedAddsPageChunks(t *testing.T) {
	body := strings.Repeat("lunar regolith covers the surface of the moon. ", 60)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><title>Moon</title></head><body><article><p>%s</p></article></body></html>`, body)
	}))
	defer srv.Close()

	b := &fakeBackend{results: map[string][]knowledge.Evidence{
		"moon": {{URL: srv.URL + "/moon", Title: "Moon", Snippets: []string{"orig"}}},
	}}
	f := NewPageFetcher(time.Second)
	f.ChunkWords = 100
	e := &Expanded{Backend: b, Fetcher: f}

	got, err := e.Query(context.Background(), "moon", 3)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "orig", got[0].Snippets[0])
	assert.Greater(t, len(got[0].Snippets), 1)
}

func TestChunkWords(t *testing.T) {
	text := strings.TrimSpace(strings.Repeat("w ", 25))
	assert.Len(t, chunkWords(text, 10, 0), 3)
	assert.Len(t, chunkWords(text, 10, 2), 2)
	assert.Empty(t, chunkWords("", 10, 0))
}

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memKV) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[ns+"/"+key]
	return v, ok, nil
}

func (m *memKV) Put(_ context.Context, ns, key string, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[ns+"/"+key] = v
	return nil
}

func TestCachedServesRepeatQueries(t *testing.T) {
	b := &fakeBackend{results: map[string][]knowledge.Evidence{
		"q": {{URL: "https://a", Title: "A", Snippets: []string{"s"}}},
	}}
	c := &Cached{Backend: b, Store: &memKV{}}

	first, err := c.Query(context.Background(), "q", 3)
	require.NoError(t, err)
	second, err := c.Query(context.Background(), "q", 3)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, b.calls["q"])

	_, err = c.Query(context.Background(), "q", 5)
	require.NoError(t, err)
	assert.Equal(t, 2, b.calls["q"], "k is part of the key")
}
