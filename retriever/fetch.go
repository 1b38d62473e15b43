package retriever

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	"auto_article_curator/knowledge"
	"auto_article_curator/textutil"
)

const (
	defaultChunkWords = 200
	defaultMaxChunks  = 10
)

// PageFetcher extracts the readable text of a page and splits it into
// snippet-sized chunks.
type PageFetcher struct {
	HTTPClient *http.Client
	ChunkWords int
	MaxChunks  int
}

func NewPageFetcher(timeout time.Duration) *PageFetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PageFetcher{
		HTTPClient: &http.Client{Timeout: timeout},
		ChunkWords: defaultChunkWords,
		MaxChunks:  defaultMaxChunks,
	}
}

// Fetch returns the page's main text as chunks of roughly ChunkWords words.
func (f *PageFetcher) Fetch(ctx context.Context, rawURL string) ([]string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %s", rawURL)
	}
	body, err := httpGet(ctx, f.HTTPClient, rawURL, "text/html")
	if err != nil {
		return nil, err
	}
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return nil, fmt.Errorf("parse content: %w", err)
	}
	return chunkWords(strings.TrimSpace(article.TextContent), f.ChunkWords, f.MaxChunks), nil
}

func chunkWords(text string, size, limit int) []string {
	if size <= 0 {
		size = defaultChunkWords
	}
	words := strings.Fields(text)
	var out []string
	for start := 0; start < len(words); start += size {
		if limit > 0 && len(out) >= limit {
			break
		}
		end := min(start+size, len(words))
		out = append(out, strings.Join(words[start:end], " "))
	}
	return out
}

// Expanded decorates a Backend so every result's snippets are extended with
// the readable text of its page. Fetch failures keep the backend snippets.
type Expanded struct {
	Backend Backend
	Fetcher *PageFetcher
	Logger  *zap.Logger
}

func (e *Expanded) Name() string { return e.Backend.Name() + "+pages" }

func (e *Expanded) Query(ctx context.Context, query string, k int) ([]knowledge.Evidence, error) {
	results, err := e.Backend.Query(ctx, query, k)
	if err != nil {
		return nil, err
	}
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	for i := range results {
		chunks, err := e.Fetcher.Fetch(ctx, results[i].URL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Debug("page fetch failed", zap.String("url", results[i].URL), zap.Error(err))
			continue
		}
		if results[i].Description == "" && len(chunks) > 0 {
			results[i].Description = textutil.LimitWords(chunks[0], 40)
		}
		results[i].AddSnippets(chunks...)
	}
	return results, nil
}
