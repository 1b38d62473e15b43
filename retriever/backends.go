package retriever

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"auto_article_curator/knowledge"
	"auto_article_curator/retry"
)

const userAgent = "Mozilla/5.0 (compatible; auto-article-curator/1.0)"

// DuckDuckGo searches the DuckDuckGo HTML interface (no API key required).
type DuckDuckGo struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewDuckDuckGo(timeout time.Duration) *DuckDuckGo {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &DuckDuckGo{
		BaseURL:    "https://html.duckduckgo.com/html/",
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Query(ctx context.Context, query string, k int) ([]knowledge.Evidence, error) {
	searchURL := d.BaseURL + "?q=" + url.QueryEscape(query)
	body, err := httpGet(ctx, d.HTTPClient, searchURL, "text/html")
	if err != nil {
		return nil, err
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var results []knowledge.Evidence
	var findResults func(*html.Node)
	findResults = func(n *html.Node) {
		if len(results) >= k {
			return
		}
		if n.Type == html.ElementNode && n.Data == "div" {
			class := attr(n, "class")
			if strings.Contains(class, "result") && strings.Contains(class, "results_links") {
				if r := extractDDGResult(n); r.URL != "" && r.Title != "" {
					results = append(results, r)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			findResults(c)
		}
	}
	findResults(doc)
	return results, nil
}

func extractDDGResult(n *html.Node) knowledge.Evidence {
	var r knowledge.Evidence
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			class := attr(n, "class")
			switch {
			case strings.Contains(class, "result__a"):
				r.URL = attr(n, "href")
				r.Title = textContent(n)
			case strings.Contains(class, "result__snippet"):
				r.Description = textContent(n)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extract(c)
		}
	}
	extract(n)

	// DuckDuckGo wraps targets in a redirect
	if rest, ok := strings.CutPrefix(r.URL, "//duckduckgo.com/l/?uddg="); ok {
		if decoded, err := url.QueryUnescape(rest); err == nil {
			if i := strings.Index(decoded, "&"); i > 0 {
				decoded = decoded[:i]
			}
			r.URL = decoded
		}
	}
	if r.Description != "" {
		r.Snippets = []string{r.Description}
	}
	return r
}

// SearXNG queries a SearXNG instance through its JSON API.
type SearXNG struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewSearXNG(baseURL string, timeout time.Duration) *SearXNG {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SearXNG{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

func (s *SearXNG) Name() string { return "searxng" }

type searxngResponse struct {
	Results []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"results"`
}

func (s *SearXNG) Query(ctx context.Context, query string, k int) ([]knowledge.Evidence, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	body, err := httpGet(ctx, s.HTTPClient, s.BaseURL+"/search?"+q.Encode(), "application/json")
	if err != nil {
		return nil, err
	}
	var resp searxngResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode searxng response: %w", err)
	}
	var out []knowledge.Evidence
	for _, r := range resp.Results {
		if len(out) >= k {
			break
		}
		ev := knowledge.Evidence{URL: r.URL, Title: r.Title, Description: r.Content}
		if r.Content != "" {
			ev.Snippets = []string{r.Content}
		}
		out = append(out, ev)
	}
	return out, nil
}

// httpGet fetches url with a 1MB body limit. Rate limits, 5xx responses and
// transport errors are marked transient.
func httpGet(ctx context.Context, client *http.Client, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL.Host)
		if retry.IsTransientStatus(resp.StatusCode) {
			return nil, retry.Transient(err)
		}
		return nil, err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("read response: %w", err))
	}
	return body, nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
