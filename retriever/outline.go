package retriever

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
)

var skippedHeadings = map[string]bool{
	"contents":        true,
	"see also":        true,
	"references":      true,
	"notes":           true,
	"external links":  true,
	"further reading": true,
	"bibliography":    true,
}

// PageOutliner reads the section structure of a reference page. It backs the
// persona generator's related-page lookup.
type PageOutliner struct {
	HTTPClient *http.Client
}

func NewPageOutliner(timeout time.Duration) *PageOutliner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PageOutliner{HTTPClient: &http.Client{Timeout: timeout}}
}

// LookupOutline returns the page title and its h2-h4 headings, one per line,
// indented two spaces per level below h2.
func (o *PageOutliner) LookupOutline(ctx context.Context, rawURL string) (string, string, error) {
	body, err := httpGet(ctx, o.HTTPClient, rawURL, "text/html")
	if err != nil {
		return "", "", err
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}

	var title, h1 string
	var toc []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "nav", "footer":
				return
			case "title":
				if title == "" {
					title = textContent(n)
				}
				return
			case "h1":
				if h1 == "" {
					h1 = textContent(n)
				}
				return
			case "h2", "h3", "h4":
				name := strings.TrimSuffix(textContent(n), "[edit]")
				name = strings.TrimSpace(name)
				if name != "" && !skippedHeadings[strings.ToLower(name)] {
					depth := int(n.Data[1] - '2')
					toc = append(toc, strings.Repeat("  ", depth)+name)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if h1 != "" {
		title = h1
	}
	if title == "" && len(toc) == 0 {
		return "", "", errors.New("page has no title or headings")
	}
	return title, strings.Join(toc, "\n"), nil
}
