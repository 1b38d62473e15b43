package publisher

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"auto_article_curator/article"
	"auto_article_curator/textutil"
)

var (
	headingRe  = regexp.MustCompile(`(?s)<h([1-6])([^>]*)>(.*?)</h[1-6]>`)
	citationRe = regexp.MustCompile(`\[(\d+)\]`)
)

// ExportParams describes the page wrapped around an article.
type ExportParams struct {
	Title  string
	Author string
	Digest string
}

// Publisher renders curated articles as standalone HTML pages.
type Publisher struct {
	md     goldmark.Markdown
	logger *zap.Logger
}

func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		md:     goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough)),
		logger: logger,
	}
}

type reference struct {
	N     int
	Title string
	URL   string
}

type page struct {
	Title      string
	Author     string
	Digest     string
	Body       template.HTML
	References []reference
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
{{- if .Author}}
<meta name="author" content="{{.Author}}">
{{- end}}
<meta name="description" content="{{.Digest}}">
</head>
<body>
<article>
<h1>{{.Title}}</h1>
{{.Body}}
{{- if .References}}
<h2 id="references">References</h2>
<ol>
{{- range .References}}
<li id="ref-{{.N}}">{{.Title}}. <a href="{{.URL}}">{{.URL}}</a></li>
{{- end}}
</ol>
{{- end}}
</article>
</body>
</html>
`))

// Render converts a to a standalone HTML page. Section headings move one
// level down under the page title and every in-range citation links to its
// reference entry.
func (p *Publisher) Render(a *article.Article, params ExportParams) (string, error) {
	if a == nil {
		return "", errors.New("article is required")
	}
	md := a.Markdown()
	if strings.TrimSpace(md) == "" {
		return "", errors.New("article is empty")
	}

	body, err := p.mdToHTML(md)
	if err != nil {
		return "", err
	}
	p.logger.Debug("converted markdown to HTML", zap.Int("bytes", len(body)))
	body = demoteHeadings(body)
	body = linkCitations(body, len(a.References))

	pg := page{
		Title:  params.Title,
		Author: params.Author,
		Digest: params.Digest,
		Body:   template.HTML(body),
	}
	if pg.Title == "" {
		pg.Title = a.Topic
	}
	if pg.Digest == "" {
		pg.Digest = defaultDigest(textutil.RemoveCitations(a.Lead()), 160)
	}
	for i, ref := range a.References {
		title := strings.TrimSpace(ref.Title)
		if title == "" {
			title = ref.URL
		}
		pg.References = append(pg.References, reference{N: i + 1, Title: title, URL: ref.URL})
	}

	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, pg); err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return buf.String(), nil
}

// Export renders a and writes the page to path.
func (p *Publisher) Export(a *article.Article, path string, params ExportParams) error {
	out, err := p.Render(a, params)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
		return err
	}
	p.logger.Info("exported article", zap.String("path", path), zap.Int("references", len(a.References)))
	return nil
}

func (p *Publisher) mdToHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := p.md.Convert([]byte(md), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// The page title takes h1, so every article heading moves down one level; h6 stays.
func demoteHeadings(html string) string {
	return headingRe.ReplaceAllStringFunc(html, func(block string) string {
		parts := headingRe.FindStringSubmatch(block)
		level, _ := strconv.Atoi(parts[1])
		level = min(level+1, 6)
		return fmt.Sprintf("<h%d%s>%s</h%d>", level, parts[2], parts[3], level)
	})
}

func linkCitations(html string, refs int) string {
	return citationRe.ReplaceAllStringFunc(html, func(tok string) string {
		n, err := strconv.Atoi(tok[1 : len(tok)-1])
		if err != nil || n < 1 || n > refs {
			return tok
		}
		return fmt.Sprintf(`<sup><a href="#ref-%d">[%d]</a></sup>`, n, n)
	})
}

func defaultDigest(md string, limit int) string {
	compact := []rune(strings.Join(strings.Fields(md), " "))
	if len(compact) <= limit {
		return string(compact)
	}
	return string(compact[:limit])
}
