package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"auto_article_curator/article"
	"auto_article_curator/knowledge"
	"auto_article_curator/llm"
	"auto_article_curator/store"
	"auto_article_curator/textutil"
)

const (
	notAvailable        = "not available"
	maxFallbackResearch = 3000
	maxFallbackPartial  = 3000
)

// fallback asks the fallback model for the whole article from whatever the
// failed run left behind and stores it as the polished article.
func (r *Runner) fallback(ctx context.Context, topic string, arts Artifacts, runID string) (*article.Article, error) {
	sources := researchItems(arts)
	req := fallbackRequest{
		Topic:    topic,
		Research: renderResearch(sources),
		Outline:  notAvailable,
		Partial:  notAvailable,
	}
	if arts.Outline != nil && arts.Outline.Len() > 1 {
		req.Outline = arts.Outline.Markdown()
	}
	if arts.Article != nil {
		if md := strings.TrimSpace(arts.Article.Markdown()); md != "" {
			req.Partial = textutil.LimitWords(md, maxFallbackPartial)
		}
	}

	text, err := llm.Generate(ctx, r.opts.Fallback, req)
	if err != nil {
		return nil, err
	}
	// citations point into the numbered research list
	u := article.Unify([]article.SectionDraft{{Name: topic, Text: text, Sources: sources}})
	a := article.Parse(topic, u.Sections[0].Text, u.References)

	meta := r.meta(topic, store.PolishedArticle, runID)
	meta.Fallback = true
	meta.Model = r.opts.Fallback.Name()
	if err := r.opts.Store.SaveArticle(topic, store.PolishedArticle, meta, a); err != nil {
		return nil, err
	}
	return a, nil
}

// researchItems prefers the information table and falls back to the
// evidence gathered in the conversations.
func researchItems(arts Artifacts) []knowledge.Evidence {
	if arts.Table != nil && arts.Table.Len() > 0 {
		return arts.Table.Items()
	}
	var all []knowledge.Evidence
	for _, c := range arts.Conversations {
		for _, t := range c.Turns {
			all = append(all, t.SearchResults...)
		}
	}
	return knowledge.DedupeByURL(all)
}

// renderResearch numbers sources from 1 and stops once the word budget is
// spent; unrendered sources can't be cited.
func renderResearch(sources []knowledge.Evidence) string {
	if len(sources) == 0 {
		return notAvailable
	}
	var sb strings.Builder
	words := 0
	for i, s := range sources {
		block := fmt.Sprintf("[%d] %s (%s)\n%s\n\n", i+1, s.Title, s.URL, strings.Join(s.Snippets, "\n"))
		n := textutil.WordCount(block)
		if words > 0 && words+n > maxFallbackResearch {
			break
		}
		sb.WriteString(textutil.LimitWords(block, maxFallbackResearch))
		sb.WriteString("\n\n")
		words += n
	}
	return strings.TrimSpace(sb.String())
}

type fallbackRequest struct {
	Topic    string
	Research string
	Outline  string
	Partial  string
}

func (r fallbackRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return errors.New("topic is required")
	}
	return nil
}

func (r fallbackRequest) Prompt() llm.Prompt {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Topic: %s\n\n", r.Topic))
	sb.WriteString(fmt.Sprintf("research: %s\n\n", r.Research))
	sb.WriteString(fmt.Sprintf("outline: %s\n\n", r.Outline))
	sb.WriteString(fmt.Sprintf("partial article: %s\n\n", r.Partial))
	sb.WriteString("Write the complete article now.")
	return llm.Prompt{
		Op: "fallback",
		System: "You write Wikipedia-style articles. Use the research, outline and partial article below when they are available. " +
			"Use \"#\" headings for sections and \"##\" for subsections, without a title line. " +
			"Cite research sources inline as [1], [2] using their numbers; do not add a reference list.",
		User:        sb.String(),
		Temperature: 0.7,
	}
}
