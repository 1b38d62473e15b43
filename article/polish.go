package article

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"auto_article_curator/llm"
	"auto_article_curator/outline"
	"auto_article_curator/textutil"
)

const maxLeadInputWords = 4000

// Polisher writes the lead section and optionally removes repetition.
type Polisher struct {
	lm     llm.Client
	logger *zap.Logger

	// Dedup enables a second pass that asks the model to remove repeated
	// content across sections.
	Dedup bool
}

func NewPolisher(lm llm.Client, logger *zap.Logger) (*Polisher, error) {
	if lm == nil {
		return nil, errors.New("llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Polisher{lm: lm, logger: logger}, nil
}

// Polish returns a copy of draft with a lead section as its root content.
// With Dedup set the sections are rewritten once more; the lead is kept.
func (p *Polisher) Polish(ctx context.Context, draft *Article) (*Article, error) {
	if draft == nil {
		return nil, errors.New("draft article is required")
	}
	out := draft.Clone()
	body := textutil.LimitWords(out.Markdown(), maxLeadInputWords)

	lead, err := llm.Generate(ctx, p.lm, leadRequest{Topic: out.Topic, Article: body})
	if err != nil {
		return nil, fmt.Errorf("lead section: %w", err)
	}
	lead, stripped := textutil.StripOutOfRange(cleanLead(lead), len(out.References))
	if stripped > 0 {
		p.logger.Debug("stripped out-of-range citations from lead", zap.Int("count", stripped))
	}
	out.SetLead(textutil.TrimIncompleteSentence(lead))

	if !p.Dedup {
		return out, nil
	}
	sections := out.Clone()
	sections.SetLead("")
	deduped, err := llm.Generate(ctx, p.lm, dedupRequest{Article: sections.Markdown()})
	if err != nil {
		p.logger.Warn("de-duplication failed, keeping article", zap.Error(err))
		return out, nil
	}
	parsed := Parse(out.Topic, deduped, out.References)
	if len(parsed.Outline.Children(outline.Root)) == 0 {
		p.logger.Warn("de-duplicated article has no sections, keeping article")
		return out, nil
	}
	for id := range parsed.Content {
		text, _ := textutil.StripOutOfRange(parsed.Content[id], len(parsed.References))
		parsed.Content[id] = text
		parsed.Cited[id] = textutil.Citations(text)
	}
	parsed.SetLead(out.Lead())
	return parsed.Prune(), nil
}

// cleanLead drops any headings the model put around the lead.
func cleanLead(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if headingRe.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

type leadRequest struct {
	Topic   string
	Article string
}

func (r leadRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return errors.New("topic is required")
	}
	if strings.TrimSpace(r.Article) == "" {
		return errors.New("article text is required")
	}
	return nil
}

func (r leadRequest) Prompt() llm.Prompt {
	var sb strings.Builder
	sb.WriteString("Write a lead section for the given reference article.\n")
	sb.WriteString("- The lead must stand on its own as a concise overview of the topic: establish context, explain why the topic is notable and summarize the most important points.\n")
	sb.WriteString("- Use no more than four well-composed paragraphs.\n")
	sb.WriteString("- Keep it sourced: add inline citations like [1], [2] where needed, using the numbers already present in the article.\n")
	sb.WriteString("- Output the lead text only, without headings.\n")
	user := fmt.Sprintf("The topic of the page: %s\n\nThe draft page:\n%s\n\nWrite the lead section:", r.Topic, r.Article)
	return llm.Prompt{Op: "lead", System: sb.String(), User: user}
}

type dedupRequest struct {
	Article string
}

func (r dedupRequest) Validate() error {
	if strings.TrimSpace(r.Article) == "" {
		return errors.New("article text is required")
	}
	return nil
}

func (r dedupRequest) Prompt() llm.Prompt {
	var sb strings.Builder
	sb.WriteString("You are a faithful text editor who is good at finding repeated information in an article and deleting it so nothing repeats.\n")
	sb.WriteString("Keep the non-repeated parts unchanged, including the inline citations and the heading structure (\"#\", \"##\", ...).\n")
	sb.WriteString("Do not add a title or any commentary.\n")
	return llm.Prompt{
		Op:     "dedup",
		System: sb.String(),
		User:   fmt.Sprintf("The article:\n%s\n\nThe article with repetition removed:", r.Article),
	}
}
