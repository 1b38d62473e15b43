// Package research runs the research phase: persona discovery and the
// simulated writer/expert conversations that gather evidence.
package research

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"auto_article_curator/llm"
	"auto_article_curator/textutil"
)

// DefaultPersona is always the first persona of every research run.
const DefaultPersona = "Basic fact writer: Basic fact writer focusing on broadly covering the basic facts about the topic."

const maxRelatedPages = 5

var urlRe = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// OutlineLookup returns the title and table of contents of a reference page.
type OutlineLookup interface {
	LookupOutline(ctx context.Context, url string) (title, toc string, err error)
}

// PersonaGenerator derives research perspectives from the outlines of related pages.
type PersonaGenerator struct {
	lm     llm.Client
	lookup OutlineLookup
	logger *zap.Logger
}

// NewPersonaGenerator builds a generator; lookup may be nil, in which case
// persona generation proceeds without inspiration pages.
func NewPersonaGenerator(lm llm.Client, lookup OutlineLookup, logger *zap.Logger) (*PersonaGenerator, error) {
	if lm == nil {
		return nil, errors.New("llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersonaGenerator{lm: lm, lookup: lookup, logger: logger}, nil
}

// Generate returns DefaultPersona followed by at most max generated personas.
func (g *PersonaGenerator) Generate(ctx context.Context, topic string, max int) ([]string, error) {
	personas := []string{DefaultPersona}
	if max <= 0 {
		return personas, nil
	}

	examples := g.inspiration(ctx, topic)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := llm.Generate(ctx, g.lm, personaRequest{Topic: topic, Examples: examples, Max: max})
	if err != nil {
		return nil, fmt.Errorf("generate personas: %w", err)
	}
	generated := textutil.ParseList(out)
	if len(generated) > max {
		generated = generated[:max]
	}
	return append(personas, generated...), nil
}

// inspiration collects the outlines of related pages. Every failure here is
// logged and skipped; with nothing resolved the context is "N/A".
func (g *PersonaGenerator) inspiration(ctx context.Context, topic string) string {
	if g.lookup == nil {
		return "N/A"
	}
	out, err := llm.Generate(ctx, g.lm, relatedTopicsRequest{Topic: topic})
	if err != nil {
		g.logger.Warn("related topic lookup failed", zap.String("topic", topic), zap.Error(err))
		return "N/A"
	}

	var blocks []string
	seen := make(map[string]bool)
	for _, u := range urlRe.FindAllString(out, -1) {
		u = strings.TrimRight(u, ".,;")
		if seen[u] {
			continue
		}
		seen[u] = true
		if len(seen) > maxRelatedPages {
			break
		}
		title, toc, err := g.lookup.LookupOutline(ctx, u)
		if err != nil {
			g.logger.Warn("skipping related page", zap.String("url", u), zap.Error(err))
			continue
		}
		blocks = append(blocks, fmt.Sprintf("Title: %s\nTable of Contents: %s", title, toc))
	}
	if len(blocks) == 0 {
		return "N/A"
	}
	return strings.Join(blocks, "\n----------\n")
}
