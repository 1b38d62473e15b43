package article

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"auto_article_curator/knowledge"
	"auto_article_curator/llm"
	"auto_article_curator/outline"
	"auto_article_curator/textutil"
)

const (
	defaultTopK             = 3
	defaultMaxThreads       = 1
	defaultMaxEvidenceWords = 1500
)

var referencesHeadingRe = regexp.MustCompile(`(?im)^#+\s*(references|sources|citations)\s*:?\s*$`)

// Evidence is the section-scoped retrieval the generator needs; it is
// satisfied by a frozen *knowledge.Table.
type Evidence interface {
	Retrieve(ctx context.Context, queries []string, topK int) ([]knowledge.Evidence, error)
}

// Generator writes the top-level sections concurrently.
type Generator struct {
	lm     llm.Client
	logger *zap.Logger

	TopK             int
	MaxThreads       int
	MaxEvidenceWords int
	// OnSection is called after each section completes; it runs on worker
	// goroutines.
	OnSection func(name string)
}

func NewGenerator(lm llm.Client, logger *zap.Logger) (*Generator, error) {
	if lm == nil {
		return nil, errors.New("llm client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		lm:               lm,
		logger:           logger,
		TopK:             defaultTopK,
		MaxThreads:       defaultMaxThreads,
		MaxEvidenceWords: defaultMaxEvidenceWords,
	}, nil
}

// Sections lists the top-level sections that get generated. The
// introduction and concluding sections are left to polishing.
func Sections(tree *outline.Tree) []outline.NodeID {
	var out []outline.NodeID
	for _, id := range tree.Children(outline.Root) {
		name := strings.ToLower(strings.TrimSpace(tree.Name(id)))
		if name == "introduction" || strings.HasPrefix(name, "conclusion") || strings.HasPrefix(name, "summary") {
			continue
		}
		out = append(out, id)
	}
	return out
}

type sectionResult struct {
	index int
	draft SectionDraft
	err   error
}

// Generate writes every section concurrently, unifies citations and returns
// the pruned article. When some sections fail the article built from the
// others is returned together with the joined errors; on cancellation no
// article is returned.
func (g *Generator) Generate(ctx context.Context, topic string, tree *outline.Tree, evidence Evidence) (*Article, Unified, error) {
	if tree == nil {
		return nil, Unified{}, errors.New("outline is required")
	}
	if evidence == nil {
		return nil, Unified{}, errors.New("evidence table is required")
	}
	sections := Sections(tree)

	var eg errgroup.Group
	eg.SetLimit(max(1, min(g.MaxThreads, len(sections))))
	results := make(chan sectionResult, len(sections))
	for i, id := range sections {
		eg.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			draft, err := g.writeSection(ctx, topic, tree, id, evidence)
			results <- sectionResult{index: i, draft: draft, err: err}
			if err == nil && g.OnSection != nil {
				g.OnSection(draft.Name)
			}
			return nil
		})
	}
	werr := eg.Wait()
	close(results)
	if err := ctx.Err(); err != nil {
		return nil, Unified{}, err
	}
	if werr != nil {
		return nil, Unified{}, werr
	}

	ordered := make([]*SectionDraft, len(sections))
	var errs []error
	for r := range results {
		if r.err != nil {
			name := tree.Name(sections[r.index])
			g.logger.Warn("section generation failed", zap.String("section", name), zap.Error(r.err))
			errs = append(errs, fmt.Errorf("section %q: %w", name, r.err))
			continue
		}
		ordered[r.index] = &r.draft
	}
	var drafts []SectionDraft
	for _, d := range ordered {
		if d != nil {
			drafts = append(drafts, *d)
		}
	}

	unified := Unify(drafts)
	if unified.Stripped > 0 {
		g.logger.Info("stripped out-of-range citations", zap.Int("count", unified.Stripped))
	}
	a := New(topic, tree)
	for _, s := range unified.Sections {
		a.FillSection(s.Name, s.Text)
	}
	a.References = unified.References
	a = a.Prune()

	if len(errs) > 0 {
		return a, unified, fmt.Errorf("%d of %d sections failed: %w", len(errs), len(sections), errors.Join(errs...))
	}
	return a, unified, nil
}

func (g *Generator) writeSection(ctx context.Context, topic string, tree *outline.Tree, id outline.NodeID, evidence Evidence) (SectionDraft, error) {
	name := tree.Name(id)
	queries := []string{name}
	for _, d := range tree.Descendants(id) {
		queries = append(queries, tree.Name(d))
	}
	sources, err := evidence.Retrieve(ctx, queries, g.TopK)
	if err != nil {
		return SectionDraft{}, fmt.Errorf("retrieve: %w", err)
	}

	var info strings.Builder
	for i, s := range sources {
		info.WriteString(fmt.Sprintf("[%d]\n%s\n\n", i+1, strings.Join(s.Snippets, "\n")))
	}
	text, err := llm.Generate(ctx, g.lm, sectionRequest{
		Topic:   topic,
		Section: name,
		Outline: tree.SubtreeMarkdown(id),
		Info:    textutil.LimitWords(strings.TrimSpace(info.String()), g.MaxEvidenceWords),
	})
	if err != nil {
		return SectionDraft{}, err
	}
	return SectionDraft{Name: name, Text: cleanSection(text), Sources: sources}, nil
}

// cleanSection drops a trailing references block and an unfinished last
// sentence.
func cleanSection(text string) string {
	if loc := referencesHeadingRe.FindStringIndex(text); loc != nil {
		text = text[:loc[0]]
	}
	text = strings.TrimSpace(text)
	paras := strings.Split(text, "\n")
	last := len(paras) - 1
	if last >= 0 && !headingRe.MatchString(paras[last]) {
		paras[last] = textutil.TrimIncompleteSentence(paras[last])
	}
	return strings.TrimSpace(strings.Join(paras, "\n"))
}

type sectionRequest struct {
	Topic   string
	Section string
	Outline string
	Info    string
}

func (r sectionRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return errors.New("topic is required")
	}
	if strings.TrimSpace(r.Section) == "" {
		return errors.New("section name is required")
	}
	return nil
}

func (r sectionRequest) Prompt() llm.Prompt {
	var sb strings.Builder
	sb.WriteString("Write one section of a reference article based on the collected information.\n")
	sb.WriteString("- Use \"# Title\" for the section title, \"## Title\" for subsections, \"### Title\" below that, and so on.\n")
	sb.WriteString("- Cite the collected information inline as [1], [2], ..., [n], e.g. \"The capital of the United States is Washington, D.C.[1][3].\"\n")
	sb.WriteString("- Do not include a references or sources list at the end.\n")
	sb.WriteString("- Do not write the page title or any other section.\n")
	info := r.Info
	if strings.TrimSpace(info) == "" {
		info = "N/A"
	}
	user := fmt.Sprintf("The collected information:\n%s\n\nThe topic of the page: %s\nThe section you need to write: %s\nSection outline:\n%s\n\nWrite the section with proper inline citations, starting with \"# %s\":",
		info, r.Topic, r.Section, r.Outline, r.Section)
	return llm.Prompt{Op: "section", System: sb.String(), User: user}
}
