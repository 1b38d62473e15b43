package article

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"auto_article_curator/knowledge"
	"auto_article_curator/llm"
	"auto_article_curator/outline"
	"auto_article_curator/textutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func ev(url string, snippets ...string) knowledge.Evidence {
	return knowledge.Evidence{URL: url, Title: strings.ToUpper(url), Snippets: snippets}
}

func TestUnifyExample(t *testing.T) {
	u := Unify([]SectionDraft{
		{Name: "A", Text: "x is true [1]. y is true [2].", Sources: []knowledge.Evidence{ev("X", "x1"), ev("Y", "y1")}},
		{Name: "B", Text: "y again [1].", Sources: []knowledge.Evidence{ev("Y", "y2")}},
	})

	assert.Equal(t, map[string]int{"X": 1, "Y": 2}, u.Index)
	assert.Equal(t, "x is true [1]. y is true [2].", u.Sections[0].Text)
	assert.Equal(t, "y again [2].", u.Sections[1].Text)
	require.Len(t, u.References, 2)
	assert.Equal(t, []string{"y1", "y2"}, u.References[1].Snippets, "reuse merges snippets")
	assert.Zero(t, u.Stripped)
}

func TestUnifySwapDoesNotCollide(t *testing.T) {
	u := Unify([]SectionDraft{
		{Name: "A", Text: "a [1].", Sources: []knowledge.Evidence{ev("X")}},
		{Name: "B", Text: "first [1], second [2].", Sources: []knowledge.Evidence{ev("Z"), ev("X")}},
	})
	assert.Equal(t, "first [2], second [1].", u.Sections[1].Text)
}

func TestUnifyStripsOutOfRange(t *testing.T) {
	u := Unify([]SectionDraft{
		{Name: "A", Text: "fine [1]. bad [5]. ok [2].", Sources: []knowledge.Evidence{ev("X"), ev("Y")}},
	})
	assert.NotContains(t, u.Sections[0].Text, "[5]")
	assert.Equal(t, 1, u.Stripped)
	assert.Equal(t, map[string]int{"A": 1}, u.StrippedBySection)
}

func TestUnifyIsIdempotent(t *testing.T) {
	first := Unify([]SectionDraft{
		{Name: "A", Text: "b [2] then a [1]. grouped [1, 3].", Sources: []knowledge.Evidence{ev("X", "1"), ev("Y", "2"), ev("W", "3")}},
		{Name: "B", Text: "new [2]. old [1]. junk [9].", Sources: []knowledge.Evidence{ev("Y", "4"), ev("Z", "5")}},
		{Name: "C", Text: "no citations here.", Sources: nil},
	})
	second := Unify(first.Sections)

	if diff := cmp.Diff(first.Sections, second.Sections); diff != "" {
		t.Fatalf("sections changed (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.References, second.References); diff != "" {
		t.Fatalf("references changed (-first +second):\n%s", diff)
	}
	assert.Zero(t, second.Stripped)
}

func TestUnifiedCitationsResolve(t *testing.T) {
	u := Unify([]SectionDraft{
		{Name: "A", Text: "a [3] b [1] c [7].", Sources: []knowledge.Evidence{ev("P"), ev("Q"), ev("R")}},
		{Name: "B", Text: "d [2] e [1].", Sources: []knowledge.Evidence{ev("R"), ev("S")}},
	})
	used := map[int]bool{}
	for _, s := range u.Sections {
		for _, n := range textutil.Citations(s.Text) {
			require.GreaterOrEqual(t, n, 1)
			require.LessOrEqual(t, n, len(u.References))
			used[n] = true
		}
	}
	assert.Len(t, used, len(u.References), "every reference is cited")
	assert.Len(t, u.References, 3, "Q is never cited")
}

func TestFillSectionAndParse(t *testing.T) {
	tree := outline.Parse("# History\n## Origins\n# Science", "Moon")
	a := New("Moon", tree)
	a.FillSection("History", "# History\nIntro text [1].\n## Origins\nOld [2].\n## Later\nNew.")
	a.FillSection("Science", "Physics.")

	hist, _ := a.Section("History")
	assert.Equal(t, "Intro text [1].", a.Content[hist])
	assert.Equal(t, []int{1}, a.Cited[hist])
	origins, ok := a.Outline.Child(hist, "Origins")
	require.True(t, ok)
	assert.Equal(t, "Old [2].", a.Content[origins])
	_, ok = a.Outline.Child(hist, "Later")
	assert.True(t, ok, "unknown subsections are added")

	a.SetLead("Lead [1].")
	md := a.Markdown()
	assert.True(t, strings.HasPrefix(md, "Lead [1].\n\n# History\n\nIntro text [1]."))

	parsed := Parse("Moon", md, nil)
	assert.Equal(t, md, parsed.Markdown())
	assert.Equal(t, "Lead [1].", parsed.Lead())
}

func TestPruneDropsOnlyEmptyBranches(t *testing.T) {
	tree := outline.Parse("# A\n## A1\n## A2\n# B\n## B1\n# C", "t")
	a := New("t", tree)
	a.FillSection("A", "## A2\ntext")
	a.FillSection("C", "c text")

	p := a.Prune()
	assert.Equal(t, "# A\n## A2\n# C", p.Outline.Markdown())
	c, _ := p.Section("C")
	assert.Equal(t, "c text", p.Content[c])
	assert.Equal(t, 7, a.Outline.Len(), "prune does not touch the input")
}

func TestMarkdownWithReferences(t *testing.T) {
	a := New("t", outline.Parse("# A", "t"))
	a.FillSection("A", "x [1].")
	a.References = []knowledge.Evidence{{URL: "https://x", Title: "X page"}, {URL: "https://y"}}
	md := a.MarkdownWithReferences()
	assert.Contains(t, md, "# References\n\n[1] X page. https://x\n\n[2] https://y. https://y")
}

type stubTable struct {
	mu      sync.Mutex
	queries [][]string
}

func (s *stubTable) Retrieve(_ context.Context, queries []string, topK int) ([]knowledge.Evidence, error) {
	s.mu.Lock()
	s.queries = append(s.queries, queries)
	s.mu.Unlock()
	name := queries[0]
	return []knowledge.Evidence{ev("https://shared", "shared"), ev("https://" + name, "own " + name)}, nil
}

func sectionWriter(inFlight, peak *atomic.Int32) llm.Func {
	return func(_ context.Context, p llm.Prompt) (string, error) {
		if inFlight != nil {
			n := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
		}
		name := strings.TrimSuffix(p.User[strings.LastIndex(p.User, "starting with \"# ")+len("starting with \"# "):], "\":")
		return fmt.Sprintf("# %s\nAbout %s [2]. Shared [1]. Broken [4].\n\n## References\n[1] x", name, name), nil
	}
}

func TestGenerateConcurrentCompleteness(t *testing.T) {
	var md strings.Builder
	for i := 0; i < 7; i++ {
		fmt.Fprintf(&md, "# S%d\n## S%d sub\n", i, i)
	}
	md.WriteString("# Introduction\n# Conclusions\n")
	tree := outline.Parse(md.String(), "topic")

	for _, k := range []int{1, 3, 7} {
		t.Run(fmt.Sprintf("threads=%d", k), func(t *testing.T) {
			var inFlight, peak atomic.Int32
			g, err := NewGenerator(sectionWriter(&inFlight, &peak), nil)
			require.NoError(t, err)
			g.MaxThreads = k
			var done atomic.Int32
			g.OnSection = func(string) { done.Add(1) }

			a, u, err := g.Generate(context.Background(), "topic", tree, &stubTable{})
			require.NoError(t, err)
			assert.LessOrEqual(t, peak.Load(), int32(k))
			assert.Equal(t, int32(7), done.Load())

			top := a.Outline.Children(outline.Root)
			require.Len(t, top, 7)
			for i, id := range top {
				assert.Equal(t, fmt.Sprintf("S%d", i), a.Outline.Name(id))
				assert.NotContains(t, a.Content[id], "References")
			}
			assert.Len(t, a.References, 8, "shared source plus one per section")
			assert.Equal(t, "https://shared", a.References[0].URL)
			assert.Equal(t, 7, u.Stripped)
		})
	}
}

func TestGenerateQueriesIncludeDescendants(t *testing.T) {
	tree := outline.Parse("# Orbit\n## Tides\n### Locking", "Moon")
	table := &stubTable{}
	g, err := NewGenerator(sectionWriter(nil, nil), nil)
	require.NoError(t, err)
	_, _, err = g.Generate(context.Background(), "Moon", tree, table)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Orbit", "Tides", "Locking"}}, table.queries)
}

func TestGenerateKeepsSuccessfulSectionsOnFailure(t *testing.T) {
	tree := outline.Parse("# Good\n# Bad", "t")
	lm := llm.Func(func(_ context.Context, p llm.Prompt) (string, error) {
		if strings.Contains(p.User, "need to write: Bad") {
			return "", errors.New("model unavailable")
		}
		return "# Good\nFine [1].", nil
	})
	g, err := NewGenerator(lm, nil)
	require.NoError(t, err)
	g.MaxThreads = 2

	a, _, err := g.Generate(context.Background(), "t", tree, &stubTable{})
	require.Error(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "# Good", a.Outline.Markdown())
}

func TestGenerateCancelledDiscardsOutput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	lm := llm.Func(func(context.Context, llm.Prompt) (string, error) {
		cancel()
		return "# S\ntext.", nil
	})
	g, err := NewGenerator(lm, nil)
	require.NoError(t, err)
	a, _, err := g.Generate(ctx, "t", outline.Parse("# S\n# T", "t"), &stubTable{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, a)
}

func TestSectionsSkipIntroAndConclusion(t *testing.T) {
	tree := outline.Parse("# Introduction\n# Introduction to orbits\n# Summary of findings\n# Conclusion\n# Body", "t")
	var got []string
	for _, id := range Sections(tree) {
		got = append(got, tree.Name(id))
	}
	assert.Equal(t, []string{"Introduction to orbits", "Body"}, got)
}

func TestPolishAddsLead(t *testing.T) {
	lm := llm.Func(func(_ context.Context, p llm.Prompt) (string, error) {
		switch p.Op {
		case "lead":
			return "# Summary\nThe moon orbits [1]. It is far [3]. Unfinished", nil
		case "dedup":
			return "Ignored lead\n# A\nx [1].\n# B\n", nil
		}
		return "", errors.New("unexpected")
	})
	draft := New("Moon", outline.Parse("# A\n# B", "Moon"))
	draft.FillSection("A", "x [1].")
	draft.FillSection("B", "x [1] again.")
	draft.References = []knowledge.Evidence{{URL: "https://x"}}

	p, err := NewPolisher(lm, nil)
	require.NoError(t, err)
	polished, err := p.Polish(context.Background(), draft)
	require.NoError(t, err)
	assert.Equal(t, "The moon orbits [1]. It is far.", polished.Lead())
	assert.Empty(t, draft.Lead(), "draft is not modified")

	p.Dedup = true
	deduped, err := p.Polish(context.Background(), draft)
	require.NoError(t, err)
	assert.Equal(t, "# A", deduped.Outline.Markdown())
	assert.Equal(t, "The moon orbits [1]. It is far.", deduped.Lead(), "lead survives de-duplication")
	assert.Len(t, deduped.References, 1)
}
