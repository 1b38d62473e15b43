package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auto_article_curator/article"
	"auto_article_curator/knowledge"
	"auto_article_curator/outline"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestDirSanitizesTopic(t *testing.T) {
	s := newStore(t)
	assert.Equal(t, "Apollo_11_mission", filepath.Base(s.Dir("Apollo 11 / mission")))
	assert.Equal(t, "untitled", filepath.Base(s.Dir("../..")))
}

func TestMissingArtifact(t *testing.T) {
	s := newStore(t)
	_, err := s.LoadConversations("moon")
	assert.ErrorIs(t, err, ErrMissing)
	_, _, err = s.ReadMarkdown("moon", RefinedOutline)
	assert.ErrorIs(t, err, ErrMissing)
	assert.Contains(t, err.Error(), RefinedOutline)
}

func TestConversationsAndTable(t *testing.T) {
	s := newStore(t)
	convs := []knowledge.Conversation{{Persona: "p", Turns: []knowledge.DialogueTurn{{
		UserUtterance:  "q",
		AgentUtterance: "a [1].",
		SearchQueries:  []string{"q1"},
		SearchResults:  []knowledge.Evidence{{URL: "https://x", Title: "X", Snippets: []string{"s"}}},
	}}}}
	require.NoError(t, s.SaveConversations("moon", convs))
	got, err := s.LoadConversations("moon")
	require.NoError(t, err)
	assert.Equal(t, convs, got)

	table := knowledge.NewTable()
	require.NoError(t, table.Merge(convs...))
	require.NoError(t, s.SaveTable("moon", table))
	loaded, err := s.LoadTable("moon")
	require.NoError(t, err)
	assert.Equal(t, table.Items(), loaded.Items())
}

func TestOutlineWithFrontMatter(t *testing.T) {
	s := newStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tree := outline.Parse("# A\n## B", "moon")
	require.NoError(t, s.SaveOutline("moon", DraftOutline, Meta{RunID: "r1", Created: created}, tree))

	raw, err := os.ReadFile(s.Path("moon", DraftOutline))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "---\n"))

	meta, body, err := s.ReadMarkdown("moon", DraftOutline)
	require.NoError(t, err)
	assert.Equal(t, "# A\n## B", body)
	assert.Equal(t, "r1", meta.RunID)
	assert.Equal(t, DraftOutline, meta.Artifact)
	assert.True(t, created.Equal(meta.Created))

	loaded, err := s.LoadOutline("moon", DraftOutline)
	require.NoError(t, err)
	assert.Equal(t, tree.Markdown(), loaded.Markdown())
}

func TestMarkdownWithoutFrontMatter(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.MkdirAll(s.Dir("moon"), 0o755))
	require.NoError(t, os.WriteFile(s.Path("moon", RefinedOutline), []byte("# Hand written\r\n## Sub\r\n"), 0o644))
	tree, err := s.LoadOutline("moon", RefinedOutline)
	require.NoError(t, err)
	assert.Equal(t, "# Hand written\n## Sub", tree.Markdown())
}

func TestArticleRoundTrip(t *testing.T) {
	s := newStore(t)
	a := article.New("moon", outline.Parse("# A\n# B", "moon"))
	a.FillSection("A", "a text [2].")
	a.FillSection("B", "b text [1].")
	a.SetLead("lead [1][2].")
	a.References = []knowledge.Evidence{
		{URL: "https://z", Title: "Z", Snippets: []string{"z"}},
		{URL: "https://a", Title: "A", Snippets: []string{"a"}},
	}
	require.NoError(t, s.SaveArticle("moon", PolishedArticle, Meta{Fallback: true}, a))

	loaded, meta, err := s.LoadArticle("moon", PolishedArticle)
	require.NoError(t, err)
	assert.True(t, meta.Fallback)
	assert.Equal(t, a.Markdown(), loaded.Markdown())
	assert.Equal(t, a.References, loaded.References, "reference order follows the unified index")
}

func TestDraftAndPolishedKeepSeparateReferences(t *testing.T) {
	s := newStore(t)
	draft := article.New("moon", outline.Parse("# A", "moon"))
	draft.FillSection("A", "a [1]. b [2].")
	draft.References = []knowledge.Evidence{{URL: "https://b"}, {URL: "https://a"}}
	require.NoError(t, s.SaveArticle("moon", DraftArticle, Meta{}, draft))

	polished := article.New("moon", outline.Parse("# A", "moon"))
	polished.FillSection("A", "a [1].")
	polished.References = []knowledge.Evidence{{URL: "https://a"}}
	require.NoError(t, s.SaveArticle("moon", PolishedArticle, Meta{}, polished))

	loaded, _, err := s.LoadArticle("moon", DraftArticle)
	require.NoError(t, err)
	assert.Equal(t, draft.References, loaded.References)
	loaded, _, err = s.LoadArticle("moon", PolishedArticle)
	require.NoError(t, err)
	assert.Equal(t, polished.References, loaded.References)
	assert.True(t, s.Exists("moon", DraftReferences))
	assert.True(t, s.Exists("moon", References))
}

func TestAppendJSONL(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.AppendJSONL("moon", CallHistory, map[string]int{"a": 1}))
	require.NoError(t, s.AppendJSONL("moon", CallHistory, map[string]int{"b": 2}, map[string]int{"c": 3}))
	data, err := os.ReadFile(s.Path("moon", CallHistory))
	require.NoError(t, err)
	assert.Equal(t, "{\"a\":1}\n{\"b\":2}\n{\"c\":3}\n", string(data))
}

func TestAtomicWriteLeavesNoTempFiles(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.WriteJSON("moon", RunSummary, map[string]string{"k": "v"}))
	require.NoError(t, s.WriteJSON("moon", RunSummary, map[string]string{"k": "w"}))
	entries, err := os.ReadDir(s.Dir("moon"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, RunSummary, entries[0].Name())
}
