// Package store persists stage artifacts in one directory per topic so a
// later run can skip stages and resume from disk.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"auto_article_curator/article"
	"auto_article_curator/knowledge"
	"auto_article_curator/outline"
)

// Artifact file names.
const (
	ConversationLog  = "conversation_log.json"
	RawSearchResults = "raw_search_results.json"
	DraftOutline     = "direct_gen_outline.md"
	RefinedOutline   = "refined_outline.md"
	DraftArticle     = "draft_article.md"
	DraftReferences  = "draft_url_to_info.json"
	References       = "url_to_info.json"
	PolishedArticle  = "polished_article.md"
	RunSummary       = "run_summary.json"
	CallHistory      = "llm_call_history.jsonl"
)

// ErrMissing is returned when a requested artifact does not exist.
var ErrMissing = errors.New("store: artifact missing")

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// Store keeps each topic's stage artifacts in its own directory.
type Store struct {
	root string
	now  func() time.Time
}

func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Store{root: root, now: time.Now}, nil
}

// Dir returns the directory holding topic's artifacts.
func (s *Store) Dir(topic string) string {
	name := unsafeChars.ReplaceAllString(strings.TrimSpace(topic), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "untitled"
	}
	return filepath.Join(s.root, name)
}

func (s *Store) Path(topic, name string) string {
	return filepath.Join(s.Dir(topic), name)
}

func (s *Store) Exists(topic, name string) bool {
	_, err := os.Stat(s.Path(topic, name))
	return err == nil
}

func (s *Store) write(topic, name string, data []byte) error {
	if err := os.MkdirAll(s.Dir(topic), 0o755); err != nil {
		return fmt.Errorf("create topic directory: %w", err)
	}
	if err := writeFileAtomic(s.Path(topic, name), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (s *Store) read(topic, name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(topic, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissing, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// WriteJSON stores v as indented JSON.
func (s *Store) WriteJSON(topic, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.write(topic, name, append(data, '\n'))
}

func (s *Store) ReadJSON(topic, name string, v any) error {
	data, err := s.read(topic, name)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// AppendJSONL appends one JSON line per record.
func (s *Store) AppendJSONL(topic, name string, records ...any) error {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
	}
	if err := os.MkdirAll(s.Dir(topic), 0o755); err != nil {
		return fmt.Errorf("create topic directory: %w", err)
	}
	f, err := os.OpenFile(s.Path(topic, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", name, err)
	}
	return f.Close()
}

// WriteMarkdown stores body with YAML front matter describing the artifact.
func (s *Store) WriteMarkdown(topic, name string, meta Meta, body string) error {
	meta.Topic = topic
	meta.Artifact = name
	if meta.Created.IsZero() {
		meta.Created = s.now().UTC()
	}
	data, err := writeFrontMatter(meta, []byte(body))
	if err != nil {
		return err
	}
	return s.write(topic, name, data)
}

// ReadMarkdown returns the front matter and body of a markdown artifact.
func (s *Store) ReadMarkdown(topic, name string) (Meta, string, error) {
	data, err := s.read(topic, name)
	if err != nil {
		return Meta{}, "", err
	}
	meta, body, err := parseFrontMatter(data)
	if err != nil {
		return Meta{}, "", fmt.Errorf("%s: %w", name, err)
	}
	return meta, strings.TrimSpace(string(body)), nil
}

func (s *Store) SaveConversations(topic string, convs []knowledge.Conversation) error {
	return s.WriteJSON(topic, ConversationLog, convs)
}

func (s *Store) LoadConversations(topic string) ([]knowledge.Conversation, error) {
	var convs []knowledge.Conversation
	if err := s.ReadJSON(topic, ConversationLog, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (s *Store) SaveTable(topic string, t *knowledge.Table) error {
	return s.WriteJSON(topic, RawSearchResults, t)
}

// LoadTable returns the persisted table; it is not frozen.
func (s *Store) LoadTable(topic string) (*knowledge.Table, error) {
	t := knowledge.NewTable()
	if err := s.ReadJSON(topic, RawSearchResults, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) SaveOutline(topic, name string, meta Meta, tree *outline.Tree) error {
	return s.WriteMarkdown(topic, name, meta, tree.Markdown())
}

func (s *Store) LoadOutline(topic, name string) (*outline.Tree, error) {
	_, body, err := s.ReadMarkdown(topic, name)
	if err != nil {
		return nil, err
	}
	return outline.Parse(body, topic), nil
}

type referencesFile struct {
	Index map[string]int                `json:"url_to_unified_index"`
	Info  map[string]knowledge.Evidence `json:"url_to_info"`
}

// ReferencesFor names the reference file paired with an article artifact.
// The draft keeps its own list so a fallback polish cannot renumber it.
func ReferencesFor(name string) string {
	if name == DraftArticle {
		return DraftReferences
	}
	return References
}

// SaveArticle stores a's text under name and its reference list in the
// file named by ReferencesFor(name).
func (s *Store) SaveArticle(topic, name string, meta Meta, a *article.Article) error {
	if err := s.WriteMarkdown(topic, name, meta, a.Markdown()); err != nil {
		return err
	}
	return s.SaveReferences(topic, ReferencesFor(name), a.References)
}

func (s *Store) SaveReferences(topic, name string, refs []knowledge.Evidence) error {
	rf := referencesFile{Index: make(map[string]int, len(refs)), Info: make(map[string]knowledge.Evidence, len(refs))}
	for i, r := range refs {
		rf.Index[r.URL] = i + 1
		rf.Info[r.URL] = r
	}
	return s.WriteJSON(topic, name, rf)
}

// LoadReferences returns the reference list stored under name in citation
// order.
func (s *Store) LoadReferences(topic, name string) ([]knowledge.Evidence, error) {
	var rf referencesFile
	if err := s.ReadJSON(topic, name, &rf); err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(rf.Index))
	for u := range rf.Index {
		urls = append(urls, u)
	}
	sort.Slice(urls, func(i, j int) bool { return rf.Index[urls[i]] < rf.Index[urls[j]] })
	refs := make([]knowledge.Evidence, 0, len(urls))
	for _, u := range urls {
		ev := rf.Info[u]
		ev.URL = u
		refs = append(refs, ev)
	}
	return refs, nil
}

// LoadArticle reads the article stored under name together with its own
// reference list. A missing reference file yields an empty list.
func (s *Store) LoadArticle(topic, name string) (*article.Article, Meta, error) {
	meta, body, err := s.ReadMarkdown(topic, name)
	if err != nil {
		return nil, Meta{}, err
	}
	refs, err := s.LoadReferences(topic, ReferencesFor(name))
	if err != nil && !errors.Is(err, ErrMissing) {
		return nil, Meta{}, err
	}
	return article.Parse(topic, body, refs), meta, nil
}
