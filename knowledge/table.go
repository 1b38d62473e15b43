package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"auto_article_curator/embedding"
)

var (
	// ErrFrozen is returned when evidence is added after the research phase ended.
	ErrFrozen = errors.New("knowledge: table is frozen")
	// ErrNotFrozen is returned when retrieval is attempted before Freeze.
	ErrNotFrozen = errors.New("knowledge: table is not frozen")
)

const embedBatchSize = 64

type snippetRef struct {
	url  string
	text string
}

// Table aggregates evidence by URL. It is written during research and frozen
// before generation; once frozen it is never mutated, so Retrieve may be
// called from many goroutines.
type Table struct {
	mu    sync.Mutex
	items map[string]*Evidence
	order []string

	frozen   atomic.Bool
	engine   embedding.Engine
	snippets []snippetRef
	vectors  [][]float32
}

func NewTable() *Table {
	return &Table{items: make(map[string]*Evidence)}
}

// Merge folds the evidence of every turn of every conversation into the table.
func (t *Table) Merge(convs ...Conversation) error {
	var items []Evidence
	for _, c := range convs {
		for _, turn := range c.Turns {
			items = append(items, turn.SearchResults...)
		}
	}
	return t.Add(items...)
}

// Add merges evidence items, unioning snippets of items that share a URL.
func (t *Table) Add(items ...Evidence) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen.Load() {
		return ErrFrozen
	}
	for _, it := range items {
		if it.URL == "" {
			continue
		}
		if cur, ok := t.items[it.URL]; ok {
			cur.Merge(it)
			continue
		}
		cp := it.Clone()
		cp.Snippets = nil
		cp.AddSnippets(it.Snippets...)
		t.items[it.URL] = &cp
		t.order = append(t.order, it.URL)
	}
	return nil
}

// Freeze embeds every snippet with engine and ends the write phase.
func (t *Table) Freeze(ctx context.Context, engine embedding.Engine) error {
	if engine == nil {
		return errors.New("knowledge: embedding engine is required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.frozen.Load() {
		return nil
	}

	var refs []snippetRef
	for _, url := range t.order {
		for _, s := range t.items[url].Snippets {
			refs = append(refs, snippetRef{url: url, text: s})
		}
	}
	vectors := make([][]float32, 0, len(refs))
	for start := 0; start < len(refs); start += embedBatchSize {
		end := min(start+embedBatchSize, len(refs))
		texts := make([]string, 0, end-start)
		for _, r := range refs[start:end] {
			texts = append(texts, r.text)
		}
		vecs, err := engine.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed snippets: %w", err)
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embed snippets: got %d vectors for %d snippets", len(vecs), len(texts))
		}
		vectors = append(vectors, vecs...)
	}

	t.engine = engine
	t.snippets = refs
	t.vectors = vectors
	t.frozen.Store(true)
	return nil
}

// Frozen reports whether the research phase has ended.
func (t *Table) Frozen() bool { return t.frozen.Load() }

// Retrieve ranks every held snippet against each query and returns the
// evidence behind the topK best snippets per query, grouped by URL in
// first-seen order. Returned items carry only the matched snippets.
func (t *Table) Retrieve(ctx context.Context, queries []string, topK int) ([]Evidence, error) {
	if !t.frozen.Load() {
		return nil, ErrNotFrozen
	}
	var qs []string
	for _, q := range queries {
		if q = strings.TrimSpace(q); q != "" {
			qs = append(qs, q)
		}
	}
	if len(qs) == 0 || len(t.snippets) == 0 || topK <= 0 {
		return nil, nil
	}
	qvecs, err := t.engine.EmbedBatch(ctx, qs)
	if err != nil {
		return nil, fmt.Errorf("embed queries: %w", err)
	}

	index := make(map[string]int)
	var out []Evidence
	for _, qv := range qvecs {
		for _, hit := range embedding.FindTopK(qv, t.vectors, topK) {
			ref := t.snippets[hit.Index]
			i, ok := index[ref.url]
			if !ok {
				src := t.items[ref.url]
				i = len(out)
				index[ref.url] = i
				out = append(out, Evidence{URL: src.URL, Title: src.Title, Description: src.Description})
			}
			out[i].AddSnippets(ref.text)
		}
	}
	return out, nil
}

// Len returns the number of distinct URLs.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.order)
}

// Lookup returns a copy of the evidence stored for url.
func (t *Table) Lookup(url string) (Evidence, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.items[url]
	if !ok {
		return Evidence{}, false
	}
	return it.Clone(), true
}

// Items returns copies of all evidence in insertion order.
func (t *Table) Items() []Evidence {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Evidence, 0, len(t.order))
	for _, url := range t.order {
		out = append(out, t.items[url].Clone())
	}
	return out
}

type tableJSON struct {
	Items []Evidence `json:"url_to_info"`
}

func (t *Table) MarshalJSON() ([]byte, error) {
	return json.Marshal(tableJSON{Items: t.Items()})
}

// UnmarshalJSON loads a persisted table; the result is not frozen.
func (t *Table) UnmarshalJSON(data []byte) error {
	var raw tableJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.mu.Lock()
	t.items = make(map[string]*Evidence)
	t.order = nil
	t.engine, t.snippets, t.vectors = nil, nil, nil
	t.frozen.Store(false)
	t.mu.Unlock()
	return t.Add(raw.Items...)
}
