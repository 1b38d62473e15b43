// Package knowledge holds the research data model: evidence records, dialogue
// turns and the URL-keyed information table built from them.
package knowledge

// Evidence is one source record. URL is the natural key; Snippets behave as
// a set that keeps the order in which snippets were first seen.
type Evidence struct {
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Snippets    []string `json:"snippets"`
}

// Clone returns a deep copy of e.
func (e Evidence) Clone() Evidence {
	e.Snippets = append([]string(nil), e.Snippets...)
	return e
}

// AddSnippets unions snippets into e, ignoring blanks and duplicates.
func (e *Evidence) AddSnippets(snippets ...string) {
	seen := make(map[string]bool, len(e.Snippets))
	for _, s := range e.Snippets {
		seen[s] = true
	}
	for _, s := range snippets {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		e.Snippets = append(e.Snippets, s)
	}
}

// Merge folds other into e. Title and description are filled only when empty.
func (e *Evidence) Merge(other Evidence) {
	if e.Title == "" {
		e.Title = other.Title
	}
	if e.Description == "" {
		e.Description = other.Description
	}
	e.AddSnippets(other.Snippets...)
}

// DialogueTurn is one question/answer exchange and the evidence behind the answer.
type DialogueTurn struct {
	AgentUtterance string     `json:"agent_utterance"`
	UserUtterance  string     `json:"user_utterance"`
	SearchQueries  []string   `json:"search_queries"`
	SearchResults  []Evidence `json:"search_results"`
}

// Conversation is the ordered dialogue of one persona.
type Conversation struct {
	Persona string         `json:"perspective"`
	Turns   []DialogueTurn `json:"dlg_turns"`
}

// DedupeByURL merges items sharing a URL, keeping first-seen order.
func DedupeByURL(items []Evidence) []Evidence {
	index := make(map[string]int, len(items))
	var out []Evidence
	for _, it := range items {
		if it.URL == "" {
			continue
		}
		if i, ok := index[it.URL]; ok {
			out[i].Merge(it)
			continue
		}
		index[it.URL] = len(out)
		out = append(out, it.Clone())
	}
	return out
}
