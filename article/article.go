// Package article assembles the cited article: concurrent per-section
// generation, citation unification, pruning and polishing.
package article

import (
	"fmt"
	"regexp"
	"strings"

	"auto_article_curator/knowledge"
	"auto_article_curator/outline"
	"auto_article_curator/textutil"
)

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

// Article is an outline tree whose nodes carry text. Content and Cited are
// indexed by outline.NodeID; the root's content is the lead section.
type Article struct {
	Topic      string
	Outline    *outline.Tree
	Content    []string
	Cited      [][]int
	References []knowledge.Evidence
}

// New returns an empty article over a copy of tree.
func New(topic string, tree *outline.Tree) *Article {
	if tree == nil {
		tree = outline.NewTree(topic)
	}
	a := &Article{Topic: topic, Outline: tree.Clone()}
	a.grow()
	return a
}

func (a *Article) grow() {
	for len(a.Content) < a.Outline.Len() {
		a.Content = append(a.Content, "")
		a.Cited = append(a.Cited, nil)
	}
}

// Section returns the top-level node called name.
func (a *Article) Section(name string) (outline.NodeID, bool) {
	return a.Outline.Child(outline.Root, name)
}

// FillSection stores generated markdown under the top-level section name.
// The first heading of text stands for the section itself; deeper headings
// are matched to existing subsections by name or added.
func (a *Article) FillSection(name, text string) {
	id, ok := a.Section(name)
	if !ok {
		id = a.Outline.Add(outline.Root, name)
	}
	a.fill(id, text, true)
}

// fill writes text below node. When skipLead is set a leading heading is
// taken to be node's own title.
func (a *Article) fill(node outline.NodeID, text string, skipLead bool) {
	type frame struct {
		id    outline.NodeID
		depth int
	}
	stack := []frame{{id: node, depth: 0}}
	bodies := map[outline.NodeID][]string{}
	order := []outline.NodeID{node}
	current := node
	sawContent := false

	for _, line := range strings.Split(text, "\n") {
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			if strings.TrimSpace(line) != "" {
				sawContent = true
			}
			bodies[current] = append(bodies[current], line)
			continue
		}
		depth := len(m[1])
		if skipLead && !sawContent && len(stack) == 1 && current == node && depth == 1 {
			// the section's own title
			skipLead = false
			stack[0].depth = depth
			continue
		}
		skipLead = false
		for len(stack) > 1 && stack[len(stack)-1].depth >= depth {
			stack = stack[:len(stack)-1]
		}
		parent := stack[len(stack)-1].id
		current = a.Outline.Add(parent, m[2])
		a.grow()
		stack = append(stack, frame{id: current, depth: depth})
		if _, seen := bodies[current]; !seen {
			order = append(order, current)
			bodies[current] = nil
		}
	}

	for _, id := range order {
		body := strings.TrimSpace(strings.Join(bodies[id], "\n"))
		if body == "" {
			continue
		}
		if a.Content[id] != "" {
			body = a.Content[id] + "\n\n" + body
		}
		a.Content[id] = body
		a.Cited[id] = textutil.Citations(body)
	}
}

// Prune drops nodes without content that have no surviving descendants.
func (a *Article) Prune() *Article {
	tree, mapping := a.Outline.Prune(func(id outline.NodeID) bool {
		return strings.TrimSpace(a.Content[id]) != ""
	})
	out := &Article{
		Topic:      a.Topic,
		Outline:    tree,
		Content:    make([]string, tree.Len()),
		Cited:      make([][]int, tree.Len()),
		References: cloneEvidence(a.References),
	}
	for old, nw := range mapping {
		out.Content[nw] = a.Content[old]
		out.Cited[nw] = append([]int(nil), a.Cited[old]...)
	}
	return out
}

// Clone deep-copies the article.
func (a *Article) Clone() *Article {
	out := &Article{
		Topic:      a.Topic,
		Outline:    a.Outline.Clone(),
		Content:    append([]string(nil), a.Content...),
		Cited:      make([][]int, len(a.Cited)),
		References: cloneEvidence(a.References),
	}
	for i, c := range a.Cited {
		out.Cited[i] = append([]int(nil), c...)
	}
	return out
}

// SetLead replaces the root content.
func (a *Article) SetLead(text string) {
	a.Content[outline.Root] = strings.TrimSpace(text)
	a.Cited[outline.Root] = textutil.Citations(a.Content[outline.Root])
}

// Lead returns the root content.
func (a *Article) Lead() string { return a.Content[outline.Root] }

// SectionText renders a top-level section with its subsections.
func (a *Article) SectionText(id outline.NodeID) string {
	var sb strings.Builder
	a.writeNode(&sb, id, 1)
	a.Outline.Walk(id, func(n outline.NodeID, depth int) {
		a.writeNode(&sb, n, depth+1)
	})
	return strings.TrimSpace(sb.String())
}

func (a *Article) writeNode(sb *strings.Builder, id outline.NodeID, depth int) {
	sb.WriteString(strings.Repeat("#", depth) + " " + a.Outline.Name(id) + "\n\n")
	if c := a.Content[id]; c != "" {
		sb.WriteString(c + "\n\n")
	}
}

// Markdown renders the lead followed by every section. References are not
// included; see MarkdownWithReferences.
func (a *Article) Markdown() string {
	var sb strings.Builder
	if lead := a.Lead(); lead != "" {
		sb.WriteString(lead + "\n\n")
	}
	a.Outline.Walk(outline.Root, func(id outline.NodeID, depth int) {
		a.writeNode(&sb, id, depth)
	})
	return strings.TrimSpace(sb.String())
}

// MarkdownWithReferences appends a "References" section listing every
// global citation as "[n] Title. URL".
func (a *Article) MarkdownWithReferences() string {
	md := a.Markdown()
	if len(a.References) == 0 {
		return md
	}
	var sb strings.Builder
	sb.WriteString(md)
	sb.WriteString("\n\n# References\n\n")
	for i, ref := range a.References {
		title := strings.TrimSpace(ref.Title)
		if title == "" {
			title = ref.URL
		}
		sb.WriteString(fmt.Sprintf("[%d] %s. %s\n\n", i+1, title, ref.URL))
	}
	return strings.TrimSpace(sb.String())
}

// Parse reads an article rendered by Markdown. Text before the first heading
// becomes the lead.
func Parse(topic, md string, references []knowledge.Evidence) *Article {
	a := New(topic, nil)
	a.References = cloneEvidence(references)
	a.fill(outline.Root, md, false)
	return a
}

// Index maps reference URLs to their 1-based citation numbers.
func (a *Article) Index() map[string]int {
	idx := make(map[string]int, len(a.References))
	for i, ref := range a.References {
		idx[ref.URL] = i + 1
	}
	return idx
}

func cloneEvidence(in []knowledge.Evidence) []knowledge.Evidence {
	if in == nil {
		return nil
	}
	out := make([]knowledge.Evidence, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
