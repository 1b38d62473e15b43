// Package outline holds the section tree of an article and the two-step
// (draft, then refine) outline generation.
package outline

import (
	"strings"
)

// NodeID addresses a node inside one Tree. IDs are stable for the life of
// the tree; Clone preserves them, Prune returns a mapping.
type NodeID int

// Root is the topic node of every tree.
const Root NodeID = 0

// Node is one section heading.
type Node struct {
	Name     string
	Parent   NodeID
	Children []NodeID
}

// Tree is an arena of outline nodes rooted at the topic.
type Tree struct {
	nodes []Node
}

func NewTree(topic string) *Tree {
	return &Tree{nodes: []Node{{Name: topic, Parent: -1}}}
}

func (t *Tree) Topic() string { return t.nodes[Root].Name }

// Len is the number of nodes including the root.
func (t *Tree) Len() int { return len(t.nodes) }

func (t *Tree) Name(id NodeID) string { return t.nodes[id].Name }

func (t *Tree) Parent(id NodeID) NodeID { return t.nodes[id].Parent }

// Children returns a copy of id's child list.
func (t *Tree) Children(id NodeID) []NodeID {
	return append([]NodeID(nil), t.nodes[id].Children...)
}

// Add appends a child named name under parent. Names are unique among
// siblings: adding an existing name returns the existing node.
func (t *Tree) Add(parent NodeID, name string) NodeID {
	name = strings.TrimSpace(name)
	if id, ok := t.Child(parent, name); ok {
		return id
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, Node{Name: name, Parent: parent})
	t.nodes[parent].Children = append(t.nodes[parent].Children, id)
	return id
}

// Child finds the child of parent called name, ignoring case.
func (t *Tree) Child(parent NodeID, name string) (NodeID, bool) {
	for _, c := range t.nodes[parent].Children {
		if strings.EqualFold(t.nodes[c].Name, strings.TrimSpace(name)) {
			return c, true
		}
	}
	return 0, false
}

// Depth is 0 for the root, 1 for top-level sections.
func (t *Tree) Depth(id NodeID) int {
	d := 0
	for id != Root {
		id = t.nodes[id].Parent
		d++
	}
	return d
}

// Walk visits every node below id in pre-order with its depth relative to id.
func (t *Tree) Walk(id NodeID, fn func(id NodeID, depth int)) {
	var walk func(NodeID, int)
	walk = func(n NodeID, depth int) {
		for _, c := range t.nodes[n].Children {
			fn(c, depth+1)
			walk(c, depth+1)
		}
	}
	walk(id, 0)
}

// Descendants lists every node below id in pre-order.
func (t *Tree) Descendants(id NodeID) []NodeID {
	var out []NodeID
	t.Walk(id, func(n NodeID, _ int) { out = append(out, n) })
	return out
}

func (t *Tree) Clone() *Tree {
	nodes := make([]Node, len(t.nodes))
	for i, n := range t.nodes {
		n.Children = append([]NodeID(nil), n.Children...)
		nodes[i] = n
	}
	return &Tree{nodes: nodes}
}

// Markdown renders the sections below the root, top level as "#".
func (t *Tree) Markdown() string {
	var lines []string
	t.Walk(Root, func(id NodeID, depth int) {
		lines = append(lines, strings.Repeat("#", depth)+" "+t.nodes[id].Name)
	})
	return strings.Join(lines, "\n")
}

// SubtreeMarkdown renders id as "#" followed by its descendants.
func (t *Tree) SubtreeMarkdown(id NodeID) string {
	lines := []string{"# " + t.nodes[id].Name}
	t.Walk(id, func(n NodeID, depth int) {
		lines = append(lines, strings.Repeat("#", depth+1)+" "+t.nodes[n].Name)
	})
	return strings.Join(lines, "\n")
}

// Prune returns a new tree holding the root and every node for which keep
// is true or that has a surviving descendant. The map translates old IDs of
// surviving nodes to new ones.
func (t *Tree) Prune(keep func(id NodeID) bool) (*Tree, map[NodeID]NodeID) {
	survives := make([]bool, len(t.nodes))
	var mark func(NodeID) bool
	mark = func(id NodeID) bool {
		alive := id == Root || keep(id)
		for _, c := range t.nodes[id].Children {
			if mark(c) {
				alive = true
			}
		}
		survives[id] = alive
		return alive
	}
	mark(Root)

	out := NewTree(t.Topic())
	mapping := map[NodeID]NodeID{Root: Root}
	t.Walk(Root, func(id NodeID, _ int) {
		if !survives[id] {
			return
		}
		newID := NodeID(len(out.nodes))
		parent := mapping[t.nodes[id].Parent]
		out.nodes = append(out.nodes, Node{Name: t.nodes[id].Name, Parent: parent})
		out.nodes[parent].Children = append(out.nodes[parent].Children, newID)
		mapping[id] = newID
	})
	return out, mapping
}
