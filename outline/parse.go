package outline

import (
	"regexp"
	"strings"
)

var (
	headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	bulletRe  = regexp.MustCompile(`^\s*[-*+]\s+(.+?)\s*$`)
)

var boilerplate = map[string]bool{
	"see also":        true,
	"references":      true,
	"notes":           true,
	"external links":  true,
	"bibliography":    true,
	"further reading": true,
	"summary":         true,
	"appendix":        true,
}

type heading struct {
	depth int
	name  string
}

// Clean normalizes model output into heading-only markdown: boilerplate
// sections and their subsections are dropped, bullet items become headings
// one level below the preceding heading, and a leading heading repeating the
// topic is removed. All other lines are discarded.
func Clean(md, topic string) string {
	var hs []heading
	last := 0
	for _, line := range strings.Split(md, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			last = len(m[1])
			hs = append(hs, heading{depth: last, name: m[2]})
			continue
		}
		if m := bulletRe.FindStringSubmatch(line); m != nil {
			hs = append(hs, heading{depth: last + 1, name: m[1]})
		}
	}

	// drop boilerplate with everything nested below it
	kept := hs[:0]
	skipBelow := 0
	for _, h := range hs {
		if skipBelow > 0 {
			if h.depth > skipBelow {
				continue
			}
			skipBelow = 0
		}
		if boilerplate[normalizeName(h.name)] {
			skipBelow = h.depth
			continue
		}
		kept = append(kept, h)
	}
	hs = kept

	if len(hs) > 0 && strings.EqualFold(normalizeName(hs[0].name), normalizeName(topic)) {
		top := hs[0].depth
		wraps := true
		for _, h := range hs[1:] {
			if h.depth <= top {
				wraps = false
				break
			}
		}
		hs = hs[1:]
		if wraps {
			for i := range hs {
				hs[i].depth--
			}
		}
	}

	lines := make([]string, 0, len(hs))
	for _, h := range hs {
		lines = append(lines, strings.Repeat("#", max(1, h.depth))+" "+strings.TrimSpace(h.name))
	}
	return strings.Join(lines, "\n")
}

// Parse builds a tree from heading markdown. A heading of depth d attaches
// to the nearest preceding heading of depth < d, or to the root.
func Parse(md, topic string) *Tree {
	t := NewTree(topic)
	type frame struct {
		id    NodeID
		depth int
	}
	stack := []frame{{id: Root, depth: 0}}
	for _, line := range strings.Split(md, "\n") {
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		depth := len(m[1])
		for len(stack) > 1 && stack[len(stack)-1].depth >= depth {
			stack = stack[:len(stack)-1]
		}
		id := t.Add(stack[len(stack)-1].id, m[2])
		stack = append(stack, frame{id: id, depth: depth})
	}
	return t
}

func normalizeName(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.TrimSpace(strings.TrimRight(s, ":"))
}
