// Package textutil holds the pure text transforms shared by the research and
// synthesis stages: citation handling, sentence trimming and word limits.
package textutil

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	citationRe        = regexp.MustCompile(`\[(\d+)\]`)
	spacedCitationRe  = regexp.MustCompile(`[ \t]*\[(\d+)\]`)
	groupedCitationRe = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)+)\]`)
	placeholderRe     = regexp.MustCompile("\x1acite:(\\d+)\x1a")
	sentenceEndRe     = regexp.MustCompile(`[.!?]["'”’)]*(?:\s*\[\d+\])*(?:\s|$)`)
	listItemRe        = regexp.MustCompile(`^\s*(?:\d+[.)]|[-*•])\s+(.+?)\s*$`)
)

// NormalizeCitations rewrites grouped citations such as "[1, 2]" into "[1][2]".
func NormalizeCitations(text string) string {
	return groupedCitationRe.ReplaceAllStringFunc(text, func(m string) string {
		inner := strings.Trim(m, "[]")
		var b strings.Builder
		for _, part := range strings.Split(inner, ",") {
			b.WriteString("[")
			b.WriteString(strings.TrimSpace(part))
			b.WriteString("]")
		}
		return b.String()
	})
}

// Citations returns the distinct citation numbers of text in order of first use.
func Citations(text string) []int {
	var out []int
	seen := make(map[int]bool)
	for _, m := range citationRe.FindAllStringSubmatch(NormalizeCitations(text), -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// StripOutOfRange removes citation tokens outside 1..max, together with the
// blanks before them, and reports how many tokens were removed.
func StripOutOfRange(text string, max int) (string, int) {
	removed := 0
	out := spacedCitationRe.ReplaceAllStringFunc(NormalizeCitations(text), func(m string) string {
		tok := strings.TrimLeft(m, " \t")
		n, err := strconv.Atoi(tok[1 : len(tok)-1])
		if err != nil || n < 1 || n > max {
			removed++
			return ""
		}
		return m
	})
	return out, removed
}

// RemoveCitations drops every citation token from text.
func RemoveCitations(text string) string {
	return citationRe.ReplaceAllString(NormalizeCitations(text), "")
}

// Renumber rewrites citation tokens through mapping. Tokens are first turned
// into placeholders carrying their new number and only then rendered, so a
// swap like 1->2, 2->1 cannot substitute twice. Unmapped tokens are kept.
func Renumber(text string, mapping map[int]int) string {
	staged := citationRe.ReplaceAllStringFunc(NormalizeCitations(text), func(m string) string {
		n, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil {
			return m
		}
		to, ok := mapping[n]
		if !ok {
			return m
		}
		return fmt.Sprintf("\x1acite:%d\x1a", to)
	})
	return placeholderRe.ReplaceAllString(staged, "[$1]")
}

// TrimIncompleteSentence cuts text after the last complete sentence, keeping
// any citations that directly follow the sentence end. Text without any
// sentence end is returned unchanged.
func TrimIncompleteSentence(text string) string {
	text = strings.TrimSpace(NormalizeCitations(text))
	locs := sentenceEndRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return text
	}
	return strings.TrimSpace(text[:locs[len(locs)-1][1]])
}

// LimitWords keeps at most max words of text, preserving line breaks.
func LimitWords(text string, max int) string {
	if max <= 0 {
		return ""
	}
	var b strings.Builder
	count := 0
	for i, line := range strings.Split(text, "\n") {
		words := strings.Fields(line)
		if count+len(words) > max {
			if keep := max - count; keep > 0 {
				if i > 0 {
					b.WriteString("\n")
				}
				b.WriteString(strings.Join(words[:keep], " "))
			}
			break
		}
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(line)
		count += len(words)
	}
	return strings.TrimRight(b.String(), "\n")
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// ParseList returns the items of a numbered or bulleted list, ignoring any
// line that is not a list item.
func ParseList(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		m := listItemRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		item := strings.Trim(strings.TrimSpace(m[1]), `"`)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
