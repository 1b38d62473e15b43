package article

import (
	"slices"

	"auto_article_curator/knowledge"
	"auto_article_curator/textutil"
)

// SectionDraft is one independently generated section. Citation [i] in Text
// refers to Sources[i-1].
type SectionDraft struct {
	Name    string
	Text    string
	Sources []knowledge.Evidence
}

// Unified is the result of merging section-local citations into one
// reference list.
type Unified struct {
	// Sections carry the rewritten text; their Sources are the global
	// reference list, so feeding them back into Unify changes nothing.
	Sections []SectionDraft
	// References is the global list; [n] refers to References[n-1].
	References []knowledge.Evidence
	// Index maps a URL to its 1-based global citation number.
	Index map[string]int
	// Stripped counts out-of-range citation tokens removed before merging.
	Stripped          int
	StrippedBySection map[string]int
}

// Unify renumbers every section's citations against a global, URL-keyed
// reference list. Sections are processed in the given order and each
// section's citations in ascending local order; a URL keeps the number of
// its first appearance and later sightings merge their snippets into it.
func Unify(drafts []SectionDraft) Unified {
	u := Unified{
		Index:             make(map[string]int),
		StrippedBySection: make(map[string]int),
	}
	rewritten := make([]SectionDraft, 0, len(drafts))
	for _, d := range drafts {
		text, stripped := textutil.StripOutOfRange(d.Text, len(d.Sources))
		if stripped > 0 {
			u.Stripped += stripped
			u.StrippedBySection[d.Name] += stripped
		}

		locals := textutil.Citations(text)
		slices.Sort(locals)
		mapping := make(map[int]int, len(locals))
		for _, local := range locals {
			src := d.Sources[local-1]
			global, ok := u.Index[src.URL]
			if !ok {
				u.References = append(u.References, src.Clone())
				global = len(u.References)
				u.Index[src.URL] = global
			} else {
				u.References[global-1].Merge(src)
			}
			mapping[local] = global
		}
		rewritten = append(rewritten, SectionDraft{Name: d.Name, Text: textutil.Renumber(text, mapping)})
	}
	for i := range rewritten {
		rewritten[i].Sources = u.References
	}
	u.Sections = rewritten
	return u
}
