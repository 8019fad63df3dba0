package toc

import (
	"sort"

	"github.com/coolbeans/clausemap/pkg/clause"
)

// SortExtended orders entries hierarchically by clause number
// (1, 1.1, 1.2, 1.10, 2). Entries that compare equal keep their order.
func SortExtended(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return clause.Compare(entries[i].ClauseNumber, entries[j].ClauseNumber) < 0
	})
}

// Stats summarizes an extended table of contents.
type Stats struct {
	Entries  int `json:"entries" yaml:"entries"`
	Pages    int `json:"pages" yaml:"pages"`
	TopLevel int `json:"topLevel" yaml:"topLevel"`
	MaxDepth int `json:"maxDepth" yaml:"maxDepth"`
}

// Summarize counts entries, distinct pages, top-level clauses and the
// deepest nesting level.
func Summarize(entries []Entry) Stats {
	stats := Stats{Entries: len(entries)}
	pages := make(map[int]bool)
	for _, e := range entries {
		pages[e.PageNo] = true
		depth := len(clause.Parts(e.ClauseNumber))
		if depth == 1 {
			stats.TopLevel++
		}
		if depth > stats.MaxDepth {
			stats.MaxDepth = depth
		}
	}
	stats.Pages = len(pages)
	return stats
}

// ClauseMap turns entries into a clause map for reference lookup.
func ClauseMap(entries []Entry) clause.Map {
	m := make(clause.Map, len(entries))
	for _, e := range entries {
		if _, ok := m[e.ClauseNumber]; !ok {
			m[e.ClauseNumber] = e.Description
		}
	}
	return m
}
