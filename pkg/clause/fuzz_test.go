package clause

import (
	"strings"
	"testing"
)

// FuzzScan checks the scanner against arbitrary text.
// Run with: go test -fuzz=FuzzScan -fuzztime=30s ./pkg/clause/...
func FuzzScan(f *testing.F) {
	seeds := []string{
		"1.2.3  General Conditions ............ 45",
		"25.1(b)  Subsection with parenthetical",
		"GC-1.2A Contractor's Obligations",
		"Subject to Clause 2.1(a)(ii) and 14.3, the Engineer shall",
		"SECTION IV - PARTS",
		"A-\nSC-\nGC.",
		"(((((",
		"1.1.1.1.1.1.1.1.1.1.1.1.1.1.1.1.1.1",
		"2.1(a)bis é1 1é «2.3»",
		"",
		strings.Repeat("9", 200),
		"=== PAGE 3 ===",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, data string) {
		m := ParseTOC(data)
		for number, heading := range m {
			if number == "" || heading == "" {
				t.Fatalf("empty mapping %q -> %q", number, heading)
			}
			if !IsClauseNumber(number) {
				t.Fatalf("parsed number %q is not a clause number", number)
			}
		}

		for _, ref := range FindReferences(data, m) {
			if _, ok := m[ref]; !ok {
				t.Fatalf("reference %q not in map", ref)
			}
		}

		for number := range m {
			match, ok := FindBestMatch(number, m)
			if !ok || match.Number != number {
				t.Fatalf("exact lookup of %q returned %+v, %v", number, match, ok)
			}
		}

		_ = IsClauseNumber(data)
		_ = Compare(data, strings.TrimSpace(data))
	})
}
