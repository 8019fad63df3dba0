package clause

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Map holds clause headings keyed by clause number.
type Map map[string]string

// Mapping is a single clause number with its heading.
type Mapping struct {
	Number  string `json:"number" yaml:"number"`
	Heading string `json:"heading" yaml:"heading"`
}

// Match is the result of resolving a clause number against a Map. Number is
// the key that was found, which may be an ancestor of the one requested.
type Match struct {
	Number  string `json:"number" yaml:"number"`
	Heading string `json:"heading" yaml:"heading"`
}

// Mappings returns the map's entries in hierarchical clause order.
func (m Map) Mappings() []Mapping {
	out := make([]Mapping, 0, len(m))
	for number, heading := range m {
		out = append(out, Mapping{Number: number, Heading: heading})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := Compare(out[i].Number, out[j].Number); c != 0 {
			return c < 0
		}
		return out[i].Number < out[j].Number
	})
	return out
}

var (
	// "General Conditions ........ 45" or "General Conditions . . . 45"
	dotLeaderPattern = regexp.MustCompile(`\s*(?:(?:\.\s*){2,}|…+\s*)\d+\s*$`)
	// "General Conditions 45"
	pageNumberPattern = regexp.MustCompile(`\s+\d+\s*$`)
	// "General Conditions ......" where OCR lost the page number
	bareLeaderPattern = regexp.MustCompile(`\s*\.{3,}$`)
)

// CleanHeading strips trailing dot leaders and page numbers from a TOC
// heading.
func CleanHeading(heading string) string {
	h := strings.TrimSpace(heading)
	h = dotLeaderPattern.ReplaceAllString(h, "")
	h = pageNumberPattern.ReplaceAllString(h, "")
	h = bareLeaderPattern.ReplaceAllString(h, "")
	return strings.TrimSpace(h)
}

// SplitHeadingLine splits a line of the form "<clause number> <heading>".
// The clause number must start the trimmed line and be followed by
// whitespace. The returned heading is already cleaned and is never empty
// when ok is true.
func SplitHeadingLine(line string) (number, heading string, ok bool) {
	t := strings.TrimSpace(line)
	ends := scan(t, 0)
	if len(ends) == 0 {
		return "", "", false
	}

	end := ends[len(ends)-1]
	if end >= len(t) {
		return "", "", false
	}
	if r, _ := utf8.DecodeRuneInString(t[end:]); !unicode.IsSpace(r) {
		return "", "", false
	}

	heading = CleanHeading(t[end:])
	if heading == "" {
		return "", "", false
	}
	return t[:end], heading, true
}

// ParseTOC reads a table-of-contents block line by line and maps every
// clause number to its heading. Lines that do not start with a clause number
// are skipped. When a number repeats, the last line wins.
func ParseTOC(text string) Map {
	m := make(Map)
	for rest := text; rest != ""; {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		if number, heading, ok := SplitHeadingLine(line); ok {
			m[number] = heading
		}
	}
	return m
}

// FindReferences scans free text for clause numbers that appear in m and
// returns them once each, in order of first appearance. A number glued to a
// neighbouring letter or digit is not a reference; punctuation around it is
// fine.
func FindReferences(text string, m Map) []string {
	var refs []string
	seen := make(map[string]bool)
	for _, span := range FindReferenceSpans(text, m) {
		if !seen[span.Number] {
			seen[span.Number] = true
			refs = append(refs, span.Number)
		}
	}
	return refs
}

// Span locates one reference in a text: text[Start:End] == Number.
type Span struct {
	Start  int    `json:"start" yaml:"start"`
	End    int    `json:"end" yaml:"end"`
	Number string `json:"number" yaml:"number"`
}

// FindReferenceSpans reports every occurrence of a known clause number in
// text, in order, using the same boundary rules as FindReferences.
func FindReferenceSpans(text string, m Map) []Span {
	if len(m) == 0 {
		return nil
	}

	var spans []Span
	for i := 0; i < len(text); {
		if !isASCIIAlnum(text[i]) {
			i++
			continue
		}
		if wordBefore(text, i) {
			i = runEnd(text, i)
			continue
		}

		end := -1
		ends := scan(text, i)
		for k := len(ends) - 1; k >= 0; k-- {
			if !wordAfter(text, ends[k]) {
				end = ends[k]
				break
			}
		}
		if end < 0 {
			i = runEnd(text, i)
			continue
		}

		number := text[i:end]
		if _, known := m[number]; known {
			spans = append(spans, Span{Start: i, End: end, Number: number})
		}
		i = end
	}

	return spans
}

// FindBestMatch resolves number against m, falling back to the closest
// enclosing clause. Trailing parentheticals are stripped first
// (2.1(a)(ii) -> 2.1(a) -> 2.1). Then the number is split on dots and
// hyphens and trailing segments are dropped (2.1.3 -> 2.1 -> 2, 3-1.2 -> 3.1
// -> 3). Last, a hyphenated code keeps its prefix and drops dot segments
// from its final part (GC-1.2 -> GC-1).
func FindBestMatch(number string, m Map) (Match, bool) {
	n := strings.TrimSpace(number)
	if n == "" || len(m) == 0 {
		return Match{}, false
	}

	lookup := func(candidate string) (Match, bool) {
		heading, ok := m[candidate]
		return Match{Number: candidate, Heading: heading}, ok
	}

	if match, ok := lookup(n); ok {
		return match, true
	}

	for strings.HasSuffix(n, ")") {
		open := strings.LastIndexByte(n, '(')
		if open <= 0 {
			break
		}
		n = n[:open]
		if match, ok := lookup(n); ok {
			return match, true
		}
	}

	segments := strings.FieldsFunc(n, func(r rune) bool { return r == '.' || r == '-' })
	for i := len(segments) - 1; i > 0; i-- {
		if match, ok := lookup(strings.Join(segments[:i], ".")); ok {
			return match, true
		}
	}

	if hyphen := strings.LastIndexByte(n, '-'); hyphen > 0 {
		prefix, last := n[:hyphen+1], strings.Split(n[hyphen+1:], ".")
		for i := len(last) - 1; i > 0; i-- {
			if match, ok := lookup(prefix + strings.Join(last[:i], ".")); ok {
				return match, true
			}
		}
	}

	return Match{}, false
}
