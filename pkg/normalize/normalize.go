// Package normalize turns extracted document text into the page-marked,
// line-oriented body that the extended TOC builder scans.
package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/coolbeans/clausemap/pkg/toc"
)

// Document is the normalized body of one source file.
type Document struct {
	Kind      Kind   `json:"kind" yaml:"kind"`
	Text      string `json:"-" yaml:"-"`
	PageCount int    `json:"pageCount" yaml:"pageCount"`
	Extracted int    `json:"extracted" yaml:"extracted"`
	Failed    int    `json:"failed" yaml:"failed"`
}

var spaceRunPattern = regexp.MustCompile(`[ \t]+`)

// typographic replaces punctuation that NFKC leaves alone but that breaks
// clause tokens and dot leaders.
var typographic = strings.NewReplacer(
	"\u2010", "-",
	"\u2011", "-",
	"\u2012", "-",
	"\u2013", "-",
	"\u2014", "-",
	"\u2212", "-",
	"\u2018", "'",
	"\u2019", "'",
	"\u201c", `"`,
	"\u201d", `"`,
	"\u00a0", " ",
	"\u00ad", "",
)

// Line normalizes a single line: NFKC, ASCII punctuation, collapsed
// whitespace, trimmed.
func Line(line string) string {
	line = norm.NFKC.String(line)
	line = typographic.Replace(line)
	line = spaceRunPattern.ReplaceAllString(line, " ")
	return strings.TrimSpace(line)
}

// Text joins pages into one body with a page marker before every page.
// Blank lines are dropped.
func Text(pages []string) string {
	var b strings.Builder
	for i, page := range pages {
		b.WriteString(toc.PageMarker(i + 1))
		b.WriteByte('\n')
		writeLines(&b, page)
	}
	return b.String()
}

// FromPlainText normalizes text from a plain-text extractor. Pages are
// separated by form feeds. Text that already carries page markers keeps
// them and is only normalized line by line.
func FromPlainText(raw string) (string, int) {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	if pages := countMarkers(raw); pages > 0 {
		var b strings.Builder
		writeLines(&b, raw)
		return b.String(), pages
	}

	pages := strings.Split(raw, "\f")
	if len(pages) > 1 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return Text(pages), len(pages)
}

func writeLines(b *strings.Builder, text string) {
	for rest := text; rest != ""; {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		if line = Line(line); line == "" {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
}

func countMarkers(text string) int {
	n := 0
	for rest := text; rest != ""; {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		if _, ok := toc.ParsePageMarker(line); ok {
			n++
		}
	}
	return n
}
