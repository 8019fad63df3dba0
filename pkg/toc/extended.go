// Package toc builds an extended table of contents by scanning a whole
// normalized contract body for clause heading lines.
package toc

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/coolbeans/clausemap/pkg/clause"
)

// Entry is one clause heading found in a document body.
type Entry struct {
	ClauseNumber string `json:"clauseNumber" yaml:"clauseNumber"`
	Description  string `json:"description" yaml:"description"`
	PageNo       int    `json:"pageNo" yaml:"pageNo"`
}

// Reason explains why a line did or did not become an entry.
type Reason string

const (
	ReasonAccepted      Reason = "accepted"
	ReasonPageMarker    Reason = "page_marker"
	ReasonNoClause      Reason = "no_clause"
	ReasonHeadingLength Reason = "heading_length"
	ReasonHeadingCase   Reason = "heading_case"
	ReasonSentence      Reason = "sentence_fragment"
	ReasonTokenLength   Reason = "token_length"
	ReasonDocumentID    Reason = "document_id"
	ReasonDuplicate     Reason = "duplicate"
)

const (
	minHeadingRunes = 3
	maxHeadingRunes = 100
	maxTokenLength  = 15
	idDigitRun      = 4
)

// defaultSentenceOpeners are headings that are really the continuation of
// a sentence such as "within 14 Days after ..." or "1 and 2 have been ...".
var defaultSentenceOpeners = []string{
	"Business Days",
	"Business Day",
	"Calendar Days",
	"Calendar Day",
	"Days",
	"Day",
	"Weeks",
	"Week",
	"Months",
	"Month",
	"Years",
	"Year",
	"and ",
	"or ",
	"are solely",
	"is required",
	"was correct",
	"have been",
	"has been",
}

// Builder scans document text for clause headings. A Builder holds no
// per-scan state and may be shared between goroutines.
type Builder struct {
	sentenceOpeners []string
}

// NewBuilder creates a Builder with the default heading filters.
func NewBuilder() *Builder {
	return &Builder{sentenceOpeners: defaultSentenceOpeners}
}

var defaultBuilder = NewBuilder()

// BuildExtended scans raw with the default Builder.
func BuildExtended(raw string) []Entry {
	return defaultBuilder.Build(raw)
}

// Classify judges a single line on its own, without page or duplicate
// tracking.
func (b *Builder) Classify(line string) (number, heading string, reason Reason) {
	if _, ok := ParsePageMarker(line); ok {
		return "", "", ReasonPageMarker
	}

	number, heading, ok := clause.SplitHeadingLine(line)
	if !ok {
		return "", "", ReasonNoClause
	}

	if n := utf8.RuneCountInString(heading); n < minHeadingRunes || n > maxHeadingRunes {
		return number, heading, ReasonHeadingLength
	}
	if first, _ := utf8.DecodeRuneInString(heading); !unicode.IsUpper(first) && first != '[' {
		return number, heading, ReasonHeadingCase
	}
	if b.isSentenceFragment(heading) {
		return number, heading, ReasonSentence
	}
	if len(number) > maxTokenLength {
		return number, heading, ReasonTokenLength
	}
	if leadingDigits(number) >= idDigitRun {
		return number, heading, ReasonDocumentID
	}

	return number, heading, ReasonAccepted
}

// Build scans raw line by line and returns the accepted headings in
// document order. The first occurrence of a clause number wins.
func (b *Builder) Build(raw string) []Entry {
	s := b.newScan()
	for rest := raw; rest != ""; {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		s.line(line)
	}
	return s.entries
}

// BuildReader is Build over a stream. It only fails when r does.
func (b *Builder) BuildReader(r io.Reader) ([]Entry, error) {
	s := b.newScan()
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			s.line(line)
		}
		if err == io.EOF {
			return s.entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading document: %w", err)
		}
	}
}

// Trace is the per-line verdict reported by Explain.
type Trace struct {
	Line    int    `json:"line" yaml:"line"`
	Page    int    `json:"page" yaml:"page"`
	Number  string `json:"number,omitempty" yaml:"number,omitempty"`
	Heading string `json:"heading,omitempty" yaml:"heading,omitempty"`
	Reason  Reason `json:"reason" yaml:"reason"`
}

// Explain runs the same scan as Build and reports a verdict for every line
// that starts with a clause number, for debugging false positives and
// misses.
func (b *Builder) Explain(raw string) []Trace {
	s := b.newScan()
	var traces []Trace
	lineNo := 0
	for rest := raw; rest != ""; {
		var line string
		line, rest, _ = strings.Cut(rest, "\n")
		lineNo++
		reason, number, heading := s.line(line)
		if reason == ReasonNoClause || reason == ReasonPageMarker {
			continue
		}
		traces = append(traces, Trace{
			Line:    lineNo,
			Page:    s.page,
			Number:  number,
			Heading: heading,
			Reason:  reason,
		})
	}
	return traces
}

// scanState is the carried state of one forward pass.
type scanState struct {
	b       *Builder
	page    int
	seen    map[string]bool
	entries []Entry
}

func (b *Builder) newScan() *scanState {
	return &scanState{b: b, page: 1, seen: make(map[string]bool)}
}

func (s *scanState) line(line string) (Reason, string, string) {
	if n, ok := ParsePageMarker(line); ok {
		s.page = n
		return ReasonPageMarker, "", ""
	}

	number, heading, reason := s.b.Classify(line)
	if reason != ReasonAccepted {
		return reason, number, heading
	}
	if s.seen[number] {
		return ReasonDuplicate, number, heading
	}

	s.seen[number] = true
	s.entries = append(s.entries, Entry{
		ClauseNumber: number,
		Description:  heading,
		PageNo:       s.page,
	})
	return ReasonAccepted, number, heading
}

// isSentenceFragment reports whether heading opens with one of the
// builder's sentence openers. Openers that end in a letter must end on a
// word boundary, so "Monthly Statements" is not rejected by "Month".
func (b *Builder) isSentenceFragment(heading string) bool {
	for _, opener := range b.sentenceOpeners {
		if len(heading) < len(opener) || !strings.EqualFold(heading[:len(opener)], opener) {
			continue
		}
		if len(heading) == len(opener) || !unicode.IsLetter(rune(opener[len(opener)-1])) {
			return true
		}
		next, _ := utf8.DecodeRuneInString(heading[len(opener):])
		if !unicode.IsLetter(next) {
			return true
		}
	}
	return false
}

func leadingDigits(s string) int {
	n := 0
	for n < len(s) && '0' <= s[n] && s[n] <= '9' {
		n++
	}
	return n
}
