// Package clause recognizes contract clause numbers (1.2.3, 25.1(b),
// GC-1.2A, IV) and maps them to the headings printed in a table of
// contents.
//
// The grammar is implemented as a small scanner rather than a single
// regular expression because RE2 has no lookaround. A clause number is:
//
//	first    = roman | digits | code          code only when followed by '.' or '-'
//	rest     = { ('.' | '-') (roman | digits) }
//	suffixes = { '(' alnum ')' }
//
// where roman is a run of I V X L C D M, digits is a run of [A-Z0-9]
// containing at least one digit and code is 1-4 uppercase letters.
package clause

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxAlphaCode is the longest bare letter code accepted as a first segment.
const maxAlphaCode = 4

type segmentKind int

const (
	segmentInvalid segmentKind = iota
	segmentRoman
	segmentDigits
	segmentCode
)

func isASCIIAlnum(b byte) bool {
	return ('0' <= b && b <= '9') || ('A' <= b && b <= 'Z') || ('a' <= b && b <= 'z')
}

func isSeparator(b byte) bool {
	return b == '.' || b == '-'
}

// runEnd returns the end of the maximal run of ASCII letters and digits
// starting at pos.
func runEnd(s string, pos int) int {
	for pos < len(s) && isASCIIAlnum(s[pos]) {
		pos++
	}
	return pos
}

// classifySegment judges a whole alnum run. Segments are uppercase only, so
// a run holding any lowercase letter is never part of a clause number.
func classifySegment(run string) segmentKind {
	if run == "" {
		return segmentInvalid
	}

	hasDigit := false
	allRoman := true
	for i := 0; i < len(run); i++ {
		b := run[i]
		switch {
		case '0' <= b && b <= '9':
			hasDigit = true
			allRoman = false
		case 'A' <= b && b <= 'Z':
			if strings.IndexByte("IVXLCDM", b) < 0 {
				allRoman = false
			}
		default:
			return segmentInvalid
		}
	}

	switch {
	case hasDigit:
		return segmentDigits
	case allRoman:
		return segmentRoman
	case len(run) <= maxAlphaCode:
		return segmentCode
	}
	return segmentInvalid
}

// scan reads a clause number starting at pos and returns every position at
// which the number could end, shortest first. The last element is the
// longest match. A nil result means no clause number starts at pos.
//
// The shorter ends let callers apply their own boundary rule: "2.1(a)b"
// is not a reference to 2.1(a) but is one to 2.1.
func scan(s string, pos int) []int {
	if pos >= len(s) || !isASCIIAlnum(s[pos]) {
		return nil
	}

	end := runEnd(s, pos)
	switch classifySegment(s[pos:end]) {
	case segmentInvalid:
		return nil
	case segmentCode:
		if end >= len(s) || !isSeparator(s[end]) {
			return nil
		}
	}

	ends := []int{end}

	for end < len(s) && isSeparator(s[end]) {
		next := runEnd(s, end+1)
		kind := classifySegment(s[end+1 : next])
		if kind != segmentRoman && kind != segmentDigits {
			break
		}
		end = next
		ends = append(ends, end)
	}

	for end < len(s) && s[end] == '(' {
		closing := runEnd(s, end+1)
		if closing == end+1 || closing >= len(s) || s[closing] != ')' {
			break
		}
		end = closing + 1
		ends = append(ends, end)
	}

	return ends
}

// isWordRune reports whether r would glue onto a clause number and make it
// part of a larger word.
func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// wordBefore reports whether the rune immediately before pos is a letter or
// digit.
func wordBefore(s string, pos int) bool {
	if pos == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:pos])
	return isWordRune(r)
}

// wordAfter reports whether the rune at pos is a letter or digit.
func wordAfter(s string, pos int) bool {
	if pos >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[pos:])
	return isWordRune(r)
}

// IsClauseNumber reports whether the whole of text, ignoring surrounding
// whitespace, is a single clause number.
func IsClauseNumber(text string) bool {
	t := strings.TrimSpace(text)
	ends := scan(t, 0)
	return len(ends) > 0 && ends[len(ends)-1] == len(t)
}
