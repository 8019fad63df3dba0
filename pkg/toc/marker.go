package toc

import (
	"strconv"
	"strings"
)

const (
	markerPrefix = "=== PAGE "
	markerSuffix = " ==="
)

// PageMarker returns the marker line that announces page n.
func PageMarker(n int) string {
	return markerPrefix + strconv.Itoa(n) + markerSuffix
}

// ParsePageMarker recognizes a line of the exact form "=== PAGE <n> ===",
// ignoring surrounding whitespace. n must be a positive integer.
func ParsePageMarker(line string) (int, bool) {
	t := strings.TrimSpace(line)
	if !strings.HasPrefix(t, markerPrefix) || !strings.HasSuffix(t, markerSuffix) {
		return 0, false
	}
	if len(t) <= len(markerPrefix)+len(markerSuffix) {
		return 0, false
	}

	digits := t[len(markerPrefix) : len(t)-len(markerSuffix)]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}

	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
