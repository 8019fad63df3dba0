package clause

import "strings"

// Parts splits a clause number before every '.' and '(' so that
// "1.1(a)" becomes ["1", ".1", "(a)"].
func Parts(number string) []string {
	var parts []string
	start := 0
	for i := 1; i < len(number); i++ {
		if number[i] == '.' || number[i] == '(' {
			parts = append(parts, number[start:i])
			start = i
		}
	}
	if start < len(number) {
		parts = append(parts, number[start:])
	}
	return parts
}

// Compare orders clause numbers hierarchically: 1 < 1.1 < 1.2 < 1.10 < 2.
// Parts whose digits can be compared are compared as numbers, anything else
// byte-wise. A parent sorts before its children.
func Compare(a, b string) int {
	pa, pb := Parts(a), Parts(b)
	for i := 0; i < len(pa) && i < len(pb); i++ {
		if c := comparePart(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(pa) < len(pb):
		return -1
	case len(pa) > len(pb):
		return 1
	}
	return 0
}

func comparePart(a, b string) int {
	if a == b {
		return 0
	}
	da, db := digitsOf(a), digitsOf(b)
	if da != "" && db != "" {
		if c := compareDigits(da, db); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}

// digitsOf keeps only the ASCII digits of s.
func digitsOf(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if '0' <= s[i] && s[i] <= '9' {
			sb.WriteByte(s[i])
		}
	}
	return sb.String()
}

// compareDigits compares two non-empty digit strings by value without
// converting them, so arbitrarily long numbers cannot overflow.
func compareDigits(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
