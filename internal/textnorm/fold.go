// Package textnorm folds text for case-insensitive literal matching of names
// and search terms. Folding is NFKC followed by Unicode case folding, applied
// rune by rune so that positions in folded text map back to the original.
package textnorm

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Folded is a folded string with a byte-offset map back to its source.
type Folded struct {
	Text string
	offs []int // offs[i] is the source offset of folded byte i; len(offs) == len(Text)+1
	src  int
}

// Fold returns the folded form of s.
func Fold(s string) string {
	if isASCIILower(s) {
		return s
	}
	return FoldMapped(s).Text
}

// FoldMapped folds s and keeps the offset map.
func FoldMapped(s string) Folded {
	// cases.Caser is stateful; one per call.
	c := cases.Fold()
	var b strings.Builder
	b.Grow(len(s))
	offs := make([]int, 0, len(s)+1)
	for i, r := range s {
		var f string
		if r < utf8.RuneSelf {
			if 'A' <= r && r <= 'Z' {
				r += 'a' - 'A'
			}
			f = string(r)
		} else {
			f = c.String(norm.NFKC.String(string(r)))
		}
		for range len(f) {
			offs = append(offs, i)
		}
		b.WriteString(f)
	}
	offs = append(offs, len(s))
	return Folded{Text: b.String(), offs: offs, src: len(s)}
}

// Source maps a folded byte offset back to the source string.
func (f Folded) Source(i int) int {
	if i < 0 {
		return 0
	}
	if i >= len(f.offs) {
		return f.src
	}
	return f.offs[i]
}

// Index finds the folded needle in haystack and returns the source byte
// range of the first match, or (-1, -1).
func Index(haystack, needle string) (int, int) {
	n := Fold(needle)
	if n == "" {
		return -1, -1
	}
	h := FoldMapped(haystack)
	i := strings.Index(h.Text, n)
	if i < 0 {
		return -1, -1
	}
	return h.Source(i), h.Source(i + len(n))
}

// Contains reports whether haystack contains needle under folding.
func Contains(haystack, needle string) bool {
	return strings.Contains(Fold(haystack), Fold(needle))
}

// Snippet returns up to radius runes on either side of [start,end) in s,
// with ellipses where text was cut and newlines flattened.
func Snippet(s string, start, end, radius int) string {
	if start < 0 || end > len(s) || start > end {
		return ""
	}
	from := start
	for n := 0; n < radius && from > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(s[:from])
		from -= size
	}
	to := end
	for n := 0; n < radius && to < len(s); n++ {
		_, size := utf8.DecodeRuneInString(s[to:])
		to += size
	}
	out := strings.Join(strings.Fields(s[from:to]), " ")
	if from > 0 {
		out = "…" + out
	}
	if to < len(s) {
		out += "…"
	}
	return out
}

func isASCIILower(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= utf8.RuneSelf || ('A' <= c && c <= 'Z') {
			return false
		}
	}
	return true
}
