package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks drops combining marks. runes.Remove is stateless, so sharing it
// across goroutines is safe.
var stripMarks = runes.Remove(runes.In(unicode.Mn))

// Normalize canonicalizes text for key comparison: trim, lower-case, strip
// diacritics (NFD, drop combining marks), map non-breaking spaces to spaces,
// and collapse runs of spaces. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = strings.ToLower(s)
	s = norm.NFD.String(s)
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}
	s = strings.ReplaceAll(s, "\u00a0", " ")
	s = collapseSpaces(s)
	// Removing a leading or trailing combining mark can expose a space.
	return strings.TrimSpace(s)
}

// NormalizeCell normalizes the text form of a cell.
func NormalizeCell(c Cell) string {
	return Normalize(c.String())
}

func collapseSpaces(s string) string {
	if !strings.Contains(s, "  ") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' {
			if prevSpace {
				continue
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
