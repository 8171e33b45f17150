package services

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	bracketed     = regexp.MustCompile(`\s*[\(\[\{][^\)\]\}]*[\)\]\}]`)
	featuring     = regexp.MustCompile(`(?i)\s+(feat\.?|ft\.?|featuring)\s+.*$`)
	unsafeName    = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
	repeatedSpace = regexp.MustCompile(`\s+`)
)

// foldDiacritics strips combining marks so "Beyoncé" compares equal to
// "Beyonce".
func foldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// cleanSearchTerm removes decorations that upset catalog searches:
// bracketed suffixes, featuring credits and underscores.
func cleanSearchTerm(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	s = bracketed.ReplaceAllString(s, "")
	s = featuring.ReplaceAllString(s, "")
	s = repeatedSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// normalizeForMatch prepares a string for fuzzy comparison.
func normalizeForMatch(s string) string {
	return strings.ToLower(foldDiacritics(cleanSearchTerm(s)))
}

// safeFileName turns an arbitrary title into a portable file name stem.
func safeFileName(s string) string {
	s = foldDiacritics(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = unsafeName.ReplaceAllString(s, "")
	s = strings.Trim(s, "._-")
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// TitleCase renders a label for display.
func TitleCase(s string) string {
	return cases.Title(language.Und).String(s)
}
