// Copyright 2025 Yukpo
// SPDX-License-Identifier: BUSL-1.1

package search

import "strings"

// accentFold maps the accented French letters onto their base forms.
var accentFold = map[rune]rune{
	'à': 'a', 'â': 'a', 'ä': 'a',
	'é': 'e', 'è': 'e', 'ê': 'e', 'ë': 'e',
	'î': 'i', 'ï': 'i',
	'ô': 'o', 'ö': 'o',
	'ù': 'u', 'û': 'u', 'ü': 'u',
	'ÿ': 'y',
	'ç': 'c',
}

// FoldAccents replaces accented letters with their unaccented base.
func FoldAccents(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if folded, ok := accentFold[r]; ok {
			b.WriteRune(folded)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeQuery lowercases the query and collapses everything that is
// not a letter, digit or space. The result is what the SQL receives as
// $1; accent variants are generated per word when building match
// conditions, not inlined here.
func NormalizeQuery(query string) string {
	lowered := strings.ToLower(strings.TrimSpace(query))
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		switch {
		case r == ' ' || isAlphanumeric(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isAlphanumeric(r rune) bool {
	if r >= '0' && r <= '9' || r >= 'a' && r <= 'z' {
		return true
	}
	_, accented := accentFold[r]
	return accented
}

// wordVariants returns the word plus its accent-folded form when they
// differ.
func wordVariants(word string) []string {
	variants := []string{word}
	if folded := FoldAccents(word); folded != word {
		variants = append(variants, folded)
	}
	return variants
}

// safeWord reports whether the word can be embedded in an ILIKE literal.
// Normalized queries only contain letters and digits, so this is a
// second line of defense rather than the primary sanitizer.
func safeWord(word string) bool {
	for _, r := range word {
		if !isAlphanumeric(r) {
			return false
		}
	}
	return word != ""
}
