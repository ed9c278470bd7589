// Package lexicon holds the bilingual word lists and text folding used by the
// deterministic extraction, validation and routing paths.
package lexicon

import (
	"strings"
	"unicode"
)

var letterFold = map[rune]rune{
	'أ': 'ا',
	'إ': 'ا',
	'آ': 'ا',
	'ٱ': 'ا',
	'ى': 'ي',
	'ة': 'ه',
	'ؤ': 'و',
	'ئ': 'ي',
}

// Fold lowercases, strips Arabic diacritics and tatweel, unifies alef, yeh
// and teh marbuta variants and collapses whitespace. The folded form is what
// every list in this package is matched against.
func Fold(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == 'ـ': // tatweel
			continue
		case r >= 0x064B && r <= 0x065F, r == 0x0670: // harakat, superscript alef
			continue
		}
		if f, ok := letterFold[r]; ok {
			r = f
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isSeparator(r rune) bool {
	switch r {
	case ',', '،', '.', '!', '?', '؟', ';', '؛', ':', '(', ')', '"', '\'', '-', '/', '\\', '*', '+', '&':
		return true
	}
	return unicode.IsSpace(r)
}

// Tokens folds s and splits it on whitespace and punctuation.
func Tokens(s string) []string {
	return strings.FieldsFunc(Fold(s), isSeparator)
}

func foldSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[Fold(w)] = struct{}{}
	}
	return m
}

func anyToken(tokens []string, set map[string]struct{}) bool {
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			return true
		}
	}
	return false
}

func containsPhrase(folded string, phrases map[string]struct{}) bool {
	for p := range phrases {
		if strings.Contains(p, " ") && strings.Contains(folded, p) {
			return true
		}
	}
	return false
}
