// Package numerals maps Arabic-Indic digits to ASCII and extracts integers
// from normalized text.
package numerals

import (
	"regexp"
	"strconv"
	"strings"
)

// Text is a message with no Arabic-Indic or Extended Arabic-Indic digits left.
type Text string

func (t Text) String() string { return string(t) }

var digitMap = func() map[rune]rune {
	m := make(map[rune]rune, 20)
	for i := 0; i < 10; i++ {
		m['٠'+rune(i)] = '0' + rune(i) // U+0660..U+0669
		m['۰'+rune(i)] = '0' + rune(i) // U+06F0..U+06F9
	}
	return m
}()

// Normalize maps every Arabic-Indic digit to its ASCII counterpart. It is
// total and idempotent.
func Normalize(s string) Text {
	if !strings.ContainsFunc(s, isEasternDigit) {
		return Text(s)
	}
	return Text(strings.Map(func(r rune) rune {
		if d, ok := digitMap[r]; ok {
			return d
		}
		return r
	}, s))
}

func isEasternDigit(r rune) bool {
	_, ok := digitMap[r]
	return ok
}

var integerPattern = regexp.MustCompile(`\d+`)

// FirstInteger returns the first run of ASCII digits in t.
func FirstInteger(t Text) (int, bool) {
	m := integerPattern.FindString(string(t))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Integers returns every run of ASCII digits in t, in order.
func Integers(t Text) []int {
	matches := integerPattern.FindAllString(string(t), -1)
	out := make([]int, 0, len(matches))
	for _, m := range matches {
		if n, err := strconv.Atoi(m); err == nil {
			out = append(out, n)
		}
	}
	return out
}

// BareInteger reports whether t is only an integer, ignoring surrounding
// whitespace and trailing punctuation.
func BareInteger(t Text) (int, bool) {
	s := strings.TrimSpace(string(t))
	s = strings.TrimRight(s, ".!?؟،,")
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// HasDigit reports whether t contains any ASCII digit.
func HasDigit(t Text) bool {
	return integerPattern.MatchString(string(t))
}

// StripDigits removes digits and collapses the remaining whitespace.
func StripDigits(t Text) string {
	return strings.Join(strings.Fields(integerPattern.ReplaceAllString(string(t), " ")), " ")
}
