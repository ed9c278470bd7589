// Package guard filters inbound messages before they reach the session
// coordinator: sanitization, a spam heuristic and per-user rate limits.
package guard

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	MaxMessageRunes = 1000

	repeatRunLimit  = 20
	maxURLs         = 5
	minDistinctRate = 0.3
)

// SpamReason values.
const (
	SpamRepeatedChar  = "repeated_character"
	SpamTooManyURLs   = "too_many_urls"
	SpamRepeatedWords = "repeated_words"
)

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.[a-z0-9.-]+\.[a-z]{2,}\S*`)

// Sanitize collapses whitespace, strips <>{} and caps the message length.
func Sanitize(text string) string {
	text = strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '{', '}':
			return -1
		}
		return r
	}, text)
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) > MaxMessageRunes {
		text = string([]rune(text)[:MaxMessageRunes])
	}
	return strings.TrimSpace(text)
}

// Spam reports whether text looks like spam and why.
func Spam(text string) (string, bool) {
	if longestRun(text) >= repeatRunLimit {
		return SpamRepeatedChar, true
	}
	if len(urlPattern.FindAllStringIndex(text, -1)) > maxURLs {
		return SpamTooManyURLs, true
	}
	words := strings.Fields(strings.ToLower(text))
	if len(words) > 3 {
		distinct := make(map[string]struct{}, len(words))
		for _, w := range words {
			distinct[w] = struct{}{}
		}
		if float64(len(distinct))/float64(len(words)) < minDistinctRate {
			return SpamRepeatedWords, true
		}
	}
	return "", false
}

func longestRun(text string) int {
	best, run := 0, 0
	var prev rune = -1
	for _, r := range text {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run > best {
			best = run
		}
	}
	return best
}
