package extractor

import (
	"strings"

	"order-workers/internal/models"
	"order-workers/internal/ordering/lexicon"
	"order-workers/internal/ordering/numerals"
)

// Segment is one conjunction-delimited part of a multi-item message.
type Segment struct {
	Name     string
	Quantity int
	// Explicit is set when the quantity came from the text rather than
	// the default of one.
	Explicit bool
}

var listSeparators = strings.NewReplacer(",", " and ", "،", " and ", "+", " and ", "&", " and ", "\n", " and ")

// SplitSegments splits text on conjunction tokens. A waw glued to the next
// word counts as a conjunction when the remainder is a quantity or the first
// word of a menu item name. Segments with no name left are dropped.
func SplitSegments(text numerals.Text, menu models.MenuSnapshot) []Segment {
	tokens := lexicon.Tokens(listSeparators.Replace(text.String()))
	known := menuWordSet(menu)

	var (
		groups [][]string
		cur    []string
	)
	flush := func() {
		if len(cur) > 0 {
			groups = append(groups, cur)
			cur = nil
		}
	}

	for _, tok := range tokens {
		if lexicon.IsConjunction(tok) {
			flush()
			continue
		}
		if rest, ok := lexicon.SplitWawPrefix(tok, known); ok {
			flush()
			cur = append(cur, rest)
			continue
		}
		cur = append(cur, tok)
	}
	flush()

	segments := make([]Segment, 0, len(groups))
	for _, g := range groups {
		if seg, ok := parseSegment(g); ok {
			segments = append(segments, seg)
		}
	}
	return segments
}

func parseSegment(tokens []string) (Segment, bool) {
	seg := Segment{Quantity: 1}
	var name []string
	for _, tok := range tokens {
		if !seg.Explicit {
			if n, ok := lexicon.QuantityWord(tok); ok {
				seg.Quantity = n
				seg.Explicit = true
				continue
			}
		}
		if lexicon.IsFiller(tok) {
			continue
		}
		name = append(name, tok)
	}
	seg.Name = strings.Join(name, " ")
	return seg, seg.Name != ""
}

// HasConjunction reports whether text contains a standalone conjunction or
// a list separator.
func HasConjunction(text numerals.Text) bool {
	raw := text.String()
	if strings.ContainsAny(raw, ",،+&\n") {
		return true
	}
	for _, tok := range lexicon.Tokens(raw) {
		if lexicon.IsConjunction(tok) {
			return true
		}
	}
	return false
}

// SegmentsToLines converts segments to unresolved line candidates. Quantities
// are carried as written; range checks belong to the validator.
func SegmentsToLines(segments []Segment) []models.OrderLineItem {
	lines := make([]models.OrderLineItem, 0, len(segments))
	for _, s := range segments {
		lines = append(lines, models.OrderLineItem{ItemName: s.Name, Quantity: s.Quantity})
	}
	return lines
}

// menuSegments counts segments whose name starts like a menu item.
func menuSegments(segments []Segment, menu models.MenuSnapshot) int {
	known := menuWordSet(menu)
	if known == nil {
		return 0
	}
	n := 0
	for _, s := range segments {
		if toks := lexicon.Tokens(s.Name); len(toks) > 0 && known(toks[0]) {
			n++
		}
	}
	return n
}

func menuWordSet(menu models.MenuSnapshot) func(string) bool {
	if len(menu.Items) == 0 {
		return nil
	}
	words := make(map[string]struct{}, len(menu.Items)*2)
	for _, it := range menu.Items {
		for _, name := range []string{it.NameAR, it.NameEN} {
			if toks := lexicon.Tokens(name); len(toks) > 0 {
				words[toks[0]] = struct{}{}
			}
		}
	}
	return func(s string) bool {
		_, ok := words[s]
		return ok
	}
}
