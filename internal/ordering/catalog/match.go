// Package catalog serves the menu to the conversation core and resolves free
// text item names against it.
package catalog

import (
	"context"
	"strings"

	"order-workers/internal/models"
	"order-workers/internal/ordering/lexicon"
)

// Catalog is the read side every backend implements. A lookup miss is
// (zero, false, nil); errors are reserved for backend failures.
type Catalog interface {
	Menu(ctx context.Context) (models.MenuSnapshot, error)
	Lookup(ctx context.Context, candidate string, categoryID int) (models.MenuItem, bool, error)
}

const (
	scoreExact    = 1000
	scoreContains = 500
	scoreWord     = 10
	// Smaller than one shared word so the current category only breaks ties.
	scoreCategory = 5
)

// Match picks the available item a candidate names. An exact name wins,
// then a name contained in the candidate (or the reverse), then the most
// shared words. Ties go to the current category, then to listing order.
func Match(items []models.MenuItem, candidate string, categoryID int) (models.MenuItem, bool) {
	want := significant(lexicon.Tokens(candidate))
	if len(want) == 0 {
		return models.MenuItem{}, false
	}

	best, bestScore := -1, 0
	for i, it := range items {
		if !it.Available {
			continue
		}
		s := 0
		for _, name := range []string{it.NameAR, it.NameEN} {
			if ns := score(want, significant(lexicon.Tokens(name))); ns > s {
				s = ns
			}
		}
		if s == 0 {
			continue
		}
		if categoryID > 0 && it.CategoryID == categoryID {
			s += scoreCategory
		}
		if s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		return models.MenuItem{}, false
	}
	return items[best], true
}

func score(want, name []string) int {
	if len(name) == 0 {
		return 0
	}
	w, n := joinPadded(want), joinPadded(name)
	switch {
	case w == n:
		return scoreExact
	case strings.Contains(w, n), strings.Contains(n, w):
		return scoreContains + scoreWord*len(name)
	}

	shared := 0
	seen := make(map[string]struct{}, len(name))
	for _, tok := range name {
		seen[tok] = struct{}{}
	}
	for _, tok := range want {
		if _, ok := seen[tok]; ok {
			shared++
			delete(seen, tok)
		}
	}
	return scoreWord * shared
}

// significant drops filler words, bare numbers and single letters.
func significant(tokens []string) []string {
	out := tokens[:0:0]
	for _, tok := range tokens {
		if lexicon.IsFiller(tok) || len([]rune(tok)) < 2 {
			continue
		}
		if _, ok := lexicon.QuantityWord(tok); ok {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func joinPadded(tokens []string) string {
	return " " + strings.Join(tokens, " ") + " "
}

// Static serves a fixed snapshot. It backs deployments without a menu
// database and tests.
type Static struct {
	snapshot models.MenuSnapshot
}

func NewStatic(snapshot models.MenuSnapshot) *Static {
	return &Static{snapshot: snapshot}
}

func (s *Static) Menu(context.Context) (models.MenuSnapshot, error) {
	return s.snapshot, nil
}

func (s *Static) Lookup(_ context.Context, candidate string, categoryID int) (models.MenuItem, bool, error) {
	item, ok := Match(s.snapshot.Items, candidate, categoryID)
	return item, ok, nil
}
