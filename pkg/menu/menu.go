// pkg/menu/menu.go
package menu

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"order-workers/internal/models"
)

// Load reads and validates a menu file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a menu document. Unknown keys are rejected so typos in the
// seed file surface before anything is written.
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode menu: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate reports every problem found, not just the first.
func (f *File) Validate() error {
	var problems []string
	if len(f.Categories) == 0 {
		problems = append(problems, "no categories")
	}

	categoryIDs := make(map[int]bool)
	itemIDs := make(map[int64]bool)
	for ci, c := range f.Categories {
		where := fmt.Sprintf("categories[%d]", ci)
		if c.ID <= 0 {
			problems = append(problems, where+": id must be positive")
		}
		if categoryIDs[c.ID] {
			problems = append(problems, fmt.Sprintf("%s: duplicate id %d", where, c.ID))
		}
		categoryIDs[c.ID] = true
		if strings.TrimSpace(c.NameAR) == "" || strings.TrimSpace(c.NameEN) == "" {
			problems = append(problems, where+": name_ar and name_en are required")
		}

		for ii, it := range c.Items {
			at := fmt.Sprintf("%s.items[%d]", where, ii)
			if it.ID <= 0 {
				problems = append(problems, at+": id must be positive")
			}
			if itemIDs[it.ID] {
				problems = append(problems, fmt.Sprintf("%s: duplicate id %d", at, it.ID))
			}
			itemIDs[it.ID] = true
			if strings.TrimSpace(it.NameAR) == "" || strings.TrimSpace(it.NameEN) == "" {
				problems = append(problems, at+": name_ar and name_en are required")
			}
			if it.Price <= 0 {
				problems = append(problems, at+": price must be positive")
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid menu: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Snapshot flattens the file into the catalog shape, keeping file order.
func (f *File) Snapshot() models.MenuSnapshot {
	var snap models.MenuSnapshot
	for _, c := range f.Categories {
		snap.Categories = append(snap.Categories, models.Category{ID: c.ID, NameAR: c.NameAR, NameEN: c.NameEN})
		for _, it := range c.Items {
			available := it.Available == nil || *it.Available
			snap.Items = append(snap.Items, models.MenuItem{
				ID:         it.ID,
				CategoryID: c.ID,
				NameAR:     it.NameAR,
				NameEN:     it.NameEN,
				Price:      it.Price,
				Available:  available,
			})
		}
	}
	return snap
}
