// pkg/menu/menu_test.go
package menu

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMenu = `
version: "1"
currency: IQD
categories:
  - id: 1
    name_ar: مشروبات
    name_en: Drinks
    items:
      - id: 11
        name_ar: لاتيه
        name_en: Latte
        price: 4000
      - id: 12
        name_ar: موهيتو
        name_en: Mojito
        price: 5000
        available: false
  - id: 2
    name_ar: حلويات
    name_en: Desserts
    items:
      - id: 21
        name_ar: كيك
        name_en: Cake
        price: 3000
`

func TestParse_Snapshot(t *testing.T) {
	f, err := Parse([]byte(sampleMenu))
	require.NoError(t, err)

	snap := f.Snapshot()
	require.Len(t, snap.Categories, 2)
	require.Len(t, snap.Items, 3)
	assert.Equal(t, "Desserts", snap.Categories[1].NameEN)
	assert.Equal(t, 1, snap.Items[0].CategoryID)
	assert.True(t, snap.Items[0].Available)
	assert.False(t, snap.Items[1].Available)
	assert.Equal(t, 2, snap.Items[2].CategoryID)
	assert.Equal(t, 3000, snap.Items[2].Price)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{"empty", `version: "1"`, "no categories"},
		{"unknown key", "categories:\n  - id: 1\n    name_ar: a\n    name_en: b\n    colour: red\n", "colour"},
		{"duplicate item", `
categories:
  - id: 1
    name_ar: a
    name_en: A
    items:
      - {id: 5, name_ar: x, name_en: X, price: 10}
      - {id: 5, name_ar: y, name_en: Y, price: 10}
`, "duplicate id 5"},
		{"bad price", `
categories:
  - id: 1
    name_ar: a
    name_en: A
    items:
      - {id: 5, name_ar: x, name_en: X, price: 0}
`, "price must be positive"},
		{"missing names", "categories:\n  - id: 3\n", "name_ar and name_en are required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "menu.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleMenu), 0o644))

	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "IQD", f.Currency)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
