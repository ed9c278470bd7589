// pkg/menu/schema.go
package menu

// File is the on-disk menu definition. Items are nested under their
// category; a missing available flag means the item is on sale.
type File struct {
	Version    string     `yaml:"version"`
	Currency   string     `yaml:"currency"`
	Categories []Category `yaml:"categories"`
}

type Category struct {
	ID     int    `yaml:"id"`
	NameAR string `yaml:"name_ar"`
	NameEN string `yaml:"name_en"`
	Items  []Item `yaml:"items"`
}

type Item struct {
	ID        int64  `yaml:"id"`
	NameAR    string `yaml:"name_ar"`
	NameEN    string `yaml:"name_en"`
	Price     int    `yaml:"price"`
	Available *bool  `yaml:"available,omitempty"`
}
