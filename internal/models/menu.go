package models

// Category groups menu items.
type Category struct {
	ID     int    `json:"id" yaml:"id"`
	NameAR string `json:"nameAr" yaml:"name_ar"`
	NameEN string `json:"nameEn" yaml:"name_en"`
}

func (c Category) Name(lang Language) string {
	if lang == LanguageEnglish {
		return c.NameEN
	}
	return c.NameAR
}

// MenuItem is a catalog entry. Price is in IQD.
type MenuItem struct {
	ID         int64  `json:"id" yaml:"id"`
	CategoryID int    `json:"categoryId" yaml:"category_id"`
	NameAR     string `json:"nameAr" yaml:"name_ar"`
	NameEN     string `json:"nameEn" yaml:"name_en"`
	Price      int    `json:"price" yaml:"price"`
	Available  bool   `json:"available" yaml:"available"`
}

func (m MenuItem) Name(lang Language) string {
	if lang == LanguageEnglish {
		return m.NameEN
	}
	return m.NameAR
}

// LineItem converts a matched catalog entry into a cart line.
func (m MenuItem) LineItem(quantity int) OrderLineItem {
	return OrderLineItem{
		ItemID:    m.ID,
		ItemName:  m.NameEN,
		NameAR:    m.NameAR,
		NameEN:    m.NameEN,
		Quantity:  quantity,
		UnitPrice: m.Price,
	}
}

// MenuSnapshot is the slice of catalog the interpreter sees for one turn.
type MenuSnapshot struct {
	Categories []Category `json:"categories,omitempty"`
	Items      []MenuItem `json:"items,omitempty"`
}
