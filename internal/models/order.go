package models

import (
	"fmt"
	"time"
)

// Quantity bounds for a single order line.
const (
	MinQuantity = 1
	MaxQuantity = 50
)

// OrderLineItem is one line of a cart. ItemID is zero until the line has been
// matched against the catalog.
type OrderLineItem struct {
	ItemID    int64  `json:"itemId,omitempty"`
	ItemName  string `json:"itemName"`
	NameAR    string `json:"nameAr,omitempty"`
	NameEN    string `json:"nameEn,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int    `json:"unitPrice,omitempty"`
}

func (li OrderLineItem) Subtotal() int {
	return li.Quantity * li.UnitPrice
}

// DisplayName picks the catalog name for the language, falling back to the
// extracted candidate name.
func (li OrderLineItem) DisplayName(lang Language) string {
	if lang == LanguageEnglish && li.NameEN != "" {
		return li.NameEN
	}
	if lang != LanguageEnglish && li.NameAR != "" {
		return li.NameAR
	}
	return li.ItemName
}

// QuantityInRange reports whether q is an acceptable line quantity.
func QuantityInRange(q int) bool {
	return q >= MinQuantity && q <= MaxQuantity
}

// Order is a confirmed cart.
type Order struct {
	ID           string          `json:"orderId"`
	Number       int64           `json:"number"`
	UserID       string          `json:"userId"`
	CustomerName string          `json:"customerName,omitempty"`
	Language     Language        `json:"language"`
	Items        []OrderLineItem `json:"items"`
	ServiceType  string          `json:"serviceType"`
	Location     string          `json:"location"`
	Total        int             `json:"total"`
	CreatedAt    time.Time       `json:"createdAt"`
	// RequestKey identifies the confirming message. Placing twice with the
	// same key returns the first order.
	RequestKey string `json:"requestKey,omitempty"`
}

// FormatOrderID renders the public order reference.
func FormatOrderID(number int64) string {
	return fmt.Sprintf("HEF%04d", number)
}

// OrderFromSession builds an order from a confirmed session.
func OrderFromSession(s SessionState, now time.Time) Order {
	items := make([]OrderLineItem, len(s.CartItems))
	copy(items, s.CartItems)
	key := ""
	if s.LastMessageID != "" {
		key = s.UserID + ":" + s.LastMessageID
	}
	return Order{
		UserID:       s.UserID,
		CustomerName: s.CustomerName,
		Language:     s.Language,
		Items:        items,
		ServiceType:  s.ServiceType,
		Location:     s.Location,
		Total:        s.CartTotal(),
		CreatedAt:    now,
		RequestKey:   key,
	}
}
