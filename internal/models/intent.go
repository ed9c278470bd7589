package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// RawMessage is one inbound chat event. MessageID is unique per physical
// delivery and is the idempotency key.
type RawMessage struct {
	UserID       string    `json:"userId"`
	MessageID    string    `json:"messageId"`
	Text         string    `json:"text"`
	ReceivedAt   time.Time `json:"receivedAt"`
	CustomerName string    `json:"customerName,omitempty"`
}

// Source of an extraction attempt.
type Source string

const (
	SourceAI         Source = "ai"
	SourceStructured Source = "structured"
)

// ActionKind is an open tag set; unknown tags from the interpreter are
// carried through and rejected by the validator.
type ActionKind string

const (
	ActionUnknown            ActionKind = "unknown"
	ActionLanguageSelection  ActionKind = "language_selection"
	ActionCategorySelection  ActionKind = "category_selection"
	ActionItemSelection      ActionKind = "item_selection"
	ActionMultiItemSelection ActionKind = "multi_item_selection"
	ActionQuantitySelection  ActionKind = "quantity_selection"
	ActionYesNo              ActionKind = "yes_no"
	ActionServiceSelection   ActionKind = "service_selection"
	ActionLocationInput      ActionKind = "location_input"
	ActionConfirmation       ActionKind = "confirmation"
	ActionShowMenu           ActionKind = "show_menu"
	ActionHelpRequest        ActionKind = "help_request"
	ActionBackNavigation     ActionKind = "back_navigation"
)

// Confidence is advisory metadata only.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence maps free-form interpreter output to a Confidence.
func ParseConfidence(s string) Confidence {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return ConfidenceHigh
	case "medium":
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Data keys used in intent payloads.
const (
	FieldLanguage     = "language"
	FieldCategoryID   = "category_id"
	FieldCategoryName = "category_name"
	FieldItemID       = "item_id"
	FieldItemName     = "item_name"
	FieldItem         = "item"
	FieldQuantity     = "quantity"
	FieldYesNo        = "yes_no"
	FieldServiceType  = "service_type"
	FieldLocation     = "location"
	FieldTableNumber  = "table_number"
	FieldItems        = "items"
	FieldUnmatched    = "unmatched"
)

// ExtractedIntent is the raw result of one extraction attempt.
type ExtractedIntent struct {
	Source     Source                 `json:"source"`
	Action     ActionKind             `json:"action"`
	Data       map[string]interface{} `json:"data"`
	Confidence Confidence             `json:"confidence"`
	// Understood is the interpreter's paraphrase, kept for logs.
	Understood string `json:"understood,omitempty"`
	// Failure is set when the AI path failed and this is the degraded result.
	Failure string `json:"failure,omitempty"`
}

// UnknownIntent is the degraded result of a failed extraction.
func UnknownIntent(source Source, failure string) ExtractedIntent {
	return ExtractedIntent{
		Source:     source,
		Action:     ActionUnknown,
		Data:       map[string]interface{}{},
		Confidence: ConfidenceLow,
		Failure:    failure,
	}
}

// Origin of a resolved intent.
type Origin string

const (
	OriginAIAccepted         Origin = "ai_accepted"
	OriginAIRepaired         Origin = "ai_repaired"
	OriginStructuredFallback Origin = "structured_fallback"
)

// ResolvedIntent is the single authoritative outcome of a turn.
type ResolvedIntent struct {
	Action ActionKind             `json:"action"`
	Data   map[string]interface{} `json:"data"`
	Origin Origin                 `json:"origin"`
}

// ==========================
// Data accessors
// ==========================

// IntField reads an integer from decoded JSON or Go values. Fractional
// numbers are rejected.
func IntField(data map[string]interface{}, key string) (int, bool) {
	v, ok := data[key]
	if !ok || v == nil {
		return 0, false
	}
	return toInt(v)
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	case float32:
		if n != float32(int(n)) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// StringField reads a trimmed non-empty string.
func StringField(data map[string]interface{}, key string) (string, bool) {
	v, ok := data[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// LineItemsField reads data["items"] as line candidates without clamping
// quantities. A missing quantity defaults to 1; an unparsable one becomes 0
// so the validator drops it.
func LineItemsField(data map[string]interface{}) []OrderLineItem {
	return linesAt(data, FieldItems)
}

// UnmatchedField reads the lines the validator could not accept.
func UnmatchedField(data map[string]interface{}) []OrderLineItem {
	return linesAt(data, FieldUnmatched)
}

func linesAt(data map[string]interface{}, key string) []OrderLineItem {
	raw, ok := data[key]
	if !ok || raw == nil {
		return nil
	}

	switch items := raw.(type) {
	case []OrderLineItem:
		out := make([]OrderLineItem, len(items))
		copy(out, items)
		return out
	case []interface{}:
		out := make([]OrderLineItem, 0, len(items))
		for _, it := range items {
			m, ok := it.(map[string]interface{})
			if !ok {
				continue
			}
			name := firstString(m, FieldItemName, "itemName", "name", FieldItem)
			qty := 1
			if q, present := m[FieldQuantity]; present {
				if n, ok := toInt(q); ok {
					qty = n
				} else {
					qty = 0
				}
			}
			li := OrderLineItem{ItemName: name, Quantity: qty}
			if id, ok := toInt(m[FieldItemID]); ok {
				li.ItemID = int64(id)
			}
			out = append(out, li)
		}
		return out
	default:
		return nil
	}
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := StringField(m, k); ok {
			return s
		}
	}
	return ""
}

// CloneData copies the top level of an intent payload.
func CloneData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// TurnContext is the read-only view of a session handed to extraction and
// validation for one turn.
type TurnContext struct {
	UserID      string           `json:"userId"`
	Step        ConversationStep `json:"step"`
	Language    Language         `json:"language,omitempty"`
	CategoryID  int              `json:"categoryId,omitempty"`
	ServiceType string           `json:"serviceType,omitempty"`
	PendingItem *OrderLineItem   `json:"pendingItem,omitempty"`
	CartItems   []OrderLineItem  `json:"cartItems,omitempty"`
	Menu        MenuSnapshot     `json:"menu"`
	History     []Turn           `json:"history,omitempty"`
}

// ContextFromSession snapshots the parts of s the resolution path reads.
func ContextFromSession(s SessionState, menu MenuSnapshot) TurnContext {
	c := s.Clone()
	return TurnContext{
		UserID:      c.UserID,
		Step:        c.CurrentStep,
		Language:    c.Language,
		CategoryID:  c.CategoryID,
		ServiceType: c.ServiceType,
		PendingItem: c.PendingItem,
		CartItems:   c.CartItems,
		Menu:        menu,
		History:     c.History,
	}
}

// MenuItemField reads the catalog entry the validator resolved.
func MenuItemField(data map[string]interface{}) (MenuItem, bool) {
	switch v := data[FieldItem].(type) {
	case MenuItem:
		return v, true
	case *MenuItem:
		if v != nil {
			return *v, true
		}
	}
	return MenuItem{}, false
}
