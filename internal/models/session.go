package models

import "time"

// ConversationStep is the position of a conversation in the ordering flow.
type ConversationStep string

const (
	StepAwaitingLanguage     ConversationStep = "awaiting_language"
	StepAwaitingCategory     ConversationStep = "awaiting_category"
	StepAwaitingItem         ConversationStep = "awaiting_item"
	StepAwaitingQuantity     ConversationStep = "awaiting_quantity"
	StepAwaitingAdditional   ConversationStep = "awaiting_additional"
	StepAwaitingService      ConversationStep = "awaiting_service"
	StepAwaitingLocation     ConversationStep = "awaiting_location"
	StepAwaitingConfirmation ConversationStep = "awaiting_confirmation"
	StepCompleted            ConversationStep = "completed"
)

// InitialStep is where new and reset sessions start.
const InitialStep = StepAwaitingLanguage

var stepOrder = []ConversationStep{
	StepAwaitingLanguage,
	StepAwaitingCategory,
	StepAwaitingItem,
	StepAwaitingQuantity,
	StepAwaitingAdditional,
	StepAwaitingService,
	StepAwaitingLocation,
	StepAwaitingConfirmation,
	StepCompleted,
}

// Steps returns the ordered step set.
func Steps() []ConversationStep {
	out := make([]ConversationStep, len(stepOrder))
	copy(out, stepOrder)
	return out
}

func (s ConversationStep) Valid() bool {
	for _, st := range stepOrder {
		if st == s {
			return true
		}
	}
	return false
}

func (s ConversationStep) String() string { return string(s) }

// Language preference of a conversation.
type Language string

const (
	LanguageArabic  Language = "arabic"
	LanguageEnglish Language = "english"
)

func (l Language) Valid() bool {
	return l == LanguageArabic || l == LanguageEnglish
}

// Service types.
const (
	ServiceDineIn   = "dine-in"
	ServiceDelivery = "delivery"
)

// Turn is one exchange kept as AI context.
type Turn struct {
	Step  ConversationStep `json:"step"`
	User  string           `json:"user"`
	Reply string           `json:"reply,omitempty"`
}

// SessionState is the per-user conversation record. Version increases on every
// write and is the optimistic concurrency token.
type SessionState struct {
	UserID         string           `json:"userId"`
	CurrentStep    ConversationStep `json:"currentStep"`
	CartItems      []OrderLineItem  `json:"cartItems"`
	LastMessageID  string           `json:"lastMessageId"`
	LockHeld       bool             `json:"lockHeld"`
	LastActivityAt time.Time        `json:"lastActivityAt"`
	Version        int64            `json:"version"`

	Language     Language       `json:"language,omitempty"`
	CustomerName string         `json:"customerName,omitempty"`
	CategoryID   int            `json:"categoryId,omitempty"`
	PendingItem  *OrderLineItem `json:"pendingItem,omitempty"`
	ServiceType  string         `json:"serviceType,omitempty"`
	Location     string         `json:"location,omitempty"`
	History      []Turn         `json:"history,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// NewSessionState returns a fresh session at the initial step.
func NewSessionState(userID string, now time.Time) SessionState {
	return SessionState{
		UserID:         userID,
		CurrentStep:    InitialStep,
		CartItems:      []OrderLineItem{},
		LastActivityAt: now,
		CreatedAt:      now,
	}
}

// Clone returns a deep copy so snapshots never alias the stored record.
func (s SessionState) Clone() SessionState {
	out := s
	if s.CartItems != nil {
		out.CartItems = make([]OrderLineItem, len(s.CartItems))
		copy(out.CartItems, s.CartItems)
	}
	if s.PendingItem != nil {
		p := *s.PendingItem
		out.PendingItem = &p
	}
	if s.History != nil {
		out.History = make([]Turn, len(s.History))
		copy(out.History, s.History)
	}
	return out
}

// Reset clears the order while keeping identity, message bookkeeping and,
// when keepLanguage is set, the language preference.
func (s SessionState) Reset(now time.Time, keepLanguage bool) SessionState {
	out := NewSessionState(s.UserID, now)
	out.CreatedAt = s.CreatedAt
	out.LastMessageID = s.LastMessageID
	out.LockHeld = s.LockHeld
	out.Version = s.Version
	out.CustomerName = s.CustomerName
	if keepLanguage && s.Language.Valid() {
		out.Language = s.Language
		out.CurrentStep = StepAwaitingCategory
	}
	return out
}

// CartTotal sums line subtotals.
func (s SessionState) CartTotal() int {
	total := 0
	for _, li := range s.CartItems {
		total += li.Subtotal()
	}
	return total
}

// AppendTurn keeps at most limit turns.
func (s *SessionState) AppendTurn(t Turn, limit int) {
	s.History = append(s.History, t)
	if limit > 0 && len(s.History) > limit {
		s.History = s.History[len(s.History)-limit:]
	}
}
