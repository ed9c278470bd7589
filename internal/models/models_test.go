package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntField(t *testing.T) {
	tests := []struct {
		name   string
		value  interface{}
		want   int
		wantOK bool
	}{
		{"int", 3, 3, true},
		{"float64 whole", float64(12), 12, true},
		{"float64 fraction", 2.5, 0, false},
		{"numeric string", " 7 ", 7, true},
		{"word string", "seven", 0, false},
		{"json number", json.Number("4"), 4, true},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := IntField(map[string]interface{}{"quantity": tt.value}, "quantity")
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLineItemsField_FromDecodedJSON(t *testing.T) {
	var data map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{"items":[
		{"item_name":"vanilla latte","quantity":2},
		{"name":"caramel latte"},
		{"item_name":"mocha","quantity":"lots"},
		"garbage"
	]}`), &data))

	items := LineItemsField(data)
	require.Len(t, items, 3)
	assert.Equal(t, OrderLineItem{ItemName: "vanilla latte", Quantity: 2}, items[0])
	assert.Equal(t, OrderLineItem{ItemName: "caramel latte", Quantity: 1}, items[1])
	assert.Equal(t, 0, items[2].Quantity)
}

func TestSessionState_CloneIsDeep(t *testing.T) {
	s := NewSessionState("u1", time.Now())
	s.CartItems = append(s.CartItems, OrderLineItem{ItemName: "latte", Quantity: 1})
	s.PendingItem = &OrderLineItem{ItemName: "mocha"}
	s.History = []Turn{{Step: StepAwaitingItem, User: "mocha"}}

	c := s.Clone()
	c.CartItems[0].Quantity = 9
	c.PendingItem.ItemName = "changed"
	c.History[0].User = "changed"

	assert.Equal(t, 1, s.CartItems[0].Quantity)
	assert.Equal(t, "mocha", s.PendingItem.ItemName)
	assert.Equal(t, "mocha", s.History[0].User)
}

func TestSessionState_Reset(t *testing.T) {
	now := time.Now()
	s := NewSessionState("u1", now.Add(-time.Hour))
	s.Language = LanguageEnglish
	s.CurrentStep = StepAwaitingLocation
	s.CartItems = []OrderLineItem{{ItemName: "latte", Quantity: 2, UnitPrice: 3000}}
	s.LastMessageID = "wamid.1"
	s.Version = 7

	kept := s.Reset(now, true)
	assert.Equal(t, StepAwaitingCategory, kept.CurrentStep)
	assert.Equal(t, LanguageEnglish, kept.Language)
	assert.Empty(t, kept.CartItems)
	assert.Equal(t, "wamid.1", kept.LastMessageID)
	assert.Equal(t, int64(7), kept.Version)

	full := s.Reset(now, false)
	assert.Equal(t, InitialStep, full.CurrentStep)
	assert.Equal(t, Language(""), full.Language)
}

func TestCartTotalAndOrder(t *testing.T) {
	s := NewSessionState("u1", time.Now())
	s.CartItems = []OrderLineItem{
		{ItemName: "latte", Quantity: 2, UnitPrice: 3000},
		{ItemName: "cake", Quantity: 1, UnitPrice: 4500},
	}
	assert.Equal(t, 10500, s.CartTotal())

	o := OrderFromSession(s, time.Now())
	assert.Equal(t, 10500, o.Total)
	assert.Equal(t, "HEF0042", FormatOrderID(42))
}

func TestAppendTurn_Limit(t *testing.T) {
	var s SessionState
	for i := 0; i < 6; i++ {
		s.AppendTurn(Turn{User: string(rune('a' + i))}, 4)
	}
	require.Len(t, s.History, 4)
	assert.Equal(t, "c", s.History[0].User)
}

func TestParseConfidence(t *testing.T) {
	assert.Equal(t, ConfidenceHigh, ParseConfidence(" HIGH "))
	assert.Equal(t, ConfidenceMedium, ParseConfidence("medium"))
	assert.Equal(t, ConfidenceLow, ParseConfidence("0.3"))
}
