package whatsapp

import (
	"strconv"
	"strings"
	"time"

	"order-workers/internal/models"
)

// Payload is the Cloud API webhook body.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	MessagingProduct string           `json:"messaging_product"`
	Contacts         []Contact        `json:"contacts"`
	Messages         []InboundMessage `json:"messages"`
	Statuses         []Status         `json:"statuses"`
}

type Contact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Audio *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
		Voice    bool   `json:"voice"`
	} `json:"audio,omitempty"`
	Interactive *struct {
		Type        string `json:"type"`
		ButtonReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"button_reply,omitempty"`
		ListReply *struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"list_reply,omitempty"`
	} `json:"interactive,omitempty"`
}

type Status struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	RecipientID string `json:"recipient_id"`
}

// Valid reports whether the payload carries message or status changes.
func (p Payload) Valid() bool {
	for _, e := range p.Entry {
		for _, c := range e.Changes {
			if c.Field == "messages" && (len(c.Value.Messages) > 0 || len(c.Value.Statuses) > 0) {
				return true
			}
		}
	}
	return false
}

// body returns the user text of a message, or "" for unsupported types.
// Interactive replies carry their option ID; the title is the fallback.
func (m InboundMessage) body() string {
	switch m.Type {
	case "text":
		if m.Text != nil {
			return m.Text.Body
		}
	case "interactive":
		if m.Interactive == nil {
			return ""
		}
		if r := m.Interactive.ButtonReply; r != nil {
			return firstNonEmpty(r.ID, r.Title)
		}
		if r := m.Interactive.ListReply; r != nil {
			return firstNonEmpty(r.ID, r.Title)
		}
	}
	return ""
}

func (m InboundMessage) voice() bool {
	return m.Type == "audio" || m.Type == "voice"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (m InboundMessage) receivedAt(fallback time.Time) time.Time {
	if sec, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0).UTC()
	}
	return fallback
}

// Delivery is one inbound message. Voice notes carry no text.
type Delivery struct {
	models.RawMessage
	Voice bool
}

// Messages groups the deliverable messages by sender, keeping the order
// they arrived in. Senders keep their first-seen order.
func (p Payload) Messages(now time.Time) [][]Delivery {
	index := make(map[string]int)
	var batches [][]Delivery

	for _, e := range p.Entry {
		for _, c := range e.Changes {
			if c.Field != "messages" {
				continue
			}
			names := make(map[string]string, len(c.Value.Contacts))
			for _, ct := range c.Value.Contacts {
				names[ct.WaID] = ct.Profile.Name
			}
			for _, m := range c.Value.Messages {
				text := strings.TrimSpace(m.body())
				if m.From == "" || m.ID == "" || (text == "" && !m.voice()) {
					continue
				}
				msg := Delivery{
					RawMessage: models.RawMessage{
						UserID:       m.From,
						MessageID:    m.ID,
						Text:         text,
						ReceivedAt:   m.receivedAt(now),
						CustomerName: names[m.From],
					},
					Voice: m.voice(),
				}
				i, ok := index[m.From]
				if !ok {
					i = len(batches)
					index[m.From] = i
					batches = append(batches, nil)
				}
				batches[i] = append(batches[i], msg)
			}
		}
	}
	return batches
}
