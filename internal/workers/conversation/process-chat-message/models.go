// internal/workers/conversation/process-chat-message/models.go
package processchatmessage

import "time"

type Input struct {
	UserID       string    `json:"userId"`
	MessageID    string    `json:"messageId"`
	Text         string    `json:"text"`
	CustomerName string    `json:"customerName,omitempty"`
	ReceivedAt   time.Time `json:"receivedAt,omitempty"`
}

type Output struct {
	Reply       string `json:"reply"`
	Step        string `json:"step"`
	Outcome     string `json:"outcome"`
	OrderID     string `json:"orderId,omitempty"`
	OrderPlaced bool   `json:"orderPlaced"`
	ReplySent   bool   `json:"replySent"`
}
