// internal/workers/ordering/send-order-confirmation/models.go
package sendorderconfirmation

type Input struct {
	OrderID string `json:"orderId"`
}

type Output struct {
	NotificationID string   `json:"notificationId"`
	Status         string   `json:"status"` // "sent", "disabled"
	Channels       []string `json:"channels"`
	SentAt         string   `json:"sentAt"` // ISO 8601
}

// Statuses
const (
	StatusSent     = "sent"
	StatusDisabled = "disabled"
)

// Channels
const (
	ChannelEmail = "email"
	ChannelSNS   = "sns"
)

// ProcessID is the BPMN process started for every placed order.
const ProcessID = "order-confirmation"
