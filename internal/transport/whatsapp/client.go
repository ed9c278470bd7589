// Package whatsapp adapts the WhatsApp Cloud API to the conversation
// service: an inbound webhook and an outbound message client.
package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"order-workers/internal/common/config"
	apperrors "order-workers/internal/common/errors"
	commonhttp "order-workers/internal/common/http"
	"order-workers/internal/common/metrics"
)

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

type ClientConfig struct {
	APIBase          string
	APIVersion       string
	PhoneNumberID    string
	AccessToken      string
	MaxMessageLength int
	Timeout          time.Duration
	MaxRetries       int
}

// ClientConfigFrom converts the YAML settings.
func ClientConfigFrom(cfg config.WhatsAppConfig) ClientConfig {
	return ClientConfig{
		APIBase:          cfg.APIBase,
		APIVersion:       cfg.APIVersion,
		PhoneNumberID:    cfg.PhoneNumberID,
		AccessToken:      cfg.AccessToken,
		MaxMessageLength: cfg.MaxMessageLength,
		Timeout:          config.GetDuration(cfg.Timeout),
		MaxRetries:       cfg.MaxRetries,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.APIBase == "" {
		c.APIBase = "https://graph.facebook.com"
	}
	if c.APIVersion == "" {
		c.APIVersion = "v18.0"
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = 4000
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// Client sends messages through the Cloud API.
type Client struct {
	config ClientConfig
	http   *commonhttp.Client
	logger Logger
}

func NewClient(cfg ClientConfig, log Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		config: cfg,
		http:   commonhttp.NewClient(cfg.Timeout, commonhttp.WithRetries(cfg.MaxRetries, 200*time.Millisecond)),
		logger: log,
	}
}

func (c *Client) messagesURL() string {
	return fmt.Sprintf("%s/%s/%s/messages", strings.TrimRight(c.config.APIBase, "/"), c.config.APIVersion, c.config.PhoneNumberID)
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.config.AccessToken}
}

type textBody struct {
	Body string `json:"body"`
}

type outbound struct {
	MessagingProduct string    `json:"messaging_product"`
	RecipientType    string    `json:"recipient_type,omitempty"`
	To               string    `json:"to,omitempty"`
	Type             string    `json:"type,omitempty"`
	Text             *textBody `json:"text,omitempty"`
	Status           string    `json:"status,omitempty"`
	MessageID        string    `json:"message_id,omitempty"`
}

// SendText delivers body to the user, split into parts no longer than
// MaxMessageLength. Parts are sent in order and sending stops at the first
// failure.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	parts := SplitMessage(body, c.config.MaxMessageLength)
	for i, part := range parts {
		if err := c.send(ctx, outbound{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               to,
			Type:             "text",
			Text:             &textBody{Body: part},
		}); err != nil {
			c.logger.Error("whatsapp send failed", map[string]interface{}{
				"to":    to,
				"part":  i + 1,
				"parts": len(parts),
				"error": err.Error(),
			})
			return err
		}
	}
	c.logger.Debug("whatsapp message sent", map[string]interface{}{
		"to":    to,
		"parts": len(parts),
	})
	return nil
}

// MarkRead sets the blue ticks on an inbound message.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.send(ctx, outbound{
		MessagingProduct: "whatsapp",
		Status:           "read",
		MessageID:        messageID,
	})
}

func (c *Client) send(ctx context.Context, payload outbound) error {
	resp, _, err := c.http.PostJSON(ctx, c.messagesURL(), payload, c.headers())
	if err != nil {
		metrics.OutboundMessages.WithLabelValues("error").Inc()
		return apperrors.NewTransportSendFailedError(0, err.Error())
	}
	if !resp.OK() {
		metrics.OutboundMessages.WithLabelValues("rejected").Inc()
		return apperrors.NewTransportSendFailedError(resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}
	metrics.OutboundMessages.WithLabelValues("sent").Inc()
	return nil
}

// SplitMessage cuts text into parts of at most limit runes, preferring line
// boundaries. A single line longer than limit is cut hard.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var (
		parts   []string
		current strings.Builder
		size    int
	)
	flush := func() {
		if size > 0 {
			parts = append(parts, strings.TrimRight(current.String(), "\n"))
			current.Reset()
			size = 0
		}
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		n := utf8.RuneCountInString(line)
		if size+n > limit {
			flush()
		}
		for n > limit {
			runes := []rune(line)
			parts = append(parts, string(runes[:limit]))
			line = string(runes[limit:])
			n -= limit
		}
		current.WriteString(line)
		size += n
	}
	flush()
	return parts
}
