// internal/workers/conversation/process-chat-message/config.go
package processchatmessage

import "time"

type Config struct {
	Timeout time.Duration
	// SendReply delivers the reply through the WhatsApp client in addition
	// to returning it as a job variable.
	SendReply bool
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
