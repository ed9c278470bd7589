// internal/workers/ordering/send-order-confirmation/config.go
package sendorderconfirmation

import "time"

type Config struct {
	EmailEnabled bool
	SNSEnabled   bool
	FromEmail    string
	ToEmail      string
	TopicARN     string
	AWSRegion    string
	BusinessName string
	Timeout      time.Duration
}

func LoadConfig() *Config {
	return &Config{
		Timeout: 30 * time.Second,
	}
}
