package guard

import (
	"time"

	"order-workers/internal/common/config"
	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/metrics"
	"order-workers/internal/models"
)

// Rejection reasons, also the metric label.
const (
	ReasonEmpty       = "empty"
	ReasonSpam        = "spam"
	ReasonRateLimited = "rate_limited"
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
}

// Guard runs before the coordinator. It never touches session state.
type Guard struct {
	limiter *Limiter
	logger  Logger
}

// New builds a guard. A disabled rate limit still sanitizes and screens
// for spam.
func New(cfg config.RateLimitConfig, log Logger, now func() time.Time) *Guard {
	g := &Guard{logger: log}
	if cfg.Enabled {
		g.limiter = NewLimiter(LimitConfig{
			PerMinute:   cfg.PerMinute,
			PerHour:     cfg.PerHour,
			MinInterval: config.GetDuration(cfg.MinInterval),
		}, now)
	}
	return g
}

// Limiter is nil when rate limiting is disabled.
func (g *Guard) Limiter() *Limiter {
	return g.limiter
}

// Check returns the sanitized text or a MESSAGE_REJECTED / RATE_LIMITED
// error.
func (g *Guard) Check(msg models.RawMessage) (string, error) {
	text := Sanitize(msg.Text)
	if text == "" {
		return "", g.reject(msg, ReasonEmpty, apperrors.NewMessageRejectedError(ReasonEmpty))
	}
	if why, spam := Spam(text); spam {
		return "", g.reject(msg, ReasonSpam, apperrors.NewMessageRejectedError(why))
	}
	if g.limiter != nil {
		if ok, retryAfter := g.limiter.Allow(msg.UserID); !ok {
			return "", g.reject(msg, ReasonRateLimited, apperrors.NewRateLimitedError(msg.UserID, retryAfter))
		}
	}
	return text, nil
}

func (g *Guard) reject(msg models.RawMessage, reason string, err *apperrors.StandardError) error {
	metrics.GuardRejections.WithLabelValues(reason).Inc()
	if g.logger != nil {
		g.logger.Info("inbound message rejected", map[string]interface{}{
			"userId":    msg.UserID,
			"messageId": msg.MessageID,
			"reason":    reason,
			"details":   err.Details,
		})
	}
	return err
}
