// Package conversation runs one inbound chat message through the guard, the
// session coordinator, hybrid resolution and the workflow router.
package conversation

import (
	"context"
	"errors"
	"time"

	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/metrics"
	"order-workers/internal/models"
	"order-workers/internal/ordering/numerals"
	"order-workers/internal/ordering/resolver"
	"order-workers/internal/ordering/router"
	"order-workers/internal/ordering/session"
)

// Outcome labels a handled message in replies, logs and metrics.
type Outcome string

const (
	OutcomeResolved    Outcome = "resolved"
	OutcomeClarified   Outcome = "clarified"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeBusy        Outcome = "busy"
	OutcomeStale       Outcome = "stale"
	OutcomeRejected    Outcome = "rejected"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeFailed      Outcome = "failed"
)

// Reply is what the transport sends back. An empty Text means nothing is
// sent for this message.
type Reply struct {
	UserID    string                  `json:"userId"`
	MessageID string                  `json:"messageId"`
	Text      string                  `json:"text,omitempty"`
	Step      models.ConversationStep `json:"step,omitempty"`
	Outcome   Outcome                 `json:"outcome"`
	Order     *models.Order           `json:"order,omitempty"`
}

type Guard interface {
	Check(msg models.RawMessage) (string, error)
}

type Resolver interface {
	Resolve(ctx context.Context, step models.ConversationStep, text numerals.Text, tc models.TurnContext) (models.ResolvedIntent, error)
}

type MenuSource interface {
	Menu(ctx context.Context) (models.MenuSnapshot, error)
}

// OrderNotifier hands a placed order to the confirmation workflow.
type OrderNotifier interface {
	OrderPlaced(ctx context.Context, order models.Order) error
}

type TurnRecorder interface {
	RecordTurn(ctx context.Context, outcome string, duration time.Duration)
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

type Config struct {
	// HistoryTurns is how many exchanges are kept as interpreter context.
	HistoryTurns int
}

type Service struct {
	guard       Guard
	coordinator *session.Coordinator
	resolver    Resolver
	router      *router.Router
	menu        MenuSource
	notifier    OrderNotifier
	recorder    TurnRecorder
	config      Config
	logger      Logger
}

type Option func(*Service)

func WithNotifier(n OrderNotifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithRecorder(r TurnRecorder) Option {
	return func(s *Service) { s.recorder = r }
}

func NewService(guard Guard, coordinator *session.Coordinator, res Resolver, rt *router.Router, menu MenuSource, config Config, log Logger, opts ...Option) *Service {
	if config.HistoryTurns <= 0 {
		config.HistoryTurns = 6
	}
	s := &Service{
		guard:       guard,
		coordinator: coordinator,
		resolver:    res,
		router:      rt,
		menu:        menu,
		config:      config,
		logger:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage processes one message end to end. Duplicates, busy sessions,
// stale results and guard rejections are outcomes, not errors. An error means
// the session was left as it was before the message and the message may be
// delivered again.
func (s *Service) HandleMessage(ctx context.Context, msg models.RawMessage) (Reply, error) {
	start := time.Now()
	reply, err := s.handle(ctx, msg)
	if err != nil {
		reply.Outcome = OutcomeFailed
	}
	reply.UserID = msg.UserID
	reply.MessageID = msg.MessageID

	elapsed := time.Since(start)
	metrics.TurnDuration.WithLabelValues(string(reply.Outcome)).Observe(elapsed.Seconds())
	if s.recorder != nil {
		s.recorder.RecordTurn(ctx, string(reply.Outcome), elapsed)
	}
	return reply, err
}

func (s *Service) handle(ctx context.Context, msg models.RawMessage) (Reply, error) {
	text, err := s.guard.Check(msg)
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.ErrCodeRateLimited:
			return Reply{Outcome: OutcomeRateLimited, Text: s.router.SlowDown("")}, nil
		case apperrors.ErrCodeMessageRejected:
			return Reply{Outcome: OutcomeRejected}, nil
		}
		return Reply{}, err
	}

	h, err := s.coordinator.Acquire(ctx, msg.UserID, msg.MessageID)
	switch {
	case errors.Is(err, session.ErrDuplicateMessage):
		return Reply{Outcome: OutcomeDuplicate}, nil
	case errors.Is(err, session.ErrBusy):
		return Reply{Outcome: OutcomeBusy, Text: s.router.Busy("")}, nil
	case errors.Is(err, session.ErrConflict):
		return Reply{Outcome: OutcomeStale}, nil
	case err != nil:
		return Reply{}, err
	}

	reply, next, order, err := s.turn(ctx, h, msg, text)
	if err != nil {
		if rerr := s.coordinator.Release(ctx, h); rerr != nil {
			s.logger.Warn("session release failed", map[string]interface{}{
				"userId": msg.UserID,
				"error":  rerr.Error(),
			})
		}
		s.logger.Error("turn failed", map[string]interface{}{
			"userId":    msg.UserID,
			"messageId": msg.MessageID,
			"version":   h.Version(),
			"step":      string(h.State.CurrentStep),
			"error":     err.Error(),
		})
		return Reply{}, err
	}

	err = s.coordinator.Commit(ctx, h, next)
	if errors.Is(err, session.ErrConflict) {
		if order == nil {
			return Reply{Outcome: OutcomeStale}, nil
		}
		// The order is already persisted; the customer still gets the
		// confirmation.
		s.logger.Warn("order placed on a stale session", map[string]interface{}{
			"userId":  msg.UserID,
			"orderId": order.ID,
			"version": h.Version(),
		})
	} else if err != nil {
		return Reply{}, err
	}

	if order != nil && s.notifier != nil {
		if nerr := s.notifier.OrderPlaced(ctx, *order); nerr != nil {
			s.logger.Warn("order notification failed", map[string]interface{}{
				"userId":  msg.UserID,
				"orderId": order.ID,
				"error":   nerr.Error(),
			})
		}
	}

	reply.Step = next.CurrentStep
	reply.Order = order
	return reply, nil
}

// turn computes the next state and the reply without writing anything.
func (s *Service) turn(ctx context.Context, h *session.Handle, msg models.RawMessage, text string) (Reply, models.SessionState, *models.Order, error) {
	state := h.State
	if state.CustomerName == "" && msg.CustomerName != "" {
		state.CustomerName = msg.CustomerName
	}
	state, _ = s.router.Prepare(state, text)

	menu, err := s.menu.Menu(ctx)
	if err != nil {
		return Reply{}, models.SessionState{}, nil, apperrors.NewCatalogLookupFailedError("menu", err)
	}

	normalized := numerals.Normalize(text)
	tc := models.ContextFromSession(state, menu)

	var result router.Result
	outcome := OutcomeResolved
	intent, err := s.resolver.Resolve(ctx, state.CurrentStep, normalized, tc)
	switch {
	case errors.Is(err, resolver.ErrNoResolution):
		outcome = OutcomeClarified
		result = router.Result{State: state, Reply: s.router.Clarify(state, menu)}
	case err != nil:
		return Reply{}, models.SessionState{}, nil, err
	default:
		result, err = s.router.Route(ctx, state, intent, menu)
		if err != nil {
			return Reply{}, models.SessionState{}, nil, err
		}
	}

	text = result.Reply
	if h.Expired {
		text = s.router.ExpiredNotice(result.State.Language, text)
	}

	next := result.State
	next.AppendTurn(models.Turn{Step: state.CurrentStep, User: normalized.String(), Reply: text}, s.config.HistoryTurns)

	s.logger.Debug("turn routed", map[string]interface{}{
		"userId":  msg.UserID,
		"from":    string(state.CurrentStep),
		"to":      string(next.CurrentStep),
		"outcome": string(outcome),
		"expired": h.Expired,
	})
	return Reply{Outcome: outcome, Text: text}, next, result.Order, nil
}
