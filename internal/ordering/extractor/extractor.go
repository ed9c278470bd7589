// Package extractor turns a normalized message into a candidate intent, via
// the AI interpreter first and deterministic matching second.
package extractor

import (
	"context"
	"errors"
	"time"

	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/metrics"
	"order-workers/internal/models"
	"order-workers/internal/ordering/numerals"
)

// Failure kinds recorded on degraded intents.
const (
	FailureTimeout     = "timeout"
	FailureQuota       = "quota"
	FailureMalformed   = "malformed"
	FailureUnavailable = "unavailable"
	FailureCircuitOpen = "circuit_open"
	FailureDisabled    = "disabled"
)

// Interpreter is the AI collaborator. Any error is treated as a failed
// attempt, never as fatal.
type Interpreter interface {
	Interpret(ctx context.Context, step models.ConversationStep, text numerals.Text, tc models.TurnContext) (models.ExtractedIntent, error)
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

type Config struct {
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

type Extractor struct {
	ai      Interpreter
	config  Config
	breaker *breaker
	logger  Logger
}

// New returns an Extractor. A nil interpreter disables the AI path.
func New(ai Interpreter, config Config, log Logger) *Extractor {
	if config.Timeout <= 0 {
		config.Timeout = 8 * time.Second
	}
	return &Extractor{
		ai:      ai,
		config:  config,
		breaker: newBreaker(config.FailureThreshold, config.Cooldown, time.Now),
		logger:  log,
	}
}

// MultiItemStep reports whether a step accepts several lines in one message.
func MultiItemStep(step models.ConversationStep) bool {
	return step == models.StepAwaitingItem
}

// Extract runs the AI attempt and, on multi-item steps, the deterministic
// splitter when the AI result is unknown or the message lists several menu
// items.
func (e *Extractor) Extract(ctx context.Context, step models.ConversationStep, text numerals.Text, tc models.TurnContext) models.ExtractedIntent {
	intent := e.interpret(ctx, step, text, tc)

	if !MultiItemStep(step) || intent.Action == models.ActionMultiItemSelection {
		return intent
	}

	segments := SplitSegments(text, tc.Menu)
	listed := len(segments) > 1 && HasConjunction(text)
	if listed && intent.Action != models.ActionUnknown {
		// A known AI reading is replaced only when the list names several
		// menu items, not one item with a modifier.
		listed = menuSegments(segments, tc.Menu) > 1
	}
	single := len(segments) == 1 && segments[0].Explicit && intent.Action == models.ActionUnknown
	if !listed && !single {
		return intent
	}

	split := multiItemIntent(segments)
	split.Failure = intent.Failure
	e.logger.Debug("multi-item split", map[string]interface{}{
		"userId":    tc.UserID,
		"lineCount": len(segments),
		"aiAction":  string(intent.Action),
	})
	return split
}

func multiItemIntent(segments []Segment) models.ExtractedIntent {
	return models.ExtractedIntent{
		Source:     models.SourceStructured,
		Action:     models.ActionMultiItemSelection,
		Data:       map[string]interface{}{models.FieldItems: SegmentsToLines(segments)},
		Confidence: models.ConfidenceMedium,
	}
}

func (e *Extractor) interpret(ctx context.Context, step models.ConversationStep, text numerals.Text, tc models.TurnContext) models.ExtractedIntent {
	if e.ai == nil {
		return models.UnknownIntent(models.SourceAI, FailureDisabled)
	}
	if !e.breaker.allow() {
		metrics.AIFailures.WithLabelValues(FailureCircuitOpen).Inc()
		return models.UnknownIntent(models.SourceAI, FailureCircuitOpen)
	}

	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	intent, err := e.ai.Interpret(ctx, step, text, tc)
	if err != nil {
		kind := FailureKind(err)
		n := e.breaker.failure()
		metrics.AIFailures.WithLabelValues(kind).Inc()
		failure := apperrors.NewExtractionFailureError(err)
		e.logger.Warn("interpreter failed, degrading to structured path", map[string]interface{}{
			"userId":              tc.UserID,
			"step":                string(step),
			"kind":                kind,
			"consecutiveFailures": n,
			"errorCode":           string(failure.Code),
			"error":               failure.Details,
		})
		return models.UnknownIntent(models.SourceAI, kind)
	}
	e.breaker.success()

	intent.Source = models.SourceAI
	if intent.Action == "" {
		intent.Action = models.ActionUnknown
	}
	if intent.Data == nil {
		intent.Data = map[string]interface{}{}
	}
	if intent.Confidence == "" {
		intent.Confidence = models.ConfidenceLow
	}
	return intent
}

// FailureKind classifies an interpreter error.
func FailureKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	switch apperrors.CodeOf(err) {
	case apperrors.ErrCodeAITimeout:
		return FailureTimeout
	case apperrors.ErrCodeAIQuotaExceeded:
		return FailureQuota
	case apperrors.ErrCodeAIMalformedResponse:
		return FailureMalformed
	default:
		return FailureUnavailable
	}
}

// CircuitOpen reports whether the interpreter is currently being skipped.
func (e *Extractor) CircuitOpen() bool {
	return e.breaker.open()
}

// QuantityEvidence returns the first integer literal in text when it lies
// in the line quantity range.
func QuantityEvidence(text numerals.Text) (int, bool) {
	n, ok := numerals.FirstInteger(text)
	if !ok || !models.QuantityInRange(n) {
		return 0, false
	}
	return n, true
}
