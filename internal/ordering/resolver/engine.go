// Package resolver decides, per turn, whether the AI interpretation drives the
// workflow, needs repair, or gives way to the structured path.
package resolver

import (
	"context"
	"errors"
	"fmt"

	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/metrics"
	"order-workers/internal/models"
	"order-workers/internal/ordering/lexicon"
	"order-workers/internal/ordering/numerals"
	"order-workers/internal/ordering/validator"
)

// ErrNoResolution means neither path produced a valid intent; the router
// answers with a clarification prompt.
var ErrNoResolution = errors.New("NO_RESOLUTION")

// OriginNone labels unresolved turns in metrics.
const OriginNone = "none"

type Extractor interface {
	Extract(ctx context.Context, step models.ConversationStep, text numerals.Text, tc models.TurnContext) models.ExtractedIntent
	ExtractStructured(step models.ConversationStep, text numerals.Text, tc models.TurnContext) models.ExtractedIntent
}

type Validator interface {
	Validate(ctx context.Context, step models.ConversationStep, extracted models.ExtractedIntent, text numerals.Text, tc models.TurnContext) validator.Outcome
}

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

type Engine struct {
	extractor Extractor
	validator Validator
	logger    Logger
}

func New(extractor Extractor, validator Validator, log Logger) *Engine {
	return &Engine{extractor: extractor, validator: validator, logger: log}
}

// Resolve produces the single authoritative intent for a turn, or an error
// wrapping ErrNoResolution. Confidence never decides the path; only
// validation does.
func (e *Engine) Resolve(ctx context.Context, step models.ConversationStep, text numerals.Text, tc models.TurnContext) (models.ResolvedIntent, error) {
	first := e.extractor.Extract(ctx, step, text, tc)
	out := e.validator.Validate(ctx, step, first, text, tc)

	switch out.Verdict {
	case validator.Accept:
		return e.finish(step, tc, first, out.Intent, originFor(first.Source, models.OriginAIAccepted)), nil
	case validator.Repair:
		return e.finish(step, tc, first, out.Intent, originFor(first.Source, models.OriginAIRepaired)), nil
	}

	e.logger.Debug("interpretation rejected, trying structured path", map[string]interface{}{
		"userId":     tc.UserID,
		"step":       string(step),
		"action":     string(first.Action),
		"source":     string(first.Source),
		"confidence": string(first.Confidence),
		"failure":    first.Failure,
		"reason":     out.Reason,
	})

	fallback := e.extractor.ExtractStructured(step, text, tc)
	second := e.validator.Validate(ctx, step, fallback, text, tc)
	if second.Verdict != validator.Reject {
		intent := mergeEvidence(step, first, second.Intent, text)
		return e.finish(step, tc, first, intent, models.OriginStructuredFallback), nil
	}

	metrics.TurnsResolved.WithLabelValues(string(step), OriginNone).Inc()
	e.logger.Info("turn unresolved", map[string]interface{}{
		"userId":         tc.UserID,
		"step":           string(step),
		"aiReason":       out.Reason,
		"fallbackReason": second.Reason,
	})
	return models.ResolvedIntent{}, fmt.Errorf("%w: %w", ErrNoResolution,
		apperrors.NewValidationRejectionError(string(step), second.Reason))
}

// originFor keeps deterministic results from being credited to the AI when
// the extractor already answered through the splitter.
func originFor(source models.Source, aiOrigin models.Origin) models.Origin {
	if source == models.SourceStructured {
		return models.OriginStructuredFallback
	}
	return aiOrigin
}

func (e *Engine) finish(step models.ConversationStep, tc models.TurnContext, first, final models.ExtractedIntent, origin models.Origin) models.ResolvedIntent {
	metrics.TurnsResolved.WithLabelValues(string(step), string(origin)).Inc()
	e.logger.Info("turn resolved", map[string]interface{}{
		"userId":       tc.UserID,
		"step":         string(step),
		"origin":       string(origin),
		"action":       string(final.Action),
		"aiAction":     string(first.Action),
		"aiConfidence": string(first.Confidence),
		"aiFailure":    first.Failure,
	})
	return models.ResolvedIntent{
		Action: final.Action,
		Data:   final.Data,
		Origin: origin,
	}
}

// mergeEvidence carries an item quantity the AI extracted into a structured
// item selection, provided the same number appears in the message.
func mergeEvidence(step models.ConversationStep, ai, resolved models.ExtractedIntent, text numerals.Text) models.ExtractedIntent {
	if step != models.StepAwaitingItem || resolved.Action != models.ActionItemSelection {
		return resolved
	}
	if _, has := resolved.Data[models.FieldQuantity]; has {
		return resolved
	}
	q, ok := models.IntField(ai.Data, models.FieldQuantity)
	if !ok || !models.QuantityInRange(q) || !quantityInText(text, q) {
		return resolved
	}
	data := models.CloneData(resolved.Data)
	data[models.FieldQuantity] = q
	resolved.Data = data
	return resolved
}

func quantityInText(text numerals.Text, q int) bool {
	for _, n := range numerals.Integers(text) {
		if n == q {
			return true
		}
	}
	for _, tok := range lexicon.Tokens(text.String()) {
		if n, ok := lexicon.QuantityWord(tok); ok && n == q {
			return true
		}
	}
	return false
}
