// Package validator checks a candidate intent against the contract of the
// current conversation step and accepts, repairs or rejects it.
package validator

import (
	"context"
	"fmt"

	"order-workers/internal/models"
	"order-workers/internal/ordering/numerals"
)

// Verdict of one validation.
type Verdict int

const (
	Reject Verdict = iota
	Accept
	Repair
)

func (v Verdict) String() string {
	switch v {
	case Accept:
		return "accept"
	case Repair:
		return "repair"
	default:
		return "reject"
	}
}

// Outcome carries the accepted or corrected intent. Intent is meaningless
// when Verdict is Reject.
type Outcome struct {
	Verdict Verdict
	Intent  models.ExtractedIntent
	Reason  string
}

// Catalog resolves an item name candidate. A miss is (zero, false, nil).
type Catalog interface {
	Lookup(ctx context.Context, candidate string, categoryID int) (models.MenuItem, bool, error)
}

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

type Config struct {
	MaxTableNumber int
	MinAddressLen  int
}

type Validator struct {
	catalog Catalog
	config  Config
	rules   map[models.ConversationStep]rule
	logger  Logger
}

func New(catalog Catalog, config Config, log Logger) *Validator {
	if config.MaxTableNumber <= 0 {
		config.MaxTableNumber = 7
	}
	if config.MinAddressLen <= 0 {
		config.MinAddressLen = 3
	}
	v := &Validator{
		catalog: catalog,
		config:  config,
		logger:  log,
	}
	v.rules = v.buildRules()
	return v
}

// input bundles what a rule sees.
type input struct {
	step models.ConversationStep
	text numerals.Text
	tc   models.TurnContext
}

// check accepts in.Data in place (normalizing it) or returns a reason.
type checkFunc func(ctx context.Context, in input, intent *models.ExtractedIntent) error

// repairFunc rebuilds a valid intent from deterministic evidence in the
// message. original is what the extractor produced.
type repairFunc func(ctx context.Context, in input, original models.ExtractedIntent) (models.ExtractedIntent, bool)

type rule struct {
	expects   []models.ActionKind
	universal bool
	check     checkFunc
	repair    repairFunc
}

func (r rule) expected(a models.ActionKind) bool {
	for _, e := range r.expects {
		if e == a {
			return true
		}
	}
	return false
}

// ExpectedActions lists the action kinds a step accepts, universal actions
// excluded.
func (v *Validator) ExpectedActions(step models.ConversationStep) []models.ActionKind {
	r, ok := v.rules[step]
	if !ok {
		return nil
	}
	out := make([]models.ActionKind, len(r.expects))
	copy(out, r.expects)
	return out
}

// IsUniversal reports whether action is accepted at every step past
// language selection.
func IsUniversal(action models.ActionKind) bool {
	switch action {
	case models.ActionBackNavigation, models.ActionHelpRequest, models.ActionShowMenu:
		return true
	}
	return false
}

// Validate applies the step's rule to extracted.
func (v *Validator) Validate(ctx context.Context, step models.ConversationStep, extracted models.ExtractedIntent, text numerals.Text, tc models.TurnContext) Outcome {
	r, ok := v.rules[step]
	if !ok {
		return Outcome{Verdict: Reject, Reason: fmt.Sprintf("no rule for step %q", step)}
	}
	in := input{step: step, text: text, tc: tc}

	if r.universal && IsUniversal(extracted.Action) {
		return Outcome{Verdict: Accept, Intent: withData(extracted, map[string]interface{}{})}
	}

	if r.expected(extracted.Action) {
		candidate := withData(extracted, models.CloneData(extracted.Data))
		if err := r.check(ctx, in, &candidate); err != nil {
			return Outcome{Verdict: Reject, Reason: err.Error()}
		}
		return Outcome{Verdict: Accept, Intent: candidate}
	}

	// Repair only rebuilds intents whose action tag was wrong.
	reason := fmt.Sprintf("action %q not expected at %s", extracted.Action, step)
	if r.repair != nil {
		if fixed, ok := r.repair(ctx, in, extracted); ok {
			// A repaired intent must satisfy the same contract.
			if err := r.check(ctx, in, &fixed); err == nil {
				v.logger.Debug("intent repaired", map[string]interface{}{
					"step":     string(step),
					"from":     string(extracted.Action),
					"to":       string(fixed.Action),
					"reason":   reason,
					"source":   string(extracted.Source),
					"userId":   tc.UserID,
					"original": extracted.Data,
				})
				return Outcome{Verdict: Repair, Intent: fixed, Reason: reason}
			}
		}
	}

	return Outcome{Verdict: Reject, Reason: reason}
}

func withData(in models.ExtractedIntent, data map[string]interface{}) models.ExtractedIntent {
	out := in
	if data == nil {
		data = map[string]interface{}{}
	}
	out.Data = data
	return out
}

func repaired(original models.ExtractedIntent, action models.ActionKind, data map[string]interface{}) models.ExtractedIntent {
	return models.ExtractedIntent{
		Source:     original.Source,
		Action:     action,
		Data:       data,
		Confidence: original.Confidence,
		Understood: original.Understood,
		Failure:    original.Failure,
	}
}
