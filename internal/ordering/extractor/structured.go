package extractor

import (
	"strings"

	"order-workers/internal/models"
	"order-workers/internal/ordering/lexicon"
	"order-workers/internal/ordering/numerals"
)

// ExtractStructured is the non-AI branch: keyword and number matching scoped
// to what the step can accept.
func (e *Extractor) ExtractStructured(step models.ConversationStep, text numerals.Text, tc models.TurnContext) models.ExtractedIntent {
	return ExtractStructured(step, text, tc)
}

// ExtractStructured runs the deterministic matchers for step.
func ExtractStructured(step models.ConversationStep, text numerals.Text, tc models.TurnContext) models.ExtractedIntent {
	if step != models.StepAwaitingLanguage && step != models.StepCompleted {
		if kind, ok := lexicon.Universal(text.String()); ok {
			return structured(kind, map[string]interface{}{}, models.ConfidenceHigh)
		}
	}

	switch step {
	case models.StepAwaitingLanguage:
		return structuredLanguage(text)
	case models.StepAwaitingCategory:
		return structuredCategory(text, tc.Menu.Categories)
	case models.StepAwaitingItem:
		return structuredItem(text, tc.Menu)
	case models.StepAwaitingQuantity:
		return structuredQuantity(text)
	case models.StepAwaitingAdditional, models.StepAwaitingConfirmation:
		if ans, ok := lexicon.YesNo(text.String()); ok {
			return structured(models.ActionYesNo, map[string]interface{}{models.FieldYesNo: ans}, models.ConfidenceMedium)
		}
	case models.StepAwaitingService:
		if svc, ok := lexicon.ServiceKeyword(text.String()); ok {
			return structured(models.ActionServiceSelection, map[string]interface{}{models.FieldServiceType: svc}, models.ConfidenceMedium)
		}
	case models.StepAwaitingLocation:
		return structuredLocation(text, tc.ServiceType)
	}
	return models.UnknownIntent(models.SourceStructured, "")
}

func structured(action models.ActionKind, data map[string]interface{}, c models.Confidence) models.ExtractedIntent {
	return models.ExtractedIntent{
		Source:     models.SourceStructured,
		Action:     action,
		Data:       data,
		Confidence: c,
	}
}

func structuredLanguage(text numerals.Text) models.ExtractedIntent {
	lang, ok := lexicon.LanguageIndicator(text.String())
	conf := models.ConfidenceHigh
	if !ok {
		lang, ok = lexicon.ScriptLanguage(text.String())
		conf = models.ConfidenceLow
	}
	if !ok {
		return models.UnknownIntent(models.SourceStructured, "")
	}
	return structured(models.ActionLanguageSelection, map[string]interface{}{models.FieldLanguage: string(lang)}, conf)
}

func structuredCategory(text numerals.Text, categories []models.Category) models.ExtractedIntent {
	if n, ok := numerals.BareInteger(text); ok {
		return structured(models.ActionCategorySelection, map[string]interface{}{models.FieldCategoryID: n}, models.ConfidenceHigh)
	}
	folded := lexicon.Fold(text.String())
	for _, c := range categories {
		for _, name := range []string{c.NameAR, c.NameEN} {
			if n := lexicon.Fold(name); n != "" && strings.Contains(folded, n) {
				return structured(models.ActionCategorySelection, map[string]interface{}{
					models.FieldCategoryID:   c.ID,
					models.FieldCategoryName: name,
				}, models.ConfidenceMedium)
			}
		}
	}
	return models.UnknownIntent(models.SourceStructured, "")
}

func structuredItem(text numerals.Text, menu models.MenuSnapshot) models.ExtractedIntent {
	if n, ok := numerals.BareInteger(text); ok {
		return structured(models.ActionItemSelection, map[string]interface{}{models.FieldItemID: n}, models.ConfidenceHigh)
	}
	segments := SplitSegments(text, menu)
	switch {
	case len(segments) > 1, len(segments) == 1 && segments[0].Explicit:
		return multiItemIntent(segments)
	case len(segments) == 1:
		return structured(models.ActionItemSelection, map[string]interface{}{models.FieldItemName: segments[0].Name}, models.ConfidenceMedium)
	}
	return models.UnknownIntent(models.SourceStructured, "")
}

func structuredQuantity(text numerals.Text) models.ExtractedIntent {
	if n, ok := QuantityEvidence(text); ok {
		return structured(models.ActionQuantitySelection, map[string]interface{}{models.FieldQuantity: n}, models.ConfidenceHigh)
	}
	for _, tok := range lexicon.Tokens(text.String()) {
		if n, ok := lexicon.QuantityWord(tok); ok {
			return structured(models.ActionQuantitySelection, map[string]interface{}{models.FieldQuantity: n}, models.ConfidenceMedium)
		}
	}
	return models.UnknownIntent(models.SourceStructured, "")
}

func structuredLocation(text numerals.Text, service string) models.ExtractedIntent {
	if service == models.ServiceDineIn {
		if n, ok := numerals.FirstInteger(text); ok {
			return structured(models.ActionLocationInput, map[string]interface{}{models.FieldTableNumber: n}, models.ConfidenceHigh)
		}
		return models.UnknownIntent(models.SourceStructured, "")
	}
	loc := strings.TrimSpace(text.String())
	if loc == "" {
		return models.UnknownIntent(models.SourceStructured, "")
	}
	return structured(models.ActionLocationInput, map[string]interface{}{models.FieldLocation: loc}, models.ConfidenceMedium)
}
