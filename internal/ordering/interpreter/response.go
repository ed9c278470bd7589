package interpreter

import (
	"encoding/json"
	"regexp"
	"strings"

	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/validation"
	"order-workers/internal/models"
)

var responseSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["action"],
	"properties": {
		"understood_intent": {"type": ["string", "null"]},
		"confidence": {"type": ["string", "number", "null"]},
		"action": {"type": "string", "minLength": 1},
		"extracted_data": {"type": ["object", "null"]}
	}
}`)

var envelopePrefixes = []string{"RESPOND WITH JSON:", "JSON:", "RESPONSE:"}

var actionAliases = map[string]models.ActionKind{
	"back":          models.ActionBackNavigation,
	"help":          models.ActionHelpRequest,
	"menu":          models.ActionShowMenu,
	"confirm":       models.ActionConfirmation,
	"language":      models.ActionLanguageSelection,
	"quantity":      models.ActionQuantitySelection,
	"item":          models.ActionItemSelection,
	"multi_item":    models.ActionMultiItemSelection,
	"category":      models.ActionCategorySelection,
	"main_category": models.ActionCategorySelection,
	"service":       models.ActionServiceSelection,
	"location":      models.ActionLocationInput,
	"yesno":         models.ActionYesNo,
}

// ParseResponse turns raw model output into a candidate intent. Markdown
// fences, prefixes and common JSON slips are tolerated; anything else is an
// AI_MALFORMED_RESPONSE error.
func ParseResponse(raw string) (models.ExtractedIntent, error) {
	body := stripEnvelope(raw)
	if body == "" {
		return models.ExtractedIntent{}, apperrors.NewAIMalformedResponseError("empty response")
	}

	var doc map[string]interface{}
	if err := decode(body, &doc); err != nil {
		if err := decode(RepairJSON(body), &doc); err != nil {
			return models.ExtractedIntent{}, apperrors.NewAIMalformedResponseError(err.Error())
		}
	}
	hoistMisplaced(doc)

	result, err := responseSchema.Validate(doc)
	if err != nil {
		return models.ExtractedIntent{}, apperrors.NewAIMalformedResponseError(err.Error())
	}
	if !result.Valid {
		return models.ExtractedIntent{}, apperrors.NewAIMalformedResponseError(strings.Join(result.GetErrorMessages(), "; "))
	}

	action, _ := doc["action"].(string)
	understood, _ := doc["understood_intent"].(string)
	confidence, _ := doc["confidence"].(string)
	extracted, _ := doc["extracted_data"].(map[string]interface{})

	return models.ExtractedIntent{
		Source:     models.SourceAI,
		Action:     normalizeAction(action),
		Data:       cleanData(extracted),
		Confidence: models.ParseConfidence(confidence),
		Understood: understood,
	}, nil
}

func decode(s string, v interface{}) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	return dec.Decode(v)
}

var jsonObject = regexp.MustCompile(`\{[\s\S]*\}`)

func stripEnvelope(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	for _, p := range envelopePrefixes {
		if strings.HasPrefix(s, p) {
			s = strings.TrimSpace(s[len(p):])
		}
	}
	if !strings.HasPrefix(s, "{") {
		if m := jsonObject.FindString(s); m != "" {
			return m
		}
	}
	return s
}

var (
	trailingComma  = regexp.MustCompile(`,(\s*[}\]])`)
	emptyValue     = regexp.MustCompile(`:\s*,`)
	emptyLastValue = regexp.MustCompile(`:\s*([}\]])`)
	repeatedComma  = regexp.MustCompile(`,+`)
	missingComma   = regexp.MustCompile(`}(\s*)"([^"]+)"\s*:`)
	adjacentString = regexp.MustCompile(`"([^"]*)"(\s*)"([^"]+)"\s*:`)
	unquotedKey    = regexp.MustCompile(`([{,])\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// RepairJSON fixes the slips models commonly make: trailing and repeated
// commas, missing values, missing commas between members, unquoted keys and
// unclosed braces.
func RepairJSON(s string) string {
	s = trailingComma.ReplaceAllString(s, "$1")
	s = emptyValue.ReplaceAllString(s, ": null,")
	s = emptyLastValue.ReplaceAllString(s, ": null$1")
	s = repeatedComma.ReplaceAllString(s, ",")
	s = missingComma.ReplaceAllString(s, `},$1"$2":`)
	s = adjacentString.ReplaceAllString(s, `"$1",$2"$3":`)
	s = unquotedKey.ReplaceAllString(s, `$1"$2":`)
	s = trailingComma.ReplaceAllString(s, "$1")

	if open := strings.Count(s, "[") - strings.Count(s, "]"); open > 0 {
		s += strings.Repeat("]", open)
	}
	if open := strings.Count(s, "{") - strings.Count(s, "}"); open > 0 {
		s += strings.Repeat("}", open)
	}
	return s
}

// hoistMisplaced moves top-level fields the model nested inside
// extracted_data back up.
func hoistMisplaced(doc map[string]interface{}) {
	data, ok := doc["extracted_data"].(map[string]interface{})
	if !ok {
		return
	}
	for _, key := range []string{"action", "confidence", "understood_intent"} {
		if v, nested := data[key]; nested {
			if _, top := doc[key]; !top {
				doc[key] = v
			}
			delete(data, key)
		}
	}
}

func normalizeAction(action string) models.ActionKind {
	a := strings.ToLower(strings.TrimSpace(action))
	if alias, ok := actionAliases[a]; ok {
		return alias
	}
	if a == "" {
		return models.ActionUnknown
	}
	return models.ActionKind(a)
}

// cleanData drops null and placeholder values so absent fields read as
// absent, and turns JSON numbers into int or float64.
func cleanData(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		if c, ok := cleanValue(v); ok {
			out[k] = c
		}
	}
	if _, ok := out[models.FieldCategoryID]; !ok {
		if v, ok := out["suggested_main_category"]; ok {
			out[models.FieldCategoryID] = v
		}
	}
	delete(out, "suggested_main_category")
	return out
}

func cleanValue(v interface{}) (interface{}, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case string:
		t := strings.TrimSpace(x)
		if t == "" || strings.EqualFold(t, "null") || strings.EqualFold(t, "none") {
			return nil, false
		}
		return t, true
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i), true
		}
		f, err := x.Float64()
		return f, err == nil
	case map[string]interface{}:
		return cleanData(x), true
	case []interface{}:
		out := make([]interface{}, 0, len(x))
		for _, e := range x {
			if c, ok := cleanValue(e); ok {
				out = append(out, c)
			}
		}
		return out, true
	default:
		return v, true
	}
}
