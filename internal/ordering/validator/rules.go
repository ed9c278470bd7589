package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"order-workers/internal/models"
	"order-workers/internal/ordering/lexicon"
	"order-workers/internal/ordering/numerals"
)

var (
	ErrMissingField       = errors.New("MISSING_FIELD")
	ErrOutOfRange         = errors.New("OUT_OF_RANGE")
	ErrUnknownValue       = errors.New("UNKNOWN_VALUE")
	ErrNotInCatalog       = errors.New("NOT_IN_CATALOG")
	ErrNoValidLines       = errors.New("NO_VALID_LINES")
	ErrServiceUnsupported = errors.New("SERVICE_UNSUPPORTED")
)

func (v *Validator) buildRules() map[models.ConversationStep]rule {
	yesNo := rule{
		expects:   []models.ActionKind{models.ActionYesNo},
		universal: true,
		check:     checkYesNo,
		repair:    repairYesNo,
	}
	confirmation := yesNo
	confirmation.expects = []models.ActionKind{models.ActionYesNo, models.ActionConfirmation}

	return map[models.ConversationStep]rule{
		models.StepAwaitingLanguage: {
			expects: []models.ActionKind{models.ActionLanguageSelection},
			check:   checkLanguage,
			repair:  repairLanguage,
		},
		models.StepAwaitingCategory: {
			expects:   []models.ActionKind{models.ActionCategorySelection},
			universal: true,
			check:     checkCategory,
			repair:    repairCategory,
		},
		models.StepAwaitingItem: {
			expects:   []models.ActionKind{models.ActionItemSelection, models.ActionMultiItemSelection},
			universal: true,
			check:     v.checkItem,
			repair:    v.repairItem,
		},
		models.StepAwaitingQuantity: {
			expects:   []models.ActionKind{models.ActionQuantitySelection, models.ActionMultiItemSelection},
			universal: true,
			check:     v.checkQuantity,
			repair:    repairQuantity,
		},
		models.StepAwaitingAdditional:   yesNo,
		models.StepAwaitingConfirmation: confirmation,
		models.StepAwaitingService: {
			expects:   []models.ActionKind{models.ActionServiceSelection},
			universal: true,
			check:     checkService,
			repair:    repairService,
		},
		models.StepAwaitingLocation: {
			expects:   []models.ActionKind{models.ActionLocationInput},
			universal: true,
			check:     v.checkLocation,
			repair:    v.repairLocation,
		},
	}
}

// ==========================
// Language
// ==========================

func parseLanguage(s string) (models.Language, bool) {
	switch lexicon.Fold(s) {
	case "arabic", "ar", "عربي", "العربيه":
		return models.LanguageArabic, true
	case "english", "en", "انجليزي", "انكليزي":
		return models.LanguageEnglish, true
	}
	return "", false
}

func checkLanguage(_ context.Context, _ input, intent *models.ExtractedIntent) error {
	raw, ok := models.StringField(intent.Data, models.FieldLanguage)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingField, models.FieldLanguage)
	}
	lang, ok := parseLanguage(raw)
	if !ok {
		return fmt.Errorf("%w: language %q", ErrUnknownValue, raw)
	}
	intent.Data[models.FieldLanguage] = string(lang)
	return nil
}

func repairLanguage(_ context.Context, in input, original models.ExtractedIntent) (models.ExtractedIntent, bool) {
	lang, ok := lexicon.LanguageIndicator(in.text.String())
	if !ok {
		return models.ExtractedIntent{}, false
	}
	return repaired(original, models.ActionLanguageSelection, map[string]interface{}{models.FieldLanguage: string(lang)}), true
}

// ==========================
// Category
// ==========================

func checkCategory(_ context.Context, in input, intent *models.ExtractedIntent) error {
	cats := in.tc.Menu.Categories
	if id, ok := models.IntField(intent.Data, models.FieldCategoryID); ok {
		for _, c := range cats {
			if c.ID == id {
				intent.Data[models.FieldCategoryID] = c.ID
				return nil
			}
		}
		return fmt.Errorf("%w: category %d of %d", ErrOutOfRange, id, len(cats))
	}
	if name, ok := models.StringField(intent.Data, models.FieldCategoryName); ok {
		folded := lexicon.Fold(name)
		for _, c := range cats {
			if folded == lexicon.Fold(c.NameAR) || folded == lexicon.Fold(c.NameEN) {
				intent.Data[models.FieldCategoryID] = c.ID
				return nil
			}
		}
		return fmt.Errorf("%w: category %q", ErrNotInCatalog, name)
	}
	return fmt.Errorf("%w: %s", ErrMissingField, models.FieldCategoryID)
}

func repairCategory(_ context.Context, in input, original models.ExtractedIntent) (models.ExtractedIntent, bool) {
	if n, ok := numerals.BareInteger(in.text); ok {
		return repaired(original, models.ActionCategorySelection, map[string]interface{}{models.FieldCategoryID: n}), true
	}
	if id, ok := models.IntField(original.Data, models.FieldCategoryID); ok && containsInt(numerals.Integers(in.text), id) {
		return repaired(original, models.ActionCategorySelection, map[string]interface{}{models.FieldCategoryID: id}), true
	}
	return models.ExtractedIntent{}, false
}

// ==========================
// Item
// ==========================

func itemsInCategory(menu models.MenuSnapshot, categoryID int) []models.MenuItem {
	out := make([]models.MenuItem, 0, len(menu.Items))
	for _, it := range menu.Items {
		if !it.Available {
			continue
		}
		if categoryID == 0 || it.CategoryID == categoryID {
			out = append(out, it)
		}
	}
	return out
}

// itemByNumber resolves a number the user typed: a position in the current
// category listing first, then a catalog id.
func itemByNumber(tc models.TurnContext, n int) (models.MenuItem, bool) {
	listed := itemsInCategory(tc.Menu, tc.CategoryID)
	if n >= 1 && n <= len(listed) {
		return listed[n-1], true
	}
	for _, it := range tc.Menu.Items {
		if it.Available && it.ID == int64(n) {
			return it, true
		}
	}
	return models.MenuItem{}, false
}

func (v *Validator) lookup(ctx context.Context, in input, candidate string) (models.MenuItem, bool) {
	if v.catalog == nil || strings.TrimSpace(candidate) == "" {
		return models.MenuItem{}, false
	}
	item, ok, err := v.catalog.Lookup(ctx, candidate, in.tc.CategoryID)
	if err != nil {
		v.logger.Warn("catalog lookup failed", map[string]interface{}{
			"userId":    in.tc.UserID,
			"candidate": candidate,
			"error":     err.Error(),
		})
		return models.MenuItem{}, false
	}
	return item, ok && item.Available
}

func (v *Validator) checkItem(ctx context.Context, in input, intent *models.ExtractedIntent) error {
	if intent.Action == models.ActionMultiItemSelection {
		return v.checkLines(ctx, in, intent)
	}

	if q, present := intent.Data[models.FieldQuantity]; present && q != nil {
		n, ok := models.IntField(intent.Data, models.FieldQuantity)
		if !ok || !models.QuantityInRange(n) {
			return fmt.Errorf("%w: quantity %v", ErrOutOfRange, q)
		}
		intent.Data[models.FieldQuantity] = n
	}

	if n, ok := models.IntField(intent.Data, models.FieldItemID); ok {
		item, found := itemByNumber(in.tc, n)
		if !found {
			return fmt.Errorf("%w: item %d", ErrOutOfRange, n)
		}
		intent.Data[models.FieldItem] = item
		return nil
	}
	if name, ok := models.StringField(intent.Data, models.FieldItemName); ok {
		item, found := v.lookup(ctx, in, name)
		if !found {
			return fmt.Errorf("%w: %q", ErrNotInCatalog, name)
		}
		intent.Data[models.FieldItem] = item
		return nil
	}
	return fmt.Errorf("%w: %s", ErrMissingField, models.FieldItemName)
}

// checkLines validates every line on its own. Out-of-range or unknown lines
// move to unmatched; the intent passes while at least one line survives.
func (v *Validator) checkLines(ctx context.Context, in input, intent *models.ExtractedIntent) error {
	lines := models.LineItemsField(intent.Data)
	if len(lines) == 0 {
		return fmt.Errorf("%w: %s", ErrMissingField, models.FieldItems)
	}

	matched := make([]models.OrderLineItem, 0, len(lines))
	var unmatched []models.OrderLineItem
	for _, li := range lines {
		if !models.QuantityInRange(li.Quantity) {
			unmatched = append(unmatched, li)
			continue
		}
		candidate := li.ItemName
		var (
			item  models.MenuItem
			found bool
		)
		if li.ItemID > 0 {
			item, found = itemByID(in.tc.Menu, li.ItemID)
		}
		if !found {
			item, found = v.lookup(ctx, in, candidate)
		}
		if !found {
			unmatched = append(unmatched, li)
			continue
		}
		matched = append(matched, item.LineItem(li.Quantity))
	}

	intent.Data[models.FieldItems] = matched
	if len(unmatched) > 0 {
		intent.Data[models.FieldUnmatched] = unmatched
	}
	if len(matched) == 0 {
		return fmt.Errorf("%w: %d unmatched", ErrNoValidLines, len(unmatched))
	}
	return nil
}

func itemByID(menu models.MenuSnapshot, id int64) (models.MenuItem, bool) {
	for _, it := range menu.Items {
		if it.ID == id && it.Available {
			return it, true
		}
	}
	return models.MenuItem{}, false
}

func (v *Validator) repairItem(ctx context.Context, in input, original models.ExtractedIntent) (models.ExtractedIntent, bool) {
	if n, ok := numerals.BareInteger(in.text); ok {
		return repaired(original, models.ActionItemSelection, map[string]interface{}{models.FieldItemID: n}), true
	}
	// The interpreter named an item under the wrong action; keep it when a
	// word of that name is in the message.
	name, ok := models.StringField(original.Data, models.FieldItemName)
	if !ok || !sharesWord(in.text.String(), name) {
		return models.ExtractedIntent{}, false
	}
	return repaired(original, models.ActionItemSelection, map[string]interface{}{models.FieldItemName: name}), true
}

// ==========================
// Quantity
// ==========================

func (v *Validator) checkQuantity(ctx context.Context, in input, intent *models.ExtractedIntent) error {
	if intent.Action == models.ActionMultiItemSelection {
		return v.checkLines(ctx, in, intent)
	}
	raw, present := intent.Data[models.FieldQuantity]
	if !present || raw == nil {
		return fmt.Errorf("%w: %s", ErrMissingField, models.FieldQuantity)
	}
	n, ok := models.IntField(intent.Data, models.FieldQuantity)
	if !ok || !models.QuantityInRange(n) {
		return fmt.Errorf("%w: quantity %v not in [%d,%d]", ErrOutOfRange, raw, models.MinQuantity, models.MaxQuantity)
	}
	intent.Data[models.FieldQuantity] = n
	return nil
}

func repairQuantity(_ context.Context, in input, original models.ExtractedIntent) (models.ExtractedIntent, bool) {
	n, ok := numerals.FirstInteger(in.text)
	if !ok {
		for _, tok := range lexicon.Tokens(in.text.String()) {
			if q, isQty := lexicon.QuantityWord(tok); isQty {
				n, ok = q, true
				break
			}
		}
	}
	if !ok || !models.QuantityInRange(n) {
		return models.ExtractedIntent{}, false
	}
	return repaired(original, models.ActionQuantitySelection, map[string]interface{}{models.FieldQuantity: n}), true
}

// ==========================
// Yes / No
// ==========================

// checkYesNo needs an explicit answer. A confirmation action with no answer
// field takes it from the message text.
func checkYesNo(_ context.Context, in input, intent *models.ExtractedIntent) error {
	raw, ok := models.StringField(intent.Data, models.FieldYesNo)
	if !ok {
		raw, ok = models.StringField(intent.Data, "answer")
	}
	if !ok && intent.Action == models.ActionConfirmation {
		raw, ok = lexicon.YesNo(in.text.String())
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingField, models.FieldYesNo)
	}
	switch strings.ToLower(raw) {
	case "yes", "no":
		intent.Data[models.FieldYesNo] = strings.ToLower(raw)
		return nil
	}
	return fmt.Errorf("%w: yes_no %q", ErrUnknownValue, raw)
}

func repairYesNo(_ context.Context, in input, original models.ExtractedIntent) (models.ExtractedIntent, bool) {
	ans, ok := lexicon.ExactYesNo(in.text.String())
	if !ok {
		return models.ExtractedIntent{}, false
	}
	return repaired(original, models.ActionYesNo, map[string]interface{}{models.FieldYesNo: ans}), true
}

// ==========================
// Service
// ==========================

func checkService(_ context.Context, _ input, intent *models.ExtractedIntent) error {
	raw, ok := models.StringField(intent.Data, models.FieldServiceType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingField, models.FieldServiceType)
	}
	svc, ok := lexicon.NormalizeService(raw)
	if !ok {
		return fmt.Errorf("%w: %q", ErrServiceUnsupported, raw)
	}
	intent.Data[models.FieldServiceType] = svc
	return nil
}

func repairService(_ context.Context, in input, original models.ExtractedIntent) (models.ExtractedIntent, bool) {
	if n, ok := numerals.BareInteger(in.text); ok && (n == 1 || n == 2) {
		svc, _ := lexicon.ServiceKeyword(in.text.String())
		return repaired(original, models.ActionServiceSelection, map[string]interface{}{models.FieldServiceType: svc}), true
	}
	raw, ok := models.StringField(original.Data, models.FieldServiceType)
	if !ok {
		return models.ExtractedIntent{}, false
	}
	aiSvc, ok := lexicon.NormalizeService(raw)
	if !ok {
		return models.ExtractedIntent{}, false
	}
	if textSvc, ok := lexicon.ServiceKeyword(in.text.String()); !ok || textSvc != aiSvc {
		return models.ExtractedIntent{}, false
	}
	return repaired(original, models.ActionServiceSelection, map[string]interface{}{models.FieldServiceType: aiSvc}), true
}

// ==========================
// Location
// ==========================

func (v *Validator) checkLocation(_ context.Context, in input, intent *models.ExtractedIntent) error {
	if in.tc.ServiceType == models.ServiceDineIn {
		n, ok := models.IntField(intent.Data, models.FieldTableNumber)
		if !ok {
			// Table numbers are often sent in the location field.
			if s, isStr := models.StringField(intent.Data, models.FieldLocation); isStr {
				n, ok = numerals.FirstInteger(numerals.Normalize(s))
			}
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingField, models.FieldTableNumber)
		}
		if n < 1 || n > v.config.MaxTableNumber {
			return fmt.Errorf("%w: table %d not in [1,%d]", ErrOutOfRange, n, v.config.MaxTableNumber)
		}
		intent.Data[models.FieldTableNumber] = n
		intent.Data[models.FieldLocation] = fmt.Sprintf("%d", n)
		return nil
	}

	loc, ok := models.StringField(intent.Data, models.FieldLocation)
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingField, models.FieldLocation)
	}
	if utf8.RuneCountInString(loc) < v.config.MinAddressLen {
		return fmt.Errorf("%w: address too short", ErrOutOfRange)
	}
	intent.Data[models.FieldLocation] = loc
	return nil
}

func (v *Validator) repairLocation(_ context.Context, in input, original models.ExtractedIntent) (models.ExtractedIntent, bool) {
	if in.tc.ServiceType == models.ServiceDineIn {
		n, ok := numerals.BareInteger(in.text)
		if !ok {
			return models.ExtractedIntent{}, false
		}
		return repaired(original, models.ActionLocationInput, map[string]interface{}{models.FieldTableNumber: n}), true
	}
	loc, ok := models.StringField(original.Data, models.FieldLocation)
	if !ok || !strings.Contains(lexicon.Fold(in.text.String()), lexicon.Fold(loc)) {
		return models.ExtractedIntent{}, false
	}
	return repaired(original, models.ActionLocationInput, map[string]interface{}{models.FieldLocation: loc}), true
}

// ==========================
// Helpers
// ==========================

func containsInt(xs []int, n int) bool {
	for _, x := range xs {
		if x == n {
			return true
		}
	}
	return false
}

func sharesWord(text, name string) bool {
	words := make(map[string]struct{})
	for _, t := range lexicon.Tokens(text) {
		words[t] = struct{}{}
	}
	for _, t := range lexicon.Tokens(name) {
		if _, ok := words[t]; ok {
			return true
		}
	}
	return false
}
