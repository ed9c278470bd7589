package extractor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/logger"
	"order-workers/internal/models"
	"order-workers/internal/ordering/numerals"
)

// ==========================
// Test doubles
// ==========================

type fakeInterpreter struct {
	intent models.ExtractedIntent
	err    error
	delay  time.Duration
	calls  int
}

func (f *fakeInterpreter) Interpret(ctx context.Context, _ models.ConversationStep, _ numerals.Text, _ models.TurnContext) (models.ExtractedIntent, error) {
	f.calls++
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return models.ExtractedIntent{}, ctx.Err()
		}
	}
	return f.intent, f.err
}

func testMenu() models.MenuSnapshot {
	return models.MenuSnapshot{
		Categories: []models.Category{
			{ID: 1, NameAR: "مشروبات حارة", NameEN: "Hot Drinks"},
			{ID: 2, NameAR: "حلويات", NameEN: "Sweets"},
		},
		Items: []models.MenuItem{
			{ID: 11, CategoryID: 1, NameAR: "لاتيه فانيلا", NameEN: "Vanilla Latte", Price: 4000, Available: true},
			{ID: 12, CategoryID: 1, NameAR: "لاتيه كراميل", NameEN: "Caramel Latte", Price: 4000, Available: true},
			{ID: 21, CategoryID: 2, NameAR: "كيك", NameEN: "Cake", Price: 3500, Available: true},
		},
	}
}

func newTestExtractor(t *testing.T, ai Interpreter, cfg Config) *Extractor {
	return New(ai, cfg, logger.NewTestLogger(t))
}

// ==========================
// Multi-item splitting
// ==========================

func TestSplitSegments(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Segment
	}{
		{
			name: "english conjunction",
			text: "one vanilla latte and one caramel latte",
			want: []Segment{
				{Name: "vanilla latte", Quantity: 1, Explicit: true},
				{Name: "caramel latte", Quantity: 1, Explicit: true},
			},
		},
		{
			name: "arabic standalone waw",
			text: "واحد لاتيه فانيلا و واحد لاتيه كراميل",
			want: []Segment{
				{Name: "لاتيه فانيلا", Quantity: 1, Explicit: true},
				{Name: "لاتيه كراميل", Quantity: 1, Explicit: true},
			},
		},
		{
			name: "arabic attached waw before quantity",
			text: "واحد لاتيه فانيلا وواحد لاتيه كراميل",
			want: []Segment{
				{Name: "لاتيه فانيلا", Quantity: 1, Explicit: true},
				{Name: "لاتيه كراميل", Quantity: 1, Explicit: true},
			},
		},
		{
			name: "attached waw before menu word",
			text: "لاتيه فانيلا ولاتيه كراميل",
			want: []Segment{
				{Name: "لاتيه فانيلا", Quantity: 1},
				{Name: "لاتيه كراميل", Quantity: 1},
			},
		},
		{
			name: "digits and comma",
			text: "2 cake, 3 vanilla latte",
			want: []Segment{
				{Name: "cake", Quantity: 2, Explicit: true},
				{Name: "vanilla latte", Quantity: 3, Explicit: true},
			},
		},
		{
			name: "fillers removed and out of range kept",
			text: "I want 99 cake please",
			want: []Segment{{Name: "cake", Quantity: 99, Explicit: true}},
		},
		{
			name: "empty segments dropped",
			text: "and also",
			want: []Segment{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSegments(numerals.Normalize(tt.text), testMenu())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_SplitsListedItemsOverAIResult(t *testing.T) {
	ai := &fakeInterpreter{intent: models.ExtractedIntent{
		Action:     models.ActionItemSelection,
		Data:       map[string]interface{}{models.FieldItemName: "vanilla latte"},
		Confidence: models.ConfidenceHigh,
	}}
	ex := newTestExtractor(t, ai, Config{})

	got := ex.Extract(context.Background(), models.StepAwaitingItem,
		numerals.Normalize("one vanilla latte and one caramel latte"), models.TurnContext{Menu: testMenu()})

	assert.Equal(t, models.ActionMultiItemSelection, got.Action)
	assert.Equal(t, models.SourceStructured, got.Source)
	lines := models.LineItemsField(got.Data)
	require.Len(t, lines, 2)
	for _, li := range lines {
		assert.Equal(t, 1, li.Quantity)
	}
}

func TestExtract_ModifierConjunctionKeepsAIResult(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"with modifier", "vanilla latte with extra sugar"},
		{"and modifier", "one caramel latte and less ice"},
		{"arabic with", "لاتيه فانيلا مع سكر زيادة"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := &fakeInterpreter{intent: models.ExtractedIntent{
				Action:     models.ActionItemSelection,
				Data:       map[string]interface{}{models.FieldItemName: "vanilla latte"},
				Confidence: models.ConfidenceHigh,
			}}
			ex := newTestExtractor(t, ai, Config{})

			got := ex.Extract(context.Background(), models.StepAwaitingItem,
				numerals.Normalize(tt.text), models.TurnContext{Menu: testMenu()})

			assert.Equal(t, models.ActionItemSelection, got.Action)
			assert.Equal(t, models.SourceAI, got.Source)
		})
	}
}

func TestExtract_KeepsAIResultOnSingleItemSteps(t *testing.T) {
	ai := &fakeInterpreter{intent: models.ExtractedIntent{
		Action: models.ActionYesNo,
		Data:   map[string]interface{}{models.FieldYesNo: "yes"},
	}}
	ex := newTestExtractor(t, ai, Config{})

	got := ex.Extract(context.Background(), models.StepAwaitingAdditional,
		numerals.Normalize("yes and a cake"), models.TurnContext{Menu: testMenu()})

	assert.Equal(t, models.ActionYesNo, got.Action)
	assert.Equal(t, models.SourceAI, got.Source)
	assert.Equal(t, models.ConfidenceLow, got.Confidence)
}

func TestExtract_UnknownAIWithExplicitQuantityBecomesOneLine(t *testing.T) {
	ai := &fakeInterpreter{intent: models.ExtractedIntent{Action: models.ActionUnknown}}
	ex := newTestExtractor(t, ai, Config{})

	got := ex.Extract(context.Background(), models.StepAwaitingItem,
		numerals.Normalize("٢ كيك"), models.TurnContext{Menu: testMenu()})

	assert.Equal(t, models.ActionMultiItemSelection, got.Action)
	lines := models.LineItemsField(got.Data)
	require.Len(t, lines, 1)
	assert.Equal(t, models.OrderLineItem{ItemName: "كيك", Quantity: 2}, lines[0])
}

// ==========================
// Failure degradation
// ==========================

func TestExtract_FailuresDegradeToUnknown(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"quota", apperrors.NewAIQuotaExceededError("429"), FailureQuota},
		{"malformed", apperrors.NewAIMalformedResponseError("not json"), FailureMalformed},
		{"timeout code", apperrors.NewAITimeoutError(time.Second), FailureTimeout},
		{"plain", errors.New("connection refused"), FailureUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := newTestExtractor(t, &fakeInterpreter{err: tt.err}, Config{})
			got := ex.Extract(context.Background(), models.StepAwaitingQuantity, "3", models.TurnContext{})
			assert.Equal(t, models.ActionUnknown, got.Action)
			assert.Equal(t, models.ConfidenceLow, got.Confidence)
			assert.Equal(t, tt.want, got.Failure)
		})
	}
}

func TestExtract_TimeoutIsBounded(t *testing.T) {
	ai := &fakeInterpreter{delay: time.Second}
	ex := newTestExtractor(t, ai, Config{Timeout: 20 * time.Millisecond})

	start := time.Now()
	got := ex.Extract(context.Background(), models.StepAwaitingQuantity, "3", models.TurnContext{})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, FailureTimeout, got.Failure)
}

func TestExtract_NilInterpreter(t *testing.T) {
	ex := newTestExtractor(t, nil, Config{})
	got := ex.Extract(context.Background(), models.StepAwaitingQuantity, "3", models.TurnContext{})
	assert.Equal(t, FailureDisabled, got.Failure)
}

func TestBreaker_OpensAndProbes(t *testing.T) {
	now := time.Now()
	b := newBreaker(2, time.Minute, func() time.Time { return now })

	assert.True(t, b.allow())
	b.failure()
	assert.True(t, b.allow())
	b.failure()
	assert.False(t, b.allow())
	assert.True(t, b.open())

	now = now.Add(2 * time.Minute)
	assert.True(t, b.allow(), "probe after cooldown")
	assert.False(t, b.allow(), "only one probe at a time")
	b.success()
	assert.True(t, b.allow())
	assert.False(t, b.open())
}

func TestExtract_CircuitOpenSkipsInterpreter(t *testing.T) {
	ai := &fakeInterpreter{err: errors.New("down")}
	ex := newTestExtractor(t, ai, Config{FailureThreshold: 2, Cooldown: time.Hour})

	for i := 0; i < 2; i++ {
		ex.Extract(context.Background(), models.StepAwaitingQuantity, "3", models.TurnContext{})
	}
	got := ex.Extract(context.Background(), models.StepAwaitingQuantity, "3", models.TurnContext{})

	assert.Equal(t, 2, ai.calls)
	assert.Equal(t, FailureCircuitOpen, got.Failure)
	assert.True(t, ex.CircuitOpen())
}

// ==========================
// Structured branch
// ==========================

func TestExtractStructured(t *testing.T) {
	menu := testMenu()
	tests := []struct {
		name    string
		step    models.ConversationStep
		text    string
		service string
		action  models.ActionKind
		data    map[string]interface{}
	}{
		{"language digit", models.StepAwaitingLanguage, "2", "", models.ActionLanguageSelection, map[string]interface{}{models.FieldLanguage: "english"}},
		{"language script", models.StepAwaitingLanguage, "شلونكم", "", models.ActionLanguageSelection, map[string]interface{}{models.FieldLanguage: "arabic"}},
		{"category digit", models.StepAwaitingCategory, "١", "", models.ActionCategorySelection, map[string]interface{}{models.FieldCategoryID: 1}},
		{"category name", models.StepAwaitingCategory, "show me sweets", "", models.ActionCategorySelection, map[string]interface{}{models.FieldCategoryID: 2, models.FieldCategoryName: "Sweets"}},
		{"item index", models.StepAwaitingItem, "2", "", models.ActionItemSelection, map[string]interface{}{models.FieldItemID: 2}},
		{"item name", models.StepAwaitingItem, "I want cake", "", models.ActionItemSelection, map[string]interface{}{models.FieldItemName: "cake"}},
		{"quantity digit", models.StepAwaitingQuantity, "٣", "", models.ActionQuantitySelection, map[string]interface{}{models.FieldQuantity: 3}},
		{"quantity word", models.StepAwaitingQuantity, "ثلاثة من فضلك", "", models.ActionQuantitySelection, map[string]interface{}{models.FieldQuantity: 3}},
		{"quantity out of range", models.StepAwaitingQuantity, "99", "", models.ActionQuantitySelection, map[string]interface{}{models.FieldQuantity: 99}},
		{"additional no", models.StepAwaitingAdditional, "لا شكرا", "", models.ActionYesNo, map[string]interface{}{models.FieldYesNo: "no"}},
		{"service delivery", models.StepAwaitingService, "توصيل", "", models.ActionServiceSelection, map[string]interface{}{models.FieldServiceType: "delivery"}},
		{"table number", models.StepAwaitingLocation, "table ٥", models.ServiceDineIn, models.ActionLocationInput, map[string]interface{}{models.FieldTableNumber: 5}},
		{"address", models.StepAwaitingLocation, " Karrada, street 62 ", models.ServiceDelivery, models.ActionLocationInput, map[string]interface{}{models.FieldLocation: "Karrada, street 62"}},
		{"confirmation yes", models.StepAwaitingConfirmation, "نعم", "", models.ActionYesNo, map[string]interface{}{models.FieldYesNo: "yes"}},
		{"universal back", models.StepAwaitingQuantity, "رجوع", "", models.ActionBackNavigation, map[string]interface{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := models.TurnContext{Menu: menu, ServiceType: tt.service}
			got := ExtractStructured(tt.step, numerals.Normalize(tt.text), tc)
			assert.Equal(t, models.SourceStructured, got.Source)
			assert.Equal(t, tt.action, got.Action)
			assert.Equal(t, tt.data, got.Data)
		})
	}
}

func TestExtractStructured_NoMatch(t *testing.T) {
	got := ExtractStructured(models.StepAwaitingService, "maybe later", models.TurnContext{})
	assert.Equal(t, models.ActionUnknown, got.Action)
}

func TestQuantityEvidence(t *testing.T) {
	n, ok := QuantityEvidence(numerals.Normalize("بدي ٣"))
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = QuantityEvidence("0")
	assert.False(t, ok)
	_, ok = QuantityEvidence("51 please")
	assert.False(t, ok)
	_, ok = QuantityEvidence("none")
	assert.False(t, ok)
}
