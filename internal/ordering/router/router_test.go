package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-workers/internal/common/logger"
	"order-workers/internal/models"
)

// ==========================
// Test Helper Functions
// ==========================

type fakePlacer struct {
	placed []models.Order
	err    error
}

func (f *fakePlacer) Place(_ context.Context, o models.Order) (models.Order, error) {
	if f.err != nil {
		return models.Order{}, f.err
	}
	o.Number = int64(len(f.placed) + 1)
	o.ID = models.FormatOrderID(o.Number)
	f.placed = append(f.placed, o)
	return o, nil
}

var (
	latte = models.MenuItem{ID: 11, CategoryID: 1, NameAR: "لاتيه", NameEN: "Latte", Price: 4000, Available: true}
	mocha = models.MenuItem{ID: 12, CategoryID: 1, NameAR: "موكا", NameEN: "Mocha", Price: 4500, Available: true}
	cake  = models.MenuItem{ID: 21, CategoryID: 2, NameAR: "كيك", NameEN: "Cake", Price: 3000, Available: true}

	testMenu = models.MenuSnapshot{
		Categories: []models.Category{
			{ID: 1, NameAR: "مشروبات", NameEN: "Drinks"},
			{ID: 2, NameAR: "حلويات", NameEN: "Desserts"},
		},
		Items: []models.MenuItem{latte, mocha, cake},
	}
)

var epochTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRouter(t *testing.T) (*Router, *fakePlacer) {
	p := &fakePlacer{}
	return New(p, Config{BusinessName: "Hef Cafe", MaxTableNumber: 7}, logger.NewTestLogger(t)), p
}

func intent(action models.ActionKind, data map[string]interface{}) models.ResolvedIntent {
	if data == nil {
		data = map[string]interface{}{}
	}
	return models.ResolvedIntent{Action: action, Data: data, Origin: models.OriginAIAccepted}
}

func session(step models.ConversationStep) models.SessionState {
	s := models.NewSessionState("u1", epochTime)
	s.CurrentStep = step
	s.Language = models.LanguageEnglish
	return s
}

// ==========================
// Full flow
// ==========================

func TestRoute_FullOrderFlow(t *testing.T) {
	r, placer := newTestRouter(t)
	ctx := context.Background()
	s := models.NewSessionState("u1", epochTime)

	steps := []struct {
		intent   models.ResolvedIntent
		wantStep models.ConversationStep
		contains string
	}{
		{intent(models.ActionLanguageSelection, map[string]interface{}{"language": "english"}), models.StepAwaitingCategory, "1. Drinks"},
		{intent(models.ActionCategorySelection, map[string]interface{}{"category_id": 1}), models.StepAwaitingItem, "2. Mocha"},
		{intent(models.ActionItemSelection, map[string]interface{}{"item": latte}), models.StepAwaitingQuantity, "How many Latte"},
		{intent(models.ActionQuantitySelection, map[string]interface{}{"quantity": 2}), models.StepAwaitingAdditional, "Added Latte × 2"},
		{intent(models.ActionYesNo, map[string]interface{}{"yes_no": "no"}), models.StepAwaitingService, "Dine-in"},
		{intent(models.ActionServiceSelection, map[string]interface{}{"service_type": "dine-in"}), models.StepAwaitingLocation, "table number (1-7)"},
		{intent(models.ActionLocationInput, map[string]interface{}{"location": "4", "table_number": 4}), models.StepAwaitingConfirmation, "Total: 8,000 IQD"},
		{intent(models.ActionYesNo, map[string]interface{}{"yes_no": "yes"}), models.StepCompleted, "Order ID: HEF0001"},
	}

	for _, st := range steps {
		res, err := r.Route(ctx, s, st.intent, testMenu)
		require.NoError(t, err, "at %s", s.CurrentStep)
		assert.Equal(t, st.wantStep, res.State.CurrentStep, "from %s", s.CurrentStep)
		assert.Contains(t, res.Reply, st.contains)
		s = res.State
	}

	require.Len(t, placer.placed, 1)
	order := placer.placed[0]
	assert.Equal(t, 8000, order.Total)
	assert.Equal(t, models.ServiceDineIn, order.ServiceType)
	assert.Equal(t, "4", order.Location)
	assert.Equal(t, models.LanguageEnglish, order.Language)
}

func TestRoute_DoesNotMutateInput(t *testing.T) {
	r, _ := newTestRouter(t)
	s := session(models.StepAwaitingQuantity)
	pending := latte.LineItem(0)
	s.PendingItem = &pending

	_, err := r.Route(context.Background(), s, intent(models.ActionQuantitySelection, map[string]interface{}{"quantity": 3}), testMenu)
	require.NoError(t, err)
	assert.Empty(t, s.CartItems)
	assert.NotNil(t, s.PendingItem)
	assert.Equal(t, models.StepAwaitingQuantity, s.CurrentStep)
}

// ==========================
// Item selection
// ==========================

func TestRoute_ItemWithQuantitySkipsQuantityStep(t *testing.T) {
	r, _ := newTestRouter(t)
	res, err := r.Route(context.Background(), session(models.StepAwaitingItem),
		intent(models.ActionItemSelection, map[string]interface{}{"item": mocha, "quantity": 2}), testMenu)
	require.NoError(t, err)
	assert.Equal(t, models.StepAwaitingAdditional, res.State.CurrentStep)
	require.Len(t, res.State.CartItems, 1)
	assert.Equal(t, 2, res.State.CartItems[0].Quantity)
	assert.Equal(t, 9000, res.State.CartTotal())
}

func TestRoute_MultiItemSelection(t *testing.T) {
	r, _ := newTestRouter(t)
	data := map[string]interface{}{
		"items":     []models.OrderLineItem{latte.LineItem(1), mocha.LineItem(1)},
		"unmatched": []models.OrderLineItem{{ItemName: "pizza", Quantity: 1}},
	}
	res, err := r.Route(context.Background(), session(models.StepAwaitingItem), intent(models.ActionMultiItemSelection, data), testMenu)
	require.NoError(t, err)

	assert.Equal(t, models.StepAwaitingAdditional, res.State.CurrentStep)
	assert.Len(t, res.State.CartItems, 2)
	assert.Contains(t, res.Reply, "Added Latte × 1")
	assert.Contains(t, res.Reply, "Added Mocha × 1")
	assert.Contains(t, res.Reply, "Not found on the menu: pizza")
}

func TestRoute_QuantityWithoutPendingItemReturnsToItems(t *testing.T) {
	r, _ := newTestRouter(t)
	s := session(models.StepAwaitingQuantity)
	s.CategoryID = 2
	res, err := r.Route(context.Background(), s, intent(models.ActionQuantitySelection, map[string]interface{}{"quantity": 2}), testMenu)
	require.NoError(t, err)
	assert.Equal(t, models.StepAwaitingItem, res.State.CurrentStep)
	assert.Contains(t, res.Reply, "1. Cake")
}

// ==========================
// Additional / Confirmation
// ==========================

func TestRoute_AdditionalAnswers(t *testing.T) {
	r, _ := newTestRouter(t)
	withCart := session(models.StepAwaitingAdditional)
	withCart.CartItems = []models.OrderLineItem{latte.LineItem(1)}

	tests := []struct {
		name     string
		state    models.SessionState
		answer   string
		wantStep models.ConversationStep
	}{
		{"yes adds more", withCart, "yes", models.StepAwaitingCategory},
		{"no proceeds", withCart, "no", models.StepAwaitingService},
		{"no with empty cart", session(models.StepAwaitingAdditional), "no", models.StepAwaitingCategory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Route(context.Background(), tt.state, intent(models.ActionYesNo, map[string]interface{}{"yes_no": tt.answer}), testMenu)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStep, res.State.CurrentStep)
		})
	}
}

func TestRoute_ConfirmationNoCancelsKeepingLanguage(t *testing.T) {
	r, placer := newTestRouter(t)
	s := session(models.StepAwaitingConfirmation)
	s.CartItems = []models.OrderLineItem{latte.LineItem(1)}
	s.ServiceType = models.ServiceDelivery
	s.Location = "Karrada, street 62"

	res, err := r.Route(context.Background(), s, intent(models.ActionYesNo, map[string]interface{}{"yes_no": "no"}), testMenu)
	require.NoError(t, err)
	assert.Equal(t, models.StepAwaitingCategory, res.State.CurrentStep)
	assert.Equal(t, models.LanguageEnglish, res.State.Language)
	assert.Empty(t, res.State.CartItems)
	assert.Empty(t, res.State.ServiceType)
	assert.Contains(t, res.Reply, "cancelled")
	assert.Empty(t, placer.placed)
}

func TestRoute_ConfirmationNeedsExplicitAnswer(t *testing.T) {
	tests := []struct {
		name     string
		in       models.ResolvedIntent
		wantStep models.ConversationStep
		placed   int
	}{
		{"confirmation yes", intent(models.ActionConfirmation, map[string]interface{}{"yes_no": "yes"}), models.StepCompleted, 1},
		{"confirmation no", intent(models.ActionConfirmation, map[string]interface{}{"yes_no": "no"}), models.StepAwaitingCategory, 0},
		{"bare confirmation", intent(models.ActionConfirmation, nil), models.StepAwaitingConfirmation, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, placer := newTestRouter(t)
			s := session(models.StepAwaitingConfirmation)
			s.CartItems = []models.OrderLineItem{cake.LineItem(2)}

			res, err := r.Route(context.Background(), s, tt.in, testMenu)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStep, res.State.CurrentStep)
			assert.Len(t, placer.placed, tt.placed)
			assert.Equal(t, tt.placed == 1, res.Order != nil)
		})
	}
}

func TestRoute_PlaceErrorPropagates(t *testing.T) {
	r, placer := newTestRouter(t)
	placer.err = errors.New("db down")
	s := session(models.StepAwaitingConfirmation)
	s.CartItems = []models.OrderLineItem{cake.LineItem(1)}

	_, err := r.Route(context.Background(), s, intent(models.ActionYesNo, map[string]interface{}{"yes_no": "yes"}), testMenu)
	assert.EqualError(t, err, "db down")
}

// ==========================
// Universal actions
// ==========================

func TestRoute_BackNavigation(t *testing.T) {
	r, _ := newTestRouter(t)
	tests := []struct {
		from, to models.ConversationStep
	}{
		{models.StepAwaitingCategory, models.StepAwaitingLanguage},
		{models.StepAwaitingItem, models.StepAwaitingCategory},
		{models.StepAwaitingQuantity, models.StepAwaitingItem},
		{models.StepAwaitingAdditional, models.StepAwaitingCategory},
		{models.StepAwaitingService, models.StepAwaitingAdditional},
		{models.StepAwaitingLocation, models.StepAwaitingService},
		{models.StepAwaitingConfirmation, models.StepAwaitingLocation},
	}
	for _, tt := range tests {
		t.Run(string(tt.from), func(t *testing.T) {
			s := session(tt.from)
			pending := latte.LineItem(0)
			s.PendingItem = &pending
			res, err := r.Route(context.Background(), s, intent(models.ActionBackNavigation, nil), testMenu)
			require.NoError(t, err)
			assert.Equal(t, tt.to, res.State.CurrentStep)
			if tt.from == models.StepAwaitingQuantity {
				assert.Nil(t, res.State.PendingItem)
			}
		})
	}
}

func TestRoute_HelpAndMenuKeepState(t *testing.T) {
	r, _ := newTestRouter(t)
	s := session(models.StepAwaitingService)

	help, err := r.Route(context.Background(), s, intent(models.ActionHelpRequest, nil), testMenu)
	require.NoError(t, err)
	assert.Equal(t, models.StepAwaitingService, help.State.CurrentStep)
	assert.Contains(t, help.Reply, "back")
	assert.Contains(t, help.Reply, "Dine-in")

	menu, err := r.Route(context.Background(), s, intent(models.ActionShowMenu, nil), testMenu)
	require.NoError(t, err)
	assert.Equal(t, models.StepAwaitingService, menu.State.CurrentStep)
	assert.Contains(t, menu.Reply, "Delivery")
}

// ==========================
// Prepare / Prompts
// ==========================

func TestPrepare(t *testing.T) {
	r, _ := newTestRouter(t)

	completed := session(models.StepCompleted)
	completed.CartItems = []models.OrderLineItem{latte.LineItem(1)}
	s, reset := r.Prepare(completed, "hi")
	assert.True(t, reset)
	assert.Equal(t, models.StepAwaitingCategory, s.CurrentStep)
	assert.Equal(t, models.LanguageEnglish, s.Language)
	assert.Empty(t, s.CartItems)

	mid := session(models.StepAwaitingQuantity)
	s, reset = r.Prepare(mid, "hello")
	assert.True(t, reset)
	assert.Equal(t, models.StepAwaitingLanguage, s.CurrentStep)

	s, reset = r.Prepare(session(models.StepAwaitingConfirmation), "hello")
	assert.False(t, reset)
	assert.Equal(t, models.StepAwaitingConfirmation, s.CurrentStep)

	_, reset = r.Prepare(mid, "2 lattes")
	assert.False(t, reset)
}

func TestPrompt_ArabicDefault(t *testing.T) {
	r, _ := newTestRouter(t)
	s := session(models.StepAwaitingItem)
	s.Language = ""
	s.CategoryID = 1

	out := r.Prompt(s, testMenu)
	assert.Contains(t, out, "1. لاتيه")
	assert.Contains(t, out, "4,000 دينار")
}

func TestPrompt_LocationDependsOnService(t *testing.T) {
	r, _ := newTestRouter(t)
	s := session(models.StepAwaitingLocation)
	s.ServiceType = models.ServiceDelivery
	assert.Contains(t, r.Prompt(s, testMenu), "delivery address")
	s.ServiceType = models.ServiceDineIn
	assert.Contains(t, r.Prompt(s, testMenu), "(1-7)")
}

func TestClarifyAndExpiredNotice(t *testing.T) {
	r, _ := newTestRouter(t)
	out := r.Clarify(session(models.StepAwaitingQuantity), testMenu)
	assert.Contains(t, out, "didn't understand")

	lang := r.Clarify(models.NewSessionState("u1", epochTime), testMenu)
	assert.Contains(t, lang, "English")
	assert.NotContains(t, lang, "didn't understand")

	assert.Contains(t, r.ExpiredNotice(models.LanguageArabic, "x"), "انتهت جلستك")
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		amount int
		want   string
	}{
		{0, "0 IQD"},
		{750, "750 IQD"},
		{4000, "4,000 IQD"},
		{1234567, "1,234,567 IQD"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatPrice(models.LanguageEnglish, tt.amount))
	}
}

func TestSummary(t *testing.T) {
	s := session(models.StepAwaitingConfirmation)
	s.CartItems = []models.OrderLineItem{latte.LineItem(2), cake.LineItem(1)}
	s.ServiceType = models.ServiceDelivery
	s.Location = "Mansour"

	out := Summary(s)
	assert.Contains(t, out, "• Latte × 2 - 8,000 IQD")
	assert.Contains(t, out, "Service Type: Delivery")
	assert.Contains(t, out, "Location: Mansour")
	assert.Contains(t, out, "Total: 11,000 IQD")
}
