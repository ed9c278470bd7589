// Package router turns one resolved intent into the next session state and
// the reply text. It is the only place step transitions are defined.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"order-workers/internal/models"
	"order-workers/internal/ordering/lexicon"
)

// OrderPlacer persists a confirmed order and returns it with its id.
type OrderPlacer interface {
	Place(ctx context.Context, order models.Order) (models.Order, error)
}

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

type Config struct {
	BusinessName   string
	MaxTableNumber int
}

// Result of routing one turn.
type Result struct {
	State models.SessionState
	Reply string
	// Order is set when the turn placed an order.
	Order *models.Order
}

type Router struct {
	orders OrderPlacer
	config Config
	logger Logger
	now    func() time.Time
}

func New(orders OrderPlacer, config Config, log Logger) *Router {
	if config.MaxTableNumber <= 0 {
		config.MaxTableNumber = 7
	}
	if config.BusinessName == "" {
		config.BusinessName = "Hef Cafe"
	}
	return &Router{orders: orders, config: config, logger: log, now: time.Now}
}

// Prepare applies the resets that run before resolution: a completed order
// restarts at category selection keeping the language, and a short greeting
// in the middle of an order starts over.
func (r *Router) Prepare(s models.SessionState, text string) (models.SessionState, bool) {
	switch {
	case s.CurrentStep == models.StepCompleted:
		return s.Reset(r.now(), true), true
	case lexicon.IsShortGreeting(text) && greetingResets(s.CurrentStep):
		r.logger.Info("greeting restarts order", map[string]interface{}{
			"userId": s.UserID,
			"step":   string(s.CurrentStep),
		})
		return s.Reset(r.now(), false), true
	}
	return s, false
}

func greetingResets(step models.ConversationStep) bool {
	switch step {
	case models.StepAwaitingLanguage, models.StepAwaitingCategory, models.StepAwaitingConfirmation:
		return false
	}
	return true
}

// Route applies intent to s. s must be the claimed snapshot; it is not
// modified.
func (r *Router) Route(ctx context.Context, s models.SessionState, intent models.ResolvedIntent, menu models.MenuSnapshot) (Result, error) {
	next := s.Clone()
	lang := next.Language

	switch intent.Action {
	case models.ActionBackNavigation:
		return r.back(next, menu), nil
	case models.ActionHelpRequest:
		return Result{State: next, Reply: joinBlocks(msg(lang, txtHelp), r.Prompt(next, menu))}, nil
	case models.ActionShowMenu:
		return Result{State: next, Reply: r.Prompt(next, menu)}, nil
	}

	switch next.CurrentStep {
	case models.StepAwaitingLanguage:
		raw, _ := models.StringField(intent.Data, models.FieldLanguage)
		l := models.Language(raw)
		if !l.Valid() {
			return r.clarify(next, menu), nil
		}
		next.Language = l
		return r.advance(next, models.StepAwaitingCategory, menu), nil

	case models.StepAwaitingCategory:
		id, ok := models.IntField(intent.Data, models.FieldCategoryID)
		if !ok {
			return r.clarify(next, menu), nil
		}
		next.CategoryID = id
		next.PendingItem = nil
		return r.advance(next, models.StepAwaitingItem, menu), nil

	case models.StepAwaitingItem, models.StepAwaitingQuantity:
		return r.selectItems(next, intent, menu), nil

	case models.StepAwaitingAdditional:
		if answerOf(intent) == "yes" {
			return r.advance(next, models.StepAwaitingCategory, menu), nil
		}
		if len(next.CartItems) == 0 {
			res := r.advance(next, models.StepAwaitingCategory, menu)
			res.Reply = joinBlocks(msg(lang, txtEmptyCart), res.Reply)
			return res, nil
		}
		return r.advance(next, models.StepAwaitingService, menu), nil

	case models.StepAwaitingService:
		svc, ok := models.StringField(intent.Data, models.FieldServiceType)
		if !ok {
			return r.clarify(next, menu), nil
		}
		next.ServiceType = svc
		next.Location = ""
		return r.advance(next, models.StepAwaitingLocation, menu), nil

	case models.StepAwaitingLocation:
		loc, ok := models.StringField(intent.Data, models.FieldLocation)
		if !ok {
			return r.clarify(next, menu), nil
		}
		next.Location = loc
		return r.advance(next, models.StepAwaitingConfirmation, menu), nil

	case models.StepAwaitingConfirmation:
		switch answerOf(intent) {
		case "no":
			next = next.Reset(r.now(), true)
			return Result{State: next, Reply: joinBlocks(msg(lang, txtCancelled), r.Prompt(next, menu))}, nil
		case "yes":
			return r.place(ctx, next, menu)
		}
	}

	return r.clarify(next, menu), nil
}

// answerOf returns "yes", "no" or "" when the intent carries no answer.
func answerOf(intent models.ResolvedIntent) string {
	ans, _ := models.StringField(intent.Data, models.FieldYesNo)
	return ans
}

func (r *Router) advance(s models.SessionState, step models.ConversationStep, menu models.MenuSnapshot) Result {
	s.CurrentStep = step
	return Result{State: s, Reply: r.Prompt(s, menu)}
}

func (r *Router) selectItems(s models.SessionState, intent models.ResolvedIntent, menu models.MenuSnapshot) Result {
	lang := s.Language

	if intent.Action == models.ActionMultiItemSelection {
		lines := models.LineItemsField(intent.Data)
		s.CartItems = append(s.CartItems, lines...)
		s.PendingItem = nil
		blocks := make([]string, 0, len(lines)+2)
		for _, li := range lines {
			blocks = append(blocks, msg(lang, txtAdded, li.DisplayName(lang), li.Quantity))
		}
		added := strings.Join(blocks, "\n")
		if unmatched := models.UnmatchedField(intent.Data); len(unmatched) > 0 {
			added = joinBlocks(added, msg(lang, txtUnmatched, lineNames(lang, unmatched)))
		}
		s.CurrentStep = models.StepAwaitingAdditional
		return Result{State: s, Reply: joinBlocks(added, msg(lang, txtAskAdditional))}
	}

	if intent.Action == models.ActionQuantitySelection {
		q, _ := models.IntField(intent.Data, models.FieldQuantity)
		if s.PendingItem == nil {
			return r.advance(s, models.StepAwaitingItem, menu)
		}
		return r.addLine(s, *s.PendingItem, q)
	}

	item, ok := models.MenuItemField(intent.Data)
	if !ok {
		return r.clarify(s, menu)
	}
	if q, ok := models.IntField(intent.Data, models.FieldQuantity); ok {
		return r.addLine(s, item.LineItem(0), q)
	}
	pending := item.LineItem(0)
	s.PendingItem = &pending
	s.CurrentStep = models.StepAwaitingQuantity
	return Result{State: s, Reply: r.Prompt(s, menu)}
}

func (r *Router) addLine(s models.SessionState, line models.OrderLineItem, quantity int) Result {
	line.Quantity = quantity
	s.CartItems = append(s.CartItems, line)
	s.PendingItem = nil
	s.CurrentStep = models.StepAwaitingAdditional
	lang := s.Language
	return Result{
		State: s,
		Reply: joinBlocks(msg(lang, txtAdded, line.DisplayName(lang), quantity), msg(lang, txtAskAdditional)),
	}
}

var previousStep = map[models.ConversationStep]models.ConversationStep{
	models.StepAwaitingCategory:     models.StepAwaitingLanguage,
	models.StepAwaitingItem:         models.StepAwaitingCategory,
	models.StepAwaitingQuantity:     models.StepAwaitingItem,
	models.StepAwaitingAdditional:   models.StepAwaitingCategory,
	models.StepAwaitingService:      models.StepAwaitingAdditional,
	models.StepAwaitingLocation:     models.StepAwaitingService,
	models.StepAwaitingConfirmation: models.StepAwaitingLocation,
}

func (r *Router) back(s models.SessionState, menu models.MenuSnapshot) Result {
	prev, ok := previousStep[s.CurrentStep]
	if !ok {
		return Result{State: s, Reply: r.Prompt(s, menu)}
	}
	if s.CurrentStep == models.StepAwaitingQuantity {
		s.PendingItem = nil
	}
	r.logger.Debug("back navigation", map[string]interface{}{
		"userId": s.UserID,
		"from":   string(s.CurrentStep),
		"to":     string(prev),
	})
	return r.advance(s, prev, menu)
}

func (r *Router) place(ctx context.Context, s models.SessionState, menu models.MenuSnapshot) (Result, error) {
	lang := s.Language
	if len(s.CartItems) == 0 {
		s = s.Reset(r.now(), true)
		return Result{State: s, Reply: joinBlocks(msg(lang, txtEmptyCart), r.Prompt(s, menu))}, nil
	}

	order, err := r.orders.Place(ctx, models.OrderFromSession(s, r.now()))
	if err != nil {
		return Result{}, err
	}

	s.CurrentStep = models.StepCompleted
	r.logger.Info("order placed", map[string]interface{}{
		"userId":  s.UserID,
		"orderId": order.ID,
		"total":   order.Total,
		"items":   len(order.Items),
	})
	return Result{
		State: s,
		Reply: msg(lang, txtConfirmed, order.ID, formatPrice(lang, order.Total), r.config.BusinessName),
		Order: &order,
	}, nil
}

func (r *Router) clarify(s models.SessionState, menu models.MenuSnapshot) Result {
	return Result{State: s, Reply: r.Clarify(s, menu)}
}

// Clarify is the reply for a turn that produced no valid intent. The state
// does not change.
func (r *Router) Clarify(s models.SessionState, menu models.MenuSnapshot) string {
	if s.CurrentStep == models.StepAwaitingLanguage {
		return r.Prompt(s, menu)
	}
	return joinBlocks(msg(s.Language, txtClarify), r.Prompt(s, menu))
}

// ExpiredNotice prefixes reply with the session expiry notice.
func (r *Router) ExpiredNotice(lang models.Language, reply string) string {
	return joinBlocks(msg(lang, txtExpired), reply)
}

// Busy is sent when another message of the same user is still in flight.
func (r *Router) Busy(lang models.Language) string {
	return msg(lang, txtBusy)
}

// SlowDown is sent when the user exceeded the message rate.
func (r *Router) SlowDown(lang models.Language) string {
	return msg(lang, txtSlowDown)
}

// Prompt renders what the current step asks for.
func (r *Router) Prompt(s models.SessionState, menu models.MenuSnapshot) string {
	lang := s.Language
	switch s.CurrentStep {
	case models.StepAwaitingLanguage:
		return joinBlocks(
			msg(models.LanguageArabic, txtWelcome, r.config.BusinessName)+"\n"+msg(models.LanguageEnglish, txtWelcome, r.config.BusinessName),
			msg(lang, txtChooseLanguage),
		)
	case models.StepAwaitingCategory:
		return categoriesPrompt(lang, menu)
	case models.StepAwaitingItem:
		return itemsPrompt(lang, menu, s.CategoryID)
	case models.StepAwaitingQuantity:
		name := ""
		if s.PendingItem != nil {
			name = s.PendingItem.DisplayName(lang)
		}
		return msg(lang, txtAskQuantity, name, models.MaxQuantity)
	case models.StepAwaitingAdditional:
		return msg(lang, txtAskAdditional)
	case models.StepAwaitingService:
		return msg(lang, txtAskService)
	case models.StepAwaitingLocation:
		if s.ServiceType == models.ServiceDineIn {
			return msg(lang, txtAskTable, r.config.MaxTableNumber)
		}
		return msg(lang, txtAskAddress)
	case models.StepAwaitingConfirmation:
		return joinBlocks(Summary(s), msg(lang, txtAskConfirm))
	}
	return msg(lang, txtHelp)
}

func categoriesPrompt(lang models.Language, menu models.MenuSnapshot) string {
	if len(menu.Categories) == 0 {
		return msg(lang, txtNoCategories)
	}
	var b strings.Builder
	b.WriteString(msg(lang, txtCategoriesHeader))
	b.WriteString("\n")
	for _, c := range menu.Categories {
		fmt.Fprintf(&b, "\n%d. %s", c.ID, c.Name(lang))
	}
	return joinBlocks(b.String(), msg(lang, txtCategoriesFooter))
}

// itemsPrompt numbers available items in listing order; the validator
// resolves item numbers against the same order.
func itemsPrompt(lang models.Language, menu models.MenuSnapshot, categoryID int) string {
	var b strings.Builder
	title := ""
	for _, c := range menu.Categories {
		if c.ID == categoryID {
			title = c.Name(lang)
		}
	}
	if title != "" {
		b.WriteString(title + ":\n")
	}
	n := 0
	for _, it := range menu.Items {
		if !it.Available || (categoryID != 0 && it.CategoryID != categoryID) {
			continue
		}
		n++
		fmt.Fprintf(&b, "\n%d. %s\n%s", n, it.Name(lang), msg(lang, txtPriceLine, formatPrice(lang, it.Price)))
	}
	if n == 0 {
		return msg(lang, txtNoItems)
	}
	return joinBlocks(b.String(), msg(lang, txtItemsFooter))
}

// Summary renders the cart, service and total.
func Summary(s models.SessionState) string {
	lang := s.Language
	var b strings.Builder
	b.WriteString(msg(lang, txtSummaryHeader))
	b.WriteString("\n")
	for _, li := range s.CartItems {
		fmt.Fprintf(&b, "\n• %s × %d - %s", li.DisplayName(lang), li.Quantity, formatPrice(lang, li.Subtotal()))
	}
	details := make([]string, 0, 2)
	if s.ServiceType != "" {
		details = append(details, msg(lang, txtServiceLine, serviceName(lang, s.ServiceType)))
	}
	if s.Location != "" {
		details = append(details, msg(lang, txtLocationLine, s.Location))
	}
	return joinBlocks(b.String(), strings.Join(details, "\n"), msg(lang, txtTotalLine, formatPrice(lang, s.CartTotal())))
}
