// Package interpreter calls the language model that proposes an intent for
// each turn. Its output is a candidate only; validation decides.
package interpreter

import (
	"fmt"
	"strings"

	"order-workers/internal/models"
	"order-workers/internal/ordering/numerals"
)

// Prompt is one model request.
type Prompt struct {
	System string
	User   string
}

// stepGuide tells the model what each step accepts.
var stepGuide = map[models.ConversationStep]string{
	models.StepAwaitingLanguage: `Accept a language choice. "1", "عربي", "مرحبا", "السلام عليكم" mean arabic; "2", "english", "hello", "hi" mean english.
Answer with action "language_selection" and data.language set to "arabic" or "english".`,
	models.StepAwaitingCategory: `Accept a category number or name from the category list.
Answer with action "category_selection" and data.category_id, or data.category_name when only a name was given.`,
	models.StepAwaitingItem: `Accept an item number from the current category list, or an item name from the menu.
Answer with action "item_selection" and data.item_id or data.item_name, plus data.quantity when the user also gave one.
When the message names several items, answer "multi_item_selection" with data.items, a list of {"item_name", "quantity"}.`,
	models.StepAwaitingQuantity: `Accept a quantity from 1 to 50, in any numeral system or as a number word ("خمسة", "five").
Answer with action "quantity_selection" and data.quantity as a number.`,
	models.StepAwaitingAdditional: `Ask whether the user wants more items. "1", "نعم", "اي", "yes", "more" mean yes; "2", "لا", "no", "done" mean no.
Answer with action "yes_no" and data.yes_no set to "yes" or "no".`,
	models.StepAwaitingService: `Accept the service type. "1", "في المقهى", "داخل", "dine" mean dine-in; "2", "توصيل", "delivery" mean delivery.
Numbers other than 1 or 2 are not a valid choice.
Answer with action "service_selection" and data.service_type set to "dine-in" or "delivery".`,
	models.StepAwaitingLocation: `For dine-in accept a table number; for delivery accept an address.
Answer with action "location_input" and data.table_number for a table or data.location for an address.`,
	models.StepAwaitingConfirmation: `Ask the user to confirm the order. "1", "نعم", "yes", "confirm" confirm; "2", "لا", "no", "cancel" cancel.
Answer with action "confirmation" and data.yes_no set to "yes" or "no".`,
}

const responseContract = `Respond with a single JSON object and nothing else:
{
  "understood_intent": "short description of what the user wants",
  "confidence": "high" | "medium" | "low",
  "action": "<action tag>",
  "extracted_data": { ... fields for the action, null when unknown ... }
}
On any step the user may ask to go back ("back_navigation"), for help ("help_request") or to see the menu ("show_menu"); those take empty extracted_data.
If the message fits none of the expected actions, answer "unknown".`

// BuildPrompt renders the request for one turn. historyTurns caps how much
// of the conversation is included.
func BuildPrompt(businessName string, step models.ConversationStep, text numerals.Text, tc models.TurnContext, historyTurns int) Prompt {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are the ordering assistant for %s, a cafe taking orders over chat in Arabic and English.\n", businessName)
	sys.WriteString("You only classify the customer's message; you never reply to the customer.\n\n")
	sys.WriteString(responseContract)

	var user strings.Builder
	writeMenu(&user, tc)
	writeOrder(&user, tc)
	writeHistory(&user, tc.History, historyTurns)

	user.WriteString("CURRENT STEP: ")
	user.WriteString(string(step))
	user.WriteString("\n")
	if g, ok := stepGuide[step]; ok {
		user.WriteString(g)
		user.WriteString("\n")
	}
	if tc.Language != "" {
		fmt.Fprintf(&user, "Language preference: %s\n", tc.Language)
	}
	fmt.Fprintf(&user, "\nCUSTOMER MESSAGE: %q\n", text.String())

	return Prompt{System: sys.String(), User: user.String()}
}

func writeMenu(b *strings.Builder, tc models.TurnContext) {
	if len(tc.Menu.Categories) == 0 {
		return
	}
	b.WriteString("MENU CATEGORIES:\n")
	for _, c := range tc.Menu.Categories {
		fmt.Fprintf(b, "%d. %s / %s\n", c.ID, c.NameAR, c.NameEN)
	}

	n := 0
	for _, it := range tc.Menu.Items {
		if !it.Available || (tc.CategoryID > 0 && it.CategoryID != tc.CategoryID) {
			continue
		}
		if n == 0 {
			if tc.CategoryID > 0 {
				b.WriteString("\nITEMS IN CURRENT CATEGORY:\n")
			} else {
				b.WriteString("\nITEMS:\n")
			}
		}
		n++
		fmt.Fprintf(b, "%d. %s / %s - %d IQD\n", n, it.NameAR, it.NameEN, it.Price)
	}
	b.WriteString("\n")
}

func writeOrder(b *strings.Builder, tc models.TurnContext) {
	if len(tc.CartItems) == 0 && tc.PendingItem == nil && tc.ServiceType == "" {
		return
	}
	b.WriteString("ORDER SO FAR:\n")
	for _, li := range tc.CartItems {
		fmt.Fprintf(b, "- %d x %s\n", li.Quantity, li.NameEN)
	}
	if tc.PendingItem != nil {
		fmt.Fprintf(b, "Waiting for a quantity of: %s\n", tc.PendingItem.NameEN)
	}
	if tc.ServiceType != "" {
		fmt.Fprintf(b, "Service: %s\n", tc.ServiceType)
	}
	b.WriteString("\n")
}

func writeHistory(b *strings.Builder, history []models.Turn, limit int) {
	if limit <= 0 || len(history) == 0 {
		return
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	b.WriteString("RECENT CONVERSATION:\n")
	for _, t := range history {
		fmt.Fprintf(b, "[%s] customer: %s\n", t.Step, t.User)
	}
	b.WriteString("\n")
}
