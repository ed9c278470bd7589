package lexicon

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"order-workers/internal/models"
)

var quantityWords = func() map[string]int {
	raw := map[string]int{
		"واحد": 1, "واحده": 1, "واحدة": 1, "one": 1, "a": 1, "an": 1, "single": 1,
		"اثنين": 2, "اثنان": 2, "اثنتين": 2, "ثنين": 2, "two": 2, "couple": 2,
		"كوبين": 2, "قطعتين": 2, "صحنين": 2,
		"ثلاثه": 3, "ثلاث": 3, "ثلاثة": 3, "three": 3,
		"اربعه": 4, "اربع": 4, "أربعة": 4, "أربع": 4, "اربعة": 4, "four": 4,
		"خمسه": 5, "خمس": 5, "خمسة": 5, "five": 5,
		"سته": 6, "ست": 6, "ستة": 6, "six": 6,
		"سبعه": 7, "سبع": 7, "سبعة": 7, "seven": 7,
		"ثمانيه": 8, "ثماني": 8, "ثمانية": 8, "eight": 8,
		"تسعه": 9, "تسع": 9, "تسعة": 9, "nine": 9,
		"عشره": 10, "عشر": 10, "عشرة": 10, "ten": 10,
	}
	m := make(map[string]int, len(raw))
	for k, v := range raw {
		m[Fold(k)] = v
	}
	return m
}()

// QuantityWord maps a folded token ("ثلاثة", "two", "4", "2x") to an integer.
func QuantityWord(tok string) (int, bool) {
	tok = Fold(tok)
	if n, ok := quantityWords[tok]; ok {
		return n, true
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(tok, "x"), "x")
	if digits == "" {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

var conjunctions = foldSet("و", "and", "مع", "with", "كمان", "also", "plus", "وكمان", "بالاضافه")

// IsConjunction reports whether a folded token joins two requests.
func IsConjunction(tok string) bool {
	_, ok := conjunctions[tok]
	return ok
}

// SplitWawPrefix detects the Arabic conjunction attached to a word
// ("وواحد" -> "واحد"). The remainder must be a quantity or a known word so
// that ordinary words beginning with waw stay intact.
func SplitWawPrefix(tok string, known func(string) bool) (string, bool) {
	if !strings.HasPrefix(tok, "و") {
		return "", false
	}
	rest := strings.TrimPrefix(tok, "و")
	if utf8.RuneCountInString(rest) < 2 {
		return "", false
	}
	if _, ok := QuantityWord(rest); ok {
		return rest, true
	}
	if known != nil && known(rest) {
		return rest, true
	}
	return "", false
}

var fillers = foldSet(
	"اريد", "أريد", "بدي", "ابي", "ابغى", "أبغى", "عطني", "اعطني", "جيبلي", "ممكن", "لو", "سمحت",
	"من", "فضلك", "رجاء", "كوب", "اكواب", "أكواب", "قطعه", "حبه", "طلب", "لي", "الي",
	"i", "want", "would", "like", "need", "give", "me", "can", "could", "get", "have", "please",
	"the", "some", "of", "cup", "cups", "piece", "pieces", "order", "to", "id", "i'd",
)

// IsFiller reports whether a folded token carries no item information.
func IsFiller(tok string) bool {
	_, ok := fillers[tok]
	return ok
}

// ==========================
// Yes / No
// ==========================

var (
	noWords  = foldSet("لا", "لأ", "كلا", "مش", "مو", "لاء", "no", "nope", "nah", "cancel", "stop", "الغاء", "الغي")
	yesWords = foldSet("نعم", "ايوه", "ايوا", "اي", "اه", "صح", "تمام", "اكيد", "اوكي", "موافق", "yes", "yeah", "yep", "yup", "sure", "ok", "okay", "confirm", "y")

	exactYes = foldSet("نعم", "اي", "yes", "1")
	exactNo  = foldSet("لا", "لأ", "no", "2")
)

// ExactYesNo matches a message that is only an unambiguous yes or no token.
func ExactYesNo(text string) (string, bool) {
	f := strings.Trim(Fold(text), ".!?؟، ")
	if _, ok := exactNo[f]; ok {
		return "no", true
	}
	if _, ok := exactYes[f]; ok {
		return "yes", true
	}
	return "", false
}

// YesNo scans for yes/no keywords; "no" wins when both appear. A bare 1 or 2
// counts as yes or no.
func YesNo(text string) (string, bool) {
	if ans, ok := ExactYesNo(text); ok {
		return ans, true
	}
	tokens := Tokens(text)
	if anyToken(tokens, noWords) {
		return "no", true
	}
	if anyToken(tokens, yesWords) {
		return "yes", true
	}
	return "", false
}

// ==========================
// Language
// ==========================

var (
	arabicIndicators  = foldSet("عربي", "العربيه", "العربية", "مرحبا", "اهلا", "أهلا", "اريد", "بدي", "السلام")
	englishIndicators = foldSet("english", "انجليزي", "انكليزي", "hello", "hi", "hey", "want", "need")
)

// LanguageIndicator picks a language from explicit choices ("1", "2"),
// indicator words, and finally the script of the message.
func LanguageIndicator(text string) (models.Language, bool) {
	f := strings.TrimSpace(Fold(text))
	switch f {
	case "1":
		return models.LanguageArabic, true
	case "2":
		return models.LanguageEnglish, true
	}
	tokens := Tokens(text)
	if anyToken(tokens, englishIndicators) {
		return models.LanguageEnglish, true
	}
	if anyToken(tokens, arabicIndicators) {
		return models.LanguageArabic, true
	}
	return "", false
}

// ScriptLanguage guesses the language from the letters used.
func ScriptLanguage(text string) (models.Language, bool) {
	arabic, latin := 0, 0
	for _, r := range text {
		switch {
		case r >= 0x0600 && r <= 0x06FF:
			arabic++
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin++
		}
	}
	switch {
	case arabic > latin:
		return models.LanguageArabic, true
	case latin > arabic:
		return models.LanguageEnglish, true
	default:
		return "", false
	}
}

// ==========================
// Service type
// ==========================

var (
	dineInWords   = foldSet("صاله", "صالة", "داخل", "المحل", "محل", "هنا", "طاوله", "طاولة", "جلوس", "dine", "dinein", "inside", "here", "table", "restaurant")
	deliveryWords = foldSet("توصيل", "دليفري", "دلفري", "البيت", "بيت", "المنزل", "delivery", "deliver", "home", "takeaway", "address")
)

// ServiceKeyword matches dine-in or delivery wording, or a bare 1 / 2.
func ServiceKeyword(text string) (string, bool) {
	switch strings.TrimSpace(Fold(text)) {
	case "1":
		return models.ServiceDineIn, true
	case "2":
		return models.ServiceDelivery, true
	}
	tokens := Tokens(text)
	if anyToken(tokens, deliveryWords) {
		return models.ServiceDelivery, true
	}
	if anyToken(tokens, dineInWords) {
		return models.ServiceDineIn, true
	}
	return "", false
}

// NormalizeService maps interpreter spellings onto the two service types.
func NormalizeService(s string) (string, bool) {
	switch strings.ReplaceAll(Fold(s), " ", "") {
	case "dine-in", "dinein", "dine_in", "dine", "صاله", "داخل":
		return models.ServiceDineIn, true
	case "delivery", "توصيل":
		return models.ServiceDelivery, true
	}
	return "", false
}

// ==========================
// Greetings and universal commands
// ==========================

var (
	greetings       = foldSet("مرحبا", "السلام عليكم", "السلام", "اهلا", "أهلا", "هلا", "hello", "hi", "hey", "start", "restart")
	backWords       = foldSet("رجوع", "ارجع", "الخلف", "السابق", "back", "previous", "undo")
	helpWords       = foldSet("مساعده", "مساعدة", "ساعدني", "help", "?", "؟")
	menuWords       = foldSet("منيو", "المنيو", "قائمه", "القائمه", "menu")
	maxGreetingRune = 15
)

// IsShortGreeting is a message of at most 15 runes with no digits that
// contains a greeting.
func IsShortGreeting(text string) bool {
	f := Fold(text)
	if utf8.RuneCountInString(f) > maxGreetingRune {
		return false
	}
	for _, r := range f {
		if r >= '0' && r <= '9' {
			return false
		}
	}
	return anyToken(Tokens(text), greetings) || containsPhrase(f, greetings)
}

// Universal matches commands accepted at every step after language selection.
func Universal(text string) (models.ActionKind, bool) {
	tokens := Tokens(text)
	if len(tokens) == 0 || len(tokens) > 3 {
		return "", false
	}
	switch {
	case anyToken(tokens, backWords):
		return models.ActionBackNavigation, true
	case anyToken(tokens, menuWords):
		return models.ActionShowMenu, true
	case anyToken(tokens, helpWords):
		return models.ActionHelpRequest, true
	}
	return "", false
}
