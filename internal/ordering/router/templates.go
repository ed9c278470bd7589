package router

import (
	"fmt"
	"strconv"
	"strings"

	"order-workers/internal/models"
)

type textKey int

const (
	txtWelcome textKey = iota
	txtChooseLanguage
	txtCategoriesHeader
	txtCategoriesFooter
	txtNoCategories
	txtItemsFooter
	txtNoItems
	txtPriceLine
	txtAskQuantity
	txtAdded
	txtAskAdditional
	txtAskService
	txtAskTable
	txtAskAddress
	txtSummaryHeader
	txtServiceLine
	txtLocationLine
	txtTotalLine
	txtAskConfirm
	txtConfirmed
	txtCancelled
	txtUnmatched
	txtClarify
	txtExpired
	txtEmptyCart
	txtHelp
	txtCurrency
	txtDineIn
	txtDelivery
	txtBusy
	txtSlowDown
)

var texts = map[models.Language]map[textKey]string{
	models.LanguageArabic: {
		txtWelcome:          "مرحباً بك في %s!",
		txtChooseLanguage:   "الرجاء اختيار اللغة:\n1. العربية\n2. English",
		txtCategoriesHeader: "القائمة الرئيسية:",
		txtCategoriesFooter: "الرجاء اختيار الفئة المطلوبة بالرد بالرقم",
		txtNoCategories:     "لا توجد فئات متاحة حالياً",
		txtItemsFooter:      "الرجاء اختيار المنتج المطلوب بالرقم أو بالاسم",
		txtNoItems:          "لا توجد عناصر متاحة في هذه الفئة",
		txtPriceLine:        "   السعر: %s",
		txtAskQuantity:      "كم العدد المطلوب من %s؟ (1-%d)",
		txtAdded:            "تم إضافة %s × %d إلى طلبك",
		txtAskAdditional:    "هل تريد إضافة المزيد من الأصناف؟\n1. نعم\n2. لا",
		txtAskService:       "هل تريد طلبك للتناول في المقهى أم للتوصيل؟\n1. تناول في المقهى\n2. توصيل",
		txtAskTable:         "الرجاء تحديد رقم الطاولة (1-%d):",
		txtAskAddress:       "الرجاء إرسال عنوان التوصيل:",
		txtSummaryHeader:    "ملخص طلبك:",
		txtServiceLine:      "نوع الخدمة: %s",
		txtLocationLine:     "المكان: %s",
		txtTotalLine:        "المجموع الكلي: %s",
		txtAskConfirm:       "هل تريد تأكيد هذا الطلب؟\n1. نعم\n2. لا",
		txtConfirmed:        "🎉 تم تأكيد طلبك بنجاح!\n\nرقم الطلب: %s\nالمبلغ الإجمالي: %s\n\nسنقوم بإشعارك عندما يصبح طلبك جاهزاً\nشكراً لك لاختيار %s! ☕",
		txtCancelled:        "تم إلغاء الطلب.",
		txtUnmatched:        "لم نجد في القائمة: %s",
		txtClarify:          "عذراً، لم أفهم رسالتك.",
		txtExpired:          "انتهت جلستك السابقة بسبب عدم النشاط، لنبدأ من جديد.",
		txtEmptyCart:        "طلبك فارغ حالياً.",
		txtHelp:             "يمكنك الرد برقم الخيار أو كتابة ما تريد. اكتب \"رجوع\" للعودة للخطوة السابقة أو \"منيو\" لعرض الخيارات.",
		txtCurrency:         "دينار",
		txtDineIn:           "تناول في المقهى",
		txtDelivery:         "توصيل",
		txtBusy:             "لحظة من فضلك، ما زلنا نعالج رسالتك السابقة.",
		txtSlowDown:         "تم إرسال رسائل كثيرة، الرجاء الانتظار قليلاً ثم المحاولة مرة أخرى.",
	},
	models.LanguageEnglish: {
		txtWelcome:          "Welcome to %s!",
		txtChooseLanguage:   "Please select language:\n1. العربية\n2. English",
		txtCategoriesHeader: "Main Menu:",
		txtCategoriesFooter: "Please select the required category by replying with the number",
		txtNoCategories:     "No categories are available right now",
		txtItemsFooter:      "Please select the required item by number or name",
		txtNoItems:          "No items are available in this category",
		txtPriceLine:        "   Price: %s",
		txtAskQuantity:      "How many %s would you like? (1-%d)",
		txtAdded:            "Added %s × %d to your order",
		txtAskAdditional:    "Would you like to add more items?\n1. Yes\n2. No",
		txtAskService:       "Do you want your order for dine-in or delivery?\n1. Dine-in\n2. Delivery",
		txtAskTable:         "Please specify table number (1-%d):",
		txtAskAddress:       "Please send your delivery address:",
		txtSummaryHeader:    "Your Order Summary:",
		txtServiceLine:      "Service Type: %s",
		txtLocationLine:     "Location: %s",
		txtTotalLine:        "Total: %s",
		txtAskConfirm:       "Do you want to confirm this order?\n1. Yes\n2. No",
		txtConfirmed:        "🎉 Your order has been confirmed successfully!\n\nOrder ID: %s\nTotal Amount: %s\n\nWe'll notify you when your order is ready\nThank you for choosing %s!",
		txtCancelled:        "Your order has been cancelled.",
		txtUnmatched:        "Not found on the menu: %s",
		txtClarify:          "Sorry, I didn't understand that.",
		txtExpired:          "Your previous session expired due to inactivity, let's start again.",
		txtEmptyCart:        "Your order is empty.",
		txtHelp:             "Reply with the option number or type what you want. Send \"back\" for the previous step or \"menu\" to list the options.",
		txtCurrency:         "IQD",
		txtDineIn:           "Dine-in",
		txtDelivery:         "Delivery",
		txtBusy:             "One moment please, we are still handling your previous message.",
		txtSlowDown:         "Too many messages, please wait a moment and try again.",
	},
}

func langOf(l models.Language) models.Language {
	if l == models.LanguageEnglish {
		return l
	}
	return models.LanguageArabic
}

func msg(lang models.Language, key textKey, args ...interface{}) string {
	s := texts[langOf(lang)][key]
	if len(args) == 0 {
		return s
	}
	return fmt.Sprintf(s, args...)
}

// formatPrice renders 4250 as "4,250 IQD".
func formatPrice(lang models.Language, amount int) string {
	digits := strconv.Itoa(amount)
	if amount < 0 {
		digits = digits[1:]
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	sign := ""
	if amount < 0 {
		sign = "-"
	}
	return sign + b.String() + " " + msg(lang, txtCurrency)
}

func serviceName(lang models.Language, service string) string {
	switch service {
	case models.ServiceDineIn:
		return msg(lang, txtDineIn)
	case models.ServiceDelivery:
		return msg(lang, txtDelivery)
	}
	return service
}

func joinBlocks(blocks ...string) string {
	out := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if strings.TrimSpace(b) != "" {
			out = append(out, b)
		}
	}
	return strings.Join(out, "\n\n")
}

func lineNames(lang models.Language, lines []models.OrderLineItem) string {
	names := make([]string, 0, len(lines))
	for _, li := range lines {
		names = append(names, li.DisplayName(lang))
	}
	if langOf(lang) == models.LanguageEnglish {
		return strings.Join(names, ", ")
	}
	return strings.Join(names, "، ")
}
