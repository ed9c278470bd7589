package interpreter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"order-workers/internal/common/config"
	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/logger"
	"order-workers/internal/models"
	"order-workers/internal/ordering/numerals"
)

var testMenu = models.MenuSnapshot{
	Categories: []models.Category{
		{ID: 1, NameAR: "مشروبات باردة", NameEN: "Cold Drinks"},
		{ID: 2, NameAR: "مشروبات حارة", NameEN: "Hot Drinks"},
	},
	Items: []models.MenuItem{
		{ID: 11, CategoryID: 1, NameAR: "موهيتو", NameEN: "Mojito", Price: 5000, Available: true},
		{ID: 12, CategoryID: 1, NameAR: "ايس كوفي", NameEN: "Iced Coffee", Price: 4000, Available: false},
		{ID: 21, CategoryID: 2, NameAR: "لاتيه", NameEN: "Latte", Price: 4000, Available: true},
	},
}

func turnContext() models.TurnContext {
	return models.TurnContext{
		UserID:     "u1",
		Step:       models.StepAwaitingItem,
		Language:   models.LanguageEnglish,
		CategoryID: 1,
		Menu:       testMenu,
		CartItems:  []models.OrderLineItem{{ItemID: 21, NameEN: "Latte", Quantity: 2, UnitPrice: 4000}},
		History: []models.Turn{
			{Step: models.StepAwaitingLanguage, User: "hello"},
			{Step: models.StepAwaitingCategory, User: "1"},
		},
	}
}

// ==========================
// Prompt
// ==========================

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("Hef Cafe", models.StepAwaitingItem, numerals.Normalize("واحد موهيتو"), turnContext(), 1)

	assert.Contains(t, p.System, "Hef Cafe")
	assert.Contains(t, p.System, `"extracted_data"`)

	assert.Contains(t, p.User, "1. مشروبات باردة / Cold Drinks")
	assert.Contains(t, p.User, "ITEMS IN CURRENT CATEGORY")
	assert.Contains(t, p.User, "1. موهيتو / Mojito - 5000 IQD")
	assert.NotContains(t, p.User, "Iced Coffee", "unavailable items are hidden")
	assert.NotContains(t, p.User, "Latte / ", "other categories are hidden")
	assert.Contains(t, p.User, "- 2 x Latte")
	assert.Contains(t, p.User, "CURRENT STEP: awaiting_item")
	assert.Contains(t, p.User, "multi_item_selection")
	assert.Contains(t, p.User, "CUSTOMER MESSAGE:")

	assert.Contains(t, p.User, "[awaiting_category] customer: 1")
	assert.NotContains(t, p.User, "customer: hello", "history is capped")
}

// ==========================
// Response parsing
// ==========================

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantAction models.ActionKind
		wantData   map[string]interface{}
		wantConf   models.Confidence
	}{
		{
			name:       "clean",
			raw:        `{"understood_intent":"two mojitos","confidence":"high","action":"item_selection","extracted_data":{"item_name":"Mojito","quantity":2,"location":null}}`,
			wantAction: models.ActionItemSelection,
			wantData:   map[string]interface{}{"item_name": "Mojito", "quantity": 2},
			wantConf:   models.ConfidenceHigh,
		},
		{
			name:       "markdown fence",
			raw:        "```json\n{\"confidence\":\"medium\",\"action\":\"yes_no\",\"extracted_data\":{\"yes_no\":\"yes\"}}\n```",
			wantAction: models.ActionYesNo,
			wantData:   map[string]interface{}{"yes_no": "yes"},
			wantConf:   models.ConfidenceMedium,
		},
		{
			name:       "prefix and prose",
			raw:        `RESPONSE: Sure! {"action":"quantity_selection","extracted_data":{"quantity":"3"}} hope that helps`,
			wantAction: models.ActionQuantitySelection,
			wantData:   map[string]interface{}{"quantity": "3"},
			wantConf:   models.ConfidenceLow,
		},
		{
			name:       "trailing comma and unquoted key",
			raw:        `{action: "service_selection", "extracted_data": {"service_type": "delivery",},}`,
			wantAction: models.ActionServiceSelection,
			wantData:   map[string]interface{}{"service_type": "delivery"},
			wantConf:   models.ConfidenceLow,
		},
		{
			name:       "unclosed braces",
			raw:        `{"action":"language_selection","extracted_data":{"language":"arabic"`,
			wantAction: models.ActionLanguageSelection,
			wantData:   map[string]interface{}{"language": "arabic"},
			wantConf:   models.ConfidenceLow,
		},
		{
			name:       "action nested in data",
			raw:        `{"extracted_data":{"action":"confirmation","confidence":"high","yes_no":"no"}}`,
			wantAction: models.ActionConfirmation,
			wantData:   map[string]interface{}{"yes_no": "no"},
			wantConf:   models.ConfidenceHigh,
		},
		{
			name:       "alias and suggested category",
			raw:        `{"action":"category","extracted_data":{"suggested_main_category":2,"category_id":"null"}}`,
			wantAction: models.ActionCategorySelection,
			wantData:   map[string]interface{}{"category_id": 2},
			wantConf:   models.ConfidenceLow,
		},
		{
			name:       "unknown tag carried through",
			raw:        `{"action":"intelligent_suggestion","extracted_data":null}`,
			wantAction: models.ActionKind("intelligent_suggestion"),
			wantData:   map[string]interface{}{},
			wantConf:   models.ConfidenceLow,
		},
		{
			name:       "multi item",
			raw:        `{"action":"multi_item_selection","extracted_data":{"items":[{"item_name":"Mojito","quantity":1},{"item_name":"Latte","quantity":null}]}}`,
			wantAction: models.ActionMultiItemSelection,
			wantData: map[string]interface{}{"items": []interface{}{
				map[string]interface{}{"item_name": "Mojito", "quantity": 1},
				map[string]interface{}{"item_name": "Latte"},
			}},
			wantConf: models.ConfidenceLow,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, models.SourceAI, got.Source)
			assert.Equal(t, tt.wantAction, got.Action)
			assert.Equal(t, tt.wantData, got.Data)
			assert.Equal(t, tt.wantConf, got.Confidence)
		})
	}
}

func TestParseResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", "   "},
		{"prose only", "I think the user wants coffee"},
		{"missing action", `{"confidence":"high","extracted_data":{}}`},
		{"wrong action type", `{"action":7,"extracted_data":{}}`},
		{"data not an object", `{"action":"yes_no","extracted_data":"yes"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse(tt.raw)
			require.Error(t, err)
			assert.Equal(t, apperrors.ErrCodeAIMalformedResponse, apperrors.CodeOf(err))
		})
	}
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"a": 1,}`, `{"a": 1}`},
		{`{"a": , "b": 2}`, `{"a": null, "b": 2}`},
		{`{"a": {"x": 1} "b": 2}`, `{"a": {"x": 1}, "b": 2}`},
		{`{a: 1}`, `{"a": 1}`},
		{`{"a": [1, 2`, `{"a": [1, 2]}`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := RepairJSON(tt.in)
			assert.Equal(t, tt.want, got)
			var v interface{}
			assert.NoError(t, json.Unmarshal([]byte(got), &v))
		})
	}
}

// ==========================
// HTTP interpreter
// ==========================

func newHTTP(t *testing.T, url string, retries int) *HTTPInterpreter {
	return NewHTTP(Config{BaseURL: url, APIKey: "secret", Timeout: 2 * time.Second, MaxRetries: retries}, logger.NewTestLogger(t))
}

func TestHTTPInterpreter_Success(t *testing.T) {
	var got gatewayRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, parseIntentPath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, `{"confidence":"high","action":"quantity_selection","extracted_data":{"quantity":3}}`)
	}))
	defer server.Close()

	intent, err := newHTTP(t, server.URL, 0).Interpret(context.Background(), models.StepAwaitingQuantity, numerals.Normalize("٣"), turnContext())
	require.NoError(t, err)
	assert.Equal(t, models.ActionQuantitySelection, intent.Action)
	assert.Equal(t, 3, intent.Data[models.FieldQuantity])

	assert.Equal(t, "3", got.Query)
	assert.Equal(t, "awaiting_quantity", got.Context["step"])
	assert.Contains(t, got.Context["prompt"], "CURRENT STEP: awaiting_quantity")
}

func TestHTTPInterpreter_TextEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"text": `{"action":"yes_no","extracted_data":{"yes_no":"no"}}`})
	}))
	defer server.Close()

	intent, err := newHTTP(t, server.URL, 0).Interpret(context.Background(), models.StepAwaitingAdditional, "no", turnContext())
	require.NoError(t, err)
	assert.Equal(t, "no", intent.Data[models.FieldYesNo])
}

func TestHTTPInterpreter_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		io.WriteString(w, `{"action":"yes_no","extracted_data":{"yes_no":"yes"}}`)
	}))
	defer server.Close()

	intent, err := newHTTP(t, server.URL, 2).Interpret(context.Background(), models.StepAwaitingAdditional, "yes", turnContext())
	require.NoError(t, err)
	assert.Equal(t, models.ActionYesNo, intent.Action)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestHTTPInterpreter_ErrorCodes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retries   int
		wantCode  apperrors.ErrorCode
		wantCalls int32
	}{
		{"quota", http.StatusTooManyRequests, 1, apperrors.ErrCodeAIQuotaExceeded, 2},
		{"server error", http.StatusInternalServerError, 1, apperrors.ErrCodeAIUnavailable, 2},
		{"client error is not retried", http.StatusBadRequest, 3, apperrors.ErrCodeAIUnavailable, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				io.WriteString(w, "nope")
			}))
			defer server.Close()

			_, err := newHTTP(t, server.URL, tt.retries).Interpret(context.Background(), models.StepAwaitingItem, "latte", turnContext())
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
			assert.Equal(t, tt.wantCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestHTTPInterpreter_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newHTTP(t, server.URL, 2).Interpret(ctx, models.StepAwaitingItem, "latte", turnContext())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeAITimeout, apperrors.CodeOf(err))
}

func TestHTTPInterpreter_Malformed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "the customer wants a latte")
	}))
	defer server.Close()

	_, err := newHTTP(t, server.URL, 0).Interpret(context.Background(), models.StepAwaitingItem, "latte", turnContext())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeAIMalformedResponse, apperrors.CodeOf(err))
}

// ==========================
// Gemini interpreter
// ==========================

func geminiServer(t *testing.T, status int, body string) (*httptest.Server, *atomic.Value) {
	var lastPath atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastPath.Store(r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)
	return server, &lastPath
}

func TestGeminiInterpreter_Success(t *testing.T) {
	candidate, _ := json.Marshal(`{"confidence":"high","action":"item_selection","extracted_data":{"item_name":"Mojito"}}`)
	server, lastPath := geminiServer(t, http.StatusOK,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":`+string(candidate)+`}]}}]}`)

	g, err := NewGemini(context.Background(), Config{APIKey: "k", Model: "gemini-2.0-flash", BaseURL: server.URL}, logger.NewTestLogger(t))
	require.NoError(t, err)

	intent, err := g.Interpret(context.Background(), models.StepAwaitingItem, "mojito", turnContext())
	require.NoError(t, err)
	assert.Equal(t, models.ActionItemSelection, intent.Action)
	assert.Equal(t, "Mojito", intent.Data[models.FieldItemName])
	assert.True(t, strings.HasSuffix(lastPath.Load().(string), "models/gemini-2.0-flash:generateContent"))
}

func TestGeminiInterpreter_Quota(t *testing.T) {
	server, _ := geminiServer(t, http.StatusTooManyRequests,
		`{"error":{"code":429,"message":"Quota exceeded","status":"RESOURCE_EXHAUSTED"}}`)

	g, err := NewGemini(context.Background(), Config{APIKey: "k", BaseURL: server.URL}, logger.NewTestLogger(t))
	require.NoError(t, err)

	_, err = g.Interpret(context.Background(), models.StepAwaitingItem, "mojito", turnContext())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeAIQuotaExceeded, apperrors.CodeOf(err))
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), Config{}, logger.NewTestLogger(t))
	assert.Error(t, err)
}

// ==========================
// Factory
// ==========================

func TestNew(t *testing.T) {
	log := logger.NewTestLogger(t)

	c, err := New(context.Background(), config.GenAIConfig{Provider: config.ProviderNone}, "Hef Cafe", log)
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = New(context.Background(), config.GenAIConfig{Provider: config.ProviderHTTP, BaseURL: "http://genai:8080", Timeout: 500}, "Hef Cafe", log)
	require.NoError(t, err)
	h, ok := c.(*HTTPInterpreter)
	require.True(t, ok)
	assert.Equal(t, 500*time.Millisecond, h.config.Timeout)

	_, err = New(context.Background(), config.GenAIConfig{Provider: config.ProviderHTTP}, "Hef Cafe", log)
	assert.Error(t, err)

	_, err = New(context.Background(), config.GenAIConfig{Provider: "openai"}, "Hef Cafe", log)
	assert.Error(t, err)
}
