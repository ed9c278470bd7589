package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/logger"
	"order-workers/internal/models"
	"order-workers/internal/ordering/conversation"
)

// ==========================
// Test Helper Functions
// ==========================

type fakeProcessor struct {
	mu    sync.Mutex
	seen  []models.RawMessage
	fail  map[string]bool
	reply func(models.RawMessage) string
}

func (p *fakeProcessor) HandleMessage(_ context.Context, msg models.RawMessage) (conversation.Reply, error) {
	p.mu.Lock()
	p.seen = append(p.seen, msg)
	p.mu.Unlock()
	if p.fail[msg.MessageID] {
		return conversation.Reply{Outcome: conversation.OutcomeFailed}, errors.New("store down")
	}
	text := "echo: " + msg.Text
	if p.reply != nil {
		text = p.reply(msg)
	}
	return conversation.Reply{UserID: msg.UserID, MessageID: msg.MessageID, Text: text, Outcome: conversation.OutcomeResolved}, nil
}

func (p *fakeProcessor) byUser(user string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, m := range p.seen {
		if m.UserID == user {
			out = append(out, m.Text)
		}
	}
	return out
}

type sent struct {
	to, body string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sent
	read []string
}

func (s *fakeSender) SendText(_ context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sent{to, body})
	return nil
}

func (s *fakeSender) MarkRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = append(s.read, id)
	return nil
}

func newTestRouter(t *testing.T, p Processor, s Sender, cfg WebhookConfig) http.Handler {
	r := chi.NewRouter()
	NewHandler(p, s, cfg, logger.NewTestLogger(t)).RegisterRoutes(r)
	return r
}

func textPayload(msgs ...[3]string) []byte {
	type text struct {
		Body string `json:"body"`
	}
	type msg struct {
		From      string `json:"from"`
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Text      text   `json:"text"`
	}
	var list []msg
	for _, m := range msgs {
		list = append(list, msg{From: m[0], ID: m[1], Timestamp: "1767225600", Type: "text", Text: text{m[2]}})
	}
	body, _ := json.Marshal(map[string]interface{}{
		"object": "whatsapp_business_account",
		"entry": []map[string]interface{}{{
			"id": "biz",
			"changes": []map[string]interface{}{{
				"field": "messages",
				"value": map[string]interface{}{
					"messaging_product": "whatsapp",
					"contacts": []map[string]interface{}{
						{"wa_id": "111", "profile": map[string]string{"name": "Ali"}},
					},
					"messages": list,
				},
			}},
		}},
	})
	return body
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ==========================
// SplitMessage
// ==========================

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  []string
	}{
		{"fits", "hello", 10, []string{"hello"}},
		{"no limit", "hello", 0, []string{"hello"}},
		{"line boundaries", "aaa\nbbb\nccc", 8, []string{"aaa\nbbb", "ccc"}},
		{"hard cut", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"counts runes", "مرحبا\nاهلا", 6, []string{"مرحبا", "اهلا"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitMessage(tt.text, tt.limit))
		})
	}
}

// ==========================
// Client
// ==========================

func TestClient_SendTextSplitsInOrder(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v18.0/PHONE/messages", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		var out outbound
		require.NoError(t, json.NewDecoder(r.Body).Decode(&out))
		assert.Equal(t, "whatsapp", out.MessagingProduct)
		assert.Equal(t, "111", out.To)
		mu.Lock()
		bodies = append(bodies, out.Text.Body)
		mu.Unlock()
		w.Write([]byte(`{"messages":[{"id":"wamid.out"}]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIBase: srv.URL, PhoneNumberID: "PHONE", AccessToken: "token", MaxMessageLength: 8}, logger.NewTestLogger(t))
	require.NoError(t, c.SendText(context.Background(), "111", "aaa\nbbb\nccc"))
	assert.Equal(t, []string{"aaa\nbbb", "ccc"}, bodies)
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIBase: srv.URL, PhoneNumberID: "P", MaxRetries: 2, Timeout: time.Second}, logger.NewTestLogger(t))
	require.NoError(t, c.SendText(context.Background(), "111", "hi"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad recipient"}}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIBase: srv.URL, PhoneNumberID: "P", MaxRetries: 3}, logger.NewTestLogger(t))
	err := c.SendText(context.Background(), "111", "hi")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTransportSendFailed, apperrors.CodeOf(err))
	var stdErr *apperrors.StandardError
	require.True(t, errors.As(err, &stdErr))
	assert.Contains(t, stdErr.Details, "bad recipient")
	assert.False(t, stdErr.Retryable)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClient_MarkRead(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{APIBase: srv.URL, PhoneNumberID: "P"}, logger.NewTestLogger(t))
	require.NoError(t, c.MarkRead(context.Background(), "wamid.in"))
	assert.Equal(t, map[string]interface{}{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        "wamid.in",
	}, got)
}

// ==========================
// Webhook
// ==========================

func TestWebhook_Verify(t *testing.T) {
	h := newTestRouter(t, &fakeProcessor{}, &fakeSender{}, WebhookConfig{VerifyToken: "secret"})

	tests := []struct {
		name   string
		query  string
		status int
		body   string
	}{
		{"ok", "hub.mode=subscribe&hub.verify_token=secret&hub.challenge=42", http.StatusOK, "42"},
		{"wrong token", "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=42", http.StatusForbidden, ""},
		{"wrong mode", "hub.mode=unsubscribe&hub.verify_token=secret&hub.challenge=42", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook?"+tt.query, nil))
			assert.Equal(t, tt.status, rec.Code)
			if tt.body != "" {
				assert.Equal(t, tt.body, rec.Body.String())
			}
		})
	}
}

func TestWebhook_ReceiveRepliesToEachMessage(t *testing.T) {
	proc := &fakeProcessor{}
	snd := &fakeSender{}
	h := newTestRouter(t, proc, snd, WebhookConfig{MarkRead: true})

	body := textPayload([3]string{"111", "wamid.1", "2"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body))))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"success"}`, rec.Body.String())
	require.Len(t, proc.seen, 1)
	assert.Equal(t, "Ali", proc.seen[0].CustomerName)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), proc.seen[0].ReceivedAt)
	assert.Equal(t, []sent{{"111", "echo: 2"}}, snd.sent)
	assert.Equal(t, []string{"wamid.1"}, snd.read)
}

func TestWebhook_KeepsPerUserOrder(t *testing.T) {
	proc := &fakeProcessor{}
	h := newTestRouter(t, proc, &fakeSender{}, WebhookConfig{Concurrency: 4})

	body := textPayload(
		[3]string{"111", "a1", "one"},
		[3]string{"222", "b1", "uno"},
		[3]string{"111", "a2", "two"},
		[3]string{"222", "b2", "dos"},
		[3]string{"111", "a3", "three"},
	)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body))))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"one", "two", "three"}, proc.byUser("111"))
	assert.Equal(t, []string{"uno", "dos"}, proc.byUser("222"))
}

func TestWebhook_ProcessingErrorSendsApology(t *testing.T) {
	proc := &fakeProcessor{fail: map[string]bool{"wamid.x": true}}
	snd := &fakeSender{}
	h := newTestRouter(t, proc, snd, WebhookConfig{})

	body := textPayload([3]string{"111", "wamid.x", "hi"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body))))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, snd.sent, 1)
	assert.Equal(t, temporaryError, snd.sent[0].body)
}

func TestWebhook_SilentReplyIsNotSent(t *testing.T) {
	proc := &fakeProcessor{reply: func(models.RawMessage) string { return "" }}
	snd := &fakeSender{}
	h := newTestRouter(t, proc, snd, WebhookConfig{})

	body := textPayload([3]string{"111", "wamid.d", "dup"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body))))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, snd.sent)
}

func TestWebhook_RejectsBadInput(t *testing.T) {
	h := newTestRouter(t, &fakeProcessor{}, &fakeSender{}, WebhookConfig{AppSecret: "s3cr3t"})
	body := textPayload([3]string{"111", "wamid.1", "2"})

	tests := []struct {
		name   string
		body   string
		sig    string
		status int
	}{
		{"missing signature", string(body), "", http.StatusUnauthorized},
		{"wrong signature", string(body), sign("other", body), http.StatusUnauthorized},
		{"invalid json", "{", sign("s3cr3t", []byte("{")), http.StatusBadRequest},
		{"no changes", `{"entry":[]}`, sign("s3cr3t", []byte(`{"entry":[]}`)), http.StatusBadRequest},
		{"signed", string(body), sign("s3cr3t", body), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(tt.body))
			if tt.sig != "" {
				req.Header.Set(signatureHeader, tt.sig)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestWebhook_StatusOnlyDelivery(t *testing.T) {
	proc := &fakeProcessor{}
	h := newTestRouter(t, proc, &fakeSender{}, WebhookConfig{})
	body := `{"entry":[{"changes":[{"field":"messages","value":{"statuses":[{"id":"wamid.1","status":"delivered"}]}}]}]}`

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, proc.seen)
}

func TestPayload_InteractiveReplies(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(`{"entry":[{"changes":[{"field":"messages","value":{"messages":[
		{"from":"111","id":"i1","type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":"yes","title":"نعم أكد الطلب"}}},
		{"from":"111","id":"i2","type":"interactive","interactive":{"type":"list_reply","list_reply":{"id":"2","title":"Desserts"}}},
		{"from":"111","id":"i3","type":"interactive","interactive":{"type":"button_reply","button_reply":{"id":"","title":"No"}}},
		{"from":"111","id":"i4","type":"image"}
	]}}]}]}`), &p))

	batches := p.Messages(time.Now())
	require.Len(t, batches, 1)
	var texts []string
	for _, d := range batches[0] {
		assert.False(t, d.Voice)
		texts = append(texts, d.Text)
	}
	assert.Equal(t, []string{"yes", "2", "No"}, texts)
}

func TestPayload_VoiceNotes(t *testing.T) {
	tests := []struct {
		name string
		msg  string
	}{
		{"audio", `{"from":"111","id":"a1","type":"audio","audio":{"id":"media1","mime_type":"audio/ogg; codecs=opus","voice":true}}`},
		{"voice", `{"from":"111","id":"a1","type":"voice"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p Payload
			require.NoError(t, json.Unmarshal([]byte(`{"entry":[{"changes":[{"field":"messages","value":{"messages":[`+tt.msg+`]}}]}]}`), &p))

			batches := p.Messages(time.Now())
			require.Len(t, batches, 1)
			require.Len(t, batches[0], 1)
			assert.True(t, batches[0][0].Voice)
			assert.Equal(t, "a1", batches[0][0].MessageID)
		})
	}
}

func TestWebhook_VoiceNoteAsksForText(t *testing.T) {
	proc := &fakeProcessor{}
	snd := &fakeSender{}
	h := newTestRouter(t, proc, snd, WebhookConfig{MarkRead: true})

	body := []byte(`{"object":"whatsapp_business_account","entry":[{"id":"biz","changes":[{"field":"messages","value":{"messages":[
		{"from":"111","id":"wamid.v","timestamp":"1767225600","type":"audio","audio":{"id":"media1","voice":true}},
		{"from":"111","id":"wamid.t","timestamp":"1767225601","type":"text","text":{"body":"2"}}
	]}}]}]}`)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body))))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2"}, proc.byUser("111"))
	assert.Equal(t, []sent{{"111", voiceUnsupported}, {"111", "echo: 2"}}, snd.sent)
	assert.Equal(t, []string{"wamid.v", "wamid.t"}, snd.read)
}

func TestWebhook_Simulate(t *testing.T) {
	proc := &fakeProcessor{}
	snd := &fakeSender{}
	h := newTestRouter(t, proc, snd, WebhookConfig{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/simulate",
		strings.NewReader(`{"phone_number":"555","message":"hello","customer_name":"Sara"}`)))

	require.Equal(t, http.StatusOK, rec.Code)
	raw, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(raw), "echo: hello")
	require.Len(t, proc.seen, 1)
	assert.Equal(t, "555", proc.seen[0].UserID)
	assert.Equal(t, "Sara", proc.seen[0].CustomerName)
	assert.Empty(t, snd.sent)
}

func TestValidSignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	assert.True(t, ValidSignature("k", body, sign("k", body)))
	assert.False(t, ValidSignature("k", body, strings.TrimPrefix(sign("k", body), "sha256=")))
	assert.False(t, ValidSignature("k", body, "sha256=zz"))
}
