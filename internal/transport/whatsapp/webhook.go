package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"order-workers/internal/common/validation"
	"order-workers/internal/models"
	"order-workers/internal/ordering/conversation"
)

const (
	signatureHeader = "X-Hub-Signature-256"
	maxPayload      = 1 << 20
)

// Processor handles one inbound message.
type Processor interface {
	HandleMessage(ctx context.Context, msg models.RawMessage) (conversation.Reply, error)
}

// Sender delivers replies.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	MarkRead(ctx context.Context, messageID string) error
}

type WebhookConfig struct {
	VerifyToken string
	// AppSecret enables X-Hub-Signature-256 verification when set.
	AppSecret string
	// Concurrency bounds how many users are processed at once per delivery.
	Concurrency int
	// MarkRead acknowledges each inbound message before processing.
	MarkRead bool
}

type Handler struct {
	processor Processor
	sender    Sender
	config    WebhookConfig
	logger    Logger
}

func NewHandler(processor Processor, sender Sender, cfg WebhookConfig, log Logger) *Handler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Handler{processor: processor, sender: sender, config: cfg, logger: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/webhook", func(r chi.Router) {
		r.Get("/", h.Verify)
		r.Post("/", h.Receive)
	})
	r.Post("/simulate", h.Simulate)
}

// Verify answers the subscription handshake.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") != "subscribe" || h.config.VerifyToken == "" ||
		!hmac.Equal([]byte(q.Get("hub.verify_token")), []byte(h.config.VerifyToken)) {
		h.logger.Warn("webhook verification failed", map[string]interface{}{
			"mode": q.Get("hub.mode"),
		})
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	h.logger.Info("webhook verified", nil)
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, q.Get("hub.challenge"))
}

// Receive processes a delivery. Messages of one user run in order; users run
// concurrently.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayload))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "unreadable body"})
		return
	}
	if h.config.AppSecret != "" && !ValidSignature(h.config.AppSecret, body, r.Header.Get(signatureHeader)) {
		h.logger.Warn("webhook signature mismatch", nil)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "error", "message": "invalid signature"})
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil || !payload.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid payload"})
		return
	}

	batches := payload.Messages(time.Now())
	if len(batches) == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "no messages"})
		return
	}

	// Detached from the request so a dropped connection does not abandon
	// claimed sessions halfway.
	ctx := context.WithoutCancel(r.Context())
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.config.Concurrency)
	for _, batch := range batches {
		batch := batch
		g.Go(func() error {
			for _, d := range batch {
				if d.Voice {
					h.declineVoice(gctx, d.RawMessage)
					continue
				}
				h.process(gctx, d.RawMessage)
			}
			return nil
		})
	}
	g.Wait()

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) markRead(ctx context.Context, messageID string) {
	if !h.config.MarkRead {
		return
	}
	if err := h.sender.MarkRead(ctx, messageID); err != nil {
		h.logger.Debug("mark read failed", map[string]interface{}{
			"messageId": messageID,
			"error":     err.Error(),
		})
	}
}

// declineVoice asks the customer to type instead. Voice notes never reach the
// session, so the conversation step is unchanged.
func (h *Handler) declineVoice(ctx context.Context, msg models.RawMessage) {
	h.markRead(ctx, msg.MessageID)
	if err := h.sender.SendText(ctx, msg.UserID, voiceUnsupported); err != nil {
		return
	}
	h.logger.Info("voice note declined", map[string]interface{}{
		"userId":    msg.UserID,
		"messageId": msg.MessageID,
	})
}

func (h *Handler) process(ctx context.Context, msg models.RawMessage) {
	h.markRead(ctx, msg.MessageID)

	reply, err := h.processor.HandleMessage(ctx, msg)
	if err != nil {
		h.logger.Error("message processing failed", map[string]interface{}{
			"userId":    msg.UserID,
			"messageId": msg.MessageID,
			"error":     err.Error(),
		})
		reply.Text = temporaryError
	}
	if reply.Text == "" {
		return
	}
	if err := h.sender.SendText(ctx, msg.UserID, reply.Text); err != nil {
		return
	}
	h.logger.Info("reply sent", map[string]interface{}{
		"userId":    msg.UserID,
		"messageId": msg.MessageID,
		"outcome":   string(reply.Outcome),
		"step":      string(reply.Step),
	})
}

const (
	temporaryError   = "حدث خطأ مؤقت، الرجاء المحاولة مرة أخرى\nA temporary error occurred, please try again"
	voiceUnsupported = "لا يمكنني فهم الرسائل الصوتية حالياً، الرجاء كتابة طلبك\nI can't understand voice messages yet, please type your order"
)

type simulateRequest struct {
	PhoneNumber  string `json:"phone_number"`
	Message      string `json:"message"`
	CustomerName string `json:"customer_name"`
}

// Simulate runs a message through the service without sending anything.
func (h *Handler) Simulate(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxPayload)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid json"})
		return
	}
	if req.PhoneNumber == "" {
		req.PhoneNumber = "1234567890"
	}
	if !validation.ValidatePhone(req.PhoneNumber) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid phone_number"})
		return
	}
	now := time.Now()
	reply, err := h.processor.HandleMessage(r.Context(), models.RawMessage{
		UserID:       req.PhoneNumber,
		MessageID:    "sim-" + strconv.FormatInt(now.UnixNano(), 36),
		Text:         req.Message,
		CustomerName: req.CustomerName,
		ReceivedAt:   now,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "success", "reply": reply})
}

// ValidSignature checks a "sha256=<hex>" header against the body.
func ValidSignature(secret string, body []byte, header string) bool {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
