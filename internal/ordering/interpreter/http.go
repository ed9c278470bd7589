package interpreter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "order-workers/internal/common/errors"
	commonhttp "order-workers/internal/common/http"
	"order-workers/internal/models"
	"order-workers/internal/ordering/numerals"
)

const parseIntentPath = "/api/ai/parse-intent"

type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

type Config struct {
	BaseURL      string
	APIKey       string
	Model        string
	Timeout      time.Duration
	MaxRetries   int
	BusinessName string
	HistoryTurns int
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 8 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BusinessName == "" {
		c.BusinessName = "Hef Cafe"
	}
	return c
}

// HTTPInterpreter posts the prompt to the GenAI gateway and parses the
// model output it relays.
type HTTPInterpreter struct {
	config Config
	client *commonhttp.Client
	logger Logger
}

func NewHTTP(config Config, log Logger) *HTTPInterpreter {
	config = config.withDefaults()
	return &HTTPInterpreter{
		config: config,
		client: commonhttp.NewClient(config.Timeout, commonhttp.WithRetries(config.MaxRetries, 100*time.Millisecond)),
		logger: log,
	}
}

type gatewayRequest struct {
	Query   string                 `json:"query"`
	Context map[string]interface{} `json:"context"`
}

func (h *HTTPInterpreter) Interpret(ctx context.Context, step models.ConversationStep, text numerals.Text, tc models.TurnContext) (models.ExtractedIntent, error) {
	prompt := BuildPrompt(h.config.BusinessName, step, text, tc, h.config.HistoryTurns)
	req := gatewayRequest{
		Query: text.String(),
		Context: map[string]interface{}{
			"step":     string(step),
			"language": string(tc.Language),
			"model":    h.config.Model,
			"system":   prompt.System,
			"prompt":   prompt.User,
		},
	}
	headers := map[string]string{}
	if h.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + h.config.APIKey
	}

	resp, attempts, err := h.client.PostJSON(ctx, strings.TrimRight(h.config.BaseURL, "/")+parseIntentPath, req, headers)
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return models.ExtractedIntent{}, apperrors.NewAITimeoutError(h.config.Timeout)
	}
	if err != nil {
		return models.ExtractedIntent{}, apperrors.NewAIUnavailableError(err)
	}
	if !resp.OK() {
		body := strings.TrimSpace(string(resp.Body))
		h.logger.Debug("interpreter gateway refused", map[string]interface{}{
			"status":   resp.StatusCode,
			"attempts": attempts,
		})
		if resp.StatusCode == http.StatusTooManyRequests {
			return models.ExtractedIntent{}, apperrors.NewAIQuotaExceededError(body)
		}
		return models.ExtractedIntent{}, apperrors.NewAIUnavailableError(fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	return ParseResponse(unwrapGateway(resp.Body))
}

// unwrapGateway accepts either the intent object itself or an envelope
// carrying the model text under "text" or "response".
func unwrapGateway(data []byte) string {
	var env struct {
		Text     *string `json:"text"`
		Response *string `json:"response"`
	}
	if json.Unmarshal(data, &env) == nil {
		if env.Text != nil {
			return *env.Text
		}
		if env.Response != nil {
			return *env.Response
		}
	}
	return string(data)
}
