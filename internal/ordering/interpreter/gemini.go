package interpreter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"order-workers/internal/common/config"
	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/models"
	"order-workers/internal/ordering/numerals"
)

// GeminiInterpreter asks the Gemini API directly, in JSON response mode.
type GeminiInterpreter struct {
	config Config
	client *genai.Client
	logger Logger
}

func NewGemini(ctx context.Context, cfg Config, log Logger) (*GeminiInterpreter, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiInterpreter{config: cfg, client: client, logger: log}, nil
}

func (g *GeminiInterpreter) Interpret(ctx context.Context, step models.ConversationStep, text numerals.Text, tc models.TurnContext) (models.ExtractedIntent, error) {
	prompt := BuildPrompt(g.config.BusinessName, step, text, tc, g.config.HistoryTurns)

	resp, err := g.client.Models.GenerateContent(ctx,
		g.config.Model,
		genai.Text(prompt.User),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
			ResponseMIMEType:  "application/json",
			Temperature:       genai.Ptr[float32](0.2),
			MaxOutputTokens:   512,
		},
	)
	if err != nil {
		return models.ExtractedIntent{}, classifyGeminiError(ctx, err, g.config)
	}

	raw := resp.Text()
	if strings.TrimSpace(raw) == "" {
		return models.ExtractedIntent{}, apperrors.NewAIMalformedResponseError("empty candidate")
	}
	g.logger.Debug("gemini response", map[string]interface{}{
		"step":  string(step),
		"bytes": len(raw),
	})
	return ParseResponse(raw)
}

func classifyGeminiError(ctx context.Context, err error, cfg Config) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewAITimeoutError(cfg.Timeout)
	}
	msg := err.Error()
	if strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "429") {
		return apperrors.NewAIQuotaExceededError(msg)
	}
	return apperrors.NewAIUnavailableError(err)
}

// Client is what the extractor calls.
type Client interface {
	Interpret(ctx context.Context, step models.ConversationStep, text numerals.Text, tc models.TurnContext) (models.ExtractedIntent, error)
}

// New builds the configured interpreter. Provider "none" returns nil, which
// disables the AI path.
func New(ctx context.Context, cfg config.GenAIConfig, businessName string, log Logger) (Client, error) {
	c := Config{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		Timeout:      config.GetDuration(cfg.Timeout),
		MaxRetries:   cfg.MaxRetries,
		BusinessName: businessName,
		HistoryTurns: cfg.HistoryTurns,
	}
	switch cfg.Provider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderGemini:
		g, err := NewGemini(ctx, c, log)
		if err != nil {
			return nil, err
		}
		return g, nil
	case config.ProviderHTTP, "":
		if c.BaseURL == "" {
			return nil, fmt.Errorf("apis.genai.base_url is required for the http provider")
		}
		return NewHTTP(c, log), nil
	default:
		return nil, fmt.Errorf("unknown genai provider %q", cfg.Provider)
	}
}
