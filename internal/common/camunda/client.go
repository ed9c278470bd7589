// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"

	"order-workers/internal/common/config"
	"order-workers/internal/common/errors"
)

// Client is the broker connection used to register workers and to start the
// order confirmation process.
type Client struct {
	client zbc.Client
	config *ClientConfig
}

type ClientConfig struct {
	GatewayAddress         string
	UsePlaintextConnection bool
	ConnectionTimeout      time.Duration
	RequestTimeout         time.Duration
	RetryConfig            *RetryConfig
}

type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// delay is the backoff before retry number attempt+1, capped at MaxDelay.
func (r *RetryConfig) delay(attempt int) time.Duration {
	d := r.BaseDelay << attempt
	if d <= 0 || d > r.MaxDelay {
		return r.MaxDelay
	}
	return d
}

var DefaultRetryConfig = &RetryConfig{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   10 * time.Second,
}

// NewClient connects to the broker named in the camunda config section.
func NewClient(cfg config.CamundaConfig) (*Client, error) {
	requestTimeout := config.GetDuration(cfg.RequestTimeout)
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	return NewClientWithConfig(&ClientConfig{
		GatewayAddress:         cfg.BrokerAddress,
		UsePlaintextConnection: true,
		ConnectionTimeout:      10 * time.Second,
		RequestTimeout:         requestTimeout,
		RetryConfig:            DefaultRetryConfig,
	})
}

// NewClientWithConfig dials the gateway and fails unless the topology answers.
func NewClientWithConfig(cfg *ClientConfig) (*Client, error) {
	if cfg.RetryConfig == nil {
		cfg.RetryConfig = DefaultRetryConfig
	}

	zc, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         cfg.GatewayAddress,
		UsePlaintextConnection: cfg.UsePlaintextConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("create zeebe client: %w", err)
	}

	c := &Client{client: zc, config: cfg}
	if err := c.Ping(context.Background()); err != nil {
		zc.Close()
		return nil, fmt.Errorf("zeebe gateway %s: %w", cfg.GatewayAddress, err)
	}
	return c, nil
}

// StartProcess creates an instance of the latest deployed version of processID
// and returns its key.
func (c *Client) StartProcess(ctx context.Context, processID string, variables interface{}) (int64, error) {
	result, err := c.ExecuteWithRetry(ctx, func(ctx context.Context) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()

		cmd, err := c.client.NewCreateInstanceCommand().
			BPMNProcessId(processID).
			LatestVersion().
			VariablesFromObject(variables)
		if err != nil {
			return nil, err
		}
		resp, err := cmd.Send(ctx)
		if err != nil {
			return nil, err
		}
		return resp.GetProcessInstanceKey(), nil
	}, "create-instance:"+processID)
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// GetClient exposes the raw client for job workers.
func (c *Client) GetClient() zbc.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// Ping asks the gateway for its topology. It backs the readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectionTimeout)
	defer cancel()

	if _, err := c.client.NewTopologyCommand().Send(ctx); err != nil {
		return fmt.Errorf("zeebe topology: %w", err)
	}
	return nil
}

// ExecuteWithRetry runs command until it succeeds, fails permanently or the
// retry budget is spent. The returned error is always a StandardError.
func (c *Client) ExecuteWithRetry(
	ctx context.Context,
	command func(context.Context) (interface{}, error),
	operation string,
) (interface{}, error) {
	retry := c.config.RetryConfig
	for attempt := 0; ; attempt++ {
		result, err := command(ctx)
		if err == nil {
			return result, nil
		}
		if !isRetryableZeebeError(err) || attempt >= retry.MaxRetries {
			return nil, c.mapZeebeError(err, operation, attempt)
		}

		select {
		case <-time.After(retry.delay(attempt)):
		case <-ctx.Done():
			return nil, errors.NewTimeoutError("zeebe", fmt.Errorf("%s cancelled after %d attempts: %w", operation, attempt+1, ctx.Err()))
		}
	}
}

type failureKind int

const (
	failUnavailable failureKind = iota
	failTimeout
	failNotFound
	failConflict
	failDenied
)

// zeebeFailures classifies gRPC error text. The first matching phrase wins.
var zeebeFailures = []struct {
	phrase string
	kind   failureKind
}{
	{"connection refused", failUnavailable},
	{"connection reset", failUnavailable},
	{"unavailable", failUnavailable},
	{"unreachable", failUnavailable},
	{"broken pipe", failUnavailable},
	{"timeout", failTimeout},
	{"deadline exceeded", failTimeout},
	{"not found", failNotFound},
	{"already exists", failConflict},
	{"permission denied", failDenied},
	{"unauthorized", failDenied},
}

func classify(err error) (failureKind, bool) {
	msg := strings.ToLower(err.Error())
	for _, f := range zeebeFailures {
		if strings.Contains(msg, f.phrase) {
			return f.kind, true
		}
	}
	return failUnavailable, false
}

func isRetryableZeebeError(err error) bool {
	kind, ok := classify(err)
	return ok && (kind == failUnavailable || kind == failTimeout)
}

func (c *Client) mapZeebeError(err error, operation string, attempt int) error {
	desc := fmt.Sprintf("zeebe %s", operation)
	if attempt > 0 {
		desc += fmt.Sprintf(" after %d attempts", attempt+1)
	}
	wrapped := fmt.Errorf("%s: %w", desc, err)

	kind, _ := classify(err)
	switch kind {
	case failTimeout:
		return errors.NewTimeoutError("zeebe", wrapped)
	case failNotFound:
		return errors.NewResourceNotFoundError("zeebe", wrapped.Error())
	case failConflict:
		return errors.NewBusinessRuleError(wrapped.Error(), "process instance already exists")
	case failDenied:
		return errors.NewAuthenticationError(wrapped.Error())
	default:
		return errors.NewExternalServiceError("zeebe", wrapped)
	}
}
