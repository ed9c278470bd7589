// internal/workers/conversation/process-chat-message/handler.go
package processchatmessage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/metrics"
	"order-workers/internal/models"
	"order-workers/internal/ordering/conversation"
)

const (
	TaskType = "process-chat-message"
)

var (
	ErrInvalidInput = errors.New("INVALID_INPUT")
)

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Processor is the conversation service.
type Processor interface {
	HandleMessage(ctx context.Context, msg models.RawMessage) (conversation.Reply, error)
}

type Sender interface {
	SendText(ctx context.Context, to, body string) error
}

// JobErrorHandler fails or throws a job from an error.
type JobErrorHandler interface {
	HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error)
}

type Handler struct {
	config    *Config
	processor Processor
	sender    Sender
	errors    JobErrorHandler
	logger    Logger
}

// NewHandler builds the worker. sender may be nil when replies are delivered
// by a later task in the process.
func NewHandler(config *Config, processor Processor, sender Sender, errs JobErrorHandler, log Logger) *Handler {
	return &Handler{
		config:    config,
		processor: processor,
		sender:    sender,
		errors:    errs,
		logger: log.With(map[string]interface{}{
			"taskType": TaskType,
		}),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.errors.HandleJobError(ctx, client, job, apperrors.NewInvalidInputError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.logger.Error("job failed", map[string]interface{}{
			"jobKey":    job.Key,
			"userId":    input.UserID,
			"messageId": input.MessageID,
			"error":     err.Error(),
		})
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.CodeOf(err))).Inc()
		h.errors.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if err := validateInput(input); err != nil {
		return nil, apperrors.NewInvalidInputError(err.Error())
	}

	receivedAt := input.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	reply, err := h.processor.HandleMessage(ctx, models.RawMessage{
		UserID:       input.UserID,
		MessageID:    input.MessageID,
		Text:         input.Text,
		CustomerName: input.CustomerName,
		ReceivedAt:   receivedAt,
	})
	if err != nil {
		return nil, err
	}

	output := &Output{
		Reply:   reply.Text,
		Step:    string(reply.Step),
		Outcome: string(reply.Outcome),
	}
	if reply.Order != nil {
		output.OrderID = reply.Order.ID
		output.OrderPlaced = true
	}

	if h.config.SendReply && h.sender != nil && reply.Text != "" {
		if err := h.sender.SendText(ctx, input.UserID, reply.Text); err != nil {
			// The turn is committed; a redelivered job would be a duplicate.
			h.logger.Warn("reply delivery failed", map[string]interface{}{
				"userId": input.UserID,
				"error":  err.Error(),
			})
		} else {
			output.ReplySent = true
		}
	}

	h.logger.Info("message processed", map[string]interface{}{
		"userId":    input.UserID,
		"messageId": input.MessageID,
		"outcome":   output.Outcome,
		"step":      output.Step,
	})
	return output, nil
}

func validateInput(input *Input) error {
	var missing []string
	if strings.TrimSpace(input.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(input.MessageID) == "" {
		missing = append(missing, "messageId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)

	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("Failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
	}
}

// Execute runs the job body without a Zeebe client.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
