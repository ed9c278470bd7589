// internal/workers/ordering/send-order-confirmation/handler.go
package sendorderconfirmation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"

	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/common/logger"
	"order-workers/internal/common/metrics"
	"order-workers/internal/models"
	"order-workers/internal/ordering/orders"
)

const (
	TaskType = "send-order-confirmation"
)

// SESService is satisfied by the common aws SES client.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput) (*sns.PublishOutput, error)
}

type OrderSource interface {
	Get(ctx context.Context, orderID string) (models.Order, error)
}

type JobErrorHandler interface {
	HandleJobError(ctx context.Context, client worker.JobClient, job entities.Job, err error)
}

type Handler struct {
	config    *Config
	orders    OrderSource
	sesClient SESService
	snsClient SNSService
	errors    JobErrorHandler
	logger    logger.Logger
}

// NewHandler builds the worker. Either client may be nil when its channel is
// disabled.
func NewHandler(config *Config, source OrderSource, sesClient SESService, snsClient SNSService, errs JobErrorHandler, log logger.Logger) *Handler {
	return &Handler{
		config:    config,
		orders:    source,
		sesClient: sesClient,
		snsClient: snsClient,
		errors:    errs,
		logger:    log.WithFields(map[string]interface{}{"taskType": TaskType}),
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
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(apperrors.CodeOf(err))).Inc()
		h.errors.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if strings.TrimSpace(input.OrderID) == "" {
		return nil, apperrors.NewInvalidInputError("orderId is required")
	}

	order, err := h.orders.Get(ctx, input.OrderID)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, apperrors.NewResourceNotFoundError("orders", "order "+input.OrderID)
	}
	if err != nil {
		return nil, apperrors.NewOrderPersistFailedError(err)
	}

	subject := fmt.Sprintf("New order %s", order.ID)
	if h.config.BusinessName != "" {
		subject = fmt.Sprintf("%s: new order %s", h.config.BusinessName, order.ID)
	}
	body := RenderSummary(order)

	output := &Output{
		NotificationID: uuid.New().String(),
		Status:         StatusDisabled,
		Channels:       []string{},
		SentAt:         time.Now().UTC().Format(time.RFC3339),
	}

	if h.config.EmailEnabled && h.sesClient != nil && h.config.ToEmail != "" {
		if err := h.sendEmail(ctx, subject, body); err != nil {
			h.logger.Error("email send failed", map[string]interface{}{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			return nil, apperrors.NewNotificationSendFailedError(ChannelEmail, err)
		}
		output.Channels = append(output.Channels, ChannelEmail)
	}

	if h.config.SNSEnabled && h.snsClient != nil && h.config.TopicARN != "" {
		if err := h.publish(ctx, order, subject, body); err != nil {
			h.logger.Error("sns publish failed", map[string]interface{}{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			return nil, apperrors.NewNotificationSendFailedError(ChannelSNS, err)
		}
		output.Channels = append(output.Channels, ChannelSNS)
	}

	if len(output.Channels) > 0 {
		output.Status = StatusSent
	}
	h.logger.Info("order confirmation handled", map[string]interface{}{
		"orderId":  order.ID,
		"status":   output.Status,
		"channels": output.Channels,
	})
	return output, nil
}

func (h *Handler) sendEmail(ctx context.Context, subject, body string) error {
	_, err := h.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses: []string{h.config.ToEmail},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(h.config.FromEmail),
	})
	return err
}

func (h *Handler) publish(ctx context.Context, order models.Order, subject, body string) error {
	_, err := h.snsClient.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(h.config.TopicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(body),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"orderId":     {DataType: aws.String("String"), StringValue: aws.String(order.ID)},
			"serviceType": {DataType: aws.String("String"), StringValue: aws.String(order.ServiceType)},
		},
	})
	return err
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// RenderSummary is the staff-facing order text.
func RenderSummary(o models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order: %s\n", o.ID)
	if o.CustomerName != "" {
		fmt.Fprintf(&b, "Customer: %s\n", o.CustomerName)
	}
	fmt.Fprintf(&b, "Phone: %s\n", o.UserID)
	for _, it := range o.Items {
		fmt.Fprintf(&b, "- %s x %d = %d IQD\n", it.DisplayName(models.LanguageEnglish), it.Quantity, it.Subtotal())
	}
	fmt.Fprintf(&b, "Total: %d IQD\n", o.Total)
	switch o.ServiceType {
	case models.ServiceDineIn:
		fmt.Fprintf(&b, "Service: dine-in, table %s\n", o.Location)
	case models.ServiceDelivery:
		fmt.Fprintf(&b, "Service: delivery to %s\n", o.Location)
	}
	if !o.CreatedAt.IsZero() {
		fmt.Fprintf(&b, "Placed: %s", o.CreatedAt.UTC().Format(time.RFC3339))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
