// internal/workers/ordering/send-order-confirmation/notifier.go
package sendorderconfirmation

import (
	"context"

	apperrors "order-workers/internal/common/errors"
	"order-workers/internal/models"
)

// ProcessStarter is satisfied by the common camunda client.
type ProcessStarter interface {
	StartProcess(ctx context.Context, processID string, variables interface{}) (int64, error)
}

// Notifier starts the confirmation process for each placed order. The
// process runs this package's job worker.
type Notifier struct {
	starter   ProcessStarter
	processID string
}

func NewNotifier(starter ProcessStarter) *Notifier {
	return &Notifier{starter: starter, processID: ProcessID}
}

func (n *Notifier) OrderPlaced(ctx context.Context, order models.Order) error {
	if _, err := n.starter.StartProcess(ctx, n.processID, Input{OrderID: order.ID}); err != nil {
		return apperrors.NewNotificationSendFailedError("workflow", err)
	}
	return nil
}
