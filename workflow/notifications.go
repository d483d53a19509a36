package workflow

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/backoffice_backend/config"
	"bitbucket.org/mmdatafocus/backoffice_backend/models"
	"bitbucket.org/mmdatafocus/backoffice_backend/utils"
)

// notifyOrderStatusChanged publishes the status-change event after the
// transaction commits. Best effort: a publish failure never unwinds the
// committed transition, it is only logged.
func notifyOrderStatusChanged(ctx context.Context, descriptor *OrderKindDescriptor, order *models.Order, previousStatus models.OrderStatus, occurredAt time.Time) {
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	msg := config.OrderEventMessage{
		BusinessId:     order.BusinessId,
		OrderId:        order.ID,
		OrderKind:      string(order.Kind),
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(previousStatus),
		NewStatus:      string(order.CurrentStatus),
		OccurredAt:     occurredAt,
		CorrelationId:  correlationId,
	}

	if _, err := config.PublishOrderEvent(ctx, msg); err != nil {
		logger := config.GetLogger()
		config.LogError(logger, "notifications.go", "notifyOrderStatusChanged",
			"Could not publish "+descriptor.EventName, order.ID, err)
	}
}
