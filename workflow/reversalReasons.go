package workflow

import "bitbucket.org/mmdatafocus/backoffice_backend/models"

// Standardized reasons stored in payments.reversal_reason.
const (
	ReversalReasonOrderCancelled = "Order cancelled after fulfillment"
	ReversalReasonOrderReturned  = "Order returned after fulfillment"
)

func reversalReasonFor(requested models.OrderStatus) string {
	if requested == models.OrderStatusReturned {
		return ReversalReasonOrderReturned
	}
	return ReversalReasonOrderCancelled
}
