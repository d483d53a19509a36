package workflow

import (
	"fmt"

	"bitbucket.org/mmdatafocus/backoffice_backend/models"
)

// OrderKindDescriptor parameterizes the status engine per order kind: the
// legal transition graph, which status marks physical fulfillment, and the
// event name notified after a commit. One engine, four descriptors, never
// four engines.
type OrderKindDescriptor struct {
	Kind              models.OrderKind
	InitialStatus     models.OrderStatus
	FulfillmentStatus models.OrderStatus
	Transitions       map[models.OrderStatus][]models.OrderStatus
	EventName         string
}

// IsTerminal reports whether the status has no outgoing edges for this kind.
func (d *OrderKindDescriptor) IsTerminal(status models.OrderStatus) bool {
	return len(d.Transitions[status]) == 0
}

func salesTransitions() map[models.OrderStatus][]models.OrderStatus {
	return map[models.OrderStatus][]models.OrderStatus{
		models.OrderStatusDraft:     {models.OrderStatusConfirmed, models.OrderStatusCancelled},
		models.OrderStatusConfirmed: {models.OrderStatusDelivered, models.OrderStatusCancelled},
		models.OrderStatusDelivered: {models.OrderStatusCancelled, models.OrderStatusReturned},
		models.OrderStatusCancelled: {},
		models.OrderStatusReturned:  {},
	}
}

func purchaseTransitions() map[models.OrderStatus][]models.OrderStatus {
	return map[models.OrderStatus][]models.OrderStatus{
		models.OrderStatusDraft:     {models.OrderStatusConfirmed, models.OrderStatusCancelled},
		models.OrderStatusConfirmed: {models.OrderStatusReceived, models.OrderStatusCancelled},
		models.OrderStatusReceived:  {models.OrderStatusCancelled, models.OrderStatusReturned},
		models.OrderStatusCancelled: {},
		models.OrderStatusReturned:  {},
	}
}

var orderKindDescriptors = map[models.OrderKind]*OrderKindDescriptor{
	models.OrderKindSalesOrder: {
		Kind:              models.OrderKindSalesOrder,
		InitialStatus:     models.OrderStatusDraft,
		FulfillmentStatus: models.OrderStatusDelivered,
		Transitions:       salesTransitions(),
		EventName:         "sales_order.status_changed",
	},
	models.OrderKindSalesInvoice: {
		Kind:              models.OrderKindSalesInvoice,
		InitialStatus:     models.OrderStatusDraft,
		FulfillmentStatus: models.OrderStatusDelivered,
		Transitions:       salesTransitions(),
		EventName:         "sales_invoice.status_changed",
	},
	models.OrderKindPurchaseOrder: {
		Kind:              models.OrderKindPurchaseOrder,
		InitialStatus:     models.OrderStatusDraft,
		FulfillmentStatus: models.OrderStatusReceived,
		Transitions:       purchaseTransitions(),
		EventName:         "purchase_order.status_changed",
	},
	models.OrderKindPurchaseInvoice: {
		Kind:              models.OrderKindPurchaseInvoice,
		InitialStatus:     models.OrderStatusDraft,
		FulfillmentStatus: models.OrderStatusReceived,
		Transitions:       purchaseTransitions(),
		EventName:         "purchase_invoice.status_changed",
	},
}

func DescriptorFor(kind models.OrderKind) (*OrderKindDescriptor, error) {
	descriptor, ok := orderKindDescriptors[kind]
	if !ok {
		return nil, fmt.Errorf("no status descriptor for order kind %q", kind)
	}
	return descriptor, nil
}

// InvalidTransitionError rejects a transition before any mutation happens.
type InvalidTransitionError struct {
	Kind      models.OrderKind
	Current   models.OrderStatus
	Requested models.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("%s cannot move from %q to %q", e.Kind.Describe(), e.Current, e.Requested)
}

// ValidateTransition is a pure table lookup: no side effects, no I/O.
func ValidateTransition(kind models.OrderKind, current models.OrderStatus, requested models.OrderStatus) error {
	descriptor, err := DescriptorFor(kind)
	if err != nil {
		return err
	}
	for _, next := range descriptor.Transitions[current] {
		if next == requested {
			return nil
		}
	}
	return &InvalidTransitionError{Kind: kind, Current: current, Requested: requested}
}
