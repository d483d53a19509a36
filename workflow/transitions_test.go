package workflow

import (
	"errors"
	"testing"

	"bitbucket.org/mmdatafocus/backoffice_backend/models"
)

// NOTE: These tests are intentionally DB-free. They pin down the transition
// graph and the inventory action selection, which must be pure lookups; every
// side effect lives behind them in the orchestrator.

var allStatuses = []models.OrderStatus{
	models.OrderStatusDraft,
	models.OrderStatusConfirmed,
	models.OrderStatusDelivered,
	models.OrderStatusReceived,
	models.OrderStatusCancelled,
	models.OrderStatusReturned,
}

func legalEdges(kind models.OrderKind) map[models.OrderStatus][]models.OrderStatus {
	if kind.IsSales() {
		return map[models.OrderStatus][]models.OrderStatus{
			models.OrderStatusDraft:     {models.OrderStatusConfirmed, models.OrderStatusCancelled},
			models.OrderStatusConfirmed: {models.OrderStatusDelivered, models.OrderStatusCancelled},
			models.OrderStatusDelivered: {models.OrderStatusCancelled, models.OrderStatusReturned},
		}
	}
	return map[models.OrderStatus][]models.OrderStatus{
		models.OrderStatusDraft:     {models.OrderStatusConfirmed, models.OrderStatusCancelled},
		models.OrderStatusConfirmed: {models.OrderStatusReceived, models.OrderStatusCancelled},
		models.OrderStatusReceived:  {models.OrderStatusCancelled, models.OrderStatusReturned},
	}
}

func TestValidateTransition_ExhaustiveGraph(t *testing.T) {
	kinds := []models.OrderKind{
		models.OrderKindSalesOrder,
		models.OrderKindSalesInvoice,
		models.OrderKindPurchaseOrder,
		models.OrderKindPurchaseInvoice,
	}

	for _, kind := range kinds {
		edges := legalEdges(kind)
		for _, from := range allStatuses {
			allowed := map[models.OrderStatus]bool{}
			for _, to := range edges[from] {
				allowed[to] = true
			}
			for _, to := range allStatuses {
				err := ValidateTransition(kind, from, to)
				if allowed[to] && err != nil {
					t.Errorf("kind=%s %s->%s should be legal, got %v", kind, from, to, err)
				}
				if !allowed[to] && err == nil {
					t.Errorf("kind=%s %s->%s should be rejected", kind, from, to)
				}
				if !allowed[to] {
					var invalid *InvalidTransitionError
					if !errors.As(err, &invalid) {
						t.Errorf("kind=%s %s->%s expected InvalidTransitionError, got %T", kind, from, to, err)
					}
				}
			}
		}
	}
}

func TestValidateTransition_UnknownKind(t *testing.T) {
	err := ValidateTransition(models.OrderKind("XX"), models.OrderStatusDraft, models.OrderStatusConfirmed)
	if err == nil {
		t.Fatal("expected error for unknown order kind")
	}
}

func TestIsTerminal(t *testing.T) {
	for _, kind := range []models.OrderKind{models.OrderKindSalesOrder, models.OrderKindPurchaseInvoice} {
		descriptor, err := DescriptorFor(kind)
		if err != nil {
			t.Fatalf("DescriptorFor(%s): %v", kind, err)
		}
		if !descriptor.IsTerminal(models.OrderStatusCancelled) {
			t.Errorf("kind=%s Cancelled must be terminal", kind)
		}
		if !descriptor.IsTerminal(models.OrderStatusReturned) {
			t.Errorf("kind=%s Returned must be terminal", kind)
		}
		if descriptor.IsTerminal(models.OrderStatusDraft) {
			t.Errorf("kind=%s Draft must not be terminal", kind)
		}
		if descriptor.IsTerminal(models.OrderStatusConfirmed) {
			t.Errorf("kind=%s Confirmed must not be terminal", kind)
		}
	}
}

func TestFulfillmentStatusPerKind(t *testing.T) {
	cases := map[models.OrderKind]models.OrderStatus{
		models.OrderKindSalesOrder:      models.OrderStatusDelivered,
		models.OrderKindSalesInvoice:    models.OrderStatusDelivered,
		models.OrderKindPurchaseOrder:   models.OrderStatusReceived,
		models.OrderKindPurchaseInvoice: models.OrderStatusReceived,
	}
	for kind, want := range cases {
		descriptor, err := DescriptorFor(kind)
		if err != nil {
			t.Fatalf("DescriptorFor(%s): %v", kind, err)
		}
		if descriptor.FulfillmentStatus != want {
			t.Errorf("kind=%s fulfillment status = %s, want %s", kind, descriptor.FulfillmentStatus, want)
		}
	}
}

func TestSelectInventoryAction(t *testing.T) {
	descriptor, err := DescriptorFor(models.OrderKindSalesOrder)
	if err != nil {
		t.Fatalf("DescriptorFor: %v", err)
	}

	cases := []struct {
		name      string
		inventory models.InventoryStatus
		requested models.OrderStatus
		want      models.InventoryAction
	}{
		{"confirm leaves inventory alone", models.InventoryStatusPending, models.OrderStatusConfirmed, models.InventoryActionNone},
		{"fulfillment commits", models.InventoryStatusPending, models.OrderStatusDelivered, models.InventoryActionCommit},
		{"cancel before commit reverts", models.InventoryStatusPending, models.OrderStatusCancelled, models.InventoryActionRevert},
		{"cancel after revert stays reverted", models.InventoryStatusReverted, models.OrderStatusCancelled, models.InventoryActionRevert},
		{"cancel after commit keeps ledger", models.InventoryStatusCommitted, models.OrderStatusCancelled, models.InventoryActionKeep},
		{"return after commit keeps ledger", models.InventoryStatusCommitted, models.OrderStatusReturned, models.InventoryActionKeep},
		{"cancel after fulfillment keeps ledger", models.InventoryStatusCommittedFulfilled, models.OrderStatusCancelled, models.InventoryActionKeep},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := &models.Order{
				Kind:            models.OrderKindSalesOrder,
				InventoryStatus: tc.inventory,
			}
			got := SelectInventoryAction(descriptor, order, tc.requested)
			if got != tc.want {
				t.Fatalf("SelectInventoryAction(%s, %s) = %s, want %s", tc.inventory, tc.requested, got, tc.want)
			}
		})
	}
}

func TestReversalReasonFor(t *testing.T) {
	if got := reversalReasonFor(models.OrderStatusReturned); got != ReversalReasonOrderReturned {
		t.Errorf("Returned reason = %q", got)
	}
	if got := reversalReasonFor(models.OrderStatusCancelled); got != ReversalReasonOrderCancelled {
		t.Errorf("Cancelled reason = %q", got)
	}
}
