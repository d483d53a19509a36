package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/backoffice_backend/config"
	"bitbucket.org/mmdatafocus/backoffice_backend/models"
	"bitbucket.org/mmdatafocus/backoffice_backend/utils"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("backoffice-workflow")

// ProofEvidence is an optional attachment (delivery photo, signed receipt)
// stored in cloud storage and referenced from the history row.
type ProofEvidence struct {
	Data        []byte
	ContentType string
}

type TransitionInput struct {
	OrderId       int
	NewStatus     models.OrderStatus
	ActorId       *int
	Notes         string
	ProofEvidence *ProofEvidence
}

// TransitionResult reports what the transition actually did. ReversalError
// and EvidenceError are non-fatal outcomes: the transition itself committed.
type TransitionResult struct {
	Order            *models.Order
	PreviousStatus   models.OrderStatus
	InventoryAction  models.InventoryAction
	PaymentsReversed int
	ReversalError    error
	EvidenceError    error
}

// TransitionOrderStatus moves an order to NewStatus, applying every side
// effect the status change implies: inventory reclassification, quantity
// recomputation, payment reversal, proof evidence upload and the history row.
//
// Concurrency: a per-order distributed lock is held for the whole call, and
// the order row itself is locked FOR UPDATE inside the transaction. Fatal
// failures (validation, inventory, history) roll back everything. Payment
// reversal runs in a savepoint: its failure is logged and reported but does
// not block the status change. Evidence upload failure only drops the
// reference from the history row.
func TransitionOrderStatus(ctx context.Context, input *TransitionInput) (*TransitionResult, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	ctx, span := tracer.Start(ctx, "order.transition")
	defer span.End()
	span.SetAttributes(
		attribute.Int("order.id", input.OrderId),
		attribute.String("order.new_status", string(input.NewStatus)),
	)

	lock, err := utils.ObtainOrderLock(ctx, businessId, input.OrderId)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	order, err := models.GetOrderForUpdate(tx, businessId, input.OrderId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	descriptor, err := DescriptorFor(order.Kind)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	previousStatus := order.CurrentStatus
	if err := ValidateTransition(order.Kind, previousStatus, input.NewStatus); err != nil {
		tx.Rollback()
		return nil, err
	}

	result := &TransitionResult{Order: order, PreviousStatus: previousStatus}

	action := SelectInventoryAction(descriptor, order, input.NewStatus)
	result.InventoryAction = action
	if err := ApplyInventoryAction(tx, order, action, input.NewStatus); err != nil {
		tx.Rollback()
		return nil, err
	}

	// Leaving the fulfillment status for a terminal one means money already
	// collected against the order must be handed back. The batch runs in a
	// savepoint so a half-reversed order can never be observed, but its
	// failure does not hold the status change hostage.
	if previousStatus == descriptor.FulfillmentStatus && descriptor.IsTerminal(input.NewStatus) {
		reason := reversalReasonFor(input.NewStatus)
		reversalErr := tx.Transaction(func(stx *gorm.DB) error {
			reversed, err := ReverseOrderPayments(stx, order, reason, input.ActorId)
			if err != nil {
				return err
			}
			result.PaymentsReversed = reversed
			return nil
		})
		if reversalErr != nil {
			result.PaymentsReversed = 0
			result.ReversalError = &PaymentReversalError{OrderId: order.ID, Err: reversalErr}
			config.LogWarn(config.GetLogger(), "orchestrator.go", "TransitionOrderStatus",
				"Transition committed without payment reversal", result.ReversalError.Error())
		}
	}

	proofEvidenceRef := ""
	if input.ProofEvidence != nil {
		ref, err := utils.UploadProofEvidence(ctx, businessId, order.ID, input.ProofEvidence.Data, input.ProofEvidence.ContentType)
		if err != nil {
			result.EvidenceError = err
			config.LogWarn(config.GetLogger(), "orchestrator.go", "TransitionOrderStatus",
				"Proof evidence upload failed, history row saved without reference", err.Error())
		} else {
			proofEvidenceRef = ref
		}
	}

	order.CurrentStatus = input.NewStatus
	if err := tx.Model(&models.Order{}).
		Where("id = ?", order.ID).
		Update("current_status", input.NewStatus).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := models.SaveOrderHistory(tx, order, previousStatus, input.NewStatus, input.ActorId, input.Notes, proofEvidenceRef); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	notifyOrderStatusChanged(ctx, descriptor, order, previousStatus, time.Now().UTC())

	return result, nil
}
