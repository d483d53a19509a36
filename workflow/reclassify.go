package workflow

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/backoffice_backend/models"
	"gorm.io/gorm"
)

// InventoryReclassificationError aborts the whole transition; the caller
// rolls back and nothing is mutated.
type InventoryReclassificationError struct {
	OrderId int
	Action  models.InventoryAction
	Err     error
}

func (e *InventoryReclassificationError) Error() string {
	return fmt.Sprintf("inventory %s failed for order %d: %v", e.Action, e.OrderId, e.Err)
}

func (e *InventoryReclassificationError) Unwrap() error {
	return e.Err
}

// SelectInventoryAction picks what the reclassifier does for a transition:
//   - requested is the kind's fulfillment status  -> Commit
//   - terminal while Pending/Reverted             -> Revert
//   - terminal while Committed/CommittedFulfilled -> Keep
//   - anything else                               -> None
func SelectInventoryAction(descriptor *OrderKindDescriptor, order *models.Order, requested models.OrderStatus) models.InventoryAction {
	if requested == descriptor.FulfillmentStatus {
		return models.InventoryActionCommit
	}
	if descriptor.IsTerminal(requested) {
		switch order.InventoryStatus {
		case models.InventoryStatusPending, models.InventoryStatusReverted:
			return models.InventoryActionRevert
		case models.InventoryStatusCommitted, models.InventoryStatusCommittedFulfilled:
			return models.InventoryActionKeep
		}
	}
	return models.InventoryActionNone
}

// retagOrderLines flips every line item's ledger tag, mirroring the flip onto
// batch/serial sub-records so they never diverge from their parent, then
// recomputes the cached on-hand for every affected key.
func retagOrderLines(tx *gorm.DB, order *models.Order, tag models.LedgerTag) error {
	if err := tx.Model(&models.LineItem{}).
		Where("order_id = ?", order.ID).
		Update("ledger_tag", tag).Error; err != nil {
		return err
	}

	lineItemIds := make([]int, 0, len(order.Details))
	for _, detail := range order.Details {
		lineItemIds = append(lineItemIds, detail.ID)
	}
	if len(lineItemIds) > 0 {
		if err := tx.Model(&models.BatchLineItem{}).
			Where("line_item_id IN (?)", lineItemIds).
			Update("ledger_tag", tag).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.SerialLineItem{}).
			Where("line_item_id IN (?)", lineItemIds).
			Update("ledger_tag", tag).Error; err != nil {
			return err
		}
	}

	// Keep the in-memory copy in step; callers may inspect it after.
	for i := range order.Details {
		order.Details[i].LedgerTag = tag
		for j := range order.Details[i].BatchDetails {
			order.Details[i].BatchDetails[j].LedgerTag = tag
		}
		for j := range order.Details[i].SerialDetails {
			order.Details[i].SerialDetails[j].LedgerTag = tag
		}
	}

	for _, key := range order.LedgerKeys() {
		if err := models.RecomputeOnHand(tx, order.BusinessId, key.WarehouseId, key.ItemId, key.BatchNumber, key.SerialNumber); err != nil {
			return err
		}
	}
	return nil
}

// ApplyInventoryAction executes commit/revert/keep inside the caller's
// transaction. Commit is idempotent at the order level: retrying against an
// already-committed order is a no-op and touches no cached quantity.
func ApplyInventoryAction(tx *gorm.DB, order *models.Order, action models.InventoryAction, requested models.OrderStatus) error {
	now := time.Now().UTC()

	switch action {
	case models.InventoryActionNone:
		return nil

	case models.InventoryActionCommit:
		if order.InventoryStatus == models.InventoryStatusCommitted {
			return nil
		}
		if order.InventoryStatus == models.InventoryStatusCommittedFulfilled {
			return &InventoryReclassificationError{OrderId: order.ID, Action: action,
				Err: fmt.Errorf("order already fulfilled")}
		}
		if err := retagOrderLines(tx, order, models.LedgerTagCommitted); err != nil {
			return &InventoryReclassificationError{OrderId: order.ID, Action: action, Err: err}
		}
		order.InventoryStatus = models.InventoryStatusCommitted
		order.InventoryAppliedAt = &now
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"inventory_status":     models.InventoryStatusCommitted,
				"inventory_applied_at": &now,
			}).Error; err != nil {
			return &InventoryReclassificationError{OrderId: order.ID, Action: action, Err: err}
		}
		return nil

	case models.InventoryActionRevert:
		// Reverting fulfilled stock would misstate real inventory; that path
		// must go through an explicit return transaction instead.
		if order.InventoryStatus == models.InventoryStatusCommittedFulfilled {
			return &InventoryReclassificationError{OrderId: order.ID, Action: action,
				Err: fmt.Errorf("cannot revert a fulfilled order")}
		}
		if err := retagOrderLines(tx, order, models.LedgerTagReserved); err != nil {
			return &InventoryReclassificationError{OrderId: order.ID, Action: action, Err: err}
		}
		order.InventoryStatus = models.InventoryStatusReverted
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
			Update("inventory_status", models.InventoryStatusReverted).Error; err != nil {
			return &InventoryReclassificationError{OrderId: order.ID, Action: action, Err: err}
		}
		return nil

	case models.InventoryActionKeep:
		// Ledger untouched: goods already moved physically. Only stamp the
		// post-fulfillment action for the audit trail.
		order.InventoryStatus = models.InventoryStatusCommittedFulfilled
		order.PostFulfillmentAction = &requested
		order.PostFulfillmentActionAt = &now
		if err := tx.Model(&models.Order{}).Where("id = ?", order.ID).
			Updates(map[string]interface{}{
				"inventory_status":           models.InventoryStatusCommittedFulfilled,
				"post_fulfillment_action":    requested,
				"post_fulfillment_action_at": &now,
			}).Error; err != nil {
			return &InventoryReclassificationError{OrderId: order.ID, Action: action, Err: err}
		}
		return nil
	}

	return &InventoryReclassificationError{OrderId: order.ID, Action: action,
		Err: fmt.Errorf("unknown inventory action")}
}
