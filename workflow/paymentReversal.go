package workflow

import (
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/backoffice_backend/models"
	"gorm.io/gorm"
)

// PaymentReversalError is non-fatal to the transition by design: the status
// and inventory change still commit, the failure is logged and surfaced on
// the TransitionResult for manual handling. The reversal batch itself is
// all-or-nothing (savepoint).
type PaymentReversalError struct {
	OrderId int
	Err     error
}

func (e *PaymentReversalError) Error() string {
	return fmt.Sprintf("payment reversal failed for order %d: %v", e.OrderId, e.Err)
}

func (e *PaymentReversalError) Unwrap() error {
	return e.Err
}

// ReverseOrderPayments creates sign-mirrored reversal payments for every
// unreversed original payment of the order.
//
// Design:
//   - Posted payments are never deleted. A reversal row (is_reversal=true)
//     negates the amount; account entries are mirrored with debit/credit
//     swapped; the original is marked reversed (metadata-only update).
//   - Already-reversed originals are excluded up front, so re-running the
//     trigger reverses zero additional payments.
//
// Returns the number of payments reversed.
func ReverseOrderPayments(tx *gorm.DB, order *models.Order, reason string, actorId *int) (int, error) {
	if tx == nil || order == nil {
		return 0, fmt.Errorf("reverse payments: tx/order is nil")
	}

	originals, err := models.GetReversiblePayments(tx, order.ID)
	if err != nil {
		return 0, err
	}
	if len(originals) == 0 {
		// Nothing to do; still re-derive the paid amount so the order's
		// cached value is trustworthy after the transition.
		return 0, models.RecomputeOrderPaidAmount(tx, order)
	}

	now := time.Now().UTC()
	reasonCopy := reason
	accountIds := make(map[int]bool)

	for _, original := range originals {
		entries := make([]models.AccountEntry, 0, len(original.AccountEntries))
		for _, entry := range original.AccountEntries {
			entries = append(entries, models.AccountEntry{
				AccountId: entry.AccountId,
				Debit:     entry.Credit,
				Credit:    entry.Debit,
			})
			accountIds[entry.AccountId] = true
		}

		originalID := original.ID
		reversal := models.Payment{
			BusinessId:        original.BusinessId,
			OrderId:           original.OrderId,
			PaymentNumber:     "REV-" + original.PaymentNumber,
			PaymentDate:       now,
			Amount:            original.Amount.Neg(),
			IsReversal:        true,
			OriginalPaymentId: &originalID,
			ReversalReason:    &reasonCopy,
			AccountEntries:    entries,
		}

		if err := tx.Create(&reversal).Error; err != nil {
			return 0, err
		}

		// Mark original reversed (metadata-only update).
		if err := tx.Model(&models.Payment{}).
			Where("id = ?", original.ID).
			Updates(map[string]interface{}{
				"reversal_reason": &reasonCopy,
				"reversed_at":     &now,
				"reversed_by":     actorId,
			}).Error; err != nil {
			return 0, err
		}
	}

	for accountId := range accountIds {
		if err := models.RecalculateAccountBalance(tx, accountId); err != nil {
			return 0, err
		}
	}

	if err := models.RecomputeOrderPaidAmount(tx, order); err != nil {
		return 0, err
	}

	return len(originals), nil
}
