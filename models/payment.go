package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/backoffice_backend/config"
	"bitbucket.org/mmdatafocus/backoffice_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Payment amount is signed; a reversal payment carries the negated amount of
// its original and references it through OriginalPaymentId. The unique index
// on OriginalPaymentId is the at-most-once reversal guard at the storage
// level.
type Payment struct {
	ID                int             `gorm:"primary_key" json:"id"`
	BusinessId        string          `gorm:"index;not null" json:"business_id"`
	OrderId           int             `gorm:"index;not null" json:"order_id"`
	PaymentNumber     string          `gorm:"size:255;not null" json:"payment_number"`
	PaymentDate       time.Time       `gorm:"not null" json:"payment_date"`
	Amount            decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	IsReversal        bool            `gorm:"not null;default:false" json:"is_reversal"`
	OriginalPaymentId *int            `gorm:"uniqueIndex;default:null" json:"original_payment_id"`
	ReversalReason    *string         `gorm:"size:255;default:null" json:"reversal_reason"`
	ReversedAt        *time.Time      `json:"reversed_at"`
	ReversedBy        *int            `json:"reversed_by"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	AccountEntries    []AccountEntry  `gorm:"foreignKey:PaymentId" json:"account_entries"`
}

type AccountEntry struct {
	ID        int             `gorm:"primary_key" json:"id"`
	PaymentId int             `gorm:"index;not null" json:"payment_id"`
	AccountId int             `gorm:"index;not null" json:"account_id"`
	Debit     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"debit"`
	Credit    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"credit"`
}

type NewPayment struct {
	OrderId        int               `json:"order_id" binding:"required"`
	PaymentNumber  string            `json:"payment_number" binding:"required"`
	PaymentDate    time.Time         `json:"payment_date" binding:"required"`
	Amount         decimal.Decimal   `json:"amount" binding:"required"`
	AccountEntries []NewAccountEntry `json:"account_entries" binding:"required,dive"`
}

type NewAccountEntry struct {
	AccountId int             `json:"account_id" binding:"required"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
}

func (obj Payment) GetId() int {
	return obj.ID
}

// RecomputeOrderPaidAmount re-derives the order's paid amount as the sum over
// all its payments, originals and reversals alike, and persists it.
func RecomputeOrderPaidAmount(tx *gorm.DB, order *Order) error {
	paidAmount := decimal.Zero
	if err := tx.Model(&Payment{}).
		Where("order_id = ?", order.ID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&paidAmount).Error; err != nil {
		return err
	}

	order.PaidAmount = paidAmount
	return tx.Model(&Order{}).
		Where("id = ?", order.ID).
		Update("paid_amount", paidAmount).Error
}

// CreatePayment records a payment with its account entries, then re-derives
// the order's paid amount and the touched account balances.
func CreatePayment(ctx context.Context, input *NewPayment) (*Payment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !input.Amount.IsPositive() {
		return nil, errors.New("payment amount must be positive")
	}

	order, err := utils.FetchModel[Order](ctx, businessId, input.OrderId)
	if err != nil {
		return nil, err
	}

	for _, entry := range input.AccountEntries {
		if err := utils.ValidateResourceId[Account](ctx, businessId, entry.AccountId); err != nil {
			return nil, errors.New("account not found")
		}
	}

	payment := Payment{
		BusinessId:    businessId,
		OrderId:       order.ID,
		PaymentNumber: input.PaymentNumber,
		PaymentDate:   input.PaymentDate,
		Amount:        input.Amount,
		IsReversal:    false,
	}
	for _, entry := range input.AccountEntries {
		payment.AccountEntries = append(payment.AccountEntries, AccountEntry{
			AccountId: entry.AccountId,
			Debit:     entry.Debit,
			Credit:    entry.Credit,
		})
	}

	db := config.GetDB()
	tx := db.Begin()

	if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := RecomputeOrderPaidAmount(tx.WithContext(ctx), order); err != nil {
		tx.Rollback()
		return nil, err
	}

	for _, entry := range payment.AccountEntries {
		if err := RecalculateAccountBalance(tx.WithContext(ctx), entry.AccountId); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &payment, nil
}

// GetReversiblePayments fetches the order's original payments that have not
// been reversed yet: is_reversal = false, amount > 0 and no reversal row
// referencing them.
func GetReversiblePayments(tx *gorm.DB, orderId int) ([]*Payment, error) {
	var payments []*Payment
	err := tx.Preload("AccountEntries").
		Where("order_id = ? AND is_reversal = ? AND amount > 0", orderId, false).
		Where("id NOT IN (?)", tx.Session(&gorm.Session{NewDB: true}).
			Model(&Payment{}).
			Select("original_payment_id").
			Where("order_id = ? AND is_reversal = ? AND original_payment_id IS NOT NULL", orderId, true)).
		Order("id").
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func GetPayments(ctx context.Context, orderId int) ([]*Payment, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*Payment
	err := db.WithContext(ctx).Preload("AccountEntries").
		Where("business_id = ? AND order_id = ?", businessId, orderId).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
