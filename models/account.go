package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/backoffice_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Account struct {
	ID         int             `gorm:"primary_key" json:"id"`
	BusinessId string          `gorm:"index;not null" json:"business_id"`
	Name       string          `gorm:"size:255;not null" json:"name" binding:"required"`
	Code       string          `gorm:"size:50" json:"code"`
	Balance    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (obj Account) GetId() int {
	return obj.ID
}

// RecalculateAccountBalance rebuilds the account balance from its entries
// (balance = sum of debits - sum of credits). Full recompute for the same
// reason as RecomputeOnHand: replaying it is always safe.
func RecalculateAccountBalance(tx *gorm.DB, accountId int) error {
	balance := decimal.Zero
	if err := tx.Model(&AccountEntry{}).
		Where("account_id = ?", accountId).
		Select("COALESCE(SUM(debit - credit), 0)").
		Scan(&balance).Error; err != nil {
		return err
	}

	return tx.Model(&Account{}).
		Where("id = ?", accountId).
		Update("balance", balance).Error
}

func GetAccount(ctx context.Context, id int) (*Account, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Account](ctx, businessId, id)
}
