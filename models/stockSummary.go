package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StockSummary caches on-hand stock per (item, warehouse[, batch|serial])
// key. CurrentQty is only ever written by RecomputeOnHand, and only committed
// ledger rows count toward it.
type StockSummary struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	WarehouseId  int             `gorm:"index;not null" json:"warehouse_id"`
	ItemId       int             `gorm:"index;not null" json:"item_id"`
	BatchNumber  string          `gorm:"size:100;default:''" json:"batch_number"`
	SerialNumber string          `gorm:"size:100;default:''" json:"serial_number"`
	CurrentQty   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"current_qty"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func firstOrCreateStockSummary(tx *gorm.DB, businessId string, warehouseId int, itemId int, batchNumber string, serialNumber string) (*StockSummary, error) {
	stockSummary := StockSummary{
		BusinessId:   businessId,
		WarehouseId:  warehouseId,
		ItemId:       itemId,
		BatchNumber:  batchNumber,
		SerialNumber: serialNumber,
	}
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("business_id = ? AND warehouse_id = ? AND item_id = ? AND batch_number = ? AND serial_number = ?",
			businessId, warehouseId, itemId, batchNumber, serialNumber).
		FirstOrCreate(&stockSummary)
	if result.Error != nil {
		return nil, result.Error
	}
	return &stockSummary, nil
}

// RecomputeOnHand rebuilds the cached on-hand quantity for one key as a full
// sum over committed ledger rows. Never an incremental delta: recomputation
// is idempotent under retries and partial failures, deltas drift.
//
// Key selection: batchNumber set -> batch sub-records; serialNumber set ->
// serial sub-records; neither -> plain line items.
func RecomputeOnHand(tx *gorm.DB, businessId string, warehouseId int, itemId int, batchNumber string, serialNumber string) error {
	var onHand decimal.Decimal

	switch {
	case batchNumber != "":
		if err := tx.Model(&BatchLineItem{}).
			Where("business_id = ? AND warehouse_id = ? AND item_id = ? AND batch_number = ? AND ledger_tag = ?",
				businessId, warehouseId, itemId, batchNumber, LedgerTagCommitted).
			Select("COALESCE(SUM(quantity), 0)").
			Scan(&onHand).Error; err != nil {
			return err
		}
	case serialNumber != "":
		if err := tx.Model(&SerialLineItem{}).
			Where("business_id = ? AND warehouse_id = ? AND item_id = ? AND serial_number = ? AND ledger_tag = ?",
				businessId, warehouseId, itemId, serialNumber, LedgerTagCommitted).
			Select("COALESCE(SUM(quantity), 0)").
			Scan(&onHand).Error; err != nil {
			return err
		}
	default:
		if err := tx.Model(&LineItem{}).
			Where("business_id = ? AND warehouse_id = ? AND item_id = ? AND ledger_tag = ?",
				businessId, warehouseId, itemId, LedgerTagCommitted).
			Select("COALESCE(SUM(quantity), 0)").
			Scan(&onHand).Error; err != nil {
			return err
		}
	}

	stockSummary, err := firstOrCreateStockSummary(tx, businessId, warehouseId, itemId, batchNumber, serialNumber)
	if err != nil {
		return err
	}

	return tx.Model(&StockSummary{}).
		Where("id = ?", stockSummary.ID).
		Update("current_qty", onHand).Error
}

// GetOnHand reads the cached quantity for a key (zero when no row exists).
func GetOnHand(tx *gorm.DB, businessId string, warehouseId int, itemId int, batchNumber string, serialNumber string) (decimal.Decimal, error) {
	onHand := decimal.Zero
	err := tx.Model(&StockSummary{}).
		Where("business_id = ? AND warehouse_id = ? AND item_id = ? AND batch_number = ? AND serial_number = ?",
			businessId, warehouseId, itemId, batchNumber, serialNumber).
		Select("COALESCE(SUM(current_qty), 0)").
		Scan(&onHand).Error
	return onHand, err
}
