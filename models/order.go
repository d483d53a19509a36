package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/backoffice_backend/config"
	"bitbucket.org/mmdatafocus/backoffice_backend/utils"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Order is the generic order-like entity (sale order, sale invoice, purchase
// order, purchase invoice). CurrentStatus, InventoryStatus and the line items'
// LedgerTag are mutated only by the workflow orchestrator.
type Order struct {
	ID                      int             `gorm:"primary_key" json:"id"`
	BusinessId              string          `gorm:"index;not null" json:"business_id" binding:"required"`
	Kind                    OrderKind       `gorm:"type:enum('SO','SI','PO','PI');not null;index" json:"kind" binding:"required"`
	OrderNumber             string          `gorm:"size:255;not null" json:"order_number" binding:"required"`
	ReferenceNumber         string          `gorm:"size:255" json:"reference_number"`
	OrderDate               time.Time       `gorm:"not null" json:"order_date" binding:"required"`
	CurrentStatus           OrderStatus     `gorm:"type:enum('Draft','Confirmed','Delivered','Received','Cancelled','Returned');not null" json:"current_status"`
	InventoryStatus         InventoryStatus `gorm:"type:enum('Pending','Committed','CommittedFulfilled','Reverted');not null;default:'Pending'" json:"inventory_status"`
	InventoryAppliedAt      *time.Time      `json:"inventory_applied_at"`
	PostFulfillmentAction   *OrderStatus    `gorm:"type:enum('Cancelled','Returned');default:null" json:"post_fulfillment_action"`
	PostFulfillmentActionAt *time.Time      `json:"post_fulfillment_action_at"`
	Notes                   string          `gorm:"type:text" json:"notes"`
	GrandTotal              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"grand_total"`
	PaidAmount              decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	CreatedAt               time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
	Details                 []LineItem      `gorm:"foreignKey:OrderId" json:"details"`
}

// LineItem quantity is signed: positive = inbound, negative = outbound.
type LineItem struct {
	ID            int              `gorm:"primary_key" json:"id"`
	BusinessId    string           `gorm:"index;not null" json:"business_id"`
	OrderId       int              `gorm:"index;not null" json:"order_id"`
	ItemId        int              `gorm:"index;not null" json:"item_id" binding:"required"`
	WarehouseId   int              `gorm:"index;not null" json:"warehouse_id" binding:"required"`
	Name          string           `gorm:"size:100" json:"name"`
	Quantity      decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"quantity" binding:"required"`
	UnitRate      decimal.Decimal  `gorm:"type:decimal(20,4);default:0" json:"unit_rate"`
	TrackingType  TrackingType     `gorm:"type:enum('R','B','S');default:'R'" json:"tracking_type"`
	LedgerTag     LedgerTag        `gorm:"type:enum('Reserved','Committed');not null;default:'Reserved';index" json:"ledger_tag"`
	BatchDetails  []BatchLineItem  `gorm:"foreignKey:LineItemId" json:"batch_details"`
	SerialDetails []SerialLineItem `gorm:"foreignKey:LineItemId" json:"serial_details"`
}

// BatchLineItem carries its own LedgerTag, kept in lock-step with the parent
// line by the reclassifier. Item/warehouse are denormalized so batch-scoped
// on-hand can be recomputed without joining back through orders.
type BatchLineItem struct {
	ID          int             `gorm:"primary_key" json:"id"`
	BusinessId  string          `gorm:"index;not null" json:"business_id"`
	LineItemId  int             `gorm:"index;not null" json:"line_item_id"`
	ItemId      int             `gorm:"index;not null" json:"item_id"`
	WarehouseId int             `gorm:"index;not null" json:"warehouse_id"`
	BatchNumber string          `gorm:"size:100;not null;index" json:"batch_number"`
	Quantity    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	LedgerTag   LedgerTag       `gorm:"type:enum('Reserved','Committed');not null;default:'Reserved';index" json:"ledger_tag"`
}

type SerialLineItem struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	LineItemId   int             `gorm:"index;not null" json:"line_item_id"`
	ItemId       int             `gorm:"index;not null" json:"item_id"`
	WarehouseId  int             `gorm:"index;not null" json:"warehouse_id"`
	SerialNumber string          `gorm:"size:100;not null;index" json:"serial_number"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	LedgerTag    LedgerTag       `gorm:"type:enum('Reserved','Committed');not null;default:'Reserved';index" json:"ledger_tag"`
}

type NewOrder struct {
	Kind            OrderKind       `json:"kind" binding:"required"`
	OrderNumber     string          `json:"order_number" binding:"required"`
	ReferenceNumber string          `json:"reference_number"`
	OrderDate       time.Time       `json:"order_date" binding:"required"`
	Notes           string          `json:"notes"`
	GrandTotal      decimal.Decimal `json:"grand_total"`
	Details         []NewLineItem   `json:"details" binding:"required,dive"`
}

type NewLineItem struct {
	ItemId        int                 `json:"item_id" binding:"required"`
	WarehouseId   int                 `json:"warehouse_id" binding:"required"`
	Name          string              `json:"name"`
	Quantity      decimal.Decimal     `json:"quantity" binding:"required"`
	UnitRate      decimal.Decimal     `json:"unit_rate"`
	TrackingType  TrackingType        `json:"tracking_type"`
	BatchDetails  []NewBatchLineItem  `json:"batch_details"`
	SerialDetails []NewSerialLineItem `json:"serial_details"`
}

type NewBatchLineItem struct {
	BatchNumber string          `json:"batch_number" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
}

type NewSerialLineItem struct {
	SerialNumber string          `json:"serial_number" binding:"required"`
	Quantity     decimal.Decimal `json:"quantity" binding:"required"`
}

func (obj Order) GetId() int {
	return obj.ID
}

func (obj Order) GetCursor() string {
	return obj.CreatedAt.String()
}

// structValidator mirrors gin's binding semantics so non-HTTP callers
// (console commands, tests) get the same validation as handlers.
var structValidator = func() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}()

func (input NewOrder) validate(ctx context.Context, businessId string) error {
	if err := structValidator.Struct(input); err != nil {
		return err
	}
	if !input.Kind.IsValid() {
		return fmt.Errorf("invalid order kind %q", input.Kind)
	}
	if len(input.Details) == 0 {
		return errors.New("order requires at least one line item")
	}
	for _, detail := range input.Details {
		if err := utils.ValidateResourceId[Item](ctx, businessId, detail.ItemId); err != nil {
			return errors.New("item not found")
		}
		if err := utils.ValidateResourceId[Warehouse](ctx, businessId, detail.WarehouseId); err != nil {
			return errors.New("warehouse not found")
		}
		if detail.Quantity.IsZero() {
			return errors.New("line item quantity cannot be zero")
		}
		switch detail.TrackingType {
		case TrackingTypeBatch:
			if len(detail.BatchDetails) == 0 {
				return errors.New("batch tracked line requires batch details")
			}
		case TrackingTypeSerial:
			if len(detail.SerialDetails) == 0 {
				return errors.New("serial tracked line requires serial details")
			}
		case TrackingTypeRegular, "":
			if len(detail.BatchDetails) > 0 || len(detail.SerialDetails) > 0 {
				return errors.New("regular line cannot carry batch/serial details")
			}
		default:
			return fmt.Errorf("invalid tracking type %q", detail.TrackingType)
		}
	}
	return nil
}

func buildLineItems(businessId string, details []NewLineItem) []LineItem {
	lineItems := make([]LineItem, 0, len(details))
	for _, detail := range details {
		trackingType := detail.TrackingType
		if trackingType == "" {
			trackingType = TrackingTypeRegular
		}
		lineItem := LineItem{
			BusinessId:   businessId,
			ItemId:       detail.ItemId,
			WarehouseId:  detail.WarehouseId,
			Name:         detail.Name,
			Quantity:     detail.Quantity,
			UnitRate:     detail.UnitRate,
			TrackingType: trackingType,
			LedgerTag:    LedgerTagReserved,
		}
		for _, batch := range detail.BatchDetails {
			lineItem.BatchDetails = append(lineItem.BatchDetails, BatchLineItem{
				BusinessId:  businessId,
				ItemId:      detail.ItemId,
				WarehouseId: detail.WarehouseId,
				BatchNumber: batch.BatchNumber,
				Quantity:    batch.Quantity,
				LedgerTag:   LedgerTagReserved,
			})
		}
		for _, serial := range detail.SerialDetails {
			lineItem.SerialDetails = append(lineItem.SerialDetails, SerialLineItem{
				BusinessId:   businessId,
				ItemId:       detail.ItemId,
				WarehouseId:  detail.WarehouseId,
				SerialNumber: serial.SerialNumber,
				Quantity:     serial.Quantity,
				LedgerTag:    LedgerTagReserved,
			})
		}
		lineItems = append(lineItems, lineItem)
	}
	return lineItems
}

// CreateOrder is the intake path: order + line items in one transaction,
// status Draft, inventory Pending, every ledger tag Reserved.
func CreateOrder(ctx context.Context, input *NewOrder) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	order := Order{
		BusinessId:      businessId,
		Kind:            input.Kind,
		OrderNumber:     input.OrderNumber,
		ReferenceNumber: input.ReferenceNumber,
		OrderDate:       input.OrderDate,
		CurrentStatus:   OrderStatusDraft,
		InventoryStatus: InventoryStatusPending,
		Notes:           input.Notes,
		GrandTotal:      input.GrandTotal,
		PaidAmount:      decimal.Zero,
		Details:         buildLineItems(businessId, input.Details),
	}

	db := config.GetDB()
	tx := db.Begin()

	if err := tx.WithContext(ctx).Create(&order).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	description := fmt.Sprintf("%s created for %v.", order.Kind.Describe(), order.GrandTotal)
	if err := SaveOrderHistory(tx.WithContext(ctx), &order, "", order.CurrentStatus, nil, description, ""); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &order, nil
}

// GetOrderForUpdate fetches the order with all ledger children inside tx,
// taking a row lock. The orchestrator calls this before validating a
// transition so two concurrent requests cannot both read the old status.
func GetOrderForUpdate(tx *gorm.DB, businessId string, id int) (*Order, error) {
	var order Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Details").
		Preload("Details.BatchDetails").
		Preload("Details.SerialDetails").
		Where("business_id = ?", businessId).
		First(&order, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &order, nil
}

func GetOrder(ctx context.Context, id int) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Order](ctx, businessId, id, "Details", "Details.BatchDetails", "Details.SerialDetails")
}

func GetOrders(ctx context.Context, kind *OrderKind, status *OrderStatus) ([]*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if kind != nil && *kind != "" {
		dbCtx = dbCtx.Where("kind = ?", *kind)
	}
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("current_status = ?", *status)
	}

	var results []*Order
	if err := dbCtx.Preload("Details").Order("id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

type LedgerKey struct {
	WarehouseId  int
	ItemId       int
	BatchNumber  string
	SerialNumber string
}

// LedgerKeys returns every (item, warehouse[, batch|serial]) key the order's
// lines touch. Batch/serial lines contribute their sub-record keys in
// addition to the plain item/warehouse key.
func (o *Order) LedgerKeys() []LedgerKey {
	seen := make(map[LedgerKey]bool)
	keys := make([]LedgerKey, 0, len(o.Details))
	add := func(k LedgerKey) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, detail := range o.Details {
		add(LedgerKey{WarehouseId: detail.WarehouseId, ItemId: detail.ItemId})
		for _, batch := range detail.BatchDetails {
			add(LedgerKey{WarehouseId: batch.WarehouseId, ItemId: batch.ItemId, BatchNumber: batch.BatchNumber})
		}
		for _, serial := range detail.SerialDetails {
			add(LedgerKey{WarehouseId: serial.WarehouseId, ItemId: serial.ItemId, SerialNumber: serial.SerialNumber})
		}
	}
	return keys
}

// ReplaceOrderLines deletes and recreates the order's line items wholesale.
// Not allowed once the order is frozen at CommittedFulfilled. If inventory is
// already Committed the new lines are committed too and every affected key is
// recomputed, so the cached on-hand never drifts from the ledger.
func ReplaceOrderLines(ctx context.Context, orderId int, details []NewLineItem) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if len(details) == 0 {
		return nil, errors.New("order requires at least one line item")
	}

	db := config.GetDB()
	tx := db.Begin()

	order, err := GetOrderForUpdate(tx.WithContext(ctx), businessId, orderId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if order.InventoryStatus == InventoryStatusCommittedFulfilled {
		tx.Rollback()
		return nil, errors.New("cannot edit line items of a fulfilled order")
	}

	input := NewOrder{Kind: order.Kind, OrderNumber: order.OrderNumber, OrderDate: order.OrderDate, Details: details}
	if err := input.validate(ctx, businessId); err != nil {
		tx.Rollback()
		return nil, err
	}

	oldKeys := order.LedgerKeys()

	for _, detail := range order.Details {
		if err := tx.WithContext(ctx).Where("line_item_id = ?", detail.ID).Delete(&BatchLineItem{}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.WithContext(ctx).Where("line_item_id = ?", detail.ID).Delete(&SerialLineItem{}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.WithContext(ctx).Where("order_id = ?", order.ID).Delete(&LineItem{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	newLines := buildLineItems(businessId, details)
	committed := order.InventoryStatus == InventoryStatusCommitted
	for i := range newLines {
		newLines[i].OrderId = order.ID
		if committed {
			newLines[i].LedgerTag = LedgerTagCommitted
			for j := range newLines[i].BatchDetails {
				newLines[i].BatchDetails[j].LedgerTag = LedgerTagCommitted
			}
			for j := range newLines[i].SerialDetails {
				newLines[i].SerialDetails[j].LedgerTag = LedgerTagCommitted
			}
		}
		if err := tx.WithContext(ctx).Create(&newLines[i]).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	order.Details = newLines

	if committed {
		for _, key := range append(oldKeys, order.LedgerKeys()...) {
			if err := RecomputeOnHand(tx.WithContext(ctx), businessId, key.WarehouseId, key.ItemId, key.BatchNumber, key.SerialNumber); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return order, nil
}

// Describe returns a human-readable kind name for history descriptions.
func (k OrderKind) Describe() string {
	switch k {
	case OrderKindSalesOrder:
		return "SalesOrder"
	case OrderKindSalesInvoice:
		return "SalesInvoice"
	case OrderKindPurchaseOrder:
		return "PurchaseOrder"
	case OrderKindPurchaseInvoice:
		return "PurchaseInvoice"
	}
	return string(k)
}
