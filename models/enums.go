package models

// OrderKind selects which order-like entity a row in `orders` represents.
type OrderKind string

const (
	OrderKindSalesOrder      OrderKind = "SO"
	OrderKindSalesInvoice    OrderKind = "SI"
	OrderKindPurchaseOrder   OrderKind = "PO"
	OrderKindPurchaseInvoice OrderKind = "PI"
)

func (k OrderKind) IsValid() bool {
	switch k {
	case OrderKindSalesOrder, OrderKindSalesInvoice, OrderKindPurchaseOrder, OrderKindPurchaseInvoice:
		return true
	}
	return false
}

func (k OrderKind) IsSales() bool {
	return k == OrderKindSalesOrder || k == OrderKindSalesInvoice
}

// OrderStatus is the shared status vocabulary. Which values a given kind may
// use, and which transitions are legal, is owned by workflow descriptors.
type OrderStatus string

const (
	OrderStatusDraft     OrderStatus = "Draft"
	OrderStatusConfirmed OrderStatus = "Confirmed"
	// Delivered marks physical hand-over for sale kinds.
	OrderStatusDelivered OrderStatus = "Delivered"
	// Received marks goods receipt for purchase kinds.
	OrderStatusReceived  OrderStatus = "Received"
	OrderStatusCancelled OrderStatus = "Cancelled"
	OrderStatusReturned  OrderStatus = "Returned"
)

// InventoryStatus tracks how far an order's inventory side-effects have gone.
type InventoryStatus string

const (
	InventoryStatusPending   InventoryStatus = "Pending"
	InventoryStatusCommitted InventoryStatus = "Committed"
	// CommittedFulfilled: goods physically moved and the order then reached a
	// terminal status. The ledger stays as-is; only an explicit return
	// transaction may move stock back.
	InventoryStatusCommittedFulfilled InventoryStatus = "CommittedFulfilled"
	InventoryStatusReverted           InventoryStatus = "Reverted"
)

// LedgerTag is the single source of truth for whether a line item counts
// toward on-hand stock.
type LedgerTag string

const (
	LedgerTagReserved  LedgerTag = "Reserved"
	LedgerTagCommitted LedgerTag = "Committed"
)

// TrackingType: R = regular, B = batch tracked, S = serial tracked.
type TrackingType string

const (
	TrackingTypeRegular TrackingType = "R"
	TrackingTypeBatch   TrackingType = "B"
	TrackingTypeSerial  TrackingType = "S"
)

// InventoryAction is what the reclassifier does on a given transition.
type InventoryAction string

const (
	InventoryActionNone   InventoryAction = "None"
	InventoryActionCommit InventoryAction = "Commit"
	InventoryActionRevert InventoryAction = "Revert"
	// Keep: ledger untouched; goods already moved, so undoing the tags would
	// misstate real stock.
	InventoryActionKeep InventoryAction = "Keep"
)

// UserRole: A = admin, O = owner, C = clerk.
type UserRole string

const (
	UserRoleAdmin UserRole = "A"
	UserRoleOwner UserRole = "O"
	UserRoleClerk UserRole = "C"
)
