package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/backoffice_backend/config"
	"bitbucket.org/mmdatafocus/backoffice_backend/models"
	"bitbucket.org/mmdatafocus/backoffice_backend/utils"
	"bitbucket.org/mmdatafocus/backoffice_backend/workflow"
	"github.com/shopspring/decimal"
)

// setupIntegration boots MySQL + Redis in docker, connects the globals and
// returns a context carrying the test business and user. One call per test:
// each test gets fresh containers so ledger assertions never bleed across.
func setupIntegration(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "backoffice_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, "biz-test")
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")
	return ctx
}

type fixtures struct {
	admin     *models.User
	item      *models.Item
	warehouse *models.Warehouse
	cash      *models.Account
}

func seedFixtures(t *testing.T, ctx context.Context) *fixtures {
	t.Helper()

	admin, err := models.CreateUser(ctx, &models.NewUser{
		Name:     "Back Office Admin",
		Username: "admin@local",
		Password: "secret123",
		Role:     models.UserRoleAdmin,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	item, err := models.CreateItem(ctx, &models.NewItem{
		Name: "Mouse",
		Sku:  "MOUSE-1",
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	warehouse, err := models.CreateWarehouse(ctx, "Primary Warehouse")
	if err != nil {
		t.Fatalf("CreateWarehouse: %v", err)
	}

	db := config.GetDB()
	cash := models.Account{
		BusinessId: "biz-test",
		Name:       "Cash",
		Code:       "1010",
	}
	if err := db.WithContext(ctx).Create(&cash).Error; err != nil {
		t.Fatalf("create cash account: %v", err)
	}

	return &fixtures{admin: admin, item: item, warehouse: warehouse, cash: &cash}
}

func mustTransition(t *testing.T, ctx context.Context, orderId int, status models.OrderStatus) *workflow.TransitionResult {
	t.Helper()
	result, err := workflow.TransitionOrderStatus(ctx, &workflow.TransitionInput{
		OrderId:   orderId,
		NewStatus: status,
	})
	if err != nil {
		t.Fatalf("transition to %s: %v", status, err)
	}
	return result
}

func reloadOrder(t *testing.T, ctx context.Context, id int) *models.Order {
	t.Helper()
	order, err := models.GetOrder(ctx, id)
	if err != nil {
		t.Fatalf("GetOrder(%d): %v", id, err)
	}
	return order
}

func onHand(t *testing.T, warehouseId, itemId int, batch, serial string) decimal.Decimal {
	t.Helper()
	qty, err := models.GetOnHand(config.GetDB(), "biz-test", warehouseId, itemId, batch, serial)
	if err != nil {
		t.Fatalf("GetOnHand: %v", err)
	}
	return qty
}

// Full sales-order lifecycle: deliver commits the ledger, then cancelling the
// delivered order keeps the ledger as-is and hands the money back.
func TestDeliveredThenCancelledKeepsLedgerAndReversesPayments(t *testing.T) {
	ctx := setupIntegration(t)
	fix := seedFixtures(t, ctx)

	order, err := models.CreateOrder(ctx, &models.NewOrder{
		Kind:        models.OrderKindSalesOrder,
		OrderNumber: "SO-001",
		OrderDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		GrandTotal:  decimal.NewFromInt(50000),
		Details: []models.NewLineItem{
			{
				ItemId:      fix.item.ID,
				WarehouseId: fix.warehouse.ID,
				// outbound: sales remove stock
				Quantity: decimal.NewFromInt(-5),
				UnitRate: decimal.NewFromInt(10000),
			},
			{
				ItemId:       fix.item.ID,
				WarehouseId:  fix.warehouse.ID,
				Quantity:     decimal.NewFromInt(-3),
				TrackingType: models.TrackingTypeBatch,
				BatchDetails: []models.NewBatchLineItem{
					{BatchNumber: "B-77", Quantity: decimal.NewFromInt(-3)},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	mustTransition(t, ctx, order.ID, models.OrderStatusConfirmed)

	// Reserved lines must not move on-hand.
	if got := onHand(t, fix.warehouse.ID, fix.item.ID, "", ""); !got.IsZero() {
		t.Fatalf("on-hand after confirm = %s, want 0", got)
	}

	payment, err := models.CreatePayment(ctx, &models.NewPayment{
		OrderId:       order.ID,
		PaymentNumber: "PAY-001",
		PaymentDate:   time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.NewFromInt(50000),
		AccountEntries: []models.NewAccountEntry{
			{AccountId: fix.cash.ID, Debit: decimal.NewFromInt(50000)},
		},
	})
	if err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	reloaded := reloadOrder(t, ctx, order.ID)
	if !reloaded.PaidAmount.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("paid amount after payment = %s, want 50000", reloaded.PaidAmount)
	}

	result := mustTransition(t, ctx, order.ID, models.OrderStatusDelivered)
	if result.InventoryAction != models.InventoryActionCommit {
		t.Fatalf("deliver action = %s, want Commit", result.InventoryAction)
	}

	reloaded = reloadOrder(t, ctx, order.ID)
	if reloaded.InventoryStatus != models.InventoryStatusCommitted {
		t.Fatalf("inventory status after deliver = %s", reloaded.InventoryStatus)
	}
	for _, detail := range reloaded.Details {
		if detail.LedgerTag != models.LedgerTagCommitted {
			t.Fatalf("line %d tag = %s, want Committed", detail.ID, detail.LedgerTag)
		}
		for _, batch := range detail.BatchDetails {
			if batch.LedgerTag != models.LedgerTagCommitted {
				t.Fatalf("batch row tag = %s, want Committed", batch.LedgerTag)
			}
		}
	}
	if got := onHand(t, fix.warehouse.ID, fix.item.ID, "", ""); !got.Equal(decimal.NewFromInt(-8)) {
		t.Fatalf("on-hand after deliver = %s, want -8", got)
	}
	if got := onHand(t, fix.warehouse.ID, fix.item.ID, "B-77", ""); !got.Equal(decimal.NewFromInt(-3)) {
		t.Fatalf("batch on-hand after deliver = %s, want -3", got)
	}

	result = mustTransition(t, ctx, order.ID, models.OrderStatusCancelled)
	if result.InventoryAction != models.InventoryActionKeep {
		t.Fatalf("cancel-after-deliver action = %s, want Keep", result.InventoryAction)
	}
	if result.ReversalError != nil {
		t.Fatalf("reversal error: %v", result.ReversalError)
	}
	if result.PaymentsReversed != 1 {
		t.Fatalf("payments reversed = %d, want 1", result.PaymentsReversed)
	}

	reloaded = reloadOrder(t, ctx, order.ID)
	if reloaded.CurrentStatus != models.OrderStatusCancelled {
		t.Fatalf("status = %s, want Cancelled", reloaded.CurrentStatus)
	}
	if reloaded.InventoryStatus != models.InventoryStatusCommittedFulfilled {
		t.Fatalf("inventory status = %s, want CommittedFulfilled", reloaded.InventoryStatus)
	}
	if reloaded.PostFulfillmentAction == nil || *reloaded.PostFulfillmentAction != models.OrderStatusCancelled {
		t.Fatalf("post fulfillment action = %v, want Cancelled", reloaded.PostFulfillmentAction)
	}
	// Ledger untouched by the cancel.
	if got := onHand(t, fix.warehouse.ID, fix.item.ID, "", ""); !got.Equal(decimal.NewFromInt(-8)) {
		t.Fatalf("on-hand after cancel = %s, want -8 (unchanged)", got)
	}
	if !reloaded.PaidAmount.IsZero() {
		t.Fatalf("paid amount after reversal = %s, want 0", reloaded.PaidAmount)
	}

	db := config.GetDB()
	payments, err := models.GetPayments(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetPayments: %v", err)
	}
	if len(payments) != 2 {
		t.Fatalf("payment rows = %d, want 2 (original + reversal)", len(payments))
	}
	var reversal *models.Payment
	for _, p := range payments {
		if p.IsReversal {
			reversal = p
		}
	}
	if reversal == nil {
		t.Fatal("no reversal payment row")
	}
	if reversal.OriginalPaymentId == nil || *reversal.OriginalPaymentId != payment.ID {
		t.Fatalf("reversal original id = %v, want %d", reversal.OriginalPaymentId, payment.ID)
	}
	if !reversal.Amount.Equal(decimal.NewFromInt(-50000)) {
		t.Fatalf("reversal amount = %s, want -50000", reversal.Amount)
	}
	if reversal.PaymentNumber != "REV-PAY-001" {
		t.Fatalf("reversal number = %q", reversal.PaymentNumber)
	}
	if len(reversal.AccountEntries) != 1 {
		t.Fatalf("reversal entries = %d, want 1", len(reversal.AccountEntries))
	}
	if !reversal.AccountEntries[0].Credit.Equal(decimal.NewFromInt(50000)) {
		t.Fatalf("reversal entry credit = %s, want 50000 (debit/credit swapped)", reversal.AccountEntries[0].Credit)
	}

	// Original is marked reversed, not deleted.
	var original models.Payment
	if err := db.WithContext(ctx).First(&original, payment.ID).Error; err != nil {
		t.Fatalf("reload original payment: %v", err)
	}
	if original.ReversedAt == nil || original.ReversalReason == nil {
		t.Fatal("original payment not stamped as reversed")
	}
	if *original.ReversalReason != workflow.ReversalReasonOrderCancelled {
		t.Fatalf("reversal reason = %q", *original.ReversalReason)
	}

	// Account balance nets to zero after the mirrored entries.
	var cash models.Account
	if err := db.WithContext(ctx).First(&cash, fix.cash.ID).Error; err != nil {
		t.Fatalf("reload cash account: %v", err)
	}
	if !cash.Balance.IsZero() {
		t.Fatalf("cash balance = %s, want 0", cash.Balance)
	}

	// Nothing left to reverse: the trigger is at-most-once per payment.
	leftover, err := models.GetReversiblePayments(db.WithContext(ctx), order.ID)
	if err != nil {
		t.Fatalf("GetReversiblePayments: %v", err)
	}
	if len(leftover) != 0 {
		t.Fatalf("reversible payments after reversal = %d, want 0", len(leftover))
	}

	// One history row per transition plus the creation row.
	histories, err := models.GetOrderHistories(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrderHistories: %v", err)
	}
	if len(histories) != 4 {
		t.Fatalf("history rows = %d, want 4", len(histories))
	}
	latest := histories[0]
	if latest.PreviousStatus != models.OrderStatusDelivered || latest.NewStatus != models.OrderStatusCancelled {
		t.Fatalf("latest history = %s -> %s", latest.PreviousStatus, latest.NewStatus)
	}
	if latest.UserId != fix.admin.ID {
		t.Fatalf("history attributed to user %d, want admin fallback %d", latest.UserId, fix.admin.ID)
	}
}

// Cancelling before fulfillment reverts the reservation and leaves on-hand
// untouched.
func TestCancelledBeforeFulfillmentRevertsReservation(t *testing.T) {
	ctx := setupIntegration(t)
	fix := seedFixtures(t, ctx)

	order, err := models.CreateOrder(ctx, &models.NewOrder{
		Kind:        models.OrderKindPurchaseOrder,
		OrderNumber: "PO-001",
		OrderDate:   time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		Details: []models.NewLineItem{
			{
				ItemId:      fix.item.ID,
				WarehouseId: fix.warehouse.ID,
				// inbound: purchases add stock
				Quantity: decimal.NewFromInt(10),
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	mustTransition(t, ctx, order.ID, models.OrderStatusConfirmed)
	result := mustTransition(t, ctx, order.ID, models.OrderStatusCancelled)
	if result.InventoryAction != models.InventoryActionRevert {
		t.Fatalf("cancel action = %s, want Revert", result.InventoryAction)
	}
	if result.PaymentsReversed != 0 {
		t.Fatalf("payments reversed = %d, want 0", result.PaymentsReversed)
	}

	reloaded := reloadOrder(t, ctx, order.ID)
	if reloaded.InventoryStatus != models.InventoryStatusReverted {
		t.Fatalf("inventory status = %s, want Reverted", reloaded.InventoryStatus)
	}
	for _, detail := range reloaded.Details {
		if detail.LedgerTag != models.LedgerTagReserved {
			t.Fatalf("line tag = %s, want Reserved", detail.LedgerTag)
		}
	}
	if got := onHand(t, fix.warehouse.ID, fix.item.ID, "", ""); !got.IsZero() {
		t.Fatalf("on-hand after revert = %s, want 0", got)
	}
}

// A purchase receipt commits inbound stock and recomputation stays a full
// sum: receiving a second order yields the total, not a delta drift.
func TestReceiveRecomputesOnHandAsFullSum(t *testing.T) {
	ctx := setupIntegration(t)
	fix := seedFixtures(t, ctx)

	receive := func(number string, qty int64) {
		order, err := models.CreateOrder(ctx, &models.NewOrder{
			Kind:        models.OrderKindPurchaseInvoice,
			OrderNumber: number,
			OrderDate:   time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
			Details: []models.NewLineItem{
				{
					ItemId:      fix.item.ID,
					WarehouseId: fix.warehouse.ID,
					Quantity:    decimal.NewFromInt(qty),
				},
			},
		})
		if err != nil {
			t.Fatalf("CreateOrder(%s): %v", number, err)
		}
		mustTransition(t, ctx, order.ID, models.OrderStatusConfirmed)
		result := mustTransition(t, ctx, order.ID, models.OrderStatusReceived)
		if result.InventoryAction != models.InventoryActionCommit {
			t.Fatalf("receive action = %s, want Commit", result.InventoryAction)
		}
	}

	receive("PI-001", 10)
	if got := onHand(t, fix.warehouse.ID, fix.item.ID, "", ""); !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("on-hand after first receipt = %s, want 10", got)
	}
	receive("PI-002", 7)
	if got := onHand(t, fix.warehouse.ID, fix.item.ID, "", ""); !got.Equal(decimal.NewFromInt(17)) {
		t.Fatalf("on-hand after second receipt = %s, want 17", got)
	}
}

// An illegal jump is rejected before anything is mutated.
func TestInvalidTransitionLeavesOrderUntouched(t *testing.T) {
	ctx := setupIntegration(t)
	fix := seedFixtures(t, ctx)

	order, err := models.CreateOrder(ctx, &models.NewOrder{
		Kind:        models.OrderKindSalesInvoice,
		OrderNumber: "SI-001",
		OrderDate:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Details: []models.NewLineItem{
			{
				ItemId:      fix.item.ID,
				WarehouseId: fix.warehouse.ID,
				Quantity:    decimal.NewFromInt(-2),
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	_, err = workflow.TransitionOrderStatus(ctx, &workflow.TransitionInput{
		OrderId:   order.ID,
		NewStatus: models.OrderStatusDelivered,
	})
	if err == nil {
		t.Fatal("Draft -> Delivered must be rejected")
	}
	var invalid *workflow.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	reloaded := reloadOrder(t, ctx, order.ID)
	if reloaded.CurrentStatus != models.OrderStatusDraft {
		t.Fatalf("status = %s, want Draft", reloaded.CurrentStatus)
	}
	if reloaded.InventoryStatus != models.InventoryStatusPending {
		t.Fatalf("inventory status = %s, want Pending", reloaded.InventoryStatus)
	}

	histories, err := models.GetOrderHistories(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrderHistories: %v", err)
	}
	if len(histories) != 1 {
		t.Fatalf("history rows = %d, want only the creation row", len(histories))
	}
}

// Terminal statuses accept no further transitions.
func TestTerminalStatusIsFinal(t *testing.T) {
	ctx := setupIntegration(t)
	fix := seedFixtures(t, ctx)

	order, err := models.CreateOrder(ctx, &models.NewOrder{
		Kind:        models.OrderKindSalesOrder,
		OrderNumber: "SO-TERM",
		OrderDate:   time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		Details: []models.NewLineItem{
			{ItemId: fix.item.ID, WarehouseId: fix.warehouse.ID, Quantity: decimal.NewFromInt(-1)},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	mustTransition(t, ctx, order.ID, models.OrderStatusCancelled)
	for _, next := range []models.OrderStatus{
		models.OrderStatusDraft,
		models.OrderStatusConfirmed,
		models.OrderStatusDelivered,
		models.OrderStatusReturned,
	} {
		if _, err := workflow.TransitionOrderStatus(ctx, &workflow.TransitionInput{
			OrderId:   order.ID,
			NewStatus: next,
		}); err == nil {
			t.Fatalf("Cancelled -> %s must be rejected", next)
		}
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("backoffice-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("backoffice-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=backoffice_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
