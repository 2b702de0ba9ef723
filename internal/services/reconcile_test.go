package services

import (
	"context"
	"math"
	"testing"

	"github.com/example/tulsi/internal/models"
)

var testCart = []models.CartLine{
	{ID: "A", Price: 50, Quantity: 2},
	{ID: "B", Price: 30, Quantity: 1},
}

func successEvent(orderID, paymentID string, amount float64) Event {
	return Event{
		OrderID:   orderID,
		PaymentID: paymentID,
		Class:     ClassSuccess,
		StatusRaw: "SUCCESS",
		Amount:    amount,
		Raw:       []byte(`{"payment_status":"SUCCESS"}`),
	}
}

func newTestEngine(store *fakeStore) *ReconcileEngine {
	return NewReconcileEngine(store, store, store, nil)
}

func TestReconcileEngine_Success(t *testing.T) {
	ctx := context.Background()

	t.Run("materializes a pending order", func(t *testing.T) {
		store := newFakeStore()
		store.seedSnapshot("order_1", testCart, 130)
		store.seedOrder("order_1", models.StatusPending, 130)
		engine := newTestEngine(store)

		if err := engine.Apply(ctx, successEvent("order_1", "pay_1", 130)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		order, _ := store.GetOrder(ctx, "order_1")
		if order.Status != models.StatusPreparing {
			t.Errorf("expected PREPARING, got %s", order.Status)
		}
		if order.PaymentID != "pay_1" {
			t.Errorf("expected payment id pay_1, got %s", order.PaymentID)
		}
		if order.PaidAt == nil {
			t.Error("expected paid_at to be set")
		}
		if count, _ := store.CountItems(ctx, "order_1"); count != 2 {
			t.Errorf("expected 2 items, got %d", count)
		}
		if snap, _ := store.GetSnapshot(ctx, "order_1"); snap != nil {
			t.Error("expected snapshot to be consumed")
		}
		if _, ok := store.ledger["pay_1"]; !ok {
			t.Error("expected payment recorded in ledger")
		}
	})

	t.Run("materializes even without a local order header", func(t *testing.T) {
		store := newFakeStore()
		store.seedSnapshot("order_2", testCart, 130)
		engine := newTestEngine(store)

		if err := engine.Apply(ctx, successEvent("order_2", "pay_2", 130)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		order, _ := store.GetOrder(ctx, "order_2")
		if order == nil || order.Status != models.StatusPreparing {
			t.Fatalf("expected PREPARING order, got %+v", order)
		}
		if order.Amount != 130 {
			t.Errorf("expected amount 130 from snapshot, got %v", order.Amount)
		}
	})

	t.Run("line item totals match the order amount", func(t *testing.T) {
		store := newFakeStore()
		store.seedSnapshot("order_3", testCart, 130)
		store.seedOrder("order_3", models.StatusPending, 130)
		engine := newTestEngine(store)

		if err := engine.Apply(ctx, successEvent("order_3", "pay_3", 130)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		order, _ := store.GetOrder(ctx, "order_3")
		var total float64
		for _, item := range store.items["order_3"] {
			total += item.UnitPrice * float64(item.Quantity)
		}
		if math.Abs(total-order.Amount) > 0.01 {
			t.Errorf("item total %v does not match order amount %v", total, order.Amount)
		}
	})
}

func TestReconcileEngine_Idempotency(t *testing.T) {
	ctx := context.Background()

	t.Run("redelivery is a no-op", func(t *testing.T) {
		store := newFakeStore()
		store.seedSnapshot("order_1", testCart, 130)
		store.seedOrder("order_1", models.StatusPending, 130)
		engine := newTestEngine(store)

		for i := 0; i < 5; i++ {
			if err := engine.Apply(ctx, successEvent("order_1", "pay_1", 130)); err != nil {
				t.Fatalf("delivery %d: unexpected error: %v", i, err)
			}
		}

		if count, _ := store.CountItems(ctx, "order_1"); count != 2 {
			t.Errorf("expected 2 items after redeliveries, got %d", count)
		}
		if len(store.ledger) != 1 {
			t.Errorf("expected 1 ledger row, got %d", len(store.ledger))
		}
		if len(store.orders) != 1 {
			t.Errorf("expected 1 order, got %d", len(store.orders))
		}
	})

	t.Run("redelivery after snapshot consumption short-circuits", func(t *testing.T) {
		store := newFakeStore()
		store.seedSnapshot("order_1", testCart, 130)
		store.seedOrder("order_1", models.StatusPending, 130)
		engine := newTestEngine(store)

		if err := engine.Apply(ctx, successEvent("order_1", "pay_1", 130)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if snap, _ := store.GetSnapshot(ctx, "order_1"); snap != nil {
			t.Fatal("expected snapshot gone")
		}

		// The snapshot no longer exists; the duplicate must not fail.
		if err := engine.Apply(ctx, successEvent("order_1", "pay_1", 130)); err != nil {
			t.Fatalf("duplicate after consumption: unexpected error: %v", err)
		}
		if count, _ := store.CountItems(ctx, "order_1"); count != 2 {
			t.Errorf("expected 2 items, got %d", count)
		}
	})

	t.Run("repairs an interrupted materialization", func(t *testing.T) {
		store := newFakeStore()
		store.seedSnapshot("order_1", testCart, 130)
		engine := newTestEngine(store)

		// Simulate a prior attempt that recorded the payment and finalized
		// the order header, then died before inserting the items.
		store.seedOrder("order_1", models.StatusPreparing, 130)
		_, _ = store.RecordPayment(ctx, &models.PaymentRecord{PaymentID: "pay_1", OrderID: "order_1"})

		if err := engine.Apply(ctx, successEvent("order_1", "pay_1", 130)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count, _ := store.CountItems(ctx, "order_1"); count != 2 {
			t.Errorf("expected repaired items, got %d", count)
		}
	})
}

// staleReadStore serves a stale PENDING copy for the first read, simulating a
// concurrent delivery committing between the engine's read and its guarded
// status update.
type staleReadStore struct {
	*fakeStore
	staleReads int
}

func (s *staleReadStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.fakeStore.GetOrder(ctx, orderID)
	if s.staleReads > 0 && order != nil {
		s.staleReads--
		copied := *order
		copied.Status = models.StatusPending
		return &copied, nil
	}
	return order, err
}

func TestReconcileEngine_Monotonicity(t *testing.T) {
	ctx := context.Background()

	t.Run("failure marks a pending order failed", func(t *testing.T) {
		store := newFakeStore()
		store.seedOrder("order_1", models.StatusPending, 130)
		engine := newTestEngine(store)

		err := engine.Apply(ctx, Event{OrderID: "order_1", Class: ClassFailure, StatusRaw: "FAILED"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		order, _ := store.GetOrder(ctx, "order_1")
		if order.Status != models.StatusFailed {
			t.Errorf("expected FAILED, got %s", order.Status)
		}
	})

	t.Run("late failure never reverts a paid order", func(t *testing.T) {
		store := newFakeStore()
		store.seedSnapshot("order_1", testCart, 130)
		store.seedOrder("order_1", models.StatusPending, 130)
		engine := newTestEngine(store)

		if err := engine.Apply(ctx, successEvent("order_1", "pay_1", 130)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := engine.Apply(ctx, Event{OrderID: "order_1", Class: ClassFailure, StatusRaw: "FAILED"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		order, _ := store.GetOrder(ctx, "order_1")
		if order.Status != models.StatusPreparing {
			t.Errorf("expected PREPARING to stick, got %s", order.Status)
		}
		if count, _ := store.CountItems(ctx, "order_1"); count != 2 {
			t.Errorf("expected items to survive, got %d", count)
		}
	})

	t.Run("success after terminal failure does not revive the order", func(t *testing.T) {
		store := newFakeStore()
		store.seedSnapshot("order_1", testCart, 130)
		store.seedOrder("order_1", models.StatusFailed, 130)
		engine := newTestEngine(store)

		if err := engine.Apply(ctx, successEvent("order_1", "pay_1", 130)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		order, _ := store.GetOrder(ctx, "order_1")
		if order.Status != models.StatusFailed {
			t.Errorf("expected FAILED to stick, got %s", order.Status)
		}
	})

	t.Run("failure winning the update race keeps its order item-free", func(t *testing.T) {
		base := newFakeStore()
		base.seedSnapshot("order_1", testCart, 130)
		base.seedOrder("order_1", models.StatusFailed, 130)
		store := &staleReadStore{fakeStore: base, staleReads: 1}
		engine := NewReconcileEngine(store, base, base, nil)

		// The success delivery reads PENDING, but the failure has already
		// committed; the guarded update misses and the delivery must back off.
		if err := engine.Apply(ctx, successEvent("order_1", "pay_1", 130)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		order, _ := base.GetOrder(ctx, "order_1")
		if order.Status != models.StatusFailed {
			t.Errorf("expected FAILED to stick, got %s", order.Status)
		}
		if count, _ := base.CountItems(ctx, "order_1"); count != 0 {
			t.Errorf("expected no items on a failed order, got %d", count)
		}
		if snap, _ := base.GetSnapshot(ctx, "order_1"); snap == nil {
			t.Error("expected snapshot to survive for manual reconciliation")
		}
	})

	t.Run("other-class events change nothing", func(t *testing.T) {
		store := newFakeStore()
		store.seedOrder("order_1", models.StatusPending, 130)
		engine := newTestEngine(store)

		err := engine.Apply(ctx, Event{OrderID: "order_1", Class: ClassOther, StatusRaw: "AUTHORIZED"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		order, _ := store.GetOrder(ctx, "order_1")
		if order.Status != models.StatusPending {
			t.Errorf("expected PENDING, got %s", order.Status)
		}
	})
}

func TestReconcileEngine_MissingSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("retryable when creation has not committed yet", func(t *testing.T) {
		store := newFakeStore()
		engine := newTestEngine(store)

		err := engine.Apply(ctx, successEvent("order_1", "pay_1", 130))
		if err == nil {
			t.Fatal("expected an error")
		}
		if !IsRetryable(err) {
			t.Errorf("expected retryable error, got %v", err)
		}

		// The snapshot becomes visible; an identical redelivery must succeed.
		store.seedSnapshot("order_1", testCart, 130)
		store.seedOrder("order_1", models.StatusPending, 130)

		if err := engine.Apply(ctx, successEvent("order_1", "pay_1", 130)); err != nil {
			t.Fatalf("redelivery: unexpected error: %v", err)
		}
		order, _ := store.GetOrder(ctx, "order_1")
		if order.Status != models.StatusPreparing {
			t.Errorf("expected PREPARING after redelivery, got %s", order.Status)
		}
		if count, _ := store.CountItems(ctx, "order_1"); count != 2 {
			t.Errorf("expected 2 items, got %d", count)
		}
	})

	t.Run("paid order with no snapshot and no items is flagged", func(t *testing.T) {
		store := newFakeStore()
		store.seedOrder("order_1", models.StatusPending, 130)
		engine := newTestEngine(store)

		if err := engine.Apply(ctx, successEvent("order_1", "pay_1", 130)); err != nil {
			t.Fatalf("expected acknowledgment, got %v", err)
		}

		order, _ := store.GetOrder(ctx, "order_1")
		if order.Status != models.StatusReconcileRequired {
			t.Errorf("expected RECONCILE_REQUIRED, got %s", order.Status)
		}
		if order.PaymentID != "pay_1" {
			t.Errorf("expected the confirmed payment id to be persisted, got %q", order.PaymentID)
		}
	})
}

func TestReconcileEngine_ResolveStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("local terminal status wins without polling", func(t *testing.T) {
		store := newFakeStore()
		store.seedOrder("order_1", models.StatusPreparing, 130)
		engine := newTestEngine(store)
		gw := &fakeGateway{}

		status, err := engine.ResolveStatus(ctx, gw, "order_1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != models.StatusPreparing {
			t.Errorf("expected PREPARING, got %s", status)
		}
		if gw.statusPolls != 0 {
			t.Errorf("expected no gateway polls, got %d", gw.statusPolls)
		}
	})

	t.Run("remote PAID drives the same success transition", func(t *testing.T) {
		store := newFakeStore()
		store.seedSnapshot("order_1", testCart, 130)
		store.seedOrder("order_1", models.StatusPending, 130)
		engine := newTestEngine(store)
		gw := &fakeGateway{
			orderStatus: "PAID",
			payment:     &RemotePayment{PaymentID: "pay_1", Status: "SUCCESS", Amount: 130, Raw: []byte(`{}`)},
		}

		status, err := engine.ResolveStatus(ctx, gw, "order_1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != models.StatusPreparing {
			t.Errorf("expected PREPARING, got %s", status)
		}
		if count, _ := store.CountItems(ctx, "order_1"); count != 2 {
			t.Errorf("expected 2 items, got %d", count)
		}

		// A webhook landing afterwards for the same payment is a duplicate.
		if err := engine.Apply(ctx, successEvent("order_1", "pay_1", 130)); err != nil {
			t.Fatalf("late webhook: unexpected error: %v", err)
		}
		if len(store.ledger) != 1 {
			t.Errorf("expected 1 ledger row, got %d", len(store.ledger))
		}
	})

	t.Run("remote EXPIRED fails a pending order", func(t *testing.T) {
		store := newFakeStore()
		store.seedOrder("order_1", models.StatusPending, 130)
		engine := newTestEngine(store)
		gw := &fakeGateway{orderStatus: "EXPIRED"}

		status, err := engine.ResolveStatus(ctx, gw, "order_1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != models.StatusFailed {
			t.Errorf("expected FAILED, got %s", status)
		}
	})

	t.Run("remote ACTIVE leaves the order pending", func(t *testing.T) {
		store := newFakeStore()
		store.seedOrder("order_1", models.StatusPending, 130)
		engine := newTestEngine(store)
		gw := &fakeGateway{orderStatus: "ACTIVE"}

		status, err := engine.ResolveStatus(ctx, gw, "order_1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != models.StatusPending {
			t.Errorf("expected PENDING, got %s", status)
		}
	})

	t.Run("unknown order falls through to the remote status", func(t *testing.T) {
		store := newFakeStore()
		engine := newTestEngine(store)
		gw := &fakeGateway{orderStatus: "ACTIVE"}

		status, err := engine.ResolveStatus(ctx, gw, "order_ghost")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if status != "ACTIVE" {
			t.Errorf("expected ACTIVE, got %s", status)
		}
	})
}
