package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/tulsi/internal/models"
)

// OrderStore is the durable order mapping. Implementations must provide
// atomic insert-if-absent and conditional status updates; the engine relies
// on those instead of any in-process locking.
type OrderStore interface {
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	InsertOrder(ctx context.Context, order *models.Order) (bool, error)
	UpdateOrderStatusIf(ctx context.Context, orderID, from string, updates map[string]any) (bool, error)
	CountItems(ctx context.Context, orderID string) (int64, error)
	InsertItems(ctx context.Context, items []models.OrderItem) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error)
}

// SnapshotStore holds pending-order snapshots until they are consumed.
type SnapshotStore interface {
	GetSnapshot(ctx context.Context, orderID string) (*models.PendingOrder, error)
	CreateSnapshot(ctx context.Context, snap *models.PendingOrder) error
	DeleteSnapshot(ctx context.Context, orderID string) error
}

// PaymentLedger records gateway payments, once per payment id.
type PaymentLedger interface {
	RecordPayment(ctx context.Context, rec *models.PaymentRecord) (bool, error)
}

// ReconcileEngine applies normalized gateway events to the order store. Every
// step is individually idempotent, so a delivery interrupted at any point is
// repaired by the next delivery of the same event.
type ReconcileEngine struct {
	orders   OrderStore
	snaps    SnapshotStore
	ledger   PaymentLedger
	telegram *TelegramService
}

func NewReconcileEngine(orders OrderStore, snaps SnapshotStore, ledger PaymentLedger, telegram *TelegramService) *ReconcileEngine {
	return &ReconcileEngine{
		orders:   orders,
		snaps:    snaps,
		ledger:   ledger,
		telegram: telegram,
	}
}

// Apply runs one state-machine transition for a normalized event. A returned
// error is always retryable; everything else must be acknowledged.
func (e *ReconcileEngine) Apply(ctx context.Context, ev Event) error {
	switch ev.Class {
	case ClassSuccess:
		return e.applySuccess(ctx, ev)
	case ClassFailure:
		return e.applyFailure(ctx, ev)
	default:
		log.Printf("[Reconcile] Order %s: status %q is not final, acknowledging only", ev.OrderID, ev.StatusRaw)
		return nil
	}
}

// applyFailure marks the order failed only while it is still pending. A
// failure notification arriving after a success never reverts the order.
func (e *ReconcileEngine) applyFailure(ctx context.Context, ev Event) error {
	changed, err := e.orders.UpdateOrderStatusIf(ctx, ev.OrderID, models.StatusPending, map[string]any{
		"status": models.StatusFailed,
	})
	if err != nil {
		return Retryable(fmt.Errorf("mark order %s failed: %w", ev.OrderID, err))
	}
	if changed {
		log.Printf("[Reconcile] Order %s marked failed (%s)", ev.OrderID, ev.StatusRaw)
	}
	return nil
}

func (e *ReconcileEngine) applySuccess(ctx context.Context, ev Event) error {
	// Ledger gate: one row per payment id. A duplicate insert means this
	// exact notification was already handled, or is being handled right now.
	fresh := true
	if ev.PaymentID == "" {
		// No payment id to key the ledger on; the order-existence gate below
		// still keeps the delivery idempotent.
		log.Printf("[Reconcile] Order %s: success event without payment id", ev.OrderID)
	} else {
		var err error
		fresh, err = e.ledger.RecordPayment(ctx, &models.PaymentRecord{
			PaymentID:  ev.PaymentID,
			OrderID:    ev.OrderID,
			Amount:     ev.Amount,
			Status:     ev.StatusRaw,
			RawPayload: ev.Raw,
		})
		if err != nil {
			return Retryable(fmt.Errorf("record payment %s: %w", ev.PaymentID, err))
		}
	}

	order, err := e.orders.GetOrder(ctx, ev.OrderID)
	if err != nil {
		return Retryable(fmt.Errorf("load order %s: %w", ev.OrderID, err))
	}

	if !fresh {
		log.Printf("[Reconcile] Payment %s already recorded, verifying order %s", ev.PaymentID, ev.OrderID)
	}

	// An order already past PENDING was finalized by a prior delivery. Still
	// verify the line items: a crash between the status update and the item
	// insert leaves a half-finished order that this delivery must repair.
	if order != nil && order.Status != models.StatusPending {
		if order.Status == models.StatusPreparing {
			return e.repairItems(ctx, order, ev.PaymentID)
		}
		return nil
	}

	return e.materialize(ctx, ev, order)
}

// materialize turns a pending order into a PREPARING one: order header,
// line items from the snapshot, then snapshot deletion. The writes are not
// atomic across tables; each one is idempotent instead.
func (e *ReconcileEngine) materialize(ctx context.Context, ev Event, order *models.Order) error {
	snap, err := e.snaps.GetSnapshot(ctx, ev.OrderID)
	if err != nil {
		return Retryable(fmt.Errorf("load snapshot %s: %w", ev.OrderID, err))
	}

	if snap == nil {
		return e.resolveMissingSnapshot(ctx, ev, order)
	}

	now := time.Now()
	if order == nil {
		inserted, err := e.orders.InsertOrder(ctx, &models.Order{
			OrderID:   ev.OrderID,
			UserUID:   snap.UserUID,
			UserEmail: snap.UserEmail,
			Status:    models.StatusPreparing,
			Amount:    snap.Amount,
			Currency:  models.CurrencyINR,
			PaymentID: ev.PaymentID,
			PaidAt:    &now,
		})
		if err != nil {
			return Retryable(fmt.Errorf("insert order %s: %w", ev.OrderID, err))
		}
		if !inserted {
			log.Printf("[Reconcile] Order %s inserted concurrently, continuing", ev.OrderID)
		}
	} else {
		changed, err := e.orders.UpdateOrderStatusIf(ctx, ev.OrderID, models.StatusPending, map[string]any{
			"status":     models.StatusPreparing,
			"payment_id": ev.PaymentID,
			"paid_at":    &now,
		})
		if err != nil {
			return Retryable(fmt.Errorf("update order %s: %w", ev.OrderID, err))
		}
		if !changed {
			// The PENDING read above was stale: a concurrent delivery moved
			// the order first. Re-read and only keep going if that delivery
			// was a success; a failure that won the race keeps its items-free
			// order and its snapshot.
			current, err := e.orders.GetOrder(ctx, ev.OrderID)
			if err != nil {
				return Retryable(fmt.Errorf("reload order %s: %w", ev.OrderID, err))
			}
			if current == nil || current.Status != models.StatusPreparing {
				log.Printf("[Reconcile] Order %s changed status concurrently, leaving it untouched", ev.OrderID)
				return nil
			}
		}
	}

	count, err := e.orders.CountItems(ctx, ev.OrderID)
	if err != nil {
		return Retryable(fmt.Errorf("count items %s: %w", ev.OrderID, err))
	}
	if count == 0 {
		items, err := buildItems(snap)
		if err != nil {
			return Retryable(fmt.Errorf("decode snapshot cart %s: %w", ev.OrderID, err))
		}
		if err := e.orders.InsertItems(ctx, items); err != nil {
			return Retryable(fmt.Errorf("insert items %s: %w", ev.OrderID, err))
		}
	}

	if err := e.snaps.DeleteSnapshot(ctx, ev.OrderID); err != nil {
		// Items exist; a later duplicate delivery short-circuits before
		// touching the snapshot again, so a leftover row is only clutter.
		log.Printf("[Reconcile] Failed to delete snapshot %s: %v", ev.OrderID, err)
	}

	log.Printf("[Reconcile] Order %s materialized, payment %s", ev.OrderID, ev.PaymentID)

	if e.telegram != nil {
		go func() {
			if err := e.telegram.NotifyPaymentSuccess(ev.OrderID, ev.PaymentID, ev.Amount); err != nil {
				log.Printf("[Reconcile] Telegram payment notification failed: %v", err)
			}
		}()
	}

	return nil
}

// repairItems re-materializes line items for an order that was finalized
// without them, using the snapshot if it still exists.
func (e *ReconcileEngine) repairItems(ctx context.Context, order *models.Order, paymentID string) error {
	count, err := e.orders.CountItems(ctx, order.OrderID)
	if err != nil {
		return Retryable(fmt.Errorf("count items %s: %w", order.OrderID, err))
	}
	if count > 0 {
		return nil
	}

	snap, err := e.snaps.GetSnapshot(ctx, order.OrderID)
	if err != nil {
		return Retryable(fmt.Errorf("load snapshot %s: %w", order.OrderID, err))
	}
	if snap == nil {
		return e.markReconcileRequired(ctx, order, paymentID)
	}

	items, err := buildItems(snap)
	if err != nil {
		return Retryable(fmt.Errorf("decode snapshot cart %s: %w", order.OrderID, err))
	}
	if err := e.orders.InsertItems(ctx, items); err != nil {
		return Retryable(fmt.Errorf("insert items %s: %w", order.OrderID, err))
	}
	if err := e.snaps.DeleteSnapshot(ctx, order.OrderID); err != nil {
		log.Printf("[Reconcile] Failed to delete snapshot %s: %v", order.OrderID, err)
	}

	log.Printf("[Reconcile] Order %s: repaired missing line items", order.OrderID)
	return nil
}

// resolveMissingSnapshot decides what a success event with no snapshot means.
// With no local order either, creation has not committed yet: fail so the
// gateway redelivers. With an order that already has items, a prior delivery
// consumed the snapshot and there is nothing to do. An order with no items and
// no snapshot cannot be finalized from local data; it is flagged for manual
// reconciliation instead of being silently accepted with an empty cart.
func (e *ReconcileEngine) resolveMissingSnapshot(ctx context.Context, ev Event, order *models.Order) error {
	if order == nil {
		return Retryable(fmt.Errorf("order %s: %w", ev.OrderID, ErrSnapshotMissing))
	}

	count, err := e.orders.CountItems(ctx, ev.OrderID)
	if err != nil {
		return Retryable(fmt.Errorf("count items %s: %w", ev.OrderID, err))
	}
	if count > 0 {
		return nil
	}

	return e.markReconcileRequired(ctx, order, ev.PaymentID)
}

// markReconcileRequired flags a paid order that cannot be finalized from
// local data. The confirmed payment id is persisted alongside the flag so the
// manual reconciliation can start from the gateway's record.
func (e *ReconcileEngine) markReconcileRequired(ctx context.Context, order *models.Order, paymentID string) error {
	updates := map[string]any{
		"status": models.StatusReconcileRequired,
	}
	if paymentID != "" {
		updates["payment_id"] = paymentID
	}
	changed, err := e.orders.UpdateOrderStatusIf(ctx, order.OrderID, order.Status, updates)
	if err != nil {
		return Retryable(fmt.Errorf("flag order %s: %w", order.OrderID, err))
	}
	if changed {
		log.Printf("[Reconcile] Order %s flagged for manual reconciliation: paid with no snapshot and no items", order.OrderID)
		if e.telegram != nil {
			go func() {
				if err := e.telegram.NotifyReconcileRequired(order.OrderID); err != nil {
					log.Printf("[Reconcile] Telegram reconcile alert failed: %v", err)
				}
			}()
		}
	}
	return nil
}

func buildItems(snap *models.PendingOrder) ([]models.OrderItem, error) {
	lines, err := snap.CartLines()
	if err != nil {
		return nil, err
	}

	items := make([]models.OrderItem, 0, len(lines))
	for _, line := range lines {
		items = append(items, models.OrderItem{
			OrderID:   snap.OrderID,
			ItemID:    line.ID,
			Quantity:  line.Quantity,
			UnitPrice: line.Price,
		})
	}
	return items, nil
}
