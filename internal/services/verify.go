package services

import (
	"context"
	"fmt"
	"log"

	"github.com/example/tulsi/internal/models"
)

// ResolveStatus answers a client poll for an order. The local store is the
// source of truth once the webhook has landed; while the order is still
// pending (or unknown) the gateway is polled directly and the result is
// pushed through the same transition rules as the webhook path.
func (e *ReconcileEngine) ResolveStatus(ctx context.Context, gw Gateway, orderID string) (string, error) {
	order, err := e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("load order %s: %w", orderID, err)
	}
	if order != nil && order.Status != models.StatusPending {
		return order.Status, nil
	}

	remote, err := gw.GetOrderStatus(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("poll gateway for %s: %w", orderID, err)
	}

	switch ClassifyStatus(remote) {
	case ClassSuccess:
		payment, err := gw.GetSuccessfulPayment(ctx, orderID)
		if err != nil {
			return "", fmt.Errorf("resolve payment for %s: %w", orderID, err)
		}
		if err := e.Apply(ctx, Event{
			OrderID:   orderID,
			PaymentID: payment.PaymentID,
			Class:     ClassSuccess,
			StatusRaw: payment.Status,
			Amount:    payment.Amount,
			Raw:       payment.Raw,
		}); err != nil {
			return "", err
		}
	case ClassFailure:
		if err := e.Apply(ctx, Event{
			OrderID:   orderID,
			Class:     ClassFailure,
			StatusRaw: remote,
		}); err != nil {
			return "", err
		}
	default:
		log.Printf("[Verify] Order %s still %s at gateway", orderID, remote)
	}

	order, err = e.orders.GetOrder(ctx, orderID)
	if err != nil {
		return "", fmt.Errorf("reload order %s: %w", orderID, err)
	}
	if order == nil {
		return remote, nil
	}
	return order.Status, nil
}
