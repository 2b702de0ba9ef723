package services

import (
	"context"
	"log"
	"time"
)

const (
	// sweepGrace keeps freshly created orders out of the sweep; the webhook
	// normally settles them well within it.
	sweepGrace = 15 * time.Minute
	sweepBatch = 50
)

// Sweeper periodically polls the gateway for orders stuck in PENDING, healing
// lost or delayed webhooks. It reuses the engine's transition rules, so
// overlapping with live deliveries is harmless, only wasteful.
type Sweeper struct {
	engine   *ReconcileEngine
	orders   OrderStore
	gateway  Gateway
	interval time.Duration
}

func NewSweeper(engine *ReconcileEngine, orders OrderStore, gateway Gateway, interval time.Duration) *Sweeper {
	return &Sweeper{
		engine:   engine,
		orders:   orders,
		gateway:  gateway,
		interval: interval,
	}
}

// Run blocks, sweeping on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	stale, err := s.orders.ListPendingBefore(ctx, time.Now().Add(-sweepGrace), sweepBatch)
	if err != nil {
		log.Printf("[Sweep] Failed to list stale orders: %v", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	log.Printf("[Sweep] Checking %d stale pending orders", len(stale))
	for _, order := range stale {
		status, err := s.engine.ResolveStatus(ctx, s.gateway, order.OrderID)
		if err != nil {
			log.Printf("[Sweep] Order %s: %v", order.OrderID, err)
			continue
		}
		if status != order.Status {
			log.Printf("[Sweep] Order %s: %s -> %s", order.OrderID, order.Status, status)
		}
	}
}
