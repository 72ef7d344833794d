package payment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/order"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/stock"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
)

// PGEvent is one webhook delivery. EventID is the PG's delivery id used
// for exact-duplicate suppression; reconciliation itself is idempotent
// even without it.
type PGEvent struct {
	EventID     string        `json:"event_id"`
	Transaction PGTransaction `json:"transaction"`
}

// NextStatus derives the payment status from (current, incoming). The
// table is total: every pair has a defined outcome, so webhook redelivery
// is safe by construction. Terminal states never move backward.
func NextStatus(current Status, incoming PGStatus) (Status, bool) {
	switch current {
	case StatusPending:
		switch incoming {
		case PGProcessing:
			return StatusInProgress, true
		case PGPaid:
			return StatusPaid, true
		case PGFailed:
			return StatusFailed, true
		}
	case StatusInProgress:
		switch incoming {
		case PGProcessing:
			return StatusInProgress, false
		case PGPaid:
			return StatusPaid, true
		case PGFailed:
			return StatusFailed, true
		}
	case StatusPaid, StatusFailed, StatusPartialRefunded, StatusRefunded:
		return current, false
	}
	return current, false
}

// Reconciler applies PG-reported transitions to Payment and Order state.
// One delivery is one atomic unit of work; the payment row is locked for
// update so concurrent deliveries for the same payment serialize.
type Reconciler struct {
	store   Store
	orders  order.Repository
	updater Updater
	stock   stock.Reserver
	lock    LockReleaser
	hooks   map[MethodGroup]WebhookHook
	logger  *zap.Logger
}

func NewReconciler(store Store, orders order.Repository, updater Updater, reserver stock.Reserver, lock LockReleaser) *Reconciler {
	return &Reconciler{
		store:   store,
		orders:  orders,
		updater: updater,
		stock:   reserver,
		lock:    lock,
		hooks:   make(map[MethodGroup]WebhookHook),
		logger:  util.NamedLogger("reconciler"),
	}
}

// RegisterHook attaches a method-group specific webhook step, run before
// the generic transition (virtual-account number persistence).
func (r *Reconciler) RegisterHook(group MethodGroup, hook WebhookHook) {
	r.hooks[group] = hook
}

// Apply reconciles one delivery. Replaying the same payload converges to
// the same end state.
func (r *Reconciler) Apply(ctx context.Context, event PGEvent) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.Apply")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookReconcileLatency.Observe(time.Since(start).Seconds())
	}()

	tx := event.Transaction
	return r.store.InTx(ctx, func(ctx context.Context) error {
		if event.EventID != "" {
			processed, err := r.store.IsEventProcessed(ctx, event.EventID)
			if err != nil {
				return fmt.Errorf("failed to check event %s: %w", event.EventID, err)
			}
			if processed {
				util.WebhookEventsTotal.WithLabelValues(string(tx.Status), "duplicate").Inc()
				r.logger.Info("PG event already processed", zap.String("event_id", event.EventID))
				return nil
			}
		}

		p, err := r.store.FindPaymentByPGKey(ctx, tx.PGKey, true)
		if err != nil {
			return fmt.Errorf("failed to load payment for pg key %s: %w", tx.PGKey, err)
		}

		if hook, ok := r.hooks[p.MethodGroup]; ok {
			if err := hook.OnGatewayEvent(ctx, p, tx); err != nil {
				return fmt.Errorf("webhook hook for %s failed: %w", p.MethodGroup, err)
			}
		}

		// The bill always records the latest gateway payload, even for
		// deliveries that do not move the status.
		if err := r.store.UpdateBillResult(ctx, p.ID, tx.TxRef, tx.RawPayload); err != nil {
			return fmt.Errorf("failed to update bill for payment %d: %w", p.ID, err)
		}

		next, changed := NextStatus(p.Status, tx.Status)
		if changed {
			if err := r.store.UpdatePaymentStatus(ctx, p.ID, next); err != nil {
				return fmt.Errorf("failed to update payment %d: %w", p.ID, err)
			}
			switch next {
			case StatusPaid:
				if err := r.onPaid(ctx, p); err != nil {
					return err
				}
			case StatusFailed:
				if err := r.onFailed(ctx, p); err != nil {
					return err
				}
			}
			r.logger.Info("Payment reconciled",
				zap.Int64("payment_id", p.ID),
				zap.String("from", string(p.Status)),
				zap.String("to", string(next)))
		}

		if event.EventID != "" {
			if err := r.store.MarkEventProcessed(ctx, event.EventID, string(tx.Status)); err != nil {
				return fmt.Errorf("failed to mark event %s: %w", event.EventID, err)
			}
		}

		outcome := "noop"
		if changed {
			outcome = "applied"
		}
		util.WebhookEventsTotal.WithLabelValues(string(tx.Status), outcome).Inc()
		return nil
	})
}

func (r *Reconciler) onPaid(ctx context.Context, p Payment) error {
	util.PaymentsPaidTotal.Inc()

	if err := r.stock.CommitReservation(ctx, p.ID); err != nil {
		return err
	}

	orders, err := r.orders.FindByPaymentID(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load orders for payment %d: %w", p.ID, err)
	}
	now := time.Now()
	for _, o := range orders {
		if o.Status != order.StatusPending {
			continue
		}
		if _, err := r.updater.Update(ctx, order.UpdateCommand{
			OrderID: o.ID,
			Target:  order.StatusConfirmed,
			At:      now,
		}); err != nil {
			return err
		}
	}
	r.releaseLock(ctx, p, orders)
	return nil
}

func (r *Reconciler) onFailed(ctx context.Context, p Payment) error {
	util.PaymentsFailedTotal.Inc()

	if err := r.stock.CancelReservation(ctx, p.ID); err != nil {
		return err
	}

	orders, err := r.orders.FindByPaymentID(ctx, p.ID)
	if err != nil {
		return fmt.Errorf("failed to load orders for payment %d: %w", p.ID, err)
	}
	now := time.Now()
	for _, o := range orders {
		if o.Status != order.StatusPending {
			continue
		}
		if _, err := r.updater.Update(ctx, order.UpdateCommand{
			OrderID: o.ID,
			Target:  order.StatusFailed,
			At:      now,
		}); err != nil {
			return err
		}
	}
	r.releaseLock(ctx, p, orders)
	return nil
}

func (r *Reconciler) releaseLock(ctx context.Context, p Payment, orders []order.Order) {
	var productIDs []int64
	for _, o := range orders {
		for _, it := range o.Items {
			productIDs = append(productIDs, it.ProductID)
		}
	}
	r.lock.Release(ctx, p.BuyerID, productIDs)
}
