package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
)

// ErrUnknownTarget means no update strategy is registered for the target
// status. This is a configuration error, not a business failure.
var ErrUnknownTarget = errors.New("no order update strategy for target status")

// Repository is the persistence port the update strategies write through.
type Repository interface {
	FindByID(ctx context.Context, id int64) (Order, error)
	FindByPaymentID(ctx context.Context, paymentID int64) ([]Order, error)
	Save(ctx context.Context, o Order) (Order, error)
}

// UpdateCommand asks for one order to reach a target status. Quantities,
// when present, name per-item cancel/refund amounts; Refund selects the
// refund ledger over the cancel ledger.
type UpdateCommand struct {
	OrderID    int64
	Target     Status
	Quantities map[int64]int
	Refund     bool
	At         time.Time
}

type updateFunc func(Order, UpdateCommand) (Order, error)

// UpdaterRegistry resolves the update strategy by target status. The table
// is built once at construction; there is no mutable global registry.
type UpdaterRegistry struct {
	repo   Repository
	funcs  map[Status]updateFunc
	logger *zap.Logger
}

func NewUpdaterRegistry(repo Repository) *UpdaterRegistry {
	return &UpdaterRegistry{
		repo:   repo,
		logger: util.GetLogger(),
		funcs: map[Status]updateFunc{
			StatusConfirmed: func(o Order, cmd UpdateCommand) (Order, error) { return o.Confirm(cmd.At) },
			StatusPreparing: func(o Order, cmd UpdateCommand) (Order, error) { return o.Prepare(cmd.At) },
			StatusShipped:   func(o Order, cmd UpdateCommand) (Order, error) { return o.Ship(cmd.At) },
			StatusDelivered: func(o Order, cmd UpdateCommand) (Order, error) { return o.Deliver(cmd.At) },
			StatusCompleted: func(o Order, cmd UpdateCommand) (Order, error) { return o.Complete(cmd.At) },
			StatusFailed:    func(o Order, cmd UpdateCommand) (Order, error) { return o.Fail(cmd.At) },
			StatusCancelled: applyCancel,
		},
	}
}

func applyCancel(o Order, cmd UpdateCommand) (Order, error) {
	switch {
	case cmd.Refund:
		return o.RefundItems(cmd.Quantities, cmd.At)
	case len(cmd.Quantities) > 0:
		return o.CancelItems(cmd.Quantities, cmd.At)
	default:
		return o.Cancel(cmd.At)
	}
}

// Update loads the order, applies the strategy for the target status and
// persists the resulting snapshot.
func (r *UpdaterRegistry) Update(ctx context.Context, cmd UpdateCommand) (Order, error) {
	ctx, span := util.StartSpan(ctx, "UpdaterRegistry.Update")
	defer span.End()

	fn, ok := r.funcs[cmd.Target]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s", ErrUnknownTarget, cmd.Target)
	}

	current, err := r.repo.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, fmt.Errorf("failed to load order %d: %w", cmd.OrderID, err)
	}

	next, err := fn(current, cmd)
	if err != nil {
		return Order{}, err
	}

	saved, err := r.repo.Save(ctx, next)
	if err != nil {
		return Order{}, fmt.Errorf("failed to save order %d: %w", cmd.OrderID, err)
	}

	r.logger.Info("Order updated",
		zap.Int64("order_id", cmd.OrderID),
		zap.String("from", string(current.Status)),
		zap.String("to", string(saved.Status)))

	return saved, nil
}

// UpdateAll applies commands in order and stops at the first failure so a
// webhook-driven fan-out never half-applies silently.
func (r *UpdaterRegistry) UpdateAll(ctx context.Context, cmds []UpdateCommand) ([]Order, error) {
	results := make([]Order, 0, len(cmds))
	for _, cmd := range cmds {
		o, err := r.Update(ctx, cmd)
		if err != nil {
			return results, err
		}
		results = append(results, o)
	}
	return results, nil
}
