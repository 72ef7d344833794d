package stock

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
)

// ErrInsufficientStock is the sentinel for a reservation that cannot be
// satisfied. Callers turn it into a rejected checkout, not a retry.
var ErrInsufficientStock = errors.New("insufficient stock")

// Item is one stock-unit reservation line.
type Item struct {
	ProductID   int64
	StockUnitID int64
	Quantity    int
}

// Reserver reserves stock for a payment, releases it again on failure and
// commits it on settlement. Every operation is idempotent per payment id:
// the failure and settlement paths may run more than once for the same
// payment under retry.
type Reserver interface {
	Reserve(ctx context.Context, paymentID int64, items []Item) error
	CancelReservation(ctx context.Context, paymentID int64) error
	CommitReservation(ctx context.Context, paymentID int64) error
}

// Counter is the Redis fast path: an atomic check-and-reserve per stock
// unit, its inverse, and the final deduction.
type Counter interface {
	ReserveStock(ctx context.Context, stockUnitID int64, quantity int) (bool, error)
	ReleaseStock(ctx context.Context, stockUnitID int64, quantity int) error
	CommitStock(ctx context.Context, stockUnitID int64, quantity int) error
}

// ReservationStore is the authoritative record: reservation rows keyed by
// payment id over row-locked stock counts.
type ReservationStore interface {
	ReserveStockTx(ctx context.Context, paymentID int64, items []Item) error
	// CancelReservationTx releases the open reservation rows for the
	// payment and returns what it released; a second call returns nothing.
	CancelReservationTx(ctx context.Context, paymentID int64) ([]Item, error)
	// CommitStockTx converts the open reservation into a deduction and
	// returns what it committed; a second call returns nothing.
	CommitStockTx(ctx context.Context, paymentID int64) ([]Item, error)
}

// Service gates reservations through Redis counters for fast rejection and
// records them in Postgres as the source of truth.
type Service struct {
	store  ReservationStore
	redis  Counter
	logger *zap.Logger
}

func NewService(store ReservationStore, redis Counter) *Service {
	return &Service{store: store, redis: redis, logger: util.NamedLogger("stock")}
}

// Reserve holds stock for every item or none of them.
func (s *Service) Reserve(ctx context.Context, paymentID int64, items []Item) error {
	ctx, span := util.StartSpan(ctx, "stock.Reserve")
	defer span.End()

	reserved := make([]Item, 0, len(items))
	for _, item := range items {
		ok, err := s.redis.ReserveStock(ctx, item.StockUnitID, item.Quantity)
		if err != nil {
			// Redis is an optimization; the row-locked DB pass below
			// remains the authority.
			s.logger.Warn("Redis stock gate unavailable",
				zap.Int64("stock_unit_id", item.StockUnitID),
				zap.Error(err))
			continue
		}
		if !ok {
			util.StockReservationsFailed.WithLabelValues("insufficient").Inc()
			s.rollbackCounters(ctx, reserved)
			return fmt.Errorf("stock unit %d: %w", item.StockUnitID, ErrInsufficientStock)
		}
		reserved = append(reserved, item)
	}

	if err := s.store.ReserveStockTx(ctx, paymentID, items); err != nil {
		s.rollbackCounters(ctx, reserved)
		if errors.Is(err, ErrInsufficientStock) {
			util.StockReservationsFailed.WithLabelValues("insufficient").Inc()
			return err
		}
		util.StockReservationsFailed.WithLabelValues("db_error").Inc()
		return fmt.Errorf("failed to reserve stock for payment %d: %w", paymentID, err)
	}
	return nil
}

// CancelReservation releases whatever the payment still holds. Safe to
// call repeatedly: only rows released by this call are pushed back to the
// Redis counters.
func (s *Service) CancelReservation(ctx context.Context, paymentID int64) error {
	ctx, span := util.StartSpan(ctx, "stock.CancelReservation")
	defer span.End()

	released, err := s.store.CancelReservationTx(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("failed to cancel reservation for payment %d: %w", paymentID, err)
	}
	s.rollbackCounters(ctx, released)

	if len(released) > 0 {
		s.logger.Info("Stock reservation released",
			zap.Int64("payment_id", paymentID),
			zap.Int("item_count", len(released)))
	}
	return nil
}

// CommitReservation turns the payment's reservation into a final
// deduction once the payment settles. Safe to call repeatedly.
func (s *Service) CommitReservation(ctx context.Context, paymentID int64) error {
	ctx, span := util.StartSpan(ctx, "stock.CommitReservation")
	defer span.End()

	committed, err := s.store.CommitStockTx(ctx, paymentID)
	if err != nil {
		return fmt.Errorf("failed to commit reservation for payment %d: %w", paymentID, err)
	}
	for _, item := range committed {
		if err := s.redis.CommitStock(ctx, item.StockUnitID, item.Quantity); err != nil {
			s.logger.Error("Failed to commit Redis stock counter",
				zap.Int64("stock_unit_id", item.StockUnitID),
				zap.Error(err))
		}
	}

	if len(committed) > 0 {
		s.logger.Info("Stock reservation committed",
			zap.Int64("payment_id", paymentID),
			zap.Int("item_count", len(committed)))
	}
	return nil
}

func (s *Service) rollbackCounters(ctx context.Context, items []Item) {
	for _, item := range items {
		if err := s.redis.ReleaseStock(ctx, item.StockUnitID, item.Quantity); err != nil {
			s.logger.Error("Failed to release Redis stock counter",
				zap.Int64("stock_unit_id", item.StockUnitID),
				zap.Error(err))
		}
	}
}
