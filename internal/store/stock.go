package store

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/stock"
)

// ReserveStockTx holds stock for every item of the payment or none of them.
// Stock unit rows are locked in ascending id order to keep concurrent
// checkouts from deadlocking each other.
func (s *Store) ReserveStockTx(ctx context.Context, paymentID int64, items []stock.Item) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		ext := s.ext(ctx)

		for _, item := range sortedByUnit(items) {
			var counts struct {
				Available int `db:"available"`
				Reserved  int `db:"reserved"`
			}
			err := sqlx.GetContext(ctx, ext, &counts,
				`SELECT available, reserved FROM stock_units WHERE id = $1 FOR UPDATE`,
				item.StockUnitID)
			if err != nil {
				return fmt.Errorf("failed to lock stock unit %d: %w", item.StockUnitID, err)
			}

			if counts.Available-counts.Reserved < item.Quantity {
				return fmt.Errorf("stock unit %d: %w", item.StockUnitID, stock.ErrInsufficientStock)
			}

			if _, err := ext.ExecContext(ctx,
				`UPDATE stock_units SET reserved = reserved + $1, updated_at = NOW() WHERE id = $2`,
				item.Quantity, item.StockUnitID); err != nil {
				return fmt.Errorf("failed to reserve stock unit %d: %w", item.StockUnitID, err)
			}

			if _, err := ext.ExecContext(ctx,
				`INSERT INTO stock_reservations (payment_id, product_id, stock_unit_id, quantity, released, created_at)
				 VALUES ($1, $2, $3, $4, FALSE, NOW())`,
				paymentID, item.ProductID, item.StockUnitID, item.Quantity); err != nil {
				return fmt.Errorf("failed to record reservation for payment %d: %w", paymentID, err)
			}
		}
		return nil
	})
}

// CancelReservationTx releases the open reservation rows for the payment
// and returns what it released. A second call finds nothing open and
// returns an empty slice, so the failure path can retry safely.
func (s *Store) CancelReservationTx(ctx context.Context, paymentID int64) ([]stock.Item, error) {
	var released []stock.Item
	err := s.InTx(ctx, func(ctx context.Context) error {
		ext := s.ext(ctx)

		var rows []struct {
			ProductID   int64 `db:"product_id"`
			StockUnitID int64 `db:"stock_unit_id"`
			Quantity    int   `db:"quantity"`
		}
		err := sqlx.SelectContext(ctx, ext, &rows,
			`SELECT product_id, stock_unit_id, quantity FROM stock_reservations
			 WHERE payment_id = $1 AND released = FALSE
			 ORDER BY stock_unit_id FOR UPDATE`, paymentID)
		if err != nil {
			return fmt.Errorf("failed to load reservations for payment %d: %w", paymentID, err)
		}
		if len(rows) == 0 {
			return nil
		}

		for _, r := range rows {
			if _, err := ext.ExecContext(ctx,
				`UPDATE stock_units SET reserved = reserved - $1, updated_at = NOW() WHERE id = $2`,
				r.Quantity, r.StockUnitID); err != nil {
				return fmt.Errorf("failed to release stock unit %d: %w", r.StockUnitID, err)
			}
			released = append(released, stock.Item{
				ProductID:   r.ProductID,
				StockUnitID: r.StockUnitID,
				Quantity:    r.Quantity,
			})
		}

		if _, err := ext.ExecContext(ctx,
			`UPDATE stock_reservations SET released = TRUE, released_at = NOW()
			 WHERE payment_id = $1 AND released = FALSE`, paymentID); err != nil {
			return fmt.Errorf("failed to close reservations for payment %d: %w", paymentID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// CommitStockTx converts the payment's open reservation into a final
// deduction once the payment settles and returns what it committed.
func (s *Store) CommitStockTx(ctx context.Context, paymentID int64) ([]stock.Item, error) {
	var committed []stock.Item
	err := s.InTx(ctx, func(ctx context.Context) error {
		ext := s.ext(ctx)

		var rows []struct {
			ProductID   int64 `db:"product_id"`
			StockUnitID int64 `db:"stock_unit_id"`
			Quantity    int   `db:"quantity"`
		}
		err := sqlx.SelectContext(ctx, ext, &rows,
			`SELECT product_id, stock_unit_id, quantity FROM stock_reservations
			 WHERE payment_id = $1 AND released = FALSE
			 ORDER BY stock_unit_id FOR UPDATE`, paymentID)
		if err != nil {
			return fmt.Errorf("failed to load reservations for payment %d: %w", paymentID, err)
		}
		if len(rows) == 0 {
			return nil
		}

		for _, r := range rows {
			if _, err := ext.ExecContext(ctx,
				`UPDATE stock_units SET available = available - $1, reserved = reserved - $1, updated_at = NOW() WHERE id = $2`,
				r.Quantity, r.StockUnitID); err != nil {
				return fmt.Errorf("failed to commit stock unit %d: %w", r.StockUnitID, err)
			}
			committed = append(committed, stock.Item{
				ProductID:   r.ProductID,
				StockUnitID: r.StockUnitID,
				Quantity:    r.Quantity,
			})
		}

		if _, err := ext.ExecContext(ctx,
			`UPDATE stock_reservations SET released = TRUE, released_at = NOW()
			 WHERE payment_id = $1 AND released = FALSE`, paymentID); err != nil {
			return fmt.Errorf("failed to close reservations for payment %d: %w", paymentID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func sortedByUnit(items []stock.Item) []stock.Item {
	out := append([]stock.Item(nil), items...)
	sort.Slice(out, func(i, j int) bool { return out[i].StockUnitID < out[j].StockUnitID })
	return out
}
