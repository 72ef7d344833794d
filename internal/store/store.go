package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/order"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

type txKey struct{}

// InTx runs fn inside one transaction bound to the context. Nested calls
// join the outer transaction; the outermost call commits or rolls back.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ext returns the ambient transaction when one is bound, the pool otherwise.
func (s *Store) ext(ctx context.Context) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

type productRow struct {
	ID       int64  `db:"id"`
	Price    int64  `db:"price"`
	Name     string `db:"name"`
	Option   string `db:"option_name"`
	ImageURL string `db:"image_url"`
}

// PricedProducts resolves current prices and presentation snapshots for the
// given product ids.
func (s *Store) PricedProducts(ctx context.Context, ids []int64) (map[int64]order.PricedProduct, error) {
	if len(ids) == 0 {
		return map[int64]order.PricedProduct{}, nil
	}

	query, args, err := sqlx.In(
		`SELECT id, price, name, option_name, image_url FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var rows []productRow
	if err := sqlx.SelectContext(ctx, s.ext(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	out := make(map[int64]order.PricedProduct, len(rows))
	for _, r := range rows {
		out[r.ID] = order.PricedProduct{
			ProductID: r.ID,
			UnitPrice: r.Price,
			Snapshot: order.ProductSnapshot{
				Name:     r.Name,
				Option:   r.Option,
				ImageURL: r.ImageURL,
			},
		}
	}
	return out, nil
}

// StockCount is one stock unit's current counters, used to seed the Redis
// fast path at startup.
type StockCount struct {
	StockUnitID int64 `db:"id"`
	Available   int   `db:"available"`
	Reserved    int   `db:"reserved"`
}

// StockCounts lists every stock unit with its counters.
func (s *Store) StockCounts(ctx context.Context) ([]StockCount, error) {
	var counts []StockCount
	err := sqlx.SelectContext(ctx, s.ext(ctx), &counts,
		`SELECT id, available, reserved FROM stock_units ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load stock counts: %w", err)
	}
	return counts, nil
}

// helper shared by the payment and order stores
func noRows(err error) bool {
	return err == sql.ErrNoRows
}
