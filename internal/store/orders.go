package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/order"
)

// Orders persists order aggregates over the orders and order_items tables.
// Applied discounts travel as one JSONB column; item snapshots and the
// shipping destination are flattened into columns.
type Orders struct {
	s *Store
}

func NewOrders(s *Store) *Orders {
	return &Orders{s: s}
}

type orderRow struct {
	ID          int64           `db:"id"`
	CheckoutID  string          `db:"checkout_id"`
	PaymentID   int64           `db:"payment_id"`
	SellerID    int64           `db:"seller_id"`
	BuyerID     int64           `db:"buyer_id"`
	Status      string          `db:"status"`
	Receiver    string          `db:"receiver"`
	Phone       string          `db:"phone"`
	ZipCode     string          `db:"zip_code"`
	Address     string          `db:"address"`
	Detail      string          `db:"address_detail"`
	RequestNote string          `db:"request_note"`
	ItemTotal   int64           `db:"item_total"`
	Discount    int64           `db:"discount"`
	ShippingFee int64           `db:"shipping_fee"`
	GrandTotal  int64           `db:"grand_total"`
	Discounts   json.RawMessage `db:"discounts"`
	OrderedAt   time.Time       `db:"ordered_at"`
	ConfirmedAt *time.Time      `db:"confirmed_at"`
	ShippedAt   *time.Time      `db:"shipped_at"`
	DeliveredAt *time.Time      `db:"delivered_at"`
	CompletedAt *time.Time      `db:"completed_at"`
	CancelledAt *time.Time      `db:"cancelled_at"`
}

type orderItemRow struct {
	ID          int64  `db:"id"`
	OrderID     int64  `db:"order_id"`
	ProductID   int64  `db:"product_id"`
	StockUnitID int64  `db:"stock_unit_id"`
	Ordered     int    `db:"ordered_quantity"`
	Cancelled   int    `db:"cancelled_quantity"`
	Refunded    int    `db:"refunded_quantity"`
	UnitPrice   int64  `db:"unit_price"`
	LineTotal   int64  `db:"line_total"`
	Status      string `db:"status"`
	Name        string `db:"product_name"`
	Option      string `db:"product_option"`
	ImageURL    string `db:"product_image_url"`
}

func (r *Orders) FindByID(ctx context.Context, id int64) (order.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, r.s.ext(ctx), &row,
		`SELECT * FROM orders WHERE id = $1`, id)
	if noRows(err) {
		return order.Order{}, fmt.Errorf("order not found: %d", id)
	}
	if err != nil {
		return order.Order{}, err
	}

	items, err := r.itemsFor(ctx, []int64{id})
	if err != nil {
		return order.Order{}, err
	}
	return toOrder(row, items[id])
}

func (r *Orders) FindByPaymentID(ctx context.Context, paymentID int64) ([]order.Order, error) {
	var rows []orderRow
	err := sqlx.SelectContext(ctx, r.s.ext(ctx), &rows,
		`SELECT * FROM orders WHERE payment_id = $1 ORDER BY id`, paymentID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	items, err := r.itemsFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	orders := make([]order.Order, 0, len(rows))
	for _, row := range rows {
		o, err := toOrder(row, items[row.ID])
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// Save inserts a new aggregate or rewrites an existing one, items included,
// and returns the persisted snapshot with ids assigned.
func (r *Orders) Save(ctx context.Context, o order.Order) (order.Order, error) {
	saved := o
	saved.Items = append([]order.OrderItem(nil), o.Items...)

	err := r.s.InTx(ctx, func(ctx context.Context) error {
		ext := r.s.ext(ctx)

		discounts, err := json.Marshal(o.Discounts)
		if err != nil {
			return fmt.Errorf("failed to encode discounts: %w", err)
		}

		if o.ID == 0 {
			err = sqlx.GetContext(ctx, ext, &saved.ID,
				`INSERT INTO orders (checkout_id, payment_id, seller_id, buyer_id, status,
				        receiver, phone, zip_code, address, address_detail, request_note,
				        item_total, discount, shipping_fee, grand_total, discounts, ordered_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
				 RETURNING id`,
				o.CheckoutID, o.PaymentID, o.SellerID, o.BuyerID, o.Status,
				o.Shipping.Receiver, o.Shipping.Phone, o.Shipping.ZipCode,
				o.Shipping.Address, o.Shipping.Detail, o.Shipping.RequestNote,
				o.ItemTotal, o.Discount, o.ShippingFee, o.GrandTotal, discounts, o.OrderedAt)
			if err != nil {
				return fmt.Errorf("failed to insert order: %w", err)
			}
		} else {
			_, err = ext.ExecContext(ctx,
				`UPDATE orders SET status = $1, item_total = $2, discount = $3, grand_total = $4,
				        discounts = $5, confirmed_at = $6, shipped_at = $7, delivered_at = $8,
				        completed_at = $9, cancelled_at = $10
				 WHERE id = $11`,
				o.Status, o.ItemTotal, o.Discount, o.GrandTotal, discounts,
				o.ConfirmedAt, o.ShippedAt, o.DeliveredAt, o.CompletedAt, o.CancelledAt, o.ID)
			if err != nil {
				return fmt.Errorf("failed to update order %d: %w", o.ID, err)
			}
		}

		for i, it := range saved.Items {
			if it.ID == 0 {
				err = sqlx.GetContext(ctx, ext, &saved.Items[i].ID,
					`INSERT INTO order_items (order_id, product_id, stock_unit_id,
					        ordered_quantity, cancelled_quantity, refunded_quantity,
					        unit_price, line_total, status,
					        product_name, product_option, product_image_url)
					 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
					 RETURNING id`,
					saved.ID, it.ProductID, it.StockUnitID,
					it.Ordered, it.Cancelled, it.Refunded,
					it.UnitPrice, it.LineTotal, it.Status,
					it.Snapshot.Name, it.Snapshot.Option, it.Snapshot.ImageURL)
				if err != nil {
					return fmt.Errorf("failed to insert order item: %w", err)
				}
			} else {
				_, err = ext.ExecContext(ctx,
					`UPDATE order_items SET cancelled_quantity = $1, refunded_quantity = $2,
					        line_total = $3, status = $4
					 WHERE id = $5`,
					it.Cancelled, it.Refunded, it.LineTotal, it.Status, it.ID)
				if err != nil {
					return fmt.Errorf("failed to update order item %d: %w", it.ID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return order.Order{}, err
	}
	return saved, nil
}

func (r *Orders) itemsFor(ctx context.Context, orderIDs []int64) (map[int64][]order.OrderItem, error) {
	query, args, err := sqlx.In(
		`SELECT * FROM order_items WHERE order_id IN (?) ORDER BY id`, orderIDs)
	if err != nil {
		return nil, err
	}
	query = r.s.db.Rebind(query)

	var rows []orderItemRow
	if err := sqlx.SelectContext(ctx, r.s.ext(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	out := make(map[int64][]order.OrderItem)
	for _, row := range rows {
		out[row.OrderID] = append(out[row.OrderID], order.OrderItem{
			ID:          row.ID,
			ProductID:   row.ProductID,
			StockUnitID: row.StockUnitID,
			Ordered:     row.Ordered,
			Cancelled:   row.Cancelled,
			Refunded:    row.Refunded,
			UnitPrice:   row.UnitPrice,
			LineTotal:   row.LineTotal,
			Status:      order.ItemStatus(row.Status),
			Snapshot: order.ProductSnapshot{
				Name:     row.Name,
				Option:   row.Option,
				ImageURL: row.ImageURL,
			},
		})
	}
	return out, nil
}

func toOrder(row orderRow, items []order.OrderItem) (order.Order, error) {
	var discounts []order.AppliedDiscount
	if len(row.Discounts) > 0 {
		if err := json.Unmarshal(row.Discounts, &discounts); err != nil {
			return order.Order{}, fmt.Errorf("failed to decode discounts for order %d: %w", row.ID, err)
		}
	}

	return order.Order{
		ID:         row.ID,
		CheckoutID: row.CheckoutID,
		PaymentID:  row.PaymentID,
		SellerID:   row.SellerID,
		BuyerID:    row.BuyerID,
		Status:     order.Status(row.Status),
		Items:      items,
		Shipping: order.ShippingInfo{
			Receiver:    row.Receiver,
			Phone:       row.Phone,
			ZipCode:     row.ZipCode,
			Address:     row.Address,
			Detail:      row.Detail,
			RequestNote: row.RequestNote,
		},
		ItemTotal:   row.ItemTotal,
		Discount:    row.Discount,
		ShippingFee: row.ShippingFee,
		GrandTotal:  row.GrandTotal,
		Discounts:   discounts,
		OrderedAt:   row.OrderedAt,
		ConfirmedAt: row.ConfirmedAt,
		ShippedAt:   row.ShippedAt,
		DeliveredAt: row.DeliveredAt,
		CompletedAt: row.CompletedAt,
		CancelledAt: row.CancelledAt,
	}, nil
}
