package order

import (
	"errors"
	"fmt"
	"time"
)

// Status is the order lifecycle state. Transitions are forward-only;
// CANCELLED is reachable from PENDING or CONFIRMED, FAILED from PENDING.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusPreparing Status = "PREPARING"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

var (
	ErrNotConfirmable   = errors.New("order is not confirmable")
	ErrNotPreparable    = errors.New("order is not preparable")
	ErrNotShippable     = errors.New("order is not shippable")
	ErrNotDeliverable   = errors.New("order is not deliverable")
	ErrNotCompletable   = errors.New("order is not completable")
	ErrNotCancellable   = errors.New("order is not cancellable")
	ErrNotFailable      = errors.New("order is not failable")
	ErrAlreadyCompleted = errors.New("order is already completed")
	ErrExceedsAvailable = errors.New("quantity exceeds available effective quantity")
	ErrInvalidQuantity  = errors.New("quantity must be greater than 0")
	ErrNegativeTotal    = errors.New("order grand total must not be negative")
	ErrItemNotFound     = errors.New("order item not found")
)

// ItemStatus tracks the per-line state.
type ItemStatus string

const (
	ItemStatusActive    ItemStatus = "ACTIVE"
	ItemStatusCancelled ItemStatus = "CANCELLED"
)

// ProductSnapshot freezes the product presentation at order time. Catalog
// edits after checkout must not change what the buyer ordered.
type ProductSnapshot struct {
	Name     string `db:"product_name" json:"name"`
	Option   string `db:"product_option" json:"option"`
	ImageURL string `db:"product_image_url" json:"image_url"`
}

// ShippingInfo is the destination frozen at order time.
type ShippingInfo struct {
	Receiver    string `db:"receiver" json:"receiver"`
	Phone       string `db:"phone" json:"phone"`
	ZipCode     string `db:"zip_code" json:"zip_code"`
	Address     string `db:"address" json:"address"`
	Detail      string `db:"address_detail" json:"address_detail"`
	RequestNote string `db:"request_note" json:"request_note"`
}

// AppliedDiscount records one policy's contribution to an order's discount
// together with its platform/seller cost split.
type AppliedDiscount struct {
	PolicyID     int64 `json:"policy_id"`
	Amount       int64 `json:"amount"`
	PlatformCost int64 `json:"platform_cost"`
	SellerCost   int64 `json:"seller_cost"`
}

// OrderItem is one ordered line with its quantity ledger. The invariant
// ordered >= cancelled + refunded >= 0 holds after every operation.
type OrderItem struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	StockUnitID int64           `json:"stock_unit_id"`
	Ordered     int             `json:"ordered_quantity"`
	Cancelled   int             `json:"cancelled_quantity"`
	Refunded    int             `json:"refunded_quantity"`
	UnitPrice   int64           `json:"unit_price"`
	LineTotal   int64           `json:"line_total"`
	Status      ItemStatus      `json:"status"`
	Snapshot    ProductSnapshot `json:"snapshot"`
}

// Effective is the quantity still standing: ordered − cancelled − refunded.
func (i OrderItem) Effective() int {
	return i.Ordered - i.Cancelled - i.Refunded
}

// Cancel reduces the effective quantity and returns a new item snapshot.
func (i OrderItem) Cancel(qty int) (OrderItem, error) {
	return i.consume(qty, func(it *OrderItem) { it.Cancelled += qty })
}

// Refund reduces the effective quantity through the refund ledger.
func (i OrderItem) Refund(qty int) (OrderItem, error) {
	return i.consume(qty, func(it *OrderItem) { it.Refunded += qty })
}

func (i OrderItem) consume(qty int, apply func(*OrderItem)) (OrderItem, error) {
	if qty <= 0 {
		return OrderItem{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, qty)
	}
	if qty > i.Effective() {
		return OrderItem{}, fmt.Errorf("%w: requested %d, available %d", ErrExceedsAvailable, qty, i.Effective())
	}
	next := i
	apply(&next)
	next.LineTotal = next.UnitPrice * int64(next.Effective())
	if next.Effective() == 0 {
		next.Status = ItemStatusCancelled
	}
	return next, nil
}

// Order is one seller's share of a checkout. Mutation happens only through
// transition methods that return a new snapshot; concurrent readers never
// observe a half-updated order.
type Order struct {
	ID          int64             `json:"id"`
	CheckoutID  string            `json:"checkout_id"`
	PaymentID   int64             `json:"payment_id"`
	SellerID    int64             `json:"seller_id"`
	BuyerID     int64             `json:"buyer_id"`
	Status      Status            `json:"status"`
	Items       []OrderItem       `json:"items"`
	Shipping    ShippingInfo      `json:"shipping"`
	ItemTotal   int64             `json:"item_total"`
	Discount    int64             `json:"discount"`
	ShippingFee int64             `json:"shipping_fee"`
	GrandTotal  int64             `json:"grand_total"`
	Discounts   []AppliedDiscount `json:"discounts"`

	OrderedAt   time.Time  `json:"ordered_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// New assembles a pending order and validates the money breakdown:
// grand total = item total − discount + shipping fee, never negative.
func New(checkoutID string, paymentID, sellerID, buyerID int64, items []OrderItem, shipping ShippingInfo, shippingFee int64, orderedAt time.Time) (Order, error) {
	var itemTotal int64
	for _, it := range items {
		itemTotal += it.LineTotal
	}
	o := Order{
		CheckoutID:  checkoutID,
		PaymentID:   paymentID,
		SellerID:    sellerID,
		BuyerID:     buyerID,
		Status:      StatusPending,
		Items:       items,
		Shipping:    shipping,
		ItemTotal:   itemTotal,
		ShippingFee: shippingFee,
		GrandTotal:  itemTotal + shippingFee,
		OrderedAt:   orderedAt,
	}
	if o.GrandTotal < 0 {
		return Order{}, fmt.Errorf("%w: %d", ErrNegativeTotal, o.GrandTotal)
	}
	return o, nil
}

// WithDiscounts returns a snapshot with the applied discounts attached and
// the grand total recomputed.
func (o Order) WithDiscounts(applied []AppliedDiscount) (Order, error) {
	var total int64
	for _, d := range applied {
		total += d.Amount
	}
	next := o
	next.Discounts = append([]AppliedDiscount(nil), applied...)
	next.Discount = total
	next.GrandTotal = next.ItemTotal - total + next.ShippingFee
	if next.GrandTotal < 0 {
		return Order{}, fmt.Errorf("%w: %d", ErrNegativeTotal, next.GrandTotal)
	}
	return next, nil
}

// Confirm moves PENDING → CONFIRMED.
func (o Order) Confirm(now time.Time) (Order, error) {
	if err := o.require(StatusPending, ErrNotConfirmable); err != nil {
		return Order{}, err
	}
	next := o
	next.Status = StatusConfirmed
	next.ConfirmedAt = &now
	return next, nil
}

// Prepare moves CONFIRMED → PREPARING.
func (o Order) Prepare(now time.Time) (Order, error) {
	if err := o.require(StatusConfirmed, ErrNotPreparable); err != nil {
		return Order{}, err
	}
	next := o
	next.Status = StatusPreparing
	return next, nil
}

// Ship moves PREPARING → SHIPPED.
func (o Order) Ship(now time.Time) (Order, error) {
	if err := o.require(StatusPreparing, ErrNotShippable); err != nil {
		return Order{}, err
	}
	next := o
	next.Status = StatusShipped
	next.ShippedAt = &now
	return next, nil
}

// Deliver moves SHIPPED → DELIVERED.
func (o Order) Deliver(now time.Time) (Order, error) {
	if err := o.require(StatusShipped, ErrNotDeliverable); err != nil {
		return Order{}, err
	}
	next := o
	next.Status = StatusDelivered
	next.DeliveredAt = &now
	return next, nil
}

// Complete moves DELIVERED → COMPLETED.
func (o Order) Complete(now time.Time) (Order, error) {
	if err := o.require(StatusDelivered, ErrNotCompletable); err != nil {
		return Order{}, err
	}
	next := o
	next.Status = StatusCompleted
	next.CompletedAt = &now
	return next, nil
}

// Cancel cancels the whole order: every active item's remaining quantity
// goes through the cancel ledger and the order flips to CANCELLED.
func (o Order) Cancel(now time.Time) (Order, error) {
	if !o.cancellable() {
		return Order{}, o.transitionError(ErrNotCancellable)
	}
	next := o
	next.Items = append([]OrderItem(nil), o.Items...)
	for idx, it := range next.Items {
		if it.Effective() == 0 {
			continue
		}
		cancelled, err := it.Cancel(it.Effective())
		if err != nil {
			return Order{}, err
		}
		next.Items[idx] = cancelled
	}
	next.recomputeTotals()
	next.Status = StatusCancelled
	next.CancelledAt = &now
	return next, nil
}

// Fail marks a pending order as failed (payment failure path).
func (o Order) Fail(now time.Time) (Order, error) {
	if err := o.require(StatusPending, ErrNotFailable); err != nil {
		return Order{}, err
	}
	next := o
	next.Status = StatusFailed
	next.CancelledAt = &now
	return next, nil
}

// CancelItems applies partial cancellation quantities keyed by item id.
// When every item ends up fully consumed the order itself is cancelled.
func (o Order) CancelItems(quantities map[int64]int, now time.Time) (Order, error) {
	if !o.cancellable() {
		return Order{}, o.transitionError(ErrNotCancellable)
	}
	return o.consumeItems(quantities, now, OrderItem.Cancel)
}

// RefundItems applies partial refund quantities keyed by item id. A refund
// that consumes every remaining quantity of a still-cancellable order
// cancels the order.
func (o Order) RefundItems(quantities map[int64]int, now time.Time) (Order, error) {
	return o.consumeItems(quantities, now, OrderItem.Refund)
}

func (o Order) consumeItems(quantities map[int64]int, now time.Time, op func(OrderItem, int) (OrderItem, error)) (Order, error) {
	next := o
	next.Items = append([]OrderItem(nil), o.Items...)
	for id, qty := range quantities {
		idx := -1
		for i, it := range next.Items {
			if it.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return Order{}, fmt.Errorf("%w: %d", ErrItemNotFound, id)
		}
		updated, err := op(next.Items[idx], qty)
		if err != nil {
			return Order{}, err
		}
		next.Items[idx] = updated
	}
	next.recomputeTotals()
	if next.fullyConsumed() && next.cancellable() {
		next.Status = StatusCancelled
		next.CancelledAt = &now
	}
	return next, nil
}

func (o *Order) recomputeTotals() {
	var itemTotal int64
	for _, it := range o.Items {
		itemTotal += it.LineTotal
	}
	o.ItemTotal = itemTotal
	if o.Discount > itemTotal {
		o.Discount = itemTotal
	}
	o.GrandTotal = o.ItemTotal - o.Discount + o.ShippingFee
}

func (o Order) fullyConsumed() bool {
	for _, it := range o.Items {
		if it.Effective() > 0 {
			return false
		}
	}
	return true
}

func (o Order) cancellable() bool {
	return o.Status == StatusPending || o.Status == StatusConfirmed
}

func (o Order) require(from Status, failure error) error {
	if o.Status == from {
		return nil
	}
	return o.transitionError(failure)
}

func (o Order) transitionError(failure error) error {
	if o.Status == StatusCompleted {
		return fmt.Errorf("%w: order %d", ErrAlreadyCompleted, o.ID)
	}
	return fmt.Errorf("%w: order %d is %s", failure, o.ID, o.Status)
}
