package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder(t *testing.T, items ...OrderItem) Order {
	t.Helper()
	if len(items) == 0 {
		items = []OrderItem{{
			ID:        1,
			ProductID: 100,
			Ordered:   3,
			UnitPrice: 10000,
			LineTotal: 30000,
			Status:    ItemStatusActive,
		}}
	}
	o, err := New("chk-1", 7, 55, 42, items, ShippingInfo{Receiver: "tester"}, 2500, time.Now())
	require.NoError(t, err)
	o.ID = 1
	for i := range o.Items {
		if o.Items[i].ID == 0 {
			o.Items[i].ID = int64(i + 1)
		}
	}
	return o
}

func TestForwardTransitions(t *testing.T) {
	now := time.Now()
	o := testOrder(t)

	o, err := o.Confirm(now)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, o.Status)
	assert.NotNil(t, o.ConfirmedAt)

	o, err = o.Prepare(now)
	require.NoError(t, err)
	o, err = o.Ship(now)
	require.NoError(t, err)
	assert.NotNil(t, o.ShippedAt)
	o, err = o.Deliver(now)
	require.NoError(t, err)
	o, err = o.Complete(now)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, o.Status)
	assert.NotNil(t, o.CompletedAt)
}

func TestInvalidTransitionsFailWithNamedErrors(t *testing.T) {
	now := time.Now()
	o := testOrder(t)

	// skips are rejected
	_, err := o.Ship(now)
	assert.ErrorIs(t, err, ErrNotShippable)
	_, err = o.Deliver(now)
	assert.ErrorIs(t, err, ErrNotDeliverable)
	_, err = o.Complete(now)
	assert.ErrorIs(t, err, ErrNotCompletable)

	confirmed, err := o.Confirm(now)
	require.NoError(t, err)

	// backward attempt
	_, err = confirmed.Confirm(now)
	assert.ErrorIs(t, err, ErrNotConfirmable)

	// completed orders reject everything with already-completed
	shipped, _ := confirmed.Prepare(now)
	shipped, _ = shipped.Ship(now)
	delivered, _ := shipped.Deliver(now)
	completed, err := delivered.Complete(now)
	require.NoError(t, err)

	_, err = completed.Cancel(now)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
	_, err = completed.Confirm(now)
	assert.ErrorIs(t, err, ErrAlreadyCompleted)
}

func TestCancelOnlyFromPendingOrConfirmed(t *testing.T) {
	now := time.Now()
	o := testOrder(t)

	cancelled, err := o.Cancel(now)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, int64(0), cancelled.ItemTotal)

	confirmed, _ := o.Confirm(now)
	_, err = confirmed.Cancel(now)
	assert.NoError(t, err)

	preparing, _ := confirmed.Prepare(now)
	_, err = preparing.Cancel(now)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestQuantityLedger(t *testing.T) {
	item := OrderItem{ID: 1, Ordered: 3, UnitPrice: 10000, LineTotal: 30000, Status: ItemStatusActive}

	after, err := item.Cancel(1)
	require.NoError(t, err)
	after, err = after.Refund(1)
	require.NoError(t, err)

	assert.Equal(t, 1, after.Effective())
	assert.Equal(t, int64(10000), after.LineTotal)
	assert.Equal(t, ItemStatusActive, after.Status)
	assert.LessOrEqual(t, after.Cancelled+after.Refunded, after.Ordered)

	// exceeding the remainder is rejected
	_, err = after.Refund(2)
	assert.ErrorIs(t, err, ErrExceedsAvailable)
	_, err = after.Cancel(0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	// consuming the last unit flips the item to cancelled
	final, err := after.Refund(1)
	require.NoError(t, err)
	assert.Equal(t, ItemStatusCancelled, final.Status)
	assert.Equal(t, int64(0), final.LineTotal)
}

func TestPartialCancelRecomputesTotals(t *testing.T) {
	now := time.Now()
	o := testOrder(t)
	require.Equal(t, int64(32500), o.GrandTotal) // 30000 + 2500 shipping

	partial, err := o.CancelItems(map[int64]int{1: 2}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), partial.ItemTotal)
	assert.Equal(t, int64(12500), partial.GrandTotal)
	assert.Equal(t, StatusPending, partial.Status, "order stays open while quantity remains")

	full, err := partial.CancelItems(map[int64]int{1: 1}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, full.Status, "fully consumed order cancels itself")
}

func TestCancelUnknownItem(t *testing.T) {
	o := testOrder(t)
	_, err := o.CancelItems(map[int64]int{999: 1}, time.Now())
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestWithDiscountsRecomputesGrandTotal(t *testing.T) {
	o := testOrder(t)

	discounted, err := o.WithDiscounts([]AppliedDiscount{
		{PolicyID: 1, Amount: 3000, PlatformCost: 1500, SellerCost: 1500},
		{PolicyID: 2, Amount: 2000, PlatformCost: 2000, SellerCost: 0},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5000), discounted.Discount)
	assert.Equal(t, int64(27500), discounted.GrandTotal) // 30000 - 5000 + 2500

	_, err = o.WithDiscounts([]AppliedDiscount{{PolicyID: 3, Amount: 99999}})
	assert.ErrorIs(t, err, ErrNegativeTotal)
}

type fakeRepo struct {
	orders map[int64]Order
}

func newFakeRepo(orders ...Order) *fakeRepo {
	r := &fakeRepo{orders: make(map[int64]Order)}
	for _, o := range orders {
		r.orders[o.ID] = o
	}
	return r
}

func (r *fakeRepo) FindByID(_ context.Context, id int64) (Order, error) {
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrItemNotFound
	}
	return o, nil
}

func (r *fakeRepo) FindByPaymentID(_ context.Context, paymentID int64) ([]Order, error) {
	var out []Order
	for _, o := range r.orders {
		if o.PaymentID == paymentID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeRepo) Save(_ context.Context, o Order) (Order, error) {
	r.orders[o.ID] = o
	return o, nil
}

func TestUpdaterRegistryResolvesByTargetStatus(t *testing.T) {
	o := testOrder(t)
	repo := newFakeRepo(o)
	registry := NewUpdaterRegistry(repo)
	ctx := context.Background()

	updated, err := registry.Update(ctx, UpdateCommand{OrderID: o.ID, Target: StatusConfirmed, At: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, updated.Status)

	// persisted snapshot reflects the transition
	stored, err := repo.FindByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)

	_, err = registry.Update(ctx, UpdateCommand{OrderID: o.ID, Target: Status("BOGUS")})
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestUpdaterRegistryRefundCommand(t *testing.T) {
	o := testOrder(t)
	repo := newFakeRepo(o)
	registry := NewUpdaterRegistry(repo)

	updated, err := registry.Update(context.Background(), UpdateCommand{
		OrderID:    o.ID,
		Target:     StatusCancelled,
		Quantities: map[int64]int{1: 3},
		Refund:     true,
		At:         time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, updated.Status)
	assert.Equal(t, 3, updated.Items[0].Refunded)
	assert.Equal(t, 0, updated.Items[0].Cancelled)
}
