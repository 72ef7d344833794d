package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/discount"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/order"
)

// rig wires the orchestrators against in-memory fakes the way main wires
// them against Redis/Postgres/Kafka.
type rig struct {
	store        *fakeStore
	orders       *fakeOrderRepo
	stock        *fakeStock
	gateway      *fakeGateway
	settlements  *fakeSettlements
	lock         *fakeLock
	dedup        *fakeDedup
	notifier     *fakeNotifier
	refundLookup *fakeRefundLookup
	reconciler   *Reconciler
	router       *Router
}

func newRig(t *testing.T) *rig {
	t.Helper()

	store := newFakeStore()
	orders := newFakeOrderRepo()
	lookup := &fakeLookup{products: map[int64]order.PricedProduct{
		100: {ProductID: 100, UnitPrice: 10000, Snapshot: order.ProductSnapshot{Name: "hoodie", Option: "L"}},
		200: {ProductID: 200, UnitPrice: 20000, Snapshot: order.ProductSnapshot{Name: "sneakers", Option: "270"}},
	}}
	reserver := newFakeStock()
	gateway := newFakeGateway()
	settlements := newFakeSettlements()
	lock := &fakeLock{}
	dedup := newFakeDedup()
	notifier := &fakeNotifier{}

	updater := order.NewUpdaterRegistry(orders)
	deps := Deps{
		Store:       store,
		Orders:      orders,
		Issuer:      order.NewIssuer(lookup),
		Updater:     updater,
		Stock:       reserver,
		Gateway:     gateway,
		Settlements: settlements,
		Discounts:   discount.NewEngine(),
		Lock:        lock,
	}

	reconciler := NewReconciler(store, orders, updater, reserver, lock)
	refundLookup := &fakeRefundLookup{account: RefundAccount{BankCode: "088", AccountNumber: "1002-123", HolderName: "buyer"}}
	account := NewAccountOrchestrator(deps, refundLookup, dedup, notifier)
	reconciler.RegisterHook(GroupAccount, account)

	router := NewRouter(
		NewCardOrchestrator(deps),
		account,
		NewMileageOrchestrator(deps, reconciler),
	)

	return &rig{
		store:        store,
		orders:       orders,
		stock:        reserver,
		gateway:      gateway,
		settlements:  settlements,
		lock:         lock,
		dedup:        dedup,
		notifier:     notifier,
		refundLookup: refundLookup,
		reconciler:   reconciler,
		router:       router,
	}
}

// checkoutRequest is a two-seller cart: 2×10,000 from seller 1 and
// 1×20,000 from seller 2.
func checkoutRequest(group MethodGroup) CheckoutRequest {
	return CheckoutRequest{
		CheckoutID:      "chk-001",
		BuyerID:         42,
		Method:          string(group),
		Group:           group,
		RequestedAmount: 40000,
		Sheet: order.Sheet{
			CheckoutID: "chk-001",
			BuyerID:    42,
			Shipping:   order.ShippingInfo{Receiver: "buyer", Address: "somewhere"},
			Lines: []order.SheetLine{
				{ProductID: 100, StockUnitID: 1001, SellerID: 1, Quantity: 2},
				{ProductID: 200, StockUnitID: 2001, SellerID: 2, Quantity: 1},
			},
		},
	}
}

func TestRouterResolve(t *testing.T) {
	r := newRig(t)

	for _, group := range []MethodGroup{GroupCard, GroupAccount, GroupMileage} {
		o, err := r.router.Resolve(group)
		require.NoError(t, err)
		assert.Equal(t, group, o.MethodGroup())
	}

	_, err := r.router.Resolve(MethodGroup("CRYPTO"))
	assert.ErrorIs(t, err, ErrUnknownMethodGroup)
}

func TestRouterDispatchesToResolvedOrchestrator(t *testing.T) {
	r := newRig(t)

	orch, err := r.router.Resolve(GroupCard)
	require.NoError(t, err)

	result, err := orch.DoPay(context.Background(), checkoutRequest(GroupCard))
	require.NoError(t, err)
	assert.Equal(t, GroupCard, result.Payment.MethodGroup)
}
