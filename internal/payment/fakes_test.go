package payment

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/order"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/stock"
)

// fakeStore is an in-memory Store. InTx runs the function directly; the
// atomicity under test is the logic, not the database.
type fakeStore struct {
	mu               sync.Mutex
	nextPaymentID    int64
	nextBillID       int64
	payments         map[int64]Payment
	byPGKey          map[string]int64
	bills            map[int64]*Bill
	shipping         map[int64]order.ShippingInfo
	refundAccounts   map[int64]RefundAccount
	refundAccountErr error
	virtualAccounts  map[int64]string
	processed        map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payments:        make(map[int64]Payment),
		byPGKey:         make(map[string]int64),
		bills:           make(map[int64]*Bill),
		shipping:        make(map[int64]order.ShippingInfo),
		refundAccounts:  make(map[int64]RefundAccount),
		virtualAccounts: make(map[int64]string),
		processed:       make(map[string]bool),
	}
}

func (s *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (s *fakeStore) CreatePayment(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPaymentID++
	p.ID = s.nextPaymentID
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	s.payments[p.ID] = *p
	return nil
}

func (s *fakeStore) FindPaymentByID(_ context.Context, id int64) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return Payment{}, fmt.Errorf("%w: %d", ErrPaymentNotFound, id)
	}
	return p, nil
}

func (s *fakeStore) FindPaymentByPGKey(_ context.Context, pgKey string, _ bool) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byPGKey[pgKey]
	if !ok {
		return Payment{}, fmt.Errorf("%w: pg key %s", ErrPaymentNotFound, pgKey)
	}
	return s.payments[id], nil
}

func (s *fakeStore) UpdatePaymentPGKey(_ context.Context, paymentID int64, pgKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.payments[paymentID]
	p.PGKey = pgKey
	s.payments[paymentID] = p
	s.byPGKey[pgKey] = paymentID
	return nil
}

func (s *fakeStore) UpdatePaymentStatus(_ context.Context, paymentID int64, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.payments[paymentID]
	p.Status = status
	p.UpdatedAt = time.Now()
	s.payments[paymentID] = p
	return nil
}

func (s *fakeStore) CreateBill(_ context.Context, b *Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextBillID++
	b.ID = s.nextBillID
	copied := *b
	s.bills[b.PaymentID] = &copied
	return nil
}

func (s *fakeStore) UpdateBillResult(_ context.Context, paymentID int64, pgTxRef string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bill, ok := s.bills[paymentID]; ok {
		bill.PGTxRef = pgTxRef
		bill.Payload = payload
	}
	return nil
}

func (s *fakeStore) SaveShippingSnapshot(_ context.Context, paymentID int64, info order.ShippingInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shipping[paymentID] = info
	return nil
}

func (s *fakeStore) SaveRefundAccount(_ context.Context, paymentID int64, account RefundAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refundAccountErr != nil {
		return s.refundAccountErr
	}
	s.refundAccounts[paymentID] = account
	return nil
}

func (s *fakeStore) SaveVirtualAccount(_ context.Context, paymentID, _ int64, accountNumber string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.virtualAccounts[paymentID] = accountNumber
	return nil
}

func (s *fakeStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[eventID], nil
}

func (s *fakeStore) MarkEventProcessed(_ context.Context, eventID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[eventID] = true
	return nil
}

// fakeOrderRepo assigns ids the way the real store does.
type fakeOrderRepo struct {
	mu         sync.Mutex
	nextID     int64
	nextItemID int64
	orders     map[int64]order.Order
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{orders: make(map[int64]order.Order)}
}

func (r *fakeOrderRepo) FindByID(_ context.Context, id int64) (order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return order.Order{}, fmt.Errorf("order not found: %d", id)
	}
	return o, nil
}

func (r *fakeOrderRepo) FindByPaymentID(_ context.Context, paymentID int64) ([]order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []order.Order
	for _, o := range r.orders {
		if o.PaymentID == paymentID {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *fakeOrderRepo) Save(_ context.Context, o order.Order) (order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o.ID == 0 {
		r.nextID++
		o.ID = r.nextID
	}
	for i := range o.Items {
		if o.Items[i].ID == 0 {
			r.nextItemID++
			o.Items[i].ID = r.nextItemID
		}
	}
	r.orders[o.ID] = o
	return o, nil
}

type fakeLookup struct {
	products map[int64]order.PricedProduct
}

func (f *fakeLookup) PricedProducts(_ context.Context, ids []int64) (map[int64]order.PricedProduct, error) {
	out := make(map[int64]order.PricedProduct)
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

type fakeStock struct {
	mu         sync.Mutex
	reserveErr error
	reserved   map[int64][]stock.Item
	cancelled  map[int64]int
	committed  map[int64]int
}

func newFakeStock() *fakeStock {
	return &fakeStock{
		reserved:  make(map[int64][]stock.Item),
		cancelled: make(map[int64]int),
		committed: make(map[int64]int),
	}
}

func (f *fakeStock) Reserve(_ context.Context, paymentID int64, items []stock.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reserveErr != nil {
		return f.reserveErr
	}
	f.reserved[paymentID] = items
	return nil
}

func (f *fakeStock) CancelReservation(_ context.Context, paymentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled[paymentID]++
	return nil
}

func (f *fakeStock) CommitReservation(_ context.Context, paymentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed[paymentID]++
	return nil
}

type fakeGateway struct {
	mu      sync.Mutex
	refunds []string
	txs     map[string]PGTransaction
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{txs: make(map[string]PGTransaction)}
}

func (f *fakeGateway) BuildRequest(_ context.Context, p Payment, orderIDs []int64, totalAmount int64) (GatewayRequest, error) {
	return GatewayRequest{PGKey: p.PGKey, Method: p.Method, Amount: totalAmount, OrderIDs: orderIDs}, nil
}

func (f *fakeGateway) GetTransaction(_ context.Context, pgTxRef string) (PGTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.txs[pgTxRef], nil
}

func (f *fakeGateway) Refund(_ context.Context, pgTxRef string, _ int64, _ RefundSheet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, pgTxRef)
	return nil
}

type fakeSettlements struct {
	mu       sync.Mutex
	recorded map[int64]int
}

func newFakeSettlements() *fakeSettlements {
	return &fakeSettlements{recorded: make(map[int64]int)}
}

func (f *fakeSettlements) Record(_ context.Context, o order.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded[o.SellerID]++
	return nil
}

type fakeLock struct {
	mu       sync.Mutex
	released int
}

func (f *fakeLock) Release(_ context.Context, _ int64, _ []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

type fakeRefundLookup struct {
	account RefundAccount
	err     error
}

func (f *fakeRefundLookup) FetchRefundAccountInfo(_ context.Context, _ int64) (RefundAccount, error) {
	if f.err != nil {
		return RefundAccount{}, f.err
	}
	return f.account, nil
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeDedup() *fakeDedup { return &fakeDedup{seen: make(map[string]bool)} }

func (f *fakeDedup) FirstToday(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	notified []string
}

func (f *fakeNotifier) VirtualAccountIssued(_ context.Context, _ Payment, accountNumber string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, accountNumber)
	return nil
}
