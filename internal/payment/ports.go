package payment

import (
	"context"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/order"
)

// Store is the persistence port for payments, bills and the snapshots the
// orchestration writes. InTx binds a transaction to the context so one
// checkout (or one webhook delivery) is a single atomic unit of work.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	CreatePayment(ctx context.Context, p *Payment) error
	FindPaymentByID(ctx context.Context, id int64) (Payment, error)
	// FindPaymentByPGKey with forUpdate row-locks the payment inside the
	// ambient transaction, serializing concurrent webhook deliveries.
	FindPaymentByPGKey(ctx context.Context, pgKey string, forUpdate bool) (Payment, error)
	UpdatePaymentPGKey(ctx context.Context, paymentID int64, pgKey string) error
	UpdatePaymentStatus(ctx context.Context, paymentID int64, status Status) error

	CreateBill(ctx context.Context, b *Bill) error
	UpdateBillResult(ctx context.Context, paymentID int64, pgTxRef string, payload []byte) error

	SaveShippingSnapshot(ctx context.Context, paymentID int64, info order.ShippingInfo) error
	SaveRefundAccount(ctx context.Context, paymentID int64, account RefundAccount) error
	SaveVirtualAccount(ctx context.Context, paymentID, buyerID int64, accountNumber string) error

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Issuer creates the per-seller orders for a payment.
type Issuer interface {
	IssueOrders(ctx context.Context, paymentID int64, sheet order.Sheet) ([]order.Order, error)
}

// Updater is the order update strategy resolved by target status.
type Updater interface {
	Update(ctx context.Context, cmd order.UpdateCommand) (order.Order, error)
	UpdateAll(ctx context.Context, cmds []order.UpdateCommand) ([]order.Order, error)
}

// Gateway is the PG adapter. A timed-out call is an unknown outcome that a
// later webhook resolves; it must never be treated as a failure.
type Gateway interface {
	BuildRequest(ctx context.Context, p Payment, orderIDs []int64, totalAmount int64) (GatewayRequest, error)
	GetTransaction(ctx context.Context, pgTxRef string) (PGTransaction, error)
	Refund(ctx context.Context, pgTxRef string, paymentID int64, sheet RefundSheet) error
}

// RefundAccountLookup fetches the buyer's refund destination. Only the
// account/virtual-bank strategy uses it.
type RefundAccountLookup interface {
	FetchRefundAccountInfo(ctx context.Context, buyerID int64) (RefundAccount, error)
}

// SettlementRecorder records the seller-side settlement, exactly once per
// issued order.
type SettlementRecorder interface {
	Record(ctx context.Context, o order.Order) error
}

// LockReleaser drops the checkout lock once a payment reaches a terminal
// state. The checkout lock satisfies it.
type LockReleaser interface {
	Release(ctx context.Context, buyerID int64, productIDs []int64)
}

// NotificationDedup guards same-day duplicate notifications with a
// dedicated idempotency key.
type NotificationDedup interface {
	FirstToday(ctx context.Context, key string) (bool, error)
}

// Notifier publishes buyer-facing notifications (virtual-account issued).
type Notifier interface {
	VirtualAccountIssued(ctx context.Context, p Payment, accountNumber string) error
}

// WebhookHook is a method-group specific step run by the reconciler before
// the generic status transition.
type WebhookHook interface {
	OnGatewayEvent(ctx context.Context, p Payment, tx PGTransaction) error
}
