package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/checkout"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/discount"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/order"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/payment"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/stock"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
)

// ErrCheckoutInFlight rejects a checkout while another attempt for the same
// buyer and cart holds the lock. Clients surface it as "already processing".
var ErrCheckoutInFlight = errors.New("checkout already in progress for this cart")

// PolicySource loads the currently valid discount policies.
type PolicySource interface {
	ActivePolicies(ctx context.Context, now time.Time) ([]discount.Policy, error)
}

// UsageCounter tracks per-policy redemption counts within reset windows.
type UsageCounter interface {
	GetUsage(ctx context.Context, policyID, buyerID int64, windowKey string) (customerCount, totalCount int64, err error)
	IncrementUsage(ctx context.Context, policyID, buyerID int64, windowKey string) error
}

// PaymentReader serves the read side for the API.
type PaymentReader interface {
	FindPaymentByID(ctx context.Context, id int64) (payment.Payment, error)
	FindBillByPaymentID(ctx context.Context, paymentID int64) (payment.Bill, error)
}

// CheckoutService is the application-facing entry point: it admits one
// checkout per buyer and cart, selects the eligible discounts, dispatches
// to the method-family orchestrator and settles usage counters.
type CheckoutService struct {
	lock     *checkout.Lock
	policies PolicySource
	usage    UsageCounter
	engine   *discount.Engine
	router   *payment.Router
	payments PaymentReader
	orders   order.Repository
	updater  payment.Updater
	logger   *zap.Logger
}

func NewCheckoutService(
	lock *checkout.Lock,
	policies PolicySource,
	usage UsageCounter,
	engine *discount.Engine,
	router *payment.Router,
	payments PaymentReader,
	orders order.Repository,
	updater payment.Updater,
) *CheckoutService {
	return &CheckoutService{
		lock:     lock,
		policies: policies,
		usage:    usage,
		engine:   engine,
		router:   router,
		payments: payments,
		orders:   orders,
		updater:  updater,
		logger:   util.NamedLogger("service.checkout"),
	}
}

// Checkout runs one checkout end to end. The lock is held through the
// external payment flow and released by the reconciler when the payment
// reaches a terminal state; TTL expiry is the backstop.
func (s *CheckoutService) Checkout(ctx context.Context, req payment.CheckoutRequest) (payment.CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Checkout")
	defer span.End()

	util.CheckoutAttemptsTotal.Inc()

	productIDs := req.Sheet.ProductIDs()
	acquired, err := s.lock.TryAcquire(ctx, req.BuyerID, productIDs)
	if err != nil {
		return payment.CheckoutResult{}, err
	}
	if !acquired {
		util.CheckoutRejectedTotal.WithLabelValues("in_flight").Inc()
		return payment.CheckoutResult{}, ErrCheckoutInFlight
	}

	req.Policies, err = s.eligiblePolicies(ctx, req)
	if err != nil {
		s.lock.Release(ctx, req.BuyerID, productIDs)
		return payment.CheckoutResult{}, err
	}

	orch, err := s.router.Resolve(req.Group)
	if err != nil {
		s.lock.Release(ctx, req.BuyerID, productIDs)
		util.CheckoutRejectedTotal.WithLabelValues("unknown_method").Inc()
		return payment.CheckoutResult{}, err
	}

	result, err := orch.DoPay(ctx, req)
	if err != nil {
		// the orchestrator persisted nothing or unwound what it did;
		// drop the lock so the buyer can retry
		s.lock.Release(ctx, req.BuyerID, productIDs)
		s.countRejection(err)
		return payment.CheckoutResult{}, err
	}

	s.recordUsage(ctx, req, result)

	s.logger.Info("Checkout accepted",
		zap.String("checkout_id", req.CheckoutID),
		zap.Int64("payment_id", result.Payment.ID),
		zap.Int("order_count", len(result.Orders)))
	return result, nil
}

// eligiblePolicies loads the active policies, reads their usage counters
// and hands the eligibility predicate to the discount engine. The amount
// checked here is the cart total; the engine re-checks each order's floor
// against the order amount when it applies the discount.
func (s *CheckoutService) eligiblePolicies(ctx context.Context, req payment.CheckoutRequest) ([]discount.Policy, error) {
	now := time.Now()
	active, err := s.policies.ActivePolicies(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load discount policies: %w", err)
	}
	if len(active) == 0 {
		return nil, nil
	}

	usage := make(map[int64]discount.Usage, len(active))
	readable := make([]discount.Policy, 0, len(active))
	for _, p := range active {
		window := p.Limit.Reset().WindowKey(now)
		customer, total, err := s.usage.GetUsage(ctx, p.ID, req.BuyerID, window)
		if err != nil {
			// unreadable counters disable the policy rather than risk
			// exceeding its limit
			s.logger.Warn("Usage counter unavailable, skipping policy",
				zap.Int64("policy_id", p.ID),
				zap.Error(err))
			continue
		}
		usage[p.ID] = discount.Usage{CustomerCount: customer, TotalCount: total}
		readable = append(readable, p)
	}
	return s.engine.Filter(readable, req.RequestedAmount, now, usage), nil
}

// recordUsage bumps the counters once per distinct applied policy.
func (s *CheckoutService) recordUsage(ctx context.Context, req payment.CheckoutRequest, result payment.CheckoutResult) {
	now := time.Now()
	windows := make(map[int64]string, len(req.Policies))
	for _, p := range req.Policies {
		windows[p.ID] = p.Limit.Reset().WindowKey(now)
	}

	counted := make(map[int64]struct{})
	for _, o := range result.Orders {
		for _, d := range o.Discounts {
			if _, ok := counted[d.PolicyID]; ok {
				continue
			}
			counted[d.PolicyID] = struct{}{}
			if err := s.usage.IncrementUsage(ctx, d.PolicyID, req.BuyerID, windows[d.PolicyID]); err != nil {
				s.logger.Error("Failed to record discount usage",
					zap.Int64("policy_id", d.PolicyID),
					zap.Error(err))
			}
		}
	}
}

func (s *CheckoutService) countRejection(err error) {
	switch {
	case errors.Is(err, stock.ErrInsufficientStock):
		util.CheckoutRejectedTotal.WithLabelValues("insufficient_stock").Inc()
	case errors.Is(err, payment.ErrAmountMismatch):
		util.CheckoutRejectedTotal.WithLabelValues("amount_mismatch").Inc()
	default:
		util.CheckoutRejectedTotal.WithLabelValues("error").Inc()
	}
}

// FailCheckout handles a storefront-reported payment-window failure: the
// payment fails, stock frees and the lock drops. Idempotent.
func (s *CheckoutService) FailCheckout(ctx context.Context, paymentID int64) error {
	p, err := s.payments.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return err
	}
	orch, err := s.router.Resolve(p.MethodGroup)
	if err != nil {
		return err
	}
	return orch.DoPayFailed(ctx, paymentID)
}

// Refund runs a full or partial refund for a settled payment.
func (s *CheckoutService) Refund(ctx context.Context, paymentID int64, sheet payment.RefundSheet) error {
	p, err := s.payments.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return err
	}
	bill, err := s.payments.FindBillByPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	orch, err := s.router.Resolve(p.MethodGroup)
	if err != nil {
		return err
	}

	tx := payment.PGTransaction{PGKey: p.PGKey, TxRef: bill.PGTxRef}
	return orch.DoPayRefund(ctx, tx, sheet)
}

// GetPayment returns the payment with its orders.
func (s *CheckoutService) GetPayment(ctx context.Context, paymentID int64) (payment.Payment, []order.Order, error) {
	p, err := s.payments.FindPaymentByID(ctx, paymentID)
	if err != nil {
		return payment.Payment{}, nil, err
	}
	orders, err := s.orders.FindByPaymentID(ctx, p.ID)
	if err != nil {
		return payment.Payment{}, nil, err
	}
	return p, orders, nil
}

// GetOrder returns one order aggregate.
func (s *CheckoutService) GetOrder(ctx context.Context, orderID int64) (order.Order, error) {
	return s.orders.FindByID(ctx, orderID)
}

// UpdateOrderStatus advances one order along its fulfillment lifecycle
// (confirm, prepare, ship, deliver, complete, cancel).
func (s *CheckoutService) UpdateOrderStatus(ctx context.Context, cmd order.UpdateCommand) (order.Order, error) {
	return s.updater.Update(ctx, cmd)
}
