package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/discount"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/order"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/stock"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
)

// CheckoutRequest is a checkout already admitted by the checkout lock.
// Policies are the discount policies eligible for this buyer and cart.
type CheckoutRequest struct {
	CheckoutID      string
	BuyerID         int64
	Method          string
	Group           MethodGroup
	RequestedAmount int64
	Sheet           order.Sheet
	Policies        []discount.Policy
}

// CheckoutResult is what DoPay hands back: the pending payment, the issued
// orders and the request the caller forwards to the PG.
type CheckoutResult struct {
	Payment Payment
	Orders  []order.Order
	Gateway GatewayRequest
}

// Deps bundles the collaborators every orchestrator shares.
type Deps struct {
	Store       Store
	Orders      order.Repository
	Issuer      Issuer
	Updater     Updater
	Stock       stock.Reserver
	Gateway     Gateway
	Settlements SettlementRecorder
	Discounts   *discount.Engine
	Lock        LockReleaser
}

// baseOrchestrator is the template every method family specializes:
// createPayment → savePaymentBill → saveShippingSnapshot → issueOrders →
// buildGatewayRequest, strictly in that order, in one transaction.
type baseOrchestrator struct {
	group  MethodGroup
	deps   Deps
	logger *zap.Logger
}

func newBase(group MethodGroup, deps Deps) baseOrchestrator {
	return baseOrchestrator{
		group:  group,
		deps:   deps,
		logger: util.NamedLogger("payment." + string(group)),
	}
}

func (b baseOrchestrator) MethodGroup() MethodGroup { return b.group }

func (b baseOrchestrator) DoPay(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.DoPay")
	defer span.End()

	var result CheckoutResult
	err := b.deps.Store.InTx(ctx, func(ctx context.Context) error {
		p, err := b.createPayment(ctx, req)
		if err != nil {
			return err
		}
		if err := b.savePaymentBill(ctx, &p); err != nil {
			return err
		}
		if err := b.deps.Store.SaveShippingSnapshot(ctx, p.ID, req.Sheet.Shipping); err != nil {
			return fmt.Errorf("failed to save shipping snapshot: %w", err)
		}
		orders, total, err := b.issueOrders(ctx, p, req)
		if err != nil {
			return err
		}
		if total != req.RequestedAmount {
			return fmt.Errorf("%w: requested %d, priced %d", ErrAmountMismatch, req.RequestedAmount, total)
		}
		gw, err := b.buildGatewayRequest(ctx, p, orders, total)
		if err != nil {
			return err
		}
		result = CheckoutResult{Payment: p, Orders: orders, Gateway: gw}
		return nil
	})
	if err != nil {
		return CheckoutResult{}, err
	}

	util.PaymentsCreatedTotal.WithLabelValues(string(b.group)).Inc()
	b.logger.Info("Checkout orchestrated",
		zap.Int64("payment_id", result.Payment.ID),
		zap.String("checkout_id", req.CheckoutID),
		zap.Int("order_count", len(result.Orders)))
	return result, nil
}

// createPayment persists the pending payment (step 1).
func (b baseOrchestrator) createPayment(ctx context.Context, req CheckoutRequest) (Payment, error) {
	p := Payment{
		CheckoutID:  req.CheckoutID,
		BuyerID:     req.BuyerID,
		Amount:      req.RequestedAmount,
		Method:      req.Method,
		MethodGroup: b.group,
		Status:      StatusPending,
	}
	if err := b.deps.Store.CreatePayment(ctx, &p); err != nil {
		return Payment{}, fmt.Errorf("failed to create payment: %w", err)
	}
	return p, nil
}

// savePaymentBill pre-generates the PG correlation key and stores the bill
// shell (step 2).
func (b baseOrchestrator) savePaymentBill(ctx context.Context, p *Payment) error {
	p.PGKey = uuid.New().String()
	if err := b.deps.Store.UpdatePaymentPGKey(ctx, p.ID, p.PGKey); err != nil {
		return fmt.Errorf("failed to assign pg key: %w", err)
	}
	bill := Bill{PaymentID: p.ID, PGKey: p.PGKey}
	if err := b.deps.Store.CreateBill(ctx, &bill); err != nil {
		return fmt.Errorf("failed to create payment bill: %w", err)
	}
	return nil
}

// issueOrders reserves stock and creates one order per seller (step 4).
// Stock is reserved, never decremented here; the discount engine finalizes
// each order's amounts; settlements are recorded once per issued order.
func (b baseOrchestrator) issueOrders(ctx context.Context, p Payment, req CheckoutRequest) ([]order.Order, int64, error) {
	items := make([]stock.Item, 0, len(req.Sheet.Lines))
	for _, line := range req.Sheet.Lines {
		items = append(items, stock.Item{
			ProductID:   line.ProductID,
			StockUnitID: line.StockUnitID,
			Quantity:    line.Quantity,
		})
	}
	if err := b.deps.Stock.Reserve(ctx, p.ID, items); err != nil {
		return nil, 0, err
	}

	orders, err := b.deps.Issuer.IssueOrders(ctx, p.ID, req.Sheet)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	for i, o := range orders {
		applied := b.deps.Discounts.Apply(o.ItemTotal, req.Policies)
		mapped := make([]order.AppliedDiscount, len(applied))
		for j, a := range applied {
			mapped[j] = order.AppliedDiscount{
				PolicyID:     a.PolicyID,
				Amount:       a.Amount,
				PlatformCost: a.PlatformCost,
				SellerCost:   a.SellerCost,
			}
		}
		discounted, err := o.WithDiscounts(mapped)
		if err != nil {
			return nil, 0, err
		}
		saved, err := b.deps.Orders.Save(ctx, discounted)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to save order: %w", err)
		}
		if err := b.deps.Settlements.Record(ctx, saved); err != nil {
			return nil, 0, fmt.Errorf("failed to record settlement: %w", err)
		}
		orders[i] = saved
		total += saved.GrandTotal
	}

	util.OrdersIssuedTotal.Add(float64(len(orders)))
	return orders, total, nil
}

// buildGatewayRequest produces the payload the caller hands to the PG
// (step 5).
func (b baseOrchestrator) buildGatewayRequest(ctx context.Context, p Payment, orders []order.Order, total int64) (GatewayRequest, error) {
	orderIDs := make([]int64, len(orders))
	for i, o := range orders {
		orderIDs[i] = o.ID
	}

	start := time.Now()
	gw, err := b.deps.Gateway.BuildRequest(ctx, p, orderIDs, total)
	util.GatewayRequestLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return GatewayRequest{}, fmt.Errorf("failed to build gateway request: %w", err)
	}
	return gw, nil
}

// DoPayFailed is the terminal failure path: payment FAILED, reservation
// released, orders failed, lock dropped. Every step is idempotent because
// this path may run more than once for the same payment.
func (b baseOrchestrator) DoPayFailed(ctx context.Context, paymentID int64) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.DoPayFailed")
	defer span.End()

	return b.deps.Store.InTx(ctx, func(ctx context.Context) error {
		p, err := b.deps.Store.FindPaymentByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status != StatusFailed {
			if err := b.deps.Store.UpdatePaymentStatus(ctx, p.ID, StatusFailed); err != nil {
				return fmt.Errorf("failed to mark payment %d failed: %w", p.ID, err)
			}
			util.PaymentsFailedTotal.Inc()
		}

		if err := b.deps.Stock.CancelReservation(ctx, p.ID); err != nil {
			return err
		}

		orders, err := b.deps.Orders.FindByPaymentID(ctx, p.ID)
		if err != nil {
			return err
		}
		now := time.Now()
		for _, o := range orders {
			if o.Status != order.StatusPending {
				continue
			}
			if _, err := b.deps.Updater.Update(ctx, order.UpdateCommand{
				OrderID: o.ID,
				Target:  order.StatusFailed,
				At:      now,
			}); err != nil {
				return err
			}
		}
		b.releaseLock(ctx, p, orders)
		return nil
	})
}

// DoPayRefund rejects double refunds, marks the payment fully or partially
// refunded, fans the refund out to the order ledger and only then
// instructs the PG to move the money.
func (b baseOrchestrator) DoPayRefund(ctx context.Context, tx PGTransaction, sheet RefundSheet) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.DoPayRefund")
	defer span.End()

	var payment Payment
	err := b.deps.Store.InTx(ctx, func(ctx context.Context) error {
		p, err := b.deps.Store.FindPaymentByPGKey(ctx, tx.PGKey, true)
		if err != nil {
			return err
		}
		if p.Status == StatusRefunded {
			return fmt.Errorf("%w: payment %d", ErrAlreadyRefunded, p.ID)
		}
		payment = p

		next := StatusPartialRefunded
		if sheet.FullCancel {
			next = StatusRefunded
		}

		if err := b.refundOrders(ctx, p, sheet); err != nil {
			return err
		}
		if err := b.deps.Store.UpdatePaymentStatus(ctx, p.ID, next); err != nil {
			return fmt.Errorf("failed to mark payment %d refunded: %w", p.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := b.deps.Gateway.Refund(ctx, tx.TxRef, payment.ID, sheet); err != nil {
		return fmt.Errorf("gateway refund for payment %d failed: %w", payment.ID, err)
	}

	kind := "partial"
	if sheet.FullCancel {
		kind = "full"
	}
	util.PaymentsRefundedTotal.WithLabelValues(kind).Inc()
	return nil
}

func (b baseOrchestrator) refundOrders(ctx context.Context, p Payment, sheet RefundSheet) error {
	now := time.Now()

	if sheet.FullCancel {
		orders, err := b.deps.Orders.FindByPaymentID(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if o.Status == order.StatusCancelled || o.Status == order.StatusFailed {
				continue
			}
			quantities := make(map[int64]int)
			for _, it := range o.Items {
				if it.Effective() > 0 {
					quantities[it.ID] = it.Effective()
				}
			}
			if len(quantities) == 0 {
				continue
			}
			if _, err := b.deps.Updater.Update(ctx, order.UpdateCommand{
				OrderID:    o.ID,
				Target:     order.StatusCancelled,
				Quantities: quantities,
				Refund:     true,
				At:         now,
			}); err != nil {
				return err
			}
			util.OrdersCancelledTotal.Inc()
		}
		return nil
	}

	byOrder := make(map[int64]map[int64]int)
	for _, line := range sheet.Lines {
		if byOrder[line.OrderID] == nil {
			byOrder[line.OrderID] = make(map[int64]int)
		}
		byOrder[line.OrderID][line.ItemID] += line.Quantity
	}
	for orderID, quantities := range byOrder {
		if _, err := b.deps.Updater.Update(ctx, order.UpdateCommand{
			OrderID:    orderID,
			Target:     order.StatusCancelled,
			Quantities: quantities,
			Refund:     true,
			At:         now,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (b baseOrchestrator) releaseLock(ctx context.Context, p Payment, orders []order.Order) {
	var productIDs []int64
	for _, o := range orders {
		for _, it := range o.Items {
			productIDs = append(productIDs, it.ProductID)
		}
	}
	b.deps.Lock.Release(ctx, p.BuyerID, productIDs)
}
