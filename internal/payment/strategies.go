package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CardOrchestrator is the plain template: steps 1–5, no extra side
// effects, settlement driven entirely by webhooks.
type CardOrchestrator struct {
	baseOrchestrator
}

func NewCardOrchestrator(deps Deps) *CardOrchestrator {
	return &CardOrchestrator{baseOrchestrator: newBase(GroupCard, deps)}
}

// AccountOrchestrator handles bank-transfer and virtual-account payments.
// It snapshots the buyer's refund account at checkout and persists the
// issued virtual-account number when the PG reports it.
type AccountOrchestrator struct {
	baseOrchestrator
	lookup   RefundAccountLookup
	dedup    NotificationDedup
	notifier Notifier
}

func NewAccountOrchestrator(deps Deps, lookup RefundAccountLookup, dedup NotificationDedup, notifier Notifier) *AccountOrchestrator {
	return &AccountOrchestrator{
		baseOrchestrator: newBase(GroupAccount, deps),
		lookup:           lookup,
		dedup:            dedup,
		notifier:         notifier,
	}
}

func (a *AccountOrchestrator) DoPay(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	// the refund account is resolved before anything persists; a buyer
	// without one aborts with no state to clean up
	account, err := a.lookup.FetchRefundAccountInfo(ctx, req.BuyerID)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("failed to fetch refund account: %w", err)
	}

	result, err := a.baseOrchestrator.DoPay(ctx, req)
	if err != nil {
		return CheckoutResult{}, err
	}

	if err := a.deps.Store.SaveRefundAccount(ctx, result.Payment.ID, account); err != nil {
		// the checkout transaction has committed; fail the payment so the
		// stock reservation and pending orders do not leak
		if ferr := a.baseOrchestrator.DoPayFailed(ctx, result.Payment.ID); ferr != nil {
			a.logger.Error("Failed to unwind account checkout",
				zap.Int64("payment_id", result.Payment.ID),
				zap.Error(ferr))
		}
		return CheckoutResult{}, fmt.Errorf("failed to save refund account: %w", err)
	}
	return result, nil
}

// OnGatewayEvent persists the issued virtual-account number before the
// generic status transition and notifies the buyer at most once per day.
func (a *AccountOrchestrator) OnGatewayEvent(ctx context.Context, p Payment, tx PGTransaction) error {
	if tx.VirtualAccount == "" {
		return nil
	}
	if err := a.deps.Store.SaveVirtualAccount(ctx, p.ID, p.BuyerID, tx.VirtualAccount); err != nil {
		return fmt.Errorf("failed to save virtual account: %w", err)
	}

	key := fmt.Sprintf("va-issued:%d:%s", p.ID, time.Now().Format("2006-01-02"))
	first, err := a.dedup.FirstToday(ctx, key)
	if err != nil {
		a.logger.Warn("Virtual account notification dedup unavailable",
			zap.Int64("payment_id", p.ID),
			zap.Error(err))
		return nil
	}
	if !first {
		return nil
	}
	if err := a.notifier.VirtualAccountIssued(ctx, p, tx.VirtualAccount); err != nil {
		// notification is best-effort; reconciliation must not roll back
		a.logger.Error("Failed to publish virtual account notification",
			zap.Int64("payment_id", p.ID),
			zap.Error(err))
	}
	return nil
}

// MileageOrchestrator treats mileage as an immediately settled payment: it
// synthesizes a paid PG transaction and feeds it straight through the
// reconciler, so the caller sees a terminal state synchronously.
type MileageOrchestrator struct {
	baseOrchestrator
	reconciler *Reconciler
}

func NewMileageOrchestrator(deps Deps, reconciler *Reconciler) *MileageOrchestrator {
	return &MileageOrchestrator{
		baseOrchestrator: newBase(GroupMileage, deps),
		reconciler:       reconciler,
	}
}

func (m *MileageOrchestrator) DoPay(ctx context.Context, req CheckoutRequest) (CheckoutResult, error) {
	result, err := m.baseOrchestrator.DoPay(ctx, req)
	if err != nil {
		return CheckoutResult{}, err
	}

	settled := PGTransaction{
		PGKey:  result.Payment.PGKey,
		TxRef:  "MILEAGE-" + result.Payment.PGKey,
		Status: PGPaid,
		Amount: result.Payment.Amount,
	}
	if err := m.reconciler.Apply(ctx, PGEvent{EventID: uuid.New().String(), Transaction: settled}); err != nil {
		return CheckoutResult{}, fmt.Errorf("failed to settle mileage payment: %w", err)
	}

	paid, err := m.deps.Store.FindPaymentByID(ctx, result.Payment.ID)
	if err != nil {
		return CheckoutResult{}, err
	}
	result.Payment = paid
	refreshed, err := m.deps.Orders.FindByPaymentID(ctx, paid.ID)
	if err != nil {
		return CheckoutResult{}, err
	}
	result.Orders = refreshed
	return result, nil
}
