package payment

import (
	"context"
	"fmt"
)

// Orchestrator is the per-method-family payment contract.
type Orchestrator interface {
	MethodGroup() MethodGroup
	DoPay(ctx context.Context, req CheckoutRequest) (CheckoutResult, error)
	DoPayFailed(ctx context.Context, paymentID int64) error
	DoPayRefund(ctx context.Context, tx PGTransaction, sheet RefundSheet) error
}

// Router dispatches to the orchestrator for a payment-method family. The
// table is built once at startup from explicit registrations; an unknown
// group is a configuration error, never retried.
type Router struct {
	table map[MethodGroup]Orchestrator
}

func NewRouter(orchestrators ...Orchestrator) *Router {
	table := make(map[MethodGroup]Orchestrator, len(orchestrators))
	for _, o := range orchestrators {
		table[o.MethodGroup()] = o
	}
	return &Router{table: table}
}

// Resolve returns the orchestrator for the method group.
func (r *Router) Resolve(group MethodGroup) (Orchestrator, error) {
	o, ok := r.table[group]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethodGroup, group)
	}
	return o, nil
}
