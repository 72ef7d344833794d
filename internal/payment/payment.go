package payment

import (
	"encoding/json"
	"errors"
	"time"
)

// MethodGroup is the payment-method family used for strategy dispatch.
type MethodGroup string

const (
	GroupCard    MethodGroup = "CARD"
	GroupAccount MethodGroup = "ACCOUNT"
	GroupMileage MethodGroup = "MILEAGE"
)

// Status is the payment lifecycle state.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusInProgress      Status = "IN_PROGRESS"
	StatusPaid            Status = "PAID"
	StatusFailed          Status = "FAILED"
	StatusPartialRefunded Status = "PARTIAL_REFUNDED"
	StatusRefunded        Status = "REFUNDED"
)

var (
	ErrUnknownMethodGroup = errors.New("no payment orchestrator registered for method group")
	ErrAlreadyRefunded    = errors.New("payment is already fully refunded")
	ErrAmountMismatch     = errors.New("requested amount does not match the priced order total")
	ErrPaymentNotFound    = errors.New("payment not found")
)

// Payment is the money-side record of a checkout. Orders reference it by
// id; it never points back.
type Payment struct {
	ID          int64       `db:"id" json:"id"`
	CheckoutID  string      `db:"checkout_id" json:"checkout_id"`
	BuyerID     int64       `db:"buyer_id" json:"buyer_id"`
	Amount      int64       `db:"amount" json:"amount"`
	Method      string      `db:"method" json:"method"`
	MethodGroup MethodGroup `db:"method_group" json:"method_group"`
	PGKey       string      `db:"pg_key" json:"pg_key"`
	Status      Status      `db:"status" json:"status"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// Bill holds the PG-specific correlation key, transaction reference and
// raw response payload for a payment.
type Bill struct {
	ID        int64           `db:"id" json:"id"`
	PaymentID int64           `db:"payment_id" json:"payment_id"`
	PGKey     string          `db:"pg_key" json:"pg_key"`
	PGTxRef   string          `db:"pg_tx_ref" json:"pg_tx_ref"`
	Payload   json.RawMessage `db:"payload" json:"payload,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// RefundAccount is the account snapshot taken for virtual-bank refunds.
type RefundAccount struct {
	BankCode      string `db:"bank_code" json:"bank_code"`
	AccountNumber string `db:"account_number" json:"account_number"`
	HolderName    string `db:"holder_name" json:"holder_name"`
}

// PGStatus is the only part of the external webhook payload the engine
// depends on.
type PGStatus string

const (
	PGProcessing PGStatus = "processing"
	PGPaid       PGStatus = "paid"
	PGFailed     PGStatus = "failed"
)

// PGTransaction is the reconciliation view of a gateway-reported event.
type PGTransaction struct {
	PGKey          string          `json:"pg_key"`
	TxRef          string          `json:"tx_ref"`
	Status         PGStatus        `json:"status"`
	Amount         int64           `json:"amount"`
	VirtualAccount string          `json:"virtual_account,omitempty"`
	RawPayload     json.RawMessage `json:"raw_payload,omitempty"`
}

// RefundLine names one refunded quantity within one order.
type RefundLine struct {
	OrderID  int64 `json:"order_id"`
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

// RefundSheet describes a refund request. FullCancel refunds everything
// the payment covers; otherwise Lines names the partial quantities.
type RefundSheet struct {
	FullCancel bool         `json:"full_cancel"`
	Amount     int64        `json:"amount"`
	Lines      []RefundLine `json:"lines,omitempty"`
}

// GatewayRequest is the payload the caller hands to the PG to start the
// external payment flow.
type GatewayRequest struct {
	PGKey       string  `json:"pg_key"`
	Method      string  `json:"method"`
	Amount      int64   `json:"amount"`
	OrderIDs    []int64 `json:"order_ids"`
	CheckoutURL string  `json:"checkout_url,omitempty"`
}
