package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/order"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/payment"
)

// CreatePayment inserts a pending payment and fills in its id.
func (s *Store) CreatePayment(ctx context.Context, p *payment.Payment) error {
	return sqlx.GetContext(ctx, s.ext(ctx), p,
		`INSERT INTO payments (checkout_id, buyer_id, amount, method, method_group, pg_key, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		 RETURNING *`,
		p.CheckoutID, p.BuyerID, p.Amount, p.Method, p.MethodGroup, p.PGKey, p.Status)
}

func (s *Store) FindPaymentByID(ctx context.Context, id int64) (payment.Payment, error) {
	var p payment.Payment
	err := sqlx.GetContext(ctx, s.ext(ctx), &p,
		`SELECT * FROM payments WHERE id = $1`, id)
	if noRows(err) {
		return payment.Payment{}, fmt.Errorf("%w: %d", payment.ErrPaymentNotFound, id)
	}
	if err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

// FindPaymentByPGKey loads the payment addressed by its PG correlation key.
// With forUpdate the row is locked inside the ambient transaction, which
// serializes concurrent webhook deliveries for the same payment.
func (s *Store) FindPaymentByPGKey(ctx context.Context, pgKey string, forUpdate bool) (payment.Payment, error) {
	query := `SELECT * FROM payments WHERE pg_key = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var p payment.Payment
	err := sqlx.GetContext(ctx, s.ext(ctx), &p, query, pgKey)
	if noRows(err) {
		return payment.Payment{}, fmt.Errorf("%w: pg key %s", payment.ErrPaymentNotFound, pgKey)
	}
	if err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

func (s *Store) UpdatePaymentPGKey(ctx context.Context, paymentID int64, pgKey string) error {
	_, err := s.ext(ctx).ExecContext(ctx,
		`UPDATE payments SET pg_key = $1, updated_at = NOW() WHERE id = $2`,
		pgKey, paymentID)
	return err
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, paymentID int64, status payment.Status) error {
	_, err := s.ext(ctx).ExecContext(ctx,
		`UPDATE payments SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, paymentID)
	return err
}

// CreateBill inserts the bill shell for a payment.
func (s *Store) CreateBill(ctx context.Context, b *payment.Bill) error {
	return sqlx.GetContext(ctx, s.ext(ctx), b,
		`INSERT INTO payment_bills (payment_id, pg_key, pg_tx_ref, payload, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NOW(), NOW())
		 RETURNING *`,
		b.PaymentID, b.PGKey, b.PGTxRef, b.Payload)
}

// FindBillByPaymentID loads the bill carrying the PG correlation state.
func (s *Store) FindBillByPaymentID(ctx context.Context, paymentID int64) (payment.Bill, error) {
	var b payment.Bill
	err := sqlx.GetContext(ctx, s.ext(ctx), &b,
		`SELECT * FROM payment_bills WHERE payment_id = $1`, paymentID)
	if noRows(err) {
		return payment.Bill{}, fmt.Errorf("bill not found for payment %d", paymentID)
	}
	if err != nil {
		return payment.Bill{}, err
	}
	return b, nil
}

// UpdateBillResult records the latest gateway transaction reference and raw
// payload on the payment's bill.
func (s *Store) UpdateBillResult(ctx context.Context, paymentID int64, pgTxRef string, payload []byte) error {
	_, err := s.ext(ctx).ExecContext(ctx,
		`UPDATE payment_bills SET pg_tx_ref = $1, payload = $2, updated_at = NOW() WHERE payment_id = $3`,
		pgTxRef, payload, paymentID)
	return err
}

// SaveShippingSnapshot freezes the destination for the whole checkout.
func (s *Store) SaveShippingSnapshot(ctx context.Context, paymentID int64, info order.ShippingInfo) error {
	_, err := s.ext(ctx).ExecContext(ctx,
		`INSERT INTO shipping_snapshots (payment_id, receiver, phone, zip_code, address, address_detail, request_note, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 ON CONFLICT (payment_id) DO NOTHING`,
		paymentID, info.Receiver, info.Phone, info.ZipCode, info.Address, info.Detail, info.RequestNote)
	return err
}

// SaveRefundAccount stores the refund destination snapshot for account
// payments.
func (s *Store) SaveRefundAccount(ctx context.Context, paymentID int64, account payment.RefundAccount) error {
	_, err := s.ext(ctx).ExecContext(ctx,
		`INSERT INTO refund_accounts (payment_id, bank_code, account_number, holder_name, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (payment_id) DO UPDATE
		 SET bank_code = EXCLUDED.bank_code,
		     account_number = EXCLUDED.account_number,
		     holder_name = EXCLUDED.holder_name`,
		paymentID, account.BankCode, account.AccountNumber, account.HolderName)
	return err
}

// FetchRefundAccountInfo loads the buyer's registered refund destination.
func (s *Store) FetchRefundAccountInfo(ctx context.Context, buyerID int64) (payment.RefundAccount, error) {
	var account payment.RefundAccount
	err := sqlx.GetContext(ctx, s.ext(ctx), &account,
		`SELECT bank_code, account_number, holder_name FROM buyer_refund_accounts WHERE buyer_id = $1`,
		buyerID)
	if noRows(err) {
		return payment.RefundAccount{}, fmt.Errorf("refund account not registered for buyer %d", buyerID)
	}
	if err != nil {
		return payment.RefundAccount{}, err
	}
	return account, nil
}

// SaveVirtualAccount persists the PG-issued virtual account number.
// Redelivered webhooks upsert the same row.
func (s *Store) SaveVirtualAccount(ctx context.Context, paymentID, buyerID int64, accountNumber string) error {
	_, err := s.ext(ctx).ExecContext(ctx,
		`INSERT INTO virtual_accounts (payment_id, buyer_id, account_number, created_at)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (payment_id) DO UPDATE SET account_number = EXCLUDED.account_number`,
		paymentID, buyerID, accountNumber)
	return err
}

// IsEventProcessed reports whether the webhook delivery was already applied.
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var count int
	err := sqlx.GetContext(ctx, s.ext(ctx), &count,
		`SELECT COUNT(*) FROM processed_events WHERE event_id = $1`, eventID)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkEventProcessed records the delivery id; committing alongside the
// state change makes the whole delivery exactly-once.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.ext(ctx).ExecContext(ctx,
		`INSERT INTO processed_events (event_id, event_type, processed_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType)
	return err
}
