package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/payment"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
)

// ErrGatewayUnavailable wraps transport-level failures where the outcome at
// the PG is unknown. Callers must not mark a payment failed on this error;
// the webhook or a status poll settles it.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

const defaultTimeout = 10 * time.Second

// Client is the HTTP adapter for the payment gateway.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.NamedLogger("gateway"),
	}
}

// BuildRequest registers the pending payment with the PG and returns the
// payload the storefront uses to open the payment window.
func (c *Client) BuildRequest(ctx context.Context, p payment.Payment, orderIDs []int64, totalAmount int64) (payment.GatewayRequest, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.BuildRequest")
	defer span.End()

	body := map[string]interface{}{
		"pg_key":    p.PGKey,
		"method":    p.Method,
		"amount":    totalAmount,
		"order_ids": orderIDs,
	}

	var resp struct {
		CheckoutURL string `json:"checkout_url"`
	}
	if err := c.post(ctx, "/v1/payments", body, &resp); err != nil {
		return payment.GatewayRequest{}, err
	}

	c.logger.Info("Gateway payment registered",
		zap.Int64("payment_id", p.ID),
		zap.String("pg_key", p.PGKey))

	return payment.GatewayRequest{
		PGKey:       p.PGKey,
		Method:      p.Method,
		Amount:      totalAmount,
		OrderIDs:    orderIDs,
		CheckoutURL: resp.CheckoutURL,
	}, nil
}

// GetTransaction polls the PG for the authoritative transaction state. Used
// by the startup sweep to settle payments whose webhooks were missed.
func (c *Client) GetTransaction(ctx context.Context, pgTxRef string) (payment.PGTransaction, error) {
	ctx, span := util.StartSpan(ctx, "Gateway.GetTransaction")
	defer span.End()

	var resp struct {
		PGKey          string `json:"pg_key"`
		TxRef          string `json:"tx_ref"`
		Status         string `json:"status"`
		Amount         int64  `json:"amount"`
		VirtualAccount string `json:"virtual_account"`
	}
	if err := c.get(ctx, "/v1/transactions/"+pgTxRef, &resp); err != nil {
		return payment.PGTransaction{}, err
	}
	return payment.PGTransaction{
		PGKey:          resp.PGKey,
		TxRef:          resp.TxRef,
		Status:         payment.PGStatus(resp.Status),
		Amount:         resp.Amount,
		VirtualAccount: resp.VirtualAccount,
	}, nil
}

// Refund instructs the PG to move money back. The caller has already
// settled local state; a failure here is surfaced for retry, never rolled
// into order state.
func (c *Client) Refund(ctx context.Context, pgTxRef string, paymentID int64, sheet payment.RefundSheet) error {
	ctx, span := util.StartSpan(ctx, "Gateway.Refund")
	defer span.End()

	lines := make([]map[string]interface{}, 0, len(sheet.Lines))
	for _, l := range sheet.Lines {
		lines = append(lines, map[string]interface{}{
			"order_id": l.OrderID,
			"item_id":  l.ItemID,
			"quantity": l.Quantity,
		})
	}
	body := map[string]interface{}{
		"tx_ref":      pgTxRef,
		"payment_id":  paymentID,
		"full_cancel": sheet.FullCancel,
		"amount":      sheet.Amount,
		"lines":       lines,
	}
	if err := c.post(ctx, "/v1/refunds", body, nil); err != nil {
		return err
	}

	c.logger.Info("Gateway refund requested",
		zap.Int64("payment_id", paymentID),
		zap.String("tx_ref", pgTxRef),
		zap.Bool("full_cancel", sheet.FullCancel))
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode gateway request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// timeouts included: the PG may or may not have acted
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrGatewayUnavailable, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gateway rejected %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}
	return nil
}
