package store

import (
	"context"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/order"
)

// Record writes the seller-side settlement row for one issued order. The
// payout is the item total minus the seller's share of the discounts plus
// the shipping fee. The unique order_id constraint makes retries exactly
// once.
func (s *Store) Record(ctx context.Context, o order.Order) error {
	var platformCost, sellerCost int64
	for _, d := range o.Discounts {
		platformCost += d.PlatformCost
		sellerCost += d.SellerCost
	}
	payout := o.ItemTotal - sellerCost + o.ShippingFee

	_, err := s.ext(ctx).ExecContext(ctx,
		`INSERT INTO settlements (order_id, payment_id, seller_id, item_total, discount,
		        platform_cost, seller_cost, shipping_fee, payout_amount, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		 ON CONFLICT (order_id) DO NOTHING`,
		o.ID, o.PaymentID, o.SellerID, o.ItemTotal, o.Discount,
		platformCost, sellerCost, o.ShippingFee, payout)
	return err
}
