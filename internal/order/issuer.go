package order

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
)

// SheetLine is one pre-issuance line item of a checkout.
type SheetLine struct {
	ProductID   int64 `json:"product_id"`
	StockUnitID int64 `json:"stock_unit_id"`
	SellerID    int64 `json:"seller_id"`
	Quantity    int   `json:"quantity"`
}

// Sheet is the order-sheet input consumed to create orders: a buyer's cart
// snapshot submitted for payment. It may span multiple sellers.
type Sheet struct {
	CheckoutID  string       `json:"checkout_id"`
	BuyerID     int64        `json:"buyer_id"`
	Shipping    ShippingInfo `json:"shipping"`
	ShippingFee int64        `json:"shipping_fee"`
	Lines       []SheetLine  `json:"lines"`
}

// ProductIDs returns the distinct product ids on the sheet.
func (s Sheet) ProductIDs() []int64 {
	seen := make(map[int64]struct{}, len(s.Lines))
	ids := make([]int64, 0, len(s.Lines))
	for _, l := range s.Lines {
		if _, ok := seen[l.ProductID]; ok {
			continue
		}
		seen[l.ProductID] = struct{}{}
		ids = append(ids, l.ProductID)
	}
	return ids
}

// PricedProduct is the point-in-time product lookup result used to price
// and freeze a line at issuance.
type PricedProduct struct {
	ProductID int64
	UnitPrice int64
	Snapshot  ProductSnapshot
}

// ProductLookup resolves live product prices and snapshots by id.
type ProductLookup interface {
	PricedProducts(ctx context.Context, ids []int64) (map[int64]PricedProduct, error)
}

// Issuer turns one order sheet into one pending order per distinct seller,
// each line priced against the product lookup at issuance time.
type Issuer struct {
	lookup ProductLookup
	logger *zap.Logger
}

func NewIssuer(lookup ProductLookup) *Issuer {
	return &Issuer{lookup: lookup, logger: util.GetLogger()}
}

// IssueOrders builds the per-seller orders for a payment. Seller order is
// deterministic (ascending seller id) so retries produce identical output.
func (iss *Issuer) IssueOrders(ctx context.Context, paymentID int64, sheet Sheet) ([]Order, error) {
	ctx, span := util.StartSpan(ctx, "Issuer.IssueOrders")
	defer span.End()

	products, err := iss.lookup.PricedProducts(ctx, sheet.ProductIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to price order sheet: %w", err)
	}

	bySeller := make(map[int64][]OrderItem)
	for _, line := range sheet.Lines {
		p, ok := products[line.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %d not found for checkout %s", line.ProductID, sheet.CheckoutID)
		}
		item := OrderItem{
			ProductID:   line.ProductID,
			StockUnitID: line.StockUnitID,
			Ordered:     line.Quantity,
			UnitPrice:   p.UnitPrice,
			LineTotal:   p.UnitPrice * int64(line.Quantity),
			Status:      ItemStatusActive,
			Snapshot:    p.Snapshot,
		}
		bySeller[line.SellerID] = append(bySeller[line.SellerID], item)
	}

	sellerIDs := make([]int64, 0, len(bySeller))
	for id := range bySeller {
		sellerIDs = append(sellerIDs, id)
	}
	sort.Slice(sellerIDs, func(i, j int) bool { return sellerIDs[i] < sellerIDs[j] })

	now := time.Now()
	orders := make([]Order, 0, len(sellerIDs))
	for _, sellerID := range sellerIDs {
		o, err := New(sheet.CheckoutID, paymentID, sellerID, sheet.BuyerID, bySeller[sellerID], sheet.Shipping, sheet.ShippingFee, now)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	iss.logger.Info("Orders issued",
		zap.String("checkout_id", sheet.CheckoutID),
		zap.Int64("payment_id", paymentID),
		zap.Int("order_count", len(orders)))

	return orders, nil
}
