package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/discount"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/money"
	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
)

type policyRow struct {
	ID             int64           `db:"id"`
	Name           string          `db:"name"`
	PolicyGroup    string          `db:"policy_group"`
	Priority       int             `db:"priority"`
	PolicyType     string          `db:"policy_type"`
	Rate           decimal.Decimal `db:"rate"`
	FixedAmount    int64           `db:"fixed_amount"`
	RateTiers      json.RawMessage `db:"rate_tiers"`
	PriceTiers     json.RawMessage `db:"price_tiers"`
	MaxAmount      *int64          `db:"max_amount"`
	MinOrderAmount int64           `db:"min_order_amount"`
	PlatformRatio  decimal.Decimal `db:"platform_ratio"`
	SellerRatio    decimal.Decimal `db:"seller_ratio"`
	ValidFrom      time.Time       `db:"valid_from"`
	ValidUntil     time.Time       `db:"valid_until"`
	LimitCustomer  int64           `db:"limit_per_customer"`
	LimitTotal     int64           `db:"limit_total"`
	ResetPeriod    string          `db:"reset_period"`
}

type tierRow struct {
	Threshold int64  `json:"threshold"`
	Rate      string `json:"rate,omitempty"`
	Amount    int64  `json:"amount,omitempty"`
}

// ActivePolicies loads the discount policies whose validity window covers
// now. Rows that fail value-object validation are skipped, not fatal: one
// misconfigured policy must not block every checkout.
func (s *Store) ActivePolicies(ctx context.Context, now time.Time) ([]discount.Policy, error) {
	var rows []policyRow
	err := sqlx.SelectContext(ctx, s.ext(ctx), &rows,
		`SELECT * FROM discount_policies
		 WHERE enabled = TRUE AND valid_from <= $1 AND valid_until >= $1
		 ORDER BY policy_group, priority, id`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load discount policies: %w", err)
	}

	policies := make([]discount.Policy, 0, len(rows))
	for _, row := range rows {
		p, err := toPolicy(row)
		if err != nil {
			util.GetLogger().Warn("Skipping invalid discount policy",
				zap.Int64("policy_id", row.ID),
				zap.Error(err))
			continue
		}
		policies = append(policies, p)
	}
	return policies, nil
}

func toPolicy(row policyRow) (discount.Policy, error) {
	p := discount.Policy{
		ID:       row.ID,
		Name:     row.Name,
		Group:    discount.Group(row.PolicyGroup),
		Priority: row.Priority,
		Type:     discount.Type(row.PolicyType),
	}

	var err error
	switch p.Type {
	case discount.TypeRate:
		if p.Rate, err = money.NewDiscountRate(row.Rate); err != nil {
			return discount.Policy{}, err
		}
	case discount.TypeFixedPrice:
		if p.Fixed, err = money.NewFixedDiscount(row.FixedAmount); err != nil {
			return discount.Policy{}, err
		}
	case discount.TypeTieredRate:
		if p.RateTiers, err = toRateTiers(row.RateTiers); err != nil {
			return discount.Policy{}, err
		}
	case discount.TypeTieredPrice:
		if p.PriceTiers, err = toPriceTiers(row.PriceTiers); err != nil {
			return discount.Policy{}, err
		}
	default:
		return discount.Policy{}, fmt.Errorf("unknown policy type %q", row.PolicyType)
	}

	if row.MaxAmount != nil {
		max, err := money.NewMaxDiscount(*row.MaxAmount)
		if err != nil {
			return discount.Policy{}, err
		}
		p.Max = &max
	}
	if p.MinOrder, err = money.NewMinOrderAmount(row.MinOrderAmount); err != nil {
		return discount.Policy{}, err
	}
	if p.Share, err = money.NewCostShare(row.PlatformRatio, row.SellerRatio); err != nil {
		return discount.Policy{}, err
	}
	if p.Period, err = money.NewValidPeriod(row.ValidFrom, row.ValidUntil); err != nil {
		return discount.Policy{}, err
	}
	if p.Limit, err = money.NewUsageLimit(row.LimitCustomer, row.LimitTotal, money.ResetPeriod(row.ResetPeriod)); err != nil {
		return discount.Policy{}, err
	}
	return p, nil
}

func toRateTiers(raw json.RawMessage) ([]discount.RateTier, error) {
	var rows []tierRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode rate tiers: %w", err)
	}
	tiers := make([]discount.RateTier, 0, len(rows))
	for _, r := range rows {
		value, err := decimal.NewFromString(r.Rate)
		if err != nil {
			return nil, fmt.Errorf("invalid tier rate %q: %w", r.Rate, err)
		}
		rate, err := money.NewDiscountRate(value)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, discount.RateTier{Threshold: r.Threshold, Rate: rate})
	}
	return tiers, nil
}

func toPriceTiers(raw json.RawMessage) ([]discount.PriceTier, error) {
	var rows []tierRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode price tiers: %w", err)
	}
	tiers := make([]discount.PriceTier, 0, len(rows))
	for _, r := range rows {
		amount, err := money.NewFixedDiscount(r.Amount)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, discount.PriceTier{Threshold: r.Threshold, Amount: amount})
	}
	return tiers, nil
}
