package discount

import (
	"time"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/money"
)

// Group partitions policies into mutually exclusive families. Within a
// group only one policy applies; across groups discounts stack.
type Group string

const (
	GroupProduct Group = "PRODUCT"
	GroupMember  Group = "MEMBER"
	GroupPayment Group = "PAYMENT"
)

// Type selects the discount formula.
type Type string

const (
	TypeRate        Type = "RATE"
	TypeFixedPrice  Type = "FIXED_PRICE"
	TypeTieredRate  Type = "TIERED_RATE"
	TypeTieredPrice Type = "TIERED_PRICE"
)

// RateTier maps an order-amount threshold to a percentage rate.
type RateTier struct {
	Threshold int64
	Rate      money.DiscountRate
}

// PriceTier maps an order-amount threshold to a fixed discount.
type PriceTier struct {
	Threshold int64
	Amount    money.FixedDiscount
}

// Policy is one discount rule. All parameters are validated value objects,
// so a Policy that exists is a Policy that is internally consistent.
type Policy struct {
	ID       int64
	Name     string
	Group    Group
	Priority int // numerically smaller wins within a group
	Type     Type

	Rate       money.DiscountRate  // TypeRate
	Fixed      money.FixedDiscount // TypeFixedPrice
	RateTiers  []RateTier          // TypeTieredRate, ascending thresholds
	PriceTiers []PriceTier         // TypeTieredPrice, ascending thresholds

	Max      *money.MaxDiscount
	MinOrder money.MinOrderAmount
	Share    money.CostShare
	Period   money.ValidPeriod
	Limit    money.UsageLimit
}

// Usage carries the caller-supplied counters for the active reset window.
type Usage struct {
	CustomerCount int64
	TotalCount    int64
}

// Eligible is a pure predicate: validity window, minimum order amount and
// usage limit, nothing else.
func (p Policy) Eligible(base int64, now time.Time, usage Usage) bool {
	if !p.Period.Contains(now) {
		return false
	}
	if !p.MinOrder.Satisfied(base) {
		return false
	}
	return p.Limit.Allows(usage.CustomerCount, usage.TotalCount)
}
