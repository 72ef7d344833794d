package discount

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ryu-qqq/setof-commerce-sub005/internal/util"
)

// Applied is one policy's final contribution to an order's discount.
type Applied struct {
	PolicyID     int64
	Amount       int64
	PlatformCost int64
	SellerCost   int64
}

// Engine computes discount amounts for a pre-discount order amount under a
// set of policies. It is stateless; eligibility filtering and usage
// counting happen around it.
type Engine struct {
	logger *zap.Logger
}

func NewEngine() *Engine {
	return &Engine{logger: util.GetLogger()}
}

// Filter returns the policies eligible for the amount at now, given the
// usage counters supplied per policy id.
func (e *Engine) Filter(policies []Policy, base int64, now time.Time, usage map[int64]Usage) []Policy {
	eligible := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if p.Eligible(base, now, usage[p.ID]) {
			eligible = append(eligible, p)
		}
	}
	return eligible
}

// Apply picks the winning policy per group, computes each amount, clamps
// the stacked sum to the base amount and splits every applied discount
// into platform/seller cost. The input policies are assumed eligible for
// the buyer; the minimum order floor is re-checked here against this
// order's amount, since a cart-level total can clear a floor that the
// individual order does not.
func (e *Engine) Apply(base int64, policies []Policy) []Applied {
	winners := pickGroupWinners(aboveFloor(policies, base))

	var remaining = base
	applied := make([]Applied, 0, len(winners))
	for _, p := range winners {
		amount := e.amountFor(p, base)
		if amount <= 0 {
			continue
		}
		// stacked discounts can never push the grand total negative
		if amount > remaining {
			amount = remaining
		}
		platform, seller := p.Share.Split(amount)
		applied = append(applied, Applied{
			PolicyID:     p.ID,
			Amount:       amount,
			PlatformCost: platform,
			SellerCost:   seller,
		})
		remaining -= amount
		if remaining == 0 {
			break
		}
	}

	if len(applied) > 0 {
		util.DiscountsAppliedTotal.Add(float64(len(applied)))
		e.logger.Debug("Discounts applied",
			zap.Int64("base_amount", base),
			zap.Int("policy_count", len(applied)))
	}
	return applied
}

// amountFor computes the raw per-policy discount, clamped by the cap.
func (e *Engine) amountFor(p Policy, base int64) int64 {
	var amount int64
	switch p.Type {
	case TypeRate:
		amount = p.Rate.AmountFor(base)
	case TypeFixedPrice:
		amount = p.Fixed.AmountFor(base)
	case TypeTieredRate:
		if tier, ok := matchRateTier(p.RateTiers, base); ok {
			amount = tier.Rate.AmountFor(base)
		}
	case TypeTieredPrice:
		if tier, ok := matchPriceTier(p.PriceTiers, base); ok {
			amount = tier.Amount.AmountFor(base)
		}
	}
	if p.Max != nil {
		amount = p.Max.Clamp(amount)
	}
	return amount
}

// aboveFloor drops policies whose minimum order amount exceeds the base.
func aboveFloor(policies []Policy, base int64) []Policy {
	out := make([]Policy, 0, len(policies))
	for _, p := range policies {
		if p.MinOrder.Satisfied(base) {
			out = append(out, p)
		}
	}
	return out
}

// pickGroupWinners keeps the highest-priority policy per group, ordered
// deterministically (priority, then id) for the stacking pass.
func pickGroupWinners(policies []Policy) []Policy {
	best := make(map[Group]Policy)
	for _, p := range policies {
		current, ok := best[p.Group]
		if !ok || p.Priority < current.Priority || (p.Priority == current.Priority && p.ID < current.ID) {
			best[p.Group] = p
		}
	}
	winners := make([]Policy, 0, len(best))
	for _, p := range best {
		winners = append(winners, p)
	}
	sort.Slice(winners, func(i, j int) bool {
		if winners[i].Priority != winners[j].Priority {
			return winners[i].Priority < winners[j].Priority
		}
		return winners[i].ID < winners[j].ID
	})
	return winners
}

// matchRateTier selects the bracket with the largest threshold not above
// the order amount.
func matchRateTier(tiers []RateTier, base int64) (RateTier, bool) {
	var match RateTier
	found := false
	for _, t := range tiers {
		if t.Threshold <= base && (!found || t.Threshold > match.Threshold) {
			match = t
			found = true
		}
	}
	return match, found
}

func matchPriceTier(tiers []PriceTier, base int64) (PriceTier, bool) {
	var match PriceTier
	found := false
	for _, t := range tiers {
		if t.Threshold <= base && (!found || t.Threshold > match.Threshold) {
			match = t
			found = true
		}
	}
	return match, found
}
