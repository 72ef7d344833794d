package money

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Validation errors raised at construction time. An invalid value object
// is never created, so no invalid policy parameter can reach storage.
var (
	ErrInvalidRate       = errors.New("discount rate must be greater than 0 and at most 100")
	ErrInvalidAmount     = errors.New("amount must be greater than 0")
	ErrInvalidMinOrder   = errors.New("minimum order amount must not be negative")
	ErrInvalidCostShare  = errors.New("cost share ratios must be non-negative and sum to exactly 100.00")
	ErrInvalidUsageLimit = errors.New("usage limit counts must not be negative")
	ErrInvalidPeriod     = errors.New("valid period start must not be after end")
)

var hundred = decimal.NewFromInt(100)

// DiscountRate is a percentage in (0, 100], normalized to two decimals
// (half-up).
type DiscountRate struct {
	value decimal.Decimal
}

// NewDiscountRate validates and normalizes a percentage rate.
func NewDiscountRate(value decimal.Decimal) (DiscountRate, error) {
	v := value.Round(2)
	if v.LessThanOrEqual(decimal.Zero) || v.GreaterThan(hundred) {
		return DiscountRate{}, fmt.Errorf("%w: got %s", ErrInvalidRate, value)
	}
	return DiscountRate{value: v}, nil
}

// MustRate is a construction helper for static tier tables. It panics on
// invalid input and is meant for literals, not request data.
func MustRate(value string) DiscountRate {
	r, err := NewDiscountRate(decimal.RequireFromString(value))
	if err != nil {
		panic(err)
	}
	return r
}

// Value returns the normalized percentage.
func (r DiscountRate) Value() decimal.Decimal { return r.value }

// AmountFor computes floor(base × rate / 100).
func (r DiscountRate) AmountFor(base int64) int64 {
	return decimal.NewFromInt(base).Mul(r.value).Div(hundred).Floor().IntPart()
}

// FixedDiscount is a positive fixed discount amount. It never discounts
// more than the base it is applied to.
type FixedDiscount struct {
	amount int64
}

func NewFixedDiscount(amount int64) (FixedDiscount, error) {
	if amount <= 0 {
		return FixedDiscount{}, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	return FixedDiscount{amount: amount}, nil
}

func (f FixedDiscount) Amount() int64 { return f.amount }

// AmountFor computes min(fixed, base).
func (f FixedDiscount) AmountFor(base int64) int64 {
	if f.amount > base {
		return base
	}
	return f.amount
}

// MaxDiscount is an optional per-policy cap.
type MaxDiscount struct {
	limit int64
}

func NewMaxDiscount(limit int64) (MaxDiscount, error) {
	if limit <= 0 {
		return MaxDiscount{}, fmt.Errorf("%w: got %d", ErrInvalidAmount, limit)
	}
	return MaxDiscount{limit: limit}, nil
}

func (m MaxDiscount) Limit() int64 { return m.limit }

// Clamp bounds a computed discount by the cap.
func (m MaxDiscount) Clamp(discount int64) int64 {
	if discount > m.limit {
		return m.limit
	}
	return discount
}

// MinOrderAmount is the eligibility floor for a policy.
type MinOrderAmount struct {
	amount int64
}

func NewMinOrderAmount(amount int64) (MinOrderAmount, error) {
	if amount < 0 {
		return MinOrderAmount{}, fmt.Errorf("%w: got %d", ErrInvalidMinOrder, amount)
	}
	return MinOrderAmount{amount: amount}, nil
}

func (m MinOrderAmount) Amount() int64 { return m.amount }

func (m MinOrderAmount) Satisfied(base int64) bool { return base >= m.amount }

// CostShare is the platform/seller split of a discount's monetary cost.
// The two ratios must sum to exactly 100.00.
type CostShare struct {
	platform decimal.Decimal
	seller   decimal.Decimal
}

func NewCostShare(platform, seller decimal.Decimal) (CostShare, error) {
	p := platform.Round(2)
	s := seller.Round(2)
	if p.IsNegative() || s.IsNegative() || !p.Add(s).Equal(hundred) {
		return CostShare{}, fmt.Errorf("%w: got %s/%s", ErrInvalidCostShare, platform, seller)
	}
	return CostShare{platform: p, seller: s}, nil
}

func (c CostShare) PlatformRatio() decimal.Decimal { return c.platform }
func (c CostShare) SellerRatio() decimal.Decimal   { return c.seller }

// Split divides a discount between platform and seller. The platform part
// is floored and the seller part is the remainder, so the two always sum
// exactly to the input.
func (c CostShare) Split(discount int64) (platformCost, sellerCost int64) {
	platformCost = decimal.NewFromInt(discount).Mul(c.platform).Div(hundred).Floor().IntPart()
	sellerCost = discount - platformCost
	return platformCost, sellerCost
}

// ResetPeriod is the window after which usage counters reset.
type ResetPeriod string

const (
	ResetNone    ResetPeriod = "NONE"
	ResetDaily   ResetPeriod = "DAILY"
	ResetWeekly  ResetPeriod = "WEEKLY"
	ResetMonthly ResetPeriod = "MONTHLY"
)

// WindowKey returns a stable key for the counter window containing now.
// Counters for different windows never collide, which is what makes the
// periodic reset work without a sweeper.
func (p ResetPeriod) WindowKey(now time.Time) string {
	switch p {
	case ResetDaily:
		return now.Format("2006-01-02")
	case ResetWeekly:
		year, week := now.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case ResetMonthly:
		return now.Format("2006-01")
	default:
		return "all"
	}
}

// UsageLimit caps how often a policy may be used. Zero means unlimited.
type UsageLimit struct {
	perCustomer int64
	total       int64
	reset       ResetPeriod
}

func NewUsageLimit(perCustomer, total int64, reset ResetPeriod) (UsageLimit, error) {
	if perCustomer < 0 || total < 0 {
		return UsageLimit{}, fmt.Errorf("%w: got %d/%d", ErrInvalidUsageLimit, perCustomer, total)
	}
	if reset == "" {
		reset = ResetNone
	}
	return UsageLimit{perCustomer: perCustomer, total: total, reset: reset}, nil
}

func (u UsageLimit) PerCustomer() int64 { return u.perCustomer }
func (u UsageLimit) Total() int64       { return u.total }
func (u UsageLimit) Reset() ResetPeriod { return u.reset }

// Allows reports whether one more use is permitted given the current
// counters for the active window.
func (u UsageLimit) Allows(customerCount, totalCount int64) bool {
	if u.perCustomer > 0 && customerCount >= u.perCustomer {
		return false
	}
	if u.total > 0 && totalCount >= u.total {
		return false
	}
	return true
}

// ValidPeriod is an inclusive validity window.
type ValidPeriod struct {
	start time.Time
	end   time.Time
}

func NewValidPeriod(start, end time.Time) (ValidPeriod, error) {
	if start.After(end) {
		return ValidPeriod{}, fmt.Errorf("%w: %s > %s", ErrInvalidPeriod, start, end)
	}
	return ValidPeriod{start: start, end: end}, nil
}

func (p ValidPeriod) Start() time.Time { return p.start }
func (p ValidPeriod) End() time.Time   { return p.end }

// Contains reports whether t falls inside the window, boundaries included.
func (p ValidPeriod) Contains(t time.Time) bool {
	return !t.Before(p.start) && !t.After(p.end)
}
