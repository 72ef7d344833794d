package money

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDiscountRateValidation(t *testing.T) {
	cases := []struct {
		name  string
		value string
		valid bool
	}{
		{"zero", "0", false},
		{"negative", "-10", false},
		{"over hundred", "100.01", false},
		{"hundred", "100", true},
		{"typical", "10", true},
		{"rounds half up", "9.995", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := NewDiscountRate(decimal.RequireFromString(tc.value))
			if !tc.valid {
				assert.ErrorIs(t, err, ErrInvalidRate)
				return
			}
			require.NoError(t, err)
			assert.True(t, r.Value().GreaterThan(decimal.Zero))
		})
	}
}

func TestDiscountRateAmountFor(t *testing.T) {
	rate := MustRate("10")

	assert.Equal(t, int64(5000), rate.AmountFor(50000))

	// floor, not round
	odd := MustRate("33.33")
	assert.Equal(t, int64(333), odd.AmountFor(1000)) // 333.3 floored
}

func TestFixedDiscountNeverExceedsBase(t *testing.T) {
	f, err := NewFixedDiscount(3000)
	require.NoError(t, err)

	assert.Equal(t, int64(3000), f.AmountFor(50000))
	assert.Equal(t, int64(1000), f.AmountFor(1000))

	_, err = NewFixedDiscount(0)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestMaxDiscountClamp(t *testing.T) {
	cap, err := NewMaxDiscount(3000)
	require.NoError(t, err)

	assert.Equal(t, int64(3000), cap.Clamp(5000))
	assert.Equal(t, int64(2000), cap.Clamp(2000))
}

func TestCostShareMustSumToHundred(t *testing.T) {
	_, err := NewCostShare(decimal.RequireFromString("70"), decimal.RequireFromString("20"))
	assert.ErrorIs(t, err, ErrInvalidCostShare)

	_, err = NewCostShare(decimal.RequireFromString("-10"), decimal.RequireFromString("110"))
	assert.ErrorIs(t, err, ErrInvalidCostShare)

	_, err = NewCostShare(decimal.RequireFromString("33.33"), decimal.RequireFromString("66.67"))
	assert.NoError(t, err)
}

func TestCostShareSplitIsExact(t *testing.T) {
	share, err := NewCostShare(decimal.RequireFromString("33.33"), decimal.RequireFromString("66.67"))
	require.NoError(t, err)

	// Awkward totals must not leak a single unit to rounding.
	for _, total := range []int64{1, 3, 97, 1000, 4999, 123457} {
		platform, seller := share.Split(total)
		assert.Equal(t, total, platform+seller, "total %d", total)
		assert.GreaterOrEqual(t, platform, int64(0))
		assert.GreaterOrEqual(t, seller, int64(0))
	}
}

func TestUsageLimitAllows(t *testing.T) {
	limit, err := NewUsageLimit(2, 10, ResetDaily)
	require.NoError(t, err)

	assert.True(t, limit.Allows(0, 0))
	assert.True(t, limit.Allows(1, 9))
	assert.False(t, limit.Allows(2, 0), "per-customer cap reached")
	assert.False(t, limit.Allows(0, 10), "total cap reached")

	unlimited, err := NewUsageLimit(0, 0, ResetNone)
	require.NoError(t, err)
	assert.True(t, unlimited.Allows(1_000_000, 1_000_000))
}

func TestResetPeriodWindowKey(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, "all", ResetNone.WindowKey(at))
	assert.Equal(t, "2024-03-15", ResetDaily.WindowKey(at))
	assert.Equal(t, "2024-W11", ResetWeekly.WindowKey(at))
	assert.Equal(t, "2024-03", ResetMonthly.WindowKey(at))
}

func TestValidPeriodContains(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)

	period, err := NewValidPeriod(start, end)
	require.NoError(t, err)

	assert.True(t, period.Contains(start), "start is inclusive")
	assert.True(t, period.Contains(end), "end is inclusive")
	assert.True(t, period.Contains(start.AddDate(0, 0, 15)))
	assert.False(t, period.Contains(start.Add(-time.Second)))
	assert.False(t, period.Contains(end.Add(time.Second)))

	_, err = NewValidPeriod(end, start)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}
