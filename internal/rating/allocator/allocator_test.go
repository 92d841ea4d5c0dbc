package allocator

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	ratingdomain "github.com/smallbiznis/meter/internal/rating/domain"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(id int64, amount string) usagedomain.RawUsage {
	return usagedomain.RawUsage{ID: snowflake.ID(id), Amount: decimal.RequireFromString(amount)}
}

func tier(label, quantity, price, block string) ratingdomain.TierDetail {
	return ratingdomain.TierDetail{
		Tier:          ratingdomain.TierLabel(label),
		TierUnit:      "api_calls",
		Quantity:      decimal.RequireFromString(quantity),
		TierPrice:     decimal.RequireFromString(price),
		TierBlockSize: decimal.RequireFromString(block),
	}
}

func assertCharge(t *testing.T, r usagedomain.RawUsage, charges, label string) {
	t.Helper()
	require.True(t, r.Charges.Valid, "row %d not priced", r.ID)
	assert.True(t, r.Charges.Decimal.Equal(decimal.RequireFromString(charges)),
		"row %d charges = %s, want %s", r.ID, r.Charges.Decimal, charges)
	require.NotNil(t, r.Tier)
	assert.Equal(t, label, *r.Tier)
}

func TestAllocateRoundTrip(t *testing.T) {
	rows := []usagedomain.RawUsage{row(1, "50"), row(2, "80")}
	tiers := []ratingdomain.TierDetail{
		tier("T1", "60", "10", "1"),
		tier("T2", "100", "5", "1"),
	}

	out := Allocate(rows, tiers)
	require.Len(t, out, 2)

	// row 1 is fully inside T1, row 2 takes the last 10 of T1 and 70 of T2.
	assertCharge(t, out[0], "500", "T1")
	assertCharge(t, out[1], "450", "T2")
}

func TestAllocateDeterministic(t *testing.T) {
	tiers := []ratingdomain.TierDetail{
		tier("1", "3.5", "1.25", "1"),
		tier("2", "10", "0.75", "2"),
	}
	build := func() []usagedomain.RawUsage {
		return []usagedomain.RawUsage{row(1, "1"), row(2, "2"), row(3, "4"), row(4, "0.5")}
	}

	first := Allocate(build(), tiers)
	second := Allocate(build(), tiers)

	require.Len(t, second, len(first))
	for i := range first {
		assert.True(t, first[i].Charges.Decimal.Equal(second[i].Charges.Decimal))
		assert.Equal(t, *first[i].Tier, *second[i].Tier)
	}
}

func TestAllocateDoesNotMutateInput(t *testing.T) {
	rows := []usagedomain.RawUsage{row(1, "50"), row(2, "80")}
	Allocate(rows, []ratingdomain.TierDetail{tier("T1", "60", "10", "1")})

	assert.True(t, rows[1].Amount.Equal(decimal.NewFromInt(80)))
	assert.False(t, rows[0].Charges.Valid)
	assert.Nil(t, rows[0].Tier)
}

func TestAllocateLeavesUnreachedRowsUntouched(t *testing.T) {
	prior := "OLD"
	untouched := row(3, "5")
	untouched.Charges = decimal.NewNullDecimal(decimal.NewFromInt(7))
	untouched.Tier = &prior

	rows := []usagedomain.RawUsage{row(1, "5"), row(2, "5"), untouched}
	out := Allocate(rows, []ratingdomain.TierDetail{tier("T1", "10", "1", "1")})

	assertCharge(t, out[0], "5", "T1")
	assertCharge(t, out[1], "5", "T1")
	assertCharge(t, out[2], "7", "OLD")
}

func TestAllocateRowStraddlingManyTiers(t *testing.T) {
	rows := []usagedomain.RawUsage{row(1, "100")}
	tiers := []ratingdomain.TierDetail{
		tier("T1", "10", "3", "1"),
		tier("T2", "20", "2", "1"),
		tier("T3", "1000", "1", "1"),
	}

	out := Allocate(rows, tiers)
	// 10*3 + 20*2 + 70*1
	assertCharge(t, out[0], "140", "T3")
}

func TestAllocateDropsExcessTierQuantity(t *testing.T) {
	out := Allocate([]usagedomain.RawUsage{row(1, "2")}, []ratingdomain.TierDetail{
		tier("T1", "50", "1", "1"),
		tier("T2", "50", "9", "1"),
	})
	assertCharge(t, out[0], "2", "T1")
}

func TestAllocateNoTiers(t *testing.T) {
	out := Allocate([]usagedomain.RawUsage{row(1, "2")}, nil)
	require.Len(t, out, 1)
	assert.False(t, out[0].Charges.Valid)
	assert.Nil(t, out[0].Tier)
}

func TestAllocateZeroAmountRowTakesTierLabel(t *testing.T) {
	out := Allocate([]usagedomain.RawUsage{row(1, "0"), row(2, "1")}, []ratingdomain.TierDetail{
		tier("T1", "1", "4", "1"),
	})
	assertCharge(t, out[0], "0", "T1")
	assertCharge(t, out[1], "4", "T1")
}

func TestContributionRounding(t *testing.T) {
	cases := []struct {
		name     string
		quantity string
		want     string
	}{
		{"truncates below half", "1", "0.333333333333"},
		{"rounds half away from zero", "2", "0.666666666667"},
		{"exact", "3", "1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Contribution(decimal.RequireFromString(tc.quantity), tier("T", "0", "1", "3"))
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s", got)
		})
	}
}
