// Package allocator distributes an invoice's tier schedule over the raw rows that produced it.
package allocator

import (
	"github.com/shopspring/decimal"
	ratingdomain "github.com/smallbiznis/meter/internal/rating/domain"
	usagedomain "github.com/smallbiznis/meter/internal/usage/domain"
)

// ChargeScale is the number of fractional digits kept per tier contribution,
// matching the NUMERIC(38,12) charges column. Rounding is half away from zero.
const ChargeScale int32 = 12

// Allocate water-fills tiers over rows in input order and returns the priced copy.
// Input rows are not modified. A row straddling a tier boundary accumulates charges
// from every tier that touches it and keeps the label of the last one. Tier quantity
// left over once rows run out is dropped.
func Allocate(rows []usagedomain.RawUsage, tiers []ratingdomain.TierDetail) []usagedomain.RawUsage {
	out := make([]usagedomain.RawUsage, len(rows))
	copy(out, rows)

	cursor := 0
	for _, tier := range tiers {
		if cursor >= len(out) {
			break
		}
		cursor = fillTier(out, cursor, tier)
	}
	return out
}

// fillTier consumes tier.Quantity starting at rows[cursor] and returns the next
// unconsumed row index. A partially consumed row keeps its residual Amount.
func fillTier(rows []usagedomain.RawUsage, cursor int, tier ratingdomain.TierDetail) int {
	remaining := tier.Quantity
	for remaining.IsPositive() && cursor < len(rows) {
		row := &rows[cursor]
		if row.Amount.LessThanOrEqual(remaining) {
			remaining = remaining.Sub(row.Amount)
			addCharge(row, row.Amount, tier)
			cursor++
			continue
		}
		addCharge(row, remaining, tier)
		row.Amount = row.Amount.Sub(remaining)
		remaining = decimal.Zero
	}
	return cursor
}

func addCharge(row *usagedomain.RawUsage, quantity decimal.Decimal, tier ratingdomain.TierDetail) {
	charges := Contribution(quantity, tier)
	if row.Charges.Valid {
		charges = row.Charges.Decimal.Add(charges)
	}
	row.Charges = decimal.NewNullDecimal(charges)
	label := string(tier.Tier)
	row.Tier = &label
}

// Contribution prices quantity at tier: quantity * price / blockSize.
func Contribution(quantity decimal.Decimal, tier ratingdomain.TierDetail) decimal.Decimal {
	return quantity.Mul(tier.TierPrice).DivRound(tier.TierBlockSize, ChargeScale)
}
