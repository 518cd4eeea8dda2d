package model

import "github.com/shopspring/decimal"

// Round2 rounds a monetary amount to 2 decimal places, half away from zero.
// All persisted amounts in the engine are fixed-point with 2 decimals.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Hundred is the percentage divisor used for all split arithmetic.
var Hundred = decimal.NewFromInt(100)

// SplitAmount divides a transaction total between the partner and the
// platform. The partner share is rounded to 2 decimal places; the platform
// share is the remainder, so the two always sum to the total exactly.
func SplitAmount(total, partnerPercent decimal.Decimal) (platform, partner decimal.Decimal) {
	partner = Round2(total.Mul(partnerPercent).Div(Hundred))
	platform = total.Sub(partner)
	return platform, partner
}
