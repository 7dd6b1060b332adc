package pricing

// Markup rates are whole percentages. The range matches what the purchase
// entry form accepts.
const (
	MinMarkupRatePercent = 1
	MaxMarkupRatePercent = 1000
)

// SuggestedSalePriceCents derives a sale price from a cost price by applying
// the markup rate and rounding the result up to the nearest 100 currency
// units. The arithmetic is exact: cost*(100+rate) is the price scaled by 100,
// so one ceiling division by 10000 yields the rounded-up multiple of 100.
//
// Example: cost 12345 at 10% -> 13579.5 -> 13600.
func SuggestedSalePriceCents(costCents int64, markupRatePercent int) int64 {
	if costCents <= 0 {
		return 0
	}
	scaled := costCents * int64(100+markupRatePercent)
	return ceilDiv(scaled, 10000) * 100
}

// ValidMarkupRate reports whether the rate is inside the accepted range.
// Callers reject invalid rates at the form layer; the price derivation itself
// never fails.
func ValidMarkupRate(ratePercent int) bool {
	return ratePercent >= MinMarkupRatePercent && ratePercent <= MaxMarkupRatePercent
}

func ceilDiv(a int64, b int64) int64 {
	return (a + b - 1) / b
}
