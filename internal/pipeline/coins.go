package pipeline

// CoinsPerDiamond is the fixed diamond-to-coin conversion rate.
const CoinsPerDiamond = 2

// GiftCoins computes the monetary value of one gift delivery. A missing
// or non-positive repeat count is treated as a single, non-repeated gift.
func GiftCoins(diamondsPerUnit, repeatCount int64) int64 {
	if repeatCount <= 0 {
		repeatCount = 1
	}
	if diamondsPerUnit < 0 {
		diamondsPerUnit = 0
	}
	return diamondsPerUnit * CoinsPerDiamond * repeatCount
}

// Countable reports whether a delivery should be added by accumulating
// consumers. Streakable gifts deliver repeatedly during one combo; only
// the terminal delivery carries the final repeat count, so counting the
// intermediates would over-count the combo. Non-streakable gifts are
// complete occurrences and count immediately.
func Countable(streakable, repeatEnded bool) bool {
	return !streakable || repeatEnded
}
