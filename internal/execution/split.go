package execution

import "math"

// SplitCount returns how many parts an order with the given projected price
// impact should be split into: clamp(ceil(impact/threshold), 2, maxSplits)
// when impact exceeds the threshold and splitting is enabled, else 1.
func SplitCount(impactPct, thresholdPct float64, maxSplits int) int {
	if thresholdPct <= 0 || maxSplits <= 1 || impactPct <= thresholdPct {
		return 1
	}
	k := int(math.Ceil(impactPct / thresholdPct))
	if k < 2 {
		k = 2
	}
	if k > maxSplits {
		k = maxSplits
	}
	return k
}

// SplitAmounts divides amount into k near-equal parts. The remainder of the
// integer division goes to the last part, so the parts always sum to amount.
// k is reduced to amount when amount is smaller, so no part is zero.
func SplitAmounts(amount uint64, k int) []uint64 {
	if k < 1 {
		k = 1
	}
	if amount > 0 && uint64(k) > amount {
		k = int(amount)
	}
	part := amount / uint64(k)
	parts := make([]uint64, k)
	for i := 0; i < k-1; i++ {
		parts[i] = part
	}
	parts[k-1] = amount - part*uint64(k-1)
	return parts
}
