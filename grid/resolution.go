package grid

import "math"

// ReconcilePixelSize picks the output pixel size for a layer given the frame's minimum
// pixel size pmin and an optional requested size preq (0 when not requested).
//
// A request coarser than pmin snaps to pmin*k, k being the multiplier nearest preq/pmin
// among those dividing the block's sample count at pmin, so blocks and tiles always hold a
// whole number of pixels. Anything else yields pmin. The result never exceeds blockExtent.
func ReconcilePixelSize(pmin, preq, blockExtent float64) float64 {
	size := pmin
	if preq > pmin {
		n := Count(blockExtent, pmin)
		if n < 1 {
			return blockExtent
		}
		k := nearestDivisor(n, preq/pmin)
		// derive from the block extent rather than pmin*k to keep blockExtent/size exact
		size = blockExtent / float64(n/k)
	}
	if size > blockExtent {
		return blockExtent
	}
	return size
}

// nearestDivisor returns the divisor of n closest to target; ties go to the smaller one.
func nearestDivisor(n int, target float64) int {
	best := 1
	bestDist := math.Inf(1)
	for d := 1; d <= n; d++ {
		if n%d != 0 {
			continue
		}
		if dist := math.Abs(float64(d) - target); dist < bestDist-tolerance {
			best, bestDist = d, dist
		}
	}
	return best
}
