// Package kneedle implements the Kneedle knee-detection heuristic used to
// pick an adaptive cutoff over a decreasing, convex score sequence (C10's
// ranking cutoff and C5's SERP pagination novelty-rate stop). No corpus
// repo implements this; it is pure math with no reasonable third-party
// substitute; small, explicit structs and functions over a decreasing
// sequence, rather than a generic "curve" abstraction.
package kneedle

import "math"

// Find locates the knee of a decreasing, convex sequence of values (already
// sorted by the caller, index 0 = largest). It returns the index of the
// last pre-drop value to keep (inclusive) and true if a knee was detected;
// if the tail is monotonic with no discernible bend, it returns (0, false)
// and the caller should fall back to its own bound.
//
// sensitivity scales how pronounced the bend must be before it counts: a
// higher sensitivity requires a sharper knee (fewer false positives on
// nearly-linear tails), a lower one trips on gentler bends.
func Find(values []float64, sensitivity float64) (int, bool) {
	n := len(values)
	if n < 3 {
		return 0, false
	}
	if sensitivity <= 0 {
		sensitivity = 1.0
	}

	minV, maxV := values[0], values[0]
	for _, v := range values {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	spread := maxV - minV
	if spread == 0 {
		return 0, false
	}

	// Normalize both axes to [0,1]; x is the rank, y the normalized value.
	// For a decreasing curve, the straight line from (0,1) to (1,0) is the
	// "no knee" baseline; D_i measures how far point i sits below that
	// line, which peaks at the knee of a convex decreasing curve.
	diffs := make([]float64, n)
	step := 1.0 / float64(n-1)
	for i, v := range values {
		x := float64(i) * step
		y := (v - minV) / spread
		diffs[i] = (1 - x) - y
	}

	avgStep := 0.0
	for i := 1; i < n; i++ {
		avgStep += math.Abs(diffs[i] - diffs[i-1])
	}
	avgStep /= float64(n - 1)
	threshold := sensitivity * avgStep

	// diffs peaks at the first point past the drop, where the curve falls
	// furthest below the no-knee diagonal; the knee itself — the last
	// point still on the plateau — sits one rank earlier.
	bestIdx := -1
	bestDiff := 0.0
	for i, d := range diffs {
		if d > bestDiff {
			bestDiff = d
			bestIdx = i
		}
	}
	// A peak within floating-point noise of the diagonal is not a knee.
	if bestIdx <= 0 || bestDiff < threshold || bestDiff < 1e-9 {
		return 0, false
	}
	return bestIdx - 1, true
}
