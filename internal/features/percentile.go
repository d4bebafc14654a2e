package features

import (
	"math"
	"sort"
)

// percentile computes the p-th percentile (0..100) with linear
// interpolation between closest ranks, matching the convention the
// downstream analytics already calibrated against. Returns nil for an
// empty sample set.
func percentile(samples []float64, p float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	s := make([]float64, len(samples))
	copy(s, samples)
	sort.Float64s(s)

	rank := p / 100 * float64(len(s)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return &s[lo]
	}
	frac := rank - float64(lo)
	v := s[lo] + frac*(s[hi]-s[lo])
	return &v
}
