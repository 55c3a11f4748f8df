package media

import (
	"math/bits"
	"time"
)

// ToSeconds converts a tick count in the given timescale to seconds.
func ToSeconds(ticks int64, scale uint32) float64 {
	if scale == 0 {
		return 0
	}
	return float64(ticks) / float64(scale)
}

// ToMillis converts a tick count in the given timescale to milliseconds,
// rounding toward zero.
func ToMillis(ticks int64, scale uint32) int64 {
	if scale == 0 {
		return 0
	}
	return int64(float64(ticks) * 1000 / float64(scale))
}

// ToScale converts a duration to ticks in the given timescale without
// overflowing intermediate products.
func ToScale(d time.Duration, scale uint32) int64 {
	if d < 0 {
		return -ToScale(-d, scale)
	}
	hi, lo := bits.Mul64(uint64(d), uint64(scale))
	q, _ := bits.Div64(hi, lo, uint64(time.Second))
	return int64(q)
}
