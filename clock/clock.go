// Package clock converts between MPEG 90 kHz tick timestamps and the
// nanosecond timestamps used everywhere else in this module.
//
// The ratio is exact: 1 MPEG tick is 100000/9 ns. Conversions saturate
// instead of overflowing so a corrupt or absent timestamp never wraps into
// a plausible-looking value, following the overflow-checked-conversion
// style of this module's crypto package.
package clock

import (
	"math"
	"math/bits"
)

// TickRate is the MPEG system clock tick frequency in Hz.
const TickRate = 90000

// NoTimestamp marks an absent PTS/DTS/SCR value, matching the MPEG
// convention of -1.
const NoTimestamp int64 = -1

// ToNanoseconds converts a 90 kHz MPEG tick count to nanoseconds.
// NoTimestamp maps to NoTimestamp.
func ToNanoseconds(ticks int64) int64 {
	if ticks == NoTimestamp {
		return NoTimestamp
	}
	return scale(ticks, 100000, 9)
}

// ToTicks converts a nanosecond timestamp to 90 kHz MPEG ticks.
// NoTimestamp maps to NoTimestamp.
func ToTicks(ns int64) int64 {
	if ns == NoTimestamp {
		return NoTimestamp
	}
	return scale(ns, 9, 100000)
}

// scale computes v*num/den truncated toward zero, saturating to math.MaxInt64 or
// math.MinInt64 on overflow instead of wrapping. num and den are always
// small positive constants in this package; v carries the sign.
func scale(v, num, den int64) int64 {
	neg := v < 0
	uv := uint64(v)
	if neg {
		uv = uint64(-v)
	}

	hi, lo := bits.Mul64(uv, uint64(num))
	if hi >= uint64(den) {
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, uint64(den))
	if q > math.MaxInt64 {
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}

// ScaleRate applies an arbitrary n/d rate to a value with the same
// saturating semantics as ToNanoseconds/ToTicks. Used by psdemux to
// convert between byte offsets and SCR ticks via scr_rate_n/scr_rate_d.
func ScaleRate(v int64, num, den uint64) int64 {
	if den == 0 {
		return 0
	}
	neg := v < 0
	uv := uint64(v)
	if neg {
		uv = uint64(-v)
	}

	hi, lo := bits.Mul64(uv, num)
	if hi >= den {
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	q, _ := bits.Div64(hi, lo, den)
	if q > math.MaxInt64 {
		if neg {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	if neg {
		return -int64(q)
	}
	return int64(q)
}
