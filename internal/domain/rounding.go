package domain

import (
	"fmt"
	"math"
	"strings"
)

// RoundingMode selects how averaged day counts are rounded to integers.
// It only matters at exact halves, where the two modes differ by one day.
type RoundingMode string

const (
	// RoundHalfEven rounds 2.5 to 2 and 3.5 to 4 (banker's rounding).
	// This matches numpy's rint, which the first version of the tool used.
	RoundHalfEven RoundingMode = "half-even"
	// RoundHalfAwayFromZero rounds 2.5 to 3 and -2.5 to -3.
	RoundHalfAwayFromZero RoundingMode = "half-away-from-zero"
)

// DefaultRoundingMode is used when no mode is configured.
const DefaultRoundingMode = RoundHalfEven

// ParseRoundingMode accepts the mode names above.
func ParseRoundingMode(s string) (RoundingMode, error) {
	switch m := RoundingMode(strings.ToLower(strings.TrimSpace(s))); m {
	case RoundHalfEven, RoundHalfAwayFromZero:
		return m, nil
	default:
		return "", ConfigError("parse rounding mode",
			fmt.Errorf("unknown rounding mode %q (want %s or %s)", s, RoundHalfEven, RoundHalfAwayFromZero))
	}
}

// Round applies the mode to v.
func (m RoundingMode) Round(v float64) float64 {
	if m == RoundHalfAwayFromZero {
		return math.Round(v)
	}
	return math.RoundToEven(v)
}
