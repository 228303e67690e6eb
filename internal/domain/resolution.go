package domain

import (
	"fmt"
	"strings"
)

// Resolution names a CHIRPS global daily product grid.
type Resolution string

const (
	// ResolutionP25 is the 0.25 degree grid.
	ResolutionP25 Resolution = "p25"
	// ResolutionP05 is the 0.05 degree grid.
	ResolutionP05 Resolution = "p05"
)

// ParseResolution accepts p25 or p05 in any case.
func ParseResolution(s string) (Resolution, error) {
	switch r := Resolution(strings.ToLower(strings.TrimSpace(s))); r {
	case ResolutionP25, ResolutionP05:
		return r, nil
	default:
		return "", ConfigError("parse resolution", fmt.Errorf("unknown resolution %q (want p25 or p05)", s))
	}
}

func (r Resolution) String() string { return string(r) }
