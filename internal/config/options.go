package config

import (
	"errors"
	"fmt"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/jonboulle/clockwork"
)

// FirstChirpsYear is the first year of the CHIRPS v2 daily record.
const FirstChirpsYear = 1981

// MinRemoteScale is the smallest pixel size, in metres, the remote service
// is asked to aggregate at.
const MinRemoteScale = 500

// Options are the per-run choices made on the command line.
type Options struct {
	Resolution     domain.Resolution
	Scale          int
	KeepCompressed bool
	KeepRaw        bool
	KeepClipped    bool
	YearMin        int
	YearMax        int
}

// Years returns the inclusive year span of the run.
func (o Options) Years() domain.YearSpan {
	return domain.YearSpan{Min: o.YearMin, Max: o.YearMax}
}

// Validate checks the options for the given acquisition path
// (domain.SourceLocal or domain.SourceRemote). The latest allowed year
// comes from clk.
func (o Options) Validate(clk clockwork.Clock, source string) error {
	var errs []error

	current := clk.Now().Year()
	switch {
	case o.YearMin < FirstChirpsYear:
		errs = append(errs, fmt.Errorf("min year %d is before %d", o.YearMin, FirstChirpsYear))
	case o.YearMax < o.YearMin:
		errs = append(errs, fmt.Errorf("max year %d is before min year %d", o.YearMax, o.YearMin))
	case o.YearMax > current:
		errs = append(errs, fmt.Errorf("max year %d is after the current year %d", o.YearMax, current))
	}

	switch source {
	case domain.SourceLocal:
		if _, err := domain.ParseResolution(string(o.Resolution)); err != nil {
			errs = append(errs, err)
		}
	case domain.SourceRemote:
		if o.Scale < MinRemoteScale {
			errs = append(errs, fmt.Errorf("scale %d is below the minimum of %d metres", o.Scale, MinRemoteScale))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", source))
	}

	if err := errors.Join(errs...); err != nil {
		return domain.ConfigError("validate options", err)
	}
	return nil
}
