// Package cache stores the intermediate and final rasters of a run. Each
// artifact lives at a deterministic location derived from its Key; presence
// alone means the stage that produced it already ran.
package cache

import (
	"fmt"
	"time"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
)

// Tier identifies the pipeline stage an artifact belongs to.
type Tier string

const (
	TierCompressed    Tier = "compressed"
	TierRaw           Tier = "raw"
	TierClipped       Tier = "clipped"
	TierMonthly       Tier = "monthly"
	TierAverage       Tier = "average"
	TierRemoteAverage Tier = "remote-average"
)

// Key addresses one cached artifact. Which fields matter depends on the tier:
// daily tiers use Date, monthly uses Year and Month, the average tiers use
// Years and Month, and only the remote average uses Scale.
type Key struct {
	Tier       Tier
	Resolution domain.Resolution
	AreaID     string
	Date       time.Time
	Year       int
	Month      int
	Years      domain.YearSpan
	Scale      int
}

// CompressedKey addresses the downloaded .tif.gz for one day.
func CompressedKey(res domain.Resolution, day time.Time) Key {
	return Key{Tier: TierCompressed, Resolution: res, Date: day}
}

// RawKey addresses the decompressed global GeoTIFF for one day.
func RawKey(res domain.Resolution, day time.Time) Key {
	return Key{Tier: TierRaw, Resolution: res, Date: day}
}

// ClippedKey addresses the day's raster clipped to one area.
func ClippedKey(res domain.Resolution, areaID string, day time.Time) Key {
	return Key{Tier: TierClipped, Resolution: res, AreaID: areaID, Date: day}
}

// MonthlyKey addresses the rainy-day count for one (year, month).
func MonthlyKey(res domain.Resolution, areaID string, year, month int) Key {
	return Key{Tier: TierMonthly, Resolution: res, AreaID: areaID, Year: year, Month: month}
}

// AverageKey addresses the locally computed average for a month across years.
func AverageKey(res domain.Resolution, areaID string, years domain.YearSpan, month int) Key {
	return Key{Tier: TierAverage, Resolution: res, AreaID: areaID, Years: years, Month: month}
}

// RemoteAverageKey addresses the remotely aggregated average for a month.
func RemoteAverageKey(scale int, areaID string, years domain.YearSpan, month int) Key {
	return Key{Tier: TierRemoteAverage, Scale: scale, AreaID: areaID, Years: years, Month: month}
}

func (k Key) String() string {
	switch k.Tier {
	case TierCompressed, TierRaw:
		return fmt.Sprintf("%s/%s/%s", k.Tier, k.Resolution, k.Date.Format(time.DateOnly))
	case TierClipped:
		return fmt.Sprintf("%s/%s/%s/%s", k.Tier, k.Resolution, k.AreaID, k.Date.Format(time.DateOnly))
	case TierMonthly:
		return fmt.Sprintf("%s/%s/%s/%04d-%02d", k.Tier, k.Resolution, k.AreaID, k.Year, k.Month)
	case TierAverage:
		return fmt.Sprintf("%s/%s/%s/%s/m%02d", k.Tier, k.Resolution, k.AreaID, k.Years, k.Month)
	case TierRemoteAverage:
		return fmt.Sprintf("%s/res%d/%s/%s/m%02d", k.Tier, k.Scale, k.AreaID, k.Years, k.Month)
	default:
		return fmt.Sprintf("unknown(%s)", k.Tier)
	}
}
