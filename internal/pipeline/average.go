package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/rainydays-etl/internal/cache"
	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/observability"
)

// YearRangeAverager averages one month's rainy-day counts across a span of
// years.
type YearRangeAverager struct {
	months  *MonthProcessor
	mode    domain.RoundingMode
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewYearRangeAverager averages the output of months, rounding each cell
// with mode.
func NewYearRangeAverager(months *MonthProcessor, mode domain.RoundingMode, metrics *observability.Metrics, logger *slog.Logger) *YearRangeAverager {
	return &YearRangeAverager{months: months, mode: mode, metrics: metrics, logger: logger}
}

// Average computes the rounded mean for month over years and persists it
// under the average key, which it returns with the result's metadata. The
// average is always recomputed from the (cached) monthly counts.
func (a *YearRangeAverager) Average(ctx context.Context, month int, years domain.YearSpan) (cache.Key, domain.Metadata, error) {
	f := a.months.fetcher
	rasters := make([]*domain.Raster, 0, years.Count())
	for year := years.Min; year <= years.Max; year++ {
		a.logger.Info("processing month", "year", year, "month", month)
		key, err := a.months.Process(ctx, year, month)
		if err != nil {
			return cache.Key{}, domain.Metadata{}, err
		}
		r, err := loadRaster(f.store, key)
		if err != nil {
			return cache.Key{}, domain.Metadata{}, err
		}
		rasters = append(rasters, r)
	}

	var avg *domain.Raster
	err := runStage(a.metrics, stageAverage, func() error {
		var err error
		avg, err = domain.Average(rasters, a.mode)
		return err
	})
	if err != nil {
		return cache.Key{}, domain.Metadata{}, fmt.Errorf("average month %02d over %s: %w", month, years, err)
	}

	key := cache.AverageKey(f.res, f.area.ID(), years, month)
	if err := saveRaster(f.store, key, avg); err != nil {
		return cache.Key{}, domain.Metadata{}, err
	}
	return key, avg.Meta, nil
}
