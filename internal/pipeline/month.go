package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/rainydays-etl/internal/cache"
	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/observability"
)

// MonthProcessor counts the rainy days of one (year, month) from the clipped
// daily rasters and persists the counts as the monthly artifact.
type MonthProcessor struct {
	fetcher   *DailyFetcher
	threshold float64
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// NewMonthProcessor builds a processor on top of fetcher. A cell counts as
// rainy when its value is strictly greater than threshold.
func NewMonthProcessor(fetcher *DailyFetcher, threshold float64, metrics *observability.Metrics, logger *slog.Logger) *MonthProcessor {
	return &MonthProcessor{fetcher: fetcher, threshold: threshold, metrics: metrics, logger: logger}
}

// Process returns the key of the monthly count raster for (year, month),
// building it from daily data only when it is not cached. The artifact is
// written once after every day has been accumulated, so a failed or
// cancelled month leaves nothing behind.
func (p *MonthProcessor) Process(ctx context.Context, year, month int) (cache.Key, error) {
	f := p.fetcher
	key := cache.MonthlyKey(f.res, f.area.ID(), year, month)
	log := p.logger.With("year", year, "month", month)

	if lookup(f.store, p.metrics, key) {
		log.Debug("monthly count cached", "path", f.store.Locate(key))
		return key, nil
	}

	span, err := domain.NewMonthRange(year, month)
	if err != nil {
		return cache.Key{}, domain.ConfigError("process month", err)
	}

	var acc *domain.Accumulator
	for day := range span.Days() {
		if err := ctx.Err(); err != nil {
			return cache.Key{}, err
		}
		clipped, err := f.Fetch(ctx, day)
		if err != nil {
			return cache.Key{}, err
		}
		err = runStage(p.metrics, stageAccumulate, func() error {
			r, err := loadRaster(f.store, clipped)
			if err != nil {
				return err
			}
			acc, err = domain.Accumulate(acc, r, p.threshold)
			return err
		})
		if err != nil {
			return cache.Key{}, fmt.Errorf("accumulate %s: %w", day.Format(time.DateOnly), err)
		}
		if !f.retain.KeepClipped {
			if err := f.store.Remove(clipped); err != nil {
				return cache.Key{}, err
			}
		}
	}
	if acc == nil {
		return cache.Key{}, errors.New("process month: no days in range")
	}

	if err := saveRaster(f.store, key, acc.Raster()); err != nil {
		return cache.Key{}, err
	}
	log.Info("monthly count written", "days", acc.Days, "path", f.store.Locate(key))
	return key, nil
}
