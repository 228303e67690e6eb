package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/couchcryptid/rainydays-etl/internal/cache"
	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/observability"
)

// Aggregator sums the rainy-day indicator for a month on the remote service.
type Aggregator interface {
	SumRainyDays(ctx context.Context, q domain.RemoteQuery) (*domain.Raster, error)
}

// AggregatorFactory opens an authenticated Aggregator.
type AggregatorFactory func(ctx context.Context) (Aggregator, error)

// RemoteAggregator computes the monthly averages on the remote service
// instead of from downloaded daily files.
type RemoteAggregator struct {
	*runLoop
	open      AggregatorFactory
	scale     int
	threshold float64
	mode      domain.RoundingMode

	sessionMu sync.Mutex
	agg       Aggregator
}

// RemoteSettings describes one remote run.
type RemoteSettings struct {
	Years     domain.YearSpan
	Scale     int
	Threshold float64
	Mode      domain.RoundingMode
	AreaID    string
}

// NewRemoteAggregator builds a remote run. open is called at most once, and
// only when some month is missing from the store.
func NewRemoteAggregator(open AggregatorFactory, store cache.Store, s RemoteSettings, publisher ArtifactPublisher,
	metrics *observability.Metrics, logger *slog.Logger) *RemoteAggregator {
	return &RemoteAggregator{
		runLoop: &runLoop{
			source:     domain.SourceRemote,
			resolution: strconv.Itoa(s.Scale) + "m",
			areaID:     s.AreaID,
			years:      s.Years,
			store:      store,
			publisher:  publisher,
			metrics:    metrics,
			logger:     logger,
		},
		open:      open,
		scale:     s.Scale,
		threshold: s.Threshold,
		mode:      s.Mode,
	}
}

// Run produces months 1..12, skipping those already in the output.
func (a *RemoteAggregator) Run(ctx context.Context) error {
	return a.run(ctx, a.month)
}

func (a *RemoteAggregator) month(ctx context.Context, month int) (monthResult, error) {
	key := cache.RemoteAverageKey(a.scale, a.areaID, a.years, month)
	if lookup(a.store, a.metrics, key) {
		a.logger.Info("monthly average exists, to re-calculate delete it",
			"month", month, "path", a.store.Locate(key))
		return monthResult{key: key, skipped: true}, nil
	}

	agg, err := a.aggregator(ctx)
	if err != nil {
		return monthResult{}, err
	}

	q := domain.RemoteQuery{Years: a.years, Month: month, Threshold: a.threshold, Scale: a.scale}
	var avg *domain.Raster
	err = runStage(a.metrics, stageAggregate, func() error {
		sum, err := agg.SumRainyDays(ctx, q)
		if err != nil {
			return err
		}
		if err := sum.Validate(); err != nil {
			return domain.DecodeError("aggregate month", err)
		}
		avg = domain.DivideRounded(sum, a.years.Count(), a.mode)
		return nil
	})
	if err != nil {
		return monthResult{}, fmt.Errorf("aggregate month %02d: %w", month, err)
	}

	if err := saveRaster(a.store, key, avg); err != nil {
		return monthResult{}, err
	}
	return monthResult{key: key, meta: avg.Meta}, nil
}

func (a *RemoteAggregator) aggregator(ctx context.Context) (Aggregator, error) {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	if a.agg != nil {
		return a.agg, nil
	}
	agg, err := a.open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open remote session: %w", err)
	}
	a.agg = agg
	return agg, nil
}
