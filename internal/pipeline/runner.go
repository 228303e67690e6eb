package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/couchcryptid/rainydays-etl/internal/cache"
	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/observability"
	"github.com/google/uuid"
)

// monthResult is what one month of a run produced. A skipped month was
// already present in the output and is not announced again.
type monthResult struct {
	key     cache.Key
	meta    domain.Metadata
	skipped bool
}

// runLoop holds what the local and remote runs share: progress tracking,
// readiness, artifact announcements and the month loop itself.
type runLoop struct {
	source     string
	resolution string
	areaID     string
	years      domain.YearSpan
	store      cache.Store
	publisher  ArtifactPublisher
	metrics    *observability.Metrics
	logger     *slog.Logger

	mu       sync.Mutex
	progress domain.Progress
	ready    atomic.Bool
}

// CheckReadiness returns nil once the run has produced its first monthly
// average.
func (l *runLoop) CheckReadiness(_ context.Context) error {
	if !l.ready.Load() {
		return errors.New("no monthly average produced yet")
	}
	return nil
}

// Progress returns a snapshot of the run.
func (l *runLoop) Progress() domain.Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progress
}

func (l *runLoop) update(fn func(p *domain.Progress)) {
	l.mu.Lock()
	fn(&l.progress)
	l.mu.Unlock()
}

// run calls fn for months 1..12 in order and stops at the first error.
func (l *runLoop) run(ctx context.Context, fn func(ctx context.Context, month int) (monthResult, error)) error {
	runID := uuid.NewString()
	log := l.logger.With("run_id", runID, "source", l.source)
	l.update(func(p *domain.Progress) {
		*p = domain.Progress{RunID: runID, Source: l.source, YearMin: l.years.Min, YearMax: l.years.Max}
	})

	l.metrics.PipelineRunning.Set(1)
	defer l.metrics.PipelineRunning.Set(0)
	log.Info("pipeline started", "years", l.years.String(), "resolution", l.resolution, "area", l.areaID)

	for month := 1; month <= 12; month++ {
		if err := ctx.Err(); err != nil {
			return l.fail(log, month, err)
		}
		l.update(func(p *domain.Progress) { p.CurrentMonth = month })

		res, err := fn(ctx, month)
		if err != nil {
			return l.fail(log, month, err)
		}

		path := l.store.Locate(res.key)
		if !res.skipped {
			l.metrics.MonthsCompleted.WithLabelValues(l.source).Inc()
			l.announce(ctx, log, runID, month, path, res.meta)
		}
		l.ready.Store(true)
		l.update(func(p *domain.Progress) { p.MonthsCompleted++ })
		log.Info("month complete", "month", month, "path", path, "skipped", res.skipped)
	}

	l.update(func(p *domain.Progress) {
		p.CurrentMonth = 0
		p.Done = true
	})
	log.Info("pipeline finished")
	return nil
}

func (l *runLoop) fail(log *slog.Logger, month int, err error) error {
	l.update(func(p *domain.Progress) {
		p.Done = true
		p.Error = err.Error()
	})
	log.Error("pipeline failed", "month", month, "error", err)
	return fmt.Errorf("month %02d: %w", month, err)
}

// announce publishes the artifact event. The artifact is already on disk, so
// a broker failure is logged rather than failing the run.
func (l *runLoop) announce(ctx context.Context, log *slog.Logger, runID string, month int, path string, meta domain.Metadata) {
	if l.publisher == nil {
		return
	}
	event := domain.NewArtifactEvent(runID, l.source, month, l.years, l.resolution, l.areaID, path, meta)
	if err := l.publisher.PublishArtifact(ctx, event); err != nil {
		log.Warn("publish artifact event failed", "month", month, "error", err)
	}
}

// LocalRunner computes the twelve monthly averages from daily CHIRPS data.
type LocalRunner struct {
	*runLoop
	averager *YearRangeAverager
}

// NewLocalRunner builds a runner over averager for years. publisher may be
// nil.
func NewLocalRunner(averager *YearRangeAverager, years domain.YearSpan, publisher ArtifactPublisher,
	metrics *observability.Metrics, logger *slog.Logger) *LocalRunner {
	f := averager.months.fetcher
	return &LocalRunner{
		runLoop: &runLoop{
			source:     domain.SourceLocal,
			resolution: f.res.String(),
			areaID:     f.area.ID(),
			years:      years,
			store:      f.store,
			publisher:  publisher,
			metrics:    metrics,
			logger:     logger,
		},
		averager: averager,
	}
}

// Run processes months 1..12 and fails fast on the first error.
func (r *LocalRunner) Run(ctx context.Context) error {
	return r.run(ctx, func(ctx context.Context, month int) (monthResult, error) {
		key, meta, err := r.averager.Average(ctx, month, r.years)
		if err != nil {
			return monthResult{}, err
		}
		return monthResult{key: key, meta: meta}, nil
	})
}
