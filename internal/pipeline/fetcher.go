package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/couchcryptid/rainydays-etl/internal/cache"
	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/observability"
)

// DailyFetcher produces the clipped raster for one day, starting from the
// latest cached tier: clipped, then raw, then compressed, then the network.
type DailyFetcher struct {
	source  DailySource
	gunzip  Decompressor
	store   cache.Store
	area    Clipper
	res     domain.Resolution
	retain  Retention
	metrics *observability.Metrics
	logger  *slog.Logger
}

// NewDailyFetcher wires a fetcher for one resolution and area.
func NewDailyFetcher(source DailySource, gunzip Decompressor, store cache.Store, area Clipper,
	res domain.Resolution, retain Retention, metrics *observability.Metrics, logger *slog.Logger) *DailyFetcher {
	return &DailyFetcher{
		source:  source,
		gunzip:  gunzip,
		store:   store,
		area:    area,
		res:     res,
		retain:  retain,
		metrics: metrics,
		logger:  logger,
	}
}

// Fetch ensures the clipped artifact for day exists and returns its key.
// Compressed and raw artifacts are removed afterwards unless retained.
func (f *DailyFetcher) Fetch(ctx context.Context, day time.Time) (cache.Key, error) {
	clipped := cache.ClippedKey(f.res, f.area.ID(), day)
	log := f.logger.With("date", day.Format(time.DateOnly))

	if lookup(f.store, f.metrics, clipped) {
		log.Debug("clipped day cached", "path", f.store.Locate(clipped))
	} else if err := f.produce(ctx, day, clipped, log); err != nil {
		return cache.Key{}, err
	}

	if err := f.cleanup(day); err != nil {
		return cache.Key{}, err
	}
	return clipped, nil
}

func (f *DailyFetcher) produce(ctx context.Context, day time.Time, clipped cache.Key, log *slog.Logger) error {
	raw := cache.RawKey(f.res, day)
	compressed := cache.CompressedKey(f.res, day)

	if !lookup(f.store, f.metrics, raw) {
		if !lookup(f.store, f.metrics, compressed) {
			if err := ctx.Err(); err != nil {
				return err
			}
			log.Info("downloading day")
			err := runStage(f.metrics, stageFetch, func() error {
				body, err := f.source.FetchDaily(ctx, f.res, day)
				if err != nil {
					return err
				}
				return f.store.Put(compressed, func(w io.Writer) error {
					if _, err := w.Write(body); err != nil {
						return domain.IOError("write compressed day", err)
					}
					return nil
				})
			})
			if err != nil {
				return fmt.Errorf("fetch day %s: %w", day.Format(time.DateOnly), err)
			}
		}

		log.Debug("decompressing day", "path", f.store.Locate(compressed))
		err := runStage(f.metrics, stageDecompress, func() error {
			rc, err := f.store.Open(compressed)
			if err != nil {
				return err
			}
			defer rc.Close()
			return f.store.Put(raw, func(w io.Writer) error { return f.gunzip(w, rc) })
		})
		if err != nil {
			return fmt.Errorf("decompress day %s: %w", day.Format(time.DateOnly), err)
		}
	}

	log.Debug("clipping day", "path", f.store.Locate(raw))
	err := runStage(f.metrics, stageClip, func() error {
		r, err := loadRaster(f.store, raw)
		if err != nil {
			return err
		}
		out, err := f.area.Clip(r)
		if err != nil {
			return err
		}
		return saveRaster(f.store, clipped, out)
	})
	if err != nil {
		return fmt.Errorf("clip day %s: %w", day.Format(time.DateOnly), err)
	}
	return nil
}

func (f *DailyFetcher) cleanup(day time.Time) error {
	if !f.retain.KeepCompressed {
		if err := f.store.Remove(cache.CompressedKey(f.res, day)); err != nil {
			return err
		}
	}
	if !f.retain.KeepRaw {
		if err := f.store.Remove(cache.RawKey(f.res, day)); err != nil {
			return err
		}
	}
	return nil
}
