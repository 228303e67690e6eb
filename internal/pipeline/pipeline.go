// Package pipeline turns daily CHIRPS rasters into per-month rainy-day
// averages. Every stage reads and writes through a cache.Store, so a rerun
// only does the work whose artifacts are missing.
package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/couchcryptid/rainydays-etl/internal/cache"
	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/geotiff"
	"github.com/couchcryptid/rainydays-etl/internal/observability"
)

// DailySource downloads the compressed raster for one day.
type DailySource interface {
	FetchDaily(ctx context.Context, res domain.Resolution, day time.Time) ([]byte, error)
}

// Decompressor expands a compressed daily download into a raw GeoTIFF.
type Decompressor func(dst io.Writer, src io.Reader) error

// Clipper masks and crops a raster to an area of interest. ID must be stable
// for the same geometry because it is part of every clipped cache key.
type Clipper interface {
	ID() string
	Clip(r *domain.Raster) (*domain.Raster, error)
}

// ArtifactPublisher announces a finished monthly average.
type ArtifactPublisher interface {
	PublishArtifact(ctx context.Context, event domain.ArtifactEvent) error
}

// Retention controls which intermediate artifacts survive a run.
type Retention struct {
	KeepCompressed bool
	KeepRaw        bool
	KeepClipped    bool
}

// Stage names used for metrics and logs.
const (
	stageFetch      = "fetch"
	stageDecompress = "decompress"
	stageClip       = "clip"
	stageAccumulate = "accumulate"
	stageAverage    = "average"
	stageAggregate  = "aggregate"
)

func runStage(m *observability.Metrics, stage string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.ObserveStage(stage, time.Since(start).Seconds(), err)
	return err
}

// lookup reports whether k is cached and records the hit or miss.
func lookup(store cache.Store, m *observability.Metrics, k cache.Key) bool {
	if store.Exists(k) {
		m.CacheHit(string(k.Tier))
		return true
	}
	m.CacheMiss(string(k.Tier))
	return false
}

func loadRaster(store cache.Store, k cache.Key) (*domain.Raster, error) {
	rc, err := store.Open(k)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	r, err := geotiff.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", k, err)
	}
	return r, nil
}

func saveRaster(store cache.Store, k cache.Key, r *domain.Raster) error {
	err := store.Put(k, func(w io.Writer) error {
		bw := bufio.NewWriter(w)
		if err := geotiff.Encode(bw, r); err != nil {
			return err
		}
		if err := bw.Flush(); err != nil {
			return domain.IOError("flush raster", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save %s: %w", k, err)
	}
	return nil
}
