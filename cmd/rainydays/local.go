package main

import (
	"fmt"

	"github.com/couchcryptid/rainydays-etl/internal/adapter/chirps"
	"github.com/couchcryptid/rainydays-etl/internal/aoi"
	"github.com/couchcryptid/rainydays-etl/internal/cache"
	"github.com/couchcryptid/rainydays-etl/internal/config"
	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/pipeline"
	"github.com/spf13/cobra"
)

type localFlags struct {
	yearMin, yearMax        int
	aoiPath                 string
	tmpDir, dataDir, outDir string
	resolution              string
	keepCompressed          bool
	keepRaw                 bool
	keepClipped             bool
}

func newLocalCmd(a *app) *cobra.Command {
	var f localFlags
	cmd := &cobra.Command{
		Use:   "local",
		Short: "Download CHIRPS daily data and compute the averages locally",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLocal(a, f)
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&f.yearMin, "miny", 2010, "first year of the period (inclusive)")
	fs.IntVar(&f.yearMax, "maxy", 2020, "last year of the period (inclusive)")
	fs.StringVar(&f.aoiPath, "aoi", "./aoi/aoi.shp", "shapefile or GeoJSON with the area of interest")
	fs.StringVar(&f.tmpDir, "dir-tmp", "", "directory for downloaded and clipped daily files (default TMP_DIR)")
	fs.StringVar(&f.dataDir, "dir-dat", "", "directory for monthly rainy-day counts (default DATA_DIR)")
	fs.StringVar(&f.outDir, "dir-out", "", "directory for the monthly averages (default OUT_DIR)")
	fs.StringVar(&f.resolution, "data-resolution", "p25", "CHIRPS grid resolution (p25 or p05)")
	fs.BoolVar(&f.keepCompressed, "keep-tgzs", false, "keep the downloaded .tif.gz files")
	fs.BoolVar(&f.keepRaw, "keep-tifs", false, "keep the decompressed global .tif files")
	fs.BoolVar(&f.keepClipped, "keep-proj", false, "keep the daily files clipped to the area")
	return cmd
}

func runLocal(a *app, f localFlags) error {
	res, err := domain.ParseResolution(f.resolution)
	if err != nil {
		return domain.ConfigError("parse flags", err)
	}
	opts := config.Options{
		Resolution:     res,
		KeepCompressed: f.keepCompressed,
		KeepRaw:        f.keepRaw,
		KeepClipped:    f.keepClipped,
		YearMin:        f.yearMin,
		YearMax:        f.yearMax,
	}
	if err := opts.Validate(domain.Clock(), domain.SourceLocal); err != nil {
		return err
	}

	area, err := aoi.Load(f.aoiPath)
	if err != nil {
		return fmt.Errorf("load area of interest: %w", err)
	}

	client, err := chirps.NewClient(a.cfg.ChirpsURLTemplate, a.cfg.FetchTimeout, a.retryPolicy(), a.metrics, a.logger)
	if err != nil {
		return err
	}
	store := cache.NewFileStore(orDefault(f.tmpDir, a.cfg.TmpDir), orDefault(f.dataDir, a.cfg.DataDir), orDefault(f.outDir, a.cfg.OutDir))
	retain := pipeline.Retention{
		KeepCompressed: opts.KeepCompressed,
		KeepRaw:        opts.KeepRaw,
		KeepClipped:    opts.KeepClipped,
	}

	fetcher := pipeline.NewDailyFetcher(client, chirps.Gunzip, store, area, opts.Resolution, retain, a.metrics, a.logger)
	months := pipeline.NewMonthProcessor(fetcher, a.cfg.RainThreshold, a.metrics, a.logger)
	averager := pipeline.NewYearRangeAverager(months, a.cfg.RoundingMode, a.metrics, a.logger)

	publisher, closePublisher := a.publisher()
	defer closePublisher()

	a.logger.Info("local run configured", "area", area.ID(), "years", opts.Years().String(), "resolution", res.String())
	return a.execute(pipeline.NewLocalRunner(averager, opts.Years(), publisher, a.metrics, a.logger))
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
