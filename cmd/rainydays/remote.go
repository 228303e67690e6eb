package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/couchcryptid/rainydays-etl/internal/adapter/remote"
	"github.com/couchcryptid/rainydays-etl/internal/aoi"
	"github.com/couchcryptid/rainydays-etl/internal/cache"
	"github.com/couchcryptid/rainydays-etl/internal/config"
	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/pipeline"
	"github.com/spf13/cobra"
)

type remoteFlags struct {
	yearMin, yearMax int
	aoiPath          string
	credentials      string
	outDir           string
	scale            int
}

func newRemoteCmd(a *app) *cobra.Command {
	var f remoteFlags
	cmd := &cobra.Command{
		Use:     "remote",
		Aliases: []string{"geesrv"},
		Short:   "Compute the averages on the remote aggregation service",
		Long: `Ask the remote aggregation service for each month's rainy-day sum over the
area instead of downloading daily files. Months already present in the
output directory are skipped; delete a file to have it recomputed.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runRemote(a, f)
		},
	}
	fs := cmd.Flags()
	fs.IntVar(&f.yearMin, "miny", config.FirstChirpsYear, "first year of the period (inclusive)")
	fs.IntVar(&f.yearMax, "maxy", 2020, "last year of the period (inclusive)")
	fs.StringVar(&f.aoiPath, "aoi", "./aoi/aoi.shp", "shapefile or GeoJSON with the area of interest")
	fs.StringVar(&f.credentials, "gee-cred", "", "service account credentials file (default REMOTE_CREDENTIALS_FILE)")
	fs.StringVar(&f.outDir, "dir-out", "", "directory for the monthly averages (default OUT_DIR)")
	fs.IntVar(&f.scale, "data-resolution", 10000, "output pixel size in metres")
	return cmd
}

func runRemote(a *app, f remoteFlags) error {
	opts := config.Options{Scale: f.scale, YearMin: f.yearMin, YearMax: f.yearMax}
	if err := opts.Validate(domain.Clock(), domain.SourceRemote); err != nil {
		return err
	}
	if a.cfg.RemoteBaseURL == "" {
		return domain.ConfigError("configure remote", errors.New("REMOTE_BASE_URL is required"))
	}

	area, err := aoi.Load(f.aoiPath)
	if err != nil {
		return fmt.Errorf("load area of interest: %w", err)
	}

	settings := remote.Settings{
		BaseURL:    a.cfg.RemoteBaseURL,
		Collection: a.cfg.RemoteCollection,
		Band:       a.cfg.RemoteBand,
		Timeout:    a.cfg.FetchTimeout,
		Retry:      a.retryPolicy(),
	}
	factory := remote.NewSessionFactory(settings, orDefault(f.credentials, a.cfg.RemoteCredentialsFile), area, a.metrics, a.logger)
	open := func(ctx context.Context) (pipeline.Aggregator, error) {
		s, err := factory.Open(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	store := cache.NewFileStore(a.cfg.TmpDir, a.cfg.DataDir, orDefault(f.outDir, a.cfg.OutDir))
	publisher, closePublisher := a.publisher()
	defer closePublisher()

	run := pipeline.NewRemoteAggregator(open, store, pipeline.RemoteSettings{
		Years:     opts.Years(),
		Scale:     opts.Scale,
		Threshold: a.cfg.RemoteThreshold,
		Mode:      a.cfg.RoundingMode,
		AreaID:    area.ID(),
	}, publisher, a.metrics, a.logger)

	a.logger.Info("remote run configured", "area", area.ID(), "years", opts.Years().String(), "scale", opts.Scale)
	return a.execute(run)
}
