package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/rainydays-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/rainydays-etl/internal/adapter/kafka"
	"github.com/couchcryptid/rainydays-etl/internal/adapter/retry"
	"github.com/couchcryptid/rainydays-etl/internal/config"
	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/observability"
	"github.com/couchcryptid/rainydays-etl/internal/pipeline"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// app carries the ambient wiring shared by the subcommands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "rainydays",
		Short: "Average monthly rainy days over an area from CHIRPS data",
		Long: `Compute, for each calendar month, the average number of days with rain per
cell of an area of interest across a range of years.

Ambient settings (logging, directories, retries, Kafka, the health server)
come from the environment and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.setup()
		},
	}
	root.AddCommand(newLocalCmd(a), newRemoteCmd(a))
	return root
}

func (a *app) setup() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.ConfigError("load .env", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	a.metrics = observability.NewMetrics()
	return nil
}

func (a *app) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts:     a.cfg.RetryMaxAttempts,
		InitialInterval: a.cfg.RetryInitialInterval,
		MaxInterval:     a.cfg.RetryMaxInterval,
	}
}

// publisher returns the Kafka artifact publisher, or nil when no brokers are
// configured. The returned close function is always safe to call.
func (a *app) publisher() (pipeline.ArtifactPublisher, func()) {
	if len(a.cfg.KafkaBrokers) == 0 {
		a.logger.Info("artifact events disabled")
		return nil, func() {}
	}
	w := kafkaadapter.NewWriter(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.logger)
	a.logger.Info("artifact events enabled", "topic", a.cfg.KafkaTopic)
	return w, func() {
		if err := w.Close(); err != nil {
			a.logger.Error("kafka writer close error", "error", err)
		}
	}
}

// job is a run that the health server can report on.
type job interface {
	httpadapter.RunMonitor
	Run(ctx context.Context) error
}

// execute runs j until it finishes or the process is signalled, serving
// health and metrics endpoints alongside when HTTP_ADDR is set.
func (a *app) execute(j job) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *httpadapter.Server
	if a.cfg.HTTPAddr != "" {
		srv = httpadapter.NewServer(a.cfg.HTTPAddr, j, a.logger)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", "error", err)
			}
		}()
	}

	err := j.Run(ctx)
	if ctx.Err() != nil {
		a.logger.Info("shutting down", "reason", ctx.Err())
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown error", "error", err)
		}
	}
	return err
}
