package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// DefaultChirpsURLTemplate addresses the CHC daily global GeoTIFF archive.
const DefaultChirpsURLTemplate = "https://data.chc.ucsb.edu/products/CHIRPS-2.0/global_daily/tifs/{resolution}/{year}/chirps-v2.0.{year}.{month}.{day}.tif.gz"

// Config holds the ambient settings, populated from environment variables.
type Config struct {
	LogLevel        string
	LogFormat       string
	HTTPAddr        string // empty disables the health/metrics server
	ShutdownTimeout time.Duration

	KafkaBrokers []string // empty disables artifact events
	KafkaTopic   string

	TmpDir  string
	DataDir string
	OutDir  string

	ChirpsURLTemplate    string
	FetchTimeout         time.Duration
	RetryMaxAttempts     int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	RoundingMode  domain.RoundingMode
	RainThreshold float64

	// Remote aggregation service.
	RemoteBaseURL         string
	RemoteCredentialsFile string
	RemoteCollection      string
	RemoteBand            string
	RemoteThreshold       float64
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, domain.ConfigError("load config", err)
	}

	cfg := &Config{
		LogLevel:              sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:             sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		HTTPAddr:              os.Getenv("HTTP_ADDR"),
		ShutdownTimeout:       shutdownTimeout,
		KafkaTopic:            sharedcfg.EnvOrDefault("KAFKA_TOPIC", "rainydays-artifacts"),
		TmpDir:                sharedcfg.EnvOrDefault("TMP_DIR", "tmp"),
		DataDir:               sharedcfg.EnvOrDefault("DATA_DIR", "data"),
		OutDir:                sharedcfg.EnvOrDefault("OUT_DIR", "out"),
		ChirpsURLTemplate:     sharedcfg.EnvOrDefault("CHIRPS_URL_TEMPLATE", DefaultChirpsURLTemplate),
		RemoteBaseURL:         os.Getenv("REMOTE_BASE_URL"),
		RemoteCredentialsFile: os.Getenv("REMOTE_CREDENTIALS_FILE"),
		RemoteCollection:      sharedcfg.EnvOrDefault("REMOTE_COLLECTION", "UCSB-CHG/CHIRPS/DAILY"),
		RemoteBand:            sharedcfg.EnvOrDefault("REMOTE_BAND", "precipitation"),
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	var errs []error
	cfg.FetchTimeout = parseDuration("FETCH_TIMEOUT", "2m", &errs)
	cfg.RetryInitialInterval = parseDuration("RETRY_INITIAL_INTERVAL", "500ms", &errs)
	cfg.RetryMaxInterval = parseDuration("RETRY_MAX_INTERVAL", "10s", &errs)
	cfg.RetryMaxAttempts = parsePositiveInt("RETRY_MAX_ATTEMPTS", 4, &errs)
	cfg.RainThreshold = parseThreshold("RAIN_THRESHOLD", domain.DefaultRainThreshold, &errs)
	cfg.RemoteThreshold = parseThreshold("REMOTE_THRESHOLD", 1e-5, &errs)

	mode, err := domain.ParseRoundingMode(sharedcfg.EnvOrDefault("ROUNDING_MODE", string(domain.DefaultRoundingMode)))
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RoundingMode = mode

	if cfg.KafkaTopic == "" {
		errs = append(errs, errors.New("KAFKA_TOPIC is required"))
	}
	if cfg.RetryMaxInterval < cfg.RetryInitialInterval {
		errs = append(errs, errors.New("RETRY_MAX_INTERVAL must not be below RETRY_INITIAL_INTERVAL"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, domain.ConfigError("load config", err)
	}
	return cfg, nil
}

func parseDuration(name, def string, errs *[]error) time.Duration {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(name, def))
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s", name))
		return 0
	}
	return d
}

func parsePositiveInt(name string, def int, errs *[]error) int {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s", name))
		return 0
	}
	return n
}

func parseThreshold(name string, def float64, errs *[]error) float64 {
	s := os.Getenv(name)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s", name))
		return 0
	}
	return v
}
