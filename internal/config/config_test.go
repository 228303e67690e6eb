package config

import (
	"testing"
	"time"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "rainydays-artifacts", cfg.KafkaTopic)
	assert.Equal(t, "tmp", cfg.TmpDir)
	assert.Equal(t, "data", cfg.DataDir)
	assert.Equal(t, "out", cfg.OutDir)
	assert.Equal(t, DefaultChirpsURLTemplate, cfg.ChirpsURLTemplate)
	assert.Equal(t, 2*time.Minute, cfg.FetchTimeout)
	assert.Equal(t, 4, cfg.RetryMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryInitialInterval)
	assert.Equal(t, 10*time.Second, cfg.RetryMaxInterval)
	assert.Equal(t, domain.RoundHalfEven, cfg.RoundingMode)
	assert.Equal(t, 1e-8, cfg.RainThreshold)
	assert.Equal(t, 1e-5, cfg.RemoteThreshold)
	assert.Equal(t, "UCSB-CHG/CHIRPS/DAILY", cfg.RemoteCollection)
	assert.Equal(t, "precipitation", cfg.RemoteBand)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_TOPIC", "custom-artifacts")
	t.Setenv("TMP_DIR", "/scratch/tmp")
	t.Setenv("FETCH_TIMEOUT", "30s")
	t.Setenv("RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("ROUNDING_MODE", "half-away-from-zero")
	t.Setenv("RAIN_THRESHOLD", "0.5")
	t.Setenv("REMOTE_BASE_URL", "https://agg.example.com")
	t.Setenv("REMOTE_CREDENTIALS_FILE", "/secrets/sa.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-artifacts", cfg.KafkaTopic)
	assert.Equal(t, "/scratch/tmp", cfg.TmpDir)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 7, cfg.RetryMaxAttempts)
	assert.Equal(t, domain.RoundHalfAwayFromZero, cfg.RoundingMode)
	assert.Equal(t, 0.5, cfg.RainThreshold)
	assert.Equal(t, "https://agg.example.com", cfg.RemoteBaseURL)
	assert.Equal(t, "/secrets/sa.json", cfg.RemoteCredentialsFile)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad fetch timeout", "FETCH_TIMEOUT", "soon"},
		{"negative retry interval", "RETRY_INITIAL_INTERVAL", "-1s"},
		{"zero attempts", "RETRY_MAX_ATTEMPTS", "0"},
		{"bad rounding", "ROUNDING_MODE", "up"},
		{"negative threshold", "RAIN_THRESHOLD", "-1"},
		{"non-numeric remote threshold", "REMOTE_THRESHOLD", "wet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.ErrorIs(t, err, domain.ErrConfig)
		})
	}
}

func TestLoad_RetryIntervalsMustBeOrdered(t *testing.T) {
	t.Setenv("RETRY_INITIAL_INTERVAL", "20s")
	t.Setenv("RETRY_MAX_INTERVAL", "1s")
	_, err := Load()
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestOptions_Validate(t *testing.T) {
	clk := clockwork.NewFakeClockAt(time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	valid := Options{Resolution: domain.ResolutionP25, Scale: 5000, YearMin: 2001, YearMax: 2020}

	tests := []struct {
		name    string
		mutate  func(*Options)
		source  string
		wantErr bool
	}{
		{"valid local", func(*Options) {}, domain.SourceLocal, false},
		{"valid remote", func(*Options) {}, domain.SourceRemote, false},
		{"single year", func(o *Options) { o.YearMin, o.YearMax = 2020, 2020 }, domain.SourceLocal, false},
		{"current year allowed", func(o *Options) { o.YearMax = 2024 }, domain.SourceLocal, false},
		{"before record", func(o *Options) { o.YearMin = 1980 }, domain.SourceLocal, true},
		{"reversed", func(o *Options) { o.YearMin, o.YearMax = 2020, 2001 }, domain.SourceLocal, true},
		{"future", func(o *Options) { o.YearMax = 2025 }, domain.SourceLocal, true},
		{"bad resolution", func(o *Options) { o.Resolution = "p10" }, domain.SourceLocal, true},
		{"resolution ignored remotely", func(o *Options) { o.Resolution = "" }, domain.SourceRemote, false},
		{"scale too small", func(o *Options) { o.Scale = 499 }, domain.SourceRemote, true},
		{"scale ignored locally", func(o *Options) { o.Scale = 0 }, domain.SourceLocal, false},
		{"unknown source", func(*Options) {}, "cloud", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			tt.mutate(&o)
			err := o.Validate(clk, tt.source)
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrConfig)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestOptions_Years(t *testing.T) {
	o := Options{YearMin: 2001, YearMax: 2003}
	assert.Equal(t, domain.YearSpan{Min: 2001, Max: 2003}, o.Years())
	assert.Equal(t, 3, o.Years().Count())
}
