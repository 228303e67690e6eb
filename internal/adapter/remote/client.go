// Package remote talks to the aggregation service that computes monthly
// rainy-day sums server-side.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/couchcryptid/rainydays-etl/internal/adapter/retry"
	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/geotiff"
	"github.com/couchcryptid/rainydays-etl/internal/observability"
)

const maxErrorBody = 512

// Settings describe the service endpoint and the dataset to aggregate.
type Settings struct {
	BaseURL    string
	Collection string
	Band       string
	Timeout    time.Duration
	Retry      retry.Policy
}

// Session is an authenticated connection bound to one area of interest.
type Session struct {
	settings   Settings
	base       *url.URL
	region     json.RawMessage
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
}

func newSession(s Settings, region []byte, httpClient *http.Client, metrics *observability.Metrics, logger *slog.Logger) (*Session, error) {
	base, err := url.Parse(strings.TrimSuffix(s.BaseURL, "/") + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, domain.ConfigError("parse remote base url", fmt.Errorf("invalid base url %q", s.BaseURL))
	}
	httpClient.Timeout = s.Timeout
	return &Session{
		settings:   s,
		base:       base,
		region:     region,
		httpClient: httpClient,
		metrics:    metrics,
		logger:     logger,
	}, nil
}

type aggregateRequest struct {
	Collection string          `json:"collection"`
	Band       string          `json:"band"`
	Start      string          `json:"start"`
	End        string          `json:"end"`
	Month      int             `json:"month"`
	Threshold  float64         `json:"threshold"`
	Region     json.RawMessage `json:"region"`
	Scale      int             `json:"scale"`
	Format     string          `json:"format"`
}

type aggregateResponse struct {
	URL string `json:"url"`
}

// SumRainyDays asks the service for the month's indicator sum and downloads
// the resulting GeoTIFF.
func (s *Session) SumRainyDays(ctx context.Context, q domain.RemoteQuery) (*domain.Raster, error) {
	body, err := json.Marshal(aggregateRequest{
		Collection: s.settings.Collection,
		Band:       s.settings.Band,
		Start:      q.Start().Format(time.DateOnly),
		End:        q.End().Format(time.DateOnly),
		Month:      q.Month,
		Threshold:  q.Threshold,
		Region:     s.region,
		Scale:      q.Scale,
		Format:     "GEO_TIFF",
	})
	if err != nil {
		return nil, domain.FetchError("encode aggregate request", err)
	}

	endpoint := s.base.ResolveReference(&url.URL{Path: "v1/aggregate"}).String()
	var resp aggregateResponse
	err = s.withRetry(ctx, endpoint, func() error {
		b, err := s.doRequest(ctx, http.MethodPost, endpoint, body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(b, &resp); err != nil {
			return retry.Permanent(fmt.Errorf("decode aggregate response: %w", err))
		}
		if resp.URL == "" {
			return retry.Permanent(errors.New("aggregate response has no download url"))
		}
		return nil
	})
	if err != nil {
		return nil, domain.FetchError("request remote aggregate", err)
	}

	ref, err := url.Parse(resp.URL)
	if err != nil {
		return nil, domain.FetchError("parse download url", err)
	}
	download := s.base.ResolveReference(ref).String()

	var tif []byte
	err = s.withRetry(ctx, download, func() error {
		b, err := s.doRequest(ctx, http.MethodGet, download, nil)
		tif = b
		return err
	})
	if err != nil {
		return nil, domain.FetchError("download remote aggregate", err)
	}
	s.logger.Debug("remote aggregate downloaded", "month", q.Month, "bytes", len(tif))

	r, err := geotiff.Decode(bytes.NewReader(tif))
	if err != nil {
		return nil, fmt.Errorf("decode remote aggregate: %w", err)
	}
	return r, nil
}

func (s *Session) withRetry(ctx context.Context, target string, op func() error) error {
	onRetry := func(err error, wait time.Duration) {
		s.metrics.FetchRetries.Inc()
		s.logger.Warn("remote call failed, retrying", "url", target, "wait", wait, "error", err)
	}
	return retry.Do(ctx, s.settings.Retry, onRetry, op)
}

func (s *Session) doRequest(ctx context.Context, method, fullURL string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, rd)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, fullURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &retry.StatusError{URL: fullURL, Status: resp.StatusCode, Body: string(b)}
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", fullURL, err)
	}
	return b, nil
}
