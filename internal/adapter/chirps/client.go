// Package chirps downloads CHIRPS v2 daily global precipitation rasters.
package chirps

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/couchcryptid/rainydays-etl/internal/adapter/retry"
	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/observability"
	"github.com/klauspost/compress/gzip"
	"github.com/yosida95/uritemplate/v3"
)

// maxErrorBody caps how much of a failed response is kept for the error message.
const maxErrorBody = 512

var gzipMagic = []byte{0x1f, 0x8b}

// Client fetches daily compressed GeoTIFFs from a URL template with the
// variables resolution, year, month and day.
type Client struct {
	template   *uritemplate.Template
	httpClient *http.Client
	retry      retry.Policy
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient parses urlTemplate and builds a client whose requests each time
// out after timeout.
func NewClient(urlTemplate string, timeout time.Duration, policy retry.Policy, metrics *observability.Metrics, logger *slog.Logger) (*Client, error) {
	tmpl, err := uritemplate.New(urlTemplate)
	if err != nil {
		return nil, domain.ConfigError("parse chirps url template", err)
	}
	return &Client{
		template: tmpl,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		retry:   policy,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// URL expands the template for one day. Month and day are zero-padded.
func (c *Client) URL(res domain.Resolution, day time.Time) (string, error) {
	vars := uritemplate.Values{}
	vars.Set("resolution", uritemplate.String(res.String()))
	vars.Set("year", uritemplate.String(fmt.Sprintf("%04d", day.Year())))
	vars.Set("month", uritemplate.String(fmt.Sprintf("%02d", int(day.Month()))))
	vars.Set("day", uritemplate.String(fmt.Sprintf("%02d", day.Day())))
	return c.template.Expand(vars)
}

// FetchDaily downloads the gzip-compressed GeoTIFF for day. Transient
// failures are retried; 4xx responses and payloads that are not gzip are not.
func (c *Client) FetchDaily(ctx context.Context, res domain.Resolution, day time.Time) ([]byte, error) {
	u, err := c.URL(res, day)
	if err != nil {
		return nil, domain.FetchError("expand chirps url", err)
	}

	var body []byte
	onRetry := func(err error, wait time.Duration) {
		c.metrics.FetchRetries.Inc()
		c.logger.Warn("chirps download failed, retrying", "url", u, "wait", wait, "error", err)
	}
	err = retry.Do(ctx, c.retry, onRetry, func() error {
		b, err := c.doRequest(ctx, u)
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(b, gzipMagic) {
			return retry.Permanent(fmt.Errorf("%s: payload is not gzip (%d bytes)", u, len(b)))
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, domain.FetchError("fetch chirps daily", err)
	}

	c.metrics.BytesDownloaded.Add(float64(len(body)))
	c.logger.Debug("chirps day downloaded", "date", day.Format(time.DateOnly), "bytes", len(body))
	return body, nil
}

func (c *Client) doRequest(ctx context.Context, fullURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("create request: %w", err))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chirps request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &retry.StatusError{URL: fullURL, Status: resp.StatusCode, Body: string(body)}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chirps response: %w", err)
	}
	return b, nil
}

// Gunzip decompresses a downloaded day into w. Corrupt input is a decode
// error; failing to write is an IO error.
func Gunzip(w io.Writer, r io.Reader) error {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return domain.DecodeError("open gzip", err)
	}
	defer zr.Close()

	src := &readTracker{r: zr}
	if _, err := io.Copy(w, src); err != nil {
		if src.err != nil {
			return domain.DecodeError("decompress day", err)
		}
		return domain.IOError("decompress day", err)
	}
	return nil
}

// readTracker remembers the first non-EOF read error.
type readTracker struct {
	r   io.Reader
	err error
}

func (t *readTracker) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && t.err == nil {
		t.err = err
	}
	return n, err
}
