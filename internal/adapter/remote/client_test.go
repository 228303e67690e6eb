package remote

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/rainydays-etl/internal/adapter/retry"
	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/geotiff"
	"github.com/couchcryptid/rainydays-etl/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRegion = `{"type":"MultiPolygon","coordinates":[[[[0,0],[1,0],[1,1],[0,0]]]]}`

type fakeRegion struct{ calls atomic.Int32 }

func (r *fakeRegion) GeoJSON() ([]byte, error) {
	r.calls.Add(1)
	return []byte(testRegion), nil
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testSettings(baseURL string) Settings {
	return Settings{
		BaseURL:    baseURL,
		Collection: "UCSB-CHG/CHIRPS/DAILY",
		Band:       "precipitation",
		Timeout:    5 * time.Second,
		Retry:      retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	}
}

func sumRaster(t *testing.T) []byte {
	t.Helper()
	r := domain.NewRaster(domain.Metadata{
		Width: 2, Height: 1, Bands: 1, DataType: domain.Float64,
		Transform: domain.GeoTransform{0, 0.05, 0, 1, 0, -0.05}, EPSG: 4326,
	})
	copy(r.Data, []float64{12, 31})
	var buf bytes.Buffer
	require.NoError(t, geotiff.Encode(&buf, r))
	return buf.Bytes()
}

func june(years domain.YearSpan) domain.RemoteQuery {
	return domain.RemoteQuery{Years: years, Month: 6, Threshold: 1e-5, Scale: 5000}
}

// aggregateServer answers the aggregate call with a relative download url.
func aggregateServer(t *testing.T, tif []byte, seen *aggregateRequest) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/aggregate", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		_ = json.NewEncoder(w).Encode(aggregateResponse{URL: "/downloads/m06.tif"})
	})
	mux.HandleFunc("GET /downloads/m06.tif", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(tif)
	})
	return httptest.NewServer(mux)
}

func TestSession_SumRainyDays(t *testing.T) {
	var seen aggregateRequest
	srv := aggregateServer(t, sumRaster(t), &seen)
	defer srv.Close()

	s, err := newSession(testSettings(srv.URL), []byte(testRegion), &http.Client{}, observability.NewMetricsForTesting(), discardLogger())
	require.NoError(t, err)

	r, err := s.SumRainyDays(context.Background(), june(domain.YearSpan{Min: 2001, Max: 2010}))
	require.NoError(t, err)
	assert.Equal(t, []float64{12, 31}, r.Data)

	assert.Equal(t, "UCSB-CHG/CHIRPS/DAILY", seen.Collection)
	assert.Equal(t, "precipitation", seen.Band)
	assert.Equal(t, "2001-01-01", seen.Start)
	assert.Equal(t, "2011-01-01", seen.End)
	assert.Equal(t, 6, seen.Month)
	assert.Equal(t, 1e-5, seen.Threshold)
	assert.Equal(t, 5000, seen.Scale)
	assert.Equal(t, "GEO_TIFF", seen.Format)
	assert.JSONEq(t, testRegion, string(seen.Region))
}

func TestSession_ServiceErrors(t *testing.T) {
	tests := []struct {
		name      string
		handler   http.HandlerFunc
		wantCalls int32
	}{
		{"bad request is permanent", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad region", http.StatusBadRequest)
		}, 1},
		{"server error retried", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, 3},
		{"malformed json", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("{"))
		}, 1},
		{"missing url", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{}`))
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			s, err := newSession(testSettings(srv.URL), []byte(testRegion), &http.Client{}, observability.NewMetricsForTesting(), discardLogger())
			require.NoError(t, err)

			_, err = s.SumRainyDays(context.Background(), june(domain.YearSpan{Min: 2001, Max: 2002}))
			require.ErrorIs(t, err, domain.ErrFetch)
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestSession_CorruptDownload(t *testing.T) {
	var seen aggregateRequest
	srv := aggregateServer(t, []byte("not a tiff"), &seen)
	defer srv.Close()

	s, err := newSession(testSettings(srv.URL), []byte(testRegion), &http.Client{}, observability.NewMetricsForTesting(), discardLogger())
	require.NoError(t, err)

	_, err = s.SumRainyDays(context.Background(), june(domain.YearSpan{Min: 2001, Max: 2002}))
	require.ErrorIs(t, err, domain.ErrDecode)
}

func TestNewSession_InvalidBaseURL(t *testing.T) {
	_, err := newSession(testSettings("not a url"), nil, &http.Client{}, observability.NewMetricsForTesting(), discardLogger())
	require.ErrorIs(t, err, domain.ErrConfig)
}

func TestSessionFactory_OpensOnce(t *testing.T) {
	region := &fakeRegion{}
	f := NewSessionFactory(testSettings("http://agg.invalid"), "", region, observability.NewMetricsForTesting(), discardLogger())
	assert.Equal(t, int32(0), region.calls.Load(), "nothing happens before Open")

	s1, err := f.Open(context.Background())
	require.NoError(t, err)
	s2, err := f.Open(context.Background())
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, int32(1), region.calls.Load())
}

func TestSessionFactory_CredentialErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "absent.json")},
		{"not json", write("garbage.json", "not json")},
		{"no client email", write("noemail.json", `{"type":"service_account"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewSessionFactory(testSettings("http://agg.invalid"), tt.path, &fakeRegion{}, observability.NewMetricsForTesting(), discardLogger())
			_, err := f.Open(context.Background())
			require.ErrorIs(t, err, domain.ErrConfig)
		})
	}
}

func TestSessionFactory_ServiceAccountToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	var seen aggregateRequest
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-123","token_type":"Bearer","expires_in":3600}`))
	})
	tif := sumRaster(t)
	mux.HandleFunc("POST /v1/aggregate", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		_ = json.NewEncoder(w).Encode(aggregateResponse{URL: "/dl"})
	})
	mux.HandleFunc("GET /dl", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(tif) })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	creds, err := json.Marshal(map[string]string{
		"type":           "service_account",
		"project_id":     "rainydays-test",
		"private_key_id": "k1",
		"private_key":    string(keyPEM),
		"client_email":   "runner@rainydays-test.iam.gserviceaccount.com",
		"client_id":      "1",
		"token_uri":      srv.URL + "/token",
	})
	require.NoError(t, err)
	credPath := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(credPath, creds, 0o600))

	f := NewSessionFactory(testSettings(srv.URL), credPath, &fakeRegion{}, observability.NewMetricsForTesting(), discardLogger())
	s, err := f.Open(context.Background())
	require.NoError(t, err)

	r, err := s.SumRainyDays(context.Background(), june(domain.YearSpan{Min: 2020, Max: 2020}))
	require.NoError(t, err)
	assert.Equal(t, []float64{12, 31}, r.Data)
}
