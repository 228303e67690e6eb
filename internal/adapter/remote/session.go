package remote

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/observability"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scope is the OAuth scope requested for the service account.
const Scope = "https://www.googleapis.com/auth/earthengine"

// Region is the area geometry uploaded with every request.
type Region interface {
	GeoJSON() ([]byte, error)
}

// SessionFactory opens the session on first use and hands the same session
// out afterwards. A failed open is retried on the next call.
type SessionFactory struct {
	settings        Settings
	credentialsFile string
	region          Region
	metrics         *observability.Metrics
	logger          *slog.Logger

	mu      sync.Mutex
	session *Session
}

// NewSessionFactory prepares a factory. Nothing is read or authenticated
// until Open is called. An empty credentialsFile means unauthenticated
// requests.
func NewSessionFactory(settings Settings, credentialsFile string, region Region, metrics *observability.Metrics, logger *slog.Logger) *SessionFactory {
	return &SessionFactory{
		settings:        settings,
		credentialsFile: credentialsFile,
		region:          region,
		metrics:         metrics,
		logger:          logger,
	}
}

// Open returns the memoized session, creating it on the first call.
func (f *SessionFactory) Open(ctx context.Context) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session != nil {
		return f.session, nil
	}

	region, err := f.region.GeoJSON()
	if err != nil {
		return nil, domain.ProjectionError("encode area for remote session", err)
	}

	httpClient := &http.Client{}
	if f.credentialsFile != "" {
		f.logger.Info("checking remote credentials", "file", f.credentialsFile)
		httpClient, err = authenticatedClient(ctx, f.credentialsFile)
		if err != nil {
			return nil, err
		}
	}

	s, err := newSession(f.settings, region, httpClient, f.metrics, f.logger)
	if err != nil {
		return nil, err
	}
	f.session = s
	return s, nil
}

// authenticatedClient builds an HTTP client that attaches service-account
// tokens to every request.
func authenticatedClient(ctx context.Context, path string) (*http.Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.ConfigError("read remote credentials", err)
	}

	var sa struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(data, &sa); err != nil {
		return nil, domain.ConfigError("parse remote credentials", err)
	}
	if sa.ClientEmail == "" {
		return nil, domain.ConfigError("parse remote credentials", errors.New("client_email is missing"))
	}

	creds, err := google.CredentialsFromJSON(ctx, data, Scope)
	if err != nil {
		return nil, domain.ConfigError("load remote credentials", err)
	}
	return oauth2.NewClient(context.WithoutCancel(ctx), creds.TokenSource), nil
}
