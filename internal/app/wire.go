package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/pkgw/tectonopedia-ng/internal/config"
	"github.com/pkgw/tectonopedia-ng/internal/crypto"
	"github.com/pkgw/tectonopedia-ng/internal/domain"
	"github.com/pkgw/tectonopedia-ng/internal/replica"
	identitysvc "github.com/pkgw/tectonopedia-ng/internal/services/identity"
	"github.com/pkgw/tectonopedia-ng/internal/store"
	"github.com/pkgw/tectonopedia-ng/internal/submit"
)

// Wire bundles all stores, services, and clients for the CLI.
type Wire struct {
	Keys      *store.KeyStore
	Identity  domain.IdentityProvider
	Submitter domain.Submitter
	Transport config.SyncTransportConfig
	HTTP      *http.Client
}

// NewWire constructs the dependency graph from cfg.
func NewWire(ctx context.Context, cfg Config) (*Wire, error) {
	if cfg.Home == "" {
		return nil, fmt.Errorf("%w: home directory is required", domain.ErrInvalidConfig)
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}

	// Sync transport first: a bad endpoint should fail before touching keys.
	tc := config.SyncTransportConfig{
		Endpoint:    cfg.SyncURL,
		Storage:     filepath.Join(cfg.Home, "docs"),
		LoadTimeout: cfg.LoadTimeout,
	}.WithDefaults()
	if err := tc.Validate(); err != nil {
		return nil, err
	}

	// Key store sealed under the device secret
	secret, err := store.LoadOrCreateDeviceSecret(cfg.Home)
	if err != nil {
		return nil, err
	}
	sealer, err := crypto.NewSealer(secret)
	crypto.Wipe(secret)
	if err != nil {
		return nil, err
	}
	keys, err := store.OpenKeyStore(ctx, domain.ClientContext(), cfg.Home, sealer)
	if err != nil {
		return nil, err
	}

	// Ensure an HTTP client is available for outbound calls
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	ids := identitysvc.New(keys, crypto.Platform{})
	sub := submit.NewHTTP(cfg.APIBase, ids)
	sub.HTTP = httpClient

	return &Wire{
		Keys:      keys,
		Identity:  ids,
		Submitter: sub,
		Transport: tc,
		HTTP:      httpClient,
	}, nil
}

// OpenSession opens a replica session with the wired transport configuration.
func (w *Wire) OpenSession(opts ...replica.Option) (*replica.Session, error) {
	return replica.Open(domain.ClientContext(), w.Transport, opts...)
}

// Close releases the key store.
func (w *Wire) Close() error { return w.Keys.Close() }
