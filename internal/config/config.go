package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

// MemoryStorage selects process-local document storage.
const MemoryStorage = "memory:"

const (
	DefaultLoadTimeout = 30 * time.Second
	DefaultMinBackoff  = 250 * time.Millisecond
	DefaultMaxBackoff  = 10 * time.Second
)

// Environment variables read by FromEnv.
const (
	EnvSyncURL     = "TTPEDIA_REPO_SYNC_URL"
	EnvLoadTimeout = "TTPEDIA_LOAD_TIMEOUT"
)

// SyncTransportConfig says how to reach one sync peer and where documents live.
type SyncTransportConfig struct {
	Endpoint    string        // ws:// or wss:// URL; empty runs offline-only
	Storage     string        // MemoryStorage or a directory path
	LoadTimeout time.Duration // bounded wait for a document the peer must supply
	MinBackoff  time.Duration // first reconnect delay
	MaxBackoff  time.Duration // reconnect delay ceiling
}

// Offline reports whether no endpoint is configured.
func (c SyncTransportConfig) Offline() bool { return c.Endpoint == "" }

// WithDefaults fills zero durations.
func (c SyncTransportConfig) WithDefaults() SyncTransportConfig {
	if c.LoadTimeout == 0 {
		c.LoadTimeout = DefaultLoadTimeout
	}
	if c.MinBackoff == 0 {
		c.MinBackoff = DefaultMinBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	return c
}

// Validate checks the configuration. Errors wrap domain.ErrInvalidConfig.
func (c SyncTransportConfig) Validate() error {
	if c.Storage == "" {
		return invalid("storage location is required")
	}
	if c.LoadTimeout < 0 || c.MinBackoff < 0 || c.MaxBackoff < 0 {
		return invalid("durations must not be negative")
	}
	if c.MinBackoff > 0 && c.MaxBackoff > 0 && c.MaxBackoff < c.MinBackoff {
		return invalid("max backoff %s is below min backoff %s", c.MaxBackoff, c.MinBackoff)
	}
	if c.Endpoint == "" {
		return nil
	}

	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return invalid("endpoint %q: %v", c.Endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return invalid("endpoint %q: scheme must be ws or wss", c.Endpoint)
	}
	if u.Host == "" || u.Hostname() == "" {
		return invalid("endpoint %q: missing host", c.Endpoint)
	}
	if u.Fragment != "" || u.User != nil {
		return invalid("endpoint %q: fragments and credentials are not allowed", c.Endpoint)
	}
	return nil
}

// FromEnv builds a configuration that stores documents under home/docs and
// reads the endpoint and load timeout from the environment.
func FromEnv(home string) (SyncTransportConfig, error) {
	cfg := SyncTransportConfig{
		Endpoint: os.Getenv(EnvSyncURL),
		Storage:  filepath.Join(home, "docs"),
	}
	if v := os.Getenv(EnvLoadTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return SyncTransportConfig{}, invalid("%s=%q: %v", EnvLoadTimeout, v, err)
		}
		cfg.LoadTimeout = d
	}
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidConfig}, args...)...)
}
