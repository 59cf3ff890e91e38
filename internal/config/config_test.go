package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pkgw/tectonopedia-ng/internal/config"
	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.SyncTransportConfig
		ok   bool
	}{
		{"offline memory", config.SyncTransportConfig{Storage: config.MemoryStorage}, true},
		{"ws endpoint", config.SyncTransportConfig{Endpoint: "ws://localhost:29180/ttpapi1/repo/sync", Storage: "/tmp/docs"}, true},
		{"wss endpoint", config.SyncTransportConfig{Endpoint: "wss://pedia.example.org/sync", Storage: "/tmp/docs"}, true},
		{"no storage", config.SyncTransportConfig{Endpoint: "ws://localhost/"}, false},
		{"http scheme", config.SyncTransportConfig{Endpoint: "http://localhost/", Storage: "x"}, false},
		{"no host", config.SyncTransportConfig{Endpoint: "ws:///path", Storage: "x"}, false},
		{"garbage", config.SyncTransportConfig{Endpoint: "ws://[::1", Storage: "x"}, false},
		{"credentials", config.SyncTransportConfig{Endpoint: "ws://u:p@host/", Storage: "x"}, false},
		{"negative timeout", config.SyncTransportConfig{Storage: "x", LoadTimeout: -time.Second}, false},
		{"inverted backoff", config.SyncTransportConfig{Storage: "x", MinBackoff: time.Second, MaxBackoff: time.Millisecond}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, domain.ErrInvalidConfig)
			}
		})
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := config.SyncTransportConfig{Storage: config.MemoryStorage, LoadTimeout: time.Second}.WithDefaults()
	require.Equal(t, time.Second, cfg.LoadTimeout)
	require.Equal(t, config.DefaultMinBackoff, cfg.MinBackoff)
	require.Equal(t, config.DefaultMaxBackoff, cfg.MaxBackoff)
	require.True(t, cfg.Offline())
}

func TestFromEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv(config.EnvSyncURL, "ws://127.0.0.1:29180/ttpapi1/repo/sync")
	t.Setenv(config.EnvLoadTimeout, "5s")

	cfg, err := config.FromEnv(home)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "docs"), cfg.Storage)
	require.Equal(t, 5*time.Second, cfg.LoadTimeout)
	require.False(t, cfg.Offline())

	t.Setenv(config.EnvLoadTimeout, "soon")
	_, err = config.FromEnv(home)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)

	t.Setenv(config.EnvLoadTimeout, "")
	t.Setenv(config.EnvSyncURL, "tcp://nope")
	_, err = config.FromEnv(home)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
}
