package app

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/pkgw/tectonopedia-ng/internal/config"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvHome    = "TTPEDIA_HOME"
	EnvAPIBase = "TTPEDIA_API_BASE"
)

// Config holds runtime wiring options for building the app.
type Config struct {
	Home        string        // state directory, e.g. $HOME/.ttpedia
	SyncURL     string        // sync peer, e.g. ws://127.0.0.1:29180/ttpapi1/repo/sync; empty runs offline
	APIBase     string        // API base URL, e.g. http://127.0.0.1:29180
	LoadTimeout time.Duration // 0 selects config.DefaultLoadTimeout
	HTTP        *http.Client  // optional; defaults to http.DefaultClient
}

// DefaultHome returns $TTPEDIA_HOME or ~/.ttpedia.
func DefaultHome() string {
	if h := os.Getenv(EnvHome); h != "" {
		return h
	}
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".ttpedia")
	}
	return ".ttpedia"
}

// ConfigFromEnv fills a Config from the environment.
func ConfigFromEnv() (Config, error) {
	home := DefaultHome()
	tc, err := config.FromEnv(home)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Home:        home,
		SyncURL:     tc.Endpoint,
		APIBase:     os.Getenv(EnvAPIBase),
		LoadTimeout: tc.LoadTimeout,
	}, nil
}
