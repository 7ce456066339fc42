// Package config loads process configuration from the environment.
package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config carries every external-interface setting the manager and tab
// packages need at startup. All durations are parsed natively by
// envconfig from strings like
// "30s" or "500ms".
type Config struct {
	// BrowserAddr is the host:port of the browser's discovery endpoint.
	BrowserAddr string `envconfig:"BROWSER_ADDR" default:"localhost:9222"`

	// MaxTabs caps concurrent tabs; 0 disables the cap.
	MaxTabs int `envconfig:"MAX_TABS" default:"0"`

	// ConnectTimeout bounds the initial bootstrap+dial.
	ConnectTimeout time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`

	// ReadTimeout bounds a single control-plane round-trip when the
	// caller does not supply its own.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`

	// DefaultTimeout bounds the Browser.getVersion call of the CLI's
	// dial command. It is not applied as a fallback to other commands
	// or to create requests.
	DefaultTimeout time.Duration `envconfig:"DEFAULT_TIMEOUT" default:"30s"`

	// HealthInterval is the period between Browser.getVersion checks.
	HealthInterval time.Duration `envconfig:"HEALTH_INTERVAL" default:"30s"`

	// OperationTimeout is the per-tab timeout the CLI passes as
	// tab.Options.Timeout, which bounds the tab's create request.
	// Individual tab commands take their own timeout and do not use it.
	OperationTimeout time.Duration `envconfig:"OPERATION_TIMEOUT" default:"30s"`

	// NavigationTimeout is the default per-tab timeout for navigation
	// waits.
	NavigationTimeout time.Duration `envconfig:"NAVIGATION_TIMEOUT" default:"30s"`

	// ChromeSearchPaths, when launching a browser this process owns,
	// overrides the built-in candidate list FindChrome searches.
	ChromeSearchPaths []string `envconfig:"CHROME_SEARCH_PATHS" default:"/usr/bin/google-chrome,/usr/bin/google-chrome-stable,/usr/bin/chromium,/usr/bin/chromium-browser,/snap/bin/chromium,/Applications/Google Chrome.app/Contents/MacOS/Google Chrome,/Applications/Chromium.app/Contents/MacOS/Chromium,google-chrome,chromium,chromium-browser"`
}

// Load reads configuration from the environment, applying the
// "CDPFLEET_" prefix to every variable (e.g. CDPFLEET_BROWSER_ADDR).
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("cdpfleet", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
