// Package browserproc optionally launches a local Chromium/Chrome
// process for callers that don't already have one running, so the
// manager always has a discovery address to dial.
package browserproc

import (
	"errors"
	"os"
	"os/exec"
)

// ErrChromeNotFound is returned when no Chrome/Chromium binary can be
// located.
var ErrChromeNotFound = errors.New("chrome not found")

// chromeEnvVar, when set, names the binary to use and skips every
// other candidate.
const chromeEnvVar = "CDPFLEET_CHROME"

// DefaultChromeSearchPaths is the candidate list Launch hands to
// FindChrome when LaunchOptions.SearchPaths is empty (a caller supplies
// its own typically via config.Config.ChromeSearchPaths). FindChrome
// itself searches only the candidates it is given. Every supported platform's entries
// live in one flat list rather than a per-OS switch: a path that
// doesn't apply to the running OS just fails its lookup and is
// skipped, so adding a platform means appending entries, not adding a
// branch.
var DefaultChromeSearchPaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
	"google-chrome",
	"chromium",
	"chromium-browser",
}

// FindChrome resolves a Chrome or Chromium binary. chromeEnvVar wins
// if set; failing that, each of candidates is tried in order through
// exec.LookPath, which resolves both absolute paths and bare command
// names against PATH.
func FindChrome(candidates []string) (string, error) {
	if envPath := os.Getenv(chromeEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
		return "", ErrChromeNotFound
	}

	for _, candidate := range candidates {
		if found, err := exec.LookPath(candidate); err == nil {
			return found, nil
		}
	}

	return "", ErrChromeNotFound
}
