// Package logging constructs the structured logger shared by the
// manager and transport packages.
package logging

import "go.uber.org/zap"

// New builds a production logger, or a development logger with
// human-readable output when debug is true.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Nop returns a logger that discards everything, for tests and callers
// that don't want log output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
