// Package logging builds the logr.Logger used across the analyzer tools.
// Library packages accept a logr.Logger and default to logr.Discard; only
// commands construct a real backend.
package logging

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	uberzap "go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Verbosity levels for logger.V.
const (
	DEFAULT = 2
	VERBOSE = 3
	DEBUG   = 4
	TRACE   = 5
)

// Options selects the logger backend configuration.
type Options struct {
	// Development switches to a human-readable console encoder.
	Development bool
	// Verbosity enables V(n) messages for every n <= Verbosity.
	Verbosity int
}

// NewLogger builds a zap-backed logr.Logger.
func NewLogger(opts Options) (logr.Logger, error) {
	var cfg uberzap.Config
	if opts.Development {
		cfg = uberzap.NewDevelopmentConfig()
	} else {
		cfg = uberzap.NewProductionConfig()
		cfg.Sampling = nil
	}
	// logr V(n) maps onto zap level -n.
	cfg.Level = uberzap.NewAtomicLevelAt(zapcore.Level(int8(-opts.Verbosity)))

	zapLog, err := cfg.Build(uberzap.AddCaller())
	if err != nil {
		return logr.Discard(), fmt.Errorf("build logger: %w", err)
	}
	return zapr.NewLogger(zapLog), nil
}

// NewTestLogger creates a development logger with every level enabled.
func NewTestLogger() logr.Logger {
	log, err := NewLogger(Options{Development: true, Verbosity: TRACE})
	if err != nil {
		return logr.Discard()
	}
	return log
}
