// Package config loads tool defaults from the environment. Command line
// flags take precedence over every value here.
package config

import (
	"fmt"
	"strconv"

	"github.com/caarlos0/env/v11"
)

// Config holds defaults shared by the otla commands.
type Config struct {
	LogDevelopment bool `env:"OTLA_LOG_DEV" envDefault:"true"`
	LogVerbosity   int  `env:"OTLA_LOG_LEVEL" envDefault:"2"`

	// SampleFreq converts cycle timestamps to time in VCD output. Zero keeps
	// raw cycles.
	SampleFreq uint64 `env:"OTLA_SAMPLE_FREQ" envDefault:"48000000"`
	ChunkSize  int    `env:"OTLA_CHUNK_SIZE" envDefault:"512"`

	// USB identifiers accept any base understood by strconv (0x prefix for hex).
	USBVendorID  string `env:"OTLA_USB_VID" envDefault:"0x20b7"`
	USBProductID string `env:"OTLA_USB_PID" envDefault:"0x9db1"`

	EventDepth  int    `env:"OTLA_EVENT_DEPTH" envDefault:"0"`
	DelayWidth  int    `env:"OTLA_DELAY_WIDTH" envDefault:"16"`
	MetricsAddr string `env:"OTLA_METRICS_ADDR"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ChunkSize <= 0 {
		return Config{}, fmt.Errorf("parse env: OTLA_CHUNK_SIZE must be positive, got %d", cfg.ChunkSize)
	}
	return cfg, nil
}

// ParseUSBID parses a 16-bit USB vendor or product identifier.
func ParseUSBID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB id %q: %w", s, err)
	}
	return uint16(v), nil
}
