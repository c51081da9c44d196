// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for wagate. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
// All keys are flat; the embedded groups only organize the Go side.
type Config struct {
	APIConfig
	LoggingConfig
	SessionConfig
	HealthConfig
	StorageConfig
}

// APIConfig controls how the client talks to the gateway.
type APIConfig struct {
	APIURL              string  `toml:"api_url"`
	DevMode             bool    `toml:"dev_mode"`
	RequestTimeout      string  `toml:"request_timeout"`
	RateLimit           float64 `toml:"rate_limit"`
	RateBurst           int     `toml:"rate_burst"`
	SingleFlightRefresh bool    `toml:"single_flight_refresh"`
	UserAgent           string  `toml:"user_agent"`
}

// LoggingConfig controls log level and output format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// SessionConfig controls WhatsApp device-link polling.
type SessionConfig struct {
	PollInterval string `toml:"poll_interval"`
	QRTimeout    string `toml:"qr_timeout"`
}

// HealthConfig controls the health command's fan-out.
type HealthConfig struct {
	HealthEndpoints []string `toml:"health_endpoints"`
	HealthWorkers   int      `toml:"health_workers"`
}

// StorageConfig overrides where local state lives. Empty means the
// platform data directory.
type StorageConfig struct {
	TokenFile string `toml:"token_file"`
	SessionDB string `toml:"session_db"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	APIURL     *string // --api-url flag
	DevMode    *bool   // --dev flag
}

// Resolved is the fully merged, validated configuration with durations
// parsed and paths filled in.
type Resolved struct {
	ConfigPath          string
	APIURL              string
	DevMode             bool
	RequestTimeout      time.Duration
	RateLimit           float64
	RateBurst           int
	SingleFlightRefresh bool
	UserAgent           string
	LogLevel            string
	LogFormat           string
	PollInterval        time.Duration
	QRTimeout           time.Duration
	HealthEndpoints     []string
	HealthWorkers       int
	TokenFile           string
	SessionDB           string
}
