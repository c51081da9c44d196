package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?" suggestions.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger.Debug("config file loaded", slog.String("path", path))

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logger.Debug("no config file, using defaults", slog.String("path", path))
		return DefaultConfig(), nil
	}

	return Load(path, logger)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath, logger)
	if err != nil {
		return nil, err
	}

	if env.APIURL != "" {
		cfg.APIURL = env.APIURL
	}

	if env.DevMode != nil {
		cfg.DevMode = *env.DevMode
	}

	if cli.APIURL != nil {
		cfg.APIURL = *cli.APIURL
	}

	if cli.DevMode != nil {
		cfg.DevMode = *cli.DevMode
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	resolved := toResolved(cfg, cfgPath)

	logger.Debug("config resolved",
		slog.String("config_path", resolved.ConfigPath),
		slog.String("api_url", resolved.APIURL),
		slog.Bool("dev_mode", resolved.DevMode),
	)

	return resolved, nil
}

// toResolved converts a validated Config. Durations have already been
// checked by Validate, so parse errors cannot occur here.
func toResolved(cfg *Config, cfgPath string) *Resolved {
	r := &Resolved{
		ConfigPath:          cfgPath,
		APIURL:              strings.TrimRight(cfg.APIURL, "/"),
		DevMode:             cfg.DevMode,
		RequestTimeout:      mustDuration(cfg.RequestTimeout),
		RateLimit:           cfg.RateLimit,
		RateBurst:           cfg.RateBurst,
		SingleFlightRefresh: cfg.SingleFlightRefresh,
		UserAgent:           cfg.UserAgent,
		LogLevel:            cfg.LogLevel,
		LogFormat:           cfg.LogFormat,
		PollInterval:        mustDuration(cfg.PollInterval),
		QRTimeout:           mustDuration(cfg.QRTimeout),
		HealthEndpoints:     append([]string(nil), cfg.HealthEndpoints...),
		HealthWorkers:       cfg.HealthWorkers,
		TokenFile:           cfg.TokenFile,
		SessionDB:           cfg.SessionDB,
	}

	if r.TokenFile == "" {
		r.TokenFile = DefaultTokenPath()
	}

	if r.SessionDB == "" {
		r.SessionDB = DefaultSessionDBPath()
	}

	return r
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("config: unvalidated duration %q", s))
	}

	return d
}
