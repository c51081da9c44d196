package config

import (
	"log/slog"
	"os"
	"strconv"
)

// Environment variable names for overrides.
const (
	EnvConfig = "WAGATE_CONFIG"
	EnvAPIURL = "WAGATE_API_URL"
	EnvDev    = "WAGATE_DEV"

	// EnvDashboardAPIURL is the dashboard's build-time variable, honored so a
	// shared .env works for both.
	EnvDashboardAPIURL = "NEXT_PUBLIC_API_URL"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string
	APIURL     string
	DevMode    *bool
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. WAGATE_API_URL wins over NEXT_PUBLIC_API_URL. An unparsable
// WAGATE_DEV is logged and ignored.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	env := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		APIURL:     os.Getenv(EnvAPIURL),
	}

	if env.APIURL == "" {
		env.APIURL = os.Getenv(EnvDashboardAPIURL)
	}

	if raw := os.Getenv(EnvDev); raw != "" {
		dev, err := strconv.ParseBool(raw)
		if err != nil {
			logger.Warn("ignoring invalid environment value",
				slog.String("var", EnvDev), slog.String("value", raw))
		} else {
			env.DevMode = &dev
		}
	}

	logger.Debug("environment overrides",
		slog.String("config_path", env.ConfigPath),
		slog.String("api_url", env.APIURL),
		slog.Bool("dev_set", env.DevMode != nil),
	)

	return env
}
