package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a debug-level logger so config debug output appears in
// test output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeTestConfig(t, `
api_url = "https://gw.example.com/api/v1"
dev_mode = true
request_timeout = "10s"
rate_limit = 5
rate_burst = 2
single_flight_refresh = true
user_agent = "ops-bot/1.0"
log_level = "debug"
log_format = "json"
poll_interval = "1s"
qr_timeout = "90s"
health_endpoints = ["/health", "/whatsapp/sessions"]
health_workers = 2
token_file = "/tmp/wagate/token.json"
session_db = "/tmp/wagate/session.db"
`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "https://gw.example.com/api/v1", cfg.APIURL)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, "10s", cfg.RequestTimeout)
	assert.InDelta(t, 5.0, cfg.RateLimit, 0)
	assert.Equal(t, 2, cfg.RateBurst)
	assert.True(t, cfg.SingleFlightRefresh)
	assert.Equal(t, "ops-bot/1.0", cfg.UserAgent)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "1s", cfg.PollInterval)
	assert.Equal(t, "90s", cfg.QRTimeout)
	assert.Equal(t, []string{"/health", "/whatsapp/sessions"}, cfg.HealthEndpoints)
	assert.Equal(t, 2, cfg.HealthWorkers)
	assert.Equal(t, "/tmp/wagate/token.json", cfg.TokenFile)
	assert.Equal(t, "/tmp/wagate/session.db", cfg.SessionDB)
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	path := writeTestConfig(t, `log_level = "warn"`)

	cfg, err := Load(path, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, defaultAPIURL, cfg.APIURL)
	assert.Equal(t, defaultPollInterval, cfg.PollInterval)
	assert.Equal(t, []string{"/health"}, cfg.HealthEndpoints)
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeTestConfig(t, `api_url = `)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestLoad_ValidationErrorsJoined(t *testing.T) {
	path := writeTestConfig(t, `
api_url = "ftp://gw.example.com"
log_level = "loud"
poll_interval = "10ms"
health_workers = 0
`)

	_, err := Load(path, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_url")
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "poll_interval")
	assert.Contains(t, err.Error(), "health_workers")
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.toml"), testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolve_Defaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/data")

	cfgPath := filepath.Join(t.TempDir(), "absent.toml")

	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: cfgPath}, testLogger(t))
	require.NoError(t, err)

	assert.Equal(t, cfgPath, r.ConfigPath)
	assert.Equal(t, defaultAPIURL, r.APIURL)
	assert.Equal(t, 30*time.Second, r.RequestTimeout)
	assert.Equal(t, 3*time.Second, r.PollInterval)
	assert.Equal(t, 2*time.Minute, r.QRTimeout)
	assert.False(t, r.DevMode)
	assert.Equal(t, DefaultTokenPath(), r.TokenFile)
	assert.Equal(t, DefaultSessionDBPath(), r.SessionDB)
}

func TestResolve_OverrideChain(t *testing.T) {
	path := writeTestConfig(t, `
api_url = "https://file.example.com/api/v1"
dev_mode = false
`)

	envDev := true

	// env beats file
	r, err := Resolve(EnvOverrides{ConfigPath: path, APIURL: "https://env.example.com/api/v1", DevMode: &envDev},
		CLIOverrides{}, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com/api/v1", r.APIURL)
	assert.True(t, r.DevMode)

	// CLI beats env
	cliURL := "https://cli.example.com/api/v1/"
	cliDev := false

	r, err = Resolve(EnvOverrides{ConfigPath: path, APIURL: "https://env.example.com/api/v1", DevMode: &envDev},
		CLIOverrides{APIURL: &cliURL, DevMode: &cliDev}, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "https://cli.example.com/api/v1", r.APIURL, "trailing slash trimmed")
	assert.False(t, r.DevMode)
}

func TestResolve_CLIConfigPathBeatsEnv(t *testing.T) {
	envPath := writeTestConfig(t, `log_level = "error"`)
	cliPath := writeTestConfig(t, `log_level = "debug"`)

	r, err := Resolve(EnvOverrides{ConfigPath: envPath}, CLIOverrides{ConfigPath: cliPath}, testLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "debug", r.LogLevel)
}

func TestResolve_InvalidOverride(t *testing.T) {
	bad := "not a url"

	_, err := Resolve(EnvOverrides{}, CLIOverrides{
		ConfigPath: filepath.Join(t.TempDir(), "absent.toml"),
		APIURL:     &bad,
	}, testLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_url")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"missing host", func(c *Config) { c.APIURL = "http://" }, "missing host"},
		{"timeout too short", func(c *Config) { c.RequestTimeout = "100ms" }, "request_timeout"},
		{"timeout unparsable", func(c *Config) { c.RequestTimeout = "soon" }, "invalid duration"},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }, "rate_limit"},
		{"rate without burst", func(c *Config) { c.RateLimit = 2; c.RateBurst = 0 }, "rate_burst"},
		{"burst ignored without rate", func(c *Config) { c.RateBurst = 0 }, ""},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"qr shorter than poll", func(c *Config) { c.QRTimeout = "1s" }, "qr_timeout"},
		{"no endpoints", func(c *Config) { c.HealthEndpoints = nil }, "at least one"},
		{"relative endpoint", func(c *Config) { c.HealthEndpoints = []string{"health"} }, "must start with /"},
		{"too many workers", func(c *Config) { c.HealthWorkers = 100 }, "health_workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
