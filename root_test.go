package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagate-io/wagate/internal/apiclient"
	"github.com/wagate-io/wagate/internal/config"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests either
// set globals after newRootCmd() returns or let Cobra parse them via
// SetArgs + Execute.

func saveGlobals(t *testing.T) {
	t.Helper()

	oldCfg, oldVerbose, oldQuiet, oldJSON := resolvedCfg, flagVerbose, flagQuiet, flagJSON

	t.Cleanup(func() {
		resolvedCfg, flagVerbose, flagQuiet, flagJSON = oldCfg, oldVerbose, oldQuiet, oldJSON
	})
}

func TestBootstrapLogger(t *testing.T) {
	saveGlobals(t)

	flagVerbose = false
	logger := bootstrapLogger()
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelWarn))
	assert.False(t, logger.Handler().Enabled(context.Background(), slog.LevelInfo))

	flagVerbose = true
	logger = bootstrapLogger()
	assert.True(t, logger.Handler().Enabled(context.Background(), slog.LevelDebug))
}

func TestBuildLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		cfgLevel string
		verbose  bool
		quiet    bool
		enabled  slog.Level
		disabled slog.Level
	}{
		{"default info", "", false, false, slog.LevelInfo, slog.LevelDebug},
		{"config debug", "debug", false, false, slog.LevelDebug, slog.LevelDebug - 1},
		{"config error", "error", false, false, slog.LevelError, slog.LevelWarn},
		{"verbose beats config", "error", true, false, slog.LevelDebug, slog.LevelDebug - 1},
		{"quiet", "debug", false, true, slog.LevelError, slog.LevelWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			saveGlobals(t)

			resolvedCfg = nil
			if tt.cfgLevel != "" {
				resolvedCfg = &config.Resolved{LogLevel: tt.cfgLevel, LogFormat: "text"}
			}

			flagVerbose = tt.verbose
			flagQuiet = tt.quiet

			h := buildLogger().Handler()
			assert.True(t, h.Enabled(context.Background(), tt.enabled))
			assert.False(t, h.Enabled(context.Background(), tt.disabled))
		})
	}
}

func TestNewLogger_Format(t *testing.T) {
	tests := []struct {
		format   string
		tty      bool
		wantJSON bool
	}{
		{"auto", true, false},
		{"auto", false, true},
		{"json", true, true},
		{"text", false, false},
	}

	for _, tt := range tests {
		var buf bytes.Buffer

		newLogger(&buf, slog.LevelInfo, tt.format, tt.tty).Info("hello")

		if tt.wantJSON {
			assert.Contains(t, buf.String(), `"msg":"hello"`, "format=%s tty=%t", tt.format, tt.tty)
		} else {
			assert.Contains(t, buf.String(), "msg=hello", "format=%s tty=%t", tt.format, tt.tty)
		}
	}
}

func TestRenderError(t *testing.T) {
	apiErr := &apiclient.APIError{Message: "Invalid session", Code: "SESSION_INVALID", Status: 422}

	t.Run("json api error", func(t *testing.T) {
		var stdout, stderr bytes.Buffer

		renderError(&stdout, &stderr, apiErr, true)
		assert.JSONEq(t, `{"error":"Invalid session","code":"SESSION_INVALID","status":422}`, stdout.String())
		assert.Empty(t, stderr.String())
	})

	t.Run("text api error", func(t *testing.T) {
		var stdout, stderr bytes.Buffer

		renderError(&stdout, &stderr, apiErr, false)
		assert.Empty(t, stdout.String())
		assert.Contains(t, stderr.String(), "Error: ")
		assert.Contains(t, stderr.String(), "Invalid session")
	})

	t.Run("json non-api error", func(t *testing.T) {
		var stdout, stderr bytes.Buffer

		renderError(&stdout, &stderr, errors.New("boom"), true)
		assert.Empty(t, stdout.String())
		assert.Equal(t, "Error: boom\n", stderr.String())
	})
}

func TestNewRootCmd_Subcommands(t *testing.T) {
	cmd := newRootCmd()

	want := []string{"login", "logout", "whoami", "refresh", "get", "post", "put", "patch", "delete", "session", "health", "config"}
	for _, name := range want {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}

	post, _, err := cmd.Find([]string{"post"})
	require.NoError(t, err)
	assert.NotNil(t, post.Flags().Lookup("data"))

	get, _, err := cmd.Find([]string{"get"})
	require.NoError(t, err)
	assert.Nil(t, get.Flags().Lookup("data"))
}
