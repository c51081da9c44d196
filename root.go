package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/wagate-io/wagate/internal/apiclient"
	"github.com/wagate-io/wagate/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagAPIURL     string
	flagDev        bool
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Resolved

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wagate",
		Short:   "WhatsApp gateway admin CLI",
		Long:    "Command-line client for the WhatsApp gateway administration API.",
		Version: version,
		// Errors are printed by exitOnError.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagAPIURL, "api-url", "", "API base URL (e.g. http://localhost:8080/api/v1)")
	cmd.PersistentFlags().BoolVar(&flagDev, "dev", false, "log every request and response")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newRefreshCmd())
	cmd.AddCommand(newRequestCmds()...)
	cmd.AddCommand(newSessionCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration and stores it in
// resolvedCfg. Only flags the user actually set take part in the override.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if cmd.Flags().Changed("api-url") {
		cli.APIURL = &flagAPIURL
	}

	if cmd.Flags().Changed("dev") {
		cli.DevMode = &flagDev
	}

	logger := bootstrapLogger()

	resolved, err := config.Resolve(config.ReadEnvOverrides(logger), cli, logger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// bootstrapLogger is used before the config is known: warnings only, or
// debug with --verbose.
func bootstrapLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildLogger creates the command logger from the resolved config and CLI
// flags. CLI flags win over the config file.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	format := "auto"

	if resolvedCfg != nil {
		level = parseLevel(resolvedCfg.LogLevel)
		format = resolvedCfg.LogFormat
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return newLogger(os.Stderr, level, format, isatty.IsTerminal(os.Stderr.Fd()))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger picks the handler: "auto" means text on a terminal and JSON
// otherwise.
func newLogger(w io.Writer, level slog.Level, format string, tty bool) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !tty) {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// exitOnError prints err and exits with status 1.
func exitOnError(err error) {
	renderError(os.Stdout, os.Stderr, err, flagJSON)
	os.Exit(1)
}

// renderError writes API failures as their normalized JSON shape to stdout
// when asJSON is set, and everything else as a one-line message to stderr.
func renderError(stdout, stderr io.Writer, err error, asJSON bool) {
	var apiErr *apiclient.APIError
	if asJSON && errors.As(err, &apiErr) {
		if printJSON(stdout, apiErr) == nil {
			return
		}
	}

	fmt.Fprintf(stderr, "Error: %v\n", err)
}
