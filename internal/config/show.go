package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as TOML-like text. This
// powers "config show".
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)

	ew.printf("api_url               = %q\n", r.APIURL)
	ew.printf("dev_mode              = %t\n", r.DevMode)
	ew.printf("request_timeout       = %q\n", r.RequestTimeout)
	ew.printf("rate_limit            = %g\n", r.RateLimit)
	ew.printf("rate_burst            = %d\n", r.RateBurst)
	ew.printf("single_flight_refresh = %t\n", r.SingleFlightRefresh)

	if r.UserAgent != "" {
		ew.printf("user_agent            = %q\n", r.UserAgent)
	}

	ew.printf("\nlog_level             = %q\n", r.LogLevel)
	ew.printf("log_format            = %q\n", r.LogFormat)

	ew.printf("\npoll_interval         = %q\n", r.PollInterval)
	ew.printf("qr_timeout            = %q\n", r.QRTimeout)

	ew.printf("\nhealth_endpoints      = %q\n", r.HealthEndpoints)
	ew.printf("health_workers        = %d\n", r.HealthWorkers)

	ew.printf("\ntoken_file            = %q\n", r.TokenFile)
	ew.printf("session_db            = %q\n", r.SessionDB)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
