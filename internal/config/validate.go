package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Validation range constants.
const (
	minRequestTimeout = 1 * time.Second
	maxRequestTimeout = 10 * time.Minute
	minPollInterval   = 500 * time.Millisecond
	minHealthWorkers  = 1
	maxHealthWorkers  = 32
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
)

// Validate checks all configuration values and returns every error found,
// joined, so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.APIConfig)...)
	errs = append(errs, validateLogging(&cfg.LoggingConfig)...)
	errs = append(errs, validateSession(&cfg.SessionConfig)...)
	errs = append(errs, validateHealth(&cfg.HealthConfig)...)

	return errors.Join(errs...)
}

func validateAPI(c *APIConfig) []error {
	var errs []error

	u, err := url.Parse(c.APIURL)

	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("api_url: %w", err))
	case u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("api_url: scheme must be http or https, got %q", c.APIURL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("api_url: missing host in %q", c.APIURL))
	}

	if err := checkDuration("request_timeout", c.RequestTimeout, minRequestTimeout, maxRequestTimeout); err != nil {
		errs = append(errs, err)
	}

	if c.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("rate_limit: must be >= 0, got %g", c.RateLimit))
	}

	if c.RateLimit > 0 && c.RateBurst < 1 {
		errs = append(errs, fmt.Errorf("rate_burst: must be >= 1 when rate_limit is set, got %d", c.RateBurst))
	}

	return errs
}

func validateLogging(c *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level: must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), c.LogLevel))
	}

	if !slices.Contains(validLogFormats, c.LogFormat) {
		errs = append(errs, fmt.Errorf("log_format: must be one of %s, got %q",
			strings.Join(validLogFormats, ", "), c.LogFormat))
	}

	return errs
}

func validateSession(c *SessionConfig) []error {
	var errs []error

	poll, pollErr := time.ParseDuration(c.PollInterval)
	if pollErr != nil {
		errs = append(errs, fmt.Errorf("poll_interval: invalid duration %q", c.PollInterval))
	} else if poll < minPollInterval {
		errs = append(errs, fmt.Errorf("poll_interval: must be >= %s, got %s", minPollInterval, poll))
	}

	timeout, err := time.ParseDuration(c.QRTimeout)
	if err != nil {
		errs = append(errs, fmt.Errorf("qr_timeout: invalid duration %q", c.QRTimeout))
	} else if pollErr == nil && timeout < poll {
		errs = append(errs, fmt.Errorf("qr_timeout: must be >= poll_interval (%s), got %s", poll, timeout))
	}

	return errs
}

func validateHealth(c *HealthConfig) []error {
	var errs []error

	if len(c.HealthEndpoints) == 0 {
		errs = append(errs, errors.New("health_endpoints: must list at least one path"))
	}

	for _, ep := range c.HealthEndpoints {
		if !strings.HasPrefix(ep, "/") {
			errs = append(errs, fmt.Errorf("health_endpoints: %q must start with /", ep))
		}
	}

	if c.HealthWorkers < minHealthWorkers || c.HealthWorkers > maxHealthWorkers {
		errs = append(errs, fmt.Errorf("health_workers: must be between %d and %d, got %d",
			minHealthWorkers, maxHealthWorkers, c.HealthWorkers))
	}

	return errs
}

func checkDuration(field, value string, minVal, maxVal time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", field, value)
	}

	if d < minVal || d > maxVal {
		return fmt.Errorf("%s: must be between %s and %s, got %s", field, minVal, maxVal, d)
	}

	return nil
}
