package config

// Default values for configuration options. These are "layer 0" of the
// override chain and match the dashboard's development setup.
const (
	defaultAPIURL         = "http://localhost:8080/api/v1"
	defaultRequestTimeout = "30s"
	defaultRateBurst      = 1
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultPollInterval   = "3s"
	defaultQRTimeout      = "2m"
	defaultHealthEndpoint = "/health"
	defaultHealthWorkers  = 4
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset keys keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		APIConfig: APIConfig{
			APIURL:         defaultAPIURL,
			RequestTimeout: defaultRequestTimeout,
			RateBurst:      defaultRateBurst,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		SessionConfig: SessionConfig{
			PollInterval: defaultPollInterval,
			QRTimeout:    defaultQRTimeout,
		},
		HealthConfig: HealthConfig{
			HealthEndpoints: []string{defaultHealthEndpoint},
			HealthWorkers:   defaultHealthWorkers,
		},
	}
}
