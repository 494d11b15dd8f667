package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/speedrun-hq/paywatch/pkg/candidates"
	"github.com/speedrun-hq/paywatch/pkg/logger"
)

const (
	// DefaultAPIEndpoint defines the default storefront API origin
	DefaultAPIEndpoint = "http://localhost:5000"

	// DefaultIntentPath is where payment intents are created
	DefaultIntentPath = "/api/donations"

	// DefaultPaymentMethod is sent with every intent creation request
	DefaultPaymentMethod = "UPI"

	// DefaultPollingInterval defines the time between two polling ticks
	DefaultPollingInterval = 3000 * time.Millisecond

	// DefaultMaxPollAttempts defines the number of ticks before a loop is exhausted
	DefaultMaxPollAttempts = 40

	// DefaultProbeTimeout bounds a single status probe
	DefaultProbeTimeout = 8 * time.Second

	// DefaultSettleDelay lets the backend persist a new intent before the first poll
	DefaultSettleDelay = 600 * time.Millisecond

	// DefaultSessionTTL defines how long finished sessions stay queryable
	DefaultSessionTTL = 30 * time.Minute

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 60 * time.Second

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 30 * time.Second

	// DefaultServiceName is used for tracing resources and log prefixes
	DefaultServiceName = "paywatch"
)

// GetEnvAPIEndpoint returns the API endpoint from environment variables
func GetEnvAPIEndpoint() (string, error) {
	apiEndpoint := os.Getenv("API_ENDPOINT")
	if apiEndpoint == "" {
		return DefaultAPIEndpoint, nil
	}

	// Validate URL format
	u, err := url.ParseRequestURI(apiEndpoint)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid API_ENDPOINT value: %s, must be a valid URL", apiEndpoint)
	}
	return strings.TrimRight(apiEndpoint, "/"), nil
}

// GetEnvIntentPath returns the intent creation path from environment variables
func GetEnvIntentPath() (string, error) {
	path := os.Getenv("INTENT_PATH")
	if path == "" {
		return DefaultIntentPath, nil
	}
	if !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("invalid INTENT_PATH value: %s, must start with '/'", path)
	}
	return path, nil
}

// GetEnvPaymentMethod returns the payment method sent when creating intents
func GetEnvPaymentMethod() string {
	method := os.Getenv("PAYMENT_METHOD")
	if method == "" {
		return DefaultPaymentMethod
	}
	return method
}

// GetEnvPollingInterval returns the polling interval from environment variables
func GetEnvPollingInterval() (time.Duration, error) {
	return getEnvDuration("POLLING_INTERVAL", DefaultPollingInterval)
}

// GetEnvMaxPollAttempts returns the maximum number of polling ticks from environment variables
func GetEnvMaxPollAttempts() (int, error) {
	maxAttempts := os.Getenv("MAX_POLL_ATTEMPTS")
	if maxAttempts == "" {
		return DefaultMaxPollAttempts, nil
	}

	attempts, err := strconv.Atoi(maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("invalid MAX_POLL_ATTEMPTS value: %s, must be an integer", maxAttempts)
	}
	if attempts <= 0 {
		return 0, fmt.Errorf("MAX_POLL_ATTEMPTS must be greater than 0")
	}
	return attempts, nil
}

// GetEnvProbeTimeout returns the per-probe timeout from environment variables
func GetEnvProbeTimeout() (time.Duration, error) {
	return getEnvDuration("PROBE_TIMEOUT", DefaultProbeTimeout)
}

// GetEnvSettleDelay returns the delay before the first poll from environment variables
// Zero disables the delay in any spelling ("0", "0s", "0ms").
func GetEnvSettleDelay() (time.Duration, error) {
	delay, err := parseEnvDuration("SETTLE_DELAY", DefaultSettleDelay)
	if err != nil {
		return 0, err
	}
	if delay < 0 {
		return 0, fmt.Errorf("SETTLE_DELAY must not be negative")
	}
	return delay, nil
}

// GetEnvSessionTTL returns how long finished sessions are retained
func GetEnvSessionTTL() (time.Duration, error) {
	return getEnvDuration("SESSION_TTL", DefaultSessionTTL)
}

// GetEnvStatusTemplates returns the static status path templates.
// STATUS_TEMPLATES is a comma separated list using {id} as placeholder.
func GetEnvStatusTemplates() ([]string, error) {
	raw := os.Getenv("STATUS_TEMPLATES")
	if raw == "" {
		return append([]string(nil), candidates.DefaultTemplates...), nil
	}

	var templates []string
	for _, part := range strings.Split(raw, ",") {
		tmpl := strings.TrimSpace(part)
		if tmpl == "" {
			continue
		}
		if !strings.Contains(tmpl, candidates.IDPlaceholder) {
			return nil, fmt.Errorf("invalid STATUS_TEMPLATES entry: %s, must contain %s", tmpl, candidates.IDPlaceholder)
		}
		templates = append(templates, tmpl)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("STATUS_TEMPLATES must contain at least one template")
	}
	return templates, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	return getEnvBool("CIRCUIT_BREAKER_ENABLED", DefaultCircuitBreakerEnabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvDuration("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		return logger.InfoLevel, fmt.Errorf("invalid LOG_LEVEL value: %w", err)
	}
	return level, nil
}

// GetEnvLogColoring returns whether log prefixes are colored
func GetEnvLogColoring() (bool, error) {
	return getEnvBool("LOG_COLORING", false)
}

// GetEnvServiceName returns the service name from environment variables
func GetEnvServiceName() string {
	if name := os.Getenv("SERVICE_NAME"); name != "" {
		return name
	}
	return DefaultServiceName
}

// getEnvDuration reads a strictly positive duration
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	parsed, err := parseEnvDuration(key, fallback)
	if err != nil {
		return 0, err
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return parsed, nil
}

// parseEnvDuration parses a Go duration string; a bare integer is read as milliseconds
func parseEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be a duration or milliseconds", key, raw)
	}
	return parsed, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	if raw == "true" {
		return true, nil
	} else if raw == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid %s value: %s, must be 'true' or 'false'", key, raw)
}
