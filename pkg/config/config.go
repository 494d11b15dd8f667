package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/speedrun-hq/paywatch/pkg/logger"
)

// Config holds the configuration for the paywatch service
type Config struct {
	APIEndpoint     string
	IntentPath      string
	PaymentMethod   string
	AuthToken       string
	PollingInterval time.Duration
	MaxPollAttempts int
	ProbeTimeout    time.Duration
	SettleDelay     time.Duration
	StatusTemplates []string
	SessionTTL      time.Duration
	MetricsPort     string
	MetricsAPIKey   string
	ServiceName     string
	TracesEndpoint  string
	CircuitBreaker  CircuitBreakerConfig
	LoggerConfig    LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// IntentURL is the absolute URL intents are created at
func (c *Config) IntentURL() string {
	return c.APIEndpoint + c.IntentPath
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}
	return FromEnv()
}

// FromEnv builds the configuration from the current process environment
func FromEnv() (*Config, error) {
	apiEndpoint, err := GetEnvAPIEndpoint()
	if err != nil {
		return nil, err
	}

	intentPath, err := GetEnvIntentPath()
	if err != nil {
		return nil, err
	}

	pollingInterval, err := GetEnvPollingInterval()
	if err != nil {
		return nil, err
	}

	maxAttempts, err := GetEnvMaxPollAttempts()
	if err != nil {
		return nil, err
	}

	probeTimeout, err := GetEnvProbeTimeout()
	if err != nil {
		return nil, err
	}

	settleDelay, err := GetEnvSettleDelay()
	if err != nil {
		return nil, err
	}

	templates, err := GetEnvStatusTemplates()
	if err != nil {
		return nil, err
	}

	sessionTTL, err := GetEnvSessionTTL()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIEndpoint:     apiEndpoint,
		IntentPath:      intentPath,
		PaymentMethod:   GetEnvPaymentMethod(),
		AuthToken:       os.Getenv("AUTH_TOKEN"),
		PollingInterval: pollingInterval,
		MaxPollAttempts: maxAttempts,
		ProbeTimeout:    probeTimeout,
		SettleDelay:     settleDelay,
		StatusTemplates: templates,
		SessionTTL:      sessionTTL,
		MetricsPort:     metricsPort,
		MetricsAPIKey:   os.Getenv("METRICS_API_KEY"),
		ServiceName:     GetEnvServiceName(),
		TracesEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"),
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.PaymentMethod == "" {
		return fmt.Errorf("PAYMENT_METHOD must not be empty")
	}
	if cfg.ProbeTimeout > cfg.PollingInterval*time.Duration(cfg.MaxPollAttempts) {
		return fmt.Errorf("PROBE_TIMEOUT %v exceeds the whole polling budget", cfg.ProbeTimeout)
	}
	return nil
}
