// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BrokerConfig configures the broker session.
type BrokerConfig struct {
	BaseURL              string            `yaml:"baseURL"`
	Mode                 TradingMode       `yaml:"mode"`
	Realm                string            `yaml:"realm"`
	HTTPTimeout          time.Duration     `yaml:"httpTimeout"`
	ConnectTimeout       time.Duration     `yaml:"connectTimeout"`
	TickleInterval       time.Duration     `yaml:"tickleInterval"`
	RenewCheckInterval   time.Duration     `yaml:"renewCheckInterval"`
	ExpirySkew           time.Duration     `yaml:"expirySkew"`
	RenewalFailureLimit  int               `yaml:"renewalFailureLimit"`
	RetryAttempts        int               `yaml:"retryAttempts"`
	RetryInitialInterval time.Duration     `yaml:"retryInitialInterval"`
	RateLimit            float64           `yaml:"rateLimit"`
	RateBurst            int               `yaml:"rateBurst"`
	Credentials          CredentialsConfig `yaml:"credentials"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	// File enables rotated file output alongside stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// APIServerConfig configures the gateway's HTTP surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// AppConfig is the unified application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Broker      BrokerConfig    `yaml:"broker"`
	Logging     LoggingConfig   `yaml:"logging"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	APIServer   APIServerConfig `yaml:"apiServer"`
}

// Default returns the configuration used when no file is supplied.
func Default() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Broker: BrokerConfig{
			BaseURL:              "https://api.ibkr.com/v1/api",
			Mode:                 ModePaper,
			HTTPTimeout:          15 * time.Second,
			ConnectTimeout:       30 * time.Second,
			TickleInterval:       60 * time.Second,
			RenewCheckInterval:   30 * time.Second,
			ExpirySkew:           300 * time.Second,
			RenewalFailureLimit:  3,
			RetryAttempts:        3,
			RetryInitialInterval: 250 * time.Millisecond,
			RateLimit:            10,
			RateBurst:            5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "asxtrader",
			OTLPInsecure:  true,
			EnableMetrics: false,
		},
		APIServer: APIServerConfig{Addr: ":8880"},
	}
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file. Keys absent
// from the file keep their defaults.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but falls back to Default when the file does not exist.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, error) {
	if strings.TrimSpace(configPath) == "" {
		cfg := Default()
		cfg.normalise()
		return cfg, cfg.Validate()
	}
	cfg, err := Load(ctx, configPath)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		cfg.normalise()
		return cfg, cfg.Validate()
	}
	return cfg, err
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(normalizeToken(string(c.Environment)))
	c.Broker.BaseURL = strings.TrimRight(strings.TrimSpace(c.Broker.BaseURL), "/")
	c.Broker.Mode = TradingMode(normalizeToken(string(c.Broker.Mode)))
	if c.Broker.Mode == "" {
		c.Broker.Mode = ModePaper
	}
	c.Broker.Realm = strings.TrimSpace(c.Broker.Realm)
	c.Broker.Credentials.normalise()
	c.Logging.Level = normalizeToken(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.File = strings.TrimSpace(c.Logging.File)
	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if err := c.Broker.validate(); err != nil {
		return fmt.Errorf("broker: %w", err)
	}
	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging level %q not recognised", c.Logging.Level)
	}
	if strings.TrimSpace(c.APIServer.Addr) == "" {
		return fmt.Errorf("apiServer addr required")
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	return nil
}

func (c BrokerConfig) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("baseURL required")
	}
	if !strings.HasPrefix(c.BaseURL, "https://") && !strings.HasPrefix(c.BaseURL, "http://") {
		return fmt.Errorf("baseURL must be an http(s) URL")
	}
	switch c.Mode {
	case ModePaper, ModeLive:
	default:
		return fmt.Errorf("mode must be paper or live")
	}
	if c.ExpirySkew < 0 {
		return fmt.Errorf("expirySkew must be >=0")
	}
	if c.TickleInterval < 0 || c.RenewCheckInterval < 0 {
		return fmt.Errorf("keep-alive intervals must be >=0")
	}
	if c.RenewalFailureLimit < 0 {
		return fmt.Errorf("renewalFailureLimit must be >=0")
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("retryAttempts must be >=0")
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate limit must be >=0")
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
