// Package config provides YAML-based configuration with environment overrides
// for containerized deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppConfig is the root configuration structure.
type AppConfig struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Upstream telemetry connection
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Time-series storage and reconciliation tuning
	Series SeriesConfig `yaml:"series"`

	// Historical backfill source
	History HistoryConfig `yaml:"history"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Advanced options
	Advanced AdvancedConfig `yaml:"advanced"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int    `yaml:"port"`
	BindAddress  string `yaml:"bindAddress"`
	EnableCORS   bool   `yaml:"enableCors"`
	AllowOrigins string `yaml:"allowOrigins"`
	ReadTimeout  int    `yaml:"readTimeoutSeconds"`
	WriteTimeout int    `yaml:"writeTimeoutSeconds"`
	IdleTimeout  int    `yaml:"idleTimeoutSeconds"`
	BodyLimit    string `yaml:"bodyLimit"`
}

// TelemetryConfig contains the upstream connection settings.
type TelemetryConfig struct {
	// Mode selects the transport: "websocket" or "mqtt".
	Mode string `yaml:"mode"`

	// URL is the websocket endpoint (websocket mode).
	URL string `yaml:"url"`

	// Broker settings (mqtt mode).
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"clientId"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topicPrefix"`

	RetryAttempts        int `yaml:"retryAttempts"`
	RetryIntervalSeconds int `yaml:"retryIntervalSeconds"`
	PingIntervalSeconds  int `yaml:"pingIntervalSeconds"`
}

// SeriesConfig contains time-series tuning values.
type SeriesConfig struct {
	MaxPoints            int `yaml:"maxPoints"`
	MaxAgeHours          int `yaml:"maxAgeHours"`
	DedupToleranceMs     int `yaml:"dedupToleranceMs"`
	SweepIntervalMinutes int `yaml:"sweepIntervalMinutes"`
}

// HistoryConfig contains the backfill-source settings.
type HistoryConfig struct {
	// Source selects the loader: "archive" (local DuckDB) or "http".
	Source                string `yaml:"source"`
	BaseURL               string `yaml:"baseUrl"`
	RequestTimeoutSeconds int    `yaml:"requestTimeoutSeconds"`
	DefaultLimit          int    `yaml:"defaultLimit"`
}

// StorageConfig contains data directory settings.
type StorageConfig struct {
	DataDirectory string `yaml:"dataDirectory"`
}

// AdvancedConfig contains tuning options.
type AdvancedConfig struct {
	EnableRequestLogging bool `yaml:"enableRequestLogging"`
	EnableMetrics        bool `yaml:"enableMetrics"`
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8080,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "2M",
		},
		Telemetry: TelemetryConfig{
			Mode:                 "websocket",
			URL:                  "ws://localhost:9000/telemetry",
			Broker:               "tcp://localhost:1883",
			ClientID:             "machine-telemetry-backend",
			TopicPrefix:          "telemetry",
			RetryAttempts:        5,
			RetryIntervalSeconds: 1,
			PingIntervalSeconds:  30,
		},
		Series: SeriesConfig{
			MaxPoints:            1000,
			MaxAgeHours:          4,
			DedupToleranceMs:     5000,
			SweepIntervalMinutes: 5,
		},
		History: HistoryConfig{
			Source:                "archive",
			RequestTimeoutSeconds: 15,
			DefaultLimit:          1000,
		},
		Storage: StorageConfig{
			DataDirectory: "./data",
		},
		Advanced: AdvancedConfig{
			EnableRequestLogging: true,
			EnableMetrics:        true,
		},
	}
}

// LoadConfig reads the YAML config file, falling back to defaults when the
// file does not exist, then applies environment overrides. A .env file in
// the working directory is honored.
func LoadConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	c.Server.Port = getEnvInt("SERVER_PORT", c.Server.Port)
	c.Server.BindAddress = getEnv("SERVER_BIND_ADDRESS", c.Server.BindAddress)
	c.Telemetry.Mode = getEnv("TELEMETRY_MODE", c.Telemetry.Mode)
	c.Telemetry.URL = getEnv("TELEMETRY_URL", c.Telemetry.URL)
	c.Telemetry.Broker = getEnv("TELEMETRY_BROKER", c.Telemetry.Broker)
	c.Telemetry.ClientID = getEnv("TELEMETRY_CLIENT_ID", c.Telemetry.ClientID)
	c.Telemetry.Username = getEnv("TELEMETRY_USERNAME", c.Telemetry.Username)
	c.Telemetry.Password = getEnv("TELEMETRY_PASSWORD", c.Telemetry.Password)
	c.History.Source = getEnv("HISTORY_SOURCE", c.History.Source)
	c.History.BaseURL = getEnv("HISTORY_BASE_URL", c.History.BaseURL)
	c.Storage.DataDirectory = getEnv("DATA_DIR", c.Storage.DataDirectory)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// EnsureDirectories creates the configured data directories.
func (c *AppConfig) EnsureDirectories() error {
	if err := os.MkdirAll(c.Storage.DataDirectory, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}

// GetServerAddr returns the listen address for the HTTP server.
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// RetryInterval returns the connect retry backoff as a duration.
func (c *TelemetryConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

// PingInterval returns the heartbeat interval as a duration.
func (c *TelemetryConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// MaxAge returns the retention window as a duration.
func (c *SeriesConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

// DedupTolerance returns the dedup window as a duration.
func (c *SeriesConfig) DedupTolerance() time.Duration {
	return time.Duration(c.DedupToleranceMs) * time.Millisecond
}

// SweepInterval returns the retention sweep cadence as a duration.
func (c *SeriesConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMinutes) * time.Minute
}
