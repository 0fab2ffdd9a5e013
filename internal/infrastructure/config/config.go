package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for LoxBridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Miniserver MiniserverConfig `yaml:"miniserver"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	History    HistoryConfig    `yaml:"history"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// MiniserverConfig contains connection settings for the Loxone Miniserver.
type MiniserverConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// UseTLS selects https/wss. VerifyTLS disables certificate checks when
	// false (self-signed Miniserver certificates are common on LANs).
	UseTLS    bool `yaml:"use_tls"`
	VerifyTLS bool `yaml:"verify_tls"`

	// Permission is the token permission class requested during the
	// handshake. 2 = Web is typical; some installations use 4 = App.
	Permission int `yaml:"permission"`

	// ClientInfo identifies this client in the Miniserver's token list.
	ClientInfo string `yaml:"client_info"`

	// TokenRefreshThreshold is how long before expiry a token is treated
	// as stale and re-authentication is triggered (seconds).
	TokenRefreshThreshold int `yaml:"token_refresh_threshold"`

	// ReconnectDelay is the fixed wait between stream reconnect attempts
	// (seconds).
	ReconnectDelay int `yaml:"reconnect_delay"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// HistoryConfig contains state history database settings.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`

	// RetentionDays controls pruning; entries older than this are deleted
	// on startup. 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`
}

// InfluxDBConfig contains InfluxDB telemetry settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LOXBRIDGE_SECTION_KEY
// For example: LOXBRIDGE_MINISERVER_HOST, LOXBRIDGE_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Miniserver: MiniserverConfig{
			Port:                  443,
			UseTLS:                true,
			VerifyTLS:             true,
			Permission:            2,
			ClientInfo:            "loxbridge",
			TokenRefreshThreshold: 300,
			ReconnectDelay:        5,
		},
		MQTT: MQTTConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "loxbridge",
			QoS:      1,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8093,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		History: HistoryConfig{
			Path:          "./data/loxbridge.db",
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LOXBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Miniserver
	if v := os.Getenv("LOXBRIDGE_MINISERVER_HOST"); v != "" {
		cfg.Miniserver.Host = v
	}
	if v := os.Getenv("LOXBRIDGE_MINISERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Miniserver.Port = port
		}
	}
	if v := os.Getenv("LOXBRIDGE_MINISERVER_USERNAME"); v != "" {
		cfg.Miniserver.Username = v
	}
	if v := os.Getenv("LOXBRIDGE_MINISERVER_PASSWORD"); v != "" {
		cfg.Miniserver.Password = v
	}

	// MQTT
	if v := os.Getenv("LOXBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("LOXBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("LOXBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	// History
	if v := os.Getenv("LOXBRIDGE_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}

	// InfluxDB
	if v := os.Getenv("LOXBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Miniserver.Host == "" {
		errs = append(errs, "miniserver.host is required")
	}
	if c.Miniserver.Username == "" {
		errs = append(errs, "miniserver.username is required")
	}
	if c.Miniserver.Password == "" {
		errs = append(errs, "miniserver.password is required (set LOXBRIDGE_MINISERVER_PASSWORD environment variable)")
	}
	if c.Miniserver.Port < 1 || c.Miniserver.Port > 65535 {
		errs = append(errs, "miniserver.port must be between 1 and 65535")
	}

	if c.MQTT.Enabled && (c.MQTT.QoS < 0 || c.MQTT.QoS > 2) {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// RefreshThreshold returns the token staleness threshold as a Duration.
func (m MiniserverConfig) RefreshThreshold() time.Duration {
	return time.Duration(m.TokenRefreshThreshold) * time.Second
}

// ReconnectInterval returns the stream reconnect delay as a Duration.
func (m MiniserverConfig) ReconnectInterval() time.Duration {
	return time.Duration(m.ReconnectDelay) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (a APIConfig) GetReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (a APIConfig) GetWriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (a APIConfig) GetIdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}
