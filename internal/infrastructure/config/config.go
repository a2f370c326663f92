package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Homeflow.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site        SiteConfig        `yaml:"site"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Redis       RedisConfig       `yaml:"redis"`
	Logging     LoggingConfig     `yaml:"logging"`
	Engine      EngineConfig      `yaml:"engine"`
	Suggestions SuggestionsConfig `yaml:"suggestions"`
	Security    SecurityConfig    `yaml:"security"`

	// Devices is the seed list registered on first start when the
	// device table is empty.
	Devices []DeviceSeed `yaml:"devices"`
}

// SiteConfig contains household-specific information.
type SiteConfig struct {
	ID       string         `yaml:"id"`
	Name     string         `yaml:"name"`
	Timezone string         `yaml:"timezone"`
	Location LocationConfig `yaml:"location"`
}

// LocationConfig contains geographic coordinates for sunrise/sunset triggers.
type LocationConfig struct {
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// RedisConfig contains settings for the optional device snapshot mirror.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// EngineConfig tunes the rule engine, executor and anomaly detector.
type EngineConfig struct {
	// FiringPolicy is "edge" (fire when a condition becomes true) or
	// "level" (fire on every qualifying event while true).
	FiringPolicy string `yaml:"firing_policy"`

	// AnomalyTick is how often drift and battery heuristics run.
	AnomalyTick time.Duration `yaml:"anomaly_tick"`

	// AlertTTL is how long an unacknowledged alert stays active.
	AlertTTL time.Duration `yaml:"alert_ttl"`

	// SuggestionTTL is how long an unaccepted suggestion draft is kept.
	SuggestionTTL time.Duration `yaml:"suggestion_ttl"`

	Thresholds ThresholdConfig `yaml:"thresholds"`
}

// ThresholdConfig holds anomaly heuristic limits.
type ThresholdConfig struct {
	LowBattery       int     `yaml:"low_battery"`
	ThermostatDrift  float64 `yaml:"thermostat_drift"`
	LeakFlowRate     float64 `yaml:"leak_flow_rate"`
	MaintenanceCycle int64   `yaml:"maintenance_cycles"`
}

// SuggestionsConfig points at the external suggestion service.
type SuggestionsConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// SecurityConfig contains guardian capability settings.
type SecurityConfig struct {
	Guardian GuardianConfig `yaml:"guardian"`
}

// GuardianConfig configures the privileged command path that may set or
// clear the AI lock on a device.
type GuardianConfig struct {
	Secret            string `yaml:"secret"`
	TokenTTL          int    `yaml:"token_ttl"` // minutes
	TrustedCapability string `yaml:"trusted_capability"`
}

// DeviceSeed describes a device registered on first start.
type DeviceSeed struct {
	ID     string         `yaml:"id"`
	Name   string         `yaml:"name"`
	RoomID string         `yaml:"room_id"`
	Type   string         `yaml:"type"`
	Status map[string]any `yaml:"status"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HOMEFLOW_SECTION_KEY
// For example: HOMEFLOW_DATABASE_PATH, HOMEFLOW_API_PORT
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
		Site: SiteConfig{
			ID:       "home-001",
			Name:     "Home",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/homeflow.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "homeflow",
			},
			QoS:         1,
			TopicPrefix: "homeflow",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "homeflow",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Engine: EngineConfig{
			FiringPolicy:  "edge",
			AnomalyTick:   time.Minute,
			AlertTTL:      24 * time.Hour,
			SuggestionTTL: time.Hour,
			Thresholds: ThresholdConfig{
				LowBattery:       15,
				ThermostatDrift:  5,
				LeakFlowRate:     30,
				MaintenanceCycle: 10000,
			},
		},
		Suggestions: SuggestionsConfig{
			Timeout: 20 * time.Second,
		},
		Security: SecurityConfig{
			Guardian: GuardianConfig{
				TokenTTL:          15,
				TrustedCapability: "device.lock_override",
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HOMEFLOW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("HOMEFLOW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HOMEFLOW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HOMEFLOW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("HOMEFLOW_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("HOMEFLOW_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	if v := os.Getenv("HOMEFLOW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("HOMEFLOW_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("HOMEFLOW_SUGGESTIONS_URL"); v != "" {
		cfg.Suggestions.URL = v
	}

	// Always override in production.
	if v := os.Getenv("HOMEFLOW_GUARDIAN_SECRET"); v != "" {
		cfg.Security.Guardian.Secret = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}
	if c.Site.Timezone != "" {
		if _, err := time.LoadLocation(c.Site.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("site.timezone %q is not a known zone", c.Site.Timezone))
		}
	}
	if c.Site.Location.Latitude < -90 || c.Site.Location.Latitude > 90 {
		errs = append(errs, "site.location.latitude must be between -90 and 90")
	}
	if c.Site.Location.Longitude < -180 || c.Site.Location.Longitude > 180 {
		errs = append(errs, "site.location.longitude must be between -180 and 180")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch strings.ToLower(c.Engine.FiringPolicy) {
	case "edge", "level":
	default:
		errs = append(errs, "engine.firing_policy must be edge or level")
	}
	if c.Engine.AnomalyTick <= 0 {
		errs = append(errs, "engine.anomaly_tick must be positive")
	}
	if c.Engine.AlertTTL <= 0 {
		errs = append(errs, "engine.alert_ttl must be positive")
	}

	// The guardian secret signs tokens that can lift safety locks, so a
	// short secret is a configuration error rather than a warning.
	const minGuardianSecretLength = 32
	if c.Security.Guardian.Secret == "" {
		errs = append(errs, "security.guardian.secret is required (set HOMEFLOW_GUARDIAN_SECRET environment variable)")
	} else if len(c.Security.Guardian.Secret) < minGuardianSecretLength {
		errs = append(errs, "security.guardian.secret must be at least 32 characters")
	}
	if c.Security.Guardian.TrustedCapability == "" {
		errs = append(errs, "security.guardian.trusted_capability is required")
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" || d.Type == "" {
			errs = append(errs, fmt.Sprintf("devices[%d]: id and type are required", i))
			continue
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d]: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the site's time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Site.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
