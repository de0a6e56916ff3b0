package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Sortline Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Registry   RegistryConfig   `yaml:"registry"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Classifier ClassifierConfig `yaml:"classifier"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SiteConfig identifies the sorting line installation.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains observer connection settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
	SendBuffer     int    `yaml:"send_buffer"`
}

// RegistryConfig contains device registry and liveness probe settings.
type RegistryConfig struct {
	// ProbeTimeout is the per-attempt timeout for registration probes, in seconds.
	ProbeTimeout int `yaml:"probe_timeout"`
	// ProbeAttempts bounds how many times a registration probe is retried.
	ProbeAttempts int `yaml:"probe_attempts"`
	// StaleAfter is how long a device may go unseen before the staleness
	// sweep marks it offline, in minutes.
	StaleAfter int `yaml:"stale_after"`
}

// DiscoveryConfig contains network scan settings.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
	// Network is a CIDR range to sweep (e.g. "192.168.1.0/24").
	Network string `yaml:"network"`
	// Addresses lists explicit endpoints to probe in addition to Network.
	Addresses []string `yaml:"addresses"`
	// ProbeTimeout is the per-address probe timeout, in seconds.
	ProbeTimeout int `yaml:"probe_timeout"`
	// Fanout bounds how many probes run concurrently.
	Fanout int `yaml:"fanout"`
}

// SchedulerConfig contains background loop cadences.
type SchedulerConfig struct {
	// DiscoveryInterval is the period between discovery sweeps, in minutes.
	DiscoveryInterval int `yaml:"discovery_interval"`
	// StaleSweepInterval is the period between staleness sweeps, in minutes.
	StaleSweepInterval int `yaml:"stale_sweep_interval"`
	// HeartbeatInterval is the period between system-status heartbeats, in seconds.
	HeartbeatInterval int `yaml:"heartbeat_interval"`
}

// ClassifierConfig contains external image scorer settings.
type ClassifierConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	// Timeout is the per-attempt scoring timeout, in seconds.
	Timeout int `yaml:"timeout"`
	// Attempts bounds scoring retries.
	Attempts int `yaml:"attempts"`
}

// MQTTConfig contains MQTT broker connection settings for the event bridge.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// MQTTReconnectConfig contains MQTT reconnection settings, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains the optional time-series mirror settings.
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
// Environment variables follow the pattern: SORTLINE_SECTION_KEY
// For example: SORTLINE_API_HOST, SORTLINE_MQTT_HOST
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
			ID:       "line-001",
			Name:     "Sortline",
			Timezone: "UTC",
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
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
			SendBuffer:     256,
		},
		Registry: RegistryConfig{
			ProbeTimeout:  5,
			ProbeAttempts: 3,
			StaleAfter:    10,
		},
		Discovery: DiscoveryConfig{
			Enabled:      true,
			ProbeTimeout: 2,
			Fanout:       32,
		},
		Scheduler: SchedulerConfig{
			DiscoveryInterval:  5,
			StaleSweepInterval: 5,
			HeartbeatInterval:  30,
		},
		Classifier: ClassifierConfig{
			Timeout:  10,
			Attempts: 3,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "sortline-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SORTLINE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// API
	if v := os.Getenv("SORTLINE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("SORTLINE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Discovery
	if v := os.Getenv("SORTLINE_DISCOVERY_NETWORK"); v != "" {
		cfg.Discovery.Network = v
	}

	// Classifier
	if v := os.Getenv("SORTLINE_CLASSIFIER_URL"); v != "" {
		cfg.Classifier.URL = v
	}

	// MQTT
	if v := os.Getenv("SORTLINE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SORTLINE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SORTLINE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SORTLINE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Registry.ProbeTimeout < 1 {
		errs = append(errs, "registry.probe_timeout must be at least 1 second")
	}
	if c.Registry.ProbeAttempts < 1 {
		errs = append(errs, "registry.probe_attempts must be at least 1")
	}
	if c.Registry.StaleAfter < 1 {
		errs = append(errs, "registry.stale_after must be at least 1 minute")
	}

	if c.Discovery.Enabled {
		if c.Discovery.Network == "" && len(c.Discovery.Addresses) == 0 {
			errs = append(errs, "discovery.network or discovery.addresses is required when discovery is enabled")
		}
		if c.Discovery.Fanout < 1 {
			errs = append(errs, "discovery.fanout must be at least 1")
		}
	}

	if c.Classifier.Enabled && c.Classifier.URL == "" {
		errs = append(errs, "classifier.url is required when the classifier is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// GetProbeTimeout returns the registry probe timeout as a Duration.
func (r RegistryConfig) GetProbeTimeout() time.Duration {
	return time.Duration(r.ProbeTimeout) * time.Second
}

// GetStaleAfter returns the staleness threshold as a Duration.
func (r RegistryConfig) GetStaleAfter() time.Duration {
	return time.Duration(r.StaleAfter) * time.Minute
}

// GetProbeTimeout returns the discovery probe timeout as a Duration.
func (d DiscoveryConfig) GetProbeTimeout() time.Duration {
	return time.Duration(d.ProbeTimeout) * time.Second
}

// GetDiscoveryInterval returns the discovery sweep period as a Duration.
func (s SchedulerConfig) GetDiscoveryInterval() time.Duration {
	return time.Duration(s.DiscoveryInterval) * time.Minute
}

// GetStaleSweepInterval returns the staleness sweep period as a Duration.
func (s SchedulerConfig) GetStaleSweepInterval() time.Duration {
	return time.Duration(s.StaleSweepInterval) * time.Minute
}

// GetHeartbeatInterval returns the heartbeat period as a Duration.
func (s SchedulerConfig) GetHeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatInterval) * time.Second
}

// GetTimeout returns the scorer timeout as a Duration.
func (c ClassifierConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}
