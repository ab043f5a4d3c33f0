package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
)

// Config represents the complete daemon configuration
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
	API     APIConfig     `yaml:"api"`
	DBus    DBusConfig    `yaml:"dbus"`
	Journal JournalConfig `yaml:"journal"`
	Metrics MetricsConfig `yaml:"metrics"`
	Core    CoreConfig    `yaml:"core"`
	Modems  []ModemConfig `yaml:"modems"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	File       string `yaml:"file"`        // log file path (optional)
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // number of old log files to keep
	MaxAge     int    `yaml:"max_age"`     // days
	Console    bool   `yaml:"console"`     // also log to console
	JSON       bool   `yaml:"json"`        // JSON format instead of text
}

// APIConfig holds the HTTP control surface configuration
type APIConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Listen       string        `yaml:"listen"`
	CORSOrigins  []string      `yaml:"cors_origins,omitempty"`
	EventStream  bool          `yaml:"event_stream"` // websocket at /api/events
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DBusConfig holds the bus export configuration
type DBusConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Bus         string `yaml:"bus"` // system or session
	ServiceName string `yaml:"service_name"`
}

// JournalConfig holds the in-memory event journal configuration
type JournalConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxEvents   int           `yaml:"max_events"` // per modem
	TTL         time.Duration `yaml:"ttl"`
	MaxMemoryMB int           `yaml:"max_memory_mb"`
}

// MetricsConfig holds Prometheus exposition configuration. Metrics are
// served on the API listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// CoreConfig holds the state machine timing
type CoreConfig struct {
	RegistrationPollInterval time.Duration `yaml:"registration_poll_interval"`
	SignalPollInterval       time.Duration `yaml:"signal_poll_interval"`
	SignalStaleAfter         time.Duration `yaml:"signal_stale_after"`
	UnlockRetryDelay         time.Duration `yaml:"unlock_retry_delay"`
	UnlockAttempts           int           `yaml:"unlock_attempts"`
	FlashDuration            time.Duration `yaml:"flash_duration"`
}

// Default configurations
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Level:      "info",
		Console:    true,
		JSON:       false,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
	}
}

func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		Enabled:      true,
		Listen:       "127.0.0.1:8095",
		EventStream:  true,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // bearer connects and registration are slow
	}
}

func DefaultDBusConfig() *DBusConfig {
	return &DBusConfig{
		Enabled:     false,
		Bus:         "system",
		ServiceName: "io.modemd.Daemon",
	}
}

func DefaultJournalConfig() *JournalConfig {
	return &JournalConfig{
		Enabled:     true,
		MaxEvents:   1000,
		TTL:         24 * time.Hour,
		MaxMemoryMB: 64,
	}
}

func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled: false,
		Path:    "/metrics",
	}
}

func DefaultCoreConfig() *CoreConfig {
	t := mm.DefaultTiming()
	return &CoreConfig{
		RegistrationPollInterval: t.RegistrationPollInterval,
		SignalPollInterval:       t.SignalPollInterval,
		SignalStaleAfter:         t.SignalStaleAfter,
		UnlockRetryDelay:         t.UnlockRetryDelay,
		UnlockAttempts:           t.UnlockAttempts,
		FlashDuration:            t.FlashDuration,
	}
}

// Default returns a configuration with every section at its defaults and
// no modems.
func Default() *Config {
	return &Config{
		Logging: *DefaultLoggingConfig(),
		API:     *DefaultAPIConfig(),
		DBus:    *DefaultDBusConfig(),
		Journal: *DefaultJournalConfig(),
		Metrics: *DefaultMetricsConfig(),
		Core:    *DefaultCoreConfig(),
	}
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(configPath string) (*Config, error) {
	// If config file doesn't exist, run with defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults, then validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, configPath string) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyDefaults fills zero values the YAML left behind, e.g. a section
// given with only some of its keys.
func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if !c.Logging.Console && c.Logging.File == "" {
		c.Logging.Console = true // Default to console if neither configured
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 100
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}

	if c.API.Listen == "" {
		c.API.Listen = DefaultAPIConfig().Listen
	}
	if c.DBus.Bus == "" {
		c.DBus.Bus = "system"
	}
	if c.DBus.ServiceName == "" {
		c.DBus.ServiceName = DefaultDBusConfig().ServiceName
	}
	if c.Journal.MaxEvents == 0 {
		c.Journal.MaxEvents = 1000
	}
	if c.Journal.MaxMemoryMB == 0 {
		c.Journal.MaxMemoryMB = 64
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	for i := range c.Modems {
		c.Modems[i].applyDefaults(i)
	}
}

// CreateExampleConfig writes an example configuration with one modem.
func CreateExampleConfig(dir string) error {
	config := Default()
	example := DefaultModemConfig()
	example.Name = "wwan0"
	example.Device = "/dev/ttyUSB2"
	config.Modems = []ModemConfig{*example}

	if err := SaveConfig(config, filepath.Join(dir, "modemd.example.yaml")); err != nil {
		return fmt.Errorf("failed to create example config: %w", err)
	}

	return nil
}

// ToLoggingConfig converts to the logging package configuration
func (c *LoggingConfig) ToLoggingConfig() *logging.Config {
	return &logging.Config{
		Level:      c.Level,
		File:       c.File,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Console:    c.Console,
		JSON:       c.JSON,
	}
}

// Timing converts to the state machine timing
func (c *CoreConfig) Timing() mm.Timing {
	return mm.Timing{
		RegistrationPollInterval: c.RegistrationPollInterval,
		SignalPollInterval:       c.SignalPollInterval,
		SignalStaleAfter:         c.SignalStaleAfter,
		UnlockRetryDelay:         c.UnlockRetryDelay,
		UnlockAttempts:           c.UnlockAttempts,
		FlashDuration:            c.FlashDuration,
	}
}
