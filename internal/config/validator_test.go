package config

import (
	"strings"
	"testing"
	"time"
)

func validModem() ModemConfig {
	m := *DefaultModemConfig()
	m.Name = "wwan0"
	m.Device = "/dev/ttyUSB2"
	return m
}

func TestModemValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *ModemConfig)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(m *ModemConfig) {},
			wantErr: false,
		},
		{
			name:    "missing device",
			mutate:  func(m *ModemConfig) { m.Device = "" },
			wantErr: true,
		},
		{
			name:    "relative device",
			mutate:  func(m *ModemConfig) { m.Device = "ttyUSB2" },
			wantErr: true,
		},
		{
			name:    "invalid baud rate",
			mutate:  func(m *ModemConfig) { m.BaudRate = 0 },
			wantErr: true,
		},
		{
			name:    "unknown flow control",
			mutate:  func(m *ModemConfig) { m.FlowControl = "dtr-dsr" },
			wantErr: true,
		},
		{
			name:    "rts-cts flow control",
			mutate:  func(m *ModemConfig) { m.FlowControl = "rts-cts" },
			wantErr: false,
		},
		{
			name: "active bearers exceed bearers",
			mutate: func(m *ModemConfig) {
				m.MaxBearers = 1
				m.MaxActiveBearers = 2
			},
			wantErr: true,
		},
		{
			name:    "negative timeout",
			mutate:  func(m *ModemConfig) { m.CommandTimeout = -time.Second },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validModem()
			tt.mutate(&m)
			err := m.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAPIValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  APIConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  APIConfig{Listen: "127.0.0.1:8095"},
			wantErr: false,
		},
		{
			name:    "all interfaces",
			config:  APIConfig{Listen: ":8095"},
			wantErr: false,
		},
		{
			name:    "missing port",
			config:  APIConfig{Listen: "localhost"},
			wantErr: true,
		},
		{
			name:    "empty cors origin",
			config:  APIConfig{Listen: ":8095", CORSOrigins: []string{"https://ui.example", ""}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDBusValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  DBusConfig
		wantErr bool
	}{
		{"system bus", DBusConfig{Bus: "system", ServiceName: "io.modemd.Daemon"}, false},
		{"session bus", DBusConfig{Bus: "session", ServiceName: "io.modemd.Daemon"}, false},
		{"unknown bus", DBusConfig{Bus: "starter", ServiceName: "io.modemd.Daemon"}, true},
		{"bad service name", DBusConfig{Bus: "system", ServiceName: "modemd"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestJournalValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  JournalConfig
		wantErr bool
	}{
		{"valid config", JournalConfig{MaxEvents: 100, TTL: time.Hour, MaxMemoryMB: 16}, false},
		{"no ttl", JournalConfig{MaxEvents: 100, MaxMemoryMB: 16}, false},
		{"zero events", JournalConfig{MaxEvents: 0, MaxMemoryMB: 16}, true},
		{"negative ttl", JournalConfig{MaxEvents: 100, TTL: -time.Hour, MaxMemoryMB: 16}, true},
		{"zero memory", JournalConfig{MaxEvents: 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCoreValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  CoreConfig
		wantErr bool
	}{
		{"defaults", *DefaultCoreConfig(), false},
		{"zero values use built-in timing", CoreConfig{}, false},
		{"negative interval", CoreConfig{SignalPollInterval: -time.Second}, true},
		{"stale before next poll", CoreConfig{SignalPollInterval: time.Minute, SignalStaleAfter: 30 * time.Second}, true},
		{"negative attempts", CoreConfig{UnlockAttempts: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoggingValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  LoggingConfig
		wantErr bool
	}{
		{"valid config", LoggingConfig{Level: "debug", MaxSize: 10}, false},
		{"empty level", LoggingConfig{}, false},
		{"invalid level", LoggingConfig{Level: "verbose"}, true},
		{"negative size", LoggingConfig{Level: "info", MaxSize: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		cfg := Default()
		cfg.Modems = []ModemConfig{validModem()}

		if err := cfg.Validate(); err != nil {
			t.Errorf("Valid config should not error: %v", err)
		}
	})

	t.Run("metrics without api", func(t *testing.T) {
		cfg := Default()
		cfg.API.Enabled = false
		cfg.Metrics.Enabled = true

		if err := cfg.Validate(); err == nil {
			t.Error("Metrics without API listener should error")
		}
	})

	t.Run("duplicate modems", func(t *testing.T) {
		cfg := Default()
		cfg.Modems = []ModemConfig{validModem(), validModem()}

		err := cfg.Validate()
		if err == nil {
			t.Fatal("Expected validation errors")
		}
		if !strings.Contains(err.Error(), "is duplicated") {
			t.Errorf("Error should name the duplicate: %s", err)
		}
		if !strings.Contains(err.Error(), "used by another modem") {
			t.Errorf("Error should name the shared device: %s", err)
		}
	})

	t.Run("multiple validation errors", func(t *testing.T) {
		cfg := Default()
		cfg.Logging.Level = "invalid"
		cfg.Journal.MaxEvents = -1
		bad := validModem()
		bad.Device = ""
		cfg.Modems = []ModemConfig{bad}

		err := cfg.Validate()
		if err == nil {
			t.Fatal("Expected validation errors")
		}

		errMsg := err.Error()
		if !strings.Contains(errMsg, "configuration validation failed") {
			t.Errorf("Error message should indicate validation failure: %s", errMsg)
		}
		ve, ok := err.(*ValidationErrors)
		if !ok {
			t.Fatalf("Expected *ValidationErrors, got %T", err)
		}
		if len(ve.Errors) != 3 {
			t.Errorf("Expected 3 errors, got %d: %s", len(ve.Errors), errMsg)
		}
	})
}
