package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/modemd/internal/modemd/generic"
)

// Validator interface for config validation
type Validator interface {
	Validate() error
}

// ValidationErrors collects multiple validation errors
type ValidationErrors struct {
	Errors []error
}

func (ve *ValidationErrors) Add(err error) {
	if err != nil {
		ve.Errors = append(ve.Errors, err)
	}
}

func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return ""
	}

	messages := make([]string, len(ve.Errors))
	for i, err := range ve.Errors {
		messages[i] = fmt.Sprintf("  - %s", err.Error())
	}

	return fmt.Sprintf("configuration validation failed:\n%s",
		strings.Join(messages, "\n"))
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs.Add(c.Logging.Validate())
	errs.Add(c.Core.Validate())

	if c.API.Enabled {
		errs.Add(c.API.Validate())
	}
	if c.DBus.Enabled {
		errs.Add(c.DBus.Validate())
	}
	if c.Journal.Enabled {
		errs.Add(c.Journal.Validate())
	}
	if c.Metrics.Enabled {
		if !c.API.Enabled {
			errs.Add(fmt.Errorf("metrics.enabled requires api.enabled"))
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			errs.Add(fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path))
		}
	}

	seenNames := make(map[string]bool)
	seenDevices := make(map[string]bool)
	for i := range c.Modems {
		m := &c.Modems[i]
		if err := m.Validate(); err != nil {
			errs.Add(fmt.Errorf("modems[%d]: %w", i, err))
		}
		if seenNames[m.Name] {
			errs.Add(fmt.Errorf("modems[%d].name '%s' is duplicated", i, m.Name))
		}
		seenNames[m.Name] = true
		if m.Device != "" && seenDevices[m.Device] {
			errs.Add(fmt.Errorf("modems[%d].device '%s' is used by another modem", i, m.Device))
		}
		seenDevices[m.Device] = true
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}

// Validate validates logging configuration
func (c *LoggingConfig) Validate() error {
	var errs ValidationErrors

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, l := range validLevels {
		if c.Level == l {
			levelValid = true
			break
		}
	}
	if !levelValid && c.Level != "" {
		errs.Add(fmt.Errorf("logging.level must be one of: %v, got %s", validLevels, c.Level))
	}

	if c.MaxSize < 0 {
		errs.Add(fmt.Errorf("logging.max_size cannot be negative, got %d", c.MaxSize))
	}

	if c.MaxBackups < 0 {
		errs.Add(fmt.Errorf("logging.max_backups cannot be negative, got %d", c.MaxBackups))
	}

	if c.MaxAge < 0 {
		errs.Add(fmt.Errorf("logging.max_age cannot be negative, got %d", c.MaxAge))
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}

// Validate validates API configuration
func (c *APIConfig) Validate() error {
	var errs ValidationErrors

	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs.Add(fmt.Errorf("api.listen must be host:port, got %q", c.Listen))
	}

	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		errs.Add(fmt.Errorf("api timeouts cannot be negative"))
	}

	for i, origin := range c.CORSOrigins {
		if origin == "" {
			errs.Add(fmt.Errorf("api.cors_origins[%d] is empty", i))
		}
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}

// Validate validates bus configuration
func (c *DBusConfig) Validate() error {
	var errs ValidationErrors

	if c.Bus != "system" && c.Bus != "session" {
		errs.Add(fmt.Errorf("dbus.bus must be system or session, got %q", c.Bus))
	}

	if strings.Count(c.ServiceName, ".") < 1 {
		errs.Add(fmt.Errorf("dbus.service_name must be a dotted bus name, got %q", c.ServiceName))
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}

// Validate validates journal configuration
func (c *JournalConfig) Validate() error {
	var errs ValidationErrors

	if c.MaxEvents < 1 {
		errs.Add(fmt.Errorf("journal.max_events must be positive, got %d", c.MaxEvents))
	}

	if c.TTL < 0 {
		errs.Add(fmt.Errorf("journal.ttl cannot be negative"))
	}

	if c.MaxMemoryMB < 1 {
		errs.Add(fmt.Errorf("journal.max_memory_mb must be positive, got %d", c.MaxMemoryMB))
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}

// Validate validates core timing
func (c *CoreConfig) Validate() error {
	var errs ValidationErrors

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"core.registration_poll_interval", c.RegistrationPollInterval},
		{"core.signal_poll_interval", c.SignalPollInterval},
		{"core.signal_stale_after", c.SignalStaleAfter},
		{"core.unlock_retry_delay", c.UnlockRetryDelay},
		{"core.flash_duration", c.FlashDuration},
	} {
		if d.value < 0 {
			errs.Add(fmt.Errorf("%s cannot be negative", d.name))
		}
	}

	if c.UnlockAttempts < 0 {
		errs.Add(fmt.Errorf("core.unlock_attempts cannot be negative, got %d", c.UnlockAttempts))
	}

	if c.SignalStaleAfter > 0 && c.SignalPollInterval > 0 && c.SignalStaleAfter < c.SignalPollInterval {
		errs.Add(fmt.Errorf("core.signal_stale_after (%v) is shorter than core.signal_poll_interval (%v)",
			c.SignalStaleAfter, c.SignalPollInterval))
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}

// Validate validates a modem configuration
func (m *ModemConfig) Validate() error {
	var errs ValidationErrors

	if m.Device == "" {
		errs.Add(fmt.Errorf("device is required"))
	} else if !strings.HasPrefix(m.Device, "/") {
		errs.Add(fmt.Errorf("device must be an absolute path, got %q", m.Device))
	}

	if m.BaudRate < 1 {
		errs.Add(fmt.Errorf("baud_rate must be positive, got %d", m.BaudRate))
	}

	if m.CommandTimeout < 0 || m.AfterPowerUpWait < 0 || m.PresenceInterval < 0 {
		errs.Add(fmt.Errorf("durations cannot be negative"))
	}

	switch m.FlowControl {
	case generic.FlowControlNone, generic.FlowControlRtsCts, generic.FlowControlXonXoff:
	default:
		errs.Add(fmt.Errorf("flow_control must be one of none, rts-cts, xon-xoff, got %q", m.FlowControl))
	}

	if m.MaxBearers < 1 {
		errs.Add(fmt.Errorf("max_bearers must be positive, got %d", m.MaxBearers))
	}

	if m.MaxActiveBearers > m.MaxBearers {
		errs.Add(fmt.Errorf("max_active_bearers (%d) cannot exceed max_bearers (%d)",
			m.MaxActiveBearers, m.MaxBearers))
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}
