package config

import (
	"fmt"
	"time"

	"github.com/modemd/internal/modemd/atport"
	"github.com/modemd/internal/modemd/generic"
)

// ModemConfig holds configuration for a single modem
type ModemConfig struct {
	Name   string `yaml:"name"`   // Modem identifier (e.g., "wwan0")
	Device string `yaml:"device"` // Primary AT port (e.g., /dev/ttyUSB2)

	// Serial settings
	BaudRate       int           `yaml:"baud_rate"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	FlowControl    string        `yaml:"flow_control"` // none, rts-cts, xon-xoff

	// Behavior
	AutoEnable         bool          `yaml:"auto_enable"`
	PowerDownOnDisable bool          `yaml:"power_down_on_disable"` // AT+CFUN=4 on disable; breaks some hardware
	AfterPowerUpWait   time.Duration `yaml:"after_power_up_wait"`
	MaxBearers         int           `yaml:"max_bearers"`
	MaxActiveBearers   int           `yaml:"max_active_bearers"`
	PresenceInterval   time.Duration `yaml:"presence_interval"` // device node check interval
}

// DefaultModemConfig returns default configuration for a modem
func DefaultModemConfig() *ModemConfig {
	port := atport.DefaultConfig()
	drv := generic.DefaultConfig()
	return &ModemConfig{
		BaudRate:         port.BaudRate,
		CommandTimeout:   port.CommandTimeout,
		FlowControl:      drv.FlowControl,
		AutoEnable:       false,
		AfterPowerUpWait: drv.AfterPowerUpWait,
		MaxBearers:       drv.MaxBearers,
		MaxActiveBearers: drv.MaxActiveBearers,
		PresenceInterval: 2 * time.Second,
	}
}

func (m *ModemConfig) applyDefaults(index int) {
	def := DefaultModemConfig()
	if m.Name == "" {
		m.Name = fmt.Sprintf("modem%d", index)
	}
	if m.BaudRate == 0 {
		m.BaudRate = def.BaudRate
	}
	if m.CommandTimeout == 0 {
		m.CommandTimeout = def.CommandTimeout
	}
	if m.FlowControl == "" {
		m.FlowControl = def.FlowControl
	}
	if m.AfterPowerUpWait == 0 {
		m.AfterPowerUpWait = def.AfterPowerUpWait
	}
	if m.MaxBearers == 0 {
		m.MaxBearers = def.MaxBearers
	}
	if m.MaxActiveBearers == 0 {
		m.MaxActiveBearers = def.MaxActiveBearers
	}
	if m.PresenceInterval == 0 {
		m.PresenceInterval = def.PresenceInterval
	}
}

// GetModem returns the configuration for the named modem
func (c *Config) GetModem(name string) *ModemConfig {
	for i := range c.Modems {
		if c.Modems[i].Name == name {
			return &c.Modems[i]
		}
	}
	return nil
}

// PortConfig converts to the AT port configuration
func (m *ModemConfig) PortConfig() atport.Config {
	return atport.Config{
		Device:         m.Device,
		BaudRate:       m.BaudRate,
		CommandTimeout: m.CommandTimeout,
	}
}

// DriverConfig converts to the generic driver configuration
func (m *ModemConfig) DriverConfig() generic.Config {
	return generic.Config{
		Name:               m.Name,
		FlowControl:        m.FlowControl,
		PowerDownOnDisable: m.PowerDownOnDisable,
		AfterPowerUpWait:   m.AfterPowerUpWait,
		MaxBearers:         m.MaxBearers,
		MaxActiveBearers:   m.MaxActiveBearers,
	}
}
