package atport

import "time"

// Config contains serial port settings for an AT command port
type Config struct {
	Device   string // Serial port device (e.g., /dev/ttyUSB2, /dev/cdc-wdm0)
	BaudRate int    // Serial port baud rate (e.g., 115200)

	// Timeouts
	CommandTimeout time.Duration // Timeout for a command to reach its final result
	ReadTimeout    time.Duration // Poll interval of the serial reader
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() Config {
	return Config{
		BaudRate:       115200,
		CommandTimeout: 5 * time.Second,
		ReadTimeout:    100 * time.Millisecond,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.BaudRate == 0 {
		c.BaudRate = d.BaudRate
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = d.CommandTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
}
