package logging

import (
	"fmt"
	"log/slog"
	"time"
)

// Common field helpers for consistent structured logging

// Modem creates the modem id field
func Modem(id string) slog.Attr {
	return slog.String("modem", id)
}

// Bearer creates the bearer id field
func Bearer(id string) slog.Attr {
	return slog.String("bearer", id)
}

// State creates a state field from any enum with a name
func State(s fmt.Stringer) slog.Attr {
	return slog.String("state", s.String())
}

// Step names a step of a modem sequence
func Step(name string) slog.Attr {
	return slog.String("step", name)
}

// Device creates the device node field
func Device(path string) slog.Attr {
	return slog.String("device", path)
}

// Command creates the AT command field
func Command(cmd string) slog.Attr {
	return slog.String("command", cmd)
}

// Duration logs duration in milliseconds
func Duration(name string, d time.Duration) slog.Attr {
	return slog.Int64(name+"_ms", d.Milliseconds())
}

// Err creates error field
func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

// Count creates count field
func Count(name string, count int) slog.Attr {
	return slog.Int(name+"_count", count)
}

// HTTP creates HTTP request fields
func HTTP(method, path string, status int) []any {
	return []any{
		slog.String("http_method", method),
		slog.String("http_path", path),
		slog.Int("http_status", status),
	}
}
