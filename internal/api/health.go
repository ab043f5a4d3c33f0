package api

import "time"

// HealthChecker provides health check data to the API server.
type HealthChecker interface {
	CheckHealth() *HealthStatus
}

// HealthStatus is the full health check response.
type HealthStatus struct {
	Status    string         `json:"status"` // "ok" or "degraded"
	Time      time.Time      `json:"time"`
	Uptime    string         `json:"uptime"`         // human-readable
	UptimeSec float64        `json:"uptime_seconds"` // machine-readable
	Version   VersionInfo    `json:"version"`
	Modems    []ModemHealth  `json:"modems"`
	Journal   *JournalHealth `json:"journal,omitempty"`
	DBus      *DBusHealth    `json:"dbus,omitempty"`
}

// VersionInfo contains build version details.
type VersionInfo struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildTime string `json:"build_time"`
}

// ModemHealth reports one configured modem.
type ModemHealth struct {
	Name    string `json:"name"`
	Device  string `json:"device"`
	Present bool   `json:"present"`
	State   string `json:"state,omitempty"`
	USBID   string `json:"usb_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JournalHealth reports event journal status.
type JournalHealth struct {
	Entries  uint64 `json:"entries"`
	Recorded uint64 `json:"recorded"`
	Failed   uint64 `json:"failed"`
}

// DBusHealth reports the bus export.
type DBusHealth struct {
	Connected   bool   `json:"connected"`
	ServiceName string `json:"service_name"`
}
