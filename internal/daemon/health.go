package daemon

import (
	"time"

	"github.com/modemd/internal/api"
	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/version"
)

// CheckHealth implements api.HealthChecker. The status is degraded while a
// configured modem is absent, failed or in error.
func (d *Daemon) CheckHealth() *api.HealthStatus {
	now := d.clock.Now()
	v := version.Get()

	d.mu.Lock()
	uptime := now.Sub(d.started)
	if d.started.IsZero() {
		uptime = 0
	}
	status := &api.HealthStatus{
		Status:    "ok",
		Time:      now.UTC(),
		Uptime:    uptime.Truncate(time.Second).String(),
		UptimeSec: uptime.Seconds(),
		Version: api.VersionInfo{
			Version:   v.Version,
			GitCommit: v.GitCommit,
			BuildTime: v.BuildTime,
		},
		Modems: make([]api.ModemHealth, 0, len(d.slots)),
	}
	for _, s := range d.slots {
		h := api.ModemHealth{
			Name:    s.cfg.Name,
			Device:  s.cfg.Device,
			Present: s.present,
			USBID:   s.usb,
		}
		if s.err != nil {
			h.Error = s.err.Error()
		}
		if s.modem != nil {
			st := s.modem.State()
			h.State = st.String()
			if st == mm.StateFailed {
				status.Status = "degraded"
			}
		}
		if !s.present || s.modem == nil || s.err != nil {
			status.Status = "degraded"
		}
		status.Modems = append(status.Modems, h)
	}
	d.mu.Unlock()

	if d.journal != nil {
		st := d.journal.Stats()
		status.Journal = &api.JournalHealth{
			Entries:  st.Entries,
			Recorded: st.Recorded,
			Failed:   st.Failed,
		}
	}
	if d.bus != nil {
		status.DBus = &api.DBusHealth{
			Connected:   d.bus.Connected(),
			ServiceName: d.bus.ServiceName(),
		}
	}
	return status
}
