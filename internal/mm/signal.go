package mm

import (
	"context"

	"k8s.io/utils/clock"

	"github.com/modemd/internal/logging"
)

// signalMonitor holds the cached signal reading and the timers around it.
// Guarded by Modem.mu.
type signalMonitor struct {
	quality SignalQuality

	// gen increments on every reading and on disable; a staleness timer
	// only acts when its generation is still current.
	gen   uint64
	stale clock.Timer

	pollCancel context.CancelFunc
	running    bool
}

// enableSignalMonitor starts the periodic signal poll. The first check runs
// immediately. Each check runs on its own goroutine so that a tick arriving
// while one is outstanding is dropped rather than queued.
func (m *Modem) enableSignalMonitor() {
	m.mu.Lock()
	if m.closed || m.signal.pollCancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.signal.pollCancel = cancel
	m.mu.Unlock()

	if _, ok := m.driver.(SignalQualityLoader); !ok {
		return
	}
	m.goBackground(func(context.Context) { m.checkSignalQuality(ctx) })
	m.goBackground(func(context.Context) {
		ticker := m.clock.NewTicker(m.timing.SignalPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				m.goBackground(func(context.Context) { m.checkSignalQuality(ctx) })
			}
		}
	})
}

// disableSignalMonitor stops polling and the staleness timer. With clear set
// the cached reading drops to (0, not recent).
func (m *Modem) disableSignalMonitor(clear bool) {
	m.mu.Lock()
	if m.signal.pollCancel != nil {
		// Cancelled under mu so an in-flight reload cannot store its value.
		m.signal.pollCancel()
		m.signal.pollCancel = nil
	}
	stale := m.signal.stale
	m.signal.stale = nil
	m.signal.gen++
	changed := clear && m.signal.quality != (SignalQuality{})
	if clear {
		m.signal.quality = SignalQuality{}
	}
	m.mu.Unlock()

	if stale != nil {
		stale.Stop()
	}
	if changed {
		m.emit(Event{Type: EventSignalQualityChanged, Signal: &SignalQuality{}})
	}
}

// checkSignalQuality runs one signal reload unless another is in flight.
func (m *Modem) checkSignalQuality(ctx context.Context) {
	loader, ok := m.driver.(SignalQualityLoader)
	if !ok {
		return
	}
	m.mu.Lock()
	if m.signal.running {
		m.mu.Unlock()
		return
	}
	m.signal.running = true
	m.mu.Unlock()

	value, err := loader.LoadSignalQuality(ctx)

	m.mu.Lock()
	m.signal.running = false
	m.mu.Unlock()

	if err != nil {
		m.log.Debug("couldn't refresh signal quality", logging.Err(err))
		return
	}
	m.storeSignalQuality(ctx, value)
}

// UpdateSignalQuality stores a fresh reading (0-100) and re-arms the
// staleness timer.
func (m *Modem) UpdateSignalQuality(value uint) {
	m.storeSignalQuality(context.Background(), value)
}

func (m *Modem) storeSignalQuality(ctx context.Context, value uint) {
	if value > 100 {
		value = 100
	}

	m.mu.Lock()
	if m.closed || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.signal.quality = SignalQuality{Value: value, Recent: true}
	m.signal.gen++
	gen := m.signal.gen
	old := m.signal.stale
	m.signal.stale = nil
	m.mu.Unlock()

	if old != nil {
		old.Stop()
	}
	timer := m.clock.AfterFunc(m.timing.SignalStaleAfter, func() {
		m.markSignalStale(gen)
	})

	m.mu.Lock()
	current := m.signal.gen == gen && !m.closed
	if current {
		m.signal.stale = timer
	}
	m.mu.Unlock()
	if !current {
		timer.Stop()
	}

	m.log.Debug("signal quality updated", "value", value)
	m.emit(Event{Type: EventSignalQualityChanged, Signal: &SignalQuality{Value: value, Recent: true}})
}

func (m *Modem) markSignalStale(gen uint64) {
	m.mu.Lock()
	if m.signal.gen != gen || !m.signal.quality.Recent {
		m.mu.Unlock()
		return
	}
	m.signal.quality.Recent = false
	m.signal.stale = nil
	q := m.signal.quality
	m.mu.Unlock()

	m.log.Debug("signal quality reading is stale", "value", q.Value)
	m.emit(Event{Type: EventSignalQualityChanged, Signal: &q})
}
