package mm

import (
	"github.com/modemd/internal/logging"
)

// updateState moves the modem to next. It is a no-op when next equals the
// current state. Requests to drop to Searching or Registered are ignored
// while the modem is past Registered and a bearer is still connected, so
// registration flicker does not hide an active connection.
func (m *Modem) updateState(next State, reason StateChangeReason) {
	m.applyState(next, reason, nil)
}

// applyState is updateState with an optional precondition on the current
// state, checked atomically with the transition. It reports whether the
// state changed.
func (m *Modem) applyState(next State, reason StateChangeReason, allow func(cur State) bool) bool {
	m.mu.Lock()
	old := m.state
	if next == old || (allow != nil && !allow(old)) {
		m.mu.Unlock()
		return false
	}
	if (next == StateSearching || next == StateRegistered) && old > StateRegistered &&
		m.bearers.CountConnected(nil) > 0 {
		m.mu.Unlock()
		m.log.Debug("ignoring state downgrade while a bearer is connected",
			logging.State(old), "requested", next.String())
		return false
	}
	m.state = next
	if next != StateFailed {
		m.failedReason = FailedReasonNone
	}
	m.mu.Unlock()

	m.log.Info("modem state changed", "old", old.String(), "new", next.String(), "reason", reason.String())
	m.emit(Event{Type: EventStateChanged, OldState: old, NewState: next, Reason: reason})

	switch {
	case old < StateRegistered && next >= StateRegistered:
		m.enableSignalMonitor()
	case old >= StateRegistered && next < StateRegistered:
		m.disableSignalMonitor(true)
	}
	return true
}

// setFailed moves the modem to StateFailed with the given reason.
func (m *Modem) setFailed(reason FailedReason) {
	m.mu.Lock()
	m.failedReason = reason
	m.mu.Unlock()
	m.updateState(StateFailed, ReasonFailure)
}

// FailedReason returns why the modem is in StateFailed.
func (m *Modem) FailedReason() FailedReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failedReason
}

// fallbackState is where a failed or finished enable/disable lands.
func (m *Modem) fallbackState() State {
	if m.Lock().Blocking() {
		return StateLocked
	}
	return StateDisabled
}

var bearerDrivenState = map[BearerStatus]State{
	BearerConnected:     StateConnected,
	BearerConnecting:    StateConnecting,
	BearerDisconnecting: StateDisconnecting,
	BearerDisconnected:  StateRegistered,
}

// onBearerStatusChanged derives the modem state from a bearer status when
// no other bearer is connected. It only acts on a registered modem.
func (m *Modem) onBearerStatusChanged(b *Bearer, st BearerStatus) {
	m.emit(Event{Type: EventBearerStatusChanged, Bearer: b.ID(), BearerStatus: st})

	if m.bearers.CountConnected(b) > 0 {
		return
	}
	m.applyState(bearerDrivenState[st], ReasonUnknown, func(cur State) bool {
		return cur >= StateRegistered
	})
}

// checkBearerConnect rejects connection attempts while the modem is not
// ready for data: 3GPP bearers need a registered modem, others an enabled
// one.
func (m *Modem) checkBearerConnect(b *Bearer) error {
	need := StateEnabled
	if b.Type() == Bearer3gpp {
		need = StateRegistered
	}
	if st := m.State(); st < need {
		return wrongState("connect bearer", st)
	}
	return nil
}

func (m *Modem) onBearerAllowedChanged(b *Bearer) {
	allowed, reason := b.ConnectionAllowed()
	m.emit(Event{Type: EventBearerAllowedChanged, Bearer: b.ID(), Allowed: allowed, ForbiddenReason: reason})
}
