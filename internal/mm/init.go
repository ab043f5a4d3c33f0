package mm

import (
	"context"

	"github.com/modemd/internal/logging"
)

// Initialize loads the static modem properties and checks the SIM lock.
// Capabilities are loaded once per lifetime. On success the modem ends in
// Locked or Disabled. SIM faults move it to Failed.
func (m *Modem) Initialize(ctx context.Context) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	m.seq.Lock()
	defer m.seq.Unlock()
	return m.initialize(ctx)
}

func (m *Modem) initialize(ctx context.Context) error {
	prev := m.State()
	if prev > StateDisabled {
		// Already enabled, nothing to do.
		return nil
	}
	m.updateState(StateInitializing, ReasonUnknown)

	if err := m.loadCapabilities(ctx); err != nil {
		m.setFailed(FailedReasonUnknown)
		return err
	}
	m.loadIdentity(ctx)
	m.loadModesAndBands(ctx)
	m.adoptBearers(ctx)

	lock, err := m.loadUnlockRequired(ctx)
	if err != nil {
		switch KindOf(err) {
		case KindSimNotInserted:
			m.setFailed(FailedReasonSimMissing)
		case KindSimFailure, KindSimWrong:
			m.setFailed(FailedReasonSimError)
		case KindCancelled:
			m.updateState(prev, ReasonUnknown)
		default:
			m.setFailed(FailedReasonUnknown)
		}
		return err
	}
	m.applyLock(lock)
	m.loadUnlockRetries(ctx)

	if err := cancelled(ctx); err != nil {
		m.updateState(prev, ReasonUnknown)
		return err
	}
	m.updateState(m.fallbackState(), ReasonUnknown)
	m.log.Info("modem initialized", logging.State(m.State()), "lock", m.Lock().String())
	return nil
}

func (m *Modem) loadCapabilities(ctx context.Context) error {
	m.mu.Lock()
	loaded := m.capsLoaded
	m.mu.Unlock()
	if loaded {
		return nil
	}

	current := CapabilityNone
	if l, ok := m.driver.(CurrentCapabilitiesLoader); ok {
		caps, err := l.LoadCurrentCapabilities(ctx)
		if err != nil {
			return wrapDriver(err, "couldn't load current capabilities")
		}
		current = caps
	}
	supported := current
	if l, ok := m.driver.(ModemCapabilitiesLoader); ok {
		caps, err := l.LoadModemCapabilities(ctx)
		if err != nil {
			return wrapDriver(err, "couldn't load modem capabilities")
		}
		supported = caps
	}

	m.mu.Lock()
	m.capsLoaded = true
	m.currentCaps = current
	m.modemCaps = supported
	m.reg.csSupported = current&CapabilityGsmUmts != 0
	m.reg.psSupported = current.Is3gpp()
	m.mu.Unlock()

	m.log.Debug("capabilities loaded", "current", current.String(), "supported", supported.String())
	return nil
}

func (m *Modem) loadIdentity(ctx context.Context) {
	l, ok := m.driver.(IdentityLoader)
	if !ok {
		return
	}
	id, err := l.LoadIdentity(ctx)
	if err != nil {
		m.log.Warn("couldn't load modem identity", logging.Err(err))
		return
	}
	m.mu.Lock()
	m.identity = id
	m.mu.Unlock()
}

func (m *Modem) loadModesAndBands(ctx context.Context) {
	if l, ok := m.driver.(SupportedModesLoader); ok {
		modes, err := l.LoadSupportedModes(ctx)
		if err != nil {
			m.log.Warn("couldn't load supported modes", logging.Err(err))
		} else {
			m.mu.Lock()
			m.supportedModes = modes
			if m.currentModes == (ModeCombination{}) && len(modes) > 0 {
				m.currentModes = modes[0]
			}
			m.mu.Unlock()
		}
	}
	if l, ok := m.driver.(SupportedBandsLoader); ok {
		bands, err := l.LoadSupportedBands(ctx)
		if err != nil {
			m.log.Warn("couldn't load supported bands", logging.Err(err))
		} else {
			m.mu.Lock()
			m.supportedBands = bands
			if len(m.currentBands) == 0 {
				m.currentBands = append([]Band(nil), bands...)
			}
			m.mu.Unlock()
		}
	}
}

// adoptBearers adds bearers the driver already knows about, as found at
// startup. Only done while the list is empty.
func (m *Modem) adoptBearers(ctx context.Context) {
	l, ok := m.driver.(BearerLister)
	if !ok || m.bearers.Count() > 0 {
		return
	}
	handles, err := l.ListBearers(ctx)
	if err != nil {
		m.log.Warn("couldn't list existing bearers", logging.Err(err))
		return
	}
	for _, h := range handles {
		b := newBearer(m.bearers.newID(), h, BearerProperties{}, m.log)
		m.admit(b)
		if err := m.bearers.add(b); err != nil {
			m.log.Warn("ignoring existing bearer", logging.Err(err))
			continue
		}
		m.emit(Event{Type: EventBearerAdded, Bearer: b.ID()})
	}
}

// ReloadCapabilities drops the cached capabilities after a firmware change,
// removes every bearer and initializes the modem again. The modem must not
// be enabled.
func (m *Modem) ReloadCapabilities(ctx context.Context) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	m.seq.Lock()
	defer m.seq.Unlock()

	if st := m.State(); st > StateDisabled {
		return wrongState("reload capabilities", st)
	}
	m.mu.Lock()
	m.capsLoaded = false
	m.currentCaps, m.modemCaps = CapabilityNone, CapabilityNone
	m.mu.Unlock()

	m.forceDeleteBearers(ctx)
	return m.initialize(ctx)
}
