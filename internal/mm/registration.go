package mm

import (
	"context"

	"github.com/modemd/internal/logging"
)

// registrationContext tracks the two 3GPP registration channels. A channel
// that is not supported is never updated and stays Unknown. Guarded by
// Modem.mu.
type registrationContext struct {
	cs, ps       RegistrationState
	consolidated RegistrationState

	csSupported, psSupported bool
	csNeedsPoll, psNeedsPoll bool

	pollCancel context.CancelFunc
	// checks counts registration checks in flight; periodic ticks are
	// dropped while it is non-zero.
	checks int
}

func (r *registrationContext) reset() {
	r.cs = RegistrationUnknown
	r.ps = RegistrationUnknown
	r.consolidated = RegistrationUnknown
}

// consolidate merges the CS and PS readings. A registered channel wins,
// CS first; then a searching channel, CS first; otherwise CS.
func consolidate(cs, ps RegistrationState) RegistrationState {
	switch {
	case cs.Registered():
		return cs
	case ps.Registered():
		return ps
	case cs == RegistrationSearching:
		return cs
	case ps == RegistrationSearching:
		return ps
	}
	return cs
}

var _ Notifier = (*Modem)(nil)

// UpdateCsRegistrationState records a circuit-switched registration reading.
func (m *Modem) UpdateCsRegistrationState(state RegistrationState, act AccessTechnology) {
	m.updateRegistration(context.Background(), false, state, act)
}

// UpdatePsRegistrationState records a packet-switched registration reading.
func (m *Modem) UpdatePsRegistrationState(state RegistrationState, act AccessTechnology) {
	m.updateRegistration(context.Background(), true, state, act)
}

// updateRegistration applies a reading unless ctx, the context of the check
// that produced it, was cancelled in the meantime. Readings arriving while
// the modem is below Enabled are ignored.
func (m *Modem) updateRegistration(ctx context.Context, ps bool, state RegistrationState, act AccessTechnology) {
	m.mu.Lock()
	if ctx.Err() != nil || m.state < StateEnabled {
		m.mu.Unlock()
		return
	}
	if ps {
		if !m.reg.psSupported {
			m.mu.Unlock()
			return
		}
		m.reg.ps = state
	} else {
		if !m.reg.csSupported {
			m.mu.Unlock()
			return
		}
		m.reg.cs = state
	}
	old := m.reg.consolidated
	next := consolidate(m.reg.cs, m.reg.ps)
	if next == old {
		m.mu.Unlock()
		return
	}
	m.reg.consolidated = next
	m.mu.Unlock()

	m.log.Info("3GPP registration state changed", "old", old.String(), "new", next.String())
	m.emit(Event{Type: EventRegistrationChanged, OldRegistration: old, Registration: next, AccessTech: act})

	atLeastEnabled := func(cur State) bool { return cur >= StateEnabled }

	if next.Registered() {
		m.bearers.AllowConnections(Bearer3gpp, next == RegistrationRoaming)
		m.reloadOperatorInfo()
		m.UpdateAccessTechnologies(act, AccessTechAll3gpp)
		m.applyState(StateRegistered, ReasonUnknown, atLeastEnabled)
		return
	}

	m.UpdateAccessTechnologies(AccessTechUnknown, AccessTechAll3gpp)
	m.clearOperatorInfo()
	m.bearers.ForbidConnections(Bearer3gpp, ForbiddenUnregistered)
	if next == RegistrationSearching {
		m.applyState(StateSearching, ReasonUnknown, atLeastEnabled)
	} else {
		m.applyState(StateEnabled, ReasonUnknown, atLeastEnabled)
	}
}

// UpdateAccessTechnologies replaces the bits of mask with those of act and
// keeps every other bit.
func (m *Modem) UpdateAccessTechnologies(act, mask AccessTechnology) {
	m.mu.Lock()
	next := (m.accessTech &^ mask) | (act & mask)
	if next == m.accessTech {
		m.mu.Unlock()
		return
	}
	m.accessTech = next
	m.mu.Unlock()

	m.log.Debug("access technologies changed", "access_tech", next.String())
	m.emit(Event{Type: EventAccessTechChanged, AccessTech: next})
}

// reloadOperatorInfo refreshes operator code and name in the background.
// Failures are logged only.
func (m *Modem) reloadOperatorInfo() {
	_, codeOK := m.driver.(OperatorCodeLoader)
	_, nameOK := m.driver.(OperatorNameLoader)
	if !codeOK && !nameOK {
		return
	}
	m.goBackground(func(ctx context.Context) {
		if err := m.loadOperatorInfo(ctx); err != nil {
			m.log.Debug("operator reload cancelled", logging.Err(err))
		}
	})
}

type operatorInfo struct {
	code, name string
}

func (m *Modem) loadOperatorInfo(ctx context.Context) error {
	v, err, _ := m.operators.Do("operator", func() (any, error) {
		var info operatorInfo
		if l, ok := m.driver.(OperatorCodeLoader); ok {
			code, err := l.LoadOperatorCode(ctx)
			if err != nil {
				m.log.Warn("couldn't load operator code", logging.Err(err))
			}
			info.code = code
		}
		if l, ok := m.driver.(OperatorNameLoader); ok {
			name, err := l.LoadOperatorName(ctx)
			if err != nil {
				m.log.Warn("couldn't load operator name", logging.Err(err))
			}
			info.name = name
		}
		return info, cancelled(ctx)
	})
	if err != nil {
		return err
	}
	info := v.(operatorInfo)

	m.mu.Lock()
	if !m.reg.consolidated.Registered() ||
		(m.operatorCode == info.code && m.operatorName == info.name) {
		m.mu.Unlock()
		return nil
	}
	m.operatorCode, m.operatorName = info.code, info.name
	m.mu.Unlock()

	m.log.Info("operator updated", "code", info.code, "name", info.name)
	m.emit(Event{Type: EventOperatorChanged, OperatorCode: info.code, OperatorName: info.name})
	return nil
}

func (m *Modem) clearOperatorInfo() {
	m.mu.Lock()
	if m.operatorCode == "" && m.operatorName == "" {
		m.mu.Unlock()
		return
	}
	m.operatorCode, m.operatorName = "", ""
	m.mu.Unlock()
	m.emit(Event{Type: EventOperatorChanged})
}

// Operator returns the current operator code (MCCMNC) and name.
func (m *Modem) Operator() (code, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.operatorCode, m.operatorName
}

// RunAllRegistrationChecks queries CS then PS registration. It succeeds if
// any attempted channel succeeded; when all fail the PS error is preferred.
func (m *Modem) RunAllRegistrationChecks(ctx context.Context) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	return m.guardedRegistrationChecks(ctx)
}

// guardedRegistrationChecks runs a full check and counts it as outstanding
// so that periodic ticks arriving meanwhile are dropped.
func (m *Modem) guardedRegistrationChecks(ctx context.Context) error {
	m.mu.Lock()
	m.reg.checks++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.reg.checks--
		m.mu.Unlock()
	}()
	return m.runAllRegistrationChecks(ctx)
}

func (m *Modem) runAllRegistrationChecks(ctx context.Context) error {
	m.mu.Lock()
	csSupported, psSupported := m.reg.csSupported, m.reg.psSupported
	m.mu.Unlock()

	var (
		attempted, succeeded bool
		csErr, psErr         error
	)
	if c, ok := m.driver.(CsRegistrationChecker); ok && csSupported {
		attempted = true
		r, err := c.RunCsRegistrationCheck(ctx)
		if err != nil {
			csErr = err
		} else {
			succeeded = true
			m.updateRegistration(ctx, false, r.State, r.AccessTech)
		}
	}
	if c, ok := m.driver.(PsRegistrationChecker); ok && psSupported {
		attempted = true
		r, err := c.RunPsRegistrationCheck(ctx)
		if err != nil {
			psErr = err
		} else {
			succeeded = true
			m.updateRegistration(ctx, true, r.State, r.AccessTech)
		}
	}

	switch {
	case !attempted:
		return unsupported("registration check")
	case succeeded:
		return nil
	case psErr != nil:
		return wrapDriver(psErr, "PS registration check failed")
	default:
		return wrapDriver(csErr, "CS registration check failed")
	}
}

// pollRegistration runs one periodic check; a tick that arrives while a
// check is outstanding is dropped.
func (m *Modem) pollRegistration(ctx context.Context) {
	m.mu.Lock()
	if m.reg.checks > 0 {
		m.mu.Unlock()
		m.log.Debug("skipping registration poll, previous check still running")
		return
	}
	m.reg.checks++
	m.mu.Unlock()

	err := m.runAllRegistrationChecks(ctx)

	m.mu.Lock()
	m.reg.checks--
	m.mu.Unlock()

	if err != nil {
		m.log.Debug("periodic registration check failed", logging.Err(err))
	}
}

func (m *Modem) startRegistrationPolling() {
	m.mu.Lock()
	if m.closed || m.reg.pollCancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.reg.pollCancel = cancel
	m.mu.Unlock()

	m.log.Debug("periodic registration checks enabled",
		logging.Duration("interval", m.timing.RegistrationPollInterval))
	m.goBackground(func(context.Context) {
		ticker := m.clock.NewTicker(m.timing.RegistrationPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				m.goBackground(func(context.Context) { m.pollRegistration(ctx) })
			}
		}
	})
}

// stopRegistrationPolling cancels the poll under mu so that a check still
// in flight cannot apply its reading afterwards.
func (m *Modem) stopRegistrationPolling() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reg.pollCancel != nil {
		m.reg.pollCancel()
		m.reg.pollCancel = nil
	}
}

// enable3gpp installs registration reporting after the modem is enabled.
// Nothing here fails the enable operation.
func (m *Modem) enable3gpp(ctx context.Context) {
	m.mu.Lock()
	csSupported, psSupported := m.reg.csSupported, m.reg.psSupported
	m.mu.Unlock()
	if !csSupported && !psSupported {
		return
	}

	if s, ok := m.driver.(UnsolicitedRegistrationSetup); ok {
		if err := s.SetupUnsolicitedRegistration(ctx, m); err != nil {
			m.log.Warn("couldn't set up unsolicited registration handlers", logging.Err(err))
		}
	}

	csPoll, psPoll := false, false
	if csSupported {
		csPoll = true
		if s, ok := m.driver.(CsRegistrationSetup); ok {
			if err := s.SetupCsRegistration(ctx); err != nil {
				m.log.Warn("couldn't set up unsolicited CS registration", logging.Err(err))
			} else {
				csPoll = false
			}
		}
	}
	if psSupported {
		psPoll = true
		if s, ok := m.driver.(PsRegistrationSetup); ok {
			if err := s.SetupPsRegistration(ctx); err != nil {
				m.log.Warn("couldn't set up unsolicited PS registration", logging.Err(err))
			} else {
				psPoll = false
			}
		}
	}

	m.mu.Lock()
	m.reg.csNeedsPoll, m.reg.psNeedsPoll = csPoll, psPoll
	m.mu.Unlock()

	if csPoll || psPoll {
		m.startRegistrationPolling()
	}
	if err := m.guardedRegistrationChecks(ctx); err != nil {
		m.log.Debug("initial registration check failed", logging.Err(err))
	}
}

// disable3gpp removes registration reporting and resets the registration
// context to Unknown.
func (m *Modem) disable3gpp(ctx context.Context) {
	m.stopRegistrationPolling()

	m.mu.Lock()
	csSupported, psSupported := m.reg.csSupported, m.reg.psSupported
	m.mu.Unlock()

	if s, ok := m.driver.(CsRegistrationSetup); ok && csSupported {
		if err := s.CleanupCsRegistration(ctx); err != nil {
			m.log.Warn("couldn't clean up CS registration", logging.Err(err))
		}
	}
	if s, ok := m.driver.(PsRegistrationSetup); ok && psSupported {
		if err := s.CleanupPsRegistration(ctx); err != nil {
			m.log.Warn("couldn't clean up PS registration", logging.Err(err))
		}
	}
	if s, ok := m.driver.(UnsolicitedRegistrationSetup); ok && (csSupported || psSupported) {
		if err := s.CleanupUnsolicitedRegistration(ctx); err != nil {
			m.log.Warn("couldn't clean up unsolicited registration handlers", logging.Err(err))
		}
	}

	m.mu.Lock()
	old := m.reg.consolidated
	m.reg.reset()
	m.reg.csNeedsPoll, m.reg.psNeedsPoll = false, false
	m.mu.Unlock()

	if old != RegistrationUnknown {
		m.emit(Event{Type: EventRegistrationChanged, OldRegistration: old, Registration: RegistrationUnknown})
	}
	m.UpdateAccessTechnologies(AccessTechUnknown, AccessTechAll3gpp)
	m.clearOperatorInfo()
	m.bearers.ForbidConnections(Bearer3gpp, ForbiddenUnregistered)
}

// Register asks the network to register with operatorID, or with
// automatic selection when operatorID is empty.
func (m *Modem) Register(ctx context.Context, operatorID string) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	if st := m.State(); st < StateEnabled {
		return wrongState("register", st)
	}
	r, ok := m.driver.(NetworkRegisterer)
	if !ok {
		return unsupported("network registration")
	}
	if operatorID != "" && (len(operatorID) < 5 || len(operatorID) > 6 || !digitsOnly(operatorID)) {
		return Errorf(KindInvalidArgs, "invalid operator id %q: expected 5 or 6 digits", operatorID)
	}
	if err := r.RegisterInNetwork(ctx, operatorID); err != nil {
		return wrapDriver(err, "network registration failed")
	}
	if err := m.guardedRegistrationChecks(ctx); err != nil {
		m.log.Debug("registration check after register failed", logging.Err(err))
	}
	return nil
}
