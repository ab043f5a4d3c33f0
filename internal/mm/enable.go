package mm

import (
	"context"

	"github.com/modemd/internal/logging"
)

// charsetPreference is the order in which charsets are tried during enable.
var charsetPreference = []Charset{CharsetUTF8, CharsetUCS2, Charset8859_1, CharsetIRA, CharsetGSM}

// enableRun carries state between enable steps.
type enableRun struct {
	skipUnsolicitedEvents bool
}

// sequenceStep is one named step of the enable sequence. A step
// returns nil to proceed, including when its capability is missing and it
// was skipped. An error aborts the sequence.
type sequenceStep struct {
	name string
	run  func(ctx context.Context, r *enableRun) error
}

func (m *Modem) enableSteps() []sequenceStep {
	return []sequenceStep{
		{"open-port", m.stepOpenPort},
		{"flash-port", m.stepFlashPort},
		{"modem-init", m.stepModemInit},
		{"power-up", m.stepPowerUp},
		{"after-power-up", m.stepAfterPowerUp},
		{"flow-control", m.stepFlowControl},
		{"charset", m.stepCharset},
		{"indicators", m.stepIndicators},
		{"unsolicited-events", m.stepUnsolicitedEvents},
	}
}

func (m *Modem) runSteps(ctx context.Context, steps []sequenceStep) error {
	r := &enableRun{}
	for _, s := range steps {
		if err := cancelled(ctx); err != nil {
			return err
		}
		m.log.Debug("running step", logging.Step(s.name))
		if err := s.run(ctx, r); err != nil {
			m.log.Warn("step failed", logging.Step(s.name), logging.Err(err))
			return err
		}
	}
	return nil
}

// Enable runs the enable sequence and then installs 3GPP registration
// reporting. It is a no-op on an already enabled modem and fails with
// WrongState unless the modem is Disabled.
func (m *Modem) Enable(ctx context.Context) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	m.seq.Lock()
	defer m.seq.Unlock()

	switch st := m.State(); {
	case st >= StateEnabled:
		return nil
	case st != StateDisabled:
		return wrongState("enable", st)
	}

	m.mu.Lock()
	m.reg.reset()
	m.mu.Unlock()

	m.updateState(StateEnabling, ReasonUserRequested)
	if err := m.runSteps(ctx, m.enableSteps()); err != nil {
		m.closePort()
		m.updateState(m.fallbackState(), ReasonFailure)
		return err
	}
	m.updateState(StateEnabled, ReasonUserRequested)
	m.log.Info("modem enabled", "charset", m.Charset().String())

	m.enable3gpp(ctx)
	return nil
}

func (m *Modem) stepOpenPort(ctx context.Context, _ *enableRun) error {
	if err := m.driver.PrimaryPort().Open(ctx); err != nil {
		return wrapDriver(err, "couldn't open primary port")
	}
	return nil
}

func (m *Modem) stepFlashPort(ctx context.Context, _ *enableRun) error {
	if err := m.driver.PrimaryPort().Flash(ctx, m.timing.FlashDuration); err != nil {
		return wrapDriver(err, "primary port flash failed")
	}
	return nil
}

func (m *Modem) stepModemInit(ctx context.Context, _ *enableRun) error {
	d, ok := m.driver.(Initializer)
	if !ok {
		return nil
	}
	if err := d.ModemInit(ctx); err != nil {
		return wrapDriver(err, "modem init failed")
	}
	return nil
}

func (m *Modem) stepPowerUp(ctx context.Context, _ *enableRun) error {
	d, ok := m.driver.(PowerUpper)
	if !ok {
		return nil
	}
	if err := d.ModemPowerUp(ctx); err != nil {
		return wrapDriver(err, "power up failed")
	}
	return nil
}

func (m *Modem) stepAfterPowerUp(ctx context.Context, _ *enableRun) error {
	d, ok := m.driver.(AfterPowerUpper)
	if !ok {
		return nil
	}
	if err := d.ModemAfterPowerUp(ctx); err != nil {
		return wrapDriver(err, "after power up failed")
	}
	return nil
}

func (m *Modem) stepFlowControl(ctx context.Context, _ *enableRun) error {
	d, ok := m.driver.(FlowControlSetter)
	if !ok {
		return nil
	}
	if err := d.SetupFlowControl(ctx); err != nil {
		return wrapDriver(err, "flow control setup failed")
	}
	return nil
}

func (m *Modem) stepCharset(ctx context.Context, _ *enableRun) error {
	loader, ok := m.driver.(CharsetLoader)
	if !ok {
		return nil
	}
	setter, ok := m.driver.(CharsetSetter)
	if !ok {
		return nil
	}
	supported, err := loader.LoadSupportedCharsets(ctx)
	if err != nil {
		m.log.Warn("couldn't load supported charsets", logging.Err(err))
		return nil
	}
	cs, err := negotiateCharset(ctx, setter, supported)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.charset = cs
	m.mu.Unlock()
	return nil
}

// negotiateCharset tries the preferred charsets that supported contains, in
// order, and returns the first one the driver accepts.
func negotiateCharset(ctx context.Context, setter CharsetSetter, supported Charset) (Charset, error) {
	var lastErr error
	for _, cs := range charsetPreference {
		if supported&cs == 0 {
			continue
		}
		if err := setter.SetupCharset(ctx, cs); err != nil {
			if cerr := cancelled(ctx); cerr != nil {
				return CharsetUnknown, cerr
			}
			lastErr = err
			continue
		}
		return cs, nil
	}
	if lastErr != nil {
		return CharsetUnknown, Wrap(KindFailed, lastErr, "failed to find a usable modem character set")
	}
	return CharsetUnknown, Errorf(KindFailed, "failed to find a usable modem character set in %s", supported)
}

func (m *Modem) stepIndicators(ctx context.Context, r *enableRun) error {
	d, ok := m.driver.(IndicatorSetter)
	if !ok {
		return nil
	}

	m.mu.Lock()
	checked, supported := m.indicatorsChecked, m.indicatorsSupported
	m.mu.Unlock()

	if !checked {
		err := d.SetupIndicators(ctx)
		supported = err == nil
		if err != nil {
			m.log.Warn("indicator control setup failed", logging.Err(err))
		}
		m.mu.Lock()
		m.indicatorsChecked, m.indicatorsSupported = true, supported
		m.mu.Unlock()
	}
	if !supported {
		r.skipUnsolicitedEvents = true
	}
	return nil
}

func (m *Modem) stepUnsolicitedEvents(ctx context.Context, r *enableRun) error {
	d, ok := m.driver.(UnsolicitedEventsController)
	if !ok || r.skipUnsolicitedEvents {
		return nil
	}
	err := d.EnableUnsolicitedEvents(ctx)
	if err != nil {
		m.log.Warn("enabling unsolicited events failed", logging.Err(err))
	}
	m.mu.Lock()
	m.unsolicitedEventsSupported = err == nil
	m.mu.Unlock()
	return nil
}

func (m *Modem) closePort() {
	port := m.driver.PrimaryPort()
	if !port.IsOpen() {
		return
	}
	if err := port.Close(); err != nil {
		m.log.Warn("couldn't close primary port", logging.Err(err))
	}
}

// Disable takes every bearer down, removes registration reporting, powers
// the radio down when the driver opts in and closes the primary port. It
// always ends in Disabled, or Locked while a blocking lock is pending.
func (m *Modem) Disable(ctx context.Context) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	m.seq.Lock()
	defer m.seq.Unlock()

	switch st := m.State(); {
	case st == StateDisabled || st == StateLocked:
		return nil
	case st < StateEnabled:
		return wrongState("disable", st)
	}

	m.updateState(StateDisabling, ReasonUserRequested)

	m.disconnectBearers(ctx)
	m.disable3gpp(ctx)
	m.disableSignalMonitor(true)

	m.mu.Lock()
	unsolicited := m.unsolicitedEventsSupported
	m.unsolicitedEventsSupported = false
	m.mu.Unlock()
	if d, ok := m.driver.(UnsolicitedEventsController); ok && unsolicited {
		if err := d.DisableUnsolicitedEvents(ctx); err != nil {
			m.log.Warn("disabling unsolicited events failed", logging.Err(err))
		}
	}
	if d, ok := m.driver.(PowerDowner); ok {
		if err := d.ModemPowerDown(ctx); err != nil {
			m.log.Warn("power down failed", logging.Err(err))
		}
	}
	m.closePort()

	m.updateState(m.fallbackState(), ReasonUserRequested)
	m.log.Info("modem disabled")
	return nil
}
