package mm

import (
	"context"
	"slices"
)

// SetAllowedModes restricts the radio generations the modem may use.
// preferred must be part of allowed, and the pair must be one of the
// supported combinations unless allowed is ModeAny.
func (m *Modem) SetAllowedModes(ctx context.Context, allowed, preferred Mode) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	if st := m.State(); st < StateDisabled {
		return wrongState("set allowed modes", st)
	}
	setter, ok := m.driver.(AllowedModesSetter)
	if !ok {
		return unsupported("setting allowed modes")
	}
	if allowed == ModeNone {
		return Errorf(KindInvalidArgs, "allowed modes must not be empty")
	}
	if preferred != ModeNone && preferred&allowed != preferred {
		return Errorf(KindInvalidArgs, "preferred mode %s is not in the allowed set %s", preferred, allowed)
	}

	m.mu.Lock()
	supported := append([]ModeCombination(nil), m.supportedModes...)
	m.mu.Unlock()

	want := ModeCombination{Allowed: allowed, Preferred: preferred}
	if allowed == ModeAny {
		if preferred != ModeNone {
			return Errorf(KindInvalidArgs, "a preferred mode cannot be combined with any allowed mode")
		}
		var union Mode
		for _, c := range supported {
			union |= c.Allowed
		}
		if union != ModeNone {
			want.Allowed = union
		}
	} else if len(supported) > 0 && !slices.Contains(supported, want) {
		return Errorf(KindUnsupported, "mode combination allowed=%s preferred=%s is not supported", allowed, preferred)
	}

	if err := setter.SetAllowedModes(ctx, want.Allowed, want.Preferred); err != nil {
		return wrapDriver(err, "couldn't set allowed modes")
	}
	m.mu.Lock()
	m.currentModes = want
	m.mu.Unlock()
	m.log.Info("allowed modes updated", "allowed", want.Allowed.String(), "preferred", want.Preferred.String())
	return nil
}

// CurrentModes returns the allowed and preferred modes in effect.
func (m *Modem) CurrentModes() ModeCombination {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentModes
}

// SetAllowedBands restricts the frequency bands the modem may use. A list
// holding only BandAny selects every supported band.
func (m *Modem) SetAllowedBands(ctx context.Context, bands []Band) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	if st := m.State(); st < StateDisabled {
		return wrongState("set allowed bands", st)
	}
	setter, ok := m.driver.(AllowedBandsSetter)
	if !ok {
		return unsupported("setting allowed bands")
	}
	if len(bands) == 0 {
		return Errorf(KindInvalidArgs, "band list must not be empty")
	}

	m.mu.Lock()
	supported := append([]Band(nil), m.supportedBands...)
	m.mu.Unlock()

	want := bands
	if slices.Contains(bands, BandAny) {
		if len(bands) > 1 {
			return Errorf(KindInvalidArgs, "band 'any' cannot be combined with other bands")
		}
		if len(supported) > 0 {
			want = supported
		}
	} else if len(supported) > 0 {
		for _, b := range bands {
			if !slices.Contains(supported, b) {
				return Errorf(KindUnsupported, "band %s is not supported", b)
			}
		}
	}

	if err := setter.SetAllowedBands(ctx, want); err != nil {
		return wrapDriver(err, "couldn't set allowed bands")
	}
	m.mu.Lock()
	m.currentBands = append([]Band(nil), want...)
	m.mu.Unlock()
	m.log.Info("allowed bands updated", "count", len(want))
	return nil
}

// Reset power-cycles the modem through the driver.
func (m *Modem) Reset(ctx context.Context) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	m.seq.Lock()
	defer m.seq.Unlock()

	if st := m.State(); st == StateUnknown || st == StateInitializing {
		return wrongState("reset", st)
	}
	r, ok := m.driver.(Resetter)
	if !ok {
		return unsupported("reset")
	}
	if err := r.Reset(ctx); err != nil {
		return wrapDriver(err, "reset failed")
	}
	m.log.Info("modem reset requested")
	return nil
}

// FactoryReset restores factory settings, authorized by code.
func (m *Modem) FactoryReset(ctx context.Context, code string) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	m.seq.Lock()
	defer m.seq.Unlock()

	if st := m.State(); st == StateUnknown || st == StateInitializing {
		return wrongState("factory reset", st)
	}
	r, ok := m.driver.(FactoryResetter)
	if !ok {
		return unsupported("factory reset")
	}
	if err := r.FactoryReset(ctx, code); err != nil {
		return wrapDriver(err, "factory reset failed")
	}
	m.log.Info("factory reset requested")
	return nil
}
