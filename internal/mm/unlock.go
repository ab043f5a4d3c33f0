package mm

import (
	"context"

	"github.com/modemd/internal/logging"
)

// UnlockCheck queries which unlock code the modem requires and applies the
// result. Drivers without the capability are assumed unlocked.
//
// Failed queries are retried while the last known lock is not None. SIM
// faults abort at once. When every attempt fails the result is LockUnknown
// without an error.
func (m *Modem) UnlockCheck(ctx context.Context) (Lock, error) {
	if err := m.checkAlive(); err != nil {
		return LockUnknown, err
	}
	lock, err := m.loadUnlockRequired(ctx)
	if err != nil {
		return LockUnknown, err
	}
	m.applyLock(lock)
	return lock, nil
}

func (m *Modem) loadUnlockRequired(ctx context.Context) (Lock, error) {
	loader, ok := m.driver.(UnlockRequiredLoader)
	if !ok {
		return LockNone, nil
	}

	for attempt := 1; ; attempt++ {
		lock, err := loader.LoadUnlockRequired(ctx)
		if err == nil {
			return lock, nil
		}
		if IsSimFatal(err) {
			return LockUnknown, err
		}
		if cerr := cancelled(ctx); cerr != nil {
			return LockUnknown, cerr
		}
		if attempt >= m.timing.UnlockAttempts || m.Lock() == LockNone {
			m.log.Warn("couldn't check unlock status", "attempts", attempt, logging.Err(err))
			return LockUnknown, nil
		}
		m.log.Debug("retrying unlock required check", "attempt", attempt+1, logging.Err(err))

		select {
		case <-ctx.Done():
			return LockUnknown, cancelled(ctx)
		case <-m.clock.After(m.timing.UnlockRetryDelay):
		}
	}
}

// applyLock records lock and drives the Locked and Disabled transitions.
// Leaving a real lock schedules a full re-initialization; it runs once the
// current sequence has released the modem.
func (m *Modem) applyLock(lock Lock) {
	m.mu.Lock()
	old := m.lock
	m.lock = lock
	m.mu.Unlock()

	if old != lock {
		m.log.Info("unlock requirement changed", "old", old.String(), "new", lock.String())
		m.emit(Event{Type: EventLockChanged, Lock: lock})
	}

	notRunning := func(cur State) bool {
		return cur >= StateUnknown && cur <= StateDisabled
	}

	if !lock.Blocking() {
		if old != LockNone {
			m.applyState(StateDisabled, ReasonUnknown, notRunning)
			if old != LockUnknown {
				m.goBackground(func(ctx context.Context) {
					m.log.Info("modem unlocked, reinitializing")
					if err := m.Initialize(ctx); err != nil && ctx.Err() == nil {
						m.log.Warn("reinitialization after unlock failed", logging.Err(err))
					}
				})
			}
		}
		return
	}
	if old == LockUnknown {
		m.applyState(StateLocked, ReasonUnknown, notRunning)
	}
}

// UnlockRetries returns the remaining attempts per lock kind.
func (m *Modem) UnlockRetries() UnlockRetries {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(UnlockRetries, len(m.unlockRetries))
	for k, v := range m.unlockRetries {
		out[k] = v
	}
	return out
}

func (m *Modem) loadUnlockRetries(ctx context.Context) {
	loader, ok := m.driver.(UnlockRetriesLoader)
	if !ok {
		return
	}
	retries, err := loader.LoadUnlockRetries(ctx)
	if err != nil {
		m.log.Debug("couldn't load unlock retries", logging.Err(err))
		return
	}
	m.mu.Lock()
	m.unlockRetries = retries
	m.mu.Unlock()
}

// SendPin sends the SIM PIN and re-runs the unlock check.
func (m *Modem) SendPin(ctx context.Context, pin string) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	s, ok := m.driver.(PinSender)
	if !ok {
		return unsupported("PIN entry")
	}
	if err := validatePin(pin); err != nil {
		return err
	}
	err := s.SendPin(ctx, pin)
	m.loadUnlockRetries(ctx)
	if err != nil {
		return wrapDriver(err, "PIN rejected")
	}
	_, err = m.UnlockCheck(ctx)
	return err
}

// SendPuk sends the SIM PUK with a new PIN and re-runs the unlock check.
func (m *Modem) SendPuk(ctx context.Context, puk, newPin string) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	s, ok := m.driver.(PukSender)
	if !ok {
		return unsupported("PUK entry")
	}
	if len(puk) != 8 || !digitsOnly(puk) {
		return Errorf(KindInvalidArgs, "PUK must be 8 digits")
	}
	if err := validatePin(newPin); err != nil {
		return err
	}
	err := s.SendPuk(ctx, puk, newPin)
	m.loadUnlockRetries(ctx)
	if err != nil {
		return wrapDriver(err, "PUK rejected")
	}
	_, err = m.UnlockCheck(ctx)
	return err
}

func validatePin(pin string) error {
	if len(pin) < 4 || len(pin) > 8 || !digitsOnly(pin) {
		return Errorf(KindInvalidArgs, "PIN must be 4 to 8 digits")
	}
	return nil
}

func digitsOnly(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
