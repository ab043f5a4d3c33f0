package mm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"github.com/modemd/internal/logging"
)

// Timing holds the intervals and delays used by the state machine.
type Timing struct {
	RegistrationPollInterval time.Duration // periodic CS+PS check when unsolicited reports are unavailable
	SignalPollInterval       time.Duration // periodic signal quality reload while registered
	SignalStaleAfter         time.Duration // a reading older than this is no longer "recent"
	UnlockRetryDelay         time.Duration // spacing between unlock-required attempts
	UnlockAttempts           int           // total unlock-required attempts
	FlashDuration            time.Duration // primary port line flash during enable
}

// DefaultTiming returns the standard intervals.
func DefaultTiming() Timing {
	return Timing{
		RegistrationPollInterval: 30 * time.Second,
		SignalPollInterval:       30 * time.Second,
		SignalStaleAfter:         60 * time.Second,
		UnlockRetryDelay:         2 * time.Second,
		UnlockAttempts:           3,
		FlashDuration:            100 * time.Millisecond,
	}
}

func (t *Timing) applyDefaults() {
	def := DefaultTiming()
	if t.RegistrationPollInterval <= 0 {
		t.RegistrationPollInterval = def.RegistrationPollInterval
	}
	if t.SignalPollInterval <= 0 {
		t.SignalPollInterval = def.SignalPollInterval
	}
	if t.SignalStaleAfter <= 0 {
		t.SignalStaleAfter = def.SignalStaleAfter
	}
	if t.UnlockRetryDelay <= 0 {
		t.UnlockRetryDelay = def.UnlockRetryDelay
	}
	if t.UnlockAttempts <= 0 {
		t.UnlockAttempts = def.UnlockAttempts
	}
	if t.FlashDuration <= 0 {
		t.FlashDuration = def.FlashDuration
	}
}

// Options configure a new Modem.
type Options struct {
	ID     string
	Driver Driver

	// Clock drives every timer. Defaults to the real clock.
	Clock clock.WithTickerAndDelayedExecution
	// Logger defaults to the global logger tagged with the modem id.
	Logger *slog.Logger
	Timing Timing

	// MaxBearers and MaxActiveBearers override the driver limits when set.
	MaxBearers       int
	MaxActiveBearers int
}

// Modem is the root aggregate for one detected device. All exported
// methods are safe for concurrent use. Long sequences (initialize, enable,
// disable, reset) are serialized on seq; state fields are guarded by mu.
// The clock is never called while mu is held.
type Modem struct {
	id     string
	driver Driver
	clock  clock.WithTickerAndDelayedExecution
	log    *slog.Logger
	timing Timing
	events *hub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	seq       sync.Mutex
	bearerOps sync.Mutex

	mu            sync.Mutex
	closed        bool
	state         State
	failedReason  FailedReason
	lock          Lock
	unlockRetries UnlockRetries

	capsLoaded  bool
	currentCaps Capability
	modemCaps   Capability
	identity    Identity

	supportedModes []ModeCombination
	currentModes   ModeCombination
	supportedBands []Band
	currentBands   []Band

	charset    Charset
	accessTech AccessTechnology

	indicatorsChecked          bool
	indicatorsSupported        bool
	unsolicitedEventsSupported bool

	operatorCode string
	operatorName string
	operators    singleflight.Group

	reg    registrationContext
	signal signalMonitor

	bearers *BearerList
}

// New creates a modem in StateUnknown. Call Initialize before anything else.
func New(opts Options) (*Modem, error) {
	if opts.Driver == nil {
		return nil, errors.New("modem driver is required")
	}
	if opts.Driver.PrimaryPort() == nil {
		return nil, errors.New("modem driver has no primary port")
	}
	if opts.ID == "" {
		opts.ID = opts.Driver.Name()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.With(logging.Modem(opts.ID))
	}
	opts.Timing.applyDefaults()

	maxBearers, maxActive := 1, 1
	if l, ok := opts.Driver.(BearerLimiter); ok {
		maxBearers, maxActive = l.BearerLimits()
	}
	if opts.MaxBearers > 0 {
		maxBearers = opts.MaxBearers
	}
	if opts.MaxActiveBearers > 0 {
		maxActive = opts.MaxActiveBearers
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Modem{
		id:     opts.ID,
		driver: opts.Driver,
		clock:  opts.Clock,
		log:    opts.Logger,
		timing: opts.Timing,
		events: newHub(),
		ctx:    ctx,
		cancel: cancel,
		state:  StateUnknown,
		lock:   LockUnknown,
	}
	m.reg.reset()
	m.bearers = newBearerList(m.id, maxBearers, maxActive)
	m.bearers.onStatus = m.onBearerStatusChanged
	m.bearers.onAllowed = m.onBearerAllowedChanged
	m.bearers.canConnect = m.checkBearerConnect
	return m, nil
}

// ID returns the modem identifier.
func (m *Modem) ID() string { return m.id }

// Driver returns the driver backing this modem.
func (m *Modem) Driver() Driver { return m.driver }

// Subscribe registers fn for every event emitted by the modem. The returned
// function removes the subscription.
func (m *Modem) Subscribe(fn func(Event)) func() {
	return m.events.subscribe(fn)
}

func (m *Modem) emit(ev Event) {
	ev.ModemID = m.id
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	m.events.publish(ev)
}

// State returns the current modem state.
func (m *Modem) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Lock returns the last known unlock requirement.
func (m *Modem) Lock() Lock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lock
}

// RegistrationState returns the consolidated 3GPP registration state.
func (m *Modem) RegistrationState() RegistrationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reg.consolidated
}

// AccessTechnologies returns the access technologies currently in use.
func (m *Modem) AccessTechnologies() AccessTechnology {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accessTech
}

// SignalQuality returns the cached signal reading.
func (m *Modem) SignalQuality() SignalQuality {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signal.quality
}

// Charset returns the negotiated character set.
func (m *Modem) Charset() Charset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.charset
}

// Bearers returns the modem's bearer list.
func (m *Modem) Bearers() *BearerList { return m.bearers }

// Status is a point-in-time copy of the modem's observable properties.
type Status struct {
	ID                    string            `json:"id"`
	Driver                string            `json:"driver"`
	State                 State             `json:"state"`
	FailedReason          FailedReason      `json:"failed_reason"`
	Lock                  Lock              `json:"unlock_required"`
	UnlockRetries         map[string]uint   `json:"unlock_retries,omitempty"`
	CurrentCapabilities   Capability        `json:"current_capabilities"`
	SupportedCapabilities Capability        `json:"supported_capabilities"`
	Identity              Identity          `json:"identity"`
	Registration          RegistrationState `json:"registration_state"`
	AccessTechnologies    AccessTechnology  `json:"access_technologies"`
	SignalQuality         SignalQuality     `json:"signal_quality"`
	OperatorCode          string            `json:"operator_code,omitempty"`
	OperatorName          string            `json:"operator_name,omitempty"`
	Charset               Charset           `json:"charset"`
	SupportedModes        []ModeCombination `json:"supported_modes,omitempty"`
	CurrentModes          ModeCombination   `json:"current_modes"`
	SupportedBands        []Band            `json:"supported_bands,omitempty"`
	CurrentBands          []Band            `json:"current_bands,omitempty"`
	MaxBearers            int               `json:"max_bearers"`
	MaxActiveBearers      int               `json:"max_active_bearers"`
}

// Status returns a snapshot of the modem.
func (m *Modem) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{
		ID:                    m.id,
		Driver:                m.driver.Name(),
		State:                 m.state,
		FailedReason:          m.failedReason,
		Lock:                  m.lock,
		CurrentCapabilities:   m.currentCaps,
		SupportedCapabilities: m.modemCaps,
		Identity:              m.identity,
		Registration:          m.reg.consolidated,
		AccessTechnologies:    m.accessTech,
		SignalQuality:         m.signal.quality,
		OperatorCode:          m.operatorCode,
		OperatorName:          m.operatorName,
		Charset:               m.charset,
		SupportedModes:        append([]ModeCombination(nil), m.supportedModes...),
		CurrentModes:          m.currentModes,
		SupportedBands:        append([]Band(nil), m.supportedBands...),
		CurrentBands:          append([]Band(nil), m.currentBands...),
		MaxBearers:            m.bearers.MaxCount(),
		MaxActiveBearers:      m.bearers.MaxActiveCount(),
	}
	if len(m.unlockRetries) > 0 {
		st.UnlockRetries = make(map[string]uint, len(m.unlockRetries))
		for l, n := range m.unlockRetries {
			st.UnlockRetries[l.String()] = n
		}
	}
	return st
}

// checkAlive fails once the modem has been closed.
func (m *Modem) checkAlive() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Errorf(KindWrongState, "modem %s has been removed", m.id)
	}
	return nil
}

// goBackground runs fn on a tracked goroutine bound to the modem lifetime.
func (m *Modem) goBackground(fn func(ctx context.Context)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

// Close tears the modem down: every poll and timer is disarmed and
// background work is cancelled. Bearers are force-disconnected and removed.
func (m *Modem) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.stopRegistrationPolling()
	m.disableSignalMonitor(false)
	m.bearers.forceDeleteAll()
	m.wg.Wait()

	if port := m.driver.PrimaryPort(); port.IsOpen() {
		if err := port.Close(); err != nil {
			m.log.Warn("failed to close primary port", logging.Err(err))
		}
	}
	m.log.Info("modem removed")
	return nil
}
