package mocks

import (
	"context"
	"sync"

	"github.com/modemd/internal/mm"
)

// Driver is the minimal mm.Driver: a name and a primary port, no optional
// capabilities. Tests embed it next to the capability fakes below to build
// drivers with exactly the capabilities they need.
type Driver struct {
	NameValue string
	Port      *Port
}

// NewDriver creates a bare driver with a fresh port
func NewDriver(name string) *Driver {
	return &Driver{NameValue: name, Port: NewPort()}
}

func (d *Driver) Name() string         { return d.NameValue }
func (d *Driver) PrimaryPort() mm.Port { return d.Port }

// Capabilities reports fixed capability masks
type Capabilities struct {
	Current mm.Capability
	Err     error
}

func (c *Capabilities) LoadCurrentCapabilities(ctx context.Context) (mm.Capability, error) {
	return c.Current, c.Err
}

// UnlockChecker scripts LoadUnlockRequired. Results are consumed in order;
// the last one repeats.
type UnlockChecker struct {
	mu      sync.Mutex
	Results []UnlockResult
	Calls   int
}

// UnlockResult is one scripted unlock-required answer
type UnlockResult struct {
	Lock mm.Lock
	Err  error
}

func (u *UnlockChecker) LoadUnlockRequired(ctx context.Context) (mm.Lock, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Calls++
	if len(u.Results) == 0 {
		return mm.LockNone, nil
	}
	r := u.Results[0]
	if len(u.Results) > 1 {
		u.Results = u.Results[1:]
	}
	return r.Lock, r.Err
}

// Script replaces the pending results
func (u *UnlockChecker) Script(results ...UnlockResult) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Results = results
}

// CallCount returns the number of unlock queries
func (u *UnlockChecker) CallCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.Calls
}

// PinSender records PINs and accepts Valid only
type PinSender struct {
	mu    sync.Mutex
	Valid string
	Sent  []string
	// OnAccept runs after a PIN is accepted
	OnAccept func()
}

func (p *PinSender) SendPin(ctx context.Context, pin string) error {
	p.mu.Lock()
	p.Sent = append(p.Sent, pin)
	ok := pin == p.Valid
	cb := p.OnAccept
	p.mu.Unlock()
	if !ok {
		return mm.Errorf(mm.KindFailed, "incorrect password")
	}
	if cb != nil {
		cb()
	}
	return nil
}

// Charsets implements charset loading and selection
type Charsets struct {
	mu        sync.Mutex
	Supported mm.Charset
	LoadErr   error
	// Reject lists charsets SetupCharset refuses
	Reject mm.Charset
	Tried  []mm.Charset
}

func (c *Charsets) LoadSupportedCharsets(ctx context.Context) (mm.Charset, error) {
	return c.Supported, c.LoadErr
}

func (c *Charsets) SetupCharset(ctx context.Context, cs mm.Charset) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Tried = append(c.Tried, cs)
	if c.Reject&cs != 0 {
		return mm.Errorf(mm.KindFailed, "charset %s rejected", cs.Name())
	}
	return nil
}

// Registration scripts CS and PS registration checks and records the
// notifier installed for unsolicited reports.
type Registration struct {
	mu sync.Mutex

	CS, PS       mm.RegistrationReading
	CSErr, PSErr error
	SetupErr     error

	CSChecks, PSChecks int
	Notifier           mm.Notifier

	// csHook runs inside every CS check after it is counted
	csHook func(ctx context.Context)
}

func (r *Registration) RunCsRegistrationCheck(ctx context.Context) (mm.RegistrationReading, error) {
	r.mu.Lock()
	r.CSChecks++
	hook := r.csHook
	r.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CS, r.CSErr
}

// SetCSHook installs fn to run inside later CS checks; nil removes it
func (r *Registration) SetCSHook(fn func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.csHook = fn
}

func (r *Registration) RunPsRegistrationCheck(ctx context.Context) (mm.RegistrationReading, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.PSChecks++
	return r.PS, r.PSErr
}

func (r *Registration) SetupUnsolicitedRegistration(ctx context.Context, n mm.Notifier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notifier = n
	return nil
}

func (r *Registration) CleanupUnsolicitedRegistration(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Notifier = nil
	return nil
}

func (r *Registration) SetupCsRegistration(ctx context.Context) error   { return r.SetupErr }
func (r *Registration) CleanupCsRegistration(ctx context.Context) error { return nil }
func (r *Registration) SetupPsRegistration(ctx context.Context) error   { return r.SetupErr }
func (r *Registration) CleanupPsRegistration(ctx context.Context) error { return nil }

// Set changes the scripted readings
func (r *Registration) Set(cs, ps mm.RegistrationState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CS.State, r.PS.State = cs, ps
}

// Checks returns the CS and PS check counts
func (r *Registration) Checks() (cs, ps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CSChecks, r.PSChecks
}

// SignalLoader returns a fixed signal reading
type SignalLoader struct {
	mu    sync.Mutex
	Value uint
	Err   error
	Calls int

	hook func(ctx context.Context)
}

func (s *SignalLoader) LoadSignalQuality(ctx context.Context) (uint, error) {
	s.mu.Lock()
	s.Calls++
	hook := s.hook
	s.mu.Unlock()

	if hook != nil {
		hook(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Value, s.Err
}

// SetHook installs fn to run inside later loads; nil removes it
func (s *SignalLoader) SetHook(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

// LoadCalls returns how many loads ran
func (s *SignalLoader) LoadCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Calls
}

// SetValue changes the reading returned by later loads
func (s *SignalLoader) SetValue(v uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Value = v
}

// Steps records the optional enable/disable steps a driver ran
type Steps struct {
	mu  sync.Mutex
	Ran []string

	InitErr       error
	IndicatorsErr error
	EventsErr     error
}

func (s *Steps) record(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ran = append(s.Ran, name)
}

// History returns the recorded step names
func (s *Steps) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Ran...)
}

func (s *Steps) ModemInit(ctx context.Context) error {
	s.record("init")
	return s.InitErr
}

func (s *Steps) ModemPowerUp(ctx context.Context) error {
	s.record("power-up")
	return nil
}

func (s *Steps) SetupFlowControl(ctx context.Context) error {
	s.record("flow-control")
	return nil
}

func (s *Steps) SetupIndicators(ctx context.Context) error {
	s.record("indicators")
	return s.IndicatorsErr
}

func (s *Steps) EnableUnsolicitedEvents(ctx context.Context) error {
	s.record("enable-events")
	return s.EventsErr
}

func (s *Steps) DisableUnsolicitedEvents(ctx context.Context) error {
	s.record("disable-events")
	return nil
}

// Full is a driver implementing every capability, suitable for exercising
// outer layers. Individual fakes remain reachable through its fields.
type Full struct {
	*Driver
	*Capabilities
	*UnlockChecker
	*PinSender
	*Charsets
	*Registration
	*SignalLoader
	*BearerFactory
	*Steps

	mu           sync.Mutex
	Ident        mm.Identity
	Modes        []mm.ModeCombination
	Bands        []mm.Band
	Operator     [2]string
	Registered   []string
	ResetCalls   int
	FactoryCodes []string
	AllowedModes []mm.ModeCombination
	AllowedBands [][]mm.Band
}

// NewFull creates a 3GPP (GSM/UMTS + LTE) driver with no SIM lock that
// registers on its home network.
func NewFull(name string) *Full {
	return &Full{
		Driver:        NewDriver(name),
		Capabilities:  &Capabilities{Current: mm.CapabilityGsmUmts | mm.CapabilityLte},
		UnlockChecker: &UnlockChecker{},
		PinSender:     &PinSender{Valid: "1234"},
		Charsets:      &Charsets{Supported: mm.CharsetGSM | mm.CharsetIRA | mm.CharsetUCS2},
		Registration: &Registration{
			CS: mm.RegistrationReading{State: mm.RegistrationHome, AccessTech: mm.AccessTechUmts},
			PS: mm.RegistrationReading{State: mm.RegistrationHome, AccessTech: mm.AccessTechLte},
		},
		SignalLoader:  &SignalLoader{Value: 70},
		BearerFactory: &BearerFactory{},
		Steps:         &Steps{},
		Ident:         mm.Identity{Manufacturer: "Acme", Model: "M1", Revision: "1.0", EquipmentIdentifier: "490154203237518"},
		Modes: []mm.ModeCombination{
			{Allowed: mm.Mode2G | mm.Mode3G | mm.Mode4G, Preferred: mm.Mode4G},
			{Allowed: mm.Mode4G},
		},
		Bands:    []mm.Band{mm.BandEgsm, mm.BandDcs, mm.BandUtran1, mm.BandEutran1},
		Operator: [2]string{"26201", "Telekom.de"},
	}
}

func (f *Full) LoadIdentity(ctx context.Context) (mm.Identity, error) {
	return f.Ident, nil
}

func (f *Full) LoadSupportedModes(ctx context.Context) ([]mm.ModeCombination, error) {
	return f.Modes, nil
}

func (f *Full) LoadSupportedBands(ctx context.Context) ([]mm.Band, error) {
	return f.Bands, nil
}

func (f *Full) LoadOperatorCode(ctx context.Context) (string, error) {
	return f.Operator[0], nil
}

func (f *Full) LoadOperatorName(ctx context.Context) (string, error) {
	return f.Operator[1], nil
}

func (f *Full) RegisterInNetwork(ctx context.Context, operatorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Registered = append(f.Registered, operatorID)
	return nil
}

func (f *Full) SetAllowedModes(ctx context.Context, allowed, preferred mm.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AllowedModes = append(f.AllowedModes, mm.ModeCombination{Allowed: allowed, Preferred: preferred})
	return nil
}

func (f *Full) SetAllowedBands(ctx context.Context, bands []mm.Band) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AllowedBands = append(f.AllowedBands, append([]mm.Band(nil), bands...))
	return nil
}

func (f *Full) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ResetCalls++
	return nil
}

func (f *Full) FactoryReset(ctx context.Context, code string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FactoryCodes = append(f.FactoryCodes, code)
	return nil
}

// Resets returns the reset call count
func (f *Full) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ResetCalls
}
