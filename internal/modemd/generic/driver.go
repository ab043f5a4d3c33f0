package generic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/modemd/atport"
)

// Port is the AT channel the driver talks through. *atport.Port satisfies it.
type Port interface {
	mm.Port
	Command(ctx context.Context, cmd string) ([]string, error)
	CommandTimeout(ctx context.Context, cmd string, timeout time.Duration) ([]string, error)
	Handle(prefix string, match func(string) bool, fn func(string))
}

var _ Port = (*atport.Port)(nil)

// Flow control settings for AT+IFC.
const (
	FlowControlNone    = "none"
	FlowControlRtsCts  = "rts-cts"
	FlowControlXonXoff = "xon-xoff"
)

// Config contains driver settings
type Config struct {
	Name               string
	FlowControl        string        // "none", "rts-cts" or "xon-xoff"
	PowerDownOnDisable bool          // send AT+CFUN=4 on disable
	AfterPowerUpWait   time.Duration // settle time after AT+CFUN=1
	MaxBearers         int
	MaxActiveBearers   int
	RegisterTimeout    time.Duration // AT+COPS may take minutes
	ConnectTimeout     time.Duration // AT+CGACT
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Name:             "generic",
		FlowControl:      FlowControlNone,
		AfterPowerUpWait: 2 * time.Second,
		MaxBearers:       1,
		MaxActiveBearers: 1,
		RegisterTimeout:  120 * time.Second,
		ConnectTimeout:   60 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.FlowControl == "" {
		c.FlowControl = def.FlowControl
	}
	if c.AfterPowerUpWait < 0 {
		c.AfterPowerUpWait = 0
	}
	if c.MaxBearers <= 0 {
		c.MaxBearers = def.MaxBearers
	}
	if c.MaxActiveBearers <= 0 {
		c.MaxActiveBearers = def.MaxActiveBearers
	}
	if c.RegisterTimeout <= 0 {
		c.RegisterTimeout = def.RegisterTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
}

// Driver is the generic AT driver. The zero value is not usable; use New.
type Driver struct {
	cfg   Config
	port  Port
	clock clock.Clock
	log   *slog.Logger

	mu        sync.Mutex
	charset   mm.Charset
	notifier  mm.Notifier
	signalInd int // 1-based +CIEV index of the signal indicator, 0 if none
	gprs, eps mm.RegistrationReading
	cids      map[int]*bearer
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock sets the clock used for settle delays.
func WithClock(c clock.Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

// New creates a driver over port. Power down is only exposed when
// cfg.PowerDownOnDisable is set, so the returned value is an mm.Driver
// whose optional capabilities depend on the configuration.
func New(cfg Config, port Port, opts ...Option) mm.Driver {
	d := newDriver(cfg, port, opts...)
	if d.cfg.PowerDownOnDisable {
		return &poweringDriver{d}
	}
	return d
}

func newDriver(cfg Config, port Port, opts ...Option) *Driver {
	cfg.applyDefaults()
	d := &Driver{
		cfg:     cfg,
		port:    port,
		clock:   clock.RealClock{},
		charset: mm.CharsetIRA,
		gprs:    unknownReading,
		eps:     unknownReading,
		cids:    make(map[int]*bearer),
	}
	for _, o := range opts {
		o(d)
	}
	if d.log == nil {
		d.log = logging.With("driver", cfg.Name)
	}
	return d
}

// poweringDriver adds AT+CFUN=4 on disable.
type poweringDriver struct {
	*Driver
}

// ModemPowerDown puts the radio in low power mode.
func (p *poweringDriver) ModemPowerDown(ctx context.Context) error {
	_, err := p.port.Command(ctx, CFUNLowPower)
	return err
}

func (d *Driver) Name() string { return d.cfg.Name }

func (d *Driver) PrimaryPort() mm.Port { return d.port }

// BearerLimits reports the configured bearer limits.
func (d *Driver) BearerLimits() (max, maxActive int) {
	return d.cfg.MaxBearers, d.cfg.MaxActiveBearers
}

// currentCharset returns the charset strings from the modem are encoded in.
func (d *Driver) currentCharset() mm.Charset {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.charset
}

// ModemInit resets the modem to a known command state: profile reset, echo
// off, verbose results and numeric +CME ERROR reports.
func (d *Driver) ModemInit(ctx context.Context) error {
	if _, err := d.port.Command(ctx, ATZ); err != nil {
		return fmt.Errorf("init command failed: %w", err)
	}
	if _, err := d.port.Command(ctx, ATE0); err != nil {
		return fmt.Errorf("ATE0 failed: %w", err)
	}
	if _, err := d.port.Command(ctx, ATV1); err != nil {
		return fmt.Errorf("ATV1 failed: %w", err)
	}
	// Without +CMEE the modem only says ERROR, which still works.
	if _, err := d.port.Command(ctx, CMEE); err != nil {
		d.log.Debug("extended errors not supported", logging.Err(err))
	}
	return nil
}

// ModemPowerUp switches the modem to full functionality.
func (d *Driver) ModemPowerUp(ctx context.Context) error {
	_, err := d.port.CommandTimeout(ctx, CFUNFull, 10*time.Second)
	return err
}

// ModemAfterPowerUp waits for the radio to settle.
func (d *Driver) ModemAfterPowerUp(ctx context.Context) error {
	if d.cfg.AfterPowerUpWait == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.clock.After(d.cfg.AfterPowerUpWait):
		return nil
	}
}

// SetupFlowControl applies the configured flow control with AT+IFC.
func (d *Driver) SetupFlowControl(ctx context.Context) error {
	var cmd string
	switch d.cfg.FlowControl {
	case FlowControlNone:
		return nil
	case FlowControlRtsCts:
		cmd = "AT+IFC=2,2"
	case FlowControlXonXoff:
		cmd = "AT+IFC=1,1"
	default:
		return mm.Errorf(mm.KindInvalidArgs, "unknown flow control %q", d.cfg.FlowControl)
	}
	_, err := d.port.Command(ctx, cmd)
	return err
}

// LoadSupportedCharsets parses AT+CSCS=?.
func (d *Driver) LoadSupportedCharsets(ctx context.Context) (mm.Charset, error) {
	lines, err := d.port.Command(ctx, CSCSSupported)
	if err != nil {
		return mm.CharsetUnknown, err
	}
	payload, ok := atport.Find(lines, PrefixCSCS)
	if !ok {
		return mm.CharsetUnknown, mm.Errorf(mm.KindFailed, "no charsets in reply %q", strings.Join(lines, " "))
	}
	var supported mm.Charset
	for _, name := range atport.List(payload) {
		supported |= mm.CharsetFromName(name)
	}
	if supported == mm.CharsetUnknown {
		return supported, mm.Errorf(mm.KindFailed, "no known charsets in %q", payload)
	}
	return supported, nil
}

// SetupCharset selects cs and reads it back.
func (d *Driver) SetupCharset(ctx context.Context, cs mm.Charset) error {
	name := cs.Name()
	if name == "" {
		return mm.Errorf(mm.KindInvalidArgs, "cannot select charset %s", cs)
	}
	if _, err := d.port.Command(ctx, "AT+CSCS="+atport.Quote(name)); err != nil {
		return err
	}
	lines, err := d.port.Command(ctx, CSCSQuery)
	if err != nil {
		return err
	}
	if payload, ok := atport.Find(lines, PrefixCSCS); ok {
		if got := mm.CharsetFromName(payload); got != cs {
			return mm.Errorf(mm.KindFailed, "charset is %q after selecting %s", payload, name)
		}
	}

	d.mu.Lock()
	d.charset = cs
	d.mu.Unlock()
	return nil
}

// LoadCurrentCapabilities derives the radio families from AT+GCAP and, when
// available, the AT+WS46 network modes.
func (d *Driver) LoadCurrentCapabilities(ctx context.Context) (mm.Capability, error) {
	caps := mm.CapabilityNone
	if lines, err := d.port.Command(ctx, GCAP); err == nil {
		if payload, ok := atport.Find(lines, PrefixGCAP); ok {
			caps |= capabilitiesFromGCAP(payload)
		}
	} else if mm.KindOf(err) == mm.KindCancelled {
		return caps, err
	}

	if combos, err := d.LoadSupportedModes(ctx); err == nil {
		for _, c := range combos {
			if c.Allowed&(mm.Mode2G|mm.Mode3G) != 0 {
				caps |= mm.CapabilityGsmUmts
			}
			if c.Allowed&mm.Mode4G != 0 {
				caps |= mm.CapabilityLte
			}
		}
	}
	if caps == mm.CapabilityNone {
		// Anything answering 27.007 commands is at least GSM/UMTS.
		caps = mm.CapabilityGsmUmts
	}
	return caps, nil
}

func capabilitiesFromGCAP(payload string) mm.Capability {
	caps := mm.CapabilityNone
	for _, f := range atport.Fields(payload) {
		switch strings.ToUpper(strings.TrimSpace(f)) {
		case "+CGSM":
			caps |= mm.CapabilityGsmUmts
		case "+CLTE", "+CLTE1", "+CLTE2", "+CLTE3":
			caps |= mm.CapabilityLte
		case "+CIS707-A", "+CIS707", "+CIS856", "+IS-95", "+CDMA":
			caps |= mm.CapabilityCdmaEvdo
		}
	}
	return caps
}

// LoadIdentity reads manufacturer, model, revision and IMEI.
func (d *Driver) LoadIdentity(ctx context.Context) (mm.Identity, error) {
	var id mm.Identity
	for _, q := range []struct {
		cmd    string
		prefix string
		dst    *string
	}{
		{CGMI, "+CGMI:", &id.Manufacturer},
		{CGMM, "+CGMM:", &id.Model},
		{CGMR, "+CGMR:", &id.Revision},
		{CGSN, "+CGSN:", &id.EquipmentIdentifier},
	} {
		lines, err := d.port.Command(ctx, q.cmd)
		if err != nil {
			if mm.KindOf(err) == mm.KindCancelled {
				return id, err
			}
			d.log.Debug("identity query failed", logging.Command(q.cmd), logging.Err(err))
			continue
		}
		*q.dst = identityValue(lines, q.prefix)
	}
	if id == (mm.Identity{}) {
		return id, mm.Errorf(mm.KindFailed, "modem did not report any identity")
	}
	return id, nil
}

// identityValue joins the reply lines, dropping an optional echo prefix.
func identityValue(lines []string, prefix string) string {
	var parts []string
	for _, l := range lines {
		if v, ok := atport.Strip(l, prefix); ok {
			l = v
		}
		l = strings.Trim(strings.TrimSpace(l), `"`)
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, " ")
}

// LoadUnlockRequired maps the AT+CPIN? reply to a lock.
func (d *Driver) LoadUnlockRequired(ctx context.Context) (mm.Lock, error) {
	lines, err := d.port.Command(ctx, CPINQuery)
	if err != nil {
		return mm.LockUnknown, err
	}
	payload, ok := atport.Find(lines, PrefixCPIN)
	if !ok {
		return mm.LockUnknown, mm.Errorf(mm.KindFailed, "unexpected AT+CPIN? reply %q", strings.Join(lines, " "))
	}
	lock, ok := cpinLocks[strings.ToUpper(strings.TrimSpace(payload))]
	if !ok {
		return mm.LockUnknown, mm.Errorf(mm.KindFailed, "unknown lock %q", payload)
	}
	return lock, nil
}

var cpinLocks = map[string]mm.Lock{
	"READY":         mm.LockNone,
	"SIM PIN":       mm.LockSimPin,
	"SIM PIN2":      mm.LockSimPin2,
	"SIM PUK":       mm.LockSimPuk,
	"SIM PUK2":      mm.LockSimPuk2,
	"PH-SP PIN":     mm.LockPhSpPin,
	"PH-SP PUK":     mm.LockPhSpPuk,
	"PH-NET PIN":    mm.LockPhNetPin,
	"PH-NET PUK":    mm.LockPhNetPuk,
	"PH-SIM PIN":    mm.LockPhSimPin,
	"PH-CORP PIN":   mm.LockPhCorpPin,
	"PH-CORP PUK":   mm.LockPhCorpPuk,
	"PH-FSIM PIN":   mm.LockPhFsimPin,
	"PH-FSIM PUK":   mm.LockPhFsimPuk,
	"PH-NETSUB PIN": mm.LockPhNetsubPin,
	"PH-NETSUB PUK": mm.LockPhNetsubPuk,
}

// SendPin enters the SIM PIN.
func (d *Driver) SendPin(ctx context.Context, pin string) error {
	_, err := d.port.Command(ctx, "AT+CPIN="+atport.Quote(pin))
	return err
}

// SendPuk unblocks the SIM and sets a new PIN.
func (d *Driver) SendPuk(ctx context.Context, puk, newPin string) error {
	_, err := d.port.Command(ctx, "AT+CPIN="+atport.Quote(puk)+","+atport.Quote(newPin))
	return err
}

// Reset restarts the modem.
func (d *Driver) Reset(ctx context.Context) error {
	_, err := d.port.CommandTimeout(ctx, CFUNReset, 10*time.Second)
	return err
}

// FactoryReset restores factory defaults. Generic modems take no code.
func (d *Driver) FactoryReset(ctx context.Context, _ string) error {
	_, err := d.port.Command(ctx, ATF)
	return err
}
