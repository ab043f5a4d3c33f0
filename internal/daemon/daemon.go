// Package daemon runs the configured modems and the surfaces that expose
// them: the HTTP API, the D-Bus export, the event journal and metrics.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/modemd/internal/api"
	"github.com/modemd/internal/bus"
	"github.com/modemd/internal/config"
	"github.com/modemd/internal/journal"
	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/metrics"
	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/modemd/atport"
	"github.com/modemd/internal/modemd/generic"
)

// probeRetry is the minimum spacing of probes of a present device that
// failed to open or initialize.
const probeRetry = 30 * time.Second

// DriverFactory builds the driver for one configured modem.
type DriverFactory func(cfg config.ModemConfig, log *slog.Logger) (mm.Driver, error)

// SerialDriver drives cfg.Device with the generic AT driver.
func SerialDriver(cfg config.ModemConfig, log *slog.Logger) (mm.Driver, error) {
	port, err := atport.New(cfg.PortConfig(), atport.WithLogger(log))
	if err != nil {
		return nil, err
	}
	return generic.New(cfg.DriverConfig(), port, generic.WithLogger(log)), nil
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithClock sets the clock for modem timers and presence checks.
func WithClock(c clock.WithTickerAndDelayedExecution) Option {
	return func(d *Daemon) { d.clock = c }
}

// WithDriverFactory replaces SerialDriver.
func WithDriverFactory(f DriverFactory) Option {
	return func(d *Daemon) { d.newDriver = f }
}

// WithPresence replaces the device node check.
func WithPresence(fn func(device string) bool) Option {
	return func(d *Daemon) { d.present = fn }
}

// WithBusConn exports on conn instead of connecting to the configured bus.
func WithBusConn(conn bus.Conn) Option {
	return func(d *Daemon) { d.busConn = conn }
}

// Daemon owns the configured modems.
type Daemon struct {
	cfg       *config.Config
	clock     clock.WithTickerAndDelayedExecution
	newDriver DriverFactory
	present   func(string) bool
	usbID     func(string) (generic.USBID, error)
	busConn   bus.Conn
	log       *slog.Logger

	hub     *Hub
	journal *journal.Journal
	metrics *metrics.Metrics
	bus     *bus.Exporter
	api     *api.Server

	mu        sync.Mutex
	slots     []*slot
	started   time.Time
	closeOnce sync.Once
	closeErr  error
}

// slot is one configured modem and the device currently behind it.
type slot struct {
	cfg       config.ModemConfig
	modem     *mm.Modem
	detach    []func()
	present   bool
	usb       string
	err       error
	nextProbe time.Time
}

// New builds the daemon and its optional components. A bus that cannot be
// reached is logged and skipped.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d := &Daemon{
		cfg:       cfg,
		clock:     clock.RealClock{},
		newDriver: SerialDriver,
		present:   deviceExists,
		usbID:     generic.LookupUSBID,
		log:       logging.With("component", "daemon"),
		hub:       NewHub(),
	}
	for _, o := range opts {
		o(d)
	}
	for _, mc := range cfg.Modems {
		d.slots = append(d.slots, &slot{cfg: mc})
	}

	if cfg.Journal.Enabled {
		j, err := journal.Open(journal.Config{
			MaxEvents:   cfg.Journal.MaxEvents,
			TTL:         cfg.Journal.TTL,
			MaxMemoryMB: cfg.Journal.MaxMemoryMB,
		}, journal.WithClock(d.clock))
		if err != nil {
			return nil, fmt.Errorf("failed to open event journal: %w", err)
		}
		d.journal = j
	}

	if cfg.Metrics.Enabled {
		d.metrics = metrics.New()
		if d.journal != nil {
			if err := d.metrics.RegisterJournal(d.journal); err != nil {
				d.log.Warn("failed to register journal metrics", logging.Err(err))
			}
		}
	}

	if cfg.DBus.Enabled {
		var (
			e   *bus.Exporter
			err error
		)
		if d.busConn != nil {
			e, err = bus.NewExporter(d.busConn, cfg.DBus.ServiceName)
		} else {
			e, err = bus.Connect(cfg.DBus)
		}
		if err != nil {
			d.log.Warn("D-Bus export disabled", logging.Err(err))
		} else {
			d.bus = e
			d.log.Info("D-Bus service registered", "service", cfg.DBus.ServiceName)
		}
	}

	if cfg.API.Enabled {
		d.api = api.New(cfg.API, d.hub)
		if d.journal != nil {
			d.api.SetJournal(d.journal)
		}
		if d.metrics != nil {
			d.api.SetMetricsHandler(cfg.Metrics.Path, d.metrics.Handler())
		}
		d.api.SetHealthChecker(d)
	}

	return d, nil
}

// Modems returns the live modem registry.
func (d *Daemon) Modems() *Hub { return d.hub }

// Handler returns the API handler, or nil when the API is disabled.
func (d *Daemon) Handler() http.Handler {
	if d.api == nil {
		return nil
	}
	return d.api.SetupRouter()
}

// Run probes the configured devices, serves the API and watches device
// presence until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	d.mu.Lock()
	d.started = d.clock.Now()
	d.mu.Unlock()
	d.log.Info("starting modemd", logging.Count("modem", len(d.slots)))

	d.checkPresence(ctx)

	var errc chan error
	if d.api != nil {
		errc = make(chan error, 1)
		go func() { errc <- d.api.Run(ctx) }()
	}

	ticker := d.clock.NewTicker(d.presenceInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("daemon stopping")
			return nil
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("API server failed: %w", err)
			}
			errc = nil
		case <-ticker.C():
			d.checkPresence(ctx)
		}
	}
}

func (d *Daemon) presenceInterval() time.Duration {
	interval := config.DefaultModemConfig().PresenceInterval
	for i, s := range d.slots {
		if i == 0 || s.cfg.PresenceInterval < interval {
			interval = s.cfg.PresenceInterval
		}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return interval
}

// checkPresence brings up modems whose device appeared and tears down
// modems whose device went away.
func (d *Daemon) checkPresence(ctx context.Context) {
	d.mu.Lock()
	slots := append([]*slot(nil), d.slots...)
	d.mu.Unlock()

	for _, s := range slots {
		if ctx.Err() != nil {
			return
		}
		present := d.present(s.cfg.Device)

		d.mu.Lock()
		wasPresent, live, due := s.present, s.modem != nil, !d.clock.Now().Before(s.nextProbe)
		s.present = present
		d.mu.Unlock()

		switch {
		case present && !live && due:
			if !wasPresent {
				d.log.Info("device appeared", logging.Modem(s.cfg.Name), logging.Device(s.cfg.Device))
			}
			d.probe(ctx, s)
		case !present && live:
			d.log.Warn("device disappeared", logging.Modem(s.cfg.Name), logging.Device(s.cfg.Device))
			d.teardown(s)
		case !present:
			d.mu.Lock()
			s.nextProbe = time.Time{}
			d.mu.Unlock()
		}
	}
}

// probe creates, initializes and publishes the modem of s.
func (d *Daemon) probe(ctx context.Context, s *slot) {
	log := logging.With(logging.Modem(s.cfg.Name), logging.Device(s.cfg.Device))

	usb := ""
	if id, err := d.usbID(s.cfg.Device); err == nil {
		usb = id.String()
		log.Info("USB device identified", "usb_id", usb)
	} else {
		log.Debug("USB IDs unavailable", logging.Err(err))
	}

	m, err := d.initModem(ctx, s.cfg, log)
	d.mu.Lock()
	s.usb = usb
	s.err = err
	if m == nil {
		s.nextProbe = d.clock.Now().Add(max(probeRetry, s.cfg.PresenceInterval))
	}
	d.mu.Unlock()
	if m == nil {
		log.Warn("modem probe failed", logging.Err(err))
		return
	}

	d.publish(s, m)

	if s.cfg.AutoEnable && m.State() == mm.StateDisabled {
		if err := m.Enable(ctx); err != nil {
			log.Warn("automatic enable failed", logging.Err(err))
			d.mu.Lock()
			s.err = err
			d.mu.Unlock()
		}
	}
}

// initModem returns a nil modem only when the device could not be
// reached. Initialization failures leave the modem in Failed and still
// return it.
func (d *Daemon) initModem(ctx context.Context, cfg config.ModemConfig, log *slog.Logger) (*mm.Modem, error) {
	drv, err := d.newDriver(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := drv.PrimaryPort().Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Device, err)
	}

	m, err := mm.New(mm.Options{
		ID:               cfg.Name,
		Driver:           drv,
		Clock:            d.clock,
		Logger:           log,
		Timing:           d.cfg.Core.Timing(),
		MaxBearers:       cfg.MaxBearers,
		MaxActiveBearers: cfg.MaxActiveBearers,
	})
	if err != nil {
		drv.PrimaryPort().Close()
		return nil, err
	}

	if err := m.Initialize(ctx); err != nil {
		if errors.Is(err, context.Canceled) || m.State() != mm.StateFailed {
			m.Close()
			return nil, err
		}
		log.Warn("modem initialization failed", logging.State(m.State()), logging.Err(err))
		return m, err
	}
	return m, nil
}

func (d *Daemon) publish(s *slot, m *mm.Modem) {
	var detach []func()
	if d.journal != nil {
		detach = append(detach, d.journal.Attach(m))
	}
	if d.metrics != nil {
		detach = append(detach, d.metrics.Attach(m))
	}
	if d.bus != nil {
		detach = append(detach, d.bus.Add(m))
	}
	d.hub.Add(m)

	d.mu.Lock()
	s.modem = m
	s.detach = detach
	d.mu.Unlock()
	d.log.Info("modem published", logging.Modem(m.ID()), logging.State(m.State()))
}

func (d *Daemon) teardown(s *slot) {
	d.mu.Lock()
	m, detach := s.modem, s.detach
	s.modem, s.detach, s.err = nil, nil, nil
	s.nextProbe = time.Time{}
	d.mu.Unlock()
	if m == nil {
		return
	}

	d.hub.Remove(m.ID())
	for i := len(detach) - 1; i >= 0; i-- {
		detach[i]()
	}
	if err := m.Close(); err != nil {
		d.log.Warn("failed to close modem", logging.Modem(m.ID()), logging.Err(err))
	}
}

// Close tears down every modem and the shared components.
func (d *Daemon) Close() error {
	d.closeOnce.Do(func() { d.closeErr = d.close() })
	return d.closeErr
}

func (d *Daemon) close() error {
	d.mu.Lock()
	slots := append([]*slot(nil), d.slots...)
	d.mu.Unlock()
	for _, s := range slots {
		d.teardown(s)
	}

	var errs []error
	if d.bus != nil {
		errs = append(errs, d.bus.Close())
	}
	if d.journal != nil {
		errs = append(errs, d.journal.Close())
	}
	return errors.Join(errs...)
}

func deviceExists(device string) bool {
	_, err := os.Stat(device)
	return err == nil
}
