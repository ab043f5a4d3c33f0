package atport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"k8s.io/utils/clock"

	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
)

// ErrClosed is returned for commands issued on a port that is not open or
// was closed while the command was outstanding.
var ErrClosed = errors.New("port closed")

// Device is the raw serial line under a Port.
type Device interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
}

// OpenFunc opens the serial device described by cfg.
type OpenFunc func(cfg Config) (Device, error)

// OpenSerial opens cfg.Device with modem-appropriate settings.
func OpenSerial(cfg Config) (Device, error) {
	port, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{
			DTR: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Device, err)
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := port.SetDTR(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set DTR: %w", err)
	}
	_ = port.ResetInputBuffer()
	_ = port.ResetOutputBuffer()
	return port, nil
}

type unsolicited struct {
	prefix string
	match  func(string) bool
	fn     func(string)
}

// Port is an AT command channel. Commands are serialized; lines that match
// an installed unsolicited handler are dispatched to it from the reader
// goroutine and never reach a command.
type Port struct {
	cfg   Config
	open  OpenFunc
	clock clock.Clock
	log   *slog.Logger

	// cmdMu serializes commands
	cmdMu sync.Mutex

	mu       sync.Mutex
	dev      Device
	lines    chan string
	done     chan struct{}
	handlers []unsolicited
}

// Option configures a Port.
type Option func(*Port)

// WithOpener replaces the serial opener, mainly for tests.
func WithOpener(fn OpenFunc) Option {
	return func(p *Port) { p.open = fn }
}

// WithClock sets the clock used for line flashes.
func WithClock(c clock.Clock) Option {
	return func(p *Port) { p.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Port) { p.log = l }
}

var _ mm.Port = (*Port)(nil)

// New creates a port for cfg.Device. The device is not opened until Open
// is called.
func New(cfg Config, opts ...Option) (*Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("port device path is required")
	}
	cfg.applyDefaults()

	p := &Port{
		cfg:   cfg,
		open:  OpenSerial,
		clock: clock.RealClock{},
	}
	for _, o := range opts {
		o(p)
	}
	if p.log == nil {
		p.log = logging.With(logging.Device(cfg.Device))
	}
	return p, nil
}

// Device returns the configured device path.
func (p *Port) Device() string { return p.cfg.Device }

// Open opens the serial device and starts the line reader. Opening an open
// port is a no-op.
func (p *Port) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dev != nil {
		return nil
	}

	dev, err := p.open(p.cfg)
	if err != nil {
		return err
	}
	p.dev = dev
	p.lines = make(chan string, 64)
	p.done = make(chan struct{})
	go p.readLoop(dev, p.lines, p.done)

	p.log.Debug("port opened")
	return nil
}

// IsOpen reports whether the device is open.
func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dev != nil
}

// Close closes the device and waits for the reader to exit.
func (p *Port) Close() error {
	p.mu.Lock()
	dev, done := p.dev, p.done
	p.dev = nil
	p.mu.Unlock()
	if dev == nil {
		return nil
	}

	err := dev.Close()
	<-done
	p.log.Debug("port closed")
	return err
}

// Flash drops DTR for d and raises it again, returning the modem to
// command mode.
func (p *Port) Flash(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	dev := p.dev
	p.mu.Unlock()
	if dev == nil {
		return ErrClosed
	}

	if err := dev.SetDTR(false); err != nil {
		return fmt.Errorf("failed to drop DTR: %w", err)
	}
	select {
	case <-ctx.Done():
		_ = dev.SetDTR(true)
		return ctx.Err()
	case <-p.clock.After(d):
	}
	if err := dev.SetDTR(true); err != nil {
		return fmt.Errorf("failed to raise DTR: %w", err)
	}
	return nil
}

// Handle installs fn for unsolicited lines starting with prefix. When match
// is non-nil it must accept the line as well. A nil fn removes the handler.
// fn runs on the reader goroutine and must not issue commands.
func (p *Port) Handle(prefix string, match func(string) bool, fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	kept := p.handlers[:0]
	for _, h := range p.handlers {
		if h.prefix != prefix {
			kept = append(kept, h)
		}
	}
	p.handlers = kept
	if fn != nil {
		p.handlers = append(p.handlers, unsolicited{prefix: prefix, match: match, fn: fn})
	}
}

func (p *Port) handlerFor(line string) func(string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.handlers {
		if strings.HasPrefix(line, h.prefix) && (h.match == nil || h.match(line)) {
			return h.fn
		}
	}
	return nil
}

// Command sends cmd and collects the information lines up to the final
// result. Failed results come back as *mm.Error; +CME ERROR codes map to
// their error kinds.
func (p *Port) Command(ctx context.Context, cmd string) ([]string, error) {
	return p.CommandTimeout(ctx, cmd, p.cfg.CommandTimeout)
}

// CommandTimeout is Command with an explicit timeout.
func (p *Port) CommandTimeout(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	p.cmdMu.Lock()
	defer p.cmdMu.Unlock()

	p.mu.Lock()
	dev, lines, done := p.dev, p.lines, p.done
	p.mu.Unlock()
	if dev == nil {
		return nil, mm.Wrap(mm.KindFailed, ErrClosed, cmd+" failed")
	}

	// Discard replies that arrived after an earlier command gave up.
	for drained := false; !drained; {
		select {
		case <-lines:
		default:
			drained = true
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p.log.Debug("-->", logging.Command(cmd))
	if _, err := dev.Write([]byte(cmd + "\r")); err != nil {
		return nil, mm.Wrap(mm.KindFailed, err, "write failed")
	}

	var info []string
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, mm.Wrap(mm.KindCancelled, ctx.Err(), cmd+" cancelled")
			}
			return nil, mm.Wrap(mm.KindFailed, ctx.Err(), cmd+" timed out")
		case <-done:
			return nil, mm.Wrap(mm.KindFailed, ErrClosed, cmd+" failed")
		case line := <-lines:
			p.log.Debug("<--", logging.Command(line))
			if line == cmd {
				// echo
				continue
			}
			if !IsFinal(line) {
				info = append(info, line)
				continue
			}
			if err := resultError(cmd, line); err != nil {
				return info, err
			}
			return info, nil
		}
	}
}

// readLoop splits the device stream into lines until the device fails or is
// closed.
func (p *Port) readLoop(dev Device, lines chan<- string, done chan<- struct{}) {
	defer close(done)

	scanner := bufio.NewScanner(pollingReader{dev})
	scanner.Split(splitLines)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if fn := p.handlerFor(line); fn != nil {
			fn(line)
			continue
		}
		select {
		case lines <- line:
		default:
			p.log.Debug("dropping line, no command waiting", logging.Command(line))
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		p.log.Debug("port reader stopped", logging.Err(err))
	}
}

// splitLines splits on CR or LF.
func splitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// pollingReader hides the empty reads a serial port returns when its read
// timeout expires, which bufio.Scanner would treat as lack of progress.
type pollingReader struct {
	r io.Reader
}

func (pr pollingReader) Read(b []byte) (int, error) {
	for {
		n, err := pr.r.Read(b)
		if n > 0 || err != nil {
			return n, err
		}
	}
}
