package atport

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
	"github.com/modemd/internal/testutil"
)

// fakeDevice answers commands from a script of canned replies.
type fakeDevice struct {
	mu      sync.Mutex
	replies map[string]string
	written []string
	dtr     []bool

	r *io.PipeReader
	w *io.PipeWriter
}

func newFakeDevice(replies map[string]string) *fakeDevice {
	r, w := io.Pipe()
	return &fakeDevice{replies: replies, r: r, w: w}
}

func (d *fakeDevice) Read(b []byte) (int, error) { return d.r.Read(b) }

func (d *fakeDevice) Write(b []byte) (int, error) {
	cmd := strings.TrimSuffix(string(b), "\r")
	d.mu.Lock()
	d.written = append(d.written, cmd)
	reply, ok := d.replies[cmd]
	d.mu.Unlock()
	if ok {
		d.emit(reply)
	}
	return len(b), nil
}

func (d *fakeDevice) emit(raw string) {
	go func() { _, _ = d.w.Write([]byte(raw)) }()
}

func (d *fakeDevice) Close() error {
	_ = d.w.Close()
	return d.r.Close()
}

func (d *fakeDevice) SetDTR(v bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dtr = append(d.dtr, v)
	return nil
}

func (d *fakeDevice) Written() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.written...)
}

func openPort(t *testing.T, dev *fakeDevice, cfg Config) *Port {
	t.Helper()
	if cfg.Device == "" {
		cfg.Device = "/dev/ttyUSB2"
	}
	p, err := New(cfg,
		WithOpener(func(Config) (Device, error) { return dev, nil }),
		WithLogger(logging.Discard()))
	testutil.AssertNoError(t, err, "New")
	testutil.AssertNoError(t, p.Open(context.Background()), "Open")
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewRequiresDevice(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("expected error without device")
	}
	p, err := New(Config{Device: "/dev/ttyACM0"})
	testutil.AssertNoError(t, err, "New")
	testutil.AssertEqual(t, 115200, p.cfg.BaudRate, "default baud rate")
	testutil.AssertEqual(t, 5*time.Second, p.cfg.CommandTimeout, "default command timeout")
	testutil.AssertFalse(t, p.IsOpen(), "not opened by New")
}

func TestCommand(t *testing.T) {
	dev := newFakeDevice(map[string]string{
		"AT+CSQ":   "\r\n+CSQ: 20,99\r\n\r\nOK\r\n",
		"AT+CGMI":  "AT+CGMI\r\r\nQuectel\r\n\r\nOK\r\n",
		"AT+CFUN?": "\r\n+CME ERROR: 4\r\n",
		"ATD*99#":  "\r\nCONNECT 150000000\r\n",
		"AT+FOO":   "\r\nERROR\r\n",
	})
	p := openPort(t, dev, Config{})
	ctx := context.Background()

	info, err := p.Command(ctx, "AT+CSQ")
	testutil.AssertNoError(t, err, "AT+CSQ")
	testutil.AssertEqual(t, 1, len(info), "info lines")
	testutil.AssertEqual(t, "+CSQ: 20,99", info[0], "CSQ line")

	info, err = p.Command(ctx, "AT+CGMI")
	testutil.AssertNoError(t, err, "AT+CGMI")
	testutil.AssertEqual(t, 1, len(info), "echo removed")
	testutil.AssertEqual(t, "Quectel", info[0], "manufacturer")

	_, err = p.Command(ctx, "AT+CFUN?")
	testutil.AssertErrorIs(t, err, mm.ErrUnsupported, "CME 4")
	var cme *CMEError
	testutil.AssertTrue(t, errors.As(err, &cme), "CME error in chain")
	testutil.AssertEqual(t, 4, cme.Code, "CME code")

	_, err = p.Command(ctx, "ATD*99#")
	testutil.AssertNoError(t, err, "CONNECT is success")

	_, err = p.Command(ctx, "AT+FOO")
	testutil.AssertErrorIs(t, err, mm.ErrFailed, "ERROR")

	testutil.AssertEqual(t, "AT+CSQ|AT+CGMI|AT+CFUN?|ATD*99#|AT+FOO", strings.Join(dev.Written(), "|"), "commands written")
}

func TestCommandSimErrors(t *testing.T) {
	tests := []struct {
		reply string
		want  error
	}{
		{"+CME ERROR: 10", mm.ErrSimNotInserted},
		{"+CME ERROR: 13", mm.ErrSimFailure},
		{"+CME ERROR: 15", mm.ErrSimWrong},
		{"+CME ERROR: SIM not inserted", mm.ErrSimNotInserted},
		{"+CME ERROR: incorrect password", mm.ErrUnauthorized},
		{"+CME ERROR: 262", mm.ErrFailed},
	}
	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			dev := newFakeDevice(map[string]string{"AT+CPIN?": "\r\n" + tt.reply + "\r\n"})
			p := openPort(t, dev, Config{})
			_, err := p.Command(context.Background(), "AT+CPIN?")
			testutil.AssertErrorIs(t, err, tt.want, "AT+CPIN?")
		})
	}
}

func TestCommandTimeout(t *testing.T) {
	dev := newFakeDevice(nil)
	p := openPort(t, dev, Config{CommandTimeout: 20 * time.Millisecond})

	_, err := p.Command(context.Background(), "AT")
	testutil.AssertErrorIs(t, err, mm.ErrFailed, "timeout")
	testutil.AssertTrue(t, errors.Is(err, context.DeadlineExceeded), "deadline in chain")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Command(ctx, "AT")
	testutil.AssertErrorIs(t, err, mm.ErrCancelled, "cancelled")
}

func TestCommandOnClosedPort(t *testing.T) {
	p, err := New(Config{Device: "/dev/ttyUSB2"}, WithLogger(logging.Discard()))
	testutil.AssertNoError(t, err, "New")
	_, err = p.Command(context.Background(), "AT")
	testutil.AssertTrue(t, errors.Is(err, ErrClosed), "closed port")
}

func TestUnsolicitedHandler(t *testing.T) {
	dev := newFakeDevice(map[string]string{
		"AT+CREG?": "\r\n+CREG: 2,1,\"00C3\",\"0010A5B1\",7\r\n\r\nOK\r\n",
	})
	p := openPort(t, dev, Config{})

	got := make(chan string, 1)
	unsolicitedOnly := func(line string) bool {
		return !strings.HasPrefix(line, "+CREG: 2,")
	}
	p.Handle("+CREG:", unsolicitedOnly, func(line string) { got <- line })

	dev.emit("\r\n+CREG: 5\r\n")
	select {
	case line := <-got:
		testutil.AssertEqual(t, "+CREG: 5", line, "unsolicited line")
	case <-time.After(time.Second):
		t.Fatal("unsolicited handler not called")
	}

	// The solicited reply is not taken by the handler.
	info, err := p.Command(context.Background(), "AT+CREG?")
	testutil.AssertNoError(t, err, "AT+CREG?")
	testutil.AssertEqual(t, 1, len(info), "info lines")

	p.Handle("+CREG:", nil, nil)
	testutil.AssertEqual(t, 0, len(p.handlers), "handler removed")
}

func TestFlash(t *testing.T) {
	dev := newFakeDevice(nil)
	p := openPort(t, dev, Config{})

	testutil.AssertNoError(t, p.Flash(context.Background(), time.Millisecond), "Flash")
	dev.mu.Lock()
	defer dev.mu.Unlock()
	testutil.AssertEqual(t, 2, len(dev.dtr), "DTR toggles")
	testutil.AssertFalse(t, dev.dtr[0], "DTR dropped first")
	testutil.AssertTrue(t, dev.dtr[1], "DTR raised again")
}

func TestCloseStopsReader(t *testing.T) {
	dev := newFakeDevice(nil)
	p := openPort(t, dev, Config{})

	testutil.AssertTrue(t, p.IsOpen(), "open")
	testutil.AssertNoError(t, p.Close(), "Close")
	testutil.AssertFalse(t, p.IsOpen(), "closed")
	testutil.AssertNoError(t, p.Close(), "second Close")
	testutil.AssertTrue(t, errors.Is(p.Flash(context.Background(), time.Millisecond), ErrClosed), "flash after close")
}
