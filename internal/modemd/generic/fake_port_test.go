package generic

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
)

// fakePort answers commands from a script. Unscripted commands fail with
// ERROR like a modem that does not know them.
type fakePort struct {
	mu       sync.Mutex
	replies  map[string][]string
	errs     map[string]error
	sent     []string
	timeouts map[string]time.Duration
	handlers map[string]handler
	open     bool
}

type handler struct {
	match func(string) bool
	fn    func(string)
}

func newFakePort() *fakePort {
	return &fakePort{
		replies:  make(map[string][]string),
		errs:     make(map[string]error),
		timeouts: make(map[string]time.Duration),
		handlers: make(map[string]handler),
	}
}

func (p *fakePort) reply(cmd string, lines ...string) *fakePort {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies[cmd] = lines
	return p
}

func (p *fakePort) fail(cmd string, err error) *fakePort {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[cmd] = err
	return p
}

func (p *fakePort) Open(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	return nil
}

func (p *fakePort) Flash(context.Context, time.Duration) error { return nil }

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	return nil
}

func (p *fakePort) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *fakePort) Command(ctx context.Context, cmd string) ([]string, error) {
	return p.CommandTimeout(ctx, cmd, 0)
}

func (p *fakePort) CommandTimeout(ctx context.Context, cmd string, timeout time.Duration) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, mm.Wrap(mm.KindCancelled, err, cmd+" cancelled")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, cmd)
	p.timeouts[cmd] = timeout
	if err, ok := p.errs[cmd]; ok {
		return nil, err
	}
	if lines, ok := p.replies[cmd]; ok {
		return lines, nil
	}
	return nil, mm.Errorf(mm.KindFailed, "%s failed: ERROR", cmd)
}

func (p *fakePort) Handle(prefix string, match func(string) bool, fn func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fn == nil {
		delete(p.handlers, prefix)
		return
	}
	p.handlers[prefix] = handler{match: match, fn: fn}
}

// emit delivers an unsolicited line. It reports whether a handler took it.
func (p *fakePort) emit(line string) bool {
	p.mu.Lock()
	var fn func(string)
	for prefix, h := range p.handlers {
		if strings.HasPrefix(line, prefix) && (h.match == nil || h.match(line)) {
			fn = h.fn
		}
	}
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(line)
	return true
}

func (p *fakePort) commands() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.sent, "|")
}

func (p *fakePort) resetCommands() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}

// notifier records what the driver pushes.
type notifier struct {
	mu     sync.Mutex
	cs, ps []mm.RegistrationReading
	signal []uint
}

func (n *notifier) UpdateCsRegistrationState(state mm.RegistrationState, act mm.AccessTechnology) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cs = append(n.cs, mm.RegistrationReading{State: state, AccessTech: act})
}

func (n *notifier) UpdatePsRegistrationState(state mm.RegistrationState, act mm.AccessTechnology) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ps = append(n.ps, mm.RegistrationReading{State: state, AccessTech: act})
}

func (n *notifier) UpdateAccessTechnologies(act, mask mm.AccessTechnology) {}

func (n *notifier) UpdateSignalQuality(value uint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.signal = append(n.signal, value)
}

func newTestDriver(cfg Config, port *fakePort) *Driver {
	return newDriver(cfg, port, WithLogger(logging.Discard()))
}
