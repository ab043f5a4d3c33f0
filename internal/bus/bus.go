// Package bus exports managed modems and their bearers as D-Bus objects.
//
// The daemon object lives at /io/modemd/Daemon. Each modem gets
// /io/modemd/Daemon/Modem/N and each bearer /io/modemd/Daemon/Bearer/N;
// numbers are never reused while the process runs.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/modemd/internal/config"
	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
)

const (
	RootPath        dbus.ObjectPath = "/io/modemd/Daemon"
	DaemonInterface                 = "io.modemd.Daemon"
	ModemInterface                  = "io.modemd.Modem"
	BearerInterface                 = "io.modemd.Bearer"
	ErrorPrefix                     = "io.modemd.Error."

	introspectInterface = "org.freedesktop.DBus.Introspectable"
)

// DefaultCallTimeout bounds one method call.
const DefaultCallTimeout = 2 * time.Minute

// Conn is the part of *dbus.Conn the exporter uses.
type Conn interface {
	Export(v interface{}, path dbus.ObjectPath, iface string) error
	Emit(path dbus.ObjectPath, name string, values ...interface{}) error
}

// Exporter publishes modems on a bus connection.
type Exporter struct {
	conn    Conn
	closer  func() error
	service string
	timeout time.Duration
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	modems     map[string]*modemObject
	nextModem  int
	nextBearer int
	connected  bool
}

// Connect opens the configured bus, claims the service name and exports
// the daemon object.
func Connect(cfg config.DBusConfig) (*Exporter, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	switch cfg.Bus {
	case "session":
		conn, err = dbus.ConnectSessionBus()
	default:
		conn, err = dbus.ConnectSystemBus()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s bus: %w", cfg.Bus, err)
	}

	reply, err := conn.RequestName(cfg.ServiceName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request name %s: %w", cfg.ServiceName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("name %s already taken", cfg.ServiceName)
	}

	e, err := NewExporter(conn, cfg.ServiceName)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e.closer = conn.Close
	return e, nil
}

// NewExporter exports the daemon object on conn.
func NewExporter(conn Conn, service string) (*Exporter, error) {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Exporter{
		conn:      conn,
		service:   service,
		timeout:   DefaultCallTimeout,
		log:       logging.With("component", "dbus", "service", service),
		ctx:       ctx,
		cancel:    cancel,
		modems:    make(map[string]*modemObject),
		connected: true,
	}

	root := &daemonObject{e: e}
	if err := e.export(root, RootPath, DaemonInterface, daemonSignals); err != nil {
		cancel()
		return nil, err
	}
	return e, nil
}

// Connected reports whether the exporter still owns its connection.
func (e *Exporter) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// ServiceName returns the claimed bus name.
func (e *Exporter) ServiceName() string { return e.service }

// Add exports m and keeps its objects in step with its events until the
// returned function is called.
func (e *Exporter) Add(m *mm.Modem) func() {
	e.mu.Lock()
	if _, ok := e.modems[m.ID()]; ok {
		e.mu.Unlock()
		return func() {}
	}
	obj := &modemObject{
		e:       e,
		modem:   m,
		path:    dbus.ObjectPath(fmt.Sprintf("%s/Modem/%d", RootPath, e.nextModem)),
		bearers: make(map[string]*bearerObject),
	}
	e.nextModem++
	e.modems[m.ID()] = obj
	e.mu.Unlock()

	if err := e.export(obj, obj.path, ModemInterface, modemSignals); err != nil {
		e.log.Warn("failed to export modem", logging.Modem(m.ID()), logging.Err(err))
	}
	obj.cancel = m.Subscribe(obj.onEvent)
	for _, info := range m.ListBearers() {
		obj.addBearer(info.ID)
	}

	e.emit(RootPath, DaemonInterface+".ModemAdded", obj.path, m.ID())
	e.log.Info("modem exported", logging.Modem(m.ID()), "path", string(obj.path))

	var once sync.Once
	return func() { once.Do(func() { e.remove(obj) }) }
}

func (e *Exporter) remove(obj *modemObject) {
	obj.cancel()

	obj.mu.Lock()
	bearers := make([]*bearerObject, 0, len(obj.bearers))
	for _, b := range obj.bearers {
		bearers = append(bearers, b)
	}
	obj.bearers = make(map[string]*bearerObject)
	obj.mu.Unlock()
	for _, b := range bearers {
		e.unexport(b.path, BearerInterface)
	}

	e.unexport(obj.path, ModemInterface)
	e.mu.Lock()
	delete(e.modems, obj.modem.ID())
	e.mu.Unlock()
	e.emit(RootPath, DaemonInterface+".ModemRemoved", obj.path, obj.modem.ID())
}

// Close stops in-flight calls and releases the connection.
func (e *Exporter) Close() error {
	e.cancel()
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
	if e.closer != nil {
		return e.closer()
	}
	return nil
}

func (e *Exporter) export(v interface{}, path dbus.ObjectPath, iface string, signals []introspect.Signal) error {
	if err := e.conn.Export(v, path, iface); err != nil {
		return fmt.Errorf("failed to export %s on %s: %w", iface, path, err)
	}
	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{Name: iface, Methods: introspect.Methods(v), Signals: signals},
		},
	}
	return e.conn.Export(introspect.NewIntrospectable(node), path, introspectInterface)
}

func (e *Exporter) unexport(path dbus.ObjectPath, iface string) {
	if err := e.conn.Export(nil, path, iface); err != nil {
		e.log.Debug("unexport failed", "path", string(path), logging.Err(err))
	}
	e.conn.Export(nil, path, introspectInterface)
}

func (e *Exporter) emit(path dbus.ObjectPath, name string, values ...interface{}) {
	if err := e.conn.Emit(path, name, values...); err != nil {
		e.log.Debug("signal emit failed", "signal", name, logging.Err(err))
	}
}

func (e *Exporter) bearerPath() dbus.ObjectPath {
	e.mu.Lock()
	defer e.mu.Unlock()
	p := dbus.ObjectPath(fmt.Sprintf("%s/Bearer/%d", RootPath, e.nextBearer))
	e.nextBearer++
	return p
}

func (e *Exporter) callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(e.ctx, e.timeout)
}

// busError converts a modem error to a named bus error, e.g.
// io.modemd.Error.WrongState.
func busError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	var name strings.Builder
	for _, part := range strings.Split(mm.KindOf(err).String(), "-") {
		if part == "" {
			continue
		}
		name.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return dbus.NewError(ErrorPrefix+name.String(), []interface{}{err.Error()})
}

var errNoBearer = mm.Errorf(mm.KindNotFound, "no such bearer object")

// daemonObject is exported at RootPath.
type daemonObject struct {
	e *Exporter
}

var daemonSignals = []introspect.Signal{
	{Name: "ModemAdded", Args: []introspect.Arg{{Name: "path", Type: "o"}, {Name: "id", Type: "s"}}},
	{Name: "ModemRemoved", Args: []introspect.Arg{{Name: "path", Type: "o"}, {Name: "id", Type: "s"}}},
}

// ListModems returns the exported modem paths in path order.
func (d *daemonObject) ListModems() ([]dbus.ObjectPath, *dbus.Error) {
	d.e.mu.Lock()
	paths := make([]dbus.ObjectPath, 0, len(d.e.modems))
	for _, m := range d.e.modems {
		paths = append(paths, m.path)
	}
	d.e.mu.Unlock()
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths, nil
}

// FindModem maps a modem id to its path.
func (d *daemonObject) FindModem(id string) (dbus.ObjectPath, *dbus.Error) {
	d.e.mu.Lock()
	defer d.e.mu.Unlock()
	if m, ok := d.e.modems[id]; ok {
		return m.path, nil
	}
	return "", busError(mm.Errorf(mm.KindNotFound, "modem %q not found", id))
}
