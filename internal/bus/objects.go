package bus

import (
	"sort"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/modemd/internal/logging"
	"github.com/modemd/internal/mm"
)

var modemSignals = []introspect.Signal{
	{Name: "StateChanged", Args: []introspect.Arg{{Name: "old", Type: "i"}, {Name: "new", Type: "i"}, {Name: "reason", Type: "u"}}},
	{Name: "LockChanged", Args: []introspect.Arg{{Name: "lock", Type: "s"}}},
	{Name: "RegistrationChanged", Args: []introspect.Arg{{Name: "state", Type: "s"}}},
	{Name: "SignalQualityChanged", Args: []introspect.Arg{{Name: "value", Type: "u"}, {Name: "recent", Type: "b"}}},
	{Name: "OperatorChanged", Args: []introspect.Arg{{Name: "code", Type: "s"}, {Name: "name", Type: "s"}}},
	{Name: "BearerAdded", Args: []introspect.Arg{{Name: "path", Type: "o"}}},
	{Name: "BearerRemoved", Args: []introspect.Arg{{Name: "path", Type: "o"}}},
}

var bearerSignals = []introspect.Signal{
	{Name: "StatusChanged", Args: []introspect.Arg{{Name: "status", Type: "s"}}},
}

// modemObject is the io.modemd.Modem interface of one modem.
type modemObject struct {
	e      *Exporter
	modem  *mm.Modem
	path   dbus.ObjectPath
	cancel func()

	mu      sync.Mutex
	bearers map[string]*bearerObject // by bearer id
}

func (o *modemObject) onEvent(ev mm.Event) {
	name := ModemInterface + "."
	switch ev.Type {
	case mm.EventStateChanged:
		o.e.emit(o.path, name+"StateChanged", int32(ev.OldState), int32(ev.NewState), uint32(ev.Reason))
	case mm.EventLockChanged:
		o.e.emit(o.path, name+"LockChanged", ev.Lock.String())
	case mm.EventRegistrationChanged:
		o.e.emit(o.path, name+"RegistrationChanged", ev.Registration.String())
	case mm.EventSignalQualityChanged:
		if ev.Signal != nil {
			o.e.emit(o.path, name+"SignalQualityChanged", uint32(ev.Signal.Value), ev.Signal.Recent)
		}
	case mm.EventOperatorChanged:
		o.e.emit(o.path, name+"OperatorChanged", ev.OperatorCode, ev.OperatorName)
	case mm.EventBearerAdded:
		o.addBearer(ev.Bearer)
	case mm.EventBearerRemoved:
		o.removeBearer(ev.Bearer)
	case mm.EventBearerStatusChanged:
		if b := o.bearer(ev.Bearer); b != nil {
			o.e.emit(b.path, BearerInterface+".StatusChanged", ev.BearerStatus.String())
		}
	}
}

func (o *modemObject) addBearer(id string) {
	b, err := o.modem.Bearer(id)
	if err != nil {
		return
	}
	o.mu.Lock()
	if _, ok := o.bearers[id]; ok {
		o.mu.Unlock()
		return
	}
	obj := &bearerObject{e: o.e, bearer: b, path: o.e.bearerPath()}
	o.bearers[id] = obj
	o.mu.Unlock()

	if err := o.e.export(obj, obj.path, BearerInterface, bearerSignals); err != nil {
		o.e.log.Warn("failed to export bearer", logging.Modem(o.modem.ID()), logging.Bearer(id), logging.Err(err))
		return
	}
	o.e.emit(o.path, ModemInterface+".BearerAdded", obj.path)
}

func (o *modemObject) removeBearer(id string) {
	o.mu.Lock()
	obj, ok := o.bearers[id]
	delete(o.bearers, id)
	o.mu.Unlock()
	if !ok {
		return
	}
	o.e.unexport(obj.path, BearerInterface)
	o.e.emit(o.path, ModemInterface+".BearerRemoved", obj.path)
}

func (o *modemObject) bearer(id string) *bearerObject {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bearers[id]
}

func (o *modemObject) bearerByPath(path dbus.ObjectPath) *bearerObject {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.bearers {
		if b.path == path {
			return b
		}
	}
	return nil
}

// Enable enables or disables the modem.
func (o *modemObject) Enable(enable bool) *dbus.Error {
	ctx, cancel := o.e.callContext()
	defer cancel()
	if enable {
		return busError(o.modem.Enable(ctx))
	}
	return busError(o.modem.Disable(ctx))
}

func (o *modemObject) SendPin(pin string) *dbus.Error {
	ctx, cancel := o.e.callContext()
	defer cancel()
	return busError(o.modem.SendPin(ctx, pin))
}

func (o *modemObject) SendPuk(puk, pin string) *dbus.Error {
	ctx, cancel := o.e.callContext()
	defer cancel()
	return busError(o.modem.SendPuk(ctx, puk, pin))
}

// Register selects operator, or registers automatically when empty.
func (o *modemObject) Register(operator string) *dbus.Error {
	ctx, cancel := o.e.callContext()
	defer cancel()
	return busError(o.modem.Register(ctx, operator))
}

func (o *modemObject) Reset() *dbus.Error {
	ctx, cancel := o.e.callContext()
	defer cancel()
	return busError(o.modem.Reset(ctx))
}

func (o *modemObject) FactoryReset(code string) *dbus.Error {
	ctx, cancel := o.e.callContext()
	defer cancel()
	return busError(o.modem.FactoryReset(ctx, code))
}

// SetCurrentModes takes the mode names used by the HTTP API, e.g. "3g, 4g".
func (o *modemObject) SetCurrentModes(allowed, preferred string) *dbus.Error {
	var a, p mm.Mode
	if err := a.UnmarshalText([]byte(allowed)); err != nil {
		return busError(err)
	}
	if err := p.UnmarshalText([]byte(preferred)); err != nil {
		return busError(err)
	}
	ctx, cancel := o.e.callContext()
	defer cancel()
	return busError(o.modem.SetAllowedModes(ctx, a, p))
}

func (o *modemObject) SetCurrentBands(names []string) *dbus.Error {
	bands := make([]mm.Band, len(names))
	for i, n := range names {
		if err := bands[i].UnmarshalText([]byte(n)); err != nil {
			return busError(err)
		}
	}
	ctx, cancel := o.e.callContext()
	defer cancel()
	return busError(o.modem.SetAllowedBands(ctx, bands))
}

// CreateBearer accepts the keys apn, ip-type, user, password, number and
// allow-roaming.
func (o *modemObject) CreateBearer(props map[string]dbus.Variant) (dbus.ObjectPath, *dbus.Error) {
	bp, err := bearerProperties(props)
	if err != nil {
		return "", busError(err)
	}
	ctx, cancel := o.e.callContext()
	defer cancel()
	b, err := o.modem.CreateBearer(ctx, bp, false)
	if err != nil {
		return "", busError(err)
	}
	// bearer-added has already exported it
	if obj := o.bearer(b.ID()); obj != nil {
		return obj.path, nil
	}
	return "", busError(errNoBearer)
}

func (o *modemObject) DeleteBearer(path dbus.ObjectPath) *dbus.Error {
	obj := o.bearerByPath(path)
	if obj == nil {
		return busError(errNoBearer)
	}
	ctx, cancel := o.e.callContext()
	defer cancel()
	return busError(o.modem.DeleteBearer(ctx, obj.bearer.ID()))
}

func (o *modemObject) ListBearers() ([]dbus.ObjectPath, *dbus.Error) {
	o.mu.Lock()
	paths := make([]dbus.ObjectPath, 0, len(o.bearers))
	for _, b := range o.bearers {
		paths = append(paths, b.path)
	}
	o.mu.Unlock()
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths, nil
}

// GetStatus returns a snapshot of the modem properties.
func (o *modemObject) GetStatus() (map[string]dbus.Variant, *dbus.Error) {
	st := o.modem.Status()
	return map[string]dbus.Variant{
		"Id":                  dbus.MakeVariant(st.ID),
		"Driver":              dbus.MakeVariant(st.Driver),
		"State":               dbus.MakeVariant(int32(st.State)),
		"StateName":           dbus.MakeVariant(st.State.String()),
		"FailedReason":        dbus.MakeVariant(st.FailedReason.String()),
		"UnlockRequired":      dbus.MakeVariant(st.Lock.String()),
		"RegistrationState":   dbus.MakeVariant(st.Registration.String()),
		"AccessTechnologies":  dbus.MakeVariant(st.AccessTechnologies.String()),
		"SignalQuality":       dbus.MakeVariant([]interface{}{uint32(st.SignalQuality.Value), st.SignalQuality.Recent}),
		"OperatorCode":        dbus.MakeVariant(st.OperatorCode),
		"OperatorName":        dbus.MakeVariant(st.OperatorName),
		"Manufacturer":        dbus.MakeVariant(st.Identity.Manufacturer),
		"Model":               dbus.MakeVariant(st.Identity.Model),
		"EquipmentIdentifier": dbus.MakeVariant(st.Identity.EquipmentIdentifier),
		"MaxBearers":          dbus.MakeVariant(uint32(st.MaxBearers)),
		"MaxActiveBearers":    dbus.MakeVariant(uint32(st.MaxActiveBearers)),
	}, nil
}

// bearerObject is the io.modemd.Bearer interface of one bearer.
type bearerObject struct {
	e      *Exporter
	bearer *mm.Bearer
	path   dbus.ObjectPath
}

func (b *bearerObject) Connect() *dbus.Error {
	ctx, cancel := b.e.callContext()
	defer cancel()
	return busError(b.bearer.Connect(ctx))
}

func (b *bearerObject) Disconnect() *dbus.Error {
	ctx, cancel := b.e.callContext()
	defer cancel()
	return busError(b.bearer.Disconnect(ctx))
}

func (b *bearerObject) GetStatus() (map[string]dbus.Variant, *dbus.Error) {
	info := b.bearer.Info()
	return map[string]dbus.Variant{
		"Id":                dbus.MakeVariant(info.ID),
		"Status":            dbus.MakeVariant(info.Status.String()),
		"ConnectionAllowed": dbus.MakeVariant(info.Allowed),
		"ForbiddenReason":   dbus.MakeVariant(info.ForbiddenReason.String()),
		"Apn":               dbus.MakeVariant(info.Properties.APN),
		"IpType":            dbus.MakeVariant(info.Properties.IPType.String()),
		"AllowRoaming":      dbus.MakeVariant(info.Properties.AllowRoaming),
	}, nil
}

func bearerProperties(props map[string]dbus.Variant) (mm.BearerProperties, error) {
	var bp mm.BearerProperties
	for key, v := range props {
		var ok bool
		switch key {
		case "apn":
			bp.APN, ok = v.Value().(string)
		case "user":
			bp.User, ok = v.Value().(string)
		case "password":
			bp.Password, ok = v.Value().(string)
		case "number":
			bp.Number, ok = v.Value().(string)
		case "allow-roaming":
			bp.AllowRoaming, ok = v.Value().(bool)
		case "ip-type":
			var s string
			if s, ok = v.Value().(string); ok {
				if err := bp.IPType.UnmarshalText([]byte(s)); err != nil {
					return bp, err
				}
			}
		default:
			return bp, mm.Errorf(mm.KindInvalidArgs, "unknown bearer property %q", key)
		}
		if !ok {
			return bp, mm.Errorf(mm.KindInvalidArgs, "bearer property %q has type %s", key, v.Signature())
		}
	}
	return bp, nil
}
