package mm

import (
	"context"

	"github.com/modemd/internal/logging"
)

// CreateBearer asks the driver for a new bearer and adds it to the list.
// When the list is full it fails with TooMany, unless force is set, in which
// case every existing bearer is disconnected and deleted first.
func (m *Modem) CreateBearer(ctx context.Context, props BearerProperties, force bool) (*Bearer, error) {
	if err := m.checkAlive(); err != nil {
		return nil, err
	}
	if st := m.State(); st < StateLocked {
		return nil, wrongState("create bearer", st)
	}
	creator, ok := m.driver.(BearerCreator)
	if !ok {
		return nil, unsupported("bearer creation")
	}

	m.bearerOps.Lock()
	defer m.bearerOps.Unlock()

	if n, limit := m.bearers.Count(), m.bearers.MaxCount(); n >= limit {
		if !force {
			return nil, Errorf(KindTooMany, "cannot add new bearer: already reached maximum (%d)", limit)
		}
		m.log.Info("bearer list full, deleting existing bearers", "count", n)
		for _, b := range m.bearers.List() {
			m.deleteBearer(ctx, b)
		}
	}

	handle, err := creator.CreateBearer(ctx, props)
	if err != nil {
		return nil, wrapDriver(err, "couldn't create bearer")
	}
	b := newBearer(m.bearers.newID(), handle, props, m.log)
	m.admit(b)
	if err := m.bearers.add(b); err != nil {
		if d, ok := m.driver.(BearerDeleter); ok {
			if derr := d.DeleteBearer(ctx, handle); derr != nil {
				m.log.Warn("couldn't delete rejected bearer", logging.Err(derr))
			}
		}
		return nil, err
	}

	b.log.Info("bearer created", "type", b.Type().String(), "apn", props.APN)
	m.emit(Event{Type: EventBearerAdded, Bearer: b.ID()})
	return b, nil
}

// admit sets the initial connection permission of a bearer that is not yet
// in the list.
func (m *Modem) admit(b *Bearer) {
	if b.Type() != Bearer3gpp {
		b.setAllowed()
		return
	}
	reg := m.RegistrationState()
	switch {
	case !reg.Registered():
		b.setForbidden(ForbiddenUnregistered)
	case reg == RegistrationRoaming && !b.props.AllowRoaming:
		b.setForbidden(ForbiddenRoaming)
	default:
		b.setAllowed()
	}
}

// DeleteBearer disconnects and removes the bearer with the given id.
func (m *Modem) DeleteBearer(ctx context.Context, id string) error {
	if err := m.checkAlive(); err != nil {
		return err
	}
	m.bearerOps.Lock()
	defer m.bearerOps.Unlock()

	b, ok := m.bearers.Get(id)
	if !ok {
		return Errorf(KindNotFound, "bearer %s not found", id)
	}
	m.deleteBearer(ctx, b)
	return nil
}

// deleteBearer disconnects b, falling back to a forced disconnect, removes
// it from the list and releases the driver side.
func (m *Modem) deleteBearer(ctx context.Context, b *Bearer) {
	if b.Status() != BearerDisconnected {
		if err := b.Disconnect(ctx); err != nil {
			b.log.Warn("graceful disconnect failed", logging.Err(err))
			b.forceDisconnect()
		}
	}
	if !m.bearers.remove(b) {
		return
	}
	if d, ok := m.driver.(BearerDeleter); ok {
		if err := d.DeleteBearer(ctx, b.handle); err != nil {
			b.log.Warn("driver failed to delete bearer", logging.Err(err))
		}
	}
	b.log.Info("bearer deleted")
	m.emit(Event{Type: EventBearerRemoved, Bearer: b.ID()})
}

// forceDeleteBearers drops every bearer without a graceful disconnect and
// releases each one in the driver.
func (m *Modem) forceDeleteBearers(ctx context.Context) {
	m.bearerOps.Lock()
	defer m.bearerOps.Unlock()

	deleter, _ := m.driver.(BearerDeleter)
	for _, b := range m.bearers.forceDeleteAll() {
		if deleter != nil {
			if err := deleter.DeleteBearer(ctx, b.handle); err != nil {
				b.log.Warn("driver failed to delete bearer", logging.Err(err))
			}
		}
		b.log.Info("bearer deleted")
		m.emit(Event{Type: EventBearerRemoved, Bearer: b.ID()})
	}
}

// ListBearers returns a snapshot of every bearer.
func (m *Modem) ListBearers() []BearerInfo {
	list := m.bearers.List()
	out := make([]BearerInfo, 0, len(list))
	for _, b := range list {
		out = append(out, b.Info())
	}
	return out
}

// Bearer looks a bearer up by id.
func (m *Modem) Bearer(id string) (*Bearer, error) {
	b, ok := m.bearers.Get(id)
	if !ok {
		return nil, Errorf(KindNotFound, "bearer %s not found", id)
	}
	return b, nil
}

// disconnectBearers takes every bearer down, used while disabling.
func (m *Modem) disconnectBearers(ctx context.Context) {
	for _, b := range m.bearers.List() {
		if b.Status() == BearerDisconnected {
			continue
		}
		if err := b.Disconnect(ctx); err != nil {
			b.log.Warn("couldn't disconnect bearer", logging.Err(err))
			b.forceDisconnect()
		}
	}
}
