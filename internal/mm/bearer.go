package mm

import (
	"context"
	"log/slog"
	"sync"

	"github.com/modemd/internal/logging"
)

// Bearer is one packet data context owned by a BearerList.
type Bearer struct {
	id     string
	handle BearerHandle
	props  BearerProperties
	log    *slog.Logger

	mu        sync.Mutex
	status    BearerStatus
	allowed   bool
	forbidden ForbiddenReason

	// set by the owning list before the bearer is published
	onStatus   func(*Bearer, BearerStatus)
	onAllowed  func(*Bearer)
	canConnect func(*Bearer) error
}

func newBearer(id string, handle BearerHandle, props BearerProperties, log *slog.Logger) *Bearer {
	return &Bearer{
		id:        id,
		handle:    handle,
		props:     props,
		log:       log.With(logging.Bearer(id)),
		forbidden: ForbiddenUnregistered,
	}
}

// ID returns the bearer identifier, unique within its modem.
func (b *Bearer) ID() string { return b.id }

// Type returns the network family of the bearer.
func (b *Bearer) Type() BearerType { return b.handle.Type() }

// Properties returns the settings the bearer was created with.
func (b *Bearer) Properties() BearerProperties { return b.props }

// Handle returns the driver side of the bearer.
func (b *Bearer) Handle() BearerHandle { return b.handle }

// Status returns the connection status.
func (b *Bearer) Status() BearerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// ConnectionAllowed reports whether the bearer may connect, and if not, why.
func (b *Bearer) ConnectionAllowed() (bool, ForbiddenReason) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allowed, b.forbidden
}

// BearerInfo is a serializable view of a bearer.
type BearerInfo struct {
	ID              string           `json:"id"`
	Type            BearerType       `json:"type"`
	Status          BearerStatus     `json:"status"`
	Allowed         bool             `json:"connection_allowed"`
	ForbiddenReason ForbiddenReason  `json:"forbidden_reason"`
	Properties      BearerProperties `json:"properties"`
}

// Info returns a snapshot of the bearer.
func (b *Bearer) Info() BearerInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BearerInfo{
		ID:              b.id,
		Type:            b.handle.Type(),
		Status:          b.status,
		Allowed:         b.allowed,
		ForbiddenReason: b.forbidden,
		Properties:      b.props,
	}
}

// Connect brings the bearer up. It fails with WrongState while the owning
// modem is not ready for data and with Unauthorized while the connection is
// forbidden.
func (b *Bearer) Connect(ctx context.Context) error {
	b.mu.Lock()
	gate := b.canConnect
	b.mu.Unlock()
	if gate != nil {
		if err := gate(b); err != nil {
			return err
		}
	}

	b.mu.Lock()
	if !b.allowed {
		reason := b.forbidden
		b.mu.Unlock()
		return Errorf(KindUnauthorized, "bearer %s is not allowed to connect: %s", b.id, reason)
	}
	switch b.status {
	case BearerConnected:
		b.mu.Unlock()
		return nil
	case BearerConnecting, BearerDisconnecting:
		st := b.status
		b.mu.Unlock()
		return Errorf(KindWrongState, "bearer %s is %s", b.id, st)
	}
	cb := b.transitionLocked(BearerConnecting)
	b.mu.Unlock()
	if cb != nil {
		cb()
	}

	if err := b.handle.Connect(ctx); err != nil {
		b.setStatus(BearerDisconnected)
		b.log.Warn("connection attempt failed", logging.Err(err))
		return wrapDriver(err, "failed to connect bearer")
	}

	// Registration may have been lost while the attempt was in flight. The
	// bearer is already Disconnected then, but the driver context may have
	// come up after the forced disconnect.
	if allowed, reason := b.ConnectionAllowed(); !allowed && reason == ForbiddenUnregistered {
		b.dropHandle()
		b.setStatus(BearerDisconnected)
		b.log.Info("bearer force-disconnected after connecting")
		return Errorf(KindUnauthorized, "bearer %s lost network registration while connecting", b.id)
	}
	b.setStatus(BearerConnected)
	b.log.Info("bearer connected")
	return nil
}

// Disconnect tears the connection down gracefully.
func (b *Bearer) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	prev := b.status
	switch prev {
	case BearerDisconnected:
		b.mu.Unlock()
		return nil
	case BearerDisconnecting, BearerConnecting:
		b.mu.Unlock()
		return Errorf(KindWrongState, "bearer %s is %s", b.id, prev)
	}
	cb := b.transitionLocked(BearerDisconnecting)
	b.mu.Unlock()
	if cb != nil {
		cb()
	}

	if err := b.handle.Disconnect(ctx); err != nil {
		b.setStatus(prev)
		return wrapDriver(err, "failed to disconnect bearer")
	}
	b.setStatus(BearerDisconnected)
	b.log.Info("bearer disconnected")
	return nil
}

// forceDisconnect drops the connection immediately.
func (b *Bearer) forceDisconnect() {
	if b.Status() == BearerDisconnected {
		return
	}
	b.dropHandle()
	b.log.Info("bearer force-disconnected")
	b.setStatus(BearerDisconnected)
}

// dropHandle tears the driver connection down regardless of status.
func (b *Bearer) dropHandle() {
	if fd, ok := b.handle.(ForceDisconnecter); ok {
		fd.ForceDisconnect()
	}
}

func (b *Bearer) setStatus(st BearerStatus) {
	b.mu.Lock()
	cb := b.transitionLocked(st)
	b.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// transitionLocked moves to st with b.mu held and returns the status
// notification, which the caller runs after unlocking.
func (b *Bearer) transitionLocked(st BearerStatus) func() {
	if b.status == st {
		return nil
	}
	b.status = st
	if cb := b.onStatus; cb != nil {
		return func() { cb(b, st) }
	}
	return nil
}

// setAllowed marks the bearer connection-allowed.
func (b *Bearer) setAllowed() {
	b.mu.Lock()
	changed := !b.allowed
	b.allowed = true
	b.forbidden = ForbiddenNone
	cb := b.onAllowed
	b.mu.Unlock()

	if changed && cb != nil {
		cb(b)
	}
}

// setForbidden marks the bearer connection-forbidden and reports whether
// it was connected or connecting at that moment.
func (b *Bearer) setForbidden(reason ForbiddenReason) (active bool) {
	b.mu.Lock()
	changed := b.allowed || b.forbidden != reason
	b.allowed = false
	b.forbidden = reason
	active = b.status == BearerConnected || b.status == BearerConnecting
	cb := b.onAllowed
	b.mu.Unlock()

	if changed && cb != nil {
		cb(b)
	}
	return active
}
