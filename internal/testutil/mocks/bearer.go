package mocks

import (
	"context"
	"sync"

	"github.com/modemd/internal/mm"
)

// BearerHandle is a scriptable driver-side bearer
type BearerHandle struct {
	mu sync.Mutex

	Kind          mm.BearerType
	Props         mm.BearerProperties
	ConnectErr    error
	DisconnectErr error

	// ConnectFunc overrides Connect when set
	ConnectFunc func(ctx context.Context) error

	ConnectCalls         int
	DisconnectCalls      int
	ForceDisconnectCalls int
}

func (b *BearerHandle) Type() mm.BearerType { return b.Kind }

func (b *BearerHandle) Connect(ctx context.Context) error {
	b.mu.Lock()
	b.ConnectCalls++
	fn, err := b.ConnectFunc, b.ConnectErr
	b.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return err
}

func (b *BearerHandle) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.DisconnectCalls++
	return b.DisconnectErr
}

func (b *BearerHandle) ForceDisconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ForceDisconnectCalls++
}

// Connects returns how many times Connect was called
func (b *BearerHandle) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ConnectCalls
}

// Forced returns how many times the bearer was force-disconnected
func (b *BearerHandle) Forced() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ForceDisconnectCalls
}

// BearerFactory implements bearer creation, listing and deletion
type BearerFactory struct {
	mu sync.Mutex

	Kind      mm.BearerType
	CreateErr error
	DeleteErr error
	Existing  []mm.BearerHandle

	Created []*BearerHandle
	Deleted []mm.BearerHandle
}

func (f *BearerFactory) CreateBearer(ctx context.Context, props mm.BearerProperties) (mm.BearerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	h := &BearerHandle{Kind: f.Kind, Props: props}
	f.Created = append(f.Created, h)
	return h, nil
}

func (f *BearerFactory) ListBearers(ctx context.Context) ([]mm.BearerHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mm.BearerHandle(nil), f.Existing...), nil
}

func (f *BearerFactory) DeleteBearer(ctx context.Context, b mm.BearerHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deleted = append(f.Deleted, b)
	return f.DeleteErr
}

// DeletedCount returns the number of driver-side deletions
func (f *BearerFactory) DeletedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Deleted)
}
