package mocks

import (
	"context"
	"sync"
	"time"
)

// Port is a scriptable mm.Port
type Port struct {
	mu sync.Mutex

	// Behavior configuration
	OpenErr  error
	FlashErr error
	CloseErr error

	// Call tracking
	OpenCalls    int
	FlashCalls   int
	CloseCalls   int
	LastFlashFor time.Duration

	open bool
}

// NewPort creates a closed port
func NewPort() *Port {
	return &Port{}
}

func (p *Port) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OpenCalls++
	if p.OpenErr != nil {
		return p.OpenErr
	}
	p.open = true
	return nil
}

func (p *Port) Flash(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FlashCalls++
	p.LastFlashFor = d
	return p.FlashErr
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CloseCalls++
	p.open = false
	return p.CloseErr
}

func (p *Port) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Counts returns open, flash and close call counts
func (p *Port) Counts() (open, flash, closed int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.OpenCalls, p.FlashCalls, p.CloseCalls
}
