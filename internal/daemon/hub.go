package daemon

import (
	"sort"
	"sync"

	"github.com/modemd/internal/mm"
)

// Hub is the registry of live modems. Subscribers see the events of
// every modem in the hub, including modems added after they subscribed.
type Hub struct {
	mu      sync.RWMutex
	modems  map[string]*hubEntry
	subs    map[uint64]func(mm.Event)
	nextSub uint64
}

type hubEntry struct {
	modem  *mm.Modem
	cancel func()
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		modems: make(map[string]*hubEntry),
		subs:   make(map[uint64]func(mm.Event)),
	}
}

// Add registers m. A modem with the same id replaces the previous one.
func (h *Hub) Add(m *mm.Modem) {
	entry := &hubEntry{modem: m}
	entry.cancel = m.Subscribe(h.dispatch)

	h.mu.Lock()
	old := h.modems[m.ID()]
	h.modems[m.ID()] = entry
	h.mu.Unlock()

	if old != nil {
		old.cancel()
	}
}

// Remove unregisters the modem with id and returns it.
func (h *Hub) Remove(id string) *mm.Modem {
	h.mu.Lock()
	entry, ok := h.modems[id]
	delete(h.modems, id)
	h.mu.Unlock()
	if !ok {
		return nil
	}
	entry.cancel()
	return entry.modem
}

// List returns the modems ordered by id.
func (h *Hub) List() []*mm.Modem {
	h.mu.RLock()
	out := make([]*mm.Modem, 0, len(h.modems))
	for _, e := range h.modems {
		out = append(out, e.modem)
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (h *Hub) Get(id string) (*mm.Modem, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.modems[id]
	if !ok {
		return nil, false
	}
	return e.modem, true
}

func (h *Hub) Subscribe(fn func(mm.Event)) func() {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// dispatch runs on the emitting modem's goroutine.
func (h *Hub) dispatch(ev mm.Event) {
	h.mu.RLock()
	fns := make([]func(mm.Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}
