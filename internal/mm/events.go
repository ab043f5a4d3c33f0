package mm

import (
	"sync"
	"time"
)

// EventType identifies what changed on a modem.
type EventType int

const (
	EventStateChanged EventType = iota
	EventLockChanged
	EventRegistrationChanged
	EventAccessTechChanged
	EventSignalQualityChanged
	EventOperatorChanged
	EventBearerAdded
	EventBearerRemoved
	EventBearerStatusChanged
	EventBearerAllowedChanged
)

var eventTypeNames = []string{
	"state-changed",
	"lock-changed",
	"registration-changed",
	"access-tech-changed",
	"signal-quality-changed",
	"operator-changed",
	"bearer-added",
	"bearer-removed",
	"bearer-status-changed",
	"bearer-allowed-changed",
}

func (t EventType) String() string {
	if t >= 0 && int(t) < len(eventTypeNames) {
		return eventTypeNames[t]
	}
	return "unknown"
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Event describes a single change. Only the fields relevant to Type are set;
// the state fields are always encoded since their zero value is meaningful.
type Event struct {
	Type    EventType `json:"type"`
	ModemID string    `json:"modem"`
	Time    time.Time `json:"time"`

	OldState State             `json:"old_state"`
	NewState State             `json:"new_state"`
	Reason   StateChangeReason `json:"reason,omitempty"`

	Lock Lock `json:"lock,omitempty"`

	OldRegistration RegistrationState `json:"old_registration"`
	Registration    RegistrationState `json:"registration"`
	AccessTech      AccessTechnology  `json:"access_tech,omitempty"`

	Signal *SignalQuality `json:"signal,omitempty"`

	OperatorCode string `json:"operator_code,omitempty"`
	OperatorName string `json:"operator_name,omitempty"`

	Bearer          string          `json:"bearer,omitempty"`
	BearerStatus    BearerStatus    `json:"bearer_status"`
	Allowed         bool            `json:"allowed,omitempty"`
	ForbiddenReason ForbiddenReason `json:"forbidden_reason,omitempty"`
}

// hub fans events out to subscribers. Handlers run on the goroutine that
// produced the event, after the modem has released its locks.
type hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

func newHub() *hub {
	return &hub{subs: make(map[int]func(Event))}
}

func (h *hub) subscribe(fn func(Event)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
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

func (h *hub) publish(ev Event) {
	h.mu.RLock()
	handlers := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()

	for _, fn := range handlers {
		fn(ev)
	}
}
