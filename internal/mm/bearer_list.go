package mm

import (
	"strconv"
	"sync"
)

// BearerList is the bounded collection of bearers owned by a modem. The
// count never exceeds MaxCount. MaxActiveCount is reported but not enforced
// here.
type BearerList struct {
	modemID string

	mu        sync.Mutex
	bearers   []*Bearer
	maxCount  int
	maxActive int
	nextIndex int

	onStatus   func(*Bearer, BearerStatus)
	onAllowed  func(*Bearer)
	canConnect func(*Bearer) error
}

func newBearerList(modemID string, maxCount, maxActive int) *BearerList {
	if maxCount <= 0 {
		maxCount = 1
	}
	if maxActive <= 0 || maxActive > maxCount {
		maxActive = maxCount
	}
	return &BearerList{
		modemID:   modemID,
		maxCount:  maxCount,
		maxActive: maxActive,
	}
}

// MaxCount returns the maximum number of bearers.
func (l *BearerList) MaxCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxCount
}

// MaxActiveCount returns the maximum number of simultaneously connected
// bearers the hardware supports.
func (l *BearerList) MaxActiveCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxActive
}

// Count returns the number of bearers in the list.
func (l *BearerList) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.bearers)
}

// List returns the bearers in creation order.
func (l *BearerList) List() []*Bearer {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Bearer(nil), l.bearers...)
}

// Get looks a bearer up by id.
func (l *BearerList) Get(id string) (*Bearer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, b := range l.bearers {
		if b.id == id {
			return b, true
		}
	}
	return nil, false
}

// CountConnected returns how many bearers other than exclude are connected.
func (l *BearerList) CountConnected(exclude *Bearer) int {
	n := 0
	for _, b := range l.List() {
		if b != exclude && b.Status() == BearerConnected {
			n++
		}
	}
	return n
}

func (l *BearerList) newID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := strconv.Itoa(l.nextIndex)
	l.nextIndex++
	return id
}

// add inserts b, wiring the status observer and the connect gate. It fails with TooMany when the
// list is full.
func (l *BearerList) add(b *Bearer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.bearers) >= l.maxCount {
		return Errorf(KindTooMany, "cannot add new bearer: already reached maximum (%d)", l.maxCount)
	}
	b.mu.Lock()
	b.onStatus = l.onStatus
	b.onAllowed = l.onAllowed
	b.canConnect = l.canConnect
	b.mu.Unlock()
	l.bearers = append(l.bearers, b)
	return nil
}

// remove drops b from the list and detaches its observers.
func (l *BearerList) remove(b *Bearer) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, cur := range l.bearers {
		if cur == b {
			l.bearers = append(l.bearers[:i], l.bearers[i+1:]...)
			b.mu.Lock()
			b.onStatus = nil
			b.onAllowed = nil
			b.canConnect = nil
			b.mu.Unlock()
			return true
		}
	}
	return false
}

// forceDeleteAll force-disconnects and removes every bearer.
func (l *BearerList) forceDeleteAll() []*Bearer {
	removed := l.List()
	for _, b := range removed {
		b.forceDisconnect()
		l.remove(b)
	}
	return removed
}

// AllowConnections marks every bearer of type typ connection-allowed.
// When roaming is set, bearers that do not allow roaming are forbidden with
// ForbiddenRoaming instead.
func (l *BearerList) AllowConnections(typ BearerType, roaming bool) {
	for _, b := range l.List() {
		if b.Type() != typ {
			continue
		}
		if roaming && !b.props.AllowRoaming {
			b.setForbidden(ForbiddenRoaming)
			continue
		}
		b.setAllowed()
	}
}

// ForbidConnections marks every bearer of type typ connection-forbidden.
// Bearers that are up when registration is lost are force-disconnected;
// this is the only forced disconnect path.
func (l *BearerList) ForbidConnections(typ BearerType, reason ForbiddenReason) {
	for _, b := range l.List() {
		if b.Type() != typ {
			continue
		}
		active := b.setForbidden(reason)
		if active && reason == ForbiddenUnregistered {
			b.forceDisconnect()
		}
	}
}
