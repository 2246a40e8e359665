package ob

// Waiter is a blocked thread. Satisfy is called synchronously when an
// object it waits on becomes signalled. It returns true if the wait
// completed, in which case the waiter has already acquired the object.
type Waiter interface {
	Satisfy(o Waitable) bool
}

type Waitable interface {
	Object
	Signaled() bool
	// Acquire consumes the signal of an auto-reset object.
	Acquire()
	AddWaiter(w Waiter)
	RemoveWaiter(w Waiter)
}

// Sync is embedded by waitable objects and tracks their waiters.
type Sync struct {
	Header
	waiters []Waiter
}

func (s *Sync) AddWaiter(w Waiter) {
	s.waiters = append(s.waiters, w)
}

func (s *Sync) RemoveWaiter(w Waiter) {
	for i, v := range s.waiters {
		if v == w {
			s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
			return
		}
	}
}

func (s *Sync) Waiters() int {
	return len(s.waiters)
}

func (s *Sync) Acquire() {}

// Signal offers o to its waiters in arrival order until it is no longer
// signalled.
func (s *Sync) Signal(o Waitable) {
	waiters := append([]Waiter(nil), s.waiters...)
	for _, w := range waiters {
		if !o.Signaled() {
			break
		}
		w.Satisfy(o)
	}
}

// EVENT_TYPE
const (
	NotificationEvent    = 0
	SynchronizationEvent = 1
)

type Event struct {
	Sync
	// notification events stay signalled until reset
	Notification bool
	state        bool
}

func NewEvent(typ int, state bool) *Event {
	return &Event{Notification: typ == NotificationEvent, state: state}
}

func (e *Event) TypeName() string { return "Event" }

func (e *Event) Signaled() bool {
	return e.state
}

func (e *Event) Acquire() {
	if !e.Notification {
		e.state = false
	}
}

// Set signals the event and returns the previous state.
func (e *Event) Set() bool {
	prev := e.state
	e.state = true
	e.Signal(e)
	return prev
}

func (e *Event) Reset() bool {
	prev := e.state
	e.state = false
	return prev
}

// Pulse releases the current waiters and leaves the event reset.
func (e *Event) Pulse() bool {
	prev := e.state
	e.state = true
	e.Signal(e)
	e.state = false
	return prev
}
