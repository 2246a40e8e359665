package ps

import (
	"sort"
	"time"
)

type Timer struct {
	Deadline time.Time
	fn       func()
	dead     bool
}

// Timers is the kernel timeout list. Expired timers fire from Check, which
// the scheduler calls between passes.
type Timers struct {
	Now  func() time.Time
	list []*Timer
}

func NewTimers() *Timers {
	return &Timers{Now: time.Now}
}

// Add schedules fn to run once d has elapsed.
func (ts *Timers) Add(d time.Duration, fn func()) *Timer {
	t := &Timer{Deadline: ts.Now().Add(d), fn: fn}
	i := sort.Search(len(ts.list), func(i int) bool { return ts.list[i].Deadline.After(t.Deadline) })
	ts.list = append(ts.list, nil)
	copy(ts.list[i+1:], ts.list[i:])
	ts.list[i] = t
	return t
}

func (ts *Timers) Cancel(t *Timer) {
	if t == nil || t.dead {
		return
	}
	t.dead = true
	for i, v := range ts.list {
		if v == t {
			ts.list = append(ts.list[:i], ts.list[i+1:]...)
			return
		}
	}
}

func (ts *Timers) Len() int {
	return len(ts.list)
}

// Check fires expired timers. It returns the time until the next deadline
// and whether any timers are left.
func (ts *Timers) Check() (time.Duration, bool) {
	for len(ts.list) > 0 {
		t := ts.list[0]
		now := ts.Now()
		if t.Deadline.After(now) {
			return t.Deadline.Sub(now), true
		}
		ts.list = ts.list[1:]
		t.dead = true
		t.fn()
	}
	return 0, false
}
