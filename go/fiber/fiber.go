// Package fiber multiplexes cooperative execution contexts onto goroutines
// so that exactly one of them runs at any instant.
//
// Control moves only at explicit points: Yield hands the baton to the next
// runnable fiber in ring order, and a fiber whose function returns passes it
// on. Kernel data touched between those points needs no locking.
package fiber

import (
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("fiber scheduler closed")

// Panic carries a panic raised inside a fiber back to the main fiber, where
// it is re-raised so the top level can recover it.
type Panic struct {
	Value interface{}
	Stack []byte
}

func (p *Panic) Error() string {
	return fmt.Sprintf("panic in fiber: %v", p.Value)
}

type Fiber struct {
	sched    *Scheduler
	id       int
	fn       func()
	wake     chan struct{}
	runnable bool
	done     bool
	started  bool

	// Value is free for the owner (the kernel stores its thread here).
	Value interface{}
}

func (f *Fiber) String() string {
	return fmt.Sprintf("fiber %d", f.id)
}

func (f *Fiber) Done() bool {
	return f.done
}

type Scheduler struct {
	// ring of all live fibers, the main fiber first
	ring    []*Fiber
	current *Fiber
	main    *Fiber
	nextID  int
	closed  bool
	fault   *Panic
}

// NewScheduler turns the calling goroutine into the main fiber.
func NewScheduler() *Scheduler {
	s := &Scheduler{}
	s.main = &Fiber{sched: s, wake: make(chan struct{}, 1), runnable: true, started: true}
	s.ring = []*Fiber{s.main}
	s.current = s.main
	s.nextID = 1
	return s
}

func (s *Scheduler) Current() *Fiber {
	return s.current
}

func (s *Scheduler) Main() *Fiber {
	return s.main
}

// Spawn creates a runnable fiber. It first runs when another fiber yields.
func (s *Scheduler) Spawn(fn func()) *Fiber {
	f := &Fiber{
		sched:    s,
		id:       s.nextID,
		fn:       fn,
		wake:     make(chan struct{}, 1),
		runnable: true,
	}
	s.nextID++
	s.ring = append(s.ring, f)
	return f
}

// Runnable counts fibers that Yield could switch to, including the caller.
func (s *Scheduler) Runnable() int {
	n := 0
	for _, f := range s.ring {
		if f.runnable {
			n++
		}
	}
	return n
}

// LastFiber reports whether the current fiber is the only runnable one.
func (s *Scheduler) LastFiber() bool {
	return s.Runnable() <= 1
}

func (s *Scheduler) index(f *Fiber) int {
	for i, v := range s.ring {
		if v == f {
			return i
		}
	}
	return -1
}

// next finds the runnable fiber after cur in ring order, or nil.
func (s *Scheduler) next(cur *Fiber) *Fiber {
	n := len(s.ring)
	start := s.index(cur)
	for i := 1; i <= n; i++ {
		f := s.ring[(start+i+n)%n]
		if f != cur && f.runnable {
			return f
		}
	}
	return nil
}

func (s *Scheduler) remove(f *Fiber) {
	if i := s.index(f); i >= 0 {
		s.ring = append(s.ring[:i], s.ring[i+1:]...)
	}
}

// switchTo hands the baton to f. The caller must park itself afterwards.
func (s *Scheduler) switchTo(f *Fiber) {
	s.current = f
	if !f.started {
		f.started = true
		go f.run()
		return
	}
	f.wake <- struct{}{}
}

func (f *Fiber) run() {
	defer f.exit()
	defer func() {
		if r := recover(); r != nil && r != ErrClosed {
			f.sched.fault = &Panic{Value: r, Stack: debug.Stack()}
		}
	}()
	f.fn()
}

func (f *Fiber) exit() {
	s := f.sched
	f.done = true
	f.runnable = false
	next := s.next(f)
	s.remove(f)
	if next == nil || s.closed || s.fault != nil {
		next = s.main
	}
	s.switchTo(next)
}

// park blocks the calling goroutine until its fiber is resumed. Closing the
// scheduler unwinds parked fibers with a panic caught in run.
func (f *Fiber) park() {
	<-f.wake
	s := f.sched
	if f == s.main {
		if fault := s.fault; fault != nil {
			s.fault = nil
			panic(fault)
		}
	} else if s.closed {
		panic(ErrClosed)
	}
}

// Yield runs other runnable fibers and returns when the caller is resumed.
// A fiber that has stopped itself stays parked until Start.
func (s *Scheduler) Yield() {
	cur := s.current
	next := s.next(cur)
	if next == nil {
		if cur.runnable || cur == s.main {
			return
		}
		next = s.main
	}
	s.switchTo(next)
	cur.park()
}

// Stop removes f from the runnable set. A fiber stopping itself must call
// Yield to actually give up control.
func (f *Fiber) Stop() {
	f.runnable = false
}

// Start makes f runnable again.
func (f *Fiber) Start() {
	if !f.done {
		f.runnable = true
	}
}

func (f *Fiber) Runnable() bool {
	return f.runnable
}

// Close releases fibers that never finished. It must be called from the
// main fiber once scheduling is over.
func (s *Scheduler) Close() {
	if s.current != s.main {
		panic("fiber: Close called off the main fiber")
	}
	s.closed = true
	for _, f := range append([]*Fiber(nil), s.ring...) {
		if f == s.main {
			continue
		}
		if !f.started {
			s.remove(f)
			f.done = true
			continue
		}
		// the fiber unwinds through run's deferred exit, which hands the
		// baton back to main
		s.current = f
		f.wake <- struct{}{}
		s.main.park()
	}
}
