package ps

import (
	"time"

	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/models"
)

// MAXIMUM_WAIT_OBJECTS
const MaxWaitObjects = 64

type waitBlock struct {
	t      *Thread
	objs   []ob.Waitable
	all    bool
	timer  *Timer
	done   bool
	result models.Status
}

// check acquires the objects if the wait can complete now.
func (w *waitBlock) check() (models.Status, bool) {
	if len(w.objs) == 0 {
		return 0, false
	}
	if w.all {
		for _, o := range w.objs {
			if !o.Signaled() {
				return 0, false
			}
		}
		for _, o := range w.objs {
			o.Acquire()
		}
		return models.STATUS_WAIT_0, true
	}
	for i, o := range w.objs {
		if o.Signaled() {
			o.Acquire()
			return models.STATUS_WAIT_0 + models.Status(i), true
		}
	}
	return 0, false
}

func (w *waitBlock) Satisfy(o ob.Waitable) bool {
	if w.done {
		return false
	}
	status, ok := w.check()
	if ok {
		w.finish(status)
	}
	return ok
}

func (w *waitBlock) finish(status models.Status) {
	if w.done {
		return
	}
	w.done = true
	w.result = status
	for _, o := range w.objs {
		o.RemoveWaiter(w)
	}
	w.t.Process.Manager.Timers.Cancel(w.timer)
	w.t.wait = nil
	w.t.fiber.Start()
}

// Wait blocks t until one (or, with all, every) object is signalled or the
// timeout passes. A nil timeout waits forever. It must run on t's fiber.
func (t *Thread) Wait(objs []ob.Waitable, all bool, timeout *time.Duration) models.Status {
	if t.terminated {
		return models.STATUS_THREAD_IS_TERMINATING
	}
	w := &waitBlock{t: t, objs: objs, all: all}
	if status, ok := w.check(); ok {
		return status
	}
	if timeout != nil && *timeout <= 0 {
		return models.STATUS_TIMEOUT
	}
	return t.block(w, timeout)
}

// Sleep blocks t for d.
func (t *Thread) Sleep(d time.Duration) models.Status {
	if t.terminated {
		return models.STATUS_THREAD_IS_TERMINATING
	}
	if d <= 0 {
		t.Process.Manager.Sched.Yield()
		return models.STATUS_SUCCESS
	}
	if status := t.block(&waitBlock{t: t}, &d); status != models.STATUS_TIMEOUT {
		return status
	}
	return models.STATUS_SUCCESS
}

func (t *Thread) block(w *waitBlock, timeout *time.Duration) models.Status {
	m := t.Process.Manager
	for _, o := range w.objs {
		o.AddWaiter(w)
	}
	if timeout != nil {
		w.timer = m.Timers.Add(*timeout, func() { w.finish(models.STATUS_TIMEOUT) })
	}
	t.wait = w
	for !w.done {
		t.fiber.Stop()
		m.Sched.Yield()
	}
	return w.result
}

// Waiting reports whether t is blocked in a wait.
func (t *Thread) Waiting() bool {
	return t.wait != nil
}
