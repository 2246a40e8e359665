package nt

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/lunixbochs/ntcorn/go/kernel/gdi"
)

// Schedule runs guest threads until no process is left. When every thread
// is blocked it sleeps in the sleeper until a timer or host event wakes one
// of them, and gives up if nothing ever can.
func (k *Kernel) Schedule() {
	for len(k.Procs.Processes) > 0 {
		k.Sleeper.CheckEvents(false)
		if !k.Sched.LastFiber() {
			k.Sched.Yield()
			continue
		}
		if k.Sleeper.CheckEvents(true) {
			k.Deadlock = true
			break
		}
	}
}

// CheckTimers fires expired timers.
func (k *Kernel) CheckTimers() (time.Duration, bool) {
	return k.Procs.Timers.Check()
}

func (k *Kernel) LastFiber() bool {
	return k.Sched.LastFiber()
}

func (k *Kernel) HasActiveWindow() bool {
	return k.Win32k.HasActiveWindow()
}

func (k *Kernel) SendInput(in gdi.Input) {
	k.Win32k.SendInput(in)
}

// defaultSleeper waits for timers only. Without a display there is no
// other event that can wake a blocked thread.
type defaultSleeper struct {
	host gdi.SleepHost
}

func (s *defaultSleeper) CheckEvents(wait bool) bool {
	d, ok := s.host.CheckTimers()
	if !ok && wait && s.host.LastFiber() {
		return true
	}
	if !wait {
		return false
	}
	timeout := 0
	if ok {
		timeout = int(gdi.Timeout(d))
	}
	if _, err := unix.Poll(nil, timeout); err != nil {
		if err == unix.EINTR {
			return false
		}
		panic(errors.Wrap(err, "poll() failed"))
	}
	return false
}
