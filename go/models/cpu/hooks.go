package cpu

import (
	"github.com/pkg/errors"
)

type Hook interface{}

// MemCb observes a guest access. val is the written value for writes.
type MemCb func(access int, addr uint64, size int, val int64)

// MemFaultCb is called on a faulting access; returning true marks the fault
// as handled.
type MemFaultCb func(access int, addr uint64, size int, val int64) bool

type hookInfo struct {
	htype int
	start uint64
	end   uint64
}

func (h *hookInfo) Type() int {
	return h.htype
}

// an inverted range (start > end) matches every address
func (h *hookInfo) Contains(addr uint64) bool {
	return h.start > h.end || addr >= h.start && addr <= h.end
}

type hinfo interface {
	Type() int
}

type memHook struct {
	hookInfo
	cb MemCb
}

type memFaultHook struct {
	hookInfo
	cb MemFaultCb
}

// Hooks dispatches guest memory accesses to registered observers. The
// address space manager installs access tracers here.
type Hooks struct {
	mem      []*memHook
	memFault []*memFaultHook
}

// NewHooks creates a hook set, optionally attaching it to a *Mem instance.
func NewHooks(mem *Mem) *Hooks {
	h := &Hooks{}
	if mem != nil {
		mem.hooks = h
	}
	return h
}

func (h *Hooks) HookAdd(htype int, cb interface{}, start uint64, end uint64) (Hook, error) {
	info := hookInfo{htype, start, end}
	switch htype {
	case HOOK_MEM_READ, HOOK_MEM_WRITE, HOOK_MEM_READ | HOOK_MEM_WRITE:
		fn, ok := cb.(MemCb)
		if !ok {
			fn, ok = cb.(func(int, uint64, int, int64))
		}
		if !ok {
			return nil, errors.Errorf("bad callback type %T for memory hook", cb)
		}
		hh := &memHook{info, fn}
		h.mem = append(h.mem, hh)
		return hh, nil

	case HOOK_MEM_ERR:
		fn, ok := cb.(MemFaultCb)
		if !ok {
			fn, ok = cb.(func(int, uint64, int, int64) bool)
		}
		if !ok {
			return nil, errors.Errorf("bad callback type %T for fault hook", cb)
		}
		hh := &memFaultHook{info, fn}
		h.memFault = append(h.memFault, hh)
		return hh, nil
	}
	return nil, errors.Errorf("unknown hook type %d", htype)
}

func (h *Hooks) HookDel(hh Hook) error {
	info, ok := hh.(hinfo)
	if !ok {
		return errors.Errorf("not a hook: %T", hh)
	}
	switch info.Type() {
	case HOOK_MEM_ERR:
		var tmp []*memFaultHook
		for _, v := range h.memFault {
			if v != hh {
				tmp = append(tmp, v)
			}
		}
		h.memFault = tmp
	default:
		var tmp []*memHook
		for _, v := range h.mem {
			if v != hh {
				tmp = append(tmp, v)
			}
		}
		h.mem = tmp
	}
	return nil
}

func (h *Hooks) OnMem(access int, addr uint64, size int, val int64) {
	for _, v := range h.mem {
		if !v.Contains(addr) {
			continue
		}
		if access == MEM_WRITE && v.htype&HOOK_MEM_WRITE == 0 {
			continue
		}
		if access != MEM_WRITE && v.htype&HOOK_MEM_READ == 0 {
			continue
		}
		v.cb(access, addr, size, val)
	}
}

func (h *Hooks) OnFault(access int, addr uint64, size int, val int64) bool {
	for _, v := range h.memFault {
		if v.Contains(addr) && v.cb(access, addr, size, val) {
			return true
		}
	}
	return false
}
