package ps

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/fiber"
	"github.com/lunixbochs/ntcorn/go/kernel/mm"
	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/models"
)

type Thread struct {
	ob.Sync
	ID      uint32
	Process *Process
	Ctx     Context

	Teb     *mm.Section
	TebBase uint64

	ExitStatus models.Status
	// message queue, created on first window creation
	Queue *MessageQueue

	fiber      *fiber.Fiber
	terminated bool
	callbacks  []*callbackFrame
	wait       *waitBlock
}

type callbackFrame struct {
	done   bool
	status models.Status
	data   []byte
}

func (t *Thread) TypeName() string { return "Thread" }

func (t *Thread) Signaled() bool {
	return t.terminated
}

func (t *Thread) Terminated() bool {
	return t.terminated
}

func (t *Thread) Fiber() *fiber.Fiber {
	return t.fiber
}

// CreateThread creates a thread in p starting from ctx, with its stack
// described by initTeb. A suspended thread does not run until Resume.
func (m *Manager) CreateThread(p *Process, ctx *Context, initTeb *InitialTeb, suspended bool) (*Thread, error) {
	if p.terminated {
		return nil, errors.WithStack(models.STATUS_PROCESS_IS_TERMINATING)
	}
	teb, err := mm.NewSection(mm.PAGE_SIZE, mm.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	view, err := p.Space.MapSection(teb, 0, 0, 0, mm.PAGE_READWRITE)
	if err != nil {
		ob.Release(teb)
		return nil, err
	}
	t := &Thread{
		ID:      m.allocID(),
		Process: p,
		Ctx:     *ctx,
		Teb:     teb,
		TebBase: view.Base,
	}
	hdr := TebHeader{
		ExceptionList: EXCEPTION_CHAIN_END,
		StackBase:     initTeb.StackCommit,
		StackLimit:    initTeb.StackReserved,
		Self:          uint32(t.TebBase),
		UniqueProcess: p.ID,
		UniqueThread:  t.ID,
		Peb:           uint32(p.PebBase),
	}
	err = models.StrucAt(p.Space, t.TebBase).Pack(&hdr)
	if err == nil {
		err = p.Space.WriteUint32(t.TebBase+TEB_DEALLOCATION_STACK, initTeb.StackReserved)
	}
	if err != nil {
		p.Space.Unmap(t.TebBase)
		ob.Release(teb)
		return nil, err
	}

	ob.AddRef(p)
	p.Threads = append(p.Threads, t)
	// the fiber's reference, dropped when it exits
	ob.AddRef(t)
	t.fiber = m.Sched.Spawn(t.run)
	t.fiber.Value = t
	if suspended {
		t.fiber.Stop()
	}
	m.Config.Debugf("thread %04x created in process %04x, teb at %#x\n", t.ID, p.ID, t.TebBase)
	return t, nil
}

func (t *Thread) run() {
	defer t.exit()
	for !t.terminated {
		t.step()
	}
}

// step runs guest code up to the next trap and services it.
func (t *Thread) step() {
	p := t.Process
	if p.Machine == nil {
		t.Terminate(models.STATUS_NOT_IMPLEMENTED)
		return
	}
	trap, err := p.Machine.Run(t)
	if err != nil {
		p.Manager.Config.Printf("thread %04x: %v\n", t.ID, err)
		t.Terminate(models.StatusOf(err))
		return
	}
	p.Manager.Dispatcher.Dispatch(t, trap)
}

func (t *Thread) exit() {
	p := t.Process
	p.removeThread(t)
	if !p.terminated {
		p.Space.Unmap(t.TebBase)
	}
	ob.Release(t)
}

// Resume lets a suspended thread run.
func (t *Thread) Resume() {
	if t.wait == nil {
		t.fiber.Start()
	}
}

// Terminate marks t terminated, wakes it if it is blocked so its fiber
// unwinds, and signals the thread object. The last thread terminating
// terminates the process.
func (t *Thread) Terminate(status models.Status) {
	if t.terminated {
		return
	}
	t.terminated = true
	t.ExitStatus = status
	if t.wait != nil {
		t.wait.finish(models.STATUS_THREAD_IS_TERMINATING)
	}
	t.fiber.Start()
	t.Signal(t)
	p := t.Process
	if len(p.LiveThreads()) == 0 {
		p.Terminate(status)
	}
}

func (t *Thread) Destroy() {
	ob.Release(t.Teb)
	ob.Release(t.Process)
}

// Push reserves n bytes on the guest stack and returns their address.
func (t *Thread) Push(n uint32) uint32 {
	t.Ctx.Esp -= (n + 3) &^ 3
	return t.Ctx.Esp
}

func (t *Thread) Pop(n uint32) {
	t.Ctx.Esp += (n + 3) &^ 3
}

// PushData copies p onto the guest stack.
func (t *Thread) PushData(p []byte) (uint32, error) {
	addr := t.Push(uint32(len(p)))
	if err := t.Process.Space.CopyToUser(uint64(addr), p); err != nil {
		t.Pop(uint32(len(p)))
		return 0, err
	}
	return addr, nil
}

// UserCallbackAt calls user mode callback index with an argument block
// already on the guest stack at addr. It runs the guest nested on the
// current fiber until NtCallbackReturn and returns what the callback
// returned. The context is restored unless the thread was terminated,
// in which case the stack is left alone.
func (t *Thread) UserCallbackAt(index uint32, addr, size uint32) (models.Status, []byte, error) {
	if t.terminated {
		return 0, nil, errors.WithStack(models.STATUS_THREAD_IS_TERMINATING)
	}
	entry, err := t.Process.CallbackDispatcher()
	if err != nil {
		return 0, nil, err
	}
	saved := t.Ctx
	args := make([]byte, 16)
	// return address, ApiNumber, InputBuffer, InputLength
	binary.LittleEndian.PutUint32(args[4:], index)
	binary.LittleEndian.PutUint32(args[8:], addr)
	binary.LittleEndian.PutUint32(args[12:], size)
	if _, err := t.PushData(args); err != nil {
		t.Ctx = saved
		return 0, nil, err
	}
	t.Ctx.Eip = entry

	frame := &callbackFrame{}
	t.callbacks = append(t.callbacks, frame)
	for !frame.done && !t.terminated {
		t.step()
	}
	t.callbacks = t.callbacks[:len(t.callbacks)-1]
	if t.terminated {
		return 0, nil, errors.WithStack(models.STATUS_THREAD_IS_TERMINATING)
	}
	t.Ctx = saved
	return frame.status, frame.data, nil
}

// UserCallback pushes payload and calls callback index with it.
func (t *Thread) UserCallback(index uint32, payload []byte) (models.Status, []byte, error) {
	if t.terminated {
		return 0, nil, errors.WithStack(models.STATUS_THREAD_IS_TERMINATING)
	}
	addr, err := t.PushData(payload)
	if err != nil {
		return 0, nil, err
	}
	status, data, err := t.UserCallbackAt(index, addr, uint32(len(payload)))
	if t.terminated {
		return status, data, err
	}
	t.Pop(uint32(len(payload)))
	return status, data, err
}

// CallbackReturn completes the innermost user callback.
func (t *Thread) CallbackReturn(status models.Status, data []byte) error {
	if len(t.callbacks) == 0 {
		return errors.WithStack(models.STATUS_NO_CALLBACK_ACTIVE)
	}
	frame := t.callbacks[len(t.callbacks)-1]
	frame.done = true
	frame.status = status
	frame.data = data
	return nil
}

// InCallback reports the depth of nested user callbacks.
func (t *Thread) InCallback() int {
	return len(t.callbacks)
}
