package ps

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/fiber"
	"github.com/lunixbochs/ntcorn/go/kernel/mm"
	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/models"
)

// StackSize is the committed stack of the initial thread.
const StackSize = 0x100 * mm.PAGE_SIZE

// Manager owns the live processes of a session and what is needed to
// create more of them.
type Manager struct {
	Config     *models.Config
	Sched      *fiber.Scheduler
	Timers     *Timers
	Namespace  *ob.Namespace
	Dispatcher Dispatcher
	// NewMachine creates the CPU backend for a new process. A nil
	// NewMachine leaves processes without one.
	NewMachine func(p *Process) (Machine, error)

	// system support image and optional kernel stub page, mapped into
	// every process
	Ntdll *mm.Section
	Stubs *mm.Section
	// offset of the callback dispatcher in Stubs, or -1
	StubCallbackOffset int

	// called for each process as it terminates, before its handles close
	OnProcessExit []func(p *Process)

	Processes []*Process
	nextID    uint32
}

func NewManager(config *models.Config, sched *fiber.Scheduler, ns *ob.Namespace) *Manager {
	return &Manager{
		Config:             config.Init(),
		Sched:              sched,
		Timers:             NewTimers(),
		Namespace:          ns,
		StubCallbackOffset: -1,
		nextID:             4,
	}
}

// client ids are multiples of four, shared by processes and threads
func (m *Manager) allocID() uint32 {
	m.nextID += 4
	return m.nextID
}

func (m *Manager) remove(p *Process) {
	for i, v := range m.Processes {
		if v == p {
			m.Processes = append(m.Processes[:i], m.Processes[i+1:]...)
			ob.Release(p)
			return
		}
	}
}

// Current returns the thread running on the current fiber, if any.
func (m *Manager) Current() *Thread {
	if t, ok := m.Sched.Current().Value.(*Thread); ok {
		return t
	}
	return nil
}

// CreateProcess creates a process running image. The process is
// registered with the manager and returned with a reference owned by the
// caller. Nothing stays registered on failure.
func (m *Manager) CreateProcess(image *mm.Section) (*Process, error) {
	if image.Image == nil {
		return nil, errors.WithStack(models.STATUS_SECTION_NOT_IMAGE)
	}
	p := &Process{
		ID:      m.allocID(),
		Manager: m,
		Space:   mm.NewAddressSpace(),
		Handles: ob.NewHandleTable(),
	}
	if m.NewMachine != nil {
		machine, err := m.NewMachine(p)
		if err != nil {
			ob.Release(p)
			return nil, err
		}
		p.Machine = machine
	}
	if err := p.mapSystem(m, image); err != nil {
		ob.Release(p)
		return nil, err
	}
	m.Processes = append(m.Processes, p)
	ob.AddRef(p)
	m.Config.Debugf("process %04x created, image at %#x\n", p.ID, p.Image.Base)
	return p, nil
}

// OpenFile opens a file through the object namespace.
func (m *Manager) OpenFile(path string) (*ob.File, error) {
	o, err := m.Namespace.Lookup(path, nil, false)
	if err != nil {
		return nil, err
	}
	f, ok := o.(*ob.File)
	if !ok {
		ob.Release(o)
		return nil, errors.Wrapf(models.STATUS_OBJECT_TYPE_MISMATCH, "%s is a %s", path, ob.TypeName(o))
	}
	return f, nil
}

// CreateInitialProcess starts path as the first process: it loads the
// image, writes the process parameters, commits a stack and creates the
// first thread with the PEB as the entry point's argument.
func (m *Manager) CreateInitialProcess(path string, cmdline string) (*Thread, error) {
	file, err := m.OpenFile(path)
	if err != nil {
		return nil, err
	}
	section, err := mm.NewFileImageSection(file)
	ob.Release(file)
	if err != nil {
		return nil, err
	}
	p, err := m.CreateProcess(section)
	ob.Release(section)
	if err != nil {
		return nil, err
	}
	// the caller's reference; the manager and the thread hold their own
	defer ob.Release(p)
	fail := func(err error) (*Thread, error) {
		p.Terminate(models.StatusOf(err))
		return nil, err
	}

	if cmdline == "" {
		cmdline = path
	}
	env := []string{`SystemRoot=C:\WINNT`, `Path=C:\WINNT\system32`}
	if err := p.SetProcessParameters(path, cmdline, env); err != nil {
		return fail(err)
	}
	stack, _, err := p.Space.Allocate(0, StackSize, mm.MEM_COMMIT|mm.MEM_TOP_DOWN, mm.PAGE_READWRITE)
	if err != nil {
		return fail(err)
	}
	initTeb := InitialTeb{
		StackReserved: uint32(stack),
		StackCommit:   uint32(stack + StackSize),
	}
	initTeb.StackCommitMax = initTeb.StackCommit - mm.PAGE_SIZE

	ctx := InitContext()
	ctx.Eip = p.Entry()
	ctx.Esp = uint32(stack + StackSize - 8)
	m.Config.Debugf("entry point = %08x\n", ctx.Eip)
	if err := p.Space.WriteUint32(uint64(ctx.Esp+4), uint32(p.PebBase)); err != nil {
		return fail(err)
	}
	t, err := m.CreateThread(p, &ctx, &initTeb, false)
	if err != nil {
		return fail(err)
	}
	return t, nil
}

// Leaks writes the end of run report of processes and threads still
// alive. It reports whether anything was left.
func (m *Manager) Leaks(w io.Writer) bool {
	var procs, threads int
	for _, p := range m.Processes {
		if p.terminated {
			continue
		}
		procs++
		fmt.Fprintf(w, "process %04x\n", p.ID)
		for _, t := range p.LiveThreads() {
			threads++
			fmt.Fprintf(w, "\tthread %04x\n", t.ID)
		}
	}
	if procs == 0 {
		return false
	}
	fmt.Fprintf(w, "%d threads %d processes left\n", threads, procs)
	return true
}

// Close terminates what is left and releases every process.
func (m *Manager) Close() {
	for _, p := range append([]*Process(nil), m.Processes...) {
		p.Terminate(models.STATUS_UNSUCCESSFUL)
	}
}
