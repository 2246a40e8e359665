// Package nt is a kernel session: it boots the object namespace and the
// system image, runs the scheduler and services the Nt, NtUser and NtGdi
// system calls of guest threads.
package nt

import (
	"os"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/fiber"
	"github.com/lunixbochs/ntcorn/go/kernel/common"
	"github.com/lunixbochs/ntcorn/go/kernel/gdi"
	"github.com/lunixbochs/ntcorn/go/kernel/mm"
	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/kernel/ps"
	"github.com/lunixbochs/ntcorn/go/kernel/win32k"
	"github.com/lunixbochs/ntcorn/go/models"
	"github.com/lunixbochs/ntcorn/go/models/trace"
)

type Assembler interface {
	Asm(asm string, addr uint64) ([]byte, error)
}

type Disassembler interface {
	Dis(mem []byte, addr uint64) ([]models.Ins, error)
}

type Kernel struct {
	common.KernelBase

	Config    *models.Config
	Sched     *fiber.Scheduler
	Namespace *ob.Namespace
	Procs     *ps.Manager
	Win32k    *win32k.Manager
	Backend   gdi.Backend
	Sleeper   gdi.Sleeper

	Asm Assembler
	Dis Disassembler
	// OnException runs before a faulting thread's process is terminated.
	// Returning true resumes the thread instead.
	OnException func(t *ps.Thread, trap ps.Trap) bool

	// XP is set when the system image enters the kernel through
	// KiIntSystemCall.
	XP bool
	// Deadlock is set when Schedule gave up with every thread blocked.
	Deadlock bool
	// Running is the ID of the thread that trapped last.
	Running uint32

	services map[uint32]string
	numbers  map[string]uint32
	trace    *trace.TraceWriter
	guiReady bool

	nextAccel uint32
}

// NewKernel creates an unbooted session. backend may be nil for sessions
// without a display.
func NewKernel(config *models.Config, backend gdi.Backend) *Kernel {
	config = config.Init()
	k := &Kernel{
		Config:    config,
		Sched:     fiber.NewScheduler(),
		Namespace: ob.NewNamespace(),
		Backend:   backend,
	}
	k.Procs = ps.NewManager(config, k.Sched, k.Namespace)
	k.Procs.Dispatcher = k
	k.Win32k = win32k.NewManager(config, k.Procs, backend)
	k.Sleeper = &defaultSleeper{k}
	k.selectServices(false)
	return k
}

var bootDirectories = []string{
	`\??`,
	`\Device`,
	`\Device\MailSlot`,
	`\Security`,
	`\BaseNamedObjects`,
	`\KernelObjects`,
	`\Windows`,
}

var bootEvents = []string{
	`\Security\LSA_AUTHENTICATION_INITIALIZED`,
	`\SeLsaInitEvent`,
	`\KernelObjects\CritSecOutOfMemoryEvent`,
}

// Boot creates the initial namespace and loads the system image.
func (k *Kernel) Boot() error {
	if err := k.InitNamespace(); err != nil {
		return err
	}
	return k.InitNtdll()
}

// InitNamespace creates the directories, links, events and the C: drive
// that smss and csrss expect to find.
func (k *Kernel) InitNamespace() error {
	ns := k.Namespace
	for _, dir := range bootDirectories {
		if _, err := ns.CreateDirectory(dir); err != nil {
			return errors.Wrapf(err, "CreateDirectory(%s) failed", dir)
		}
	}
	if _, err := ns.CreateSymlink(`\DosDevices`, `\??`); err != nil {
		return errors.Wrap(err, "CreateSymlink(DosDevices) failed")
	}
	for _, name := range bootEvents {
		ev := ob.NewEvent(ob.SynchronizationEvent, false)
		err := ns.Insert(name, nil, ev)
		ob.Release(ev)
		if err != nil {
			return errors.Wrapf(err, "failed to create %s", name)
		}
	}
	drive := &ob.Drive{Letter: 'c', Config: k.Config}
	err := ns.Insert(`\??\c:`, nil, drive)
	ob.Release(drive)
	return errors.Wrap(err, "failed to create drive c:")
}

// InitNtdll loads ntdll.dll from the C: drive.
func (k *Kernel) InitNtdll() error {
	file, err := k.Procs.OpenFile(models.NtdllPath)
	if err != nil {
		return errors.Wrap(err, "failed to open ntdll")
	}
	sec, err := mm.NewFileImageSection(file)
	ob.Release(file)
	if err != nil {
		return errors.Wrap(err, "failed to load ntdll")
	}
	return k.SetNtdll(sec)
}

// SetNtdll installs sec as the system image, taking over the caller's
// reference, and picks the system call table it was built against.
func (k *Kernel) SetNtdll(sec *mm.Section) error {
	if k.Procs.Ntdll != nil {
		ob.Release(k.Procs.Ntdll)
	}
	k.Procs.Ntdll = sec
	rva, xp := sec.Image.Export("KiIntSystemCall")
	if xp {
		k.Config.Debugf("KiIntSystemCall = %08x\n", sec.Image.ImageBase+rva)
	}
	k.selectServices(xp)
	if _, ok := sec.Image.Export("KiUserCallbackDispatcher"); !ok {
		return k.buildStubs()
	}
	return nil
}

// Run starts path as the initial process and schedules until every
// process has exited or the session deadlocks. It returns the exit status
// of the initial process.
func (k *Kernel) Run(path, cmdline string) (models.ExitStatus, error) {
	if k.Config.TraceFile != "" && k.trace == nil {
		if err := k.OpenTrace(k.Config.TraceFile, path); err != nil {
			return 1, err
		}
	}
	t, err := k.Procs.CreateInitialProcess(path, cmdline)
	if err != nil {
		return 1, errors.Wrap(err, "create_initial_process() failed")
	}
	p := t.Process
	ob.AddRef(p)
	defer ob.Release(p)
	ob.Release(t)
	k.Schedule()
	if k.Deadlock {
		k.Config.Printf("deadlock: every thread is blocked\n")
	}
	return models.ExitStatusFrom(uint32(p.ExitStatus)), nil
}

// OpenTrace records every system call to a compressed trace file.
func (k *Kernel) OpenTrace(path, exe string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "failed to create trace file")
	}
	tw, err := trace.NewWriter(f, exe, k.XP)
	if err != nil {
		f.Close()
		return err
	}
	k.trace = tw
	return nil
}

// Close tears down the session. Leaks must be checked before this.
func (k *Kernel) Close() {
	k.Procs.Close()
	k.Sched.Close()
	k.Win32k.Close()
	if k.Procs.Ntdll != nil {
		ob.Release(k.Procs.Ntdll)
		k.Procs.Ntdll = nil
	}
	if k.Procs.Stubs != nil {
		ob.Release(k.Procs.Stubs)
		k.Procs.Stubs = nil
	}
	k.Namespace.Close()
	if k.Backend != nil && k.guiReady {
		k.Backend.Close()
	}
	if k.trace != nil {
		k.trace.Close()
		k.trace = nil
	}
}
