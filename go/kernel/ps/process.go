package ps

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/kernel/common"
	"github.com/lunixbochs/ntcorn/go/kernel/mm"
	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/models"
)

// Win32Info is the window manager's per-process state. The addresses are
// set once, when the shared sections are first mapped.
type Win32Info struct {
	UserSharedMem uint64
	UserHandles   uint64
	DCSharedMem   uint64
}

type Process struct {
	ob.Sync
	ID      uint32
	Manager *Manager
	Space   *mm.AddressSpace
	Machine Machine
	Handles *ob.HandleTable
	Threads []*Thread

	Image *mm.View
	Ntdll *mm.View
	Stubs *mm.View
	Peb   *mm.Section
	// guest address of the PEB
	PebBase uint64

	ExitStatus    models.Status
	WindowStation uint32
	Win32         *Win32Info

	terminated bool
}

func (p *Process) TypeName() string { return "Process" }

func (p *Process) Signaled() bool {
	return p.terminated
}

func (p *Process) Terminated() bool {
	return p.terminated
}

// Entry is the address of the image entry point.
func (p *Process) Entry() uint32 {
	img := p.Image.Section.Image
	return uint32(p.Image.Base) + img.EntryRVA
}

// NtdllExport resolves an export of the system support image mapped in p.
func (p *Process) NtdllExport(name string) (uint32, bool) {
	if p.Ntdll == nil {
		return 0, false
	}
	rva, ok := p.Ntdll.Section.Image.Export(name)
	if !ok {
		return 0, false
	}
	return uint32(p.Ntdll.Base) + rva, true
}

// CallbackDispatcher is where user mode callbacks enter the process.
func (p *Process) CallbackDispatcher() (uint32, error) {
	if addr, ok := p.NtdllExport("KiUserCallbackDispatcher"); ok {
		return addr, nil
	}
	if p.Stubs != nil && p.Manager.StubCallbackOffset >= 0 {
		return uint32(p.Stubs.Base) + uint32(p.Manager.StubCallbackOffset), nil
	}
	return 0, errors.Wrap(models.STATUS_NOT_IMPLEMENTED, "no KiUserCallbackDispatcher")
}

func (p *Process) mapSystem(m *Manager, image *mm.Section) error {
	var err error
	if p.Image, err = p.Space.MapSection(image, 0, 0, 0, mm.PAGE_EXECUTE_WRITECOPY); err != nil {
		return err
	}
	if m.Ntdll != nil {
		if p.Ntdll, err = p.Space.MapSection(m.Ntdll, 0, 0, 0, mm.PAGE_EXECUTE_WRITECOPY); err != nil {
			return err
		}
	}
	if m.Stubs != nil {
		if p.Stubs, err = p.Space.MapSection(m.Stubs, 0, 0, 0, mm.PAGE_EXECUTE_READ); err != nil {
			return err
		}
	}
	if p.Peb, err = mm.NewSection(mm.PAGE_SIZE, mm.PAGE_READWRITE); err != nil {
		return err
	}
	view, err := p.Space.MapSection(p.Peb, 0, 0, 0, mm.PAGE_READWRITE)
	if err != nil {
		return err
	}
	p.PebBase = view.Base
	img := image.Image
	peb := Peb{
		ImageBaseAddress:   uint32(p.Image.Base),
		NumberOfProcessors: 1,
		OSMajorVersion:     5,
		OSMinorVersion:     1,
		OSBuildNumber:      2600,
		OSPlatformId:       2,
		ImageSubsystem:     uint32(img.Subsystem),
	}
	return models.StrucAt(p.Space, p.PebBase).Pack(&peb)
}

// SetProcessParameters builds RTL_USER_PROCESS_PARAMETERS and an
// environment block in p and links them from the PEB. Pointers are
// absolute.
func (p *Process) SetProcessParameters(image, cmdline string, env []string) error {
	var strs []byte
	str := func(s string) ustr {
		enc := models.EncodeUTF16(s)
		us := ustr{Length: uint16(len(enc)), MaximumLength: uint16(len(enc) + 2), off: uint32(len(strs))}
		strs = append(strs, enc...)
		strs = append(strs, 0, 0)
		return us
	}
	imageUS := str(image)
	cmdUS := str(cmdline)
	dirUS := str(`C:\`)
	envOff := uint32(len(strs))
	for _, e := range env {
		strs = append(strs, models.EncodeUTF16(e)...)
		strs = append(strs, 0, 0)
	}
	strs = append(strs, 0, 0)

	size := uint64(processParametersSize + len(strs))
	base, _, err := p.Space.Allocate(0, size, mm.MEM_COMMIT|mm.MEM_RESERVE, mm.PAGE_READWRITE)
	if err != nil {
		return err
	}
	strBase := uint32(base) + processParametersSize
	pp := ProcessParameters{
		MaximumLength:   uint32(size),
		Length:          uint32(size),
		Flags:           PROCESS_PARAMS_NORMALIZED,
		CurrentDir:      dirUS.at(strBase),
		ImagePathName:   imageUS.at(strBase),
		CommandLine:     cmdUS.at(strBase),
		Environment:     strBase + envOff,
		ShowWindowFlags: 1,
	}
	if err := models.StrucAt(p.Space, base).Pack(&pp); err != nil {
		return err
	}
	if err := p.Space.CopyToUser(uint64(strBase), strs); err != nil {
		return err
	}
	return p.Space.WriteUint32(p.PebBase+PEB_PROCESS_PARAMETERS, uint32(base))
}

// a UNICODE_STRING whose buffer is an offset into the strings area
type ustr struct {
	Length, MaximumLength uint16
	off                   uint32
}

func (u ustr) at(base uint32) common.UnicodeStringHeader {
	return common.UnicodeStringHeader{Length: u.Length, MaximumLength: u.MaximumLength, Buffer: base + u.off}
}

func (p *Process) removeThread(t *Thread) {
	for i, v := range p.Threads {
		if v == t {
			p.Threads = append(p.Threads[:i], p.Threads[i+1:]...)
			return
		}
	}
}

// LiveThreads returns the threads that have not terminated.
func (p *Process) LiveThreads() []*Thread {
	var live []*Thread
	for _, t := range p.Threads {
		if !t.terminated {
			live = append(live, t)
		}
	}
	return live
}

// Terminate ends every thread of p, reclaims its handles and removes it
// from the session. The process object lives on while referenced.
func (p *Process) Terminate(status models.Status) {
	if p.terminated {
		return
	}
	p.terminated = true
	p.ExitStatus = status
	for _, t := range append([]*Thread(nil), p.Threads...) {
		t.Terminate(status)
	}
	m := p.Manager
	for _, fn := range m.OnProcessExit {
		fn(p)
	}
	p.Handles.Close()
	p.Signal(p)
	m.remove(p)
}

func (p *Process) Destroy() {
	if p.Machine != nil {
		p.Machine.Close()
	}
	p.Space.Close()
	if p.Peb != nil {
		ob.Release(p.Peb)
	}
}
