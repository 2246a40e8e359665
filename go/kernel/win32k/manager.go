// Package win32k is the window manager: the user handle table and shared
// memory every GUI process maps, windows and classes, message delivery
// through user mode callbacks, and device contexts.
package win32k

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/kernel/gdi"
	"github.com/lunixbochs/ntcorn/go/kernel/mm"
	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/kernel/ps"
	"github.com/lunixbochs/ntcorn/go/models"
)

const (
	SharedSize    = 0x20000
	SharedReserve = 0x10000

	// max_window_handle in the reserved header
	sharedMaxWindowHandle = 8

	// where the kernel pretends the shared section lives; guests turn
	// kernel pointers into user ones with TEB.KernelUserPointerOffset
	KernelSharedBase = 0xbf800000
)

var errNoArena = errors.WithStack(models.STATUS_NO_MEMORY)

// Manager holds the window manager state of a session.
type Manager struct {
	Config  *models.Config
	Procs   *ps.Manager
	Backend gdi.Backend

	Shared  *mm.Section
	Handles *HandleTable
	DCs     *DCTable
	Classes []*Class

	Desktop *Window
	Active  *Window

	arena       *Arena
	messageMaps [NUMBER_OF_MESSAGE_MAPS]MessageMap

	nextMessage uint32
	nextDesktop uint32
	keys        [256]bool
}

func NewManager(config *models.Config, procs *ps.Manager, backend gdi.Backend) *Manager {
	m := &Manager{
		Config:      config.Init(),
		Procs:       procs,
		Backend:     backend,
		nextMessage: 0xc001,
		nextDesktop: 0xf00d2001,
	}
	if procs != nil {
		procs.OnProcessExit = append(procs.OnProcessExit, m.processExit)
	}
	return m
}

// init creates the shared sections on first use.
func (m *Manager) init() error {
	if m.Shared != nil {
		return nil
	}
	shared, err := mm.NewSection(SharedSize, mm.PAGE_READWRITE)
	if err != nil {
		return err
	}
	handles, err := NewHandleTable(func(max uint32) {
		binary.LittleEndian.PutUint32(shared.Data()[sharedMaxWindowHandle:], max)
		m.Config.Debugf("max_window_handle = %04x\n", max)
	})
	if err != nil {
		return err
	}
	dcs, err := NewDCTable(m.Backend)
	if err != nil {
		return err
	}
	m.Shared = shared
	m.Handles = handles
	m.DCs = dcs
	m.arena = NewArena(shared.Data(), SharedReserve)
	if m.Procs != nil {
		if _, err := m.Procs.Namespace.CreateDirectory(`\Windows\WindowStations`); err != nil {
			m.Config.Debugf("window station directory: %v\n", err)
		}
	}
	return nil
}

// Arena is the shared allocator, created on first use.
func (m *Manager) Arena() *Arena {
	m.init()
	return m.arena
}

func (m *Manager) kernelAddr(off uint32) uint32 {
	return KernelSharedBase + off
}

// KernelToUser translates an offset in the shared section to its address
// in p.
func (m *Manager) KernelToUser(p *ps.Process, off uint32) uint32 {
	if p.Win32 == nil {
		return 0
	}
	return uint32(p.Win32.UserSharedMem) + off
}

func (m *Manager) processInit(p *ps.Process) {
	if p.Win32 == nil {
		p.Win32 = &ps.Win32Info{}
	}
}

// MapShared maps the shared memory and the handle table read only into p,
// once per process.
func (m *Manager) MapShared(p *ps.Process) error {
	if err := m.init(); err != nil {
		return err
	}
	m.processInit(p)
	info := p.Win32
	if info.UserSharedMem != 0 {
		return nil
	}
	view, err := p.Space.MapSection(m.Shared, 0, 0, 0, mm.PAGE_READONLY)
	if err != nil {
		return err
	}
	handles, err := p.Space.MapSection(m.Handles.Section, 0, 0, 0, mm.PAGE_READONLY)
	if err != nil {
		p.Space.Unmap(view.Base)
		return err
	}
	info.UserSharedMem = view.Base
	info.UserHandles = handles.Base
	if m.Config.Trace {
		p.Space.SetTracer(view.Base, &sharedTracer{m})
		p.Space.SetTracer(handles.Base, &handleTracer{m})
	}
	m.Config.Debugf("user shared at %#x handles at %#x\n", view.Base, handles.Base)
	return nil
}

// mapDCs maps the DC attribute blocks into p.
func (m *Manager) mapDCs(p *ps.Process) error {
	if p.Win32.DCSharedMem != 0 {
		return nil
	}
	view, err := p.Space.MapSection(m.DCs.Section, 0, 0, 0, mm.PAGE_READWRITE)
	if err != nil {
		return err
	}
	p.Win32.DCSharedMem = view.Base
	return nil
}

// CreateDesktop creates the desktop window the first time it is called.
func (m *Manager) CreateDesktop(owner *ps.Process) (*Window, error) {
	if m.Desktop != nil {
		return m.Desktop, nil
	}
	if err := m.init(); err != nil {
		return nil, err
	}
	off, ok := m.arena.Alloc(wndSize)
	if !ok {
		return nil, errNoArena
	}
	w := &Window{m: m, Offset: off}
	w.Window = Rect{0, 0, gdi.ScreenWidth, gdi.ScreenHeight}
	w.Client = w.Window
	w.Handle = m.Handles.Alloc(w, USER_HANDLE_WINDOW, owner)
	if w.Handle == 0 {
		m.arena.Free(off, wndSize)
		return nil, errors.WithStack(models.STATUS_INSUFFICIENT_RESOURCES)
	}
	w.sync()
	m.Desktop = w
	return w, nil
}

// GdiInit connects the calling thread: maps shared memory, publishes the
// kernel to user pointer offset, creates the desktop and gives the thread
// its NTUSERINFO.
func (m *Manager) GdiInit(t *ps.Thread) error {
	p := t.Process
	if err := m.MapShared(p); err != nil {
		return err
	}
	if err := m.mapDCs(p); err != nil {
		return err
	}
	offset := m.kernelAddr(0) - uint32(p.Win32.UserSharedMem)
	if err := p.Space.WriteUint32(t.TebBase+ps.TEB_KERNEL_USER_PTR_OFFSET, offset); err != nil {
		return err
	}
	desktop, err := m.CreateDesktop(p)
	if err != nil {
		return err
	}
	info, err := m.allocUserInfo(p, desktop)
	if err != nil {
		return err
	}
	return p.Space.WriteUint32(t.TebBase+ps.TEB_NTUSER_INFO, info)
}

// NTUSERINFO, carved from the arena
const (
	userInfoDesktop = 0x08
	userInfoSize    = 0x20
)

func (m *Manager) allocUserInfo(p *ps.Process, desktop *Window) (uint32, error) {
	off, ok := m.arena.Alloc(userInfoSize)
	if !ok {
		return 0, errNoArena
	}
	binary.LittleEndian.PutUint32(m.arena.Bytes(off+userInfoDesktop, 4), desktop.KernelAddr())
	return m.KernelToUser(p, off), nil
}

// Window resolves a window handle.
func (m *Manager) Window(h uint32) *Window {
	if m.Handles == nil {
		return nil
	}
	if w, ok := m.Handles.Get(h, USER_HANDLE_WINDOW).(*Window); ok {
		return w
	}
	return nil
}

// CreateParams are the arguments of NtUserCreateWindowEx.
type CreateParams struct {
	ExStyle    uint32
	ClassName  string
	WindowName string
	Style      uint32
	X, Y       int32
	Cx, Cy     int32
	Parent     uint32
	Menu       uint32
	Instance   uint32
	Param      uint32
}

// CreateWindow creates a window owned by t. Messages from GETMINMAXINFO
// to CREATE are delivered before it returns.
func (m *Manager) CreateWindow(t *ps.Thread, cp *CreateParams) (*Window, error) {
	if err := m.init(); err != nil {
		return nil, err
	}
	m.Config.Debugf("window = %s class = %s\n", cp.WindowName, cp.ClassName)
	parent := m.Desktop
	if cp.Parent != 0 {
		parent = m.Window(cp.Parent)
	}
	if parent == nil {
		return nil, errors.Wrapf(models.STATUS_INVALID_HANDLE, "parent %08x", cp.Parent)
	}
	cls := m.FindClass(cp.ClassName)
	if cls == nil {
		return nil, errors.Wrapf(models.STATUS_OBJECT_NAME_NOT_FOUND, "class %q", cp.ClassName)
	}
	cs := CreateStruct{
		CreateParams: cp.Param,
		Instance:     cp.Instance,
		Menu:         cp.Menu,
		Parent:       cp.Parent,
		Cx:           cp.Cx,
		Cy:           cp.Cy,
		X:            cp.X,
		Y:            cp.Y,
		Style:        cp.Style,
		ExStyle:      (cp.ExStyle | WS_EX_WINDOWEDGE) &^ 0x80000000,
	}
	if cs.X == CW_USEDEFAULT {
		cs.X = 0
	}
	if cs.Y == CW_USEDEFAULT {
		cs.Y = 0
	}
	if cs.Cx == CW_USEDEFAULT {
		cs.Cx = 100
	}
	if cs.Cy == CW_USEDEFAULT {
		cs.Cy = 100
	}

	off, ok := m.arena.Alloc(wndSize)
	if !ok {
		return nil, errNoArena
	}
	w := &Window{
		m:        m,
		Offset:   off,
		Thread:   t,
		Class:    cls,
		Style:    cs.Style,
		ExStyle:  cs.ExStyle,
		Instance: cs.Instance,
		WndProc:  cls.Info.WndProc,
		Window:   Rect{cs.X, cs.Y, cs.X + cs.Cx, cs.Y + cs.Cy},
	}
	w.Handle = m.Handles.Alloc(w, USER_HANDLE_WINDOW, t.Process)
	if w.Handle == 0 {
		m.arena.Free(off, wndSize)
		return nil, errors.WithStack(models.STATUS_INSUFFICIENT_RESOURCES)
	}
	w.link(parent)
	t.EnsureQueue()

	// the window is complete from here on, so it may be seen by anything
	// the window procedure calls
	w.Send(minMaxMsg())
	w.Send(createMsg(WM_NCCREATE, &cs))
	if w.dead || t.Terminated() {
		w.free()
		return nil, errors.WithStack(models.STATUS_THREAD_IS_TERMINATING)
	}

	w.Window = Rect{cs.X, cs.Y, cs.X + cs.Cx, cs.Y + cs.Cy}
	w.Client = w.Window
	w.sync()
	w.Send(ncCalcSizeMsg(false, w.Window))

	w.Style |= WS_CLIPSIBLINGS
	w.DC = m.DCs.Alloc()
	w.sync()
	w.Send(createMsg(WM_CREATE, &cs))
	if w.dead || t.Terminated() {
		w.free()
		return nil, errors.WithStack(models.STATUS_THREAD_IS_TERMINATING)
	}

	if w.Visible() {
		w.SetWindowPos(SWP_SHOWWINDOW | SWP_NOMOVE)
		w.Send(moveMsg(w.Window.Left, w.Window.Top))
	}
	return w, nil
}

// FindWindowToRepaint looks under the window h, or the desktop when h is
// zero.
func (m *Manager) FindWindowToRepaint(h uint32) *Window {
	start := m.Desktop
	if h != 0 {
		start = m.Window(h)
	}
	if start == nil {
		return nil
	}
	return start.FindToRepaint()
}

// WindowFromPoint checks the desktop's top level windows.
func (m *Manager) WindowFromPoint(pt Point) uint32 {
	if m.Desktop == nil {
		return 0
	}
	return m.Desktop.FromPoint(pt).Handle
}

// GetDC returns the window's DC, or a fresh screen DC for h == 0.
func (m *Manager) GetDC(h uint32) uint32 {
	if err := m.init(); err != nil {
		return 0
	}
	if h == 0 {
		if dc := m.DCs.Alloc(); dc != nil {
			return dc.Handle
		}
		return 0
	}
	w := m.Window(h)
	if w == nil {
		return 0
	}
	return w.GetDC()
}

// ReleaseDC frees a screen DC. Window DCs stay with their window.
func (m *Manager) ReleaseDC(h uint32) bool {
	if m.DCs == nil {
		return false
	}
	if m.Desktop != nil {
		for _, w := range m.windows() {
			if w.DC != nil && w.DC.Handle == h {
				return true
			}
		}
	}
	return m.DCs.Release(h)
}

func (m *Manager) DC(h uint32) *DC {
	if m.DCs == nil {
		return nil
	}
	return m.DCs.Get(h)
}

// windows lists every live window, desktop first.
func (m *Manager) windows() []*Window {
	var list []*Window
	var walk func(w *Window)
	walk = func(w *Window) {
		list = append(list, w)
		for c := w.FirstChild; c != nil; c = c.Next {
			walk(c)
		}
	}
	if m.Desktop != nil {
		walk(m.Desktop)
	}
	return list
}

// RegisterWindowMessage hands out message numbers from 0xc001.
func (m *Manager) RegisterWindowMessage(name string) uint32 {
	n := m.nextMessage
	m.nextMessage++
	m.Config.Debugf("message = %s -> %04x\n", name, n)
	return n
}

// NewDesktopHandle returns the placeholder handle used for window stations
// and desktops.
func (m *Manager) NewDesktopHandle() uint32 {
	h := m.nextDesktop
	m.nextDesktop++
	return h
}

func (m *Manager) processExit(p *ps.Process) {
	if m.Handles == nil {
		return
	}
	if n := m.Handles.FreeProcessHandles(p); n > 0 {
		m.Config.Debugf("freed %d user handles of process %04x\n", n, p.ID)
	}
}

// Close frees every window and drops the kernel's references to the
// shared sections.
func (m *Manager) Close() {
	if m.Shared == nil {
		return
	}
	for _, w := range m.windows() {
		w.free()
	}
	// windows orphaned by another process's exit are not in the tree
	for _, o := range m.Handles.Objects(USER_HANDLE_WINDOW) {
		o.free()
	}
	m.Desktop = nil
	m.Active = nil
	ob.Release(m.Shared)
	ob.Release(m.Handles.Section)
	ob.Release(m.DCs.Section)
	m.Shared = nil
}
