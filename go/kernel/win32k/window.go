package win32k

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/kernel/ps"
	"github.com/lunixbochs/ntcorn/go/models"
)

// window styles
const (
	WS_CLIPSIBLINGS  = 0x04000000
	WS_VISIBLE       = 0x10000000
	WS_EX_WINDOWEDGE = 0x00000100

	CW_USEDEFAULT = -0x80000000
)

// SetWindowPos flags
const (
	SWP_NOSIZE     = 0x0001
	SWP_NOMOVE     = 0x0002
	SWP_NOZORDER   = 0x0004
	SWP_NOACTIVATE = 0x0010
	SWP_SHOWWINDOW = 0x0040
	SWP_HIDEWINDOW = 0x0080
)

// WND as guests see it in the shared section. Pointers are kernel
// addresses.
const (
	wndHandle     = 0x00
	wndSelf       = 0x10
	wndFlags      = 0x14
	wndExStyle    = 0x18
	wndStyle      = 0x1c
	wndInstance   = 0x20
	wndNext       = 0x28
	wndParent     = 0x2c
	wndFirstChild = 0x30
	wndOwner      = 0x34
	wndRect       = 0x38
	wndClient     = 0x48
	wndProc       = 0x5c
	wndClass      = 0x60

	wndSize = 0x80
)

var wndFields = map[uint32]string{
	wndHandle:     "handle",
	wndSelf:       "self",
	wndFlags:      "dwFlags",
	wndFlags + 2:  "dwFlags",
	wndExStyle:    "exstyle",
	wndStyle:      "style",
	wndInstance:   "hInstance",
	wndNext:       "next",
	wndParent:     "parent",
	wndFirstChild: "first_child",
	wndOwner:      "owner",
	wndProc:       "wndproc",
	wndClass:      "wndcls",
}

// Window is a node of the window tree. Its WND lives in the shared arena
// at Offset and is rewritten after every change.
type Window struct {
	m      *Manager
	Offset uint32
	Handle uint32
	// thread whose window procedure receives the window's messages
	Thread *ps.Thread

	ExStyle  uint32
	Style    uint32
	Instance uint32
	WndProc  uint32
	Class    *Class

	Parent     *Window
	FirstChild *Window
	Next       *Window

	Window Rect
	Client Rect
	// invalid region, empty when there is nothing to paint
	Invalid Rect

	DC         *DC
	destroying bool
	dead       bool
}

func (w *Window) KernelAddr() uint32 {
	return w.m.kernelAddr(w.Offset)
}

// UserAddr is the window's address in p.
func (w *Window) UserAddr(p *ps.Process) uint32 {
	return w.m.KernelToUser(p, w.Offset)
}

func (w *Window) addrOf(o *Window) uint32 {
	if o == nil {
		return 0
	}
	return o.KernelAddr()
}

// sync writes the WND record.
func (w *Window) sync() {
	if w.dead {
		return
	}
	b := w.m.arena.Bytes(w.Offset, wndSize)
	put := func(off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
	rect := func(off int, r Rect) {
		put(off, uint32(r.Left))
		put(off+4, uint32(r.Top))
		put(off+8, uint32(r.Right))
		put(off+12, uint32(r.Bottom))
	}
	put(wndHandle, w.Handle)
	put(wndSelf, w.KernelAddr())
	put(wndExStyle, w.ExStyle)
	put(wndStyle, w.Style)
	put(wndInstance, w.Instance)
	put(wndNext, w.addrOf(w.Next))
	put(wndParent, w.addrOf(w.Parent))
	put(wndFirstChild, w.addrOf(w.FirstChild))
	rect(wndRect, w.Window)
	rect(wndClient, w.Client)
	put(wndProc, w.WndProc)
	var cls uint32
	if w.Class != nil {
		cls = w.Class.KernelAddr()
	}
	put(wndClass, cls)
}

// link makes w the first child of parent.
func (w *Window) link(parent *Window) {
	w.Parent = parent
	w.Next = parent.FirstChild
	parent.FirstChild = w
	w.sync()
	parent.sync()
}

func (w *Window) unlink() {
	if w == w.m.Desktop {
		w.m.Desktop = nil
		return
	}
	parent := w.Parent
	if parent == nil {
		return
	}
	if parent.FirstChild == w {
		parent.FirstChild = w.Next
		parent.sync()
	} else {
		for p := parent.FirstChild; p != nil; p = p.Next {
			if p.Next == w {
				p.Next = w.Next
				p.sync()
				break
			}
		}
	}
	w.Next = nil
	w.Parent = nil
}

// Children returns a snapshot of the child list.
func (w *Window) Children() []*Window {
	var list []*Window
	for c := w.FirstChild; c != nil; c = c.Next {
		list = append(list, c)
	}
	return list
}

func (w *Window) Visible() bool {
	return w.Style&WS_VISIBLE != 0
}

// cacheWindow records w in the TEB fields user32 reads during a window
// procedure call. A nil w clears them.
func cacheWindow(t *ps.Thread, w *Window) error {
	var handle, addr uint32
	if w != nil {
		handle, addr = w.Handle, w.UserAddr(t.Process)
	}
	space := t.Process.Space
	if err := space.WriteUint32(t.TebBase+ps.TEB_CACHED_WINDOW_HANDLE, handle); err != nil {
		return errors.Wrap(err, "failed to write cached window handle")
	}
	err := space.WriteUint32(t.TebBase+ps.TEB_CACHED_WINDOW_POINTER, addr)
	return errors.Wrap(err, "failed to write cached window pointer")
}

// Send calls the window procedure with msg, nested on the owning thread.
// The packed message sits on the thread's stack for the duration of the
// call. A terminated thread is never touched, and neither is a freed
// window's procedure.
func (w *Window) Send(msg *Message) error {
	t := w.Thread
	if t == nil || w.dead {
		return nil
	}
	if t.Terminated() {
		return errors.WithStack(models.STATUS_THREAD_IS_TERMINATING)
	}
	space := t.Process.Space
	if err := cacheWindow(t, w); err != nil {
		return err
	}
	w.m.Config.Debugf("sending %s to %08x\n", msg, w.Handle)

	var data []byte
	if msg.Data != nil {
		var err error
		if data, err = models.Pack(msg.Data); err != nil {
			return errors.Wrap(err, "models.Pack() failed")
		}
	}
	size := windowProcArgsSize + uint32(len(data))
	addr := t.Push(size)
	args := WindowProcArgs{
		Proc:     w.WndProc,
		Wnd:      w.Handle,
		Msg:      msg.Msg,
		WParam:   msg.WParam,
		LParam:   msg.LParam,
		DataSize: uint32(len(data)),
	}
	if data != nil {
		args.LParam = addr + windowProcArgsSize
	}
	err := models.StrucAt(space, uint64(addr)).Pack(&args)
	if err == nil && data != nil {
		err = space.CopyToUser(uint64(args.LParam), data)
	}
	var status models.Status
	if err == nil {
		status, _, err = t.UserCallbackAt(NTWIN32_WINDOWPROC_CALLBACK, addr, size)
	}
	if t.Terminated() {
		return errors.WithStack(models.STATUS_THREAD_IS_TERMINATING)
	}
	if err == nil && data != nil {
		// the window procedure may fill in the structure
		err = models.StrucAt(space, uint64(args.LParam)).Unpack(msg.Data)
	}
	msg.Result = uint32(status)
	t.Pop(size)
	if cerr := cacheWindow(t, nil); err == nil {
		err = cerr
	}
	return err
}

// Show sends WM_SHOWWINDOW.
func (w *Window) Show(cmd int32) bool {
	w.Send(showWindowMsg(true))
	return true
}

// SetWindowPos runs the show/activate/size/move message sequence for
// flags. It does nothing for hidden windows.
func (w *Window) SetWindowPos(flags uint32) {
	if !w.Visible() {
		return
	}
	if flags&SWP_SHOWWINDOW != 0 {
		w.Show(1)
		w.Invalid = w.Client
	}
	wp := WindowPos{Hwnd: w.Handle}
	if flags&SWP_NOMOVE == 0 {
		wp.X = w.Window.Left
		wp.Y = w.Window.Top
		wp.Cx = w.Window.Width()
		wp.Cy = w.Window.Height()
	}
	if flags&(SWP_SHOWWINDOW|SWP_HIDEWINDOW) != 0 {
		w.Send(posMsg(WM_WINDOWPOSCHANGING, wp))
	}
	if flags&SWP_NOACTIVATE == 0 {
		w.Activate()
		w.Send(&Message{Msg: WM_NCPAINT, WParam: 1})
		w.Send(&Message{Msg: WM_ERASEBKGND, WParam: w.GetDC()})
	}
	if w.Visible() {
		w.Send(posMsg(WM_WINDOWPOSCHANGED, wp))
	}
	if flags&SWP_HIDEWINDOW != 0 {
		w.Send(&Message{Msg: WM_NCACTIVATE})
	}
	if flags&SWP_NOSIZE == 0 {
		w.Send(sizeMsg(w.Window.Width(), w.Window.Height()))
	}
	if flags&SWP_NOMOVE == 0 {
		w.Send(moveMsg(w.Window.Left, w.Window.Top))
	}
}

// Activate makes w the active window.
func (w *Window) Activate() {
	m := w.m
	if m.Active == w {
		return
	}
	if old := m.Active; old != nil {
		old.Send(&Message{Msg: WM_ACTIVATEAPP, WParam: WA_INACTIVE})
	}
	m.Active = w
	w.Send(&Message{Msg: WM_ACTIVATEAPP, WParam: WA_ACTIVE})
	w.Send(&Message{Msg: WM_NCACTIVATE, WParam: 1})
	w.Send(&Message{Msg: WM_ACTIVATE, WParam: WA_ACTIVE})
	w.Send(&Message{Msg: WM_SETFOCUS})
}

// Move places the window at x, y with size cx by cy.
func (w *Window) Move(x, y, cx, cy int32, repaint bool) bool {
	wp := WindowPos{Hwnd: w.Handle, X: x, Y: y, Cx: cx, Cy: cy}
	w.Send(posMsg(WM_WINDOWPOSCHANGING, wp))
	w.Window = Rect{x, y, x + cx, y + cy}
	w.Client = w.Window
	w.sync()
	w.Send(ncCalcSizeMsg(true, w.Window))
	w.Send(posMsg(WM_WINDOWPOSCHANGED, wp))
	return true
}

// Destroy hides the window, tells its procedure and frees it. A destroy
// requested while one is already under way fails.
func (w *Window) Destroy() bool {
	if w.dead || w.destroying {
		return false
	}
	w.destroying = true
	w.SetWindowPos(SWP_NOMOVE | SWP_NOSIZE | SWP_NOZORDER | SWP_NOACTIVATE | SWP_HIDEWINDOW)
	w.Send(&Message{Msg: WM_DESTROY})
	w.Send(&Message{Msg: WM_NCDESTROY})
	w.free()
	return true
}

// free releases the window without messages. Children with the same
// owner go first so no WND is left pointing at freed storage. Children of
// other processes are unlinked and left to their own process.
func (w *Window) free() {
	if w.dead {
		return
	}
	m := w.m
	owner := m.Handles.Owner(w.Handle)
	for _, c := range w.Children() {
		if m.Handles.Owner(c.Handle) == owner {
			c.free()
		} else {
			c.unlink()
			c.sync()
		}
	}
	if w.DC != nil {
		m.DCs.Release(w.DC.Handle)
		w.DC = nil
	}
	w.unlink()
	m.Handles.Free(w.Handle)
	if m.Active == w {
		m.Config.Debugf("cleared active window handle\n")
		m.Active = nil
	}
	w.dead = true
	m.arena.Free(w.Offset, wndSize)
}

func (w *Window) Dead() bool {
	return w.dead
}

// GetDC returns the window's DC handle, bounded to the client area.
func (w *Window) GetDC() uint32 {
	if w.DC == nil {
		return 0
	}
	w.DC.SetBounds(w.Client)
	return w.DC.Handle
}

// Invalidate sets the invalid region to r, or the client area when r is
// nil. Hidden windows are left alone.
func (w *Window) Invalidate(r *Rect) {
	if !w.Visible() {
		return
	}
	if r != nil {
		w.Invalid = *r
	} else {
		w.Invalid = w.Client
	}
}

// BeginPaint validates the window and returns the paint rectangle in
// client coordinates and the window DC.
func (w *Window) BeginPaint() (Rect, uint32) {
	paint := Rect{0, 0, w.Client.Width(), w.Client.Height()}
	w.Invalid = Rect{}
	return paint, w.GetDC()
}

func (w *Window) EndPaint() bool {
	if w.DC != nil {
		w.DC.Repaint()
	}
	return true
}

// FindToRepaint searches w's subtree depth first for a window with an
// invalid region. The desktop itself is never returned.
func (w *Window) FindToRepaint() *Window {
	if w.Parent != nil && !w.Invalid.Empty() {
		return w
	}
	for _, c := range w.Children() {
		if found := c.FindToRepaint(); found != nil {
			return found
		}
	}
	return nil
}

func (w *Window) contains(pt Point) bool {
	rc := w.Window
	return pt.X >= rc.Left && pt.X < rc.Right && pt.Y >= rc.Top && pt.Y < rc.Bottom
}

// FromPoint returns the first direct child containing pt, or w.
func (w *Window) FromPoint(pt Point) *Window {
	for c := w.FirstChild; c != nil; c = c.Next {
		if c.contains(pt) {
			return c
		}
	}
	return w
}
