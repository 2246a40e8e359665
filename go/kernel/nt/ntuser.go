package nt

import (
	"github.com/lunixbochs/ntcorn/go/kernel/common"
	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/kernel/ps"
	"github.com/lunixbochs/ntcorn/go/kernel/win32k"
	"github.com/lunixbochs/ntcorn/go/models"
)

const (
	TRUE  = 1
	FALSE = 0

	PM_REMOVE = 1
)

func boolRet(b bool) uint32 {
	if b {
		return TRUE
	}
	return FALSE
}

// USER32_UNICODE_STRING counts in bytes like UNICODE_STRING but has
// 32-bit lengths.
type user32String struct {
	Length        uint32
	MaximumLength uint32
	Buffer        uint32
}

func readUser32String(b common.Buf) (string, error) {
	var us user32String
	if err := b.Unpack(&us); err != nil {
		return "", err
	}
	if us.Buffer == 0 {
		return "", nil
	}
	raw, err := common.NewBuf(b.K, uint64(us.Buffer)).Read(uint64(us.Length))
	if err != nil {
		return "", err
	}
	return models.DecodeUTF16(raw), nil
}

// PAINTSTRUCT
type paintStruct struct {
	Hdc         uint32
	Erase       uint32
	Paint       win32k.Rect
	Restore     uint32
	IncUpdate   uint32
	RgbReserved [32]byte
}

func (k *Kernel) NtUserProcessConnect(process common.Handle, info common.Buf, size uint32) models.Status {
	p, err := k.processArg(process)
	if err != nil {
		return k.fail(err)
	}
	buf, err := info.Read(uint64(size))
	if err != nil {
		return k.fail(err)
	}
	if err := k.Win32k.ProcessConnect(p, buf); err != nil {
		return k.fail(err)
	}
	return k.fail(info.Write(buf))
}

func (k *Kernel) NtUserGetThreadState(class uint32) uint32 {
	return k.Win32k.GetThreadState(class)
}

func (k *Kernel) NtUserInitializeClientPfnArrays(procsA, procsW, workers common.Ptr, instance uint32) uint32 {
	k.Config.Debugf("client pfn arrays %08x %08x %08x in %08x\n", procsA, procsW, workers, instance)
	return 0
}

func (k *Kernel) NtUserInitialize(version, cpd, unknown uint32) uint32 {
	return TRUE
}

func (k *Kernel) NtUserCallNoParam(index uint32) uint32 {
	return k.Win32k.CallNoParam(index)
}

func (k *Kernel) NtUserCallOneParam(param, index uint32) uint32 {
	return k.Win32k.CallOneParam(k.current(), param, index)
}

func (k *Kernel) NtUserCallTwoParam(param2, param1, index uint32) uint32 {
	return k.Win32k.CallTwoParam(param1, param2, index)
}

func (k *Kernel) NtUserGetThreadDesktop(tid, unknown uint32) uint32 {
	return win32k.ThreadDesktopHandle
}

func (k *Kernel) NtUserCreateWindowStation(oa *common.ObjectAttributes, access uint32, dir common.Handle, x1, x2, locale uint32) uint32 {
	k.Config.Debugf("window station %s\n", oa.Name)
	return k.Win32k.NewDesktopHandle()
}

func (k *Kernel) NtUserCreateDesktop(oa *common.ObjectAttributes, device, devmode, flags, access uint32) uint32 {
	k.Config.Debugf("desktop %s\n", oa.Name)
	return k.Win32k.NewDesktopHandle()
}

func (k *Kernel) NtUserOpenDesktop(oa *common.ObjectAttributes, flags, access uint32) uint32 {
	k.Config.Debugf("open desktop %s\n", oa.Name)
	return k.Win32k.NewDesktopHandle()
}

func (k *Kernel) NtUserSetProcessWindowStation(h uint32) uint32 {
	k.current().Process.WindowStation = h
	return TRUE
}

func (k *Kernel) NtUserGetProcessWindowStation() uint32 {
	return k.current().Process.WindowStation
}

func (k *Kernel) NtUserGetCaretBlinkTime() uint32 {
	return 100
}

func (k *Kernel) NtUserRegisterWindowMessage(name common.UnicodeString) uint32 {
	return k.Win32k.RegisterWindowMessage(string(name))
}

func (k *Kernel) NtUserRegisterClassExWOW(info common.Buf, className common.UnicodeString, menuNames common.Buf, fnid, flags, unknown uint32) uint32 {
	var wc win32k.WndClassEx
	if err := info.Unpack(&wc); err != nil {
		return FALSE
	}
	if wc.Size != win32k.WndClassExSize {
		k.Config.Debugf("bad class size %d\n", wc.Size)
		return FALSE
	}
	menu := ""
	if !menuNames.Null() {
		var names win32k.ClassMenuNames
		if err := menuNames.Unpack(&names); err != nil {
			return FALSE
		}
		if names.NameUS != 0 {
			if s, err := common.ReadUnicodeString(k.Mem, uint64(names.NameUS)); err == nil {
				menu = s
			}
		}
	}
	atom, err := k.Win32k.RegisterClass(&wc, string(className), menu)
	if err != nil {
		k.fail(err)
		return FALSE
	}
	return uint32(atom)
}

func (k *Kernel) NtUserGetClassInfo(instance uint32, className common.UnicodeString, info, menuName common.Buf, ansi uint32) uint32 {
	k.Config.Debugf("class info %s\n", className)
	return FALSE
}

func (k *Kernel) NtUserCreateWindowEx(exStyle uint32, className, windowName common.Buf, style uint32, x, y, cx, cy int32, parent, menu, instance, param, unicode uint32) uint32 {
	t := k.current()
	class, err := readUser32String(className)
	if err != nil {
		k.fail(err)
		return 0
	}
	// window names are optional and often unreadable this early
	title, _ := readUser32String(windowName)
	w, err := k.Win32k.CreateWindow(t, &win32k.CreateParams{
		ExStyle:    exStyle,
		ClassName:  class,
		WindowName: title,
		Style:      style,
		X:          x,
		Y:          y,
		Cx:         cx,
		Cy:         cy,
		Parent:     parent,
		Menu:       menu,
		Instance:   instance,
		Param:      param,
	})
	k.resume(t)
	if err != nil {
		k.fail(err)
		return 0
	}
	return w.Handle
}

func (k *Kernel) window(h uint32) *win32k.Window {
	w := k.Win32k.Window(h)
	if w == nil {
		k.Config.Debugf("bad window handle %08x\n", h)
	}
	return w
}

func (k *Kernel) NtUserShowWindow(hwnd uint32, cmd int32) uint32 {
	w := k.window(hwnd)
	if w == nil {
		return FALSE
	}
	return boolRet(w.Show(cmd))
}

func (k *Kernel) NtUserMoveWindow(hwnd uint32, x, y, cx, cy int32, repaint uint32) uint32 {
	w := k.window(hwnd)
	if w == nil {
		return FALSE
	}
	return boolRet(w.Move(x, y, cx, cy, repaint != 0))
}

func (k *Kernel) NtUserDestroyWindow(hwnd uint32) uint32 {
	w := k.window(hwnd)
	if w == nil {
		return FALSE
	}
	return boolRet(w.Destroy())
}

// invalidate marks the window for repaint. rect is in client coordinates
// and a null rect means the whole client area.
func (k *Kernel) invalidate(hwnd uint32, rect common.Buf) uint32 {
	w := k.window(hwnd)
	if w == nil {
		return FALSE
	}
	if rect.Null() {
		w.Invalidate(nil)
		return TRUE
	}
	var r win32k.Rect
	if err := rect.Unpack(&r); err != nil {
		return FALSE
	}
	w.Invalidate(&r)
	return TRUE
}

func (k *Kernel) NtUserRedrawWindow(hwnd uint32, update common.Buf, region, flags uint32) uint32 {
	return k.invalidate(hwnd, update)
}

func (k *Kernel) NtUserInvalidateRect(hwnd uint32, rect common.Buf, erase uint32) uint32 {
	return k.invalidate(hwnd, rect)
}

func (k *Kernel) NtUserBeginPaint(hwnd uint32, out common.Obuf) uint32 {
	w := k.window(hwnd)
	if w == nil {
		return 0
	}
	r, dc := w.BeginPaint()
	if err := out.Pack(&paintStruct{Hdc: dc, Paint: r}); err != nil {
		k.fail(err)
		return 0
	}
	return dc
}

func (k *Kernel) NtUserEndPaint(hwnd uint32, paint common.Buf) uint32 {
	w := k.window(hwnd)
	if w == nil {
		return FALSE
	}
	return boolRet(w.EndPaint())
}

func (k *Kernel) NtUserGetDC(hwnd uint32) uint32 {
	return k.Win32k.GetDC(hwnd)
}

func (k *Kernel) NtUserWindowFromPoint(x, y int32) uint32 {
	return k.Win32k.WindowFromPoint(win32k.Point{X: x, Y: y})
}

func (k *Kernel) NtUserGetAsyncKeyState(vk uint32) uint32 {
	return k.Win32k.AsyncKeyState(vk)
}

// nextMessage returns the next posted message for t, or a WM_PAINT for one
// of t's windows when nothing is posted. When wait is set it blocks until
// one is available.
func (k *Kernel) nextMessage(t *ps.Thread, remove, wait bool) (ps.Message, bool, models.Status) {
	q := t.EnsureQueue()
	for {
		if msg, ok := q.Peek(remove); ok {
			return msg, true, models.STATUS_SUCCESS
		}
		if w := k.Win32k.FindWindowToRepaint(0); w != nil && w.Thread == t {
			return ps.Message{Hwnd: w.Handle, Message: win32k.WM_PAINT}, true, models.STATUS_SUCCESS
		}
		if !wait {
			return ps.Message{}, false, models.STATUS_SUCCESS
		}
		if status := t.Wait([]ob.Waitable{q.Ready}, false, nil); status != models.STATUS_WAIT_0 {
			return ps.Message{}, false, status
		}
	}
}

// NtUserGetMessage returns FALSE for WM_QUIT and -1 when the wait failed.
func (k *Kernel) NtUserGetMessage(out common.Obuf, hwnd, min, max uint32) uint32 {
	t := k.current()
	msg, _, status := k.nextMessage(t, true, true)
	k.resume(t)
	if status != models.STATUS_SUCCESS {
		return 0xffffffff
	}
	if err := out.Pack(&msg); err != nil {
		k.fail(err)
		return 0xffffffff
	}
	return boolRet(msg.Message != ps.WM_QUIT)
}

func (k *Kernel) NtUserPeekMessage(out common.Obuf, hwnd, min, max, flags uint32) uint32 {
	msg, ok, _ := k.nextMessage(k.current(), flags&PM_REMOVE != 0, false)
	if !ok {
		return FALSE
	}
	if err := out.Pack(&msg); err != nil {
		k.fail(err)
		return FALSE
	}
	return TRUE
}

// NtUserDispatchMessage delivers msg to its window procedure. WM_PAINT is
// sent without parameters.
func (k *Kernel) NtUserDispatchMessage(in common.Buf) uint32 {
	t := k.current()
	var msg ps.Message
	if err := in.Unpack(&msg); err != nil {
		k.fail(err)
		return 0
	}
	w := k.window(msg.Hwnd)
	if w == nil {
		return 0
	}
	wm := &win32k.Message{Msg: msg.Message, WParam: msg.WParam, LParam: msg.LParam}
	if msg.Message == win32k.WM_PAINT {
		wm = &win32k.Message{Msg: win32k.WM_PAINT}
	}
	err := w.Send(wm)
	k.resume(t)
	if err != nil {
		k.fail(err)
		return 0
	}
	return wm.Result
}

func (k *Kernel) NtUserCreateAcceleratorTable(entries common.Ptr, count uint32) uint32 {
	k.nextAccel++
	return k.nextAccel
}

func (k *Kernel) NtUserSetCapture(hwnd uint32) uint32 {
	return 0
}

func (k *Kernel) NtUserTranslateMessage(msg common.Buf, flags uint32) uint32 {
	return FALSE
}

func (k *Kernel) NtUserTranslateAccelerator(hwnd, accel uint32, msg common.Buf) uint32 {
	return FALSE
}

func (k *Kernel) NtUserSelectPalette(hdc, palette, force uint32) uint32 {
	return 0
}

func (k *Kernel) NtUserFindExistingCursorIcon(module, resource common.Ptr, desc common.Buf) uint32 {
	return 0
}

func (k *Kernel) NtUserSetInformationThread(thread common.Handle, class uint32, info common.Ptr, length common.Len) models.Status {
	return models.STATUS_SUCCESS
}

func (k *Kernel) NtUserGetKeyboardLayoutList(count uint32, list common.Ptr) models.Status {
	return models.STATUS_SUCCESS
}
