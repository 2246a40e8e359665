package win32k

import (
	"github.com/lunixbochs/ntcorn/go/kernel/gdi"
	"github.com/lunixbochs/ntcorn/go/kernel/ps"
)

var mouseButtons = []struct {
	flag uint32
	msg  uint32
}{
	{gdi.MOUSEEVENTF_LEFTDOWN, WM_LBUTTONDOWN},
	{gdi.MOUSEEVENTF_LEFTUP, WM_LBUTTONUP},
	{gdi.MOUSEEVENTF_RIGHTDOWN, WM_RBUTTONDOWN},
	{gdi.MOUSEEVENTF_RIGHTUP, WM_RBUTTONUP},
	{gdi.MOUSEEVENTF_MIDDLEDOWN, WM_MBUTTONDOWN},
	{gdi.MOUSEEVENTF_MIDDLEUP, WM_MBUTTONUP},
}

// HasActiveWindow reports whether some window can still receive input.
func (m *Manager) HasActiveWindow() bool {
	return m.Active != nil
}

// SendInput records key state and posts the matching messages to the
// active window's queue. Input with no active window only updates the key
// state.
func (m *Manager) SendInput(in gdi.Input) {
	var msgs []ps.Message
	switch in.Type {
	case gdi.INPUT_KEYBOARD:
		down := in.Flags&gdi.KEYEVENTF_KEYUP == 0
		m.keys[in.Vk&0xff] = down
		msg := ps.Message{Message: WM_KEYDOWN, WParam: uint32(in.Vk), LParam: uint32(in.Scan)<<16 | 1}
		if !down {
			msg.Message = WM_KEYUP
			msg.LParam |= 0xc0000000
		}
		msgs = append(msgs, msg)
	case gdi.INPUT_MOUSE:
		lparam := makeLParam(in.X, in.Y)
		if in.Flags&gdi.MOUSEEVENTF_MOVE != 0 {
			msgs = append(msgs, ps.Message{Message: WM_MOUSEMOVE, LParam: lparam})
		}
		for _, b := range mouseButtons {
			if in.Flags&b.flag != 0 {
				msgs = append(msgs, ps.Message{Message: b.msg, LParam: lparam})
			}
		}
	default:
		m.Config.Debugf("unknown input type %d\n", in.Type)
		return
	}
	w := m.Active
	if w == nil || w.Thread == nil || w.Thread.Terminated() {
		return
	}
	q := w.Thread.EnsureQueue()
	for _, msg := range msgs {
		msg.Hwnd = w.Handle
		msg.Time = in.Time
		msg.X, msg.Y = in.X, in.Y
		q.Post(msg)
	}
}

// AsyncKeyState reports 0x8000 while vk is held down.
func (m *Manager) AsyncKeyState(vk uint32) uint32 {
	if vk < uint32(len(m.keys)) && m.keys[vk] {
		return 0x8000
	}
	return 0
}
