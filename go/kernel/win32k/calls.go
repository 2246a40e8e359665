package win32k

import (
	"github.com/lunixbochs/ntcorn/go/kernel/ps"
)

// NtUserCallOneParam indices with real behaviour
const (
	NTUCOP_GETWNDPTR       = 0x23
	NTUCOP_POSTQUITMESSAGE = 0x26
	NTUCOP_RELEASEDC       = 0x29
)

// placeholder returned by CallNoParam index 7
const noParamMagic = 0xfeed0007

// desktop handle returned by GetThreadDesktop
const ThreadDesktopHandle = 0xde5

// GetThreadState answers NtUserGetThreadState. Class 0x11 asks the kernel
// to set up the thread's win32 info.
func (m *Manager) GetThreadState(class uint32) uint32 {
	switch class {
	case 0, 1, 2, 5, 6, 8, 9, 0xa, 0xb, 0xc, 0x10:
		return 0
	case 0x11:
		return 1
	}
	m.Config.Debugf("thread state %d\n", class)
	return 0
}

func (m *Manager) CallNoParam(index uint32) uint32 {
	if index == 7 {
		return noParamMagic
	}
	return 0
}

var oneParamNames = map[uint32]string{
	0x16: "BeginDeferWindowPos",
	0x17: "WindowFromDC",
	0x18: "AllowSetForegroundWindow",
	0x19: "CreateIconIndirect",
	0x1a: "DdeUninitialize",
	0x1b: "MsgWaitForMultipleObjectsEx",
	0x1c: "EnumClipboardFormats",
	0x1d: "MsgWaitForMultipleObjectsEx",
	0x1e: "GetKeyboardLayout",
	0x1f: "GetKeyboardType",
	0x20: "GetQueueStatus",
	0x21: "SetLockForegroundWindow",
	0x22: "LoadLocalFonts",
	0x24: "MessageBeep",
	0x25: "SoftModalMessageBox",
	0x27: "RealizeUserPalette",
	0x28: "ClientThreadSetup",
	0x2a: "ReplyMessage",
	0x2b: "SetCaretBlinkTime",
	0x2c: "SetDoubleClickTime",
	0x2d: "ShowCursor",
	0x2e: "StartShowGlass",
	0x2f: "SwapMouseButton",
	0x30: "SetMessageExtraInfo",
	0x31: "UserRegisterWowHandlers",
	0x33: "GetProcessDefaultLayout",
	0x34: "SetProcessDefaultLayout",
	0x37: "GetWinStationInfo",
	0x38: "unknown",
}

// CallOneParam answers NtUserCallOneParam for the calling thread t.
func (m *Manager) CallOneParam(t *ps.Thread, param, index uint32) uint32 {
	switch index {
	case NTUCOP_GETWNDPTR:
		m.Config.Debugf("get window pointer %08x\n", param)
		w := m.Window(param)
		if w == nil {
			return 0
		}
		return w.UserAddr(t.Process)
	case NTUCOP_POSTQUITMESSAGE:
		m.Config.Debugf("post quit %08x\n", param)
		if t.Queue != nil {
			t.Queue.PostQuitMessage(param)
		}
		return 1
	case NTUCOP_RELEASEDC:
		return boolArg(m.ReleaseDC(param))
	}
	if name, ok := oneParamNames[index]; ok {
		m.Config.Debugf("%s (%08x)\n", name, param)
		return 1
	}
	return 0
}

var twoParamNames = map[uint32]string{
	0x53: "EnableWindow",
	0x55: "ShowOwnedPopups",
	0x56: "SwitchToThisWindow",
	0x57: "ValidateRgn",
	0x59: "GetMonitorInfo",
	0x5b: "RegisterLogonProcess",
	0x5c: "RegisterSystemThread",
	0x5e: "SetCaretPos",
	0x5f: "SetCursorPos",
	0x60: "UnhookWindowsHook",
	0x61: "UserRegisterWowHandlers",
}

// CallTwoParam logs the call and succeeds.
func (m *Manager) CallTwoParam(param1, param2, index uint32) uint32 {
	if name, ok := twoParamNames[index]; ok {
		m.Config.Debugf("%s (%08x, %08x)\n", name, param1, param2)
	} else {
		m.Config.Debugf("%d (%08x, %08x)\n", index, param1, param2)
	}
	return 1
}
