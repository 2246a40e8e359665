package win32k

import (
	"github.com/lunixbochs/ntcorn/go/kernel/mm"
)

func (m *Manager) traceID() uint32 {
	if m.Procs != nil {
		if t := m.Procs.Current(); t != nil {
			return t.ID
		}
	}
	return 0
}

// sharedTracer reports guest reads of the shared section by what they hit:
// the header, a message map or a window.
type sharedTracer struct {
	m *Manager
}

func (tr *sharedTracer) OnAccess(v *mm.View, addr, pc uint64, write bool) {
	m := tr.m
	off := uint32(addr - v.Base)
	if off < SharedReserve {
		name := ""
		if off == sharedMaxWindowHandle {
			name = " (max_window_handle)"
		}
		m.Config.Printf("%04x: accessed ushm[%04x]%s from %08x\n", m.traceID(), off, name, pc)
		return
	}
	if tr.messageMap(off, pc) || tr.window(off, pc) {
		return
	}
	m.Config.Printf("%04x: accessed ushm[%04x] from %08x\n", m.traceID(), off, pc)
}

func (tr *sharedTracer) messageMap(off uint32, pc uint64) bool {
	m := tr.m
	for i, mp := range m.messageMaps {
		if mp.MaxMessage == 0 || off < mp.Bitmap {
			continue
		}
		rel := off - mp.Bitmap
		if rel > mp.MaxMessage/8 {
			continue
		}
		m.Config.Printf("%04x: accessed message map[%d][%04x] from %08x\n", m.traceID(), i, rel, pc)
		return true
	}
	return false
}

func (tr *sharedTracer) window(off uint32, pc uint64) bool {
	m := tr.m
	for _, w := range m.windows() {
		if off < w.Offset || off >= w.Offset+wndSize {
			continue
		}
		rel := off - w.Offset
		m.Config.Printf("%04x: accessed window[%08x][%04x] %s from %08x\n", m.traceID(), w.Handle, rel, wndFields[rel], pc)
		return true
	}
	return false
}

// handleTracer names the handle table entry field a guest touched.
type handleTracer struct {
	m *Manager
}

var handleFields = map[uint32]string{
	0:  "owner",
	4:  "object",
	8:  "type",
	10: "highpart",
}

func (tr *handleTracer) OnAccess(v *mm.View, addr, pc uint64, write bool) {
	off := uint32(addr - v.Base)
	field, ok := handleFields[off%userHandleEntrySize]
	if !ok {
		field = "unknown"
	}
	tr.m.Config.Printf("%04x: accessed user handle[%04x]+%s (%d) from %08x\n",
		tr.m.traceID(), off/userHandleEntrySize, field, off%userHandleEntrySize, pc)
}
