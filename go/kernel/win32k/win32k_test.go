package win32k

import (
	"bytes"
	"encoding/binary"
	"io/ioutil"
	"testing"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/fiber"
	"github.com/lunixbochs/ntcorn/go/kernel/gdi"
	"github.com/lunixbochs/ntcorn/go/kernel/mm"
	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/kernel/ps"
	"github.com/lunixbochs/ntcorn/go/loader"
	"github.com/lunixbochs/ntcorn/go/loader/pebuild"
	"github.com/lunixbochs/ntcorn/go/models"
)

const callbackRVA = 0x10

type syscallMachine struct{}

func (syscallMachine) Run(t *ps.Thread) (ps.Trap, error) { return ps.Trap{Kind: ps.TrapSyscall}, nil }
func (syscallMachine) Close() error                      { return nil }

type dispatchFunc func(t *ps.Thread, trap ps.Trap)

func (f dispatchFunc) Dispatch(t *ps.Thread, trap ps.Trap) { f(t, trap) }

func imageSection(t *testing.T, raw []byte) *mm.Section {
	img, err := loader.Load(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	sec, err := mm.NewImageSection(img)
	if err != nil {
		t.Fatal(err)
	}
	return sec
}

// harness runs one guest thread whose first trap calls body. Window
// procedure calls are recorded and answered with 0.
type harness struct {
	procs *ps.Manager
	m     *Manager
	proc  *ps.Process

	sent      []WindowProcArgs
	onMessage func(th *ps.Thread, args WindowProcArgs)
	body      func(th *ps.Thread)
}

func newHarness(t *testing.T) *harness {
	ntdll := pebuild.New(0x7c900000)
	ntdll.Dll = true
	ntdll.DllName = "ntdll.dll"
	text := ntdll.AddSection(pebuild.Section{Name: ".text", Data: make([]byte, 0x20), Characteristics: pebuild.SCN_CODE})
	ntdll.Export("KiUserCallbackDispatcher", text, callbackRVA)

	exe := pebuild.New(0x400000)
	code := exe.AddSection(pebuild.Section{Name: ".text", Data: []byte{0x90, 0xc3}, Characteristics: pebuild.SCN_CODE})
	exe.SetEntry(code, 0)

	config := &models.Config{Output: ioutil.Discard}
	h := &harness{}
	h.procs = ps.NewManager(config, fiber.NewScheduler(), ob.NewNamespace())
	h.procs.Ntdll = imageSection(t, ntdll.Bytes())
	h.procs.NewMachine = func(p *ps.Process) (ps.Machine, error) { return syscallMachine{}, nil }
	h.procs.Dispatcher = dispatchFunc(h.dispatch)

	backend := gdi.NewSoft(nil)
	if err := backend.Init(); err != nil {
		t.Fatal(err)
	}
	h.m = NewManager(config, h.procs, backend)

	image := imageSection(t, exe.Bytes())
	p, err := h.procs.CreateProcess(image)
	ob.Release(image)
	if err != nil {
		t.Fatal(err)
	}
	h.proc = p
	return h
}

func (h *harness) close() {
	h.m.Close()
	ob.Release(h.proc)
	h.procs.Sched.Close()
}

func (h *harness) dispatch(th *ps.Thread, trap ps.Trap) {
	p := th.Process
	if th.Ctx.Eip == uint32(p.Ntdll.Base)+0x1000+callbackRVA {
		buf, _ := p.Space.ReadUint32(uint64(th.Ctx.Esp) + 8)
		var args WindowProcArgs
		models.StrucAt(p.Space, uint64(buf)).Unpack(&args)
		h.sent = append(h.sent, args)
		if h.onMessage != nil {
			h.onMessage(th, args)
		}
		if !th.Terminated() {
			th.CallbackReturn(0, nil)
		}
		return
	}
	if h.body != nil {
		h.body(th)
	}
	th.Terminate(0)
}

func (h *harness) newThread(t *testing.T, suspended bool) *ps.Thread {
	p := h.proc
	stack, size, err := p.Space.Allocate(0, 0x10000, mm.MEM_COMMIT|mm.MEM_RESERVE, mm.PAGE_READWRITE)
	if err != nil {
		t.Fatal(err)
	}
	ctx := ps.InitContext()
	ctx.Eip = p.Entry()
	ctx.Esp = uint32(stack + size - 8)
	th, err := h.procs.CreateThread(p, &ctx, &ps.InitialTeb{StackCommit: uint32(stack + size), StackReserved: uint32(stack)}, suspended)
	if err != nil {
		t.Fatal(err)
	}
	return th
}

// run starts a thread executing body and waits for every fiber to finish.
func (h *harness) run(t *testing.T, body func(th *ps.Thread)) {
	h.body = body
	th := h.newThread(t, false)
	for !h.procs.Sched.LastFiber() {
		h.procs.Sched.Yield()
	}
	ob.Release(th)
}

func (h *harness) messages() []uint32 {
	var list []uint32
	for _, args := range h.sent {
		list = append(list, args.Msg)
	}
	return list
}

func sameMessages(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func names(msgs []uint32) []string {
	var list []string
	for _, msg := range msgs {
		list = append(list, MessageName(msg))
	}
	return list
}

// setup connects th and registers the "test" class.
func (h *harness) setup(t *testing.T, th *ps.Thread) bool {
	if err := h.m.GdiInit(th); err != nil {
		t.Errorf("GdiInit: %v", err)
		return false
	}
	info := &WndClassEx{Size: WndClassExSize, WndProc: 0x401000}
	if _, err := h.m.RegisterClass(info, "test", ""); err != nil {
		t.Errorf("RegisterClass: %v", err)
		return false
	}
	return true
}

func TestArenaDisjoint(t *testing.T) {
	mem := make([]byte, 0x2000)
	a := NewArena(mem, 0x100)
	type block struct{ off, size uint32 }
	var live []block
	sizes := []uint32{1, 16, 17, 40, 100, 3}
	for i := 0; i < 40; i++ {
		size := sizes[i%len(sizes)]
		off, ok := a.Alloc(size)
		if !ok {
			t.Fatalf("alloc %d of %d failed", i, size)
		}
		for j := off; j < off+size; j++ {
			if mem[j] != 0 {
				t.Fatalf("block at %#x not zeroed", off)
			}
			mem[j] = 0xff
		}
		live = append(live, block{off, size})
		// free every third block so later ones reuse the holes
		if i%3 == 2 {
			a.Free(live[0].off, live[0].size)
			live = live[1:]
		}
	}
	for i, x := range live {
		if x.off < 0x100 {
			t.Fatalf("block %#x below the reserve", x.off)
		}
		for _, y := range live[i+1:] {
			if x.off < y.off+y.size && y.off < x.off+x.size {
				t.Fatalf("blocks overlap: %#x+%d and %#x+%d", x.off, x.size, y.off, y.size)
			}
		}
		if !a.InUse(x.off, x.size) {
			t.Fatalf("live block %#x not in use", x.off)
		}
	}

	free := a.Available()
	if _, ok := a.Alloc(uint32(free+1) * granule); ok {
		t.Fatal("allocation larger than the arena succeeded")
	}
	if a.Available() != free {
		t.Fatal("failed allocation changed the arena")
	}
}

type fakeObject struct {
	addr  uint32
	ht    *HandleTable
	h     uint32
	freed bool
}

func (o *fakeObject) KernelAddr() uint32 { return o.addr }

func (o *fakeObject) free() {
	o.freed = true
	o.ht.Free(o.h)
}

func TestHandleReuse(t *testing.T) {
	var published uint32
	ht, err := NewHandleTable(func(max uint32) { published = max })
	if err != nil {
		t.Fatal(err)
	}
	live := make(map[uint32]*fakeObject)
	for i := 0; i < 0x1ff; i++ {
		o := &fakeObject{addr: 0x1000 + uint32(i)*0x10, ht: ht}
		o.h = ht.Alloc(o, USER_HANDLE_WINDOW, nil)
		if o.h == 0 {
			t.Fatalf("alloc %d failed", i)
		}
		if live[o.h&0xffff] != nil {
			t.Fatalf("index %#x handed out twice", o.h&0xffff)
		}
		live[o.h&0xffff] = o
	}
	if published != 0x200 || ht.Max() != 0x200 {
		t.Fatalf("max_window_handle = %#x", published)
	}
	if h := ht.Alloc(&fakeObject{}, USER_HANDLE_WINDOW, nil); h != 0 {
		t.Fatalf("full table returned %#x", h)
	}
	entry := ht.Section.Data()[userHandleEntrySize:]
	if binary.LittleEndian.Uint32(entry[4:]) != live[1].addr || binary.LittleEndian.Uint16(entry[10:]) != 1 {
		t.Fatal("shared entry 1 not mirrored")
	}

	for idx, o := range live {
		if idx%2 == 0 {
			ht.Free(o.h)
			delete(live, idx)
		}
	}
	failed := 0
	for i := 0; i < 0x100; i++ {
		o := &fakeObject{ht: ht}
		o.h = ht.Alloc(o, USER_HANDLE_WINDOW, nil)
		if o.h == 0 {
			failed++
			continue
		}
		idx := o.h & 0xffff
		if idx%2 != 0 {
			t.Fatalf("odd index %#x reused while live", idx)
		}
		if live[idx] != nil {
			t.Fatalf("index %#x handed out twice", idx)
		}
		live[idx] = o
	}
	if failed != 1 {
		t.Fatalf("%d allocations failed, want 1", failed)
	}
	if ht.Count() != 0x1ff {
		t.Fatalf("%d live handles", ht.Count())
	}
}

func TestHandleLookup(t *testing.T) {
	ht, err := NewHandleTable(nil)
	if err != nil {
		t.Fatal(err)
	}
	o := &fakeObject{addr: 0xbf810000, ht: ht}
	o.h = ht.Alloc(o, USER_HANDLE_WINDOW, nil)
	if ht.Get(o.h, USER_HANDLE_WINDOW) != o {
		t.Fatal("lookup failed")
	}
	// the high part is not checked
	if ht.Get(o.h&0xffff, USER_HANDLE_WINDOW) != o {
		t.Fatal("lookup by index failed")
	}
	for _, h := range []uint32{0, o.h + 1, MaxUserHandles, 0xffff} {
		if ht.Get(h, USER_HANDLE_WINDOW) != nil {
			t.Errorf("bad handle %#x resolved", h)
		}
	}
	if ht.Get(o.h, 5) != nil {
		t.Error("wrong type resolved")
	}
	ht.Free(o.h)
	if ht.Get(o.h, USER_HANDLE_WINDOW) != nil {
		t.Error("freed handle resolved")
	}
}

func TestFreeProcessHandles(t *testing.T) {
	ht, err := NewHandleTable(nil)
	if err != nil {
		t.Fatal(err)
	}
	a, b := &ps.Process{ID: 1}, &ps.Process{ID: 2}
	var objs []*fakeObject
	for i := 0; i < 6; i++ {
		owner := a
		if i%2 == 1 {
			owner = b
		}
		o := &fakeObject{ht: ht}
		o.h = ht.Alloc(o, USER_HANDLE_WINDOW, owner)
		objs = append(objs, o)
	}
	if owner := ht.Owner(objs[1].h); owner != b {
		t.Fatal("wrong owner")
	}
	if n := ht.FreeProcessHandles(a); n != 3 {
		t.Fatalf("freed %d handles", n)
	}
	for i, o := range objs {
		if o.freed != (i%2 == 0) {
			t.Errorf("object %d freed = %v", i, o.freed)
		}
	}
	if ht.Count() != 3 {
		t.Fatalf("%d handles left", ht.Count())
	}
}

// newWindow links a bare window with no thread, so messages are dropped.
func newWindow(t *testing.T, m *Manager, parent *Window, style uint32, rc Rect) *Window {
	return newOwnedWindow(t, m, parent, nil, style, rc)
}

func newOwnedWindow(t *testing.T, m *Manager, parent *Window, owner *ps.Process, style uint32, rc Rect) *Window {
	off, ok := m.Arena().Alloc(wndSize)
	if !ok {
		t.Fatal("arena full")
	}
	w := &Window{m: m, Offset: off, Style: style, Window: rc, Client: rc}
	w.Handle = m.Handles.Alloc(w, USER_HANDLE_WINDOW, owner)
	if w.Handle == 0 {
		t.Fatal("handle table full")
	}
	w.link(parent)
	return w
}

func newBareManager(t *testing.T) *Manager {
	m := NewManager(&models.Config{Output: ioutil.Discard}, nil, nil)
	if _, err := m.CreateDesktop(nil); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestFindWindowToRepaint(t *testing.T) {
	m := newBareManager(t)
	defer m.Close()
	rc := Rect{0, 0, 10, 10}
	a := newWindow(t, m, m.Desktop, WS_VISIBLE, rc)
	b := newWindow(t, m, m.Desktop, WS_VISIBLE, rc)
	a1 := newWindow(t, m, a, WS_VISIBLE, rc)
	a11 := newWindow(t, m, a1, WS_VISIBLE, rc)
	b1 := newWindow(t, m, b, WS_VISIBLE, rc)

	if m.FindWindowToRepaint(0) != nil {
		t.Fatal("found a window with nothing invalid")
	}
	m.Desktop.Invalidate(nil)
	if m.FindWindowToRepaint(0) != nil {
		t.Fatal("the desktop itself was returned")
	}
	m.Desktop.Invalid = Rect{}
	for _, w := range []*Window{a, b, a1, a11, b1} {
		w.Invalidate(nil)
		if found := m.FindWindowToRepaint(0); found != w {
			t.Errorf("invalid %08x, found %v", w.Handle, found)
		}
		if found := m.FindWindowToRepaint(w.Handle); found != w {
			t.Errorf("search from %08x missed it", w.Handle)
		}
		paint, _ := w.BeginPaint()
		if paint != (Rect{0, 0, 10, 10}) {
			t.Errorf("paint rect %+v", paint)
		}
		if m.FindWindowToRepaint(0) != nil {
			t.Errorf("%08x still invalid after BeginPaint", w.Handle)
		}
	}

	hidden := newWindow(t, m, b1, 0, rc)
	hidden.Invalidate(nil)
	if m.FindWindowToRepaint(0) != nil {
		t.Fatal("hidden window was invalidated")
	}
}

func TestWindowFromPoint(t *testing.T) {
	m := newBareManager(t)
	defer m.Close()
	first := newWindow(t, m, m.Desktop, WS_VISIBLE, Rect{0, 0, 100, 100})
	second := newWindow(t, m, m.Desktop, WS_VISIBLE, Rect{50, 50, 150, 150})
	// grandchildren are never considered
	newWindow(t, m, second, WS_VISIBLE, Rect{200, 200, 300, 300})

	tests := []struct {
		pt   Point
		want *Window
	}{
		{Point{10, 10}, first},
		// both contain it and the most recent child comes first
		{Point{60, 60}, second},
		{Point{120, 120}, second},
		{Point{250, 250}, m.Desktop},
		{Point{100, 10}, m.Desktop},
	}
	for _, test := range tests {
		if h := m.WindowFromPoint(test.pt); h != test.want.Handle {
			t.Errorf("WindowFromPoint(%v) = %08x, want %08x", test.pt, h, test.want.Handle)
		}
	}
}

func TestFreeChildren(t *testing.T) {
	m := newBareManager(t)
	defer m.Close()
	free := m.Arena().Available()
	rc := Rect{0, 0, 10, 10}
	parent := newWindow(t, m, m.Desktop, WS_VISIBLE, rc)
	child := newWindow(t, m, parent, WS_VISIBLE, rc)
	grandchild := newWindow(t, m, child, WS_VISIBLE, rc)
	m.Active = grandchild
	if !parent.Destroy() {
		t.Fatal("Destroy failed")
	}
	for _, w := range []*Window{parent, child, grandchild} {
		if !w.Dead() || m.Window(w.Handle) != nil {
			t.Errorf("window %08x survived", w.Handle)
		}
	}
	if m.Active != nil {
		t.Error("active window not cleared")
	}
	if m.Desktop.FirstChild != nil {
		t.Error("desktop still has children")
	}
	if m.Arena().Available() != free {
		t.Error("window storage leaked")
	}
	if parent.Destroy() {
		t.Error("second Destroy succeeded")
	}
}

func TestFreeProcessKeepsForeignWindows(t *testing.T) {
	m := NewManager(&models.Config{Output: ioutil.Discard}, nil, nil)
	defer m.Close()
	a, b := &ps.Process{ID: 1}, &ps.Process{ID: 2}
	desktop, err := m.CreateDesktop(a)
	if err != nil {
		t.Fatal(err)
	}
	rc := Rect{0, 0, 10, 10}
	mine := newOwnedWindow(t, m, desktop, a, WS_VISIBLE, rc)
	theirs := newOwnedWindow(t, m, desktop, b, WS_VISIBLE, rc)
	nested := newOwnedWindow(t, m, mine, b, WS_VISIBLE, rc)

	m.Handles.FreeProcessHandles(a)
	for _, w := range []*Window{desktop, mine} {
		if !w.Dead() || m.Window(w.Handle) != nil {
			t.Errorf("window %08x of the exiting process survived", w.Handle)
		}
	}
	for _, w := range []*Window{theirs, nested} {
		if w.Dead() || m.Window(w.Handle) != w {
			t.Errorf("window %08x of a live process was freed", w.Handle)
		}
		if w.Parent != nil || w.Next != nil {
			t.Errorf("window %08x still linked to freed windows", w.Handle)
		}
		if m.Handles.Owner(w.Handle) != b {
			t.Errorf("window %08x changed owner", w.Handle)
		}
	}
	if m.Handles.Count() != 2 {
		t.Fatalf("%d handles left", m.Handles.Count())
	}
	m.Handles.FreeProcessHandles(b)
	if !theirs.Dead() || !nested.Dead() || m.Handles.Count() != 0 {
		t.Fatalf("%d handles left after both processes exited", m.Handles.Count())
	}
}

func TestCloseFreesOrphans(t *testing.T) {
	m := NewManager(&models.Config{Output: ioutil.Discard}, nil, nil)
	a, b := &ps.Process{ID: 1}, &ps.Process{ID: 2}
	desktop, err := m.CreateDesktop(a)
	if err != nil {
		t.Fatal(err)
	}
	orphan := newOwnedWindow(t, m, desktop, b, WS_VISIBLE, Rect{0, 0, 10, 10})
	m.Handles.FreeProcessHandles(a)
	m.Close()
	if !orphan.Dead() {
		t.Fatal("Close left an orphaned window alive")
	}
}

func TestClassFirstMatch(t *testing.T) {
	m := NewManager(&models.Config{Output: ioutil.Discard}, nil, nil)
	defer m.Close()
	first := &WndClassEx{Size: WndClassExSize, WndProc: 0x1000}
	second := &WndClassEx{Size: WndClassExSize, WndProc: 0x2000}
	for _, info := range []*WndClassEx{first, second} {
		atom, err := m.RegisterClass(info, "Dup", "menu")
		if err != nil {
			t.Fatal(err)
		}
		if atom != ClassAtom {
			t.Fatalf("atom = %#x", atom)
		}
	}
	if c := m.FindClass("Dup"); c == nil || c.Info.WndProc != 0x1000 {
		t.Fatal("lookup did not return the first registration")
	}
	if m.FindClass("dup") != nil {
		t.Fatal("lookup is case sensitive")
	}
	if len(m.Classes) != 2 {
		t.Fatalf("%d classes", len(m.Classes))
	}
}

func TestCreateDestroy(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	var before, after []*Window
	var created *Window
	var createErr error
	var createMsgs []uint32
	var handles, freeArena int
	h.run(t, func(th *ps.Thread) {
		if !h.setup(t, th) {
			return
		}
		cp := &CreateParams{ClassName: "test", X: 1, Y: 2, Cx: 30, Cy: 40}
		if _, err := h.m.CreateWindow(th, cp); err != nil {
			t.Errorf("first window: %v", err)
			return
		}
		before = h.m.Desktop.Children()
		handles = h.m.Handles.Count()
		freeArena = h.m.Arena().Available()
		h.sent = nil
		created, createErr = h.m.CreateWindow(th, cp)
		if createErr != nil {
			return
		}
		createMsgs = h.messages()
		if h.m.Desktop.FirstChild != created {
			t.Error("new window is not the first child")
		}
		created.Destroy()
		after = h.m.Desktop.Children()
		if h.m.Handles.Count() != handles || h.m.Arena().Available() != freeArena {
			t.Error("destroy leaked a handle or storage")
		}
	})
	if createErr != nil {
		t.Fatal(createErr)
	}
	want := []uint32{WM_GETMINMAXINFO, WM_NCCREATE, WM_NCCALCSIZE, WM_CREATE}
	if !sameMessages(createMsgs, want) {
		t.Fatalf("create sent %v", names(createMsgs))
	}
	if len(before) != len(after) {
		t.Fatalf("child list %d -> %d", len(before), len(after))
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("child list changed")
		}
	}
	if created.Window != (Rect{1, 2, 31, 42}) {
		t.Errorf("window rect %+v", created.Window)
	}
	if !created.Dead() {
		t.Error("destroyed window not dead")
	}
}

func TestCreateVisible(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	var w *Window
	var err error
	h.run(t, func(th *ps.Thread) {
		if !h.setup(t, th) {
			return
		}
		h.sent = nil
		w, err = h.m.CreateWindow(th, &CreateParams{ClassName: "test", Style: WS_VISIBLE, X: CW_USEDEFAULT, Y: CW_USEDEFAULT, Cx: CW_USEDEFAULT, Cy: CW_USEDEFAULT})
	})
	if err != nil {
		t.Fatal(err)
	}
	got := h.messages()
	changed, move := -1, -1
	for i, msg := range got {
		switch msg {
		case WM_WINDOWPOSCHANGED:
			if changed < 0 {
				changed = i
			}
		case WM_MOVE:
			move = i
		}
	}
	if changed < 0 || move < 0 || changed > move {
		t.Fatalf("POSCHANGED must precede MOVE: %v", names(got))
	}
	if w.Window != (Rect{0, 0, 100, 100}) {
		t.Errorf("default rect %+v", w.Window)
	}
	if w.Style&WS_CLIPSIBLINGS == 0 {
		t.Error("WS_CLIPSIBLINGS not set")
	}
}

func TestMoveWindow(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	var w *Window
	var err error
	var rcs []Rect
	h.onMessage = func(th *ps.Thread, args WindowProcArgs) {
		if w != nil {
			rcs = append(rcs, w.Window)
		}
	}
	h.run(t, func(th *ps.Thread) {
		if !h.setup(t, th) {
			return
		}
		if w, err = h.m.CreateWindow(th, &CreateParams{ClassName: "test", Cx: 20, Cy: 20}); err != nil {
			return
		}
		if h.m.Desktop.Window != (Rect{0, 0, gdi.ScreenWidth, gdi.ScreenHeight}) {
			t.Errorf("desktop rect %+v", h.m.Desktop.Window)
		}
		h.sent = nil
		rcs = nil
		w.Move(10, 10, 50, 60, true)
	})
	if err != nil {
		t.Fatal(err)
	}
	if w.Window != (Rect{10, 10, 60, 70}) || w.Client != w.Window {
		t.Fatalf("rect after move %+v %+v", w.Window, w.Client)
	}
	want := []uint32{WM_WINDOWPOSCHANGING, WM_NCCALCSIZE, WM_WINDOWPOSCHANGED}
	if !sameMessages(h.messages(), want) {
		t.Fatalf("move sent %v", names(h.messages()))
	}
	// POSCHANGING sees the old position
	if rcs[0] != (Rect{0, 0, 20, 20}) || rcs[2] != w.Window {
		t.Errorf("rects during move %+v", rcs)
	}
	for _, args := range h.sent {
		if args.Wnd != w.Handle || args.Proc != 0x401000 {
			t.Errorf("bad window proc args %+v", args)
		}
		if args.DataSize == 0 {
			t.Errorf("%s sent without its structure", MessageName(args.Msg))
		}
	}
}

func TestNestedDestroy(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	var w *Window
	var err error
	var outer, nested bool
	h.onMessage = func(th *ps.Thread, args WindowProcArgs) {
		if w != nil && args.Msg == WM_DESTROY {
			nested = w.Destroy()
		}
	}
	h.run(t, func(th *ps.Thread) {
		if !h.setup(t, th) {
			return
		}
		if w, err = h.m.CreateWindow(th, &CreateParams{ClassName: "test", Cx: 10, Cy: 10}); err != nil {
			return
		}
		h.sent = nil
		outer = w.Destroy()
		// a freed window never reaches its procedure
		if err := w.Send(&Message{Msg: WM_PAINT}); err != nil {
			t.Errorf("send to freed window: %v", err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if !outer || nested {
		t.Fatalf("Destroy returned %v, nested Destroy returned %v", outer, nested)
	}
	want := []uint32{WM_DESTROY, WM_NCDESTROY}
	if !sameMessages(h.messages(), want) {
		t.Fatalf("destroy sent %v", names(h.messages()))
	}
	if !w.Dead() {
		t.Fatal("window not freed")
	}
}

func TestSendTerminated(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	th := h.newThread(t, true)
	defer ob.Release(th)
	w := &Window{m: h.m, Thread: th, Handle: 0x10001}
	esp := th.Ctx.Esp
	th.Terminate(0)
	err := w.Send(&Message{Msg: WM_PAINT})
	if models.StatusOf(errors.Cause(err)) != models.STATUS_THREAD_IS_TERMINATING {
		t.Fatalf("send to terminated thread returned %v", err)
	}
	if th.Ctx.Esp != esp {
		t.Fatal("stack touched")
	}
	for !h.procs.Sched.LastFiber() {
		h.procs.Sched.Yield()
	}
	if len(h.sent) != 0 {
		t.Fatal("window procedure ran")
	}
}

func TestTerminateDuringCreate(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	h.onMessage = func(th *ps.Thread, args WindowProcArgs) {
		if args.Msg == WM_NCCREATE {
			th.Terminate(0)
		}
	}
	var w *Window
	var err error
	h.run(t, func(th *ps.Thread) {
		if !h.setup(t, th) {
			return
		}
		w, err = h.m.CreateWindow(th, &CreateParams{ClassName: "test", Style: WS_VISIBLE, Cx: 10, Cy: 10})
	})
	if w != nil || models.StatusOf(errors.Cause(err)) != models.STATUS_THREAD_IS_TERMINATING {
		t.Fatalf("CreateWindow returned %v %v", w, err)
	}
	if last := h.sent[len(h.sent)-1].Msg; last != WM_NCCREATE {
		t.Fatalf("%s delivered after termination", MessageName(last))
	}
	// the process exited, taking its windows and the desktop with it
	if h.m.Handles.Count() != 0 {
		t.Fatalf("%d user handles left", h.m.Handles.Count())
	}
}

func TestProcessConnect(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	p := h.proc
	if err := h.m.ProcessConnect(p, make([]byte, 12)); models.StatusOf(errors.Cause(err)) != models.STATUS_UNSUCCESSFUL {
		t.Fatalf("short buffer: %v", err)
	}
	bad, _ := models.Pack(&ConnectInfo{Version: 0x40000})
	if err := h.m.ProcessConnect(p, bad); models.StatusOf(errors.Cause(err)) != models.STATUS_UNSUCCESSFUL {
		t.Fatalf("old version: %v", err)
	}

	buf, _ := models.Pack(&ConnectInfo{Version: ConnectVersion})
	buf = append(buf, make([]byte, 8)...)
	if err := h.m.ProcessConnect(p, buf); err != nil {
		t.Fatal(err)
	}
	var info ConnectInfo
	if err := models.Unpack(buf, &info); err != nil {
		t.Fatal(err)
	}
	shared := uint32(p.Win32.UserSharedMem)
	if info.Ptr[0] != shared || info.Ptr[1] != uint32(p.Win32.UserHandles) {
		t.Fatalf("bad pointers %x", info.Ptr)
	}
	for i, mp := range info.MessageMap {
		switch i {
		case messageMapBitmapA, messageMapBitmapB:
			if mp.MaxMessage != messageMapLast || mp.Bitmap < shared+SharedReserve || mp.Bitmap >= shared+SharedSize {
				t.Errorf("map %#x = %+v", i, mp)
			}
		default:
			if mp.MaxMessage != 0 || mp.Bitmap != uint32(i) {
				t.Errorf("map %#x = %+v", i, mp)
			}
		}
	}
	if v := p.Space.Find(p.Win32.UserSharedMem); v == nil || v.Section != h.m.Shared {
		t.Fatal("shared memory not mapped")
	}
	if err := p.Space.GuestWrite(p.Win32.UserSharedMem, []byte{1}); err == nil {
		t.Fatal("shared memory is writable by the guest")
	}
}

func TestCallOneParam(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	var ptr, user, unknown, released uint32
	var dc uint32
	var dcLeft bool
	var quit ps.Message
	h.run(t, func(th *ps.Thread) {
		if !h.setup(t, th) {
			return
		}
		w, err := h.m.CreateWindow(th, &CreateParams{ClassName: "test", Cx: 10, Cy: 10})
		if err != nil {
			t.Error(err)
			return
		}
		ptr = h.m.CallOneParam(th, w.Handle, NTUCOP_GETWNDPTR)
		user = w.UserAddr(th.Process)
		unknown = h.m.CallOneParam(th, 0, 0x99)
		if h.m.CallOneParam(th, 0, 0x24) != 1 {
			t.Error("MessageBeep failed")
		}
		dc = h.m.GetDC(0)
		released = h.m.CallOneParam(th, dc, NTUCOP_RELEASEDC)
		dcLeft = h.m.DC(dc) != nil
		h.m.CallOneParam(th, 7, NTUCOP_POSTQUITMESSAGE)
		quit, _ = th.GetMessage()
	})
	if ptr == 0 || ptr != user {
		t.Errorf("window pointer %08x, want %08x", ptr, user)
	}
	if unknown != 0 {
		t.Error("unknown index succeeded")
	}
	// the window holds the first DC
	if dc != dcHandleBase+1 || released != 1 || dcLeft {
		t.Errorf("dc %08x released %d", dc, released)
	}
	if quit.Message != WM_QUIT || quit.WParam != 7 {
		t.Errorf("quit message %+v", quit)
	}
	if h.m.CallNoParam(7) != 0xfeed0007 || h.m.GetThreadState(0x11) != 1 || h.m.GetThreadState(1) != 0 {
		t.Error("bad canned answers")
	}
}

func TestDCTable(t *testing.T) {
	backend := gdi.NewSoft(nil)
	if err := backend.Init(); err != nil {
		t.Fatal(err)
	}
	dcs, err := NewDCTable(backend)
	if err != nil {
		t.Fatal(err)
	}
	a, b := dcs.Alloc(), dcs.Alloc()
	if a.Handle != dcHandleBase || b.Handle != dcHandleBase+1 {
		t.Fatalf("handles %08x %08x", a.Handle, b.Handle)
	}
	shared := dcs.Section.Data()[dcSize:]
	if binary.LittleEndian.Uint32(shared[DCAttrHandle:]) != b.Handle {
		t.Fatal("handle not published")
	}
	b.SetBounds(Rect{5, 6, 7, 8})
	if binary.LittleEndian.Uint32(shared[DCAttrBounds+4:]) != 6 {
		t.Fatal("bounds not published")
	}
	binary.LittleEndian.PutUint32(shared[DCAttrBrushColor:], gdi.RGB(1, 2, 3))
	if b.BrushColor() != gdi.RGB(1, 2, 3) {
		t.Fatal("guest brush colour not seen")
	}
	if !dcs.Release(a.Handle) || dcs.Get(a.Handle) != nil || dcs.Release(a.Handle) {
		t.Fatal("release")
	}
	if c := dcs.Alloc(); c.Index != 0 {
		t.Fatalf("slot %d reused, want 0", c.Index)
	}
	if dcs.Count() != 2 {
		t.Fatalf("%d DCs", dcs.Count())
	}
	none, _ := NewDCTable(nil)
	if none.Alloc() != nil {
		t.Fatal("DC without a backend")
	}
}

func TestSendInput(t *testing.T) {
	h := newHarness(t)
	defer h.close()
	th := h.newThread(t, true)
	defer ob.Release(th)
	m := h.m
	m.SendInput(gdi.Input{Type: gdi.INPUT_KEYBOARD, Vk: gdi.VK_LEFT})
	if m.AsyncKeyState(gdi.VK_LEFT) != 0x8000 {
		t.Fatal("key not down")
	}
	w := &Window{m: m, Thread: th, Handle: 0x10002}
	m.Active = w
	m.SendInput(gdi.Input{Type: gdi.INPUT_KEYBOARD, Vk: gdi.VK_LEFT, Flags: gdi.KEYEVENTF_KEYUP})
	m.SendInput(gdi.Input{Type: gdi.INPUT_MOUSE, X: 3, Y: 4, Flags: gdi.MOUSEEVENTF_MOVE | gdi.MOUSEEVENTF_LEFTDOWN})
	if m.AsyncKeyState(gdi.VK_LEFT) != 0 {
		t.Fatal("key still down")
	}
	if !m.HasActiveWindow() || th.Queue == nil {
		t.Fatal("no queue")
	}
	want := []uint32{WM_KEYUP, WM_MOUSEMOVE, WM_LBUTTONDOWN}
	var got []uint32
	for _, msg := range th.Queue.Posted {
		if msg.Hwnd != w.Handle {
			t.Errorf("posted to %08x", msg.Hwnd)
		}
		got = append(got, msg.Message)
	}
	if !sameMessages(got, want) {
		t.Fatalf("posted %v", names(got))
	}
	if th.Queue.Posted[1].LParam != 3|4<<16 {
		t.Errorf("mouse lparam %08x", th.Queue.Posted[1].LParam)
	}
	th.Terminate(0)
	for !h.procs.Sched.LastFiber() {
		h.procs.Sched.Yield()
	}
}
