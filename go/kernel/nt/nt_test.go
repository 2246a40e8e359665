package nt

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lunixbochs/ntcorn/go/kernel/common"
	"github.com/lunixbochs/ntcorn/go/kernel/mm"
	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/kernel/ps"
	"github.com/lunixbochs/ntcorn/go/loader"
	"github.com/lunixbochs/ntcorn/go/loader/pebuild"
	"github.com/lunixbochs/ntcorn/go/models"
)

// scratch is a read-write block every test process gets for arguments
const (
	scratch     = 0x200000
	scratchSize = 0x10000
	argBlock    = scratch
	data        = scratch + 0x100
)

// call is one system call made by a scripted thread. setup may rewrite
// the call just before it is made, check sees EAX once it returns.
type call struct {
	name  string
	num   uint32
	args  []uint32
	edx   uint32
	fault bool
	setup func(th *ps.Thread, c *call)
	check func(th *ps.Thread, ret uint32)
}

// scriptMachine stands in for the CPU. Each Run makes the next call of the
// running thread's script; a thread whose script is exhausted terminates
// its process with status 0.
type scriptMachine struct {
	k       *Kernel
	t       *testing.T
	scripts [][]call
	threads map[*ps.Thread]*threadScript
}

type threadScript struct {
	calls   []call
	pending *call
}

func (m *scriptMachine) Run(th *ps.Thread) (ps.Trap, error) {
	s := m.threads[th]
	if s == nil {
		s = &threadScript{}
		if len(m.scripts) > 0 {
			s.calls, m.scripts = m.scripts[0], m.scripts[1:]
		}
		m.threads[th] = s
	}
	if c := s.pending; c != nil {
		s.pending = nil
		if c.check != nil {
			c.check(th, th.Ctx.Eax)
		}
	}
	c := call{name: "NtTerminateProcess", args: []uint32{currentProcess, 0}}
	if len(s.calls) > 0 {
		c, s.calls = s.calls[0], s.calls[1:]
	}
	if c.setup != nil {
		c.setup(th, &c)
	}
	if c.fault {
		return ps.Trap{Kind: ps.TrapFault, Addr: uint64(th.Ctx.Eip)}, nil
	}
	num := c.num
	if c.name != "" {
		var ok bool
		if num, ok = m.k.ServiceNumber(c.name); !ok {
			m.t.Errorf("no service %s", c.name)
		}
	}
	edx := c.edx
	if edx == 0 {
		edx = argBlock
		var buf bytes.Buffer
		for _, a := range c.args {
			buf.Write([]byte{byte(a), byte(a >> 8), byte(a >> 16), byte(a >> 24)})
		}
		if err := th.Process.Space.MemWrite(argBlock, buf.Bytes()); err != nil {
			m.t.Errorf("writing arguments: %v", err)
		}
	}
	th.Ctx.Eax = num
	th.Ctx.Edx = edx
	s.pending = &c
	return ps.Trap{Kind: ps.TrapSyscall}, nil
}

func (m *scriptMachine) Close() error {
	return nil
}

func buildExe() []byte {
	b := pebuild.New(0x400000)
	text := b.AddSection(pebuild.Section{Name: ".text", Data: []byte{0x90, 0xc3}, Characteristics: pebuild.SCN_CODE})
	b.SetEntry(text, 0)
	return b.Bytes()
}

func buildNtdll(exports ...string) []byte {
	b := pebuild.New(0x7c900000)
	b.Dll = true
	b.DllName = "ntdll.dll"
	text := b.AddSection(pebuild.Section{Name: ".text", Data: make([]byte, 0x40), Characteristics: pebuild.SCN_CODE})
	for i, name := range exports {
		b.Export(name, text, uint32(0x10+i*4))
	}
	return b.Bytes()
}

type testSession struct {
	*Kernel
	root string
	out  bytes.Buffer
}

func (s *testSession) Close() {
	s.Kernel.Close()
	os.RemoveAll(s.root)
}

// newSession boots a kernel on a temporary drive holding smss.exe and an
// ntdll with the given exports. Each new thread takes the next script.
func newSession(t *testing.T, trace bool, ntdllExports []string, scripts ...[]call) *testSession {
	root, err := ioutil.TempDir("", "ntcorn-nt")
	if err != nil {
		t.Fatal(err)
	}
	sys := filepath.Join(root, "WINNT", "system32")
	os.MkdirAll(sys, 0755)
	ioutil.WriteFile(filepath.Join(sys, "smss.exe"), buildExe(), 0644)
	ioutil.WriteFile(filepath.Join(sys, "ntdll.dll"), buildNtdll(ntdllExports...), 0644)

	s := &testSession{root: root}
	s.Kernel = NewKernel(&models.Config{Output: &s.out, DriveRoot: root, Trace: trace}, nil)
	m := &scriptMachine{k: s.Kernel, t: t, scripts: scripts, threads: make(map[*ps.Thread]*threadScript)}
	s.Procs.NewMachine = func(p *ps.Process) (ps.Machine, error) {
		if _, _, err := p.Space.Allocate(scratch, scratchSize, mm.MEM_COMMIT|mm.MEM_RESERVE, mm.PAGE_READWRITE); err != nil {
			return nil, err
		}
		return m, nil
	}
	if err := s.Boot(); err != nil {
		s.Close()
		t.Fatal(err)
	}
	return s
}

var defaultExports = []string{"KiUserCallbackDispatcher"}

func (s *testSession) run(t *testing.T) models.ExitStatus {
	status, err := s.Run(models.DefaultExe, "smss.exe")
	if err != nil {
		t.Fatal(err)
	}
	return status
}

func read32(t *testing.T, th *ps.Thread, addr uint64) uint32 {
	v, err := th.Process.Space.ReadUint32(addr)
	if err != nil {
		t.Errorf("read %#x: %v", addr, err)
	}
	return v
}

func write32(t *testing.T, th *ps.Thread, addr uint64, v uint32) {
	if err := th.Process.Space.WriteUint32(addr, v); err != nil {
		t.Errorf("write %#x: %v", addr, err)
	}
}

// writeObjectAttributes builds an OBJECT_ATTRIBUTES naming name at addr.
func writeObjectAttributes(t *testing.T, th *ps.Thread, addr uint64, name string) {
	str := models.EncodeUTF16(name)
	space := th.Process.Space
	if err := space.MemWrite(addr+0x40, str); err != nil {
		t.Error(err)
	}
	us := common.UnicodeStringHeader{Length: uint16(len(str)), MaximumLength: uint16(len(str)), Buffer: uint32(addr + 0x40)}
	if err := models.StrucAt(space, addr+0x20).Pack(&us); err != nil {
		t.Error(err)
	}
	oa := common.ObjectAttributesHeader{Length: 24, ObjectName: uint32(addr + 0x20), Attributes: common.OBJ_CASE_INSENSITIVE}
	if err := models.StrucAt(space, addr).Pack(&oa); err != nil {
		t.Error(err)
	}
}

func expect(t *testing.T, name string, want models.Status) func(th *ps.Thread, ret uint32) {
	return func(th *ps.Thread, ret uint32) {
		if models.Status(ret) != want {
			t.Errorf("%s = %v, want %v", name, models.Status(ret), want)
		}
	}
}

func TestBootNamespace(t *testing.T) {
	s := newSession(t, false, defaultExports)
	defer s.Close()
	for _, c := range []struct {
		path, typ string
		link      bool
	}{
		{`\BaseNamedObjects`, "Directory", false},
		{`\Device\MailSlot`, "Directory", false},
		{`\DosDevices`, "SymbolicLink", true},
		{`\DosDevices`, "Directory", false},
		{`\SeLsaInitEvent`, "Event", false},
		{`\KernelObjects\CritSecOutOfMemoryEvent`, "Event", false},
	} {
		o, err := s.Namespace.Lookup(c.path, nil, c.link)
		if err != nil {
			t.Errorf("%s: %v", c.path, err)
			continue
		}
		if ob.TypeName(o) != c.typ {
			t.Errorf("%s is a %s, want %s", c.path, ob.TypeName(o), c.typ)
		}
		ob.Release(o)
	}
	if s.XP {
		t.Error("ntdll without KiIntSystemCall selected the XP table")
	}
	if s.Procs.Ntdll == nil || s.Procs.Ntdll.Image.ImageBase != 0x7c900000 {
		t.Fatal("ntdll not loaded")
	}
}

func TestServiceTables(t *testing.T) {
	s := newSession(t, false, []string{"KiUserCallbackDispatcher", "KiIntSystemCall"})
	defer s.Close()
	if !s.XP {
		t.Fatal("KiIntSystemCall should select the XP table")
	}
	if num, ok := s.ServiceNumber("NtClose"); !ok || num != 0x19 {
		t.Errorf("xp NtClose = %#x", num)
	}
	s.selectServices(false)
	if num, ok := s.ServiceNumber("NtClose"); !ok || num != 0x18 {
		t.Errorf("2k NtClose = %#x", num)
	}
	for _, e := range serviceTable {
		num, ok := s.ServiceNumber(e.Name)
		if !ok || num != e.W2K {
			t.Errorf("%s = %#x, want %#x", e.Name, num, e.W2K)
			continue
		}
		if name, ok := s.ServiceName(num); !ok || name != e.Name {
			t.Errorf("%#x = %s, want %s", num, name, e.Name)
		}
	}
	if _, ok := s.ServiceName(0xfff); ok {
		t.Error("0xfff should be unknown")
	}
}

func TestExitStatus(t *testing.T) {
	s := newSession(t, false, defaultExports, []call{
		{name: "NtTerminateProcess", args: []uint32{currentProcess, 3}},
	})
	defer s.Close()
	if status := s.run(t); status != 3 {
		t.Fatalf("exit status %d", status)
	}
	if s.Deadlock || len(s.Procs.Processes) != 0 {
		t.Fatal("session should end with its process")
	}
}

func TestVirtualMemory(t *testing.T) {
	var base uint32
	s := newSession(t, false, defaultExports, []call{
		{
			name: "NtAllocateVirtualMemory",
			args: []uint32{currentProcess, data, 0, data + 4, mm.MEM_COMMIT | mm.MEM_RESERVE, mm.PAGE_READWRITE},
			setup: func(th *ps.Thread, c *call) {
				write32(t, th, data, 0)
				write32(t, th, data+4, 0x2800)
			},
			check: func(th *ps.Thread, ret uint32) {
				if ret != 0 {
					t.Errorf("allocate = %v", models.Status(ret))
				}
				base = read32(t, th, data)
				if base == 0 || base&0xfff != 0 {
					t.Errorf("bad base %#x", base)
				}
				if size := read32(t, th, data+4); size != 0x3000 {
					t.Errorf("size %#x not rounded to pages", size)
				}
			},
		},
		{
			name: "NtQueryVirtualMemory",
			setup: func(th *ps.Thread, c *call) {
				c.args = []uint32{currentProcess, base + 0x1000, 0, data + 0x20, 28, data + 0x40}
			},
			check: func(th *ps.Thread, ret uint32) {
				if ret != 0 {
					t.Errorf("query = %v", models.Status(ret))
				}
				var info mm.MemoryBasicInformation
				if err := models.StrucAt(th.Process.Space, data+0x20).Unpack(&info); err != nil {
					t.Error(err)
				}
				if info.BaseAddress != base+0x1000 || info.AllocationBase != base || info.RegionSize != 0x2000 {
					t.Errorf("bad region %+v", info)
				}
				if info.State != mm.MEM_COMMIT || info.Protect != mm.PAGE_READWRITE {
					t.Errorf("bad state %+v", info)
				}
				if n := read32(t, th, data+0x40); n != 28 {
					t.Errorf("return length %d", n)
				}
			},
		},
		{
			name: "NtQueryVirtualMemory",
			setup: func(th *ps.Thread, c *call) {
				c.args = []uint32{currentProcess, base, 0, data + 0x20, 8, 0}
			},
			check: expect(t, "short query", models.STATUS_INFO_LENGTH_MISMATCH),
		},
		{
			name: "NtFreeVirtualMemory",
			args: []uint32{currentProcess, data, data + 4, mm.MEM_RELEASE},
			setup: func(th *ps.Thread, c *call) {
				write32(t, th, data+4, 0)
			},
			check: expect(t, "free", models.STATUS_SUCCESS),
		},
		{
			name: "NtFreeVirtualMemory",
			args: []uint32{currentProcess, data, data + 4, mm.MEM_RELEASE},
			check: func(th *ps.Thread, ret uint32) {
				if ret == 0 {
					t.Error("double free succeeded")
				}
			},
		},
	})
	defer s.Close()
	s.run(t)
}

func TestSections(t *testing.T) {
	s := newSession(t, false, defaultExports, []call{
		{
			name: "NtCreateSection",
			args: []uint32{data, 0, 0, data + 8, mm.PAGE_READWRITE, mm.SEC_COMMIT, 0},
			setup: func(th *ps.Thread, c *call) {
				write32(t, th, data+8, 0x2000)
				write32(t, th, data+12, 0)
			},
			check: expect(t, "create section", models.STATUS_SUCCESS),
		},
		{
			name: "NtMapViewOfSection",
			setup: func(th *ps.Thread, c *call) {
				write32(t, th, data+0x10, 0)
				write32(t, th, data+0x14, 0)
				c.args = []uint32{read32(t, th, data), currentProcess, data + 0x10, 0, 0, 0, data + 0x14, 1, 0, mm.PAGE_READWRITE}
			},
			check: func(th *ps.Thread, ret uint32) {
				if ret != 0 {
					t.Errorf("map = %v", models.Status(ret))
				}
				base := read32(t, th, data+0x10)
				if size := read32(t, th, data+0x14); base == 0 || size != 0x2000 {
					t.Errorf("mapped %#x+%#x", base, size)
				}
				write32(t, th, uint64(base)+0x1ffc, 0x1234)
			},
		},
		{
			name: "NtUnmapViewOfSection",
			setup: func(th *ps.Thread, c *call) {
				c.args = []uint32{currentProcess, read32(t, th, data+0x10)}
			},
			check: func(th *ps.Thread, ret uint32) {
				if ret != 0 {
					t.Errorf("unmap = %v", models.Status(ret))
				}
				if th.Process.Space.Find(uint64(read32(t, th, data+0x10))) != nil {
					t.Error("view still mapped")
				}
			},
		},
		{
			name: "NtClose",
			setup: func(th *ps.Thread, c *call) {
				c.args = []uint32{read32(t, th, data)}
			},
			check: expect(t, "close", models.STATUS_SUCCESS),
		},
	})
	defer s.Close()
	s.run(t)
}

func TestDirectoryObjects(t *testing.T) {
	s := newSession(t, false, defaultExports, []call{
		{
			name: "NtCreateDirectoryObject",
			args: []uint32{data, 0, data + 0x100},
			setup: func(th *ps.Thread, c *call) {
				writeObjectAttributes(t, th, data+0x100, `\BaseNamedObjects\Test`)
			},
			check: expect(t, "create directory", models.STATUS_SUCCESS),
		},
		{
			name:  "NtOpenDirectoryObject",
			args:  []uint32{data + 4, 0, data + 0x100},
			check: expect(t, "open directory", models.STATUS_SUCCESS),
		},
		{
			name: "NtOpenSymbolicLinkObject",
			args: []uint32{data + 8, 0, data + 0x100},
			check: func(th *ps.Thread, ret uint32) {
				if models.Status(ret) != models.STATUS_OBJECT_TYPE_MISMATCH {
					t.Errorf("opening a directory as a link = %v", models.Status(ret))
				}
				if read32(t, th, data) == read32(t, th, data+4) {
					t.Error("both opens returned the same handle")
				}
			},
		},
		{
			name: "NtClose",
			setup: func(th *ps.Thread, c *call) {
				c.args = []uint32{read32(t, th, data)}
			},
			check: expect(t, "close", models.STATUS_SUCCESS),
		},
		{
			name:  "NtClose",
			args:  []uint32{0x1234},
			check: expect(t, "close bad handle", models.STATUS_INVALID_HANDLE),
		},
	})
	defer s.Close()
	s.run(t)
	o, err := s.Namespace.Lookup(`\BaseNamedObjects\Test`, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if ob.TypeName(o) != "Directory" {
		t.Errorf("created a %s", ob.TypeName(o))
	}
	ob.Release(o)
}

func TestSymbolicLinks(t *testing.T) {
	s := newSession(t, false, defaultExports, []call{
		{
			name: "NtOpenSymbolicLinkObject",
			args: []uint32{data, 0, data + 0x100},
			setup: func(th *ps.Thread, c *call) {
				writeObjectAttributes(t, th, data+0x100, `\DosDevices`)
			},
			check: expect(t, "open link", models.STATUS_SUCCESS),
		},
		{
			name: "NtQuerySymbolicLinkObject",
			setup: func(th *ps.Thread, c *call) {
				us := common.UnicodeStringHeader{MaximumLength: 0x20, Buffer: data + 0x80}
				if err := models.StrucAt(th.Process.Space, data+8).Pack(&us); err != nil {
					t.Error(err)
				}
				c.args = []uint32{read32(t, th, data), data + 8, data + 4}
			},
			check: func(th *ps.Thread, ret uint32) {
				if ret != 0 {
					t.Errorf("query link = %v", models.Status(ret))
					return
				}
				target, err := common.ReadUnicodeString(th.Process.Space, data+8)
				if err != nil || target != `\??` {
					t.Errorf("target %q %v", target, err)
				}
				if n := read32(t, th, data+4); n != 6 {
					t.Errorf("return length %d", n)
				}
			},
		},
	})
	defer s.Close()
	s.run(t)
}

func TestEventWait(t *testing.T) {
	var s *testSession
	var order []string
	waiter := []call{
		{
			name:  "NtCreateEvent",
			args:  []uint32{data, 0, 0, ob.NotificationEvent, 0},
			check: expect(t, "create event", models.STATUS_SUCCESS),
		},
		{
			name: "NtWaitForSingleObject",
			setup: func(th *ps.Thread, c *call) {
				p := th.Process
				stack, size, err := p.Space.Allocate(0, 0x10000, mm.MEM_COMMIT|mm.MEM_RESERVE, mm.PAGE_READWRITE)
				if err != nil {
					t.Error(err)
					return
				}
				ctx := ps.InitContext()
				ctx.Esp = uint32(stack + size - 8)
				other, err := s.Procs.CreateThread(p, &ctx, &ps.InitialTeb{StackCommit: uint32(stack + size), StackReserved: uint32(stack)}, false)
				if err != nil {
					t.Error(err)
					return
				}
				ob.Release(other)
				c.args = []uint32{read32(t, th, data), 0, 0}
				order = append(order, "wait")
			},
			check: func(th *ps.Thread, ret uint32) {
				order = append(order, "woken")
				if ret != uint32(models.STATUS_WAIT_0) {
					t.Errorf("wait = %v", models.Status(ret))
				}
			},
		},
	}
	setter := []call{
		{
			name: "NtSetEvent",
			setup: func(th *ps.Thread, c *call) {
				order = append(order, "set")
				c.args = []uint32{read32(t, th, data), data + 4}
			},
			check: func(th *ps.Thread, ret uint32) {
				if ret != 0 {
					t.Errorf("set = %v", models.Status(ret))
				}
				if prev := read32(t, th, data+4); prev != 0 {
					t.Errorf("previous state %d", prev)
				}
			},
		},
		{name: "NtTerminateThread", args: []uint32{currentThread, 0}},
	}
	s = newSession(t, false, defaultExports, waiter, setter)
	defer s.Close()
	s.run(t)
	if strings.Join(order, ",") != "wait,set,woken" {
		t.Fatalf("ran in order %v", order)
	}
}

func TestWaitTimeout(t *testing.T) {
	s := newSession(t, false, defaultExports, []call{
		{name: "NtCreateEvent", args: []uint32{data, 0, 0, ob.SynchronizationEvent, 0}},
		{
			name: "NtWaitForMultipleObjects",
			setup: func(th *ps.Thread, c *call) {
				write32(t, th, data+4, read32(t, th, data))
				// -1ms
				write32(t, th, data+8, 0xffffd8f0)
				write32(t, th, data+12, 0xffffffff)
				c.args = []uint32{1, data + 4, WaitAny, 0, data + 8}
			},
			check: expect(t, "wait", models.STATUS_TIMEOUT),
		},
		{
			name:  "NtWaitForMultipleObjects",
			args:  []uint32{65, data + 4, WaitAny, 0, 0},
			check: expect(t, "too many objects", models.STATUS_INVALID_PARAMETER),
		},
		{
			name:  "NtDelayExecution",
			args:  []uint32{0, data + 8},
			check: expect(t, "delay", models.STATUS_SUCCESS),
		},
		{
			name:  "NtDelayExecution",
			args:  []uint32{0, 0},
			check: expect(t, "null delay", models.STATUS_ACCESS_VIOLATION),
		},
	})
	defer s.Close()
	s.run(t)
	if s.Deadlock {
		t.Fatal("timed waits reported a deadlock")
	}
}

func TestDeadlock(t *testing.T) {
	s := newSession(t, false, defaultExports, []call{
		{name: "NtCreateEvent", args: []uint32{data, 0, 0, ob.NotificationEvent, 0}},
		{
			name: "NtWaitForSingleObject",
			setup: func(th *ps.Thread, c *call) {
				c.args = []uint32{read32(t, th, data), 0, 0}
			},
		},
	})
	defer s.Close()
	s.run(t)
	if !s.Deadlock {
		t.Fatal("deadlock not detected")
	}
	if !strings.Contains(s.out.String(), "deadlock") {
		t.Errorf("no deadlock message in %q", s.out.String())
	}
	var leaks bytes.Buffer
	if !s.Procs.Leaks(&leaks) || !strings.Contains(leaks.String(), "1 threads 1 processes left") {
		t.Errorf("leaks: %q", leaks.String())
	}
}

func TestQuerySystemTime(t *testing.T) {
	now := time.Date(2001, 10, 25, 0, 0, 0, 0, time.UTC)
	s := newSession(t, false, defaultExports, []call{
		{
			name: "NtQuerySystemTime",
			args: []uint32{data},
			check: func(th *ps.Thread, ret uint32) {
				lo, hi := read32(t, th, data), read32(t, th, data+4)
				got := int64(hi)<<32 | int64(lo)
				if want := now.UnixNano()/100 + 116444736000000000; got != want {
					t.Errorf("system time %d, want %d", got, want)
				}
			},
		},
	})
	defer s.Close()
	s.Procs.Timers.Now = func() time.Time {
		return now
	}
	s.run(t)
}

func TestBadCalls(t *testing.T) {
	s := newSession(t, false, defaultExports, []call{
		{num: 0xfff, check: expect(t, "unknown", models.STATUS_INVALID_SYSTEM_SERVICE)},
		{num: 0x1fff, check: expect(t, "unknown user", models.STATUS_INVALID_SYSTEM_SERVICE)},
		{name: "NtClose", edx: 0x10, check: expect(t, "bad stack", models.STATUS_ACCESS_VIOLATION)},
	})
	defer s.Close()
	s.run(t)
	if !strings.Contains(s.out.String(), "unknown system call 0fff") {
		t.Errorf("unknown call not reported: %q", s.out.String())
	}
}

func TestTrace(t *testing.T) {
	s := newSession(t, true, defaultExports, []call{
		{name: "NtClose", args: []uint32{0x1234}},
		{name: "NtUserGetCaretBlinkTime"},
	})
	defer s.Close()
	s.run(t)
	out := s.out.String()
	for _, want := range []string{"NtClose(", "STATUS_INVALID_HANDLE", "NtUserGetCaretBlinkTime = 0x64"} {
		if !strings.Contains(out, want) {
			t.Errorf("trace is missing %q:\n%s", want, out)
		}
	}
}

func TestException(t *testing.T) {
	var hooked bool
	s := newSession(t, false, defaultExports, []call{
		{fault: true},
	})
	defer s.Close()
	s.OnException = func(th *ps.Thread, trap ps.Trap) bool {
		hooked = trap.Kind == ps.TrapFault
		return false
	}
	status := s.run(t)
	if !hooked {
		t.Error("exception hook not called")
	}
	if status != models.ExitStatusFrom(uint32(models.STATUS_ACCESS_VIOLATION)) {
		t.Errorf("exit status %d", status)
	}
	if !strings.Contains(s.out.String(), "exception:") {
		t.Errorf("exception not reported: %q", s.out.String())
	}
}

func TestUserServices(t *testing.T) {
	ret := func(name string, want uint32) func(th *ps.Thread, got uint32) {
		return func(th *ps.Thread, got uint32) {
			if got != want {
				t.Errorf("%s = %#x, want %#x", name, got, want)
			}
		}
	}
	s := newSession(t, false, defaultExports, []call{
		{name: "NtUserGetThreadDesktop", args: []uint32{0, 0}, check: ret("desktop", 0xde5)},
		{name: "NtUserSetProcessWindowStation", args: []uint32{0x1234}, check: ret("set station", TRUE)},
		{name: "NtUserGetProcessWindowStation", check: ret("get station", 0x1234)},
		{name: "NtUserCreateAcceleratorTable", args: []uint32{0, 0}, check: ret("accel", 1)},
		{name: "NtUserCreateAcceleratorTable", args: []uint32{0, 0}, check: ret("accel", 2)},
		{name: "NtUserSetMenu", args: []uint32{0, 0, 0}, check: ret("menu", TRUE)},
	})
	defer s.Close()
	s.run(t)
}

type fakeAssembler struct {
	src string
}

func (a *fakeAssembler) Asm(asm string, addr uint64) ([]byte, error) {
	a.src = asm
	return []byte{0xcd, 0x2e}, nil
}

func TestCallbackStubs(t *testing.T) {
	s := newSession(t, false, defaultExports)
	defer s.Close()
	if s.Procs.Stubs != nil {
		t.Fatal("stubs built for an ntdll with a callback dispatcher")
	}
	asm := &fakeAssembler{}
	s.Asm = asm
	img, err := loader.Load(bytes.NewReader(buildNtdll("KiIntSystemCall")))
	if err != nil {
		t.Fatal(err)
	}
	sec, err := mm.NewImageSection(img)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetNtdll(sec); err != nil {
		t.Fatal(err)
	}
	if s.Procs.Stubs == nil {
		t.Fatal("no stub section")
	}
	if !bytes.HasPrefix(s.Procs.Stubs.Data(), []byte{0xcd, 0x2e}) {
		t.Error("stub code not copied")
	}
	num, _ := s.ServiceNumber("NtCallbackReturn")
	if !strings.Contains(asm.src, fmt.Sprintf("mov eax, %#x", num)) {
		t.Errorf("stub does not return through NtCallbackReturn:\n%s", asm.src)
	}
}
