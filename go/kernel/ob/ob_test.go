package ob

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lunixbochs/ntcorn/go/models"
)

type testObject struct {
	Header
	destroyed int
}

func (o *testObject) Destroy() { o.destroyed++ }

func TestRefcount(t *testing.T) {
	o := &testObject{}
	AddRef(o)
	if o.Refs() != 2 {
		t.Fatalf("refs = %d", o.Refs())
	}
	Release(o)
	if o.destroyed != 0 {
		t.Fatal("destroyed with a reference left")
	}
	Release(o)
	if o.destroyed != 1 || !o.Dead() {
		t.Fatal("not destroyed by last release")
	}
}

func TestHandleTable(t *testing.T) {
	ht := NewHandleTable()
	a, b := &testObject{}, &testObject{}
	ha, _ := ht.Alloc(a)
	hb, _ := ht.Alloc(b)
	if ha != 4 || hb != 8 {
		t.Fatalf("bad handles %#x %#x", ha, hb)
	}
	if o, err := ht.Lookup(hb); err != nil || o != b {
		t.Fatal("lookup failed")
	}
	if _, err := ht.LookupType(hb, "Event"); models.StatusOf(err) != models.STATUS_OBJECT_TYPE_MISMATCH {
		t.Fatalf("expected type mismatch, got %v", err)
	}
	for _, h := range []uint32{0, 3, 12, 0x400} {
		if _, err := ht.Lookup(h); models.StatusOf(err) != models.STATUS_INVALID_HANDLE {
			t.Fatalf("handle %#x: expected invalid handle, got %v", h, err)
		}
	}
	if err := ht.Free(ha); err != nil {
		t.Fatal(err)
	}
	if err := ht.Free(ha); models.StatusOf(err) != models.STATUS_INVALID_HANDLE {
		t.Fatal("double close succeeded")
	}
	// the creator reference keeps a alive
	if a.destroyed != 0 {
		t.Fatal("object destroyed while referenced")
	}
	if hc, _ := ht.Alloc(a); hc != 4 {
		t.Fatalf("lowest slot not reused: %#x", hc)
	}
	Release(a)
	Release(b)
	ht.Close()
	if a.destroyed != 1 || b.destroyed != 1 {
		t.Fatal("Close did not release handles")
	}
}

func TestNamespace(t *testing.T) {
	ns := NewNamespace()
	if _, err := ns.CreateDirectory(`\BaseNamedObjects`); err != nil {
		t.Fatal(err)
	}
	if _, err := ns.CreateDirectory(`\Windows\WindowStations`); models.StatusOf(err) != models.STATUS_OBJECT_PATH_NOT_FOUND {
		t.Fatalf("missing parent: got %v", err)
	}
	ev := NewEvent(NotificationEvent, false)
	if err := ns.Insert(`\BaseNamedObjects\Ready`, nil, ev); err != nil {
		t.Fatal(err)
	}
	if err := ns.Insert(`\BaseNamedObjects\ready`, nil, ev); models.StatusOf(err) != models.STATUS_OBJECT_NAME_COLLISION {
		t.Fatalf("expected collision, got %v", err)
	}
	if _, err := ns.CreateSymlink(`\Named`, `\BaseNamedObjects`); err != nil {
		t.Fatal(err)
	}
	o, err := ns.Lookup(`\named\READY`, nil, false)
	if err != nil || o != ev {
		t.Fatalf("lookup through symlink failed: %v", err)
	}
	Release(o)
	if o, err := ns.Lookup(`\Named`, nil, true); err != nil || TypeName(o) != "SymbolicLink" {
		t.Fatalf("openLink lookup returned %v %v", o, err)
	}
	if _, err := ns.Lookup(`\BaseNamedObjects\Missing`, nil, false); models.StatusOf(err) != models.STATUS_OBJECT_NAME_NOT_FOUND {
		t.Fatalf("expected name not found, got %v", err)
	}
	if _, err := ns.Lookup(`\Missing\Thing`, nil, false); models.StatusOf(err) != models.STATUS_OBJECT_PATH_NOT_FOUND {
		t.Fatalf("expected path not found, got %v", err)
	}
	if _, err := ns.Lookup(`relative`, nil, false); models.StatusOf(err) != models.STATUS_OBJECT_NAME_INVALID {
		t.Fatalf("expected name invalid, got %v", err)
	}
	dir, _ := ns.Lookup(`\BaseNamedObjects`, nil, false)
	if o, err := ns.Lookup(`Ready`, dir, false); err != nil || o != ev {
		t.Fatal("relative lookup failed")
	}

	var buf bytes.Buffer
	ns.Dump(&buf)
	expect := []string{
		`\BaseNamedObjects`, `\BaseNamedObjects\Ready`, `\Named`,
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != len(expect) {
		t.Fatalf("bad dump:\n%s", buf.String())
	}
	for i, line := range lines {
		if !strings.HasPrefix(line, expect[i]+" ") {
			t.Errorf("dump line %d = %q, expected %s", i, line, expect[i])
		}
	}
}

func TestNaturalOrder(t *testing.T) {
	d := NewDirectory()
	for _, name := range []string{"Session10", "Session2", "Session1"} {
		d.Insert(name, &testObject{})
	}
	names := d.Names()
	if strings.Join(names, ",") != "Session1,Session2,Session10" {
		t.Fatalf("bad order %v", names)
	}
}

type recordingWaiter struct {
	got []Waitable
}

func (w *recordingWaiter) Satisfy(o Waitable) bool {
	o.Acquire()
	w.got = append(w.got, o)
	return true
}

func TestEvents(t *testing.T) {
	sync := NewEvent(SynchronizationEvent, false)
	w1, w2 := &recordingWaiter{}, &recordingWaiter{}
	sync.AddWaiter(w1)
	sync.AddWaiter(w2)
	sync.Set()
	if len(w1.got) != 1 || len(w2.got) != 0 {
		t.Fatal("synchronization event should release one waiter")
	}
	if sync.Signaled() {
		t.Fatal("synchronization event not reset by acquire")
	}

	note := NewEvent(NotificationEvent, false)
	note.AddWaiter(w1)
	note.AddWaiter(w2)
	note.Set()
	if len(w1.got) != 2 || len(w2.got) != 1 || !note.Signaled() {
		t.Fatal("notification event should release every waiter and stay set")
	}
	if prev := note.Reset(); !prev || note.Signaled() {
		t.Fatal("reset failed")
	}
	note.Pulse()
	if len(w1.got) != 3 || note.Signaled() {
		t.Fatal("pulse should release waiters and leave the event reset")
	}
}

func TestDrive(t *testing.T) {
	root, err := ioutil.TempDir("", "ntcorn-drive")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(root)
	os.MkdirAll(filepath.Join(root, "WINNT", "system32"), 0755)
	ioutil.WriteFile(filepath.Join(root, "WINNT", "system32", "smss.exe"), []byte("MZ"), 0644)

	ns := NewNamespace()
	ns.CreateDirectory(`\??`)
	ns.CreateDirectory(`\Device`)
	ns.Insert(`\Device\HarddiskVolume1`, nil, &Drive{Letter: 'c', Config: &models.Config{DriveRoot: root}})
	ns.CreateSymlink(`\??\c:`, `\Device\HarddiskVolume1`)

	o, err := ns.Lookup(`\??\c:\winnt\system32\smss.exe`, nil, false)
	if err != nil {
		t.Fatal(err)
	}
	f, ok := o.(*File)
	if !ok || f.Dir {
		t.Fatalf("expected a file, got %#v", o)
	}
	var magic [2]byte
	if _, err := f.F.ReadAt(magic[:], 0); err != nil || string(magic[:]) != "MZ" {
		t.Fatal("read through file object failed")
	}
	Release(f)
	if _, err := ns.Lookup(`\??\c:\winnt\missing.exe`, nil, false); models.StatusOf(err) != models.STATUS_OBJECT_NAME_NOT_FOUND {
		t.Fatalf("expected not found, got %v", err)
	}
	if o, err := ns.Lookup(`\??\c:`, nil, false); err != nil || !o.(*File).Dir {
		t.Fatal("drive root should open as a directory")
	}
}
