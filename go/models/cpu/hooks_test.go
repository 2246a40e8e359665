package cpu

import (
	"encoding/binary"
	"fmt"
	"testing"
)

func makeHooks() (*Mem, *Hooks) {
	mem := NewMem(32, binary.LittleEndian)
	return mem, NewHooks(mem)
}

func TestHooksEmpty(t *testing.T) {
	_, h := makeHooks()
	h.OnMem(MEM_WRITE, 0x1002, 4, -1)
	h.OnFault(MEM_WRITE_UNMAPPED, 0x1003, 8, -2)
}

func TestMemHookRange(t *testing.T) {
	mem, h := makeHooks()
	mem.MemMapProt(0x1000, 0x2000, PROT_READ|PROT_WRITE)

	var log []string
	cb := func(access int, addr uint64, size int, val int64) {
		log = append(log, fmt.Sprintf("%d %#x %d %#x", access, addr, size, val))
	}
	hh, err := h.HookAdd(HOOK_MEM_READ|HOOK_MEM_WRITE, cb, 0x2000, 0x2fff)
	if err != nil {
		t.Fatal(err)
	}
	mem.WriteUint(0x1000, 4, PROT_WRITE, 1)
	mem.WriteUint(0x2000, 4, PROT_WRITE, 0x1234)
	mem.ReadUint(0x2004, 2, PROT_READ)
	// kernel-side accesses are not traced
	mem.MemWrite(0x2008, []byte{1})

	expected := []string{
		fmt.Sprintf("%d 0x2000 4 0x1234", MEM_WRITE),
		fmt.Sprintf("%d 0x2004 2 0x0", MEM_READ),
	}
	if len(log) != len(expected) {
		t.Fatalf("hook log mismatch: %v", log)
	}
	for i := range expected {
		if log[i] != expected[i] {
			t.Errorf("hook %d: %q != %q", i, log[i], expected[i])
		}
	}

	h.HookDel(hh)
	mem.WriteUint(0x2000, 4, PROT_WRITE, 1)
	if len(log) != len(expected) {
		t.Error("hook fired after HookDel")
	}
}

func TestFaultHook(t *testing.T) {
	mem, h := makeHooks()
	faults := 0
	h.HookAdd(HOOK_MEM_ERR, func(access int, addr uint64, size int, val int64) bool {
		faults++
		return access == MEM_READ_UNMAPPED
	}, 1, 0)
	if _, err := mem.ReadProt(0x5000, 4, PROT_READ); err != nil {
		t.Error("handled fault still returned an error:", err)
	}
	if err := mem.WriteProt(0x5000, asdf, PROT_WRITE); err == nil {
		t.Error("unhandled write fault returned no error")
	}
	if faults != 2 {
		t.Errorf("expected 2 faults, got %d", faults)
	}
}
