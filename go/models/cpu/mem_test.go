package cpu

import (
	"bytes"
	"encoding/binary"
	"testing"
)

var asdf = []byte("asdf")

func TestMem8(t *testing.T) {
	mem := NewMem(8, binary.LittleEndian)
	if err := mem.MemMapProt(0x10, 0x10, 0); err != nil {
		t.Fatal("failed to map memory:", err)
	}
	if err := mem.MemMapProt(0x0, 0x1000, 0); err == nil {
		t.Fatal("mapped memory outside range")
	}
	if err := mem.MemMapProt(0x1000, 0x1000, 0); err == nil {
		t.Fatal("mapped memory outside range")
	}
	if err := mem.MemWrite(0x1000, asdf); err == nil {
		t.Error("write succeeded above mapped memory")
	}
}

func TestMem(t *testing.T) {
	mappings := [][]uint64{
		{0x1000, 0x1000, PROT_READ | PROT_WRITE | PROT_EXEC},
		{0x2000, 0x1000, PROT_READ},
		{0x3000, 0x1000, PROT_READ | PROT_WRITE},
		{0x4000, 0x1000, PROT_READ | PROT_EXEC},
	}

	mem := NewMem(32, binary.LittleEndian)
	for _, v := range mappings {
		if err := mem.MemMapProt(v[0], v[1], int(v[2])); err != nil {
			t.Fatalf("failed to map memory (%#x, %#x, %d): %v", v[0], v[1], v[2], err)
		}
	}
	if err := mem.MemWrite(0, asdf); err == nil {
		t.Error("write succeeded below mapped memory")
	}
	if err := mem.MemWrite(0x6000, asdf); err == nil {
		t.Error("write succeeded above mapped memory")
	}
	// kernel writes ignore protection
	for _, v := range mappings {
		if err := mem.MemWrite(v[0], asdf); err != nil {
			t.Error("write failed inside mapped memory")
		}
		if tmp, err := mem.MemRead(v[0], uint64(len(asdf))); err != nil {
			t.Error("read failed inside mapped memory")
		} else if !bytes.Equal(tmp, asdf) {
			t.Error("read returned bad value")
		}
	}
	// guest accesses honour it
	for _, v := range mappings {
		writable := v[2]&PROT_WRITE != 0
		err := mem.WriteProt(v[0], asdf, PROT_WRITE)
		if writable && err != nil {
			t.Errorf("valid guest write failed at %#x: %v", v[0], err)
		} else if !writable && err == nil {
			t.Errorf("guest write to read-only %#x succeeded", v[0])
		}
	}
	if _, err := mem.ReadUint(0x2000, 4, PROT_READ); err != nil {
		t.Error(err)
	}
	if err := mem.WriteUint(0x3000, 4, PROT_WRITE, 0xdeadbeef); err != nil {
		t.Fatal(err)
	}
	if v, err := mem.ReadUint(0x3000, 4, PROT_READ); err != nil || v != 0xdeadbeef {
		t.Errorf("ReadUint returned %#x, %v", v, err)
	}
}
