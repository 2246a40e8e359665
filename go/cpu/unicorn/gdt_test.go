package unicorn

import (
	"encoding/binary"
	"testing"

	"github.com/lunixbochs/ntcorn/go/kernel/ps"
)

func TestDescriptor(t *testing.T) {
	tests := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"user code", descriptor(0, 0xfffff, accCode3, flagPage32), 0x00cffa000000ffff},
		{"user data", descriptor(0, 0xfffff, accData3, flagPage32), 0x00cff2000000ffff},
		{"kernel data", descriptor(0, 0xfffff, accData0, flagPage32), 0x00cf92000000ffff},
		{"teb", tebDescriptor(0x7ffde000), 0x7f40f2fde0000fff},
	}
	for _, test := range tests {
		if test.got != test.want {
			t.Errorf("%s: %#016x, want %#016x", test.name, test.got, test.want)
		}
	}
}

func TestGdtLayout(t *testing.T) {
	gdt := buildGdt()
	if len(gdt) != gdtEntries*8 {
		t.Fatalf("gdt is %d bytes", len(gdt))
	}
	entry := func(sel uint32) uint64 {
		return binary.LittleEndian.Uint64(gdt[sel&^7:])
	}
	if entry(0) != 0 {
		t.Error("null descriptor is not null")
	}
	if entry(ps.SEG_CS) != descriptor(0, 0xfffff, accCode3, flagPage32) {
		t.Errorf("cs descriptor %#x", entry(ps.SEG_CS))
	}
	if entry(ps.SEG_DS) != descriptor(0, 0xfffff, accData3, flagPage32) {
		t.Errorf("ds descriptor %#x", entry(ps.SEG_DS))
	}
	if entry(SEG_SS0)>>45&3 != 0 {
		t.Error("ss descriptor is not ring 0")
	}
}
