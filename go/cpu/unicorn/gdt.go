package unicorn

import (
	"encoding/binary"

	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/lunixbochs/ntcorn/go/kernel/ps"
)

// The GDT lives on a page above the user address space. Only the entries
// the user mode selectors in ps refer to are filled in.
const (
	gdtBase    = 0xc0000000
	gdtSize    = 0x1000
	gdtEntries = 8

	kernelData = 2
	userCode   = ps.SEG_CS >> 3
	userData   = ps.SEG_DS >> 3
	userTeb    = ps.SEG_FS >> 3

	// unicorn starts at cpl 0 and only loads SS with a matching dpl
	SEG_SS0 = kernelData << 3
)

// access bytes
const (
	accCode3 = 0xfa
	accData3 = 0xf2
	accData0 = 0x92
)

// flags nibble
const (
	flagPage32 = 0xc
	flagByte32 = 0x4
)

// descriptor encodes a segment descriptor. limit is in pages when flags
// sets the granularity bit.
func descriptor(base, limit uint32, access, flags byte) uint64 {
	d := uint64(limit & 0xffff)
	d |= uint64(base&0xffffff) << 16
	d |= uint64(access) << 40
	d |= uint64(limit>>16&0xf) << 48
	d |= uint64(flags&0xf) << 52
	d |= uint64(base>>24) << 56
	return d
}

// tebDescriptor covers one thread's TEB, which is what FS points at in
// user mode.
func tebDescriptor(teb uint64) uint64 {
	return descriptor(uint32(teb), 0xfff, accData3, flagByte32)
}

func buildGdt() []byte {
	table := make([]uint64, gdtEntries)
	table[kernelData] = descriptor(0, 0xfffff, accData0, flagPage32)
	table[userCode] = descriptor(0, 0xfffff, accCode3, flagPage32)
	table[userData] = descriptor(0, 0xfffff, accData3, flagPage32)
	table[userTeb] = tebDescriptor(0)
	buf := make([]byte, len(table)*8)
	for i, d := range table {
		binary.LittleEndian.PutUint64(buf[i*8:], d)
	}
	return buf
}

func (m *Machine) setupGdt() error {
	u := m.u
	if err := u.MemMapProt(gdtBase, gdtSize, uc.PROT_READ|uc.PROT_WRITE); err != nil {
		return errors.Wrap(err, "failed to map gdt")
	}
	if err := u.MemWrite(gdtBase, buildGdt()); err != nil {
		return errors.Wrap(err, "failed to write gdt")
	}
	gdtr := &uc.X86Mmr{Base: gdtBase, Limit: gdtEntries*8 - 1}
	if err := u.RegWriteMmr(uc.X86_REG_GDTR, gdtr); err != nil {
		return errors.Wrap(err, "failed to load gdtr")
	}
	segs := []struct {
		reg int
		sel uint64
	}{
		{uc.X86_REG_SS, SEG_SS0},
		{uc.X86_REG_CS, ps.SEG_CS},
		{uc.X86_REG_DS, ps.SEG_DS},
		{uc.X86_REG_ES, ps.SEG_DS},
		{uc.X86_REG_FS, ps.SEG_FS},
	}
	for _, s := range segs {
		if err := u.RegWrite(s.reg, s.sel); err != nil {
			return errors.Wrapf(err, "failed to load selector %#x", s.sel)
		}
	}
	return nil
}

// loadTeb points FS at teb.
func (m *Machine) loadTeb(teb uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], tebDescriptor(teb))
	if err := m.u.MemWrite(gdtBase+userTeb*8, buf[:]); err != nil {
		return errors.Wrap(err, "failed to update teb descriptor")
	}
	// reloading the selector refreshes the cached base
	return errors.Wrap(m.u.RegWrite(uc.X86_REG_FS, ps.SEG_FS), "failed to load fs")
}
