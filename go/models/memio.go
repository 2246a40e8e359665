package models

import (
	"encoding/binary"
)

// Memory is the kernel's view of one guest address space.
type Memory interface {
	MemReadInto(p []byte, addr uint64) error
	MemWrite(addr uint64, p []byte) error
}

// MemIO streams sequential reads and writes through guest memory.
type MemIO struct {
	Mem  Memory
	Addr uint64
}

func (m *MemIO) Read(p []byte) (int, error) {
	if err := m.Mem.MemReadInto(p, m.Addr); err != nil {
		return 0, err
	}
	m.Addr += uint64(len(p))
	return len(p), nil
}

func (m *MemIO) Write(p []byte) (int, error) {
	if err := m.Mem.MemWrite(m.Addr, p); err != nil {
		return 0, err
	}
	m.Addr += uint64(len(p))
	return len(p), nil
}

func StrucAt(mem Memory, addr uint64) *StrucStream {
	return &StrucStream{Stream: &MemIO{Mem: mem, Addr: addr}}
}

func ReadUint32(mem Memory, addr uint64) (uint32, error) {
	var buf [4]byte
	if err := mem.MemReadInto(buf[:], addr); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func WriteUint32(mem Memory, addr uint64, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return mem.MemWrite(addr, buf[:])
}

// ReadStringW reads size bytes of UTF-16 text.
func ReadStringW(mem Memory, addr uint64, size uint64) (string, error) {
	if size == 0 {
		return "", nil
	}
	p := make([]byte, size)
	if err := mem.MemReadInto(p, addr); err != nil {
		return "", err
	}
	return DecodeUTF16(p), nil
}
