package models

import (
	"bytes"
	"sync"
)

// Ins is one disassembled guest instruction.
type Ins interface {
	Addr() uint64
	Bytes() []byte
	Mnemonic() string
	OpStr() string
}

type DiscacheEntry struct {
	Addr uint64
	Mem  []byte
	Dis  []Ins
}

// Discache remembers disassembly by address, invalidated when the bytes at
// that address change (guest code may be rewritten by the loader).
type Discache struct {
	sync.RWMutex
	cache map[uint64]*DiscacheEntry
}

func NewDiscache() *Discache {
	return &Discache{cache: make(map[uint64]*DiscacheEntry)}
}

func (d *Discache) Get(addr uint64, mem []byte) *DiscacheEntry {
	d.RLock()
	defer d.RUnlock()
	if ent, ok := d.cache[addr]; ok && bytes.Equal(mem, ent.Mem) {
		return ent
	}
	return nil
}

func (d *Discache) Put(addr uint64, mem []byte, dis []Ins) {
	saved := make([]byte, len(mem))
	copy(saved, mem)
	d.Lock()
	d.cache[addr] = &DiscacheEntry{Addr: addr, Mem: saved, Dis: dis}
	d.Unlock()
}
