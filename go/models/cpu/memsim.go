package cpu

import (
	"fmt"
	"sort"
)

type MemError struct {
	Addr uint64
	Size int
	Enum int
}

func (m *MemError) Error() string {
	reason := "memory error"
	switch m.Enum {
	case MEM_WRITE_UNMAPPED:
		reason = "unmapped write"
	case MEM_READ_UNMAPPED:
		reason = "unmapped read"
	case MEM_FETCH_UNMAPPED:
		reason = "unmapped fetch"
	case MEM_WRITE_PROT:
		reason = "protected write"
	case MEM_READ_PROT:
		reason = "protected read"
	case MEM_FETCH_PROT:
		reason = "protected exec"
	}
	return fmt.Sprintf("%s at %#x(%d)", reason, m.Addr, m.Size)
}

// MemSim is a sorted list of non-overlapping pages.
type MemSim struct {
	Mem Pages
}

// Checks whether the address range exists in the currently-mapped memory.
// If prot > 0, ensures that each region has the entire protection mask provided.
func (m *MemSim) RangeValid(addr, size uint64, prot int) (mapGood bool, protGood bool) {
	first := m.Mem.bsearch(addr)
	if first == -1 {
		return false, false
	}
	protGood = true
	end := addr + size
	for _, mm := range m.Mem[first:] {
		if !mm.Contains(addr) {
			break
		}
		if prot > 0 && (mm.Prot == 0 || mm.Prot&prot != prot) {
			protGood = false
		}
		addr = mm.Addr + mm.Size
		if addr >= end {
			break
		}
	}
	return addr >= end, protGood
}

// Map maps addr:addr+size with fresh zeroed memory, replacing anything there.
func (m *MemSim) Map(addr, size uint64, prot int) *Page {
	return m.MapData(addr, make([]byte, size), prot, nil)
}

// MapData maps data at addr without copying it. Any overlapping pages are
// unmapped first. Writes through the returned page and through any other
// page aliasing data are mutually visible.
func (m *MemSim) MapData(addr uint64, data []byte, prot int, tag interface{}) *Page {
	size := uint64(len(data))
	m.Unmap(addr, size)
	page := &Page{Addr: addr, Size: size, Prot: prot, Data: data, Tag: tag}
	m.Mem = append(m.Mem, page)
	sort.Sort(m.Mem)
	return page
}

// this is *exactly* unmap, but the "middle" pages of each split are re-protected
func (m *MemSim) Prot(addr, size uint64, prot int) {
	tmp := make(Pages, 0, len(m.Mem)+2)
	for _, mm := range m.Mem {
		if mm.Overlaps(addr, size) {
			left, right := mm.Split(addr, size)
			if left != nil {
				tmp = append(tmp, left)
			}
			mm.Prot = prot
			tmp = append(tmp, mm)
			if right != nil {
				tmp = append(tmp, right)
			}
		} else {
			tmp = append(tmp, mm)
		}
	}
	m.Mem = tmp
}

func (m *MemSim) Unmap(addr, size uint64) {
	tmp := make(Pages, 0, len(m.Mem)+1)
	for _, mm := range m.Mem {
		if mm.Overlaps(addr, size) {
			left, right := mm.Split(addr, size)
			if left != nil {
				tmp = append(tmp, left)
			}
			if right != nil {
				tmp = append(tmp, right)
			}
		} else {
			tmp = append(tmp, mm)
		}
	}
	m.Mem = tmp
}

func (m *MemSim) Read(addr uint64, p []byte, prot int) error {
	if gmap, gprot := m.RangeValid(addr, uint64(len(p)), prot); !gmap {
		if prot&PROT_EXEC == PROT_EXEC {
			return &MemError{Addr: addr, Size: len(p), Enum: MEM_FETCH_UNMAPPED}
		}
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_UNMAPPED}
	} else if !gprot {
		if prot&PROT_EXEC == PROT_EXEC {
			return &MemError{Addr: addr, Size: len(p), Enum: MEM_FETCH_PROT}
		}
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_READ_PROT}
	}
	if i := m.Mem.bsearch(addr); i >= 0 {
		for _, mm := range m.Mem[i:] {
			if len(p) == 0 || !mm.Contains(addr) {
				break
			}
			n := copy(p, mm.Data[addr-mm.Addr:])
			addr, p = addr+uint64(n), p[n:]
		}
	}
	return nil
}

func (m *MemSim) Write(addr uint64, p []byte, prot int) error {
	if gmap, gprot := m.RangeValid(addr, uint64(len(p)), prot); !gmap {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_UNMAPPED}
	} else if !gprot {
		return &MemError{Addr: addr, Size: len(p), Enum: MEM_WRITE_PROT}
	}
	if i := m.Mem.bsearch(addr); i >= 0 {
		for _, mm := range m.Mem[i:] {
			if len(p) == 0 || !mm.Contains(addr) {
				break
			}
			n := copy(mm.Data[addr-mm.Addr:], p)
			addr, p = addr+uint64(n), p[n:]
		}
	}
	return nil
}
