package cpu

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Mem is the guest-visible memory of one address space. Kernel accesses go
// through MemRead/MemWrite and skip protection checks and hooks. Guest
// accesses go through ReadProt/WriteProt, which enforce protection and
// report to the attached Hooks.
type Mem struct {
	bits uint
	// methods return an error for addresses that do not fit inside mask
	mask uint64
	// set when passing *Mem to NewHooks()
	hooks *Hooks
	sim   *MemSim

	order binary.ByteOrder
}

func NewMem(bits uint, order binary.ByteOrder) *Mem {
	return &Mem{
		bits:  bits,
		mask:  ^uint64(0) >> (64 - bits),
		sim:   &MemSim{},
		order: order,
	}
}

func (m *Mem) Pages() Pages {
	return m.sim.Mem
}

func (m *Mem) inRange(addr, size uint64) bool {
	end := addr + size
	return end >= addr && (end-1)&m.mask == end-1
}

func (m *Mem) MemMapProt(addr, size uint64, prot int) error {
	if !m.inRange(addr, size) {
		return errors.New("region outside memory range")
	}
	m.sim.Map(addr, size, prot)
	return nil
}

// MemMapData maps shared backing memory without copying it.
func (m *Mem) MemMapData(addr uint64, data []byte, prot int, tag interface{}) (*Page, error) {
	if !m.inRange(addr, uint64(len(data))) {
		return nil, errors.New("region outside memory range")
	}
	return m.sim.MapData(addr, data, prot, tag), nil
}

func (m *Mem) MemProt(addr, size uint64, prot int) error {
	if mapped, _ := m.sim.RangeValid(addr, size, 0); !mapped {
		return errors.New("range not mapped")
	}
	m.sim.Prot(addr, size, prot)
	return nil
}

// Discard unmaps whatever is mapped in addr:addr+size.
func (m *Mem) Discard(addr, size uint64) {
	m.sim.Unmap(addr, size)
}

func (m *Mem) MemReadInto(p []byte, addr uint64) error {
	return m.sim.Read(addr, p, 0)
}

func (m *Mem) MemRead(addr, size uint64) ([]byte, error) {
	p := make([]byte, size)
	if err := m.MemReadInto(p, addr); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Mem) MemWrite(addr uint64, p []byte) error {
	return m.sim.Write(addr, p, 0)
}

// ReadProt reads on behalf of the guest, checking protections.
func (m *Mem) ReadProt(addr, size uint64, prot int) ([]byte, error) {
	p := make([]byte, size)
	if err := m.sim.Read(addr, p, prot); err != nil {
		if merr, ok := err.(*MemError); ok && m.hooks != nil {
			if m.hooks.OnFault(merr.Enum, addr, int(size), 0) {
				return p, nil
			}
		}
		return nil, err
	} else if m.hooks != nil {
		if prot&PROT_EXEC == PROT_EXEC {
			m.hooks.OnMem(MEM_FETCH, addr, int(size), 0)
		} else {
			m.hooks.OnMem(MEM_READ, addr, int(size), 0)
		}
	}
	return p, nil
}

// WriteProt writes on behalf of the guest, checking protections.
func (m *Mem) WriteProt(addr uint64, p []byte, prot int) error {
	var val int64
	if len(p) <= 8 {
		var buf [8]byte
		copy(buf[:], p)
		val = int64(m.order.Uint64(buf[:]))
	}
	err := m.sim.Write(addr, p, prot)
	if err != nil {
		if merr, ok := err.(*MemError); ok && m.hooks != nil {
			if m.hooks.OnFault(merr.Enum, addr, len(p), val) {
				return nil
			}
		}
	} else if m.hooks != nil {
		m.hooks.OnMem(MEM_WRITE, addr, len(p), val)
	}
	return err
}

func (m *Mem) ReadUint(addr uint64, size, prot int) (uint64, error) {
	p, err := m.ReadProt(addr, uint64(size), prot)
	if err != nil {
		return 0, err
	}
	switch size {
	case 1:
		return uint64(p[0]), nil
	case 2:
		return uint64(m.order.Uint16(p)), nil
	case 4:
		return uint64(m.order.Uint32(p)), nil
	case 8:
		return m.order.Uint64(p), nil
	}
	return 0, errors.Errorf("bad read size %d", size)
}

func (m *Mem) WriteUint(addr uint64, size, prot int, val uint64) error {
	buf := make([]byte, size)
	switch size {
	case 1:
		buf[0] = byte(val)
	case 2:
		m.order.PutUint16(buf, uint16(val))
	case 4:
		m.order.PutUint32(buf, uint32(val))
	case 8:
		m.order.PutUint64(buf, val)
	default:
		return errors.Errorf("bad write size %d", size)
	}
	return m.WriteProt(addr, buf, prot)
}
