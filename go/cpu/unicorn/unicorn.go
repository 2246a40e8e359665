// Package unicorn runs guest threads on the Unicorn CPU emulator.
package unicorn

import (
	"unsafe"

	"github.com/pkg/errors"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/lunixbochs/ntcorn/go/kernel/ps"
	"github.com/lunixbochs/ntcorn/go/models"
)

// int 0x2e enters the kernel
const syscallVector = 0x2e

// x86 exception vectors
const (
	vecDivide     = 0
	vecBreakpoint = 3
	vecInvalidOp  = 6
	vecGeneral    = 13
)

// Machine is the CPU of one process. It mirrors the process address space
// by mapping section memory directly, so guest and kernel share pages.
type Machine struct {
	u    uc.Unicorn
	trap *ps.Trap
	// err is the first failure to mirror the address space
	err error
}

// New creates a machine for p. It has to be attached before anything is
// mapped in p, which is when ps.Manager calls it.
func New(p *ps.Process) (ps.Machine, error) {
	u, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_32)
	if err != nil {
		return nil, errors.Wrap(err, "NewUnicorn() failed")
	}
	m := &Machine{u: u}
	if err := m.setupGdt(); err != nil {
		u.Close()
		return nil, err
	}
	if err := m.addHooks(); err != nil {
		u.Close()
		return nil, err
	}
	p.Space.Observer = m
	p.Space.PC = m.pc
	return m, nil
}

func (m *Machine) addHooks() error {
	_, err := m.u.HookAdd(uc.HOOK_INTR, func(mu uc.Unicorn, intno uint32) {
		m.interrupt(mu, intno)
	}, 1, 0)
	if err != nil {
		return errors.Wrap(err, "failed to hook interrupts")
	}
	_, err = m.u.HookAdd(uc.HOOK_MEM_INVALID, func(mu uc.Unicorn, access int, addr uint64, size int, value int64) bool {
		m.stop(mu, ps.Trap{Kind: ps.TrapFault, Addr: addr, Status: uint32(models.STATUS_ACCESS_VIOLATION)})
		return false
	}, 1, 0)
	return errors.Wrap(err, "failed to hook invalid memory")
}

func (m *Machine) interrupt(mu uc.Unicorn, intno uint32) {
	eip, _ := mu.RegRead(uc.X86_REG_EIP)
	switch intno {
	case syscallVector:
		m.stop(mu, ps.Trap{Kind: ps.TrapSyscall})
	case vecBreakpoint:
		m.stop(mu, ps.Trap{Kind: ps.TrapBreakpoint, Addr: eip - 1, Status: uint32(models.STATUS_BREAKPOINT)})
	case vecInvalidOp:
		m.stop(mu, ps.Trap{Kind: ps.TrapIllegal, Addr: eip, Status: uint32(models.STATUS_ILLEGAL_INSTRUCTION)})
	case vecDivide:
		m.stop(mu, ps.Trap{Kind: ps.TrapFault, Addr: eip, Status: uint32(models.STATUS_INTEGER_DIVIDE_BY_ZERO)})
	case vecGeneral:
		m.stop(mu, ps.Trap{Kind: ps.TrapFault, Addr: eip, Status: uint32(models.STATUS_PRIVILEGED_INSTRUCTION)})
	default:
		m.stop(mu, ps.Trap{Kind: ps.TrapFault, Addr: eip, Status: uint32(models.STATUS_ACCESS_VIOLATION)})
	}
}

// stop ends the current Run with trap. The first trap wins.
func (m *Machine) stop(mu uc.Unicorn, trap ps.Trap) {
	if m.trap == nil {
		m.trap = &trap
	}
	mu.Stop()
}

func (m *Machine) pc() uint64 {
	eip, _ := m.u.RegRead(uc.X86_REG_EIP)
	return eip
}

type reg struct {
	enum int
	val  *uint32
}

func registers(c *ps.Context) []reg {
	return []reg{
		{uc.X86_REG_EAX, &c.Eax},
		{uc.X86_REG_ECX, &c.Ecx},
		{uc.X86_REG_EDX, &c.Edx},
		{uc.X86_REG_EBX, &c.Ebx},
		{uc.X86_REG_ESP, &c.Esp},
		{uc.X86_REG_EBP, &c.Ebp},
		{uc.X86_REG_ESI, &c.Esi},
		{uc.X86_REG_EDI, &c.Edi},
		{uc.X86_REG_EFLAGS, &c.EFlags},
	}
}

func (m *Machine) load(t *ps.Thread) error {
	for _, r := range registers(&t.Ctx) {
		if err := m.u.RegWrite(r.enum, uint64(*r.val)); err != nil {
			return errors.Wrap(err, "RegWrite() failed")
		}
	}
	return m.loadTeb(t.TebBase)
}

func (m *Machine) save(t *ps.Thread) error {
	for _, r := range append(registers(&t.Ctx), reg{uc.X86_REG_EIP, &t.Ctx.Eip}) {
		v, err := m.u.RegRead(r.enum)
		if err != nil {
			return errors.Wrap(err, "RegRead() failed")
		}
		*r.val = uint32(v)
	}
	return nil
}

// Run executes t until it traps.
func (m *Machine) Run(t *ps.Thread) (ps.Trap, error) {
	if m.err != nil {
		return ps.Trap{}, m.err
	}
	if err := m.load(t); err != nil {
		return ps.Trap{}, err
	}
	m.trap = nil
	err := m.u.Start(uint64(t.Ctx.Eip), 0xffffffff)
	if err := m.save(t); err != nil {
		return ps.Trap{}, err
	}
	if m.trap != nil {
		return *m.trap, nil
	}
	eip := uint64(t.Ctx.Eip)
	if err != nil {
		if e, ok := err.(uc.UcError); ok && e == uc.ERR_INSN_INVALID {
			return ps.Trap{Kind: ps.TrapIllegal, Addr: eip, Status: uint32(models.STATUS_ILLEGAL_INSTRUCTION)}, nil
		}
		return ps.Trap{}, errors.Wrap(err, "uc.Start() failed")
	}
	// execution reached the end of the address space
	return ps.Trap{Kind: ps.TrapFault, Addr: eip, Status: uint32(models.STATUS_ACCESS_VIOLATION)}, nil
}

func (m *Machine) Close() error {
	return m.u.Close()
}

func (m *Machine) fail(err error) {
	if err != nil && m.err == nil {
		m.err = err
	}
}

// OnMap maps data in place. The section backing lives outside the Go heap
// and outlives the mapping.
func (m *Machine) OnMap(addr, size uint64, prot int, data []byte) {
	err := m.u.MemMapPtr(addr, size, prot, unsafe.Pointer(&data[0]))
	m.fail(errors.Wrapf(err, "MemMapPtr(%#x, %#x) failed", addr, size))
}

// each calls fn for every mapped part of addr:addr+size.
func (m *Machine) each(addr, size uint64, fn func(addr, size uint64) error) error {
	regions, err := m.u.MemRegions()
	if err != nil {
		return err
	}
	end := addr + size
	for _, r := range regions {
		lo, hi := r.Begin, r.End+1
		if hi <= addr || lo >= end {
			continue
		}
		if lo < addr {
			lo = addr
		}
		if hi > end {
			hi = end
		}
		if err := fn(lo, hi-lo); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) OnUnmap(addr, size uint64) {
	err := m.each(addr, size, m.u.MemUnmap)
	m.fail(errors.Wrapf(err, "unmap %#x+%#x failed", addr, size))
}

func (m *Machine) OnProtect(addr, size uint64, prot int) {
	err := m.each(addr, size, func(addr, size uint64) error {
		return m.u.MemProtect(addr, size, prot)
	})
	m.fail(errors.Wrapf(err, "protect %#x+%#x failed", addr, size))
}
