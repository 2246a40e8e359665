// Package ps implements processes and threads: creation, the initial
// process, environment blocks, user mode callbacks, waits and termination.
package ps

import (
	"fmt"
)

// Context is the x86 register state of a thread. The CPU backend loads it
// before running the thread and saves it back when the thread traps.
type Context struct {
	Eax, Ecx, Edx, Ebx uint32
	Esp, Ebp, Esi, Edi uint32
	Eip, EFlags        uint32

	SegCs, SegDs, SegEs, SegFs, SegGs, SegSs uint32
}

func (c *Context) String() string {
	return fmt.Sprintf("eax=%08x ebx=%08x ecx=%08x edx=%08x esi=%08x edi=%08x\neip=%08x esp=%08x ebp=%08x efl=%08x",
		c.Eax, c.Ebx, c.Ecx, c.Edx, c.Esi, c.Edi, c.Eip, c.Esp, c.Ebp, c.EFlags)
}

// Initial user mode segment selectors.
const (
	SEG_CS = 0x1b
	SEG_DS = 0x23
	SEG_FS = 0x3b

	EFLAGS_IF = 0x200
)

// InitContext returns a context with user mode selectors and interrupts
// enabled.
func InitContext() Context {
	return Context{
		SegCs:  SEG_CS,
		SegDs:  SEG_DS,
		SegEs:  SEG_DS,
		SegSs:  SEG_DS,
		SegFs:  SEG_FS,
		EFlags: EFLAGS_IF,
	}
}

// Trap kinds
const (
	// Eax holds the service number and Edx the guest argument pointer.
	TrapSyscall = iota
	// Addr is the faulting address.
	TrapFault
	TrapBreakpoint
	// the instruction at Eip could not be decoded or executed
	TrapIllegal
)

// Trap is why a thread stopped running guest code.
type Trap struct {
	Kind int
	Addr uint64
	// Status is the exception code for faults.
	Status uint32
}

func (t Trap) String() string {
	switch t.Kind {
	case TrapSyscall:
		return "syscall"
	case TrapFault:
		return fmt.Sprintf("fault at %#x", t.Addr)
	case TrapBreakpoint:
		return fmt.Sprintf("breakpoint at %#x", t.Addr)
	case TrapIllegal:
		return fmt.Sprintf("illegal instruction at %#x", t.Addr)
	}
	return fmt.Sprintf("trap %d", t.Kind)
}

// Machine executes the guest code of one process.
type Machine interface {
	// Run resumes t from t.Ctx and returns at the next trap, with t.Ctx
	// updated.
	Run(t *Thread) (Trap, error)
	Close() error
}

// Dispatcher services traps. It runs on the trapping thread's fiber and
// may block it or call back into user mode.
type Dispatcher interface {
	Dispatch(t *Thread, trap Trap)
}
