// Package mm manages guest address spaces: private allocations, sections
// and their views, and access tracing.
package mm

import (
	"github.com/lunixbochs/ntcorn/go/models/cpu"
)

const (
	PAGE_SIZE         = 0x1000
	ALLOC_GRANULARITY = 0x10000

	// user mode addresses handed out by the allocator
	UserLow  = 0x10000
	UserHigh = 0x7ffe0000
)

const (
	MEM_COMMIT   = 0x1000
	MEM_RESERVE  = 0x2000
	MEM_DECOMMIT = 0x4000
	MEM_RELEASE  = 0x8000
	MEM_FREE     = 0x10000
	MEM_PRIVATE  = 0x20000
	MEM_MAPPED   = 0x40000
	MEM_TOP_DOWN = 0x100000
	MEM_IMAGE    = 0x1000000
)

const (
	PAGE_NOACCESS          = 0x01
	PAGE_READONLY          = 0x02
	PAGE_READWRITE         = 0x04
	PAGE_WRITECOPY         = 0x08
	PAGE_EXECUTE           = 0x10
	PAGE_EXECUTE_READ      = 0x20
	PAGE_EXECUTE_READWRITE = 0x40
	PAGE_EXECUTE_WRITECOPY = 0x80
	PAGE_GUARD             = 0x100
	PAGE_NOCACHE           = 0x200
)

const (
	SEC_IMAGE   = 0x1000000
	SEC_RESERVE = 0x4000000
	SEC_COMMIT  = 0x8000000
)

func pageDown(n uint64) uint64 { return n &^ (PAGE_SIZE - 1) }
func pageUp(n uint64) uint64   { return (n + PAGE_SIZE - 1) &^ (PAGE_SIZE - 1) }

func alignUp(n, a uint64) uint64   { return (n + a - 1) &^ (a - 1) }
func alignDown(n, a uint64) uint64 { return n &^ (a - 1) }

// ValidProtect reports whether protect names exactly one base protection,
// optionally with the guard or nocache modifiers.
func ValidProtect(protect uint32) bool {
	base := protect &^ (PAGE_GUARD | PAGE_NOCACHE)
	return base != 0 && base&(base-1) == 0 && base <= PAGE_EXECUTE_WRITECOPY
}

// CpuProt converts a PAGE_* protection to guest memory model protections.
func CpuProt(protect uint32) int {
	switch protect &^ (PAGE_GUARD | PAGE_NOCACHE) {
	case PAGE_READONLY:
		return cpu.PROT_READ
	case PAGE_READWRITE, PAGE_WRITECOPY:
		return cpu.PROT_READ | cpu.PROT_WRITE
	case PAGE_EXECUTE, PAGE_EXECUTE_READ:
		return cpu.PROT_READ | cpu.PROT_EXEC
	case PAGE_EXECUTE_READWRITE, PAGE_EXECUTE_WRITECOPY:
		return cpu.PROT_ALL
	}
	return cpu.PROT_NONE
}

// PageProt is the inverse of CpuProt.
func PageProt(prot int) uint32 {
	switch prot {
	case cpu.PROT_READ:
		return PAGE_READONLY
	case cpu.PROT_READ | cpu.PROT_WRITE, cpu.PROT_WRITE:
		return PAGE_READWRITE
	case cpu.PROT_READ | cpu.PROT_EXEC, cpu.PROT_EXEC:
		return PAGE_EXECUTE_READ
	case cpu.PROT_ALL, cpu.PROT_WRITE | cpu.PROT_EXEC:
		return PAGE_EXECUTE_READWRITE
	}
	return PAGE_NOACCESS
}
