package win32k

// Arena hands out zeroed blocks of the user shared section, first fit,
// in 16 byte granules. Offsets are relative to the start of the section,
// so they translate directly to kernel and user addresses.
type Arena struct {
	mem  []byte
	base uint32
	n    int
	bits []uint64
}

const granule = 16

// NewArena manages mem[base:].
func NewArena(mem []byte, base uint32) *Arena {
	n := (len(mem) - int(base)) / granule
	return &Arena{mem: mem, base: base, n: n, bits: make([]uint64, (n+63)/64)}
}

func granules(size uint32) int {
	if size == 0 {
		size = 1
	}
	return int((size + granule - 1) / granule)
}

func (a *Arena) used(i int) bool {
	return a.bits[i/64]&(1<<uint(i%64)) != 0
}

func (a *Arena) mark(start, count int, used bool) {
	for i := start; i < start+count; i++ {
		if used {
			a.bits[i/64] |= 1 << uint(i%64)
		} else {
			a.bits[i/64] &^= 1 << uint(i%64)
		}
	}
}

// Alloc returns the offset of size zeroed bytes. It fails without side
// effects when no run of free granules is long enough.
func (a *Arena) Alloc(size uint32) (uint32, bool) {
	need := granules(size)
	run := 0
	for i := 0; i < a.n; i++ {
		if a.used(i) {
			run = 0
			continue
		}
		run++
		if run < need {
			continue
		}
		start := i - need + 1
		a.mark(start, need, true)
		off := a.base + uint32(start)*granule
		b := a.mem[off : off+uint32(need)*granule]
		for j := range b {
			b[j] = 0
		}
		return off, true
	}
	return 0, false
}

// Free returns a block from Alloc. size must match the allocation.
func (a *Arena) Free(off, size uint32) {
	if off < a.base {
		return
	}
	a.mark(int((off-a.base)/granule), granules(size), false)
}

// InUse reports whether any byte of [off, off+size) is allocated.
func (a *Arena) InUse(off, size uint32) bool {
	start := int((off - a.base) / granule)
	for i := start; i < start+granules(size) && i < a.n; i++ {
		if a.used(i) {
			return true
		}
	}
	return false
}

// Free granules left.
func (a *Arena) Available() int {
	free := 0
	for i := 0; i < a.n; i++ {
		if !a.used(i) {
			free++
		}
	}
	return free
}

func (a *Arena) Bytes(off, size uint32) []byte {
	return a.mem[off : off+size]
}
