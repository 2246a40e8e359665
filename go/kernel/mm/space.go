package mm

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/kernel/ob"
	"github.com/lunixbochs/ntcorn/go/models"
	"github.com/lunixbochs/ntcorn/go/models/cpu"
)

// Tracer observes guest accesses to one view. It is diagnostic only.
type Tracer interface {
	OnAccess(v *View, addr, pc uint64, write bool)
}

// Observer mirrors address space changes into a native CPU backend. An
// OnUnmap range may include addresses that were never mapped.
type Observer interface {
	OnMap(addr, size uint64, prot int, data []byte)
	OnUnmap(addr, size uint64)
	OnProtect(addr, size uint64, prot int)
}

// View is one contiguous allocation: a private reservation or a mapped
// section view. Private reservations are backed by their own anonymous
// section so every page has stable backing memory.
type View struct {
	Base    uint64
	Size    uint64
	Type    uint32
	Protect uint32
	Section *Section
	Offset  uint64

	commit  []bool
	protect []uint32
	tracer  Tracer
	hook    cpu.Hook
}

func (v *View) End() uint64 {
	return v.Base + v.Size
}

func (v *View) Contains(addr uint64) bool {
	return addr >= v.Base && addr < v.End()
}

func (v *View) Tracer() Tracer {
	return v.tracer
}

// Data is the kernel's window onto the view's backing memory.
func (v *View) Data() []byte {
	return v.Section.Data()[v.Offset : v.Offset+v.Size]
}

func (v *View) pages(start, end uint64) (int, int) {
	return int((start - v.Base) / PAGE_SIZE), int((end - v.Base) / PAGE_SIZE)
}

// MEMORY_BASIC_INFORMATION
type MemoryBasicInformation struct {
	BaseAddress       uint32
	AllocationBase    uint32
	AllocationProtect uint32
	RegionSize        uint32
	State             uint32
	Protect           uint32
	Type              uint32
}

type AddressSpace struct {
	Mem      *cpu.Mem
	Hooks    *cpu.Hooks
	Observer Observer
	// PC reports the current guest program counter to tracers.
	PC func() uint64

	low, high uint64
	views     []*View
}

func NewAddressSpace() *AddressSpace {
	return NewAddressSpaceRange(UserLow, UserHigh)
}

// NewAddressSpaceRange limits the allocator to low:high.
func NewAddressSpaceRange(low, high uint64) *AddressSpace {
	mem := cpu.NewMem(32, binary.LittleEndian)
	return &AddressSpace{
		Mem:   mem,
		Hooks: cpu.NewHooks(mem),
		low:   low,
		high:  high,
	}
}

// Views returns the current views in address order.
func (as *AddressSpace) Views() []*View {
	return append([]*View(nil), as.views...)
}

func (as *AddressSpace) Find(addr uint64) *View {
	i := sort.Search(len(as.views), func(i int) bool { return as.views[i].End() > addr })
	if i < len(as.views) && as.views[i].Contains(addr) {
		return as.views[i]
	}
	return nil
}

func (as *AddressSpace) overlaps(base, size uint64) bool {
	for _, v := range as.views {
		if base < v.End() && v.Base < base+size {
			return true
		}
	}
	return false
}

func (as *AddressSpace) inRange(base, size uint64) bool {
	return base >= as.low && base+size > base && base+size <= as.high
}

func (as *AddressSpace) insert(v *View) {
	as.views = append(as.views, v)
	sort.Slice(as.views, func(i, j int) bool { return as.views[i].Base < as.views[j].Base })
}

func (as *AddressSpace) remove(v *View) {
	for i, o := range as.views {
		if o == v {
			as.views = append(as.views[:i], as.views[i+1:]...)
			return
		}
	}
}

// findFree returns the lowest (or highest) aligned hole of size bytes.
func (as *AddressSpace) findFree(size, align uint64, topDown bool) (uint64, bool) {
	if size == 0 || size > as.high-as.low {
		return 0, false
	}
	if topDown {
		cursor := as.high
		for i := len(as.views) - 1; i >= -1; i-- {
			floor := as.low
			if i >= 0 {
				floor = as.views[i].End()
			}
			if cursor >= size {
				base := alignDown(cursor-size, align)
				if base >= floor && base >= as.low {
					return base, true
				}
			}
			if i >= 0 && as.views[i].Base < cursor {
				cursor = as.views[i].Base
			}
		}
		return 0, false
	}
	cursor := as.low
	for i := 0; i <= len(as.views); i++ {
		ceil := as.high
		if i < len(as.views) {
			ceil = as.views[i].Base
		}
		base := alignUp(cursor, align)
		if base+size <= ceil && base+size <= as.high {
			return base, true
		}
		if i < len(as.views) && as.views[i].End() > cursor {
			cursor = as.views[i].End()
		}
	}
	return 0, false
}

// sync rebuilds the guest mapping of pages first:last of v.
func (as *AddressSpace) sync(v *View, first, last int) {
	addr := v.Base + uint64(first)*PAGE_SIZE
	as.Mem.Discard(addr, uint64(last-first)*PAGE_SIZE)
	if as.Observer != nil {
		as.Observer.OnUnmap(addr, uint64(last-first)*PAGE_SIZE)
	}
	data := v.Data()
	for i := first; i < last; {
		j := i + 1
		for j < last && v.commit[j] == v.commit[i] && v.protect[j] == v.protect[i] {
			j++
		}
		if v.commit[i] {
			start, end := uint64(i)*PAGE_SIZE, uint64(j)*PAGE_SIZE
			prot := CpuProt(v.protect[i])
			page, _ := as.Mem.MemMapData(v.Base+start, data[start:end:end], prot, v)
			if page != nil {
				page.Desc = viewDesc(v)
			}
			if as.Observer != nil {
				as.Observer.OnMap(v.Base+start, end-start, prot, data[start:end:end])
			}
		}
		i = j
	}
}

func viewDesc(v *View) string {
	switch v.Type {
	case MEM_IMAGE:
		return "image"
	case MEM_MAPPED:
		return "section"
	}
	return "private"
}

func (v *View) setPages(first, last int, commit bool, protect uint32) {
	for i := first; i < last; i++ {
		v.commit[i] = commit
		v.protect[i] = protect
	}
}

func newView(base, size uint64, typ, protect uint32, sec *Section, offset uint64) *View {
	n := size / PAGE_SIZE
	return &View{
		Base:    base,
		Size:    size,
		Type:    typ,
		Protect: protect,
		Section: sec,
		Offset:  offset,
		commit:  make([]bool, n),
		protect: make([]uint32, n),
	}
}

// Allocate reserves and/or commits private memory and returns the
// resulting base and size. Nothing changes when it fails.
func (as *AddressSpace) Allocate(addr, size uint64, allocType, protect uint32) (uint64, uint64, error) {
	if allocType&^(MEM_COMMIT|MEM_RESERVE|MEM_TOP_DOWN) != 0 || allocType&(MEM_COMMIT|MEM_RESERVE) == 0 {
		return 0, 0, errors.Wrapf(models.STATUS_INVALID_PARAMETER, "bad allocation type %#x", allocType)
	}
	if !ValidProtect(protect) {
		return 0, 0, errors.Wrapf(models.STATUS_INVALID_PARAMETER, "bad protection %#x", protect)
	}
	if size == 0 {
		return 0, 0, errors.Wrap(models.STATUS_INVALID_PARAMETER, "zero size")
	}
	if allocType&MEM_RESERVE == 0 && addr != 0 {
		return as.commit(addr, size, protect)
	}
	var base uint64
	if addr != 0 {
		base = alignDown(addr, ALLOC_GRANULARITY)
		size = pageUp(addr+size) - base
		if !as.inRange(base, size) || as.overlaps(base, size) {
			return 0, 0, errors.Wrapf(models.STATUS_CONFLICTING_ADDRESSES, "%#x+%#x", base, size)
		}
	} else {
		size = pageUp(size)
		var ok bool
		if base, ok = as.findFree(size, ALLOC_GRANULARITY, allocType&MEM_TOP_DOWN != 0); !ok {
			return 0, 0, errors.Wrapf(models.STATUS_NO_MEMORY, "no room for %#x bytes", size)
		}
	}
	sec, err := NewSection(size, protect)
	if err != nil {
		return 0, 0, err
	}
	v := newView(base, size, MEM_PRIVATE, protect, sec, 0)
	as.insert(v)
	if allocType&MEM_COMMIT != 0 {
		v.setPages(0, len(v.commit), true, protect)
		as.sync(v, 0, len(v.commit))
	}
	return base, size, nil
}

func (as *AddressSpace) commit(addr, size uint64, protect uint32) (uint64, uint64, error) {
	start, end := pageDown(addr), pageUp(addr+size)
	v := as.Find(start)
	if v == nil || v.Type != MEM_PRIVATE {
		return 0, 0, errors.Wrapf(models.STATUS_MEMORY_NOT_ALLOCATED, "%#x not reserved", addr)
	}
	if end > v.End() || end <= start {
		return 0, 0, errors.Wrapf(models.STATUS_CONFLICTING_ADDRESSES, "%#x+%#x crosses reservation", addr, size)
	}
	first, last := v.pages(start, end)
	v.setPages(first, last, true, protect)
	as.sync(v, first, last)
	return start, end - start, nil
}

// Free decommits or releases private memory.
func (as *AddressSpace) Free(addr, size uint64, freeType uint32) (uint64, uint64, error) {
	if freeType != MEM_DECOMMIT && freeType != MEM_RELEASE {
		return 0, 0, errors.Wrapf(models.STATUS_INVALID_PARAMETER, "bad free type %#x", freeType)
	}
	v := as.Find(addr)
	if v == nil {
		return 0, 0, errors.Wrapf(models.STATUS_MEMORY_NOT_ALLOCATED, "%#x", addr)
	}
	if v.Type != MEM_PRIVATE {
		return 0, 0, errors.Wrapf(models.STATUS_UNABLE_TO_FREE_VM, "%#x is a section view", addr)
	}
	if freeType == MEM_RELEASE {
		if pageDown(addr) != v.Base {
			return 0, 0, errors.Wrapf(models.STATUS_FREE_VM_NOT_AT_BASE, "%#x", addr)
		}
		if size != 0 && pageUp(size) != v.Size {
			return 0, 0, errors.Wrapf(models.STATUS_UNABLE_TO_FREE_VM, "partial release of %#x", addr)
		}
		as.release(v)
		return v.Base, v.Size, nil
	}
	start, end := pageDown(addr), v.End()
	if size != 0 {
		end = pageUp(addr + size)
	}
	if end > v.End() {
		return 0, 0, errors.Wrapf(models.STATUS_UNABLE_TO_FREE_VM, "%#x+%#x crosses reservation", addr, size)
	}
	first, last := v.pages(start, end)
	data := v.Data()
	for i := start - v.Base; i < end-v.Base; i++ {
		data[i] = 0
	}
	v.setPages(first, last, false, 0)
	as.sync(v, first, last)
	return start, end - start, nil
}

func (as *AddressSpace) release(v *View) {
	as.Mem.Discard(v.Base, v.Size)
	if as.Observer != nil {
		as.Observer.OnUnmap(v.Base, v.Size)
	}
	if v.hook != nil {
		as.Hooks.HookDel(v.hook)
		v.hook = nil
	}
	as.remove(v)
	ob.Release(v.Section)
}

// Protect changes the protection of committed pages and returns the old
// protection of the first page.
func (as *AddressSpace) Protect(addr, size uint64, protect uint32) (uint32, error) {
	if !ValidProtect(protect) {
		return 0, errors.Wrapf(models.STATUS_INVALID_PAGE_PROTECTION, "%#x", protect)
	}
	if size == 0 {
		return 0, errors.Wrap(models.STATUS_INVALID_PARAMETER, "zero size")
	}
	start, end := pageDown(addr), pageUp(addr+size)
	v := as.Find(start)
	if v == nil {
		return 0, errors.Wrapf(models.STATUS_MEMORY_NOT_ALLOCATED, "%#x", addr)
	}
	if end > v.End() {
		return 0, errors.Wrapf(models.STATUS_CONFLICTING_ADDRESSES, "%#x+%#x crosses allocation", addr, size)
	}
	first, last := v.pages(start, end)
	for i := first; i < last; i++ {
		if !v.commit[i] {
			return 0, errors.Wrapf(models.STATUS_NOT_COMMITTED, "%#x", v.Base+uint64(i)*PAGE_SIZE)
		}
	}
	old := v.protect[first]
	for i := first; i < last; i++ {
		v.protect[i] = protect
	}
	prot := CpuProt(protect)
	as.Mem.MemProt(start, end-start, prot)
	if as.Observer != nil {
		as.Observer.OnProtect(start, end-start, prot)
	}
	return old, nil
}

// Query describes the region of pages sharing the state of addr.
func (as *AddressSpace) Query(addr uint64) (MemoryBasicInformation, error) {
	var info MemoryBasicInformation
	if addr >= as.high {
		return info, errors.Wrapf(models.STATUS_INVALID_PARAMETER, "%#x outside user range", addr)
	}
	page := pageDown(addr)
	v := as.Find(page)
	if v == nil {
		end := as.high
		for _, o := range as.views {
			if o.Base > page {
				end = o.Base
				break
			}
		}
		info.BaseAddress = uint32(page)
		info.RegionSize = uint32(end - page)
		info.State = MEM_FREE
		info.Protect = PAGE_NOACCESS
		return info, nil
	}
	i, _ := v.pages(page, page)
	j := i + 1
	for j < len(v.commit) && v.commit[j] == v.commit[i] && v.protect[j] == v.protect[i] {
		j++
	}
	info.BaseAddress = uint32(page)
	info.AllocationBase = uint32(v.Base)
	info.AllocationProtect = v.Protect
	info.RegionSize = uint32(j-i) * PAGE_SIZE
	info.Type = v.Type
	if v.commit[i] {
		info.State = MEM_COMMIT
		info.Protect = v.protect[i]
	} else {
		info.State = MEM_RESERVE
	}
	return info, nil
}

// MapSection maps a view of sec. A zero addr picks the image base for
// images when it is free, otherwise the first free hole (searched top-down
// for non-image sections).
func (as *AddressSpace) MapSection(sec *Section, addr, offset, size uint64, protect uint32) (*View, error) {
	if offset%ALLOC_GRANULARITY != 0 {
		return nil, errors.Wrapf(models.STATUS_INVALID_PARAMETER, "unaligned offset %#x", offset)
	}
	if offset >= sec.Size {
		return nil, errors.Wrapf(models.STATUS_INVALID_VIEW_SIZE, "offset %#x", offset)
	}
	if size == 0 {
		size = sec.Size - offset
	}
	size = pageUp(size)
	if offset+size > sec.Size {
		return nil, errors.Wrapf(models.STATUS_INVALID_VIEW_SIZE, "%#x+%#x", offset, size)
	}
	if !ValidProtect(protect) {
		return nil, errors.Wrapf(models.STATUS_INVALID_PAGE_PROTECTION, "%#x", protect)
	}
	typ := uint32(MEM_MAPPED)
	if sec.Image != nil {
		typ = MEM_IMAGE
		base := uint64(sec.Image.ImageBase)
		if addr == 0 && as.inRange(base, size) && !as.overlaps(base, size) {
			addr = base
		}
	}
	var base uint64
	if addr != 0 {
		if addr%ALLOC_GRANULARITY != 0 {
			return nil, errors.Wrapf(models.STATUS_INVALID_PARAMETER, "unaligned view address %#x", addr)
		}
		if !as.inRange(addr, size) || as.overlaps(addr, size) {
			return nil, errors.Wrapf(models.STATUS_CONFLICTING_ADDRESSES, "%#x+%#x", addr, size)
		}
		base = addr
	} else {
		var ok bool
		if base, ok = as.findFree(size, ALLOC_GRANULARITY, sec.Image == nil); !ok {
			return nil, errors.Wrapf(models.STATUS_NO_MEMORY, "no room for %#x byte view", size)
		}
	}
	ob.AddRef(sec)
	v := newView(base, size, typ, protect, sec, offset)
	for i := range v.commit {
		v.commit[i] = true
		v.protect[i] = sec.pageProtect(offset+uint64(i)*PAGE_SIZE, protect)
	}
	as.insert(v)
	as.sync(v, 0, len(v.commit))
	return v, nil
}

// Unmap removes the section view containing addr.
func (as *AddressSpace) Unmap(addr uint64) error {
	v := as.Find(addr)
	if v == nil || v.Type == MEM_PRIVATE {
		return errors.Wrapf(models.STATUS_NOT_MAPPED_VIEW, "%#x", addr)
	}
	as.release(v)
	return nil
}

func (as *AddressSpace) pc() uint64 {
	if as.PC != nil {
		return as.PC()
	}
	return 0
}

// SetTracer attaches t to the view containing addr. A nil t detaches.
func (as *AddressSpace) SetTracer(addr uint64, t Tracer) error {
	v := as.Find(addr)
	if v == nil {
		return errors.Wrapf(models.STATUS_MEMORY_NOT_ALLOCATED, "%#x", addr)
	}
	if v.hook != nil {
		as.Hooks.HookDel(v.hook)
		v.hook = nil
	}
	v.tracer = t
	if t == nil {
		return nil
	}
	cb := func(access int, addr uint64, size int, val int64) {
		t.OnAccess(v, addr, as.pc(), access == cpu.MEM_WRITE)
	}
	hh, err := as.Hooks.HookAdd(cpu.HOOK_MEM_READ|cpu.HOOK_MEM_WRITE, cb, v.Base, v.End()-1)
	if err != nil {
		return err
	}
	v.hook = hh
	return nil
}

// Close releases every view.
func (as *AddressSpace) Close() {
	for _, v := range as.Views() {
		as.release(v)
	}
}

// MemReadInto and MemWrite are the kernel's accessors. They ignore page
// protection but fail on memory that is not committed.
func (as *AddressSpace) MemReadInto(p []byte, addr uint64) error {
	if err := as.Mem.MemReadInto(p, addr); err != nil {
		return errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	return nil
}

func (as *AddressSpace) MemWrite(addr uint64, p []byte) error {
	if err := as.Mem.MemWrite(addr, p); err != nil {
		return errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	return nil
}

func (as *AddressSpace) CopyFromUser(addr, size uint64) ([]byte, error) {
	p := make([]byte, size)
	if err := as.MemReadInto(p, addr); err != nil {
		return nil, err
	}
	return p, nil
}

func (as *AddressSpace) CopyToUser(addr uint64, p []byte) error {
	return as.MemWrite(addr, p)
}

func (as *AddressSpace) ReadUint32(addr uint64) (uint32, error) {
	return models.ReadUint32(as, addr)
}

func (as *AddressSpace) WriteUint32(addr uint64, v uint32) error {
	return models.WriteUint32(as, addr, v)
}

// GuestRead and GuestWrite access memory as guest code would, enforcing
// protection and reporting to tracers.
func (as *AddressSpace) GuestRead(addr, size uint64) ([]byte, error) {
	p, err := as.Mem.ReadProt(addr, size, cpu.PROT_READ)
	if err != nil {
		return nil, errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	return p, nil
}

func (as *AddressSpace) GuestWrite(addr uint64, p []byte) error {
	if err := as.Mem.WriteProt(addr, p, cpu.PROT_WRITE); err != nil {
		return errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
	}
	return nil
}
