package win32k

import (
	"encoding/binary"

	"github.com/lunixbochs/ntcorn/go/kernel/mm"
	"github.com/lunixbochs/ntcorn/go/kernel/ps"
)

const (
	USER_HANDLE_WINDOW = 1

	MaxUserHandles      = 0x200
	userHandleEntrySize = 16
)

// UserObject is anything a user handle can name.
type UserObject interface {
	// KernelAddr is where the object lives in the kernel's view of the
	// shared section.
	KernelAddr() uint32
	// free tears the object down without talking to its owner. It must
	// release the object's handle.
	free()
}

type handleEntry struct {
	object   UserObject
	owner    *ps.Process
	typ      uint16
	highpart uint16
	next     uint16
}

// HandleTable is the user handle table shared by every GUI process. The
// kernel keeps the authoritative entries and mirrors each change into
// Section, which guests map read only:
//
//	0x00 owner     process id
//	0x04 object    kernel address, or the next free index
//	0x08 type
//	0x0a highpart
type HandleTable struct {
	Section *mm.Section

	entries [MaxUserHandles]handleEntry
	next    uint16
	// one past the highest index ever handed out, mirrored to setMax
	max    uint32
	setMax func(uint32)
}

// NewHandleTable creates the table. setMax publishes max_window_handle.
func NewHandleTable(setMax func(uint32)) (*HandleTable, error) {
	sec, err := mm.NewSection(userHandleEntrySize*MaxUserHandles, mm.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	ht := &HandleTable{Section: sec, next: 1, setMax: setMax}
	for i := 1; i < MaxUserHandles; i++ {
		ht.entries[i].highpart = 1
		if i < MaxUserHandles-1 {
			ht.entries[i].next = uint16(i + 1)
		}
		ht.sync(i)
	}
	return ht, nil
}

func (ht *HandleTable) sync(i int) {
	e := &ht.entries[i]
	b := ht.Section.Data()[i*userHandleEntrySize : (i+1)*userHandleEntrySize]
	var owner, object uint32
	if e.owner != nil {
		owner = e.owner.ID
	}
	if e.object != nil {
		object = e.object.KernelAddr()
	} else {
		object = uint32(e.next)
	}
	binary.LittleEndian.PutUint32(b[0:], owner)
	binary.LittleEndian.PutUint32(b[4:], object)
	binary.LittleEndian.PutUint16(b[8:], e.typ)
	binary.LittleEndian.PutUint16(b[10:], e.highpart)
}

// Max is max_window_handle.
func (ht *HandleTable) Max() uint32 {
	return ht.max
}

// Alloc returns a handle for o, or 0 when the table is full.
func (ht *HandleTable) Alloc(o UserObject, typ uint16, owner *ps.Process) uint32 {
	i := ht.next
	if i == 0 {
		return 0
	}
	e := &ht.entries[i]
	ht.next = e.next
	e.object = o
	e.typ = typ
	e.owner = owner
	e.next = 0
	ht.sync(int(i))
	if uint32(i)+1 > ht.max {
		ht.max = uint32(i) + 1
		if ht.setMax != nil {
			ht.setMax(ht.max)
		}
	}
	return uint32(e.highpart)<<16 | uint32(i)
}

func (ht *HandleTable) index(h uint32) (int, bool) {
	i := h & 0xffff
	if i == 0 || i >= MaxUserHandles || i >= ht.max {
		return 0, false
	}
	return int(i), true
}

// Free puts a handle back on the free list.
func (ht *HandleTable) Free(h uint32) {
	i, ok := ht.index(h)
	if !ok {
		return
	}
	e := &ht.entries[i]
	e.object = nil
	e.owner = nil
	e.typ = 0
	e.next = ht.next
	ht.next = uint16(i)
	ht.sync(i)
}

// Get returns the object behind h if it has type typ.
func (ht *HandleTable) Get(h uint32, typ uint16) UserObject {
	i, ok := ht.index(h)
	if !ok {
		return nil
	}
	e := &ht.entries[i]
	if e.object == nil || e.typ != typ {
		return nil
	}
	return e.object
}

// Owner of the object behind h.
func (ht *HandleTable) Owner(h uint32) *ps.Process {
	if i, ok := ht.index(h); ok {
		return ht.entries[i].owner
	}
	return nil
}

// FreeProcessHandles destroys every object owned by p. Freeing one object
// may free others, so each slot is checked when it is reached.
func (ht *HandleTable) FreeProcessHandles(p *ps.Process) int {
	count := 0
	for i := 0; i < int(ht.max) && i < MaxUserHandles; i++ {
		e := &ht.entries[i]
		if e.object != nil && e.owner == p {
			e.object.free()
			count++
		}
	}
	return count
}

// Objects returns the live objects of type typ in handle order.
func (ht *HandleTable) Objects(typ uint16) []UserObject {
	var list []UserObject
	for i := 1; i < int(ht.max) && i < MaxUserHandles; i++ {
		if e := &ht.entries[i]; e.object != nil && e.typ == typ {
			list = append(list, e.object)
		}
	}
	return list
}

// Count of live handles.
func (ht *HandleTable) Count() int {
	n := 0
	for i := range ht.entries {
		if ht.entries[i].object != nil {
			n++
		}
	}
	return n
}
