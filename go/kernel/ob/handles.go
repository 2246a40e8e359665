package ob

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/models"
)

const maxHandles = 0x4000

// HandleTable maps handles to objects for one process. Handles are
// multiples of four starting at four, and the lowest free slot is reused.
type HandleTable struct {
	slots []Object
	count int
}

func NewHandleTable() *HandleTable {
	return &HandleTable{}
}

func (t *HandleTable) Alloc(o Object) (uint32, error) {
	idx := -1
	for i, s := range t.slots {
		if s == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		if len(t.slots) >= maxHandles {
			return 0, errors.WithStack(models.STATUS_INSUFFICIENT_RESOURCES)
		}
		t.slots = append(t.slots, nil)
		idx = len(t.slots) - 1
	}
	t.slots[idx] = AddRef(o)
	t.count++
	return uint32(idx+1) * 4, nil
}

func (t *HandleTable) index(h uint32) int {
	if h == 0 || h&3 != 0 {
		return -1
	}
	idx := int(h/4) - 1
	if idx >= len(t.slots) || t.slots[idx] == nil {
		return -1
	}
	return idx
}

func (t *HandleTable) Lookup(h uint32) (Object, error) {
	idx := t.index(h)
	if idx < 0 {
		return nil, errors.WithStack(models.STATUS_INVALID_HANDLE)
	}
	return t.slots[idx], nil
}

// LookupType is Lookup with an object type check.
func (t *HandleTable) LookupType(h uint32, typ string) (Object, error) {
	o, err := t.Lookup(h)
	if err != nil {
		return nil, err
	}
	if TypeName(o) != typ {
		return nil, errors.Wrapf(models.STATUS_OBJECT_TYPE_MISMATCH, "handle %#x is a %s, not %s", h, TypeName(o), typ)
	}
	return o, nil
}

// Free closes a handle, releasing its reference.
func (t *HandleTable) Free(h uint32) error {
	idx := t.index(h)
	if idx < 0 {
		return errors.WithStack(models.STATUS_INVALID_HANDLE)
	}
	o := t.slots[idx]
	t.slots[idx] = nil
	t.count--
	Release(o)
	return nil
}

func (t *HandleTable) Count() int {
	return t.count
}

// Close releases every open handle.
func (t *HandleTable) Close() {
	slots := t.slots
	t.slots = nil
	t.count = 0
	for _, o := range slots {
		if o != nil {
			Release(o)
		}
	}
}
