package win32k

import (
	"encoding/binary"

	"github.com/lunixbochs/ntcorn/go/kernel/gdi"
	"github.com/lunixbochs/ntcorn/go/kernel/mm"
)

const (
	MaxDCs = 0x100
	dcSize = 0x100

	// GDI handle type of device contexts
	dcHandleBase = 0x01010000
)

// DC_ATTR fields in a DC's shared block. Guests may write the colours.
const (
	DCAttrHandle     = 0x00
	DCAttrBrushColor = 0x04
	DCAttrTextColor  = 0x08
	DCAttrBkColor    = 0x0c
	DCAttrBounds     = 0x10
)

// DC is a device context handed to guests. Its shared block is visible to
// every GUI process at DCSharedMem + Index*0x100.
type DC struct {
	gdi.DeviceContext
	Index  int
	Handle uint32
	shared []byte
}

func (dc *DC) put(off int, v uint32) {
	binary.LittleEndian.PutUint32(dc.shared[off:], v)
}

func (dc *DC) get(off int) uint32 {
	return binary.LittleEndian.Uint32(dc.shared[off:])
}

// BrushColor is the colour guests selected for fills.
func (dc *DC) BrushColor() uint32 {
	return dc.get(DCAttrBrushColor)
}

func (dc *DC) SetBrushColor(c uint32) {
	dc.put(DCAttrBrushColor, c)
}

func (dc *DC) SetBounds(r Rect) {
	dc.DeviceContext.SetBounds(r)
	dc.put(DCAttrBounds, uint32(r.Left))
	dc.put(DCAttrBounds+4, uint32(r.Top))
	dc.put(DCAttrBounds+8, uint32(r.Right))
	dc.put(DCAttrBounds+12, uint32(r.Bottom))
}

// DCTable allocates device contexts over the backend's screen.
type DCTable struct {
	Section *mm.Section
	Backend gdi.Backend
	dcs     [MaxDCs]*DC
}

func NewDCTable(backend gdi.Backend) (*DCTable, error) {
	sec, err := mm.NewSection(MaxDCs*dcSize, mm.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return &DCTable{Section: sec, Backend: backend}, nil
}

// Alloc returns a DC covering the whole screen, or nil when there is no
// backend or no free slot.
func (t *DCTable) Alloc() *DC {
	if t.Backend == nil {
		return nil
	}
	for i := range t.dcs {
		if t.dcs[i] != nil {
			continue
		}
		shared := t.Section.Data()[i*dcSize : (i+1)*dcSize]
		for j := range shared {
			shared[j] = 0
		}
		dc := &DC{DeviceContext: t.Backend.NewDC(), Index: i, Handle: dcHandleBase + uint32(i), shared: shared}
		dc.put(DCAttrHandle, dc.Handle)
		dc.SetBrushColor(gdi.RGB(0xff, 0xff, 0xff))
		dc.put(DCAttrBkColor, gdi.RGB(0xff, 0xff, 0xff))
		dc.SetBounds(dc.Bounds())
		t.dcs[i] = dc
		return dc
	}
	return nil
}

func (t *DCTable) Get(handle uint32) *DC {
	i := handle - dcHandleBase
	if i >= MaxDCs {
		return nil
	}
	return t.dcs[i]
}

func (t *DCTable) Release(handle uint32) bool {
	dc := t.Get(handle)
	if dc == nil {
		return false
	}
	t.dcs[dc.Index] = nil
	for j := range dc.shared {
		dc.shared[j] = 0
	}
	return true
}

func (t *DCTable) Count() int {
	n := 0
	for _, dc := range t.dcs {
		if dc != nil {
			n++
		}
	}
	return n
}
