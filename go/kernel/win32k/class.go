package win32k

import (
	"encoding/binary"
)

// NTWNDCLASSEX
type WndClassEx struct {
	Size       uint32
	Style      uint32
	WndProc    uint32
	ClsExtra   int32
	WndExtra   int32
	Instance   uint32
	Icon       uint32
	Cursor     uint32
	Background uint32
	MenuName   uint32
	ClassName  uint32
	IconSm     uint32
}

var WndClassExSize = uint32(0x30)

// NTCLASSMENUNAMES: the menu name three ways; only the counted string
// is used.
type ClassMenuNames struct {
	NameA  uint32
	NameW  uint32
	NameUS uint32
}

// every class gets the same atom
const ClassAtom = 0xc001

// class record in the shared section
const (
	clsSelf       = 0x00
	clsAtom       = 0x04
	clsStyle      = 0x08
	clsWndProc    = 0x0c
	clsClsExtra   = 0x10
	clsWndExtra   = 0x14
	clsInstance   = 0x18
	clsIcon       = 0x1c
	clsCursor     = 0x20
	clsBackground = 0x24

	clsSize = 0x40
)

type Class struct {
	m      *Manager
	Offset uint32
	Name   string
	Menu   string
	Info   WndClassEx
	Atom   uint16
}

func (c *Class) KernelAddr() uint32 {
	return c.m.kernelAddr(c.Offset)
}

func (c *Class) sync() {
	b := c.m.arena.Bytes(c.Offset, clsSize)
	put := func(off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
	put(clsSelf, c.KernelAddr())
	put(clsAtom, uint32(c.Atom))
	put(clsStyle, c.Info.Style)
	put(clsWndProc, c.Info.WndProc)
	put(clsClsExtra, uint32(c.Info.ClsExtra))
	put(clsWndExtra, uint32(c.Info.WndExtra))
	put(clsInstance, c.Info.Instance)
	put(clsIcon, c.Info.Icon)
	put(clsCursor, c.Info.Cursor)
	put(clsBackground, c.Info.Background)
}

// RegisterClass appends a class. Names are not checked for duplicates;
// lookups return the first registration.
func (m *Manager) RegisterClass(info *WndClassEx, name, menu string) (uint16, error) {
	if err := m.init(); err != nil {
		return 0, err
	}
	off, ok := m.arena.Alloc(clsSize)
	if !ok {
		return 0, errNoArena
	}
	c := &Class{m: m, Offset: off, Name: name, Menu: menu, Info: *info, Atom: ClassAtom}
	c.sync()
	m.Classes = append(m.Classes, c)
	m.Config.Debugf("window class = %s  menu = %s\n", name, menu)
	return c.Atom, nil
}

// FindClass returns the first class registered as name. Names are case
// sensitive.
func (m *Manager) FindClass(name string) *Class {
	for _, c := range m.Classes {
		if c.Name == name {
			return c
		}
	}
	return nil
}
