// Package ob implements kernel objects: reference counting, per-process
// handle tables, the object namespace and the simple waitable objects.
package ob

import (
	"fmt"
	"reflect"
)

type Object interface {
	ObjectHeader() *Header
}

// Destroyer is implemented by objects holding resources beyond Go memory.
// Destroy runs once, when the last reference is released.
type Destroyer interface {
	Destroy()
}

// Typed objects report the NT object type name used in dumps.
type Typed interface {
	TypeName() string
}

// Header is embedded by every kernel object. A fresh Header holds the one
// reference owned by its creator.
type Header struct {
	Name string
	refs int
	dead bool
}

func (h *Header) ObjectHeader() *Header {
	return h
}

func (h *Header) Refs() int {
	return h.refs + 1
}

func (h *Header) Dead() bool {
	return h.dead
}

func AddRef(o Object) Object {
	h := o.ObjectHeader()
	if h.dead {
		panic(fmt.Sprintf("AddRef on destroyed %s", TypeName(o)))
	}
	h.refs++
	return o
}

// Release drops one reference and destroys the object when none remain.
func Release(o Object) {
	h := o.ObjectHeader()
	if h.dead {
		panic(fmt.Sprintf("Release on destroyed %s", TypeName(o)))
	}
	if h.refs > 0 {
		h.refs--
		return
	}
	h.dead = true
	if d, ok := o.(Destroyer); ok {
		d.Destroy()
	}
}

func TypeName(o Object) string {
	if t, ok := o.(Typed); ok {
		return t.TypeName()
	}
	typ := reflect.TypeOf(o)
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	return typ.Name()
}
