package common

import (
	"reflect"

	"github.com/pkg/errors"
)

type Syscall struct {
	Name     string
	Kernel   *KernelBase
	Instance reflect.Value
	Method   reflect.Method
	In       []reflect.Type
	Out      []reflect.Type
}

var uint64Type = reflect.TypeOf(uint64(0))

// Call converts raw guest argument words and invokes the handler. A
// conversion failure (usually a bad guest pointer) is returned instead of
// calling the handler.
func (sys Syscall) Call(args []uint64) (uint64, error) {
	if len(args) < len(sys.In) {
		return 0, errors.Errorf("%s: wanted %d arguments, got %d", sys.Name, len(sys.In), len(args))
	}
	in := make([]reflect.Value, len(sys.In)+1)
	in[0] = sys.Instance
	converted, err := sys.Kernel.Argjoy.Convert(sys.In, false, args[:len(sys.In)])
	if err != nil {
		return 0, errors.Wrapf(err, "calling %s()", sys.Name)
	}
	copy(in[1:], converted)
	out := sys.Method.Func.Call(in)
	// return output if first return of function is representable as an int type
	if len(out) > 0 && out[0].Type().ConvertibleTo(uint64Type) {
		return out[0].Convert(uint64Type).Uint(), nil
	}
	return 0, nil
}
