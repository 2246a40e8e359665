package common

import (
	"reflect"
	"strings"

	"github.com/lunixbochs/argjoy"

	"github.com/lunixbochs/ntcorn/go/models"
)

// KernelBase is embedded by kernels whose Nt* methods are exposed to the
// guest. Mem is the address space of the calling process and is swapped in
// by Lookup before each call.
type KernelBase struct {
	Syscalls map[string]Syscall
	Mem      models.Memory
	Argjoy   argjoy.Argjoy
}

func (k *KernelBase) Base() *KernelBase {
	return k
}

type Kernel interface {
	Base() *KernelBase
}

// services are methods named like the guest entry points they implement
func isService(name string) bool {
	return strings.HasPrefix(name, "Nt")
}

func initKernel(kf Kernel) {
	k := kf.Base()
	k.Syscalls = make(map[string]Syscall)
	instance := reflect.ValueOf(kf)
	typ := instance.Type()
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !isService(method.Name) {
			continue
		}
		in := make([]reflect.Type, method.Type.NumIn()-1)
		for j := 1; j < method.Type.NumIn(); j++ {
			in[j-1] = method.Type.In(j)
		}
		out := make([]reflect.Type, method.Type.NumOut())
		for j := 0; j < method.Type.NumOut(); j++ {
			out[j] = method.Type.Out(j)
		}
		k.Syscalls[method.Name] = Syscall{
			Name:     method.Name,
			Kernel:   k,
			Instance: instance,
			Method:   method,
			In:       in,
			Out:      out,
		}
	}
	k.Argjoy.Register(k.commonArgCodec)
	k.Argjoy.Register(argjoy.IntToInt)
}

func Lookup(mem models.Memory, kf Kernel, name string) *Syscall {
	k := kf.Base()
	k.Mem = mem
	if k.Syscalls == nil {
		initKernel(kf)
	}
	if sys, ok := k.Syscalls[name]; ok {
		return &sys
	}
	return nil
}
