package cpu

import (
	"sync"

	ks "github.com/keystone-engine/keystone/bindings/go/keystone"
	"github.com/pkg/errors"
)

// Keystone assembles 32-bit x86 in Intel syntax. The engine is created on
// first use.
type Keystone struct {
	once sync.Once
	ks   *ks.Keystone
	err  error
}

func (k *Keystone) open() {
	k.ks, k.err = ks.New(ks.ARCH_X86, ks.MODE_32)
	if k.err != nil {
		k.err = errors.Wrap(k.err, "ks.New() failed")
	}
}

// Asm assembles src as if it were loaded at addr.
func (k *Keystone) Asm(src string, addr uint64) ([]byte, error) {
	k.once.Do(k.open)
	if k.err != nil {
		return nil, k.err
	}
	out, count, ok := k.ks.Assemble(src, addr)
	if !ok {
		return nil, errors.Wrapf(k.ks.LastError(), "ks.Assemble() failed after %d statements", count)
	}
	return out, nil
}

func (k *Keystone) Close() error {
	if k.ks == nil {
		return nil
	}
	return k.ks.Close()
}
