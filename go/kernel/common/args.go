package common

import (
	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/models"
)

// StackArgs reads 32-bit argument words starting at addr, which is where
// the system call stub leaves EDX pointing.
func StackArgs(mem models.Memory, addr uint64) func(n int) ([]uint64, error) {
	return func(n int) ([]uint64, error) {
		ret := make([]uint64, n)
		for i := range ret {
			v, err := models.ReadUint32(mem, addr+uint64(i*4))
			if err != nil {
				return nil, errors.Wrap(models.STATUS_ACCESS_VIOLATION, err.Error())
			}
			ret[i] = uint64(v)
		}
		return ret, nil
	}
}
