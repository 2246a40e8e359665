package common

import (
	"github.com/lunixbochs/argjoy"
)

func (k *KernelBase) commonArgCodec(arg interface{}, vals []interface{}) error {
	if reg, ok := vals[0].(uint64); ok {
		switch v := arg.(type) {
		case *Buf:
			*v = NewBuf(k, reg)
		case *Obuf:
			*v = Obuf{NewBuf(k, reg)}
		case *Len:
			*v = Len(reg)
		case *Ptr:
			*v = Ptr(reg)
		case *Handle:
			*v = Handle(reg)
		case *UnicodeString:
			if reg == 0 {
				*v = ""
				return nil
			}
			s, err := ReadUnicodeString(k.Mem, reg)
			if err != nil {
				return err
			}
			*v = UnicodeString(s)
		case **ObjectAttributes:
			oa, err := ReadObjectAttributes(k.Mem, reg)
			if err != nil {
				return err
			}
			*v = oa
		default:
			return argjoy.NoMatch
		}
		return nil
	}
	return argjoy.NoMatch
}
