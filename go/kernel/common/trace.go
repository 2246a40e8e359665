package common

import (
	"fmt"
	"strconv"
	"strings"
)

func (s Syscall) traceArg(arg interface{}) string {
	switch a := arg.(type) {
	case Obuf:
		return fmt.Sprintf("%#x", a.Addr)
	case Buf:
		return fmt.Sprintf("%#x", a.Addr)
	case Len, Ptr:
		return fmt.Sprintf("%#x", a)
	case Handle:
		return fmt.Sprintf("%#x", uint32(a))
	case UnicodeString:
		return strconv.Quote(string(a))
	case *ObjectAttributes:
		if a.Addr == 0 {
			return "NULL"
		}
		return fmt.Sprintf("{%#x %s}", uint32(a.RootDirectory), strconv.Quote(a.Name))
	case uint64, uint32:
		return fmt.Sprintf("%#x", a)
	default:
		return fmt.Sprintf("%v", a)
	}
}

// TraceArgs renders the converted arguments of a call for the -trace log.
func (s Syscall) TraceArgs(regs []uint64) string {
	if len(regs) < len(s.In) {
		return "<short>"
	}
	in, err := s.Kernel.Argjoy.Convert(s.In, false, regs[:len(s.In)])
	if err != nil {
		return "<" + err.Error() + ">"
	}
	ret := make([]string, len(in))
	for i, val := range in {
		ret[i] = s.traceArg(val.Interface())
	}
	return strings.Join(ret, ", ")
}
