package nt

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/lunixbochs/ntcorn/go/kernel/common"
	"github.com/lunixbochs/ntcorn/go/kernel/ps"
	"github.com/lunixbochs/ntcorn/go/models"
	"github.com/lunixbochs/ntcorn/go/models/trace"
)

// Dispatch services a trap on the trapping thread's fiber.
func (k *Kernel) Dispatch(t *ps.Thread, trap ps.Trap) {
	k.Running = t.ID
	if trap.Kind == ps.TrapSyscall {
		k.Syscall(t)
		return
	}
	k.exception(t, trap)
}

// Syscall runs the service numbered by EAX with the argument words at
// EDX and leaves the status in EAX.
func (k *Kernel) Syscall(t *ps.Thread) {
	num := t.Ctx.Eax
	name, ok := k.ServiceName(num)
	if !ok {
		k.Config.Printf("%04x: %s: unknown system call %04x\n", t.ID, k.Config.Colorize("error", "red+b"), num)
		t.Ctx.Eax = uint32(models.STATUS_INVALID_SYSTEM_SERVICE)
		return
	}
	sys := common.Lookup(t.Process.Space, k, name)
	if sys == nil {
		k.Config.Printf("%04x: %s not implemented\n", t.ID, name)
		t.Ctx.Eax = uint32(models.STATUS_NOT_IMPLEMENTED)
		return
	}
	args, err := common.StackArgs(t.Process.Space, uint64(t.Ctx.Edx))(len(sys.In))
	if err != nil {
		k.Config.Debugf("%04x: %s: bad argument pointer %08x\n", t.ID, name, t.Ctx.Edx)
		t.Ctx.Eax = uint32(models.STATUS_ACCESS_VIOLATION)
		return
	}
	k.Config.Tracef("%04x: %s(%s)\n", t.ID, name, sys.TraceArgs(args))
	ret, err := sys.Call(args)
	if err != nil {
		k.Config.Debugf("%04x: %s: %v\n", t.ID, name, err)
		ret = uint64(models.StatusOf(err))
	}
	// a service that blocked or called back may have let another process run
	k.resume(t)
	k.traceReturn(t, name, ret)
	t.Ctx.Eax = uint32(ret)
	if k.trace != nil {
		k.record(t, num, name, args, ret)
	}
}

// resume points the service argument codecs back at t's address space.
func (k *Kernel) resume(t *ps.Thread) {
	k.Mem = t.Process.Space
}

func (k *Kernel) traceReturn(t *ps.Thread, name string, ret uint64) {
	c := k.Config
	if strings.HasPrefix(name, "NtUser") || strings.HasPrefix(name, "NtGdi") {
		c.Tracef("%04x: %s = %#x\n", t.ID, name, ret)
		return
	}
	c.Tracef("%04x: %s = %s\n", t.ID, name, models.Status(ret).Colored(c.Color))
}

func (k *Kernel) record(t *ps.Thread, num uint32, name string, args []uint64, ret uint64) {
	rec := &trace.Syscall{Thread: t.ID, Num: num, Ret: uint32(ret), Name: name}
	for _, a := range args {
		rec.Args = append(rec.Args, uint32(a))
	}
	if err := k.trace.Pack(rec); err != nil {
		k.Config.Printf("trace file: %v\n", err)
		k.trace.Close()
		k.trace = nil
	}
}

// exception reports a fault and terminates the process unless the
// debugger hook resumes the thread.
func (k *Kernel) exception(t *ps.Thread, trap ps.Trap) {
	c := k.Config
	c.Printf("%04x: %s %s in process %04x\n", t.ID, c.Colorize("exception:", "red+b"), trap, t.Process.ID)
	c.Printf("%s\n", t.Ctx.String())
	if dis, err := k.Disassemble(t.Process, uint64(t.Ctx.Eip), 4); err == nil {
		c.Printf("%s", dis)
	}
	if k.OnException != nil && k.OnException(t, trap) {
		return
	}
	status := models.Status(trap.Status)
	if status == models.STATUS_SUCCESS {
		status = models.STATUS_ACCESS_VIOLATION
	}
	t.Process.Terminate(status)
}

// Disassemble renders up to n instructions at addr in p, one per line.
func (k *Kernel) Disassemble(p *ps.Process, addr uint64, n int) (string, error) {
	if k.Dis == nil {
		return "", errors.New("no disassembler")
	}
	var mem []byte
	// instructions are at most 15 bytes, but the page may end first
	for size := uint64(15 * n); size > 0; size-- {
		var err error
		if mem, err = p.Space.CopyFromUser(addr, size); err == nil {
			break
		}
	}
	if len(mem) == 0 {
		return "", errors.Errorf("%#x is not mapped", addr)
	}
	dis, err := k.Dis.Dis(mem, addr)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	for i, ins := range dis {
		if i == n {
			break
		}
		fmt.Fprintf(&out, "%#08x: %-20s %s %s\n", ins.Addr(), hex.EncodeToString(ins.Bytes()), ins.Mnemonic(), ins.OpStr())
	}
	return out.String(), nil
}
