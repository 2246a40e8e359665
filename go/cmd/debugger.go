package cmd

import (
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"

	"github.com/lunixbochs/ntcorn/go/kernel/mm"
	"github.com/lunixbochs/ntcorn/go/kernel/nt"
	"github.com/lunixbochs/ntcorn/go/kernel/ps"
)

const debugHelp = `commands:
  regs                  print registers
  set <reg> <value>     change a register
  dis [addr] [count]    disassemble (default at eip)
  x <addr> [size]       dump memory
  maps                  list the address space
  objects               list the object namespace
  continue              resume the thread
  quit                  terminate the process
`

// Debugger is the prompt opened when a guest thread raises an exception.
type Debugger struct {
	k   *nt.Kernel
	rl  *readline.Instance
	out io.Writer
}

func NewDebugger(k *nt.Kernel) (*Debugger, error) {
	// get history path
	cacheDir := configdir.New("ntcorn", "debug").QueryCacheFolder()
	historyPath := ""
	if err := cacheDir.MkdirAll(); err == nil {
		historyPath = filepath.Join(cacheDir.Path, "history")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		InterruptPrompt: "\n",
		HistoryFile:     historyPath,
	})
	if err != nil {
		return nil, errors.Wrap(err, "readline.NewEx() failed")
	}
	return &Debugger{k: k, rl: rl, out: rl.Stderr()}, nil
}

func (d *Debugger) Close() error {
	return d.rl.Close()
}

// OnException runs the prompt for t. It returns true to resume t.
func (d *Debugger) OnException(t *ps.Thread, trap ps.Trap) bool {
	d.rl.SetPrompt(fmt.Sprintf("%04x:%08x> ", t.ID, t.Ctx.Eip))
	for {
		line, err := d.rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err != nil {
			return false
		}
		resume, done := d.Exec(t, strings.Fields(line))
		if done {
			return resume
		}
	}
}

// Exec runs one prompt command. done is set by commands that leave the
// prompt.
func (d *Debugger) Exec(t *ps.Thread, args []string) (resume, done bool) {
	if len(args) == 0 {
		return false, false
	}
	var err error
	switch args[0] {
	case "regs", "r":
		fmt.Fprintln(d.out, t.Ctx.String())
	case "set":
		err = d.setReg(t, args[1:])
	case "dis", "d":
		err = d.dis(t, args[1:])
	case "x":
		err = d.dump(t, args[1:])
	case "maps", "m":
		d.maps(t)
	case "objects", "o":
		d.k.Namespace.Dump(d.out)
	case "continue", "c":
		return true, true
	case "quit", "q":
		return false, true
	case "help", "?":
		fmt.Fprint(d.out, debugHelp)
	default:
		fmt.Fprintf(d.out, "unknown command %q, try help\n", args[0])
	}
	if err != nil {
		fmt.Fprintf(d.out, "%s: %v\n", args[0], err)
	}
	return false, false
}

func parseUint(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.Errorf("bad number %q", s)
	}
	return uint32(n), nil
}

func registerByName(c *ps.Context, name string) *uint32 {
	switch strings.ToLower(name) {
	case "eax":
		return &c.Eax
	case "ebx":
		return &c.Ebx
	case "ecx":
		return &c.Ecx
	case "edx":
		return &c.Edx
	case "esi":
		return &c.Esi
	case "edi":
		return &c.Edi
	case "ebp":
		return &c.Ebp
	case "esp":
		return &c.Esp
	case "eip":
		return &c.Eip
	case "efl", "eflags":
		return &c.EFlags
	}
	return nil
}

func (d *Debugger) setReg(t *ps.Thread, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: set <reg> <value>")
	}
	reg := registerByName(&t.Ctx, args[0])
	if reg == nil {
		return errors.Errorf("no register %s", args[0])
	}
	v, err := parseUint(args[1])
	if err != nil {
		return err
	}
	*reg = v
	return nil
}

func (d *Debugger) dis(t *ps.Thread, args []string) error {
	addr, count := t.Ctx.Eip, uint32(8)
	var err error
	if len(args) > 0 {
		if addr, err = parseUint(args[0]); err != nil {
			return err
		}
	}
	if len(args) > 1 {
		if count, err = parseUint(args[1]); err != nil {
			return err
		}
	}
	out, err := d.k.Disassemble(t.Process, uint64(addr), int(count))
	if err != nil {
		return err
	}
	fmt.Fprint(d.out, out)
	return nil
}

func (d *Debugger) dump(t *ps.Thread, args []string) error {
	if len(args) == 0 {
		return errors.New("usage: x <addr> [size]")
	}
	addr, err := parseUint(args[0])
	if err != nil {
		return err
	}
	size := uint32(64)
	if len(args) > 1 {
		if size, err = parseUint(args[1]); err != nil {
			return err
		}
	}
	mem, err := t.Process.Space.CopyFromUser(uint64(addr), uint64(size))
	if err != nil {
		return err
	}
	fmt.Fprint(d.out, hex.Dump(mem))
	return nil
}

func (d *Debugger) maps(t *ps.Thread) {
	for _, v := range t.Process.Space.Views() {
		typ := "private"
		switch v.Type {
		case mm.MEM_IMAGE:
			typ = "image"
		case mm.MEM_MAPPED:
			typ = "mapped"
		}
		fmt.Fprintf(d.out, "%08x-%08x %-7s %#04x\n", v.Base, v.End(), typ, v.Protect)
	}
}
