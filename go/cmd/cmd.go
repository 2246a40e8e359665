package cmd

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"

	"github.com/lunixbochs/ntcorn/go/cpu"
	"github.com/lunixbochs/ntcorn/go/cpu/unicorn"
	"github.com/lunixbochs/ntcorn/go/fiber"
	"github.com/lunixbochs/ntcorn/go/kernel/gdi"
	"github.com/lunixbochs/ntcorn/go/kernel/nt"
	"github.com/lunixbochs/ntcorn/go/models"
)

const Version = "ntcorn 0.1"

const versionBanner = `%s
Licence LGPL
This is free software: you are free to change and redistribute it.
There is NO WARRANTY, to the extent permitted by law.
`

// font size used for -font faces
const fontPoints = 13

type NtcornCmd struct {
	Config *models.Config
	Kernel *nt.Kernel
	Flags  *flag.FlagSet

	// Stdout receives usage and the version banner, Stderr everything else.
	Stdout, Stderr io.Writer

	debug, help, quiet, trace, version bool

	root, traceFile, gui, font, color string
}

func NewNtcornCmd() *NtcornCmd {
	c := &NtcornCmd{Stdout: os.Stdout, Stderr: os.Stderr}
	fs := flag.NewFlagSet("ntcorn", flag.ContinueOnError)
	fs.SetOutput(c.Stderr)
	// each option has a short and a long spelling sharing one usage string
	both := func(p *bool, short, long, usage string) {
		fs.BoolVar(p, short, false, usage)
		fs.BoolVar(p, long, false, usage)
	}
	both(&c.debug, "d", "debug", "break into the debug prompt on exceptions")
	both(&c.help, "h", "help", "print this message")
	both(&c.quiet, "q", "quiet", "quiet, suppress debug messages")
	both(&c.trace, "t", "trace", "trace syscall entry and exit")
	both(&c.version, "v", "version", "print version")
	fs.StringVar(&c.root, "root", defaultDriveRoot(), "host directory mapped to c:")
	fs.StringVar(&c.traceFile, "trace-file", "", "write a binary syscall trace to <file>")
	fs.StringVar(&c.gui, "gui", "soft", "display backend: soft, sdl or none")
	fs.StringVar(&c.font, "font", "", "TrueType font for text output (default built-in bitmap font)")
	fs.StringVar(&c.color, "color", "auto", "colour diagnostics: auto, always or never")
	fs.Usage = func() { c.Usage(c.Stderr) }
	c.Flags = fs
	return c
}

// defaultDriveRoot is the per-user drive_c folder.
func defaultDriveRoot() string {
	dirs := configdir.New("ntcorn", "drive_c").QueryFolders(configdir.Global)
	if len(dirs) == 0 {
		return ""
	}
	return dirs[0].Path
}

func (c *NtcornCmd) Usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s [options] [native.exe]\n\nOptions:\n", filepath.Base(os.Args[0]))
	var flags []*flag.Flag
	c.Flags.VisitAll(func(f *flag.Flag) {
		flags = append(flags, f)
	})
	models.PrintFlags(w, flags)
	fmt.Fprintf(w, "\n  %s is started by default\n\n", models.DefaultExe)
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func (c *NtcornCmd) PrintError(err error) {
	// print an error, and a stacktrace if available
	w := c.Stderr
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(w, "Error: %s\n", err)
	if err, ok := err.(stackTracer); ok {
		// parse full path and method name for each stack frame
		var frames [][]string
		for _, f := range err.StackTrace() {
			fullpath := ""
			fileline := fmt.Sprintf("%s:%d", f, f)
			method := fmt.Sprintf("%n", f)

			frame := fmt.Sprintf("%+s", f)
			tmp := strings.SplitN(frame, "\n", 3)
			if len(tmp) == 2 {
				pathsplit := strings.Split(tmp[0], "/")
				method = pathsplit[len(pathsplit)-1]
				fullpath = strings.TrimSpace(tmp[1])
			}
			frames = append(frames, []string{fullpath, fileline, method})
			if method == "main.main" {
				break
			}
		}
		// calculate column widths
		widths := make([]int, 3)
		for _, f := range frames {
			for i, s := range f {
				if len(s) > widths[i] {
					widths[i] = len(s)
				}
			}
		}
		// print pretty stacktrace
		for _, f := range frames {
			method := f[2]
			for i := 0; i < 2; i++ {
				if widths[i] > 0 {
					pad := strings.Repeat(" ", widths[i]-len(f[i]))
					fmt.Fprintf(w, "%s%s | ", f[i], pad)
				}
			}
			fmt.Fprintf(w, "%s()\n", method)
		}
	}
}

// parse fills in Config. It returns false with an exit code when the
// command line was handled without running anything.
func (c *NtcornCmd) parse(argv []string) (int, bool) {
	if err := c.Flags.Parse(argv[1:]); err != nil {
		// the flag package already printed the error and usage
		if err == flag.ErrHelp {
			return 0, false
		}
		return 2, false
	}
	if c.help {
		c.Usage(c.Stdout)
		return 0, false
	}
	if c.version {
		fmt.Fprintf(c.Stdout, versionBanner, Version)
		return 0, false
	}
	config := &models.Config{
		Debug:     c.debug,
		Quiet:     c.quiet,
		Trace:     c.trace,
		TraceFile: c.traceFile,
		DriveRoot: c.root,
		Gui:       c.gui,
		FontPath:  c.font,
	}
	out, tty := io.Writer(c.Stderr), false
	if c.Stderr == os.Stderr {
		out, tty = models.NewOutput(os.Stderr)
	}
	config.Output = out
	switch c.color {
	case "always":
		config.Color = true
	case "never":
		config.Color = false
	default:
		config.Color = tty
	}
	if args := c.Flags.Args(); len(args) > 1 {
		config.CommandLine = strings.Join(args, " ")
	}
	c.Config = config
	return 0, true
}

// NewBackend picks the display backend named by config.Gui.
func NewBackend(config *models.Config) (gdi.Backend, error) {
	if config.Gui == "none" {
		return nil, nil
	}
	face, err := gdi.LoadFace(config.FontPath, fontPoints)
	if err != nil {
		return nil, err
	}
	switch config.Gui {
	case "", "soft":
		return gdi.NewSoft(face), nil
	case "sdl":
		return gdi.NewSDL(face), nil
	}
	return nil, errors.Errorf("unknown display backend %q", config.Gui)
}

// Run runs the command line in argv and returns the process exit code.
func (c *NtcornCmd) Run(argv []string) (code int) {
	// display backends need the main OS thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if code, ok := c.parse(argv); !ok {
		return code
	}
	config := c.Config
	exe := models.DefaultExe
	if args := c.Flags.Args(); len(args) > 0 {
		exe = args[0]
	}
	cmdline := config.CommandLine
	if cmdline == "" {
		cmdline = exe
	}

	backend, err := NewBackend(config)
	if err != nil {
		c.PrintError(err)
		return 1
	}
	k := nt.NewKernel(config, backend)
	c.Kernel = k
	k.Procs.NewMachine = unicorn.New
	asm := &cpu.Keystone{}
	defer asm.Close()
	k.Asm = asm
	k.Dis = &cpu.Capstr{}

	// a kernel panic leaves the session unusable, so nothing is torn down
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(c.Stderr, "%04x: caught kernel panic: %v\n", k.Running, r)
			if p, ok := r.(*fiber.Panic); ok {
				c.Stderr.Write(p.Stack)
			} else {
				c.Stderr.Write(debug.Stack())
			}
			code = 1
		}
	}()

	if c.debug {
		dbg, err := NewDebugger(k)
		if err != nil {
			c.PrintError(err)
			k.Close()
			return 1
		}
		defer dbg.Close()
		k.OnException = dbg.OnException
	}
	if err := k.Boot(); err != nil {
		c.PrintError(err)
		k.Close()
		return 1
	}
	status, err := k.Run(exe, cmdline)
	if err != nil {
		c.PrintError(err)
		code = 1
	} else {
		code = int(status)
	}
	k.Procs.Leaks(c.Stderr)
	k.Close()
	return code
}

// Main runs ntcorn with the process arguments and exits.
func Main() {
	os.Exit(NewNtcornCmd().Run(os.Args))
}
