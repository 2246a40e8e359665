package models

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultExe is started when no executable is named on the command line.
const DefaultExe = `\??\c:\winnt\system32\smss.exe`

// NtdllPath is the system support image every process maps.
const NtdllPath = `\??\c:\winnt\system32\ntdll.dll`

type Config struct {
	Output io.Writer

	Color     bool
	Debug     bool
	Quiet     bool
	Trace     bool
	TraceFile string

	// host directory backing \??\c:\
	DriveRoot string
	// "", "soft" or "sdl"
	Gui      string
	FontPath string

	// guest-visible command line of the initial process, if different from Exe
	CommandLine string
}

func (c *Config) Init() *Config {
	if c == nil {
		c = &Config{}
	}
	if c.Output == nil {
		c.Output = os.Stderr
	}
	return c
}

func (c *Config) Printf(format string, a ...interface{}) {
	fmt.Fprintf(c.Output, format, a...)
}

// Debugf prints kernel diagnostics unless quiet mode is set.
func (c *Config) Debugf(format string, a ...interface{}) {
	if c.Quiet {
		return
	}
	fmt.Fprintf(c.Output, format, a...)
}

// Tracef prints syscall trace lines when tracing is enabled.
func (c *Config) Tracef(format string, a ...interface{}) {
	if !c.Trace {
		return
	}
	fmt.Fprintf(c.Output, format, a...)
}

// DosPath strips the \??\ and \DosDevices\ prefixes and returns the drive
// letter and the drive-relative remainder of an NT path.
func DosPath(path string) (drive byte, rest string, ok bool) {
	lower := strings.ToLower(path)
	for _, prefix := range []string{`\??\`, `\dosdevices\`, `\global??\`} {
		if strings.HasPrefix(lower, prefix) {
			path = path[len(prefix):]
			break
		}
	}
	if len(path) < 2 || path[1] != ':' {
		return 0, "", false
	}
	drive = path[0] | 0x20
	if drive < 'a' || drive > 'z' {
		return 0, "", false
	}
	return drive, strings.TrimLeft(path[2:], `\`), true
}

// HostPath maps an NT path on drive c: to a file under DriveRoot.
// Path components are matched case-insensitively.
func (c *Config) HostPath(path string) (string, bool) {
	drive, rest, ok := DosPath(path)
	if !ok || drive != 'c' || c.DriveRoot == "" {
		return "", false
	}
	host := c.DriveRoot
	if rest == "" {
		return host, true
	}
	for _, part := range strings.Split(rest, `\`) {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			if host != c.DriveRoot {
				host = filepath.Dir(host)
			}
			continue
		}
		host = c.resolveComponent(host, part)
	}
	return host, true
}

func (c *Config) resolveComponent(dir, name string) string {
	exact := filepath.Join(dir, name)
	if _, err := os.Lstat(exact); err == nil {
		return exact
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return exact
	}
	for _, ent := range entries {
		if strings.EqualFold(ent.Name(), name) {
			return filepath.Join(dir, ent.Name())
		}
	}
	return exact
}
