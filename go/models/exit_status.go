package models

import "fmt"

// ExitStatus is returned from the top-level run loop and becomes the host
// process exit code.
type ExitStatus int

func (e ExitStatus) Error() string {
	return fmt.Sprintf("exit %d", e)
}

// ExitStatusFrom converts a guest process exit code. NTSTATUS failure codes
// do not fit an exit code, so they are truncated to their low byte like a
// POSIX wait status.
func ExitStatusFrom(code uint32) ExitStatus {
	if int32(code) < 0 || code > 0xff {
		return ExitStatus(code & 0xff)
	}
	return ExitStatus(code)
}
