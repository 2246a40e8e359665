package models

import (
	"fmt"

	"github.com/mgutz/ansi"
	"github.com/pkg/errors"
)

// Status is an NTSTATUS value as returned to guest code.
type Status uint32

const (
	STATUS_SUCCESS       Status = 0x00000000
	STATUS_WAIT_0        Status = 0x00000000
	STATUS_ABANDONED     Status = 0x00000080
	STATUS_USER_APC      Status = 0x000000c0
	STATUS_ALERTED       Status = 0x00000101
	STATUS_TIMEOUT       Status = 0x00000102
	STATUS_PENDING       Status = 0x00000103
	STATUS_OBJECT_EXISTS Status = 0x40000000

	STATUS_IMAGE_NOT_AT_BASE Status = 0x40000003

	STATUS_BREAKPOINT Status = 0x80000003

	STATUS_NO_MORE_ENTRIES Status = 0x8000001a

	STATUS_UNSUCCESSFUL            Status = 0xc0000001
	STATUS_NOT_IMPLEMENTED         Status = 0xc0000002
	STATUS_INVALID_INFO_CLASS      Status = 0xc0000003
	STATUS_INFO_LENGTH_MISMATCH    Status = 0xc0000004
	STATUS_ACCESS_VIOLATION        Status = 0xc0000005
	STATUS_INVALID_HANDLE          Status = 0xc0000008
	STATUS_INVALID_PARAMETER       Status = 0xc000000d
	STATUS_NO_SUCH_FILE            Status = 0xc000000f
	STATUS_NO_MEMORY               Status = 0xc0000017
	STATUS_CONFLICTING_ADDRESSES   Status = 0xc0000018
	STATUS_NOT_MAPPED_VIEW         Status = 0xc0000019
	STATUS_UNABLE_TO_FREE_VM       Status = 0xc000001a
	STATUS_INVALID_SYSTEM_SERVICE  Status = 0xc000001c
	STATUS_ILLEGAL_INSTRUCTION     Status = 0xc000001d
	STATUS_NOT_COMMITTED           Status = 0xc000002d
	STATUS_INVALID_VIEW_SIZE       Status = 0xc000001f
	STATUS_ACCESS_DENIED           Status = 0xc0000022
	STATUS_BUFFER_TOO_SMALL        Status = 0xc0000023
	STATUS_OBJECT_TYPE_MISMATCH    Status = 0xc0000024
	STATUS_OBJECT_NAME_INVALID     Status = 0xc0000033
	STATUS_OBJECT_NAME_NOT_FOUND   Status = 0xc0000034
	STATUS_OBJECT_NAME_COLLISION   Status = 0xc0000035
	STATUS_OBJECT_PATH_NOT_FOUND   Status = 0xc000003a
	STATUS_INVALID_PAGE_PROTECTION Status = 0xc0000045
	STATUS_SECTION_NOT_IMAGE       Status = 0xc0000049
	STATUS_THREAD_IS_TERMINATING   Status = 0xc000004b
	STATUS_INVALID_IMAGE_FORMAT    Status = 0xc000007b
	STATUS_INTEGER_DIVIDE_BY_ZERO  Status = 0xc0000094
	STATUS_PRIVILEGED_INSTRUCTION  Status = 0xc0000096
	STATUS_INSUFFICIENT_RESOURCES  Status = 0xc000009a
	STATUS_FREE_VM_NOT_AT_BASE     Status = 0xc000009f
	STATUS_MEMORY_NOT_ALLOCATED    Status = 0xc00000a0
	STATUS_INVALID_IMAGE_NOT_MZ    Status = 0xc000012f
	STATUS_PROCESS_IS_TERMINATING  Status = 0xc000010a
	STATUS_NO_CALLBACK_ACTIVE      Status = 0xc0000258
)

var statusNames = map[Status]string{
	STATUS_SUCCESS:                 "STATUS_SUCCESS",
	STATUS_ABANDONED:               "STATUS_ABANDONED",
	STATUS_USER_APC:                "STATUS_USER_APC",
	STATUS_ALERTED:                 "STATUS_ALERTED",
	STATUS_TIMEOUT:                 "STATUS_TIMEOUT",
	STATUS_PENDING:                 "STATUS_PENDING",
	STATUS_OBJECT_EXISTS:           "STATUS_OBJECT_NAME_EXISTS",
	STATUS_IMAGE_NOT_AT_BASE:       "STATUS_IMAGE_NOT_AT_BASE",
	STATUS_BREAKPOINT:              "STATUS_BREAKPOINT",
	STATUS_NO_MORE_ENTRIES:         "STATUS_NO_MORE_ENTRIES",
	STATUS_UNSUCCESSFUL:            "STATUS_UNSUCCESSFUL",
	STATUS_NOT_IMPLEMENTED:         "STATUS_NOT_IMPLEMENTED",
	STATUS_INVALID_INFO_CLASS:      "STATUS_INVALID_INFO_CLASS",
	STATUS_INFO_LENGTH_MISMATCH:    "STATUS_INFO_LENGTH_MISMATCH",
	STATUS_ACCESS_VIOLATION:        "STATUS_ACCESS_VIOLATION",
	STATUS_INVALID_HANDLE:          "STATUS_INVALID_HANDLE",
	STATUS_INVALID_PARAMETER:       "STATUS_INVALID_PARAMETER",
	STATUS_NO_SUCH_FILE:            "STATUS_NO_SUCH_FILE",
	STATUS_NO_MEMORY:               "STATUS_NO_MEMORY",
	STATUS_CONFLICTING_ADDRESSES:   "STATUS_CONFLICTING_ADDRESSES",
	STATUS_NOT_MAPPED_VIEW:         "STATUS_NOT_MAPPED_VIEW",
	STATUS_UNABLE_TO_FREE_VM:       "STATUS_UNABLE_TO_FREE_VM",
	STATUS_INVALID_SYSTEM_SERVICE:  "STATUS_INVALID_SYSTEM_SERVICE",
	STATUS_ILLEGAL_INSTRUCTION:     "STATUS_ILLEGAL_INSTRUCTION",
	STATUS_NOT_COMMITTED:           "STATUS_NOT_COMMITTED",
	STATUS_INVALID_VIEW_SIZE:       "STATUS_INVALID_VIEW_SIZE",
	STATUS_ACCESS_DENIED:           "STATUS_ACCESS_DENIED",
	STATUS_BUFFER_TOO_SMALL:        "STATUS_BUFFER_TOO_SMALL",
	STATUS_OBJECT_TYPE_MISMATCH:    "STATUS_OBJECT_TYPE_MISMATCH",
	STATUS_OBJECT_NAME_INVALID:     "STATUS_OBJECT_NAME_INVALID",
	STATUS_OBJECT_NAME_NOT_FOUND:   "STATUS_OBJECT_NAME_NOT_FOUND",
	STATUS_OBJECT_NAME_COLLISION:   "STATUS_OBJECT_NAME_COLLISION",
	STATUS_OBJECT_PATH_NOT_FOUND:   "STATUS_OBJECT_PATH_NOT_FOUND",
	STATUS_INVALID_PAGE_PROTECTION: "STATUS_INVALID_PAGE_PROTECTION",
	STATUS_SECTION_NOT_IMAGE:       "STATUS_SECTION_NOT_IMAGE",
	STATUS_THREAD_IS_TERMINATING:   "STATUS_THREAD_IS_TERMINATING",
	STATUS_INVALID_IMAGE_FORMAT:    "STATUS_INVALID_IMAGE_FORMAT",
	STATUS_INTEGER_DIVIDE_BY_ZERO:  "STATUS_INTEGER_DIVIDE_BY_ZERO",
	STATUS_PRIVILEGED_INSTRUCTION:  "STATUS_PRIVILEGED_INSTRUCTION",
	STATUS_INSUFFICIENT_RESOURCES:  "STATUS_INSUFFICIENT_RESOURCES",
	STATUS_FREE_VM_NOT_AT_BASE:     "STATUS_FREE_VM_NOT_AT_BASE",
	STATUS_MEMORY_NOT_ALLOCATED:    "STATUS_MEMORY_NOT_ALLOCATED",
	STATUS_INVALID_IMAGE_NOT_MZ:    "STATUS_INVALID_IMAGE_NOT_MZ",
	STATUS_PROCESS_IS_TERMINATING:  "STATUS_PROCESS_IS_TERMINATING",
	STATUS_NO_CALLBACK_ACTIVE:      "STATUS_NO_CALLBACK_ACTIVE",
}

// Success is true for success, informational and wait statuses.
func (s Status) Success() bool {
	return int32(s) >= 0
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("%08x", uint32(s))
}

// Status implements error so a guest-visible failure can travel through
// Go error returns and be recovered with errors.Cause.
func (s Status) Error() string {
	return s.String()
}

var (
	colorOk   = ansi.ColorCode("green")
	colorFail = ansi.ColorCode("red+b")
)

// Colored renders the status for trace output.
func (s Status) Colored(color bool) string {
	if !color {
		return s.String()
	}
	if s.Success() {
		return colorOk + s.String() + ansi.Reset
	}
	return colorFail + s.String() + ansi.Reset
}

// StatusOf unwraps a status from an error chain. A nil error is
// STATUS_SUCCESS and any other error is STATUS_UNSUCCESSFUL.
func StatusOf(err error) Status {
	if err == nil {
		return STATUS_SUCCESS
	}
	if s, ok := errors.Cause(err).(Status); ok {
		return s
	}
	return STATUS_UNSUCCESSFUL
}
