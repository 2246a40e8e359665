package ps

import (
	"github.com/lunixbochs/ntcorn/go/kernel/common"
)

// PEB, up to the OS version fields.
type Peb struct {
	InheritedAddressSpace    uint8
	ReadImageFileExecOptions uint8
	BeingDebugged            uint8
	SpareBool                uint8
	Mutant                   uint32
	ImageBaseAddress         uint32
	Ldr                      uint32
	ProcessParameters        uint32
	SubSystemData            uint32
	ProcessHeap              uint32
	FastPebLock              uint32
	Pad0                     [0x2c - 0x20]byte
	KernelCallbackTable      uint32
	Pad1                     [0x64 - 0x30]byte
	NumberOfProcessors       uint32
	NtGlobalFlag             uint32
	Pad2                     [0xa4 - 0x6c]byte
	OSMajorVersion           uint32
	OSMinorVersion           uint32
	OSBuildNumber            uint16
	OSCSDVersion             uint16
	OSPlatformId             uint32
	ImageSubsystem           uint32
}

// Start of the TEB: NT_TIB followed by the client id and the PEB pointer.
type TebHeader struct {
	ExceptionList        uint32
	StackBase            uint32
	StackLimit           uint32
	SubSystemTib         uint32
	FiberData            uint32
	ArbitraryUserPointer uint32
	Self                 uint32
	EnvironmentPointer   uint32
	UniqueProcess        uint32
	UniqueThread         uint32
	ActiveRpcHandle      uint32
	TlsPointer           uint32
	Peb                  uint32
	LastErrorValue       uint32
}

// TEB fields past the header, used by the window manager.
const (
	TEB_PEB                    = 0x30
	TEB_WIN32_THREAD_INFO      = 0x40
	TEB_NTUSER_INFO            = 0x6e4
	TEB_KERNEL_USER_PTR_OFFSET = 0x6e8
	TEB_CACHED_WINDOW_HANDLE   = 0x6f4
	TEB_CACHED_WINDOW_POINTER  = 0x6f8
	TEB_DEALLOCATION_STACK     = 0xe0c
	PEB_KERNEL_CALLBACK_TABLE  = 0x2c
	PEB_PROCESS_PARAMETERS     = 0x10
	EXCEPTION_CHAIN_END        = 0xffffffff
	PROCESS_PARAMS_NORMALIZED  = 1
	processParametersSize      = 0x290
)

// INITIAL_TEB
type InitialTeb struct {
	StackBase      uint32
	StackLimit     uint32
	StackCommit    uint32
	StackCommitMax uint32
	StackReserved  uint32
}

// RTL_USER_PROCESS_PARAMETERS, without the CurrentDirectories array.
type ProcessParameters struct {
	MaximumLength   uint32
	Length          uint32
	Flags           uint32
	DebugFlags      uint32
	ConsoleHandle   uint32
	ConsoleFlags    uint32
	StdInput        uint32
	StdOutput       uint32
	StdError        uint32
	CurrentDir      common.UnicodeStringHeader
	CurrentDirH     uint32
	DllPath         common.UnicodeStringHeader
	ImagePathName   common.UnicodeStringHeader
	CommandLine     common.UnicodeStringHeader
	Environment     uint32
	StartingX       uint32
	StartingY       uint32
	CountX          uint32
	CountY          uint32
	CountCharsX     uint32
	CountCharsY     uint32
	FillAttribute   uint32
	WindowFlags     uint32
	ShowWindowFlags uint32
	WindowTitle     common.UnicodeStringHeader
	DesktopInfo     common.UnicodeStringHeader
	ShellInfo       common.UnicodeStringHeader
	RuntimeData     common.UnicodeStringHeader
}
