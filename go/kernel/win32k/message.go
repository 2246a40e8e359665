package win32k

import (
	"fmt"

	"github.com/lunixbochs/ntcorn/go/kernel/gdi"
	"github.com/lunixbochs/ntcorn/go/models"
)

// window messages
const (
	WM_CREATE            = 0x0001
	WM_DESTROY           = 0x0002
	WM_MOVE              = 0x0003
	WM_SIZE              = 0x0005
	WM_ACTIVATE          = 0x0006
	WM_SETFOCUS          = 0x0007
	WM_PAINT             = 0x000f
	WM_QUIT              = 0x0012
	WM_ERASEBKGND        = 0x0014
	WM_SHOWWINDOW        = 0x0018
	WM_ACTIVATEAPP       = 0x001c
	WM_GETMINMAXINFO     = 0x0024
	WM_WINDOWPOSCHANGING = 0x0046
	WM_WINDOWPOSCHANGED  = 0x0047
	WM_NCCREATE          = 0x0081
	WM_NCDESTROY         = 0x0082
	WM_NCCALCSIZE        = 0x0083
	WM_NCPAINT           = 0x0085
	WM_NCACTIVATE        = 0x0086
	WM_KEYDOWN           = 0x0100
	WM_KEYUP             = 0x0101
	WM_MOUSEMOVE         = 0x0200
	WM_LBUTTONDOWN       = 0x0201
	WM_LBUTTONUP         = 0x0202
	WM_RBUTTONDOWN       = 0x0204
	WM_RBUTTONUP         = 0x0205
	WM_MBUTTONDOWN       = 0x0207
	WM_MBUTTONUP         = 0x0208
)

var messageNames = map[uint32]string{
	WM_CREATE:            "WM_CREATE",
	WM_DESTROY:           "WM_DESTROY",
	WM_MOVE:              "WM_MOVE",
	WM_SIZE:              "WM_SIZE",
	WM_ACTIVATE:          "WM_ACTIVATE",
	WM_SETFOCUS:          "WM_SETFOCUS",
	WM_PAINT:             "WM_PAINT",
	WM_QUIT:              "WM_QUIT",
	WM_ERASEBKGND:        "WM_ERASEBKGND",
	WM_SHOWWINDOW:        "WM_SHOWWINDOW",
	WM_ACTIVATEAPP:       "WM_ACTIVATEAPP",
	WM_GETMINMAXINFO:     "WM_GETMINMAXINFO",
	WM_WINDOWPOSCHANGING: "WM_WINDOWPOSCHANGING",
	WM_WINDOWPOSCHANGED:  "WM_WINDOWPOSCHANGED",
	WM_NCCREATE:          "WM_NCCREATE",
	WM_NCDESTROY:         "WM_NCDESTROY",
	WM_NCCALCSIZE:        "WM_NCCALCSIZE",
	WM_NCPAINT:           "WM_NCPAINT",
	WM_NCACTIVATE:        "WM_NCACTIVATE",
}

func MessageName(msg uint32) string {
	if name, ok := messageNames[msg]; ok {
		return name
	}
	return fmt.Sprintf("WM_%04x", msg)
}

const (
	WA_INACTIVE = 0
	WA_ACTIVE   = 1

	SIZE_RESTORED = 0
)

// user mode callback that runs window procedures
const NTWIN32_WINDOWPROC_CALLBACK = 2

// WindowProcArgs starts every packed message. When the message carries a
// structure it follows the block and LParam points at it.
type WindowProcArgs struct {
	Proc     uint32
	Wnd      uint32
	Msg      uint32
	WParam   uint32
	LParam   uint32
	DataSize uint32
}

var windowProcArgsSize = uint32(models.Sizeof(&WindowProcArgs{}))

type Point struct {
	X, Y int32
}

type Rect = gdi.Rect

type CreateStruct struct {
	CreateParams uint32
	Instance     uint32
	Menu         uint32
	Parent       uint32
	Cy, Cx       int32
	Y, X         int32
	Style        uint32
	Name         uint32
	Class        uint32
	ExStyle      uint32
}

type MinMaxInfo struct {
	Reserved     Point
	MaxSize      Point
	MaxPosition  Point
	MinTrackSize Point
	MaxTrackSize Point
}

type WindowPos struct {
	Hwnd        uint32
	InsertAfter uint32
	X, Y        int32
	Cx, Cy      int32
	Flags       uint32
}

// NCCALCSIZE_PARAMS without the WINDOWPOS pointer target
type NcCalcSizeParams struct {
	Rects [3]Rect
	Pos   uint32
}

// Message is one window procedure call. Data, when set, is a pointer to
// a struc-packable structure that is copied to the guest with the message
// and read back after the call.
type Message struct {
	Msg    uint32
	WParam uint32
	LParam uint32
	Data   interface{}
	// what the window procedure returned
	Result uint32
}

func (m *Message) String() string {
	return MessageName(m.Msg)
}

func makeLParam(lo, hi int32) uint32 {
	return uint32(uint16(lo)) | uint32(uint16(hi))<<16
}

func showWindowMsg(show bool) *Message {
	return &Message{Msg: WM_SHOWWINDOW, WParam: boolArg(show)}
}

func moveMsg(x, y int32) *Message {
	return &Message{Msg: WM_MOVE, LParam: makeLParam(x, y)}
}

func sizeMsg(cx, cy int32) *Message {
	return &Message{Msg: WM_SIZE, WParam: SIZE_RESTORED, LParam: makeLParam(cx, cy)}
}

func createMsg(msg uint32, cs *CreateStruct) *Message {
	return &Message{Msg: msg, Data: cs}
}

func ncCalcSizeMsg(calcValid bool, r Rect) *Message {
	if !calcValid {
		rect := r
		return &Message{Msg: WM_NCCALCSIZE, Data: &rect}
	}
	return &Message{Msg: WM_NCCALCSIZE, WParam: 1, Data: &NcCalcSizeParams{Rects: [3]Rect{r, r, r}}}
}

func posMsg(msg uint32, wp WindowPos) *Message {
	return &Message{Msg: msg, Data: &wp}
}

func minMaxMsg() *Message {
	return &Message{Msg: WM_GETMINMAXINFO, Data: &MinMaxInfo{
		MaxSize:      Point{gdi.ScreenWidth, gdi.ScreenHeight},
		MaxTrackSize: Point{gdi.ScreenWidth, gdi.ScreenHeight},
	}}
}

func boolArg(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
