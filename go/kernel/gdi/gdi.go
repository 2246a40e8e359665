// Package gdi is the pixel side of the window manager: a backend owns the
// screen and hands out device contexts that draw on it. Backends know
// nothing about windows or handles.
package gdi

import (
	"time"
)

// Screen size of every backend.
const (
	ScreenWidth  = 640
	ScreenHeight = 480
)

// COLORREF is 0x00bbggrr.
func RGB(r, g, b uint8) uint32 {
	return uint32(r) | uint32(g)<<8 | uint32(b)<<16
}

func splitRGB(c uint32) (r, g, b uint8) {
	return uint8(c), uint8(c >> 8), uint8(c >> 16)
}

// Desktop background filled in by Init.
var Background = RGB(0x3b, 0x72, 0xa9)

// GetDeviceCaps indices
const (
	HORZRES   = 8
	VERTRES   = 10
	BITSPIXEL = 12
	PLANES    = 14
	NUMCOLORS = 24
)

// ExtTextOut options
const (
	ETO_OPAQUE  = 2
	ETO_CLIPPED = 4
)

// raster operations
const (
	SRCCOPY   = 0x00cc0020
	DSTINVERT = 0x00550009
	BLACKNESS = 0x00000042
	WHITENESS = 0x00ff0062
)

type Rect struct {
	Left, Top, Right, Bottom int32
}

func (r Rect) Width() int32  { return r.Right - r.Left }
func (r Rect) Height() int32 { return r.Bottom - r.Top }

func (r Rect) Empty() bool {
	return r.Right <= r.Left || r.Bottom <= r.Top
}

func (r Rect) Intersect(o Rect) Rect {
	if o.Left > r.Left {
		r.Left = o.Left
	}
	if o.Top > r.Top {
		r.Top = o.Top
	}
	if o.Right < r.Right {
		r.Right = o.Right
	}
	if o.Bottom < r.Bottom {
		r.Bottom = o.Bottom
	}
	return r
}

func (r Rect) Offset(dx, dy int32) Rect {
	return Rect{r.Left + dx, r.Top + dy, r.Right + dx, r.Bottom + dy}
}

// DeviceContext draws inside its bounds. Coordinates are relative to the
// top left corner of the bounds and drawing is clipped to them.
type DeviceContext interface {
	SetPixel(x, y int32, color uint32) bool
	GetPixel(x, y int32) uint32
	// Rectangle fills with brush.
	Rectangle(left, top, right, bottom int32, brush uint32) bool
	ExtTextOut(x, y int32, options uint32, rect *Rect, text string) bool
	BitBlt(x, y, cx, cy int32, src DeviceContext, xSrc, ySrc int32, rop uint32) bool
	GetCaps(index int) int32
	SetBounds(r Rect)
	Bounds() Rect
	// Repaint pushes the DC's area to the display.
	Repaint()
}

// Backend owns the screen.
type Backend interface {
	Init() error
	Close() error
	// NewDC returns a context covering the whole screen.
	NewDC() DeviceContext
	Caps(index int) int32
	// Sleeper returns the backend's event loop, or nil to use the kernel's
	// default.
	Sleeper(host SleepHost) Sleeper
}

// Sleeper blocks the scheduler between runs. CheckEvents fires due timers
// and handles pending events, blocking until the next event when wait is
// set. It returns true when the session should end.
type Sleeper interface {
	CheckEvents(wait bool) bool
}

// SleepHost is the kernel side of a sleeper.
type SleepHost interface {
	// CheckTimers fires expired timers and returns the time to the next one.
	CheckTimers() (time.Duration, bool)
	LastFiber() bool
	HasActiveWindow() bool
	SendInput(in Input)
}

// INPUT types
const (
	INPUT_MOUSE    = 0
	INPUT_KEYBOARD = 1
)

// event flags
const (
	KEYEVENTF_KEYUP = 0x2

	MOUSEEVENTF_MOVE       = 0x1
	MOUSEEVENTF_LEFTDOWN   = 0x2
	MOUSEEVENTF_LEFTUP     = 0x4
	MOUSEEVENTF_RIGHTDOWN  = 0x8
	MOUSEEVENTF_RIGHTUP    = 0x10
	MOUSEEVENTF_MIDDLEDOWN = 0x20
	MOUSEEVENTF_MIDDLEUP   = 0x40
)

// virtual keys
const (
	VK_ESCAPE = 0x1b
	VK_SPACE  = 0x20
	VK_LEFT   = 0x25
	VK_UP     = 0x26
	VK_RIGHT  = 0x27
	VK_DOWN   = 0x28
)

// Input is a keyboard or mouse event from the host.
type Input struct {
	Type  uint32
	X, Y  int32
	Vk    uint16
	Scan  uint16
	Flags uint32
	Time  uint32
}

// Timeout converts a timer delay to the whole milliseconds host waits
// take, rounding up and saturating at MaxInt32.
func Timeout(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	ticks := int64(d / 100)
	ms := (ticks + 9999) / 10000
	if ms > 0x7fffffff {
		return 0x7fffffff
	}
	return int32(ms)
}
