//go:build linux || darwin

package gdi

import (
	"runtime"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
)

const (
	sdlInitTimer = 0x1
	sdlInitVideo = 0x20

	sdlWindowPosUndefined = 0x1fff0000
	sdlPixelFormatRGBA32  = 0x16762004 // ABGR8888, bytes in R G B A order
	sdlTextureStreaming   = 1

	sdlQuit            = 0x100
	sdlKeyDown         = 0x300
	sdlKeyUp           = 0x301
	sdlMouseMotion     = 0x400
	sdlMouseButtonDown = 0x401
	sdlMouseButtonUp   = 0x402

	sdlButtonLeft   = 1
	sdlButtonMiddle = 2
	sdlButtonRight  = 3

	sdlkEscape = 27
	sdlkSpace  = ' '
	sdlkRight  = 0x4000004f
	sdlkLeft   = 0x40000050
	sdlkDown   = 0x40000051
	sdlkUp     = 0x40000052
)

// SDL_Event is a 56 byte union
type sdlEvent [56]byte

func (e *sdlEvent) u32(off int) uint32 {
	return uint32(e[off]) | uint32(e[off+1])<<8 | uint32(e[off+2])<<16 | uint32(e[off+3])<<24
}

var sdl struct {
	Init             func(flags uint32) int32
	Quit             func()
	GetError         func() string
	CreateWindow     func(title string, x, y, w, h int32, flags uint32) uintptr
	DestroyWindow    func(win uintptr)
	CreateRenderer   func(win uintptr, index int32, flags uint32) uintptr
	DestroyRenderer  func(r uintptr)
	CreateTexture    func(r uintptr, format uint32, access, w, h int32) uintptr
	DestroyTexture   func(t uintptr)
	UpdateTexture    func(t uintptr, rect, pixels unsafe.Pointer, pitch int32) int32
	RenderCopy       func(r, t uintptr, src, dst unsafe.Pointer) int32
	RenderPresent    func(r uintptr)
	PollEvent        func(ev unsafe.Pointer) int32
	WaitEventTimeout func(ev unsafe.Pointer, ms int32) int32
	loaded           bool
}

func sdlLibraries() []string {
	if runtime.GOOS == "darwin" {
		return []string{"libSDL2-2.0.0.dylib", "libSDL2.dylib", "/usr/local/lib/libSDL2.dylib", "/opt/homebrew/lib/libSDL2.dylib"}
	}
	return []string{"libSDL2-2.0.so.0", "libSDL2-2.0.so", "libSDL2.so"}
}

func loadSDL() error {
	if sdl.loaded {
		return nil
	}
	var lib uintptr
	var err error
	for _, name := range sdlLibraries() {
		if lib, err = purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL); err == nil {
			break
		}
	}
	if err != nil {
		return errors.Wrap(err, "SDL2 not found")
	}
	purego.RegisterLibFunc(&sdl.Init, lib, "SDL_Init")
	purego.RegisterLibFunc(&sdl.Quit, lib, "SDL_Quit")
	purego.RegisterLibFunc(&sdl.GetError, lib, "SDL_GetError")
	purego.RegisterLibFunc(&sdl.CreateWindow, lib, "SDL_CreateWindow")
	purego.RegisterLibFunc(&sdl.DestroyWindow, lib, "SDL_DestroyWindow")
	purego.RegisterLibFunc(&sdl.CreateRenderer, lib, "SDL_CreateRenderer")
	purego.RegisterLibFunc(&sdl.DestroyRenderer, lib, "SDL_DestroyRenderer")
	purego.RegisterLibFunc(&sdl.CreateTexture, lib, "SDL_CreateTexture")
	purego.RegisterLibFunc(&sdl.DestroyTexture, lib, "SDL_DestroyTexture")
	purego.RegisterLibFunc(&sdl.UpdateTexture, lib, "SDL_UpdateTexture")
	purego.RegisterLibFunc(&sdl.RenderCopy, lib, "SDL_RenderCopy")
	purego.RegisterLibFunc(&sdl.RenderPresent, lib, "SDL_RenderPresent")
	purego.RegisterLibFunc(&sdl.PollEvent, lib, "SDL_PollEvent")
	purego.RegisterLibFunc(&sdl.WaitEventTimeout, lib, "SDL_WaitEventTimeout")
	sdl.loaded = true
	return nil
}

// SDL shows the screen in an SDL2 window. libSDL2 is loaded at runtime,
// so the binary does not link against it.
type SDL struct {
	Face font.Face

	c        *canvas
	window   uintptr
	renderer uintptr
	texture  uintptr
	start    time.Time
}

func NewSDL(face font.Face) *SDL {
	return &SDL{Face: face}
}

func (s *SDL) Init() error {
	if s.c != nil {
		return nil
	}
	if err := loadSDL(); err != nil {
		return err
	}
	if sdl.Init(sdlInitVideo|sdlInitTimer) < 0 {
		return errors.Errorf("SDL_Init() failed: %s", sdl.GetError())
	}
	s.window = sdl.CreateWindow("ntcorn", sdlWindowPosUndefined, sdlWindowPosUndefined, ScreenWidth, ScreenHeight, 0)
	if s.window == 0 {
		sdl.Quit()
		return errors.Errorf("SDL_CreateWindow() failed: %s", sdl.GetError())
	}
	s.renderer = sdl.CreateRenderer(s.window, -1, 0)
	if s.renderer != 0 {
		s.texture = sdl.CreateTexture(s.renderer, sdlPixelFormatRGBA32, sdlTextureStreaming, ScreenWidth, ScreenHeight)
	}
	if s.texture == 0 {
		err := errors.Errorf("SDL renderer setup failed: %s", sdl.GetError())
		s.Close()
		return err
	}
	s.start = time.Now()
	s.c = newCanvas(ScreenWidth, ScreenHeight, s.Face, 32)
	s.c.fill(s.c.bounds(), Background)
	s.present(s.c.takeDirty())
	return nil
}

func (s *SDL) present(Rect) {
	img := s.c.img
	sdl.UpdateTexture(s.texture, nil, unsafe.Pointer(&img.Pix[0]), int32(img.Stride))
	sdl.RenderCopy(s.renderer, s.texture, nil, nil)
	sdl.RenderPresent(s.renderer)
}

func (s *SDL) Close() error {
	if s.texture != 0 {
		sdl.DestroyTexture(s.texture)
		s.texture = 0
	}
	if s.renderer != 0 {
		sdl.DestroyRenderer(s.renderer)
		s.renderer = 0
	}
	if s.window != 0 {
		sdl.DestroyWindow(s.window)
		s.window = 0
		sdl.Quit()
	}
	return nil
}

func (s *SDL) NewDC() DeviceContext {
	return &dc{c: s.c, bounds: s.c.bounds(), flush: s.present}
}

func (s *SDL) Caps(index int) int32 {
	return s.c.caps(index)
}

func (s *SDL) Sleeper(host SleepHost) Sleeper {
	return &sdlSleeper{s: s, host: host}
}

type sdlSleeper struct {
	s    *SDL
	host SleepHost
}

func (sl *sdlSleeper) ticks() uint32 {
	return uint32(time.Since(sl.s.start) / time.Millisecond)
}

func sdlKeyToVk(sym uint32) uint16 {
	switch {
	case sym >= 'a' && sym <= 'z':
		return uint16(sym - 'a' + 'A')
	case sym >= '0' && sym <= '9':
		return uint16(sym)
	}
	switch sym {
	case sdlkSpace:
		return VK_SPACE
	case sdlkUp:
		return VK_UP
	case sdlkDown:
		return VK_DOWN
	case sdlkLeft:
		return VK_LEFT
	case sdlkRight:
		return VK_RIGHT
	case sdlkEscape:
		return VK_ESCAPE
	}
	return 0
}

func mouseButtonFlags(button uint8, up bool) uint32 {
	switch button {
	case sdlButtonLeft:
		if up {
			return MOUSEEVENTF_LEFTUP
		}
		return MOUSEEVENTF_LEFTDOWN
	case sdlButtonRight:
		if up {
			return MOUSEEVENTF_RIGHTUP
		}
		return MOUSEEVENTF_RIGHTDOWN
	case sdlButtonMiddle:
		if up {
			return MOUSEEVENTF_MIDDLEUP
		}
		return MOUSEEVENTF_MIDDLEDOWN
	}
	return 0
}

// handle returns true on SDL_QUIT.
func (sl *sdlSleeper) handle(ev *sdlEvent) bool {
	switch typ := ev.u32(0); typ {
	case sdlQuit:
		return true
	case sdlKeyDown, sdlKeyUp:
		in := Input{
			Type: INPUT_KEYBOARD,
			Vk:   sdlKeyToVk(ev.u32(20)),
			Scan: uint16(ev.u32(16)),
			Time: sl.ticks(),
		}
		if typ == sdlKeyUp {
			in.Flags = KEYEVENTF_KEYUP
		}
		sl.host.SendInput(in)
	case sdlMouseButtonDown, sdlMouseButtonUp:
		sl.host.SendInput(Input{
			Type:  INPUT_MOUSE,
			X:     int32(ev.u32(20)),
			Y:     int32(ev.u32(24)),
			Flags: mouseButtonFlags(ev[16], typ == sdlMouseButtonUp),
			Time:  sl.ticks(),
		})
	case sdlMouseMotion:
		sl.host.SendInput(Input{
			Type:  INPUT_MOUSE,
			X:     int32(ev.u32(20)),
			Y:     int32(ev.u32(24)),
			Flags: MOUSEEVENTF_MOVE,
			Time:  sl.ticks(),
		})
	}
	return false
}

func (sl *sdlSleeper) CheckEvents(wait bool) bool {
	var ev sdlEvent
	timeout, timersLeft := sl.host.CheckTimers()
	if sdl.PollEvent(unsafe.Pointer(&ev)) != 0 && sl.handle(&ev) {
		return true
	}
	// nothing can wake us: no timers, no window for input, nobody else to run
	if !timersLeft && !sl.host.HasActiveWindow() && wait && sl.host.LastFiber() {
		return true
	}
	if !wait {
		return false
	}
	ms := int32(-1)
	if timersLeft {
		ms = Timeout(timeout)
	}
	if sdl.WaitEventTimeout(unsafe.Pointer(&ev), ms) != 0 {
		return sl.handle(&ev)
	}
	return false
}
