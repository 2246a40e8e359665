package gdi

import (
	"image"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
)

// Soft renders into memory only. It is the backend for headless runs and
// tests, and can save the final screen as a PNG.
type Soft struct {
	Face font.Face
	// Screenshot is written on Close when set.
	Screenshot string
	// Repaints that had something to show
	Flushes int

	c *canvas
}

func NewSoft(face font.Face) *Soft {
	return &Soft{Face: face}
}

func (s *Soft) Init() error {
	if s.c != nil {
		return nil
	}
	s.c = newCanvas(ScreenWidth, ScreenHeight, s.Face, 32)
	s.c.fill(s.c.bounds(), Background)
	s.c.takeDirty()
	return nil
}

func (s *Soft) Close() error {
	if s.c == nil || s.Screenshot == "" {
		return nil
	}
	if err := s.c.ctx.SavePNG(s.Screenshot); err != nil {
		return errors.Wrap(err, "SavePNG() failed")
	}
	return nil
}

func (s *Soft) NewDC() DeviceContext {
	return &dc{c: s.c, bounds: s.c.bounds(), flush: func(Rect) { s.Flushes++ }}
}

func (s *Soft) Caps(index int) int32 {
	return s.c.caps(index)
}

func (s *Soft) Sleeper(host SleepHost) Sleeper {
	return nil
}

// Image is the current screen.
func (s *Soft) Image() image.Image {
	return s.c.img
}
