package gdi

import (
	"image"
	"image/color"
	"io/ioutil"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

// LoadFace loads a TrueType font for text output. An empty path selects
// the built in 7x13 bitmap font.
func LoadFace(path string, points float64) (font.Face, error) {
	if path == "" {
		return basicfont.Face7x13, nil
	}
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "ioutil.ReadFile() failed")
	}
	f, err := truetype.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "truetype.Parse() failed")
	}
	return truetype.NewFace(f, &truetype.Options{Size: points}), nil
}

// canvas is the screen image both backends draw into.
type canvas struct {
	ctx  *gg.Context
	img  *image.RGBA
	face font.Face
	bits int
	// damaged area since the last flush
	dirty Rect
}

func newCanvas(w, h int, face font.Face, bits int) *canvas {
	if face == nil {
		face = basicfont.Face7x13
	}
	ctx := gg.NewContext(w, h)
	ctx.SetFontFace(face)
	return &canvas{ctx: ctx, img: ctx.Image().(*image.RGBA), face: face, bits: bits}
}

func (c *canvas) bounds() Rect {
	return Rect{0, 0, int32(c.ctx.Width()), int32(c.ctx.Height())}
}

func (c *canvas) damage(r Rect) {
	r = r.Intersect(c.bounds())
	if r.Empty() {
		return
	}
	if c.dirty.Empty() {
		c.dirty = r
		return
	}
	if r.Left < c.dirty.Left {
		c.dirty.Left = r.Left
	}
	if r.Top < c.dirty.Top {
		c.dirty.Top = r.Top
	}
	if r.Right > c.dirty.Right {
		c.dirty.Right = r.Right
	}
	if r.Bottom > c.dirty.Bottom {
		c.dirty.Bottom = r.Bottom
	}
}

func (c *canvas) takeDirty() Rect {
	r := c.dirty
	c.dirty = Rect{}
	return r
}

func colorOf(c uint32) color.RGBA {
	r, g, b := splitRGB(c)
	return color.RGBA{r, g, b, 0xff}
}

func (c *canvas) setPixel(x, y int32, col uint32) {
	c.img.SetRGBA(int(x), int(y), colorOf(col))
	c.damage(Rect{x, y, x + 1, y + 1})
}

func (c *canvas) getPixel(x, y int32) uint32 {
	p := c.img.RGBAAt(int(x), int(y))
	return RGB(p.R, p.G, p.B)
}

func (c *canvas) fill(r Rect, col uint32) {
	r = r.Intersect(c.bounds())
	if r.Empty() {
		return
	}
	c.ctx.SetColor(colorOf(col))
	c.ctx.DrawRectangle(float64(r.Left), float64(r.Top), float64(r.Width()), float64(r.Height()))
	c.ctx.Fill()
	c.damage(r)
}

// text draws s with its top left corner at x, y, clipped to clip, and
// returns the area it covers.
func (c *canvas) text(x, y int32, s string, col uint32, clip Rect) Rect {
	ascent := c.face.Metrics().Ascent.Ceil()
	w, h := c.ctx.MeasureString(s)
	area := Rect{x, y, x + int32(w+0.5), y + int32(h+0.5)}
	if lh := int32(c.face.Metrics().Height.Ceil()); area.Height() < lh {
		area.Bottom = y + lh
	}
	c.ctx.Push()
	cr := clip.Intersect(c.bounds())
	c.ctx.DrawRectangle(float64(cr.Left), float64(cr.Top), float64(cr.Width()), float64(cr.Height()))
	c.ctx.Clip()
	c.ctx.SetColor(colorOf(col))
	c.ctx.DrawString(s, float64(x), float64(y+int32(ascent)))
	c.ctx.ResetClip()
	c.ctx.Pop()
	area = area.Intersect(cr)
	c.damage(area)
	return area
}

// copyRect moves pixels within the screen, handling overlap.
func (c *canvas) copyRect(dst Rect, sx, sy int32) {
	w, h := int(dst.Width()), int(dst.Height())
	if w <= 0 || h <= 0 {
		return
	}
	tmp := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		src := c.img.PixOffset(int(sx), int(sy)+y)
		copy(tmp.Pix[y*tmp.Stride:y*tmp.Stride+w*4], c.img.Pix[src:src+w*4])
	}
	for y := 0; y < h; y++ {
		off := c.img.PixOffset(int(dst.Left), int(dst.Top)+y)
		copy(c.img.Pix[off:off+w*4], tmp.Pix[y*tmp.Stride:y*tmp.Stride+w*4])
	}
	c.damage(dst)
}

func (c *canvas) invert(r Rect) {
	for y := r.Top; y < r.Bottom; y++ {
		off := c.img.PixOffset(int(r.Left), int(y))
		for x := r.Left; x < r.Right; x++ {
			c.img.Pix[off] ^= 0xff
			c.img.Pix[off+1] ^= 0xff
			c.img.Pix[off+2] ^= 0xff
			off += 4
		}
	}
	c.damage(r)
}

func (c *canvas) caps(index int) int32 {
	switch index {
	case HORZRES:
		return int32(c.ctx.Width())
	case VERTRES:
		return int32(c.ctx.Height())
	case PLANES:
		return 1
	case BITSPIXEL:
		return int32(c.bits)
	case NUMCOLORS:
		if c.bits >= 31 {
			return -1
		}
		return 1 << uint(c.bits)
	}
	return 0
}

// dc is a device context over a canvas. flush is called by Repaint with
// the damaged screen area.
type dc struct {
	c      *canvas
	bounds Rect
	flush  func(r Rect)
}

func (d *dc) SetBounds(r Rect) { d.bounds = r }
func (d *dc) Bounds() Rect     { return d.bounds }

func (d *dc) toScreen(x, y int32) (int32, int32, bool) {
	sx, sy := d.bounds.Left+x, d.bounds.Top+y
	clip := d.bounds.Intersect(d.c.bounds())
	ok := sx >= clip.Left && sx < clip.Right && sy >= clip.Top && sy < clip.Bottom
	return sx, sy, ok
}

func (d *dc) clip(r Rect) Rect {
	return r.Offset(d.bounds.Left, d.bounds.Top).Intersect(d.bounds).Intersect(d.c.bounds())
}

func (d *dc) SetPixel(x, y int32, color uint32) bool {
	sx, sy, ok := d.toScreen(x, y)
	if !ok {
		return false
	}
	d.c.setPixel(sx, sy, color)
	return true
}

func (d *dc) GetPixel(x, y int32) uint32 {
	sx, sy, ok := d.toScreen(x, y)
	if !ok {
		// CLR_INVALID
		return 0xffffffff
	}
	return d.c.getPixel(sx, sy)
}

func (d *dc) Rectangle(left, top, right, bottom int32, brush uint32) bool {
	if left > right {
		left, right = right, left
	}
	if top > bottom {
		top, bottom = bottom, top
	}
	// brush interior, outlined with a black pen
	d.c.fill(d.clip(Rect{left, top, right, bottom}), brush)
	for _, edge := range []Rect{
		{left, top, right, top + 1},
		{left, bottom - 1, right, bottom},
		{left, top, left + 1, bottom},
		{right - 1, top, right, bottom},
	} {
		d.c.fill(d.clip(edge), 0)
	}
	return true
}

func (d *dc) ExtTextOut(x, y int32, options uint32, rect *Rect, text string) bool {
	clip := d.clip(Rect{0, 0, d.bounds.Width(), d.bounds.Height()})
	if rect != nil {
		r := d.clip(*rect)
		if options&ETO_OPAQUE != 0 {
			d.c.fill(r, RGB(0xff, 0xff, 0xff))
		}
		if options&ETO_CLIPPED != 0 {
			clip = r
		}
	}
	if clip.Empty() {
		return true
	}
	d.c.text(d.bounds.Left+x, d.bounds.Top+y, text, 0, clip)
	return true
}

func (d *dc) BitBlt(x, y, cx, cy int32, src DeviceContext, xSrc, ySrc int32, rop uint32) bool {
	dst := d.clip(Rect{x, y, x + cx, y + cy})
	switch rop {
	case BLACKNESS:
		d.c.fill(dst, 0)
		return true
	case WHITENESS:
		d.c.fill(dst, RGB(0xff, 0xff, 0xff))
		return true
	case DSTINVERT:
		d.c.invert(dst)
		return true
	}
	s, ok := src.(*dc)
	if !ok || s.c != d.c {
		return false
	}
	// keep the source on its own bounds
	sx := s.bounds.Left + xSrc + (dst.Left - (d.bounds.Left + x))
	sy := s.bounds.Top + ySrc + (dst.Top - (d.bounds.Top + y))
	sr := Rect{sx, sy, sx + dst.Width(), sy + dst.Height()}.Intersect(s.bounds).Intersect(s.c.bounds())
	if sr.Empty() {
		return true
	}
	dst.Left += sr.Left - sx
	dst.Top += sr.Top - sy
	dst.Right = dst.Left + sr.Width()
	dst.Bottom = dst.Top + sr.Height()
	d.c.copyRect(dst, sr.Left, sr.Top)
	return true
}

func (d *dc) GetCaps(index int) int32 {
	return d.c.caps(index)
}

func (d *dc) Repaint() {
	if r := d.c.takeDirty(); !r.Empty() && d.flush != nil {
		d.flush(r)
	}
}
