package nt

import (
	"github.com/lunixbochs/ntcorn/go/kernel/common"
	"github.com/lunixbochs/ntcorn/go/kernel/gdi"
	"github.com/lunixbochs/ntcorn/go/kernel/win32k"
	"github.com/lunixbochs/ntcorn/go/models"
)

const CLR_INVALID = 0xffffffff

// initGUI brings up the display the first time a process connects to
// GDI. Sessions without a backend still get windows, just nothing to draw
// them on.
func (k *Kernel) initGUI() error {
	if k.guiReady || k.Backend == nil {
		return nil
	}
	if err := k.Backend.Init(); err != nil {
		return err
	}
	k.guiReady = true
	if s := k.Backend.Sleeper(k); s != nil {
		k.Sleeper = s
	}
	return nil
}

func (k *Kernel) NtGdiInit() uint32 {
	t := k.current()
	if err := k.initGUI(); err != nil {
		k.Config.Printf("failed to start display: %v\n", err)
		return FALSE
	}
	if err := k.Win32k.GdiInit(t); err != nil {
		k.fail(err)
		return FALSE
	}
	return TRUE
}

// dc resolves a DC handle to one with a drawing surface.
func (k *Kernel) dc(h uint32) *win32k.DC {
	dc := k.Win32k.DC(h)
	if dc == nil || dc.DeviceContext == nil {
		k.Config.Debugf("bad dc %08x\n", h)
		return nil
	}
	return dc
}

func (k *Kernel) NtGdiSetPixel(hdc uint32, x, y int32, color uint32) uint32 {
	dc := k.dc(hdc)
	if dc == nil || !dc.SetPixel(x, y, color) {
		return CLR_INVALID
	}
	return color
}

func (k *Kernel) NtGdiRectangle(hdc uint32, left, top, right, bottom int32) uint32 {
	dc := k.dc(hdc)
	if dc == nil {
		return FALSE
	}
	return boolRet(dc.Rectangle(left, top, right, bottom, dc.BrushColor()))
}

func (k *Kernel) NtGdiExtTextOutW(hdc uint32, x, y int32, options uint32, rect common.Buf, str common.Buf, count uint32, dx common.Buf, codepage uint32) uint32 {
	dc := k.dc(hdc)
	if dc == nil {
		return FALSE
	}
	var clip *gdi.Rect
	if !rect.Null() {
		clip = &gdi.Rect{}
		if err := rect.Unpack(clip); err != nil {
			k.fail(err)
			return FALSE
		}
	}
	var text string
	if count > 0 {
		raw, err := str.Read(uint64(count) * 2)
		if err != nil {
			k.fail(err)
			return FALSE
		}
		text = models.DecodeUTF16(raw)
	}
	return boolRet(dc.ExtTextOut(x, y, options, clip, text))
}

func (k *Kernel) NtGdiBitBlt(hdcDst uint32, x, y, cx, cy int32, hdcSrc uint32, xSrc, ySrc int32, rop, bkColor, flags uint32) uint32 {
	dst := k.dc(hdcDst)
	if dst == nil {
		return FALSE
	}
	var src gdi.DeviceContext
	if hdcSrc != 0 {
		dc := k.dc(hdcSrc)
		if dc == nil {
			return FALSE
		}
		src = dc.DeviceContext
	}
	return boolRet(dst.BitBlt(x, y, cx, cy, src, xSrc, ySrc, rop))
}

func (k *Kernel) NtGdiGetDeviceCaps(hdc uint32, index int32) int32 {
	if dc := k.dc(hdc); dc != nil {
		return dc.GetCaps(int(index))
	}
	if k.Backend != nil {
		return k.Backend.Caps(int(index))
	}
	return 0
}
