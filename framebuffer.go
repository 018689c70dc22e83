// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"sync"
)

// Framebuffer is the client-owned pixel buffer that decoded rectangle
// updates are written into. It holds a single contiguous byte slice sized
// width*height*bytesPerPixel, packed in its own PixelFormat, and is safe
// for concurrent reads (Snapshot, Size) while a receive worker writes into
// it through a FramebufferCursor.
type Framebuffer struct {
	mu     sync.RWMutex
	width  uint16
	height uint16
	format PixelFormat
	pix    []byte
}

// NewFramebuffer allocates a Framebuffer of the given dimensions and pixel
// format.
func NewFramebuffer(width, height uint16, format PixelFormat) *Framebuffer {
	fb := &Framebuffer{width: width, height: height, format: format}
	fb.pix = make([]byte, int(width)*int(height)*format.BytesPerPixel())
	return fb
}

// Size returns the framebuffer's current dimensions.
func (fb *Framebuffer) Size() (width, height uint16) {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.width, fb.height
}

// Format returns the framebuffer's current pixel format.
func (fb *Framebuffer) Format() PixelFormat {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	return fb.format
}

// Resize reallocates the framebuffer for new dimensions, discarding prior
// contents. Called when a DesktopSize or ExtendedDesktopSize pseudo-encoding
// reports a changed screen size.
func (fb *Framebuffer) Resize(width, height uint16) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.width, fb.height = width, height
	fb.pix = make([]byte, int(width)*int(height)*fb.format.BytesPerPixel())
}

// SetPixelFormat reallocates the framebuffer for a new pixel format,
// discarding prior contents. Called after a SetPixelFormat negotiation
// changes the format the client decodes into.
func (fb *Framebuffer) SetPixelFormat(format PixelFormat) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.format = format
	fb.pix = make([]byte, int(fb.width)*int(fb.height)*format.BytesPerPixel())
}

// Snapshot returns a copy of the framebuffer's raw pixel bytes, safe for the
// caller to retain after the connection continues decoding.
func (fb *Framebuffer) Snapshot() []byte {
	fb.mu.RLock()
	defer fb.mu.RUnlock()
	out := make([]byte, len(fb.pix))
	copy(out, fb.pix)
	return out
}

// GrabCursor returns a FramebufferCursor scoped to rect. The cursor cannot
// be advanced past the rectangle it was granted: once every pixel in rect
// has been written, GetEndReached reports true and further writes are no-ops.
func (fb *Framebuffer) GrabCursor(rect Rectangle) *FramebufferCursor {
	return &FramebufferCursor{fb: fb, rect: rect}
}

// CopyRect copies a width x height block from (srcX,srcY) to (dstX,dstY)
// within the framebuffer. Source and destination may overlap in any of the
// four relative directions; rows are iterated in whichever order keeps the
// read ahead of the write, and copy() within a row already tolerates
// byte-level overlap the way memmove does.
func (fb *Framebuffer) CopyRect(srcX, srcY, dstX, dstY, width, height uint16) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if width == 0 || height == 0 {
		return nil
	}

	bpp := fb.format.BytesPerPixel()
	stride := int(fb.width) * bpp
	rowBytes := int(width) * bpp

	if int(srcX)+int(width) > int(fb.width) || int(srcY)+int(height) > int(fb.height) ||
		int(dstX)+int(width) > int(fb.width) || int(dstY)+int(height) > int(fb.height) {
		return validationError("Framebuffer.CopyRect", "copyrect source or destination rectangle out of bounds", nil)
	}

	rowsBottomUp := dstY > srcY || (dstY == srcY && dstX > srcX)

	if rowsBottomUp {
		for row := int(height) - 1; row >= 0; row-- {
			srcOff := (int(srcY)+row)*stride + int(srcX)*bpp
			dstOff := (int(dstY)+row)*stride + int(dstX)*bpp
			copy(fb.pix[dstOff:dstOff+rowBytes], fb.pix[srcOff:srcOff+rowBytes])
		}
	} else {
		for row := 0; row < int(height); row++ {
			srcOff := (int(srcY)+row)*stride + int(srcX)*bpp
			dstOff := (int(dstY)+row)*stride + int(dstX)*bpp
			copy(fb.pix[dstOff:dstOff+rowBytes], fb.pix[srcOff:srcOff+rowBytes])
		}
	}

	return nil
}

// FramebufferCursor addresses a rectangular region of a Framebuffer one
// pixel, or one solid run, at a time, hiding row-stride and byte-offset
// arithmetic from rectangle decoders.
type FramebufferCursor struct {
	fb   *Framebuffer
	rect Rectangle
	col  uint16
	row  uint16
	end  bool
}

// GetEndReached reports whether every pixel in the cursor's rectangle has
// been written.
func (c *FramebufferCursor) GetEndReached() bool {
	return c.end
}

// MoveNext advances the cursor to the next pixel in row-major order without
// writing. Decoders that skip pixels (padding, alignment) use this directly.
func (c *FramebufferCursor) MoveNext() {
	c.advance()
}

func (c *FramebufferCursor) advance() {
	if c.end {
		return
	}
	c.col++
	if c.col >= c.rect.Width {
		c.col = 0
		c.row++
		if c.row >= c.rect.Height {
			c.end = true
		}
	}
}

// offset computes the byte offset of the cursor's current pixel within the
// framebuffer's backing slice. Callers must hold fb.mu.
func (c *FramebufferCursor) offset(bpp int) int {
	x := int(c.rect.X) + int(c.col)
	y := int(c.rect.Y) + int(c.row)
	return (y*int(c.fb.width) + x) * bpp
}

// SetPixel writes a single already-resolved Color at the cursor's current
// position, converting it into the framebuffer's pixel format, then
// advances the cursor.
func (c *FramebufferCursor) SetPixel(col Color) {
	if c.end {
		return
	}
	c.fb.mu.Lock()
	bpp := c.fb.format.BytesPerPixel()
	off := c.offset(bpp)
	writeColorAt(c.fb.pix[off:off+bpp], col, &c.fb.format)
	c.fb.mu.Unlock()
	c.advance()
}

// SetPixelsSolid fills count consecutive pixels, in row-major order wrapping
// at the rectangle's width, with a single color. This is exactly the
// operation RRE, CoRRE, and Hextile background/subrectangle fills need.
func (c *FramebufferCursor) SetPixelsSolid(col Color, count int) {
	c.fb.mu.Lock()
	defer c.fb.mu.Unlock()
	bpp := c.fb.format.BytesPerPixel()
	buf := make([]byte, bpp)
	writeColorAt(buf, col, &c.fb.format)
	for i := 0; i < count && !c.end; i++ {
		off := c.offset(bpp)
		copy(c.fb.pix[off:off+bpp], buf)
		c.advance()
	}
}

// SetPixels writes a run of distinct colors, one per pixel, in row-major
// order. Used by Raw and Hextile raw-tile decoding.
func (c *FramebufferCursor) SetPixels(colors []Color) {
	c.fb.mu.Lock()
	defer c.fb.mu.Unlock()
	bpp := c.fb.format.BytesPerPixel()
	for _, col := range colors {
		if c.end {
			return
		}
		off := c.offset(bpp)
		writeColorAt(c.fb.pix[off:off+bpp], col, &c.fb.format)
		c.advance()
	}
}

// SetRawPixels writes count pixels directly from src without per-channel
// conversion. Callers must only use this when src is already packed in the
// framebuffer's own pixel format (see FormatsBinaryCompatible) — this is the
// memcpy fast path for the common case where the negotiated server format
// matches the client's framebuffer format exactly.
func (c *FramebufferCursor) SetRawPixels(src []byte) {
	c.fb.mu.Lock()
	defer c.fb.mu.Unlock()
	bpp := c.fb.format.BytesPerPixel()
	count := len(src) / bpp
	for i := 0; i < count; i++ {
		if c.end {
			return
		}
		off := c.offset(bpp)
		copy(c.fb.pix[off:off+bpp], src[i*bpp:(i+1)*bpp])
		c.advance()
	}
}

// FormatsBinaryCompatible reports whether pixel data encoded in src can be
// copied byte-for-byte into dst without per-channel conversion.
func FormatsBinaryCompatible(src, dst *PixelFormat) bool {
	if src.BPP != dst.BPP || src.BigEndian != dst.BigEndian || src.TrueColor != dst.TrueColor {
		return false
	}
	if !src.TrueColor {
		return true
	}
	return src.RedMax == dst.RedMax && src.GreenMax == dst.GreenMax && src.BlueMax == dst.BlueMax &&
		src.RedShift == dst.RedShift && src.GreenShift == dst.GreenShift && src.BlueShift == dst.BlueShift
}

// writeColorAt packs col into dst according to format, rescaling each
// channel from the 16-bit Color range to the format's own channel maximums.
// Rescaling is integer division, the same approach PixelFormatConverter
// uses elsewhere in this package, and stays within one unit per channel of
// the exact value.
func writeColorAt(dst []byte, col Color, format *PixelFormat) {
	var raw uint32
	if format.TrueColor {
		r := uint32(col.R) * uint32(format.RedMax) / 65535
		g := uint32(col.G) * uint32(format.GreenMax) / 65535
		b := uint32(col.B) * uint32(format.BlueMax) / 65535
		raw = (r << format.RedShift) | (g << format.GreenShift) | (b << format.BlueShift)
	} else {
		// Indexed destination framebuffers store the nearest available
		// palette index. Callers that need an exact indexed round-trip
		// should resolve against their own ColorMap before calling SetPixel.
		raw = uint32(col.R) >> 8
	}

	switch format.BPP {
	case 8:
		dst[0] = uint8(raw) // #nosec G115 - masked by BPP=8 path
	case 16:
		if format.BigEndian {
			binary.BigEndian.PutUint16(dst, uint16(raw)) // #nosec G115 - masked to 16 bits by format
		} else {
			binary.LittleEndian.PutUint16(dst, uint16(raw)) // #nosec G115 - masked to 16 bits by format
		}
	case 32:
		if format.BigEndian {
			binary.BigEndian.PutUint32(dst, raw)
		} else {
			binary.LittleEndian.PutUint32(dst, raw)
		}
	}
}

// RenderTarget is the abstraction a caller supplies to receive decoded
// pixel data. Applications that own a display surface implement
// RenderTarget themselves; DefaultRenderTarget backs it with an in-process
// Framebuffer and is what ClientConfig uses when none is supplied.
type RenderTarget interface {
	// GrabFramebufferReference returns a Framebuffer reference sized to
	// width x height in the given pixel format, resizing or reformatting
	// any framebuffer it already owns as needed. trackChanges signals that
	// the caller expects this reference to survive repeated resizes across
	// a DesktopSize/ExtendedDesktopSize renegotiation rather than be
	// recreated from scratch.
	GrabFramebufferReference(width, height uint16, format PixelFormat, trackChanges bool) (*Framebuffer, error)
}

// DefaultRenderTarget is the RenderTarget used when a ClientConfig does not
// supply one: a single in-process Framebuffer, resized and reformatted in
// place as the connection's framebuffer size or pixel format changes.
type DefaultRenderTarget struct {
	mu sync.Mutex
	fb *Framebuffer
}

// NewDefaultRenderTarget creates an empty DefaultRenderTarget.
func NewDefaultRenderTarget() *DefaultRenderTarget {
	return &DefaultRenderTarget{}
}

// GrabFramebufferReference implements RenderTarget.
func (t *DefaultRenderTarget) GrabFramebufferReference(width, height uint16, format PixelFormat, _ bool) (*Framebuffer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.fb == nil {
		t.fb = NewFramebuffer(width, height, format)
		return t.fb, nil
	}

	w, h := t.fb.Size()
	if w != width || h != height {
		t.fb.Resize(width, height)
	}
	if t.fb.Format() != format {
		t.fb.SetPixelFormat(format)
	}

	return t.fb, nil
}
