// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import "testing"

func testPixelFormat32() PixelFormat {
	return PixelFormat{
		BPP: 32, Depth: 24, BigEndian: false, TrueColor: true,
		RedMax: 255, GreenMax: 255, BlueMax: 255,
		RedShift: 16, GreenShift: 8, BlueShift: 0,
	}
}

func TestFramebuffer_GrabCursorBoundedToRectangle(t *testing.T) {
	fb := NewFramebuffer(4, 4, testPixelFormat32())
	cur := fb.GrabCursor(Rectangle{X: 0, Y: 0, Width: 2, Height: 2})

	cur.SetPixels([]Color{{R: 1}, {R: 2}, {R: 3}, {R: 4}})
	if !cur.GetEndReached() {
		t.Fatal("expected cursor to report end reached after filling its rectangle")
	}

	// A fifth write past the granted rectangle must be a no-op, not an
	// out-of-bounds write into the next row.
	cur.SetPixel(Color{R: 99})

	snapshot := fb.Snapshot()
	bpp := 4
	stride := int(fb.width) * bpp
	// (2,0) is just past the 2x2 rectangle on row 0; it must be untouched.
	off := 0*stride + 2*bpp
	if snapshot[off] != 0 || snapshot[off+1] != 0 || snapshot[off+2] != 0 {
		t.Fatalf("expected untouched pixel outside granted rectangle, got %v", snapshot[off:off+3])
	}
}

func TestFramebuffer_SetPixelsSolidWraps(t *testing.T) {
	fb := NewFramebuffer(2, 2, testPixelFormat32())
	cur := fb.GrabCursor(Rectangle{X: 0, Y: 0, Width: 2, Height: 2})
	cur.SetPixelsSolid(Color{R: 7, G: 7, B: 7}, 4)

	if !cur.GetEndReached() {
		t.Fatal("expected cursor exhausted after filling whole rectangle")
	}

	snapshot := fb.Snapshot()
	for i := 0; i < 4; i++ {
		off := i * 4
		if snapshot[off+2] != 7 { // red lives at the high byte for this little-endian format
			t.Fatalf("pixel %d not filled: %v", i, snapshot[off:off+4])
		}
	}
}

func TestFramebuffer_CopyRectOverlapForward(t *testing.T) {
	pf := testPixelFormat32()
	fb := NewFramebuffer(4, 1, pf)
	cur := fb.GrabCursor(Rectangle{X: 0, Y: 0, Width: 4, Height: 1})
	cur.SetPixels([]Color{{R: 1}, {R: 2}, {R: 3}, {R: 4}})

	// Copy [0,3) to [1,4): destination is to the right of source, so rows
	// must be walked in reverse to avoid clobbering source pixels before
	// they're read.
	if err := fb.CopyRect(0, 0, 1, 0, 3, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapshot := fb.Snapshot()
	want := []byte{1, 1, 2, 3} // pixel 0 untouched, pixels 1-3 now hold 1,2,3
	for i, w := range want {
		if snapshot[i*4+2] != w {
			t.Fatalf("pixel %d: expected R=%d, got %d", i, w, snapshot[i*4+2])
		}
	}
}

func TestFramebuffer_CopyRectOverlapBackward(t *testing.T) {
	pf := testPixelFormat32()
	fb := NewFramebuffer(4, 1, pf)
	cur := fb.GrabCursor(Rectangle{X: 0, Y: 0, Width: 4, Height: 1})
	cur.SetPixels([]Color{{R: 1}, {R: 2}, {R: 3}, {R: 4}})

	// Copy [1,4) to [0,3): destination is to the left of source, so rows
	// must be walked forward.
	if err := fb.CopyRect(1, 0, 0, 0, 3, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snapshot := fb.Snapshot()
	want := []byte{2, 3, 4, 4}
	for i, w := range want {
		if snapshot[i*4+2] != w {
			t.Fatalf("pixel %d: expected R=%d, got %d", i, w, snapshot[i*4+2])
		}
	}
}

func TestFramebuffer_CopyRectRejectsOutOfBounds(t *testing.T) {
	fb := NewFramebuffer(2, 2, testPixelFormat32())
	if err := fb.CopyRect(0, 0, 0, 0, 10, 10); err == nil {
		t.Fatal("expected error for out-of-bounds copyrect")
	}
}

func TestFormatsBinaryCompatible(t *testing.T) {
	pf := testPixelFormat32()
	same := pf
	if !FormatsBinaryCompatible(&pf, &same) {
		t.Fatal("expected identical formats to be binary compatible")
	}

	diff := pf
	diff.RedShift, diff.BlueShift = diff.BlueShift, diff.RedShift
	if FormatsBinaryCompatible(&pf, &diff) {
		t.Fatal("expected different channel shifts to not be binary compatible")
	}
}

func TestFramebuffer_ResizeDiscardsContents(t *testing.T) {
	fb := NewFramebuffer(2, 2, testPixelFormat32())
	cur := fb.GrabCursor(Rectangle{X: 0, Y: 0, Width: 2, Height: 2})
	cur.SetPixelsSolid(Color{R: 9}, 4)

	fb.Resize(4, 4)
	w, h := fb.Size()
	if w != 4 || h != 4 {
		t.Fatalf("expected resized dimensions 4x4, got %dx%d", w, h)
	}
	for _, b := range fb.Snapshot() {
		if b != 0 {
			t.Fatal("expected resize to discard prior contents")
		}
	}
}

func TestDefaultRenderTarget_GrabFramebufferReferenceReusesAndResizes(t *testing.T) {
	target := NewDefaultRenderTarget()
	pf := testPixelFormat32()

	fb1, err := target.GrabFramebufferReference(4, 4, pf, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fb2, err := target.GrabFramebufferReference(8, 8, pf, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fb1 != fb2 {
		t.Fatal("expected the same underlying Framebuffer to be reused and resized")
	}
	w, h := fb2.Size()
	if w != 8 || h != 8 {
		t.Fatalf("expected resized dimensions 8x8, got %dx%d", w, h)
	}
}
