// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncoding_CoRRE(t *testing.T) {
	pf := PixelFormat{
		BPP: 32, Depth: 24, BigEndian: false, TrueColor: true,
		RedMax: 255, GreenMax: 255, BlueMax: 255,
		RedShift: 16, GreenShift: 8, BlueShift: 0,
	}

	mockConn := &ClientConn{PixelFormat: pf, logger: &NoOpLogger{}}
	rect := &Rectangle{X: 0, Y: 0, Width: 10, Height: 10}

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(1)) // one subrectangle
	writeTestPixel(&buf, pf, Color{R: 10, G: 20, B: 30}) // background
	writeTestPixel(&buf, pf, Color{R: 200, G: 0, B: 0})  // subrect color
	buf.Write([]byte{2, 2, 4, 4})                        // x, y, width, height

	enc := &CoRREEncoding{}
	if enc.Type() != 4 {
		t.Fatalf("expected type 4, got %d", enc.Type())
	}

	result, err := enc.Read(mockConn, rect, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	corre, ok := result.(*CoRREEncoding)
	if !ok {
		t.Fatalf("expected *CoRREEncoding, got %T", result)
	}
	if len(corre.Subrectangles) != 1 {
		t.Fatalf("expected 1 subrectangle, got %d", len(corre.Subrectangles))
	}
	if corre.Subrectangles[0].Width != 4 || corre.Subrectangles[0].Height != 4 {
		t.Errorf("unexpected subrectangle geometry: %+v", corre.Subrectangles[0])
	}
}

func TestEncoding_CoRRE_RejectsOversizedRectangle(t *testing.T) {
	mockConn := &ClientConn{PixelFormat: PixelFormat{BPP: 32, Depth: 24, TrueColor: true}, logger: &NoOpLogger{}}
	rect := &Rectangle{X: 0, Y: 0, Width: 300, Height: 10}

	enc := &CoRREEncoding{}
	if _, err := enc.Read(mockConn, rect, bytes.NewReader(nil)); err == nil {
		t.Fatal("expected error for rectangle exceeding 255x255")
	}
}

// writeTestPixel writes a single pixel in the given format's byte order,
// mirroring what a server would put on the wire for a true color format.
func writeTestPixel(buf *bytes.Buffer, pf PixelFormat, c Color) {
	raw := (uint32(c.R) << pf.RedShift) | (uint32(c.G) << pf.GreenShift) | (uint32(c.B) << pf.BlueShift)
	bpp := pf.BPP / 8
	data := make([]byte, bpp)
	if pf.BigEndian {
		for i := 0; i < int(bpp); i++ {
			data[i] = byte(raw >> uint((int(bpp)-1-i)*8))
		}
	} else {
		for i := 0; i < int(bpp); i++ {
			data[i] = byte(raw >> uint(i*8))
		}
	}
	buf.Write(data)
}
