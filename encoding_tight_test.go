// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"compress/zlib"
	"testing"
)

func tightPixelFormat() PixelFormat {
	return PixelFormat{
		BPP: 32, Depth: 24, BigEndian: false, TrueColor: true,
		RedMax: 255, GreenMax: 255, BlueMax: 255,
		RedShift: 16, GreenShift: 8, BlueShift: 0,
	}
}

func TestEncoding_Tight_Fill(t *testing.T) {
	pf := tightPixelFormat()
	mockConn := &ClientConn{PixelFormat: pf, logger: &NoOpLogger{}}
	rect := &Rectangle{X: 0, Y: 0, Width: 8, Height: 8}

	var wire bytes.Buffer
	wire.WriteByte(tightCompressionKindFill << 4)
	writeZRLECPixel(&wire, Color{R: 11, G: 22, B: 33})

	enc := &TightEncoding{}
	if enc.Type() != 7 {
		t.Fatalf("expected type 7, got %d", enc.Type())
	}

	result, err := enc.Read(mockConn, rect, &wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tight, ok := result.(*TightEncoding)
	if !ok {
		t.Fatalf("expected *TightEncoding, got %T", result)
	}
	if len(tight.Colors) != 64 {
		t.Fatalf("expected 64 colors, got %d", len(tight.Colors))
	}
	for _, c := range tight.Colors {
		if c.R != 11 || c.G != 22 || c.B != 33 {
			t.Fatalf("expected uniform fill color, got %+v", c)
		}
	}
}

func TestEncoding_Tight_BasicCopyUncompressed(t *testing.T) {
	pf := tightPixelFormat()
	mockConn := &ClientConn{PixelFormat: pf, logger: &NoOpLogger{}}
	// 2x1 pixels at 3 bytes each = 6 bytes, below tightMinToCompress (12),
	// so the data is sent raw with no zlib at all.
	rect := &Rectangle{X: 0, Y: 0, Width: 2, Height: 1}

	var wire bytes.Buffer
	wire.WriteByte(0x00) // basic compression, stream 0, no filter flag
	writeZRLECPixel(&wire, Color{R: 1, G: 2, B: 3})
	writeZRLECPixel(&wire, Color{R: 4, G: 5, B: 6})

	enc := &TightEncoding{}
	result, err := enc.Read(mockConn, rect, &wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tight := result.(*TightEncoding)
	if len(tight.Colors) != 2 {
		t.Fatalf("expected 2 colors, got %d", len(tight.Colors))
	}
	if tight.Colors[0].R != 1 || tight.Colors[1].R != 4 {
		t.Errorf("unexpected decoded pixels: %+v", tight.Colors)
	}
}

func TestEncoding_Tight_BasicCopyCompressed(t *testing.T) {
	pf := tightPixelFormat()
	mockConn := &ClientConn{PixelFormat: pf, logger: &NoOpLogger{}}
	// 8x1 pixels at 3 bytes each = 24 bytes, over the compression threshold.
	rect := &Rectangle{X: 0, Y: 0, Width: 8, Height: 1}

	var raw bytes.Buffer
	for i := 0; i < 8; i++ {
		writeZRLECPixel(&raw, Color{R: uint16(i), G: uint16(i), B: uint16(i)})
	}

	var compressed bytes.Buffer
	zw := zlib.NewWriter(&compressed)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		t.Fatalf("failed to compress fixture: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("failed to close zlib writer: %v", err)
	}

	var wire bytes.Buffer
	wire.WriteByte(0x00) // basic compression, stream 0
	writeTightLength(&wire, compressed.Len())
	wire.Write(compressed.Bytes())

	enc := &TightEncoding{}
	result, err := enc.Read(mockConn, rect, &wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tight := result.(*TightEncoding)
	if len(tight.Colors) != 8 {
		t.Fatalf("expected 8 colors, got %d", len(tight.Colors))
	}
	if tight.Colors[3].R != 3 {
		t.Errorf("unexpected decoded pixel: %+v", tight.Colors[3])
	}
}

func TestEncoding_Tight_Palette(t *testing.T) {
	pf := tightPixelFormat()
	mockConn := &ClientConn{PixelFormat: pf, logger: &NoOpLogger{}}
	rect := &Rectangle{X: 0, Y: 0, Width: 4, Height: 1}

	var wire bytes.Buffer
	wire.WriteByte(0x40) // basic compression, stream 0, filter flag set
	wire.WriteByte(tightFilterPalette)
	wire.WriteByte(1) // paletteCountMinusOne=1 -> 2 colors
	writeZRLECPixel(&wire, Color{R: 100, G: 100, B: 100})
	writeZRLECPixel(&wire, Color{R: 200, G: 200, B: 200})
	// Indices 0,1,1,0 packed MSB-first into a single 1-bit-per-pixel row
	// byte. The packed row is only 1 byte, under Tight's 12-byte
	// compression threshold, so it travels uncompressed with no length
	// prefix at all.
	wire.WriteByte(0x60)

	enc := &TightEncoding{}
	result, err := enc.Read(mockConn, rect, &wire)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tight := result.(*TightEncoding)
	if len(tight.Colors) != 4 {
		t.Fatalf("expected 4 colors, got %d", len(tight.Colors))
	}
	expectedR := []uint16{100, 200, 200, 100}
	for i, want := range expectedR {
		if tight.Colors[i].R != want {
			t.Errorf("pixel %d: expected R=%d, got %+v", i, want, tight.Colors[i])
		}
	}
}

func TestEncoding_Tight_RejectsReservedCompressionKind(t *testing.T) {
	pf := tightPixelFormat()
	mockConn := &ClientConn{PixelFormat: pf, logger: &NoOpLogger{}}
	rect := &Rectangle{X: 0, Y: 0, Width: 4, Height: 4}

	var wire bytes.Buffer
	wire.WriteByte(0xA0) // reserved compression-control kind

	enc := &TightEncoding{}
	if _, err := enc.Read(mockConn, rect, &wire); err == nil {
		t.Fatal("expected error for reserved compression-control value")
	}
}

// writeTightLength writes Tight's compact length encoding: the first two
// bytes are 7-bit groups with a continuation bit, and a third byte (when
// needed) carries its full 8 bits unmasked, mirroring readTightLength.
func writeTightLength(buf *bytes.Buffer, length int) {
	for i := 0; i < 2; i++ {
		b := byte(length & 0x7F)
		length >>= 7
		if length == 0 {
			buf.WriteByte(b)
			return
		}
		buf.WriteByte(b | 0x80)
	}
	buf.WriteByte(byte(length))
}

func TestReadTightLength_BijectionUpTo22Bits(t *testing.T) {
	samples := []int{
		0, 1, 126, 127, 128, 16383, 16384,
		1 << 15, 1 << 18, 1 << 21, (1 << 21) + 1,
		1<<22 - 2, 1<<22 - 1,
	}
	for _, length := range samples {
		var wire bytes.Buffer
		writeTightLength(&wire, length)
		if n := wire.Len(); n < 1 || n > 3 {
			t.Fatalf("length %d: encoded to %d bytes, want 1-3", length, n)
		}

		got, err := readTightLength(&wire)
		if err != nil {
			t.Fatalf("length %d: readTightLength failed: %v", length, err)
		}
		if got != length {
			t.Errorf("length %d: round-tripped to %d", length, got)
		}
	}
}

func TestReadTightLength_ThirdByteUsesFullEightBits(t *testing.T) {
	// 0xFF, 0xFF, 0xFF decodes to 0x7F | (0x7F<<7) | (0xFF<<14): the third
	// byte must contribute all 8 bits, not just the low 7, to reach 2^22-1.
	wire := bytes.NewBuffer([]byte{0xFF, 0xFF, 0xFF})
	got, err := readTightLength(wire)
	if err != nil {
		t.Fatalf("readTightLength failed: %v", err)
	}
	const want = 1<<22 - 1
	if got != want {
		t.Errorf("expected %d (2^22-1), got %d", want, got)
	}
}
