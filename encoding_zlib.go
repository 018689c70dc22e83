// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"io"
)

// ZLibEncoding represents the ZLib encoding: raw pixel data for the
// rectangle, deflate-compressed with a single zlib stream kept open for
// the lifetime of the connection.
type ZLibEncoding struct {
	Colors []Color
}

// Type returns the encoding type identifier for ZLib encoding.
func (*ZLibEncoding) Type() int32 {
	return 6
}

// Read decodes ZLib-compressed raw pixel data from the server.
func (*ZLibEncoding) Read(c *ClientConn, rect *Rectangle, r io.Reader) (Encoding, error) {
	var compressedLen uint32
	if err := binary.Read(r, binary.BigEndian, &compressedLen); err != nil {
		return nil, encodingError("ZLibEncoding.Read", "failed to read compressed data length", err)
	}

	const maxCompressedLen = 64 * 1024 * 1024
	if compressedLen > maxCompressedLen {
		return nil, encodingError("ZLibEncoding.Read", "compressed data length too large", nil)
	}

	compressed := make([]byte, compressedLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return nil, encodingError("ZLibEncoding.Read", "failed to read compressed data", err)
	}

	bpp := c.PixelFormat.BytesPerPixel()
	pixelDataLen := int(rect.Width) * int(rect.Height) * bpp

	stream := getCompressionStream(c, streamZLib)
	raw, err := stream.decompress(compressed, pixelDataLen)
	if err != nil {
		return nil, encodingError("ZLibEncoding.Read", "failed to decompress pixel data", err)
	}

	pixelReader := NewPixelReader(c.PixelFormat, c.ColorMap)
	colors := make([]Color, int(rect.Width)*int(rect.Height))
	for i := range colors {
		colors[i] = pixelReader.pixelToColor(pixelReader.bytesToPixel(raw[i*bpp : (i+1)*bpp]))
	}

	if c.Framebuffer != nil {
		c.Framebuffer.GrabCursor(*rect).SetPixels(colors)
	}

	return &ZLibEncoding{Colors: colors}, nil
}
