// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// CoRREEncoding represents the CoRRE (Compact RRE) encoding: RRE with
// subrectangle coordinates and dimensions packed into single bytes instead
// of uint16s, valid only for rectangles no larger than 255x255 pixels.
type CoRREEncoding struct {
	BackgroundColor Color
	Subrectangles   []CoRRESubrectangle
}

// CoRRESubrectangle is a single solid-color subrectangle within a CoRRE
// rectangle. X, Y, Width, and Height are each a single byte, relative to
// the parent rectangle's top-left corner.
type CoRRESubrectangle struct {
	Color  Color
	X      uint8
	Y      uint8
	Width  uint8
	Height uint8
}

// Type returns the encoding type identifier for CoRRE encoding.
func (*CoRREEncoding) Type() int32 {
	return 4
}

// Read decodes CoRRE encoding data from the server.
func (*CoRREEncoding) Read(c *ClientConn, rect *Rectangle, r io.Reader) (Encoding, error) {
	validator := newInputValidator()

	if rect.Width > 255 || rect.Height > 255 {
		return nil, encodingError("CoRREEncoding.Read", "CoRRE rectangle exceeds 255x255 pixels", nil)
	}

	if c.FrameBufferWidth > 0 && c.FrameBufferHeight > 0 {
		if err := validator.ValidateRectangle(rect.X, rect.Y, rect.Width, rect.Height,
			c.FrameBufferWidth, c.FrameBufferHeight); err != nil {
			return nil, encodingError("CoRREEncoding.Read", "invalid rectangle dimensions", err)
		}
	}

	var numSubrects uint32
	if err := binary.Read(r, binary.BigEndian, &numSubrects); err != nil {
		return nil, encodingError("CoRREEncoding.Read", "failed to read number of subrectangles", err)
	}

	const maxSubrects = 65536
	if numSubrects > maxSubrects {
		return nil, encodingError("CoRREEncoding.Read",
			fmt.Sprintf("too many subrectangles: %d (max %d)", numSubrects, maxSubrects), nil)
	}

	backgroundColor, err := readPixelColor(r, c.PixelFormat, c.ColorMap)
	if err != nil {
		return nil, encodingError("CoRREEncoding.Read", "failed to read background color", err)
	}

	subrects := make([]CoRRESubrectangle, numSubrects)
	for i := uint32(0); i < numSubrects; i++ {
		color, err := readPixelColor(r, c.PixelFormat, c.ColorMap)
		if err != nil {
			return nil, encodingError("CoRREEncoding.Read", "failed to read subrectangle color", err)
		}

		var geometry [4]uint8
		if _, err := io.ReadFull(r, geometry[:]); err != nil {
			return nil, encodingError("CoRREEncoding.Read", "failed to read subrectangle geometry", err)
		}

		subrect := CoRRESubrectangle{
			Color:  color,
			X:      geometry[0],
			Y:      geometry[1],
			Width:  geometry[2],
			Height: geometry[3],
		}

		if err := validator.ValidateRectangle(uint16(subrect.X), uint16(subrect.Y),
			uint16(subrect.Width), uint16(subrect.Height), rect.Width, rect.Height); err != nil {
			return nil, encodingError("CoRREEncoding.Read", "invalid subrectangle bounds", err)
		}

		subrects[i] = subrect
	}

	if c.Framebuffer != nil {
		c.Framebuffer.GrabCursor(*rect).SetPixelsSolid(backgroundColor, int(rect.Width)*int(rect.Height))
		for _, subrect := range subrects {
			subRect := Rectangle{
				X:      rect.X + uint16(subrect.X),
				Y:      rect.Y + uint16(subrect.Y),
				Width:  uint16(subrect.Width),
				Height: uint16(subrect.Height),
			}
			c.Framebuffer.GrabCursor(subRect).SetPixelsSolid(subrect.Color, int(subrect.Width)*int(subrect.Height))
		}
	}

	return &CoRREEncoding{
		BackgroundColor: backgroundColor,
		Subrectangles:   subrects,
	}, nil
}
