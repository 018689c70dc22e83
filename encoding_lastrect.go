// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"io"
)

// LastRectPseudoEncoding represents the LastRect pseudo-encoding. Servers
// that don't know the rectangle count up front advertise a sentinel value
// for the FramebufferUpdate's number-of-rectangles field and terminate the
// stream with a rectangle carrying this encoding instead.
type LastRectPseudoEncoding struct{}

// Type returns the encoding type identifier for the LastRect pseudo-encoding.
func (*LastRectPseudoEncoding) Type() int32 {
	return -224
}

// IsPseudo returns true indicating this is a pseudo-encoding.
func (*LastRectPseudoEncoding) IsPseudo() bool {
	return true
}

// Read consumes no payload; LastRect carries no data beyond the rectangle
// header that was already read by the caller.
func (*LastRectPseudoEncoding) Read(_ *ClientConn, _ *Rectangle, _ io.Reader) (Encoding, error) {
	return &LastRectPseudoEncoding{}, nil
}

// Handle is a no-op; the rectangle loop in FramebufferUpdateMessage.Read
// recognizes this encoding directly and stops reading further rectangles.
func (*LastRectPseudoEncoding) Handle(_ *ClientConn, _ *Rectangle) error {
	return nil
}
