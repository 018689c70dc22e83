// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// persistentZlibReader decompresses a single zlib stream that a server
// keeps open across many rectangles and framebuffer updates: ZLib, ZRLE,
// and each of Tight's four zlib channels never restart their compressor,
// so the client must feed each rectangle's compressed bytes into the same
// ongoing stream rather than treating every rectangle as its own
// self-contained zlib payload.
type persistentZlibReader struct {
	buf *bytes.Buffer
	zr  io.ReadCloser
}

func newPersistentZlibReader() *persistentZlibReader {
	return &persistentZlibReader{buf: new(bytes.Buffer)}
}

// decompress appends compressed to the stream's input and reads exactly
// outLen decompressed bytes from it.
func (p *persistentZlibReader) decompress(compressed []byte, outLen int) ([]byte, error) {
	p.buf.Write(compressed)

	if p.zr == nil {
		zr, err := zlib.NewReader(p.buf)
		if err != nil {
			return nil, err
		}
		p.zr = zr
	}

	out := make([]byte, outLen)
	if _, err := io.ReadFull(p.zr, out); err != nil {
		return nil, err
	}
	return out, nil
}

// reader returns the stream's underlying decompressor for callers that
// cannot predict the decompressed length up front (ZRLE's tile stream is
// self-delimiting rather than a fixed-size pixel array), lazily opening it
// against the stream's input buffer on first use.
func (p *persistentZlibReader) reader() (io.Reader, error) {
	if p.zr == nil {
		zr, err := zlib.NewReader(p.buf)
		if err != nil {
			return nil, err
		}
		p.zr = zr
	}
	return p.zr, nil
}

// compressionStream indexes into ClientConn.compressionStreams. ZLib and
// ZRLE each use their own dedicated channel; Tight gets four channels of
// its own, selected by the stream-id bits in its compression-control byte.
const (
	streamZLib   = 0
	streamZRLE   = 1
	streamTight0 = 2
	streamTight1 = 3
	streamTight2 = 4
	streamTight3 = 5
)

// getCompressionStream returns (lazily creating) the persistent zlib
// decompressor for the given channel index.
func getCompressionStream(c *ClientConn, index int) *persistentZlibReader {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.compressionStreams[index] == nil {
		c.compressionStreams[index] = newPersistentZlibReader()
	}
	return c.compressionStreams[index]
}

// resetCompressionStream discards a channel's decompressor state, used when
// Tight's compression-control byte signals that the server restarted one
// of its zlib streams.
func resetCompressionStream(c *ClientConn, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compressionStreams[index] = newPersistentZlibReader()
}
