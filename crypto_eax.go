// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
)

// eaxTagSize is the authentication tag size RA2/RA2ne uses for AES-EAX, per
// the TightVNC/VeNCrypt RA2 extension: a full 16-byte CMAC tag, untruncated.
const eaxTagSize = 16

// eaxAEAD implements the EAX mode of operation (Bellare, Rogaway, Wagner)
// over an AES block cipher, satisfying cipher.AEAD. RA2/RA2ne (security_ra2.go)
// is the only VNC security type that needs authenticated encryption, and EAX
// has no implementation in this module's dependency set or anywhere in the
// wider Go ecosystem's commonly vendored crypto libraries, so it is built
// here directly on crypto/aes and crypto/cipher, composing the CMAC
// (crypto_cmac.go) this package already implements.
type eaxAEAD struct {
	block   cipher.Block
	mac     *cmac
	tagSize int
}

// newEAX constructs an AEAD over key using AES-EAX with a full-size tag.
func newEAX(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, encodingError("newEAX", "failed to create AES cipher", err)
	}
	return &eaxAEAD{block: block, mac: newCMAC(block), tagSize: eaxTagSize}, nil
}

func (e *eaxAEAD) NonceSize() int { return e.block.BlockSize() }

func (e *eaxAEAD) Overhead() int { return e.tagSize }

// omac computes OMAC_K^t(msg), EAX's indexed CMAC variant: CMAC over a
// single zero block with its last byte set to t, concatenated with msg.
func (e *eaxAEAD) omac(t byte, msg []byte) []byte {
	prefix := make([]byte, e.block.BlockSize())
	prefix[len(prefix)-1] = t
	buf := make([]byte, 0, len(prefix)+len(msg))
	buf = append(buf, prefix...)
	buf = append(buf, msg...)
	return e.mac.sum(buf)
}

// ctrXOR runs AES-CTR keyed the same as e.block, seeded with iv, over src.
func (e *eaxAEAD) ctrXOR(iv, src []byte) []byte {
	stream := cipher.NewCTR(e.block, iv)
	dst := make([]byte, len(src))
	stream.XORKeyStream(dst, src)
	return dst
}

// Seal implements cipher.AEAD. nonce must be NonceSize() bytes.
func (e *eaxAEAD) Seal(dst, nonce, plaintext, additionalData []byte) []byte {
	if len(nonce) != e.NonceSize() {
		panic("vnc: EAX nonce must be block-size bytes")
	}

	n := e.omac(0, nonce)
	h := e.omac(1, additionalData)
	ciphertext := e.ctrXOR(n, plaintext)
	c := e.omac(2, ciphertext)

	tag := make([]byte, e.tagSize)
	for i := 0; i < e.tagSize; i++ {
		tag[i] = n[i] ^ h[i] ^ c[i]
	}

	ret, out := sliceForAppend(dst, len(ciphertext)+e.tagSize)
	copy(out, ciphertext)
	copy(out[len(ciphertext):], tag)
	return ret
}

// Open implements cipher.AEAD.
func (e *eaxAEAD) Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	if len(nonce) != e.NonceSize() {
		return nil, authenticationError("eaxAEAD.Open", "invalid nonce size", nil)
	}
	if len(ciphertext) < e.tagSize {
		return nil, authenticationError("eaxAEAD.Open", "ciphertext shorter than tag", nil)
	}

	body := ciphertext[:len(ciphertext)-e.tagSize]
	gotTag := ciphertext[len(ciphertext)-e.tagSize:]

	n := e.omac(0, nonce)
	h := e.omac(1, additionalData)
	c := e.omac(2, body)

	wantTag := make([]byte, e.tagSize)
	for i := 0; i < e.tagSize; i++ {
		wantTag[i] = n[i] ^ h[i] ^ c[i]
	}

	if subtle.ConstantTimeCompare(gotTag, wantTag) != 1 {
		return nil, authenticationError("eaxAEAD.Open", "message authentication failed", nil)
	}

	plaintext := e.ctrXOR(n, body)
	ret, out := sliceForAppend(dst, len(plaintext))
	copy(out, plaintext)
	return ret, nil
}

// sliceForAppend extends dst by n bytes, mirroring the helper used
// throughout the standard library's AEAD implementations.
func sliceForAppend(dst []byte, n int) (head, tail []byte) {
	total := len(dst) + n
	if cap(dst) >= total {
		head = dst[:total]
	} else {
		head = make([]byte, total)
		copy(head, dst)
	}
	tail = head[len(dst):]
	return
}
