// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1" // #nosec G505 - SHA-1 is the RA2 (non-"ne") variant's session-key hash, required for protocol compatibility
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"hash"
	"io"
	"math/big"
	"net"
	"time"
)

// RA2/RA2ne security type identifiers, as used by TightVNC-derived servers.
// RA2 (5/129) derives session keys with SHA-1; RA2ne (6/130) - the "no
// encryption of the RSA modulus length prefix" variant now generally
// preferred - derives them with SHA-256. 129/130 are the "Unix login style"
// siblings that additionally prompt for a username.
const (
	SecurityTypeRA2        uint8 = 5
	SecurityTypeRA2ne      uint8 = 6
	SecurityTypeRA2Unix    uint8 = 129
	SecurityTypeRA2neUnix  uint8 = 130
	ra2MinKeyLengthInBits        = 1024
	ra2AESKeySize                = 16
)

// RA2Credentials supplies the username/password pair the RA2 "Unix login
// style" variants (129, 130) prompt for after the key exchange completes.
// Plain RA2/RA2ne (5, 6) only ever send a password.
type RA2Credentials struct {
	Username string
	Password string
}

// RA2CredentialProvider is called during the RA2 handshake to obtain
// credentials once the encrypted channel is established. It is invoked
// after the shared secret has been derived, so the returned password never
// crosses the wire or enters the handshake's log output unencrypted.
type RA2CredentialProvider func(ctx context.Context) (RA2Credentials, error)

// RA2Auth implements the RA2/RA2ne/RA2-Unix/RA2ne-Unix security types:
// client and server exchange ephemeral RSA public keys, derive a shared
// secret from both sides' randoms, then switch to AES-EAX encrypted framing
// for the remainder of the handshake (and, per RFC, the rest of the
// session). It satisfies ClientAuth the same way PasswordAuth (auth.go)
// does, so it plugs into AuthRegistry without any special-casing.
type RA2Auth struct {
	securityType uint8
	credentials  RA2CredentialProvider
	logger       Logger

	// minKeyBits rejects server keys below this strength; zero uses
	// ra2MinKeyLengthInBits.
	minKeyBits int

	transport *ra2Transport
}

// NewRA2Auth creates an RA2Auth for the given variant, obtaining the
// username/password pair (when required) from provider.
func NewRA2Auth(securityType uint8, provider RA2CredentialProvider) *RA2Auth {
	return &RA2Auth{securityType: securityType, credentials: provider}
}

// SecurityType returns the negotiated RA2 variant's identifier.
func (a *RA2Auth) SecurityType() uint8 {
	return a.securityType
}

// String returns a human-readable description of the authentication method.
func (a *RA2Auth) String() string {
	switch a.securityType {
	case SecurityTypeRA2:
		return "RA2"
	case SecurityTypeRA2ne:
		return "RA2ne"
	case SecurityTypeRA2Unix:
		return "RA2-Unix"
	case SecurityTypeRA2neUnix:
		return "RA2ne-Unix"
	default:
		return "RA2-variant"
	}
}

// SetLogger sets the logger used during the handshake.
func (a *RA2Auth) SetLogger(logger Logger) {
	a.logger = logger
}

// Transport returns the AES-EAX encrypted net.Conn wrapper established once
// Handshake completes successfully, so the caller (client.go's
// handshakeWithContext) can substitute it for the plaintext net.Conn used by
// the rest of the session, the same way VeNCryptAuth.TLSConn does for TLS.
func (a *RA2Auth) Transport() net.Conn {
	if a.transport == nil {
		return nil
	}
	return a.transport
}

func (a *RA2Auth) newHash() func() hash.Hash {
	if a.securityType == SecurityTypeRA2 || a.securityType == SecurityTypeRA2Unix {
		return sha1.New
	}
	return sha256.New
}

// Handshake performs the RSA key exchange, derives per-direction AES-EAX
// session keys, and (for the Unix-login variants) sends credentials over
// the now-encrypted channel.
func (a *RA2Auth) Handshake(ctx context.Context, conn net.Conn) error {
	select {
	case <-ctx.Done():
		return timeoutError("RA2Auth.Handshake", "authentication cancelled", ctx.Err())
	default:
	}

	serverKey, err := readRSAPublicKey(conn)
	if err != nil {
		return authenticationError("RA2Auth.Handshake", "failed to read server RSA public key", err)
	}
	minBits := a.minKeyBits
	if minBits == 0 {
		minBits = ra2MinKeyLengthInBits
	}
	if serverKey.N.BitLen() < minBits {
		return authenticationError("RA2Auth.Handshake", "server RSA key too weak", nil)
	}

	clientKey, err := rsa.GenerateKey(rand.Reader, minBits)
	if err != nil {
		return authenticationError("RA2Auth.Handshake", "failed to generate client RSA key", err)
	}
	if err := writeRSAPublicKey(conn, &clientKey.PublicKey); err != nil {
		return authenticationError("RA2Auth.Handshake", "failed to send client RSA public key", err)
	}

	serverRandom := make([]byte, 16)
	if err := readEncryptedRandom(conn, clientKey, serverRandom); err != nil {
		return authenticationError("RA2Auth.Handshake", "failed to read server random", err)
	}

	clientRandom := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, clientRandom); err != nil {
		return authenticationError("RA2Auth.Handshake", "failed to generate client random", err)
	}
	if err := writeEncryptedRandom(conn, serverKey, clientRandom); err != nil {
		return authenticationError("RA2Auth.Handshake", "failed to send client random", err)
	}

	clientToServerKey, serverToClientKey := a.deriveSessionKeys(clientRandom, serverRandom)

	sendAEAD, err := newEAX(clientToServerKey)
	if err != nil {
		return authenticationError("RA2Auth.Handshake", "failed to initialize client->server cipher", err)
	}
	recvAEAD, err := newEAX(serverToClientKey)
	if err != nil {
		return authenticationError("RA2Auth.Handshake", "failed to initialize server->client cipher", err)
	}

	transport := newRA2Transport(conn, sendAEAD, recvAEAD)
	a.transport = transport

	if a.securityType == SecurityTypeRA2Unix || a.securityType == SecurityTypeRA2neUnix {
		if a.credentials == nil {
			return authenticationError("RA2Auth.Handshake", "no credential provider configured for Unix-login RA2 variant", nil)
		}
		creds, err := a.credentials(ctx)
		if err != nil {
			return authenticationError("RA2Auth.Handshake", "failed to obtain RA2 credentials", err)
		}
		if err := transport.writeFrame(append([]byte(creds.Username), 0)); err != nil {
			return authenticationError("RA2Auth.Handshake", "failed to send username", err)
		}
		if err := transport.writeFrame([]byte(creds.Password)); err != nil {
			return authenticationError("RA2Auth.Handshake", "failed to send password", err)
		}
	}

	var ok [1]byte
	if _, err := io.ReadFull(conn, ok[:]); err != nil {
		return authenticationError("RA2Auth.Handshake", "failed to read authentication result", err)
	}
	if ok[0] != 1 {
		return authenticationError("RA2Auth.Handshake", "server rejected RA2 authentication", nil)
	}

	if a.logger != nil {
		a.logger.Info("RA2 authentication completed", Field{Key: "variant", Value: a.String()})
	}

	return nil
}

// deriveSessionKeys computes the two per-direction AES keys from both
// randoms, hashing them in opposite orders so neither party reuses the
// other's send key as its own receive key.
func (a *RA2Auth) deriveSessionKeys(clientRandom, serverRandom []byte) (clientToServer, serverToClient []byte) {
	newHash := a.newHash()

	h1 := newHash()
	h1.Write(clientRandom)
	h1.Write(serverRandom)
	clientToServer = h1.Sum(nil)[:ra2AESKeySize]

	h2 := newHash()
	h2.Write(serverRandom)
	h2.Write(clientRandom)
	serverToClient = h2.Sum(nil)[:ra2AESKeySize]

	return clientToServer, serverToClient
}

// readRSAPublicKey reads a wire-encoded RSA public key: a 4-byte big-endian
// bit length, followed by the big-endian modulus, followed by a 4-byte
// big-endian exponent.
func readRSAPublicKey(r io.Reader) (*rsa.PublicKey, error) {
	var bitLen uint32
	if err := binary.Read(r, binary.BigEndian, &bitLen); err != nil {
		return nil, err
	}
	if bitLen == 0 || bitLen > 16384 {
		return nil, validationError("readRSAPublicKey", "invalid RSA key length", nil)
	}

	modulus := make([]byte, (bitLen+7)/8)
	if _, err := io.ReadFull(r, modulus); err != nil {
		return nil, err
	}

	var exponent uint32
	if err := binary.Read(r, binary.BigEndian, &exponent); err != nil {
		return nil, err
	}

	n := new(big.Int).SetBytes(modulus)

	return &rsa.PublicKey{N: n, E: int(exponent)}, nil
}

// writeRSAPublicKey writes a key in the same wire format readRSAPublicKey expects.
func writeRSAPublicKey(w io.Writer, key *rsa.PublicKey) error {
	modulus := key.N.Bytes()
	if err := binary.Write(w, binary.BigEndian, uint32(len(modulus)*8)); err != nil { // #nosec G115 - RSA key sizes never exceed uint32 bits
		return err
	}
	if _, err := w.Write(modulus); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, uint32(key.E)) // #nosec G115 - RSA public exponent fits in uint32
}

// readEncryptedRandom reads a 4-byte length prefix followed by an
// RSA-OAEP-SHA-256 ciphertext, decrypts it with priv, and copies the
// decrypted random into out.
func readEncryptedRandom(r io.Reader, priv *rsa.PrivateKey, out []byte) error {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return err
	}
	if length == 0 || length > 4096 {
		return validationError("readEncryptedRandom", "invalid ciphertext length", nil)
	}

	ciphertext := make([]byte, length)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return err
	}

	plaintext, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ciphertext, nil)
	if err != nil {
		return err
	}
	if len(plaintext) != len(out) {
		return validationError("readEncryptedRandom", "unexpected random length after decryption", nil)
	}
	copy(out, plaintext)
	return nil
}

// writeEncryptedRandom RSA-OAEP-SHA-256 encrypts random under pub and
// writes it with the 4-byte length prefix readEncryptedRandom expects.
func writeEncryptedRandom(w io.Writer, pub *rsa.PublicKey, random []byte) error {
	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, random, nil)
	if err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(ciphertext))); err != nil { // #nosec G115 - RSA ciphertext length fits in uint32
		return err
	}
	_, err = w.Write(ciphertext)
	return err
}

// ra2Transport wraps a net.Conn with AES-EAX encrypted framing once the RA2
// handshake establishes a shared secret: every frame is
// [2-byte big-endian length][ciphertext][16-byte EAX tag], and each
// direction keeps its own monotonically increasing 64-bit little-endian
// nonce counter so a replayed or reordered frame fails authentication.
type ra2Transport struct {
	conn net.Conn

	sendAEAD cipher.AEAD
	recvAEAD cipher.AEAD

	sendCounter uint64
	recvCounter uint64

	// pending holds decrypted frame bytes not yet consumed by Read, since
	// the rest of the client reads arbitrary byte counts (message headers,
	// fixed-size fields) that rarely line up with frame boundaries.
	pending []byte
}

func newRA2Transport(conn net.Conn, sendAEAD, recvAEAD cipher.AEAD) *ra2Transport {
	return &ra2Transport{conn: conn, sendAEAD: sendAEAD, recvAEAD: recvAEAD}
}

// Read implements net.Conn by satisfying p from any buffered plaintext left
// over from a previous frame before pulling and decrypting the next one.
func (t *ra2Transport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		frame, err := t.readFrame()
		if err != nil {
			return 0, err
		}
		t.pending = frame
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

// Write implements net.Conn by sealing p as a single AES-EAX frame.
func (t *ra2Transport) Write(p []byte) (int, error) {
	if err := t.writeFrame(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (t *ra2Transport) Close() error {
	return t.conn.Close()
}

func (t *ra2Transport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

func (t *ra2Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

func (t *ra2Transport) SetDeadline(deadline time.Time) error {
	return t.conn.SetDeadline(deadline)
}

func (t *ra2Transport) SetReadDeadline(deadline time.Time) error {
	return t.conn.SetReadDeadline(deadline)
}

func (t *ra2Transport) SetWriteDeadline(deadline time.Time) error {
	return t.conn.SetWriteDeadline(deadline)
}

func (t *ra2Transport) nextNonce(counter uint64, size int) []byte {
	nonce := make([]byte, size)
	binary.LittleEndian.PutUint64(nonce, counter)
	return nonce
}

func (t *ra2Transport) writeFrame(plaintext []byte) error {
	nonce := t.nextNonce(t.sendCounter, t.sendAEAD.NonceSize())
	t.sendCounter++

	sealed := t.sendAEAD.Seal(nil, nonce, plaintext, nil)
	if len(sealed) > 0xFFFF {
		return validationError("ra2Transport.writeFrame", "encrypted frame too large", nil)
	}

	var header [2]byte
	binary.BigEndian.PutUint16(header[:], uint16(len(sealed))) // #nosec G115 - bounded by the 0xFFFF check above
	if _, err := t.conn.Write(header[:]); err != nil {
		return err
	}
	_, err := t.conn.Write(sealed)
	return err
}

func (t *ra2Transport) readFrame() ([]byte, error) {
	var header [2]byte
	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(header[:])

	sealed := make([]byte, length)
	if _, err := io.ReadFull(t.conn, sealed); err != nil {
		return nil, err
	}

	nonce := t.nextNonce(t.recvCounter, t.recvAEAD.NonceSize())
	t.recvCounter++

	return t.recvAEAD.Open(nil, nonce, sealed, nil)
}

// constantTimeEqual is a small readability wrapper over subtle.ConstantTimeCompare.
func constantTimeEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
