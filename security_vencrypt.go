// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"io"
	"net"
)

// SecurityTypeVeNCrypt is the security type identifier for VeNCrypt
// (security type 19), which negotiates a TLS upgrade before falling
// through to a wrapped sub-authentication method.
const SecurityTypeVeNCrypt uint8 = 19

// VeNCrypt sub-types this client supports, as assigned by the VeNCrypt
// extension: the X509None/X509VNC/X509Plain family anchors the TLS
// handshake in an X.509 certificate instead of VeNCrypt's original
// anonymous-Diffie-Hellman TLSNone/TLSVNC/TLSPlain family.
const (
	veNCryptSubtypeTLSNone   uint32 = 250
	veNCryptSubtypePlain     uint32 = 256
	veNCryptSubtypeX509None  uint32 = 260
	veNCryptSubtypeX509VNC   uint32 = 261
	veNCryptSubtypeX509Plain uint32 = 262
)

// TLSCertVerify is a caller-supplied hook for validating the server's TLS
// certificate chain during a VeNCrypt X.509 handshake, invoked in place of
// Go's default chain verification (VeNCrypt servers commonly present
// self-signed or pinned certificates that would otherwise fail standard
// verification). Returning an error aborts the handshake.
type TLSCertVerify func(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error

// VeNCryptAuth implements the VeNCrypt security type: it negotiates a TLS
// sub-type with the server, upgrades the connection to TLS, and then runs a
// wrapped ClientAuth (typically PasswordAuth, for the X509Plain/Plain
// sub-types) over the encrypted channel.
type VeNCryptAuth struct {
	// Wrapped is the authentication method run after the TLS upgrade
	// completes. For the X509Plain and Plain sub-types this is expected to
	// be username/password; this client always advertises Plain-family
	// sub-types, so Wrapped must produce a username/password pair.
	Wrapped *PasswordAuth

	// Username accompanies Wrapped.Password for the Plain sub-types, which
	// send a username alongside the password (unlike RFC 6143 VNC-Auth).
	Username string

	// TLSConfig supplies the base tls.Config (root CAs, server name, etc.)
	// used for the upgrade. A nil TLSConfig uses Go's default verification
	// against the system root pool.
	TLSConfig *tls.Config

	// VerifyCert, when set, replaces standard certificate chain validation
	// (see TLSCertVerify) and implies InsecureSkipVerify on the derived
	// tls.Config so Go does not perform its own verification redundantly.
	VerifyCert TLSCertVerify

	logger Logger

	tlsConn *tls.Conn
}

// NewVeNCryptAuth creates a VeNCryptAuth that will authenticate as
// username/password once the TLS upgrade completes.
func NewVeNCryptAuth(username, password string) *VeNCryptAuth {
	return &VeNCryptAuth{
		Wrapped:  NewPasswordAuth(password),
		Username: username,
	}
}

// SecurityType returns SecurityTypeVeNCrypt.
func (v *VeNCryptAuth) SecurityType() uint8 {
	return SecurityTypeVeNCrypt
}

// String returns a human-readable description of the authentication method.
func (v *VeNCryptAuth) String() string {
	return "VeNCrypt"
}

// SetLogger sets the logger used during the handshake.
func (v *VeNCryptAuth) SetLogger(logger Logger) {
	v.logger = logger
}

// TLSConn returns the established TLS connection once Handshake has
// completed successfully, so the caller (client.go's handshakeWithContext)
// can substitute it for the plaintext net.Conn used by the rest of the
// session.
func (v *VeNCryptAuth) TLSConn() *tls.Conn {
	return v.tlsConn
}

// Handshake negotiates the VeNCrypt version, selects a sub-type, performs
// the TLS upgrade, and runs the wrapped password authentication over the
// encrypted channel.
func (v *VeNCryptAuth) Handshake(ctx context.Context, conn net.Conn) error {
	select {
	case <-ctx.Done():
		return timeoutError("VeNCryptAuth.Handshake", "authentication cancelled", ctx.Err())
	default:
	}

	var serverVersion [2]byte
	if _, err := io.ReadFull(conn, serverVersion[:]); err != nil {
		return authenticationError("VeNCryptAuth.Handshake", "failed to read VeNCrypt server version", err)
	}

	clientVersion := [2]byte{0, 2}
	if _, err := conn.Write(clientVersion[:]); err != nil {
		return authenticationError("VeNCryptAuth.Handshake", "failed to send VeNCrypt client version", err)
	}

	var ack [1]byte
	if _, err := io.ReadFull(conn, ack[:]); err != nil {
		return authenticationError("VeNCryptAuth.Handshake", "failed to read VeNCrypt version ack", err)
	}
	if ack[0] != 0 {
		return authenticationError("VeNCryptAuth.Handshake", "server rejected VeNCrypt version 0.2", nil)
	}

	var numTypes uint8
	if err := binary.Read(conn, binary.BigEndian, &numTypes); err != nil {
		return authenticationError("VeNCryptAuth.Handshake", "failed to read VeNCrypt sub-type count", err)
	}
	if numTypes == 0 {
		return authenticationError("VeNCryptAuth.Handshake", "server offered no VeNCrypt sub-types", nil)
	}

	offered := make([]uint32, numTypes)
	for i := range offered {
		if err := binary.Read(conn, binary.BigEndian, &offered[i]); err != nil {
			return authenticationError("VeNCryptAuth.Handshake", "failed to read VeNCrypt sub-type", err)
		}
	}

	chosen := uint32(0)
	preferred := []uint32{veNCryptSubtypeX509Plain, veNCryptSubtypeX509VNC, veNCryptSubtypeX509None, veNCryptSubtypePlain}
	for _, candidate := range preferred {
		for _, offer := range offered {
			if candidate == offer {
				chosen = candidate
				break
			}
		}
		if chosen != 0 {
			break
		}
	}
	if chosen == 0 {
		return unsupportedError("VeNCryptAuth.Handshake", "no supported VeNCrypt sub-type offered", nil)
	}

	if err := binary.Write(conn, binary.BigEndian, chosen); err != nil {
		return authenticationError("VeNCryptAuth.Handshake", "failed to send VeNCrypt sub-type choice", err)
	}

	tlsConfig := v.TLSConfig.Clone()
	if tlsConfig == nil {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12} // #nosec G402 - MinVersion explicit, InsecureSkipVerify gated below
	}
	if v.VerifyCert != nil {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 - custom verification supplied via VerifyCallback below
		tlsConfig.VerifyPeerCertificate = v.VerifyCert
	}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return authenticationError("VeNCryptAuth.Handshake", "TLS handshake failed", err)
	}
	v.tlsConn = tlsConn

	if v.logger != nil {
		v.logger.Info("VeNCrypt TLS upgrade completed",
			Field{Key: "sub_type", Value: chosen},
			Field{Key: "cipher_suite", Value: tlsConn.ConnectionState().CipherSuite})
	}

	switch chosen {
	case veNCryptSubtypeX509None, veNCryptSubtypeTLSNone:
		return nil
	case veNCryptSubtypeX509VNC:
		v.Wrapped.SetLogger(v.logger)
		return v.Wrapped.Handshake(ctx, tlsConn)
	case veNCryptSubtypeX509Plain, veNCryptSubtypePlain:
		return v.sendPlainCredentials(tlsConn)
	default:
		return unsupportedError("VeNCryptAuth.Handshake", "unhandled VeNCrypt sub-type", nil)
	}
}

// sendPlainCredentials implements VeNCrypt's Plain/X509Plain sub-type wire
// format: 4-byte username length, 4-byte password length, then the raw
// username and password bytes, all over the now-encrypted conn.
func (v *VeNCryptAuth) sendPlainCredentials(conn net.Conn) error {
	username := []byte(v.Username)
	password := []byte(v.Wrapped.Password)
	defer v.Wrapped.ClearPassword()

	if err := binary.Write(conn, binary.BigEndian, uint32(len(username))); err != nil { // #nosec G115 - username length bounded in practice
		return authenticationError("VeNCryptAuth.sendPlainCredentials", "failed to send username length", err)
	}
	if err := binary.Write(conn, binary.BigEndian, uint32(len(password))); err != nil { // #nosec G115 - password length bounded in practice
		return authenticationError("VeNCryptAuth.sendPlainCredentials", "failed to send password length", err)
	}
	if _, err := conn.Write(username); err != nil {
		return authenticationError("VeNCryptAuth.sendPlainCredentials", "failed to send username", err)
	}
	if _, err := conn.Write(password); err != nil {
		return authenticationError("VeNCryptAuth.sendPlainCredentials", "failed to send password", err)
	}

	var ok [1]byte
	if _, err := io.ReadFull(conn, ok[:]); err != nil {
		return authenticationError("VeNCryptAuth.sendPlainCredentials", "failed to read authentication result", err)
	}
	if ok[0] != 1 {
		return authenticationError("VeNCryptAuth.sendPlainCredentials", "server rejected VeNCrypt Plain credentials", nil)
	}
	return nil
}
