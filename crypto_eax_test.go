// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEAX_SealOpenRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}

	aead, err := newEAX(key)
	require.NoError(t, err)

	nonce := make([]byte, aead.NonceSize())
	for i := range nonce {
		nonce[i] = byte(0xA0 + i)
	}

	plaintext := []byte("framebuffer update request payload")
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	require.NotEqual(t, plaintext, sealed)
	require.Len(t, sealed, len(plaintext)+aead.Overhead())

	opened, err := aead.Open(nil, nonce, sealed, nil)
	require.NoError(t, err)
	require.Equal(t, plaintext, opened)
}

func TestEAX_IndependentPerDirectionCounters(t *testing.T) {
	clientToServerKey := make([]byte, 16)
	serverToClientKey := make([]byte, 16)
	for i := range clientToServerKey {
		clientToServerKey[i] = byte(i)
		serverToClientKey[i] = byte(0xFF - i)
	}

	send, err := newEAX(clientToServerKey)
	require.NoError(t, err)
	recv, err := newEAX(serverToClientKey)
	require.NoError(t, err)

	sendTransport := newRA2Transport(nil, send, recv)
	recvTransport := newRA2Transport(nil, recv, send)

	nonce0 := sendTransport.nextNonce(0, send.NonceSize())
	nonce1 := sendTransport.nextNonce(1, send.NonceSize())
	require.NotEqual(t, nonce0, nonce1)

	sealed0 := send.Seal(nil, nonce0, []byte("first"), nil)
	sealed1 := send.Seal(nil, nonce1, []byte("second"), nil)

	opened0, err := recv.Open(nil, nonce0, sealed0, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), opened0)

	opened1, err := recv.Open(nil, nonce1, sealed1, nil)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), opened1)

	_ = recvTransport
}

func TestEAX_TamperedTagFailsAuthentication(t *testing.T) {
	key := make([]byte, 16)
	aead, err := newEAX(key)
	require.NoError(t, err)

	nonce := make([]byte, aead.NonceSize())
	sealed := aead.Seal(nil, nonce, []byte("pointer event"), nil)

	tampered := make([]byte, len(sealed))
	copy(tampered, sealed)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = aead.Open(nil, nonce, tampered, nil)
	require.Error(t, err)
}

func TestEAX_TamperedCiphertextFailsAuthentication(t *testing.T) {
	key := make([]byte, 16)
	aead, err := newEAX(key)
	require.NoError(t, err)

	nonce := make([]byte, aead.NonceSize())
	sealed := aead.Seal(nil, nonce, []byte("key event payload"), nil)

	tampered := make([]byte, len(sealed))
	copy(tampered, sealed)
	tampered[0] ^= 0x01

	_, err = aead.Open(nil, nonce, tampered, nil)
	require.Error(t, err)
}
