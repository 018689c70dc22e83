// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"crypto/aes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCMAC_DeterministicOverSameMessage(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i * 3)
	}
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	m := newCMAC(block)
	msg := []byte("RA2 session key derivation input")

	tag1 := m.sum(msg)
	tag2 := m.sum(msg)
	require.Equal(t, tag1, tag2)
	require.Len(t, tag1, block.BlockSize())
}

func TestCMAC_DifferentMessagesDifferentTags(t *testing.T) {
	key := make([]byte, 16)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	m := newCMAC(block)
	require.NotEqual(t, m.sum([]byte("alpha")), m.sum([]byte("beta")))
}

func TestCMAC_HandlesEmptyAndBlockAlignedMessages(t *testing.T) {
	key := make([]byte, 16)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	m := newCMAC(block)

	empty := m.sum(nil)
	require.Len(t, empty, block.BlockSize())

	aligned := m.sum(make([]byte, block.BlockSize()*2))
	require.Len(t, aligned, block.BlockSize())
	require.NotEqual(t, empty, aligned)
}
