// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-superkey.
//
// go-superkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package aead

import (
	"bytes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-superkey/pkg/keystore"
)

func newHandle(t *testing.T, fill byte) keystore.KeyHandle {
	t.Helper()
	h, err := keystore.NewEnclaveHandle("test-key", bytes.Repeat([]byte{fill}, 32))
	require.NoError(t, err)
	return h
}

type panicHandle struct{}

func (panicHandle) Alias() string { return "panic" }

func (panicHandle) NewAEAD(int) (cipher.AEAD, error) { return panicAEAD{}, nil }

type panicAEAD struct{}

func (panicAEAD) NonceSize() int { return IVSize }
func (panicAEAD) Overhead() int  { return 16 }
func (panicAEAD) Seal(_, _, _, _ []byte) []byte {
	panic("token removed")
}
func (panicAEAD) Open(_, _, _, _ []byte) ([]byte, error) {
	panic("token removed")
}

func TestGCM_RoundTrip(t *testing.T) {
	g := NewGCM()
	key := newHandle(t, 0x42)
	iv := bytes.Repeat([]byte{0x01}, IVSize)

	for _, pt := range []string{"", "hunter2", "nul\x00inside", "日本語のパスワード"} {
		ct, err := g.Encrypt(key, iv, TagBits, []byte(pt))
		require.NoError(t, err)
		assert.Len(t, ct, len(pt)+TagBits/8)

		got, err := g.Decrypt(key, iv, TagBits, ct)
		require.NoError(t, err)
		assert.Equal(t, pt, string(got))
	}
}

func TestGCM_Deterministic(t *testing.T) {
	g := NewGCM()
	key := newHandle(t, 0x42)
	iv := make([]byte, IVSize)

	a, err := g.Encrypt(key, iv, TagBits, []byte("same"))
	require.NoError(t, err)
	b, err := g.Encrypt(key, iv, TagBits, []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGCM_CipherInitErrors(t *testing.T) {
	g := NewGCM()
	key := newHandle(t, 0x42)

	tests := []struct {
		name    string
		key     keystore.KeyHandle
		iv      []byte
		tagBits int
	}{
		{"nil key", nil, make([]byte, IVSize), TagBits},
		{"short iv", key, make([]byte, 8), TagBits},
		{"long iv", key, make([]byte, 16), TagBits},
		{"96 bit tag", key, make([]byte, IVSize), 96},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.Encrypt(tt.key, tt.iv, tt.tagBits, []byte("x"))
			assert.ErrorIs(t, err, ErrCipherInit)
			_, err = g.Decrypt(tt.key, tt.iv, tt.tagBits, make([]byte, 32))
			assert.ErrorIs(t, err, ErrCipherInit)
		})
	}
}

func TestGCM_AuthenticationFailures(t *testing.T) {
	g := NewGCM()
	key := newHandle(t, 0x42)
	iv := make([]byte, IVSize)

	ct, err := g.Encrypt(key, iv, TagBits, []byte("credential"))
	require.NoError(t, err)

	t.Run("tampered", func(t *testing.T) {
		bad := append([]byte(nil), ct...)
		bad[0] ^= 0xff
		_, err := g.Decrypt(key, iv, TagBits, bad)
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := g.Decrypt(newHandle(t, 0x24), iv, TagBits, ct)
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("wrong iv", func(t *testing.T) {
		other := bytes.Repeat([]byte{0x09}, IVSize)
		_, err := g.Decrypt(key, other, TagBits, ct)
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("truncated", func(t *testing.T) {
		_, err := g.Decrypt(key, iv, TagBits, ct[:4])
		assert.ErrorIs(t, err, ErrAuthentication)
	})
}

func TestGCM_RecoversFromPanics(t *testing.T) {
	g := NewGCM()
	iv := make([]byte, IVSize)

	_, err := g.Encrypt(panicHandle{}, iv, TagBits, []byte("x"))
	assert.ErrorIs(t, err, ErrCipherInit)

	_, err = g.Decrypt(panicHandle{}, iv, TagBits, make([]byte, 32))
	assert.ErrorIs(t, err, ErrAuthentication)
}
