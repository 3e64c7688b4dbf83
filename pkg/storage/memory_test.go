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

package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBackend_PutAndGet(t *testing.T) {
	backend := NewMemory()
	defer func() { _ = backend.Close() }()

	require.NoError(t, backend.Put("prefs/iv", []byte("AAAA"), nil))

	result, err := backend.Get("prefs/iv")
	require.NoError(t, err)
	assert.Equal(t, []byte("AAAA"), result)
}

func TestMemoryBackend_GetReturnsCopy(t *testing.T) {
	backend := NewMemory()
	require.NoError(t, backend.Put("k", []byte("value"), nil))

	v, err := backend.Get("k")
	require.NoError(t, err)
	v[0] = 'X'

	again, err := backend.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}

func TestMemoryBackend_NotFound(t *testing.T) {
	backend := NewMemory()

	_, err := backend.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, backend.Delete("missing"), ErrNotFound)

	exists, err := backend.Exists("missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryBackend_EmptyKey(t *testing.T) {
	backend := NewMemory()
	assert.ErrorIs(t, backend.Put("", []byte("x"), nil), ErrInvalidKey)
}

func TestMemoryBackend_ListPrefix(t *testing.T) {
	backend := NewMemory()
	require.NoError(t, backend.Put("prefs/b", nil, nil))
	require.NoError(t, backend.Put("prefs/a", nil, nil))
	require.NoError(t, backend.Put("keys/k.age", nil, nil))

	keys, err := backend.List("prefs/")
	require.NoError(t, err)
	assert.Equal(t, []string{"prefs/a", "prefs/b"}, keys)

	all, err := backend.List("")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestMemoryBackend_Closed(t *testing.T) {
	backend := NewMemory()
	require.NoError(t, backend.Close())
	require.NoError(t, backend.Close())

	_, err := backend.Get("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, backend.Put("k", nil, nil), ErrClosed)
	_, err = backend.List("")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "keys/alias.age", KeyPath("alias", ExtSealedKey))
	assert.Equal(t, "prefs/superkey/credential-iv", PrefPath("/superkey/", "credential-iv"))
	assert.Equal(t, "prefs/credential-iv", PrefPath("", "credential-iv"))

	backend := NewMemory()
	require.NoError(t, SaveKey(backend, KeyPath("a", ExtSealedKey), []byte{1}))
	require.NoError(t, SaveKey(backend, KeyPath("b", ExtPrivBlob), []byte{2}))
	assert.ErrorIs(t, SaveKey(backend, "", nil), ErrInvalidKey)

	aliases, err := ListKeyAliases(backend, ExtSealedKey)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, aliases)

	require.NoError(t, DeleteIfExists(backend, KeyPath("a", ExtSealedKey)))
	require.NoError(t, DeleteIfExists(backend, KeyPath("a", ExtSealedKey)))
}
