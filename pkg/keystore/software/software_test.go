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

package software

import (
	"sync"
	"testing"

	"filippo.io/age"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-superkey/pkg/keystore"
	"github.com/jeremyhahn/go-superkey/pkg/logging"
	"github.com/jeremyhahn/go-superkey/pkg/storage"
)

const testAlias = "SuperKeySecurityKey"

func newTestStore(t *testing.T, backend storage.Backend) *KeyStore {
	t.Helper()
	ks, err := New(&Config{
		KeyStorage: backend,
		Passphrase: "correct horse battery staple",
		WorkFactor: 10,
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	return ks
}

func sealOpen(t *testing.T, h keystore.KeyHandle, plaintext string) string {
	t.Helper()
	c, err := h.NewAEAD(16)
	require.NoError(t, err)
	iv := make([]byte, c.NonceSize())
	ct := c.Seal(nil, iv, []byte(plaintext), nil)
	pt, err := c.Open(nil, iv, ct, nil)
	require.NoError(t, err)
	return string(pt)
}

func TestConfig_Validate(t *testing.T) {
	backend := storage.NewMemory()
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil", nil},
		{"no storage", &Config{Passphrase: "p"}},
		{"no secret", &Config{KeyStorage: backend}},
		{"both secrets", &Config{KeyStorage: backend, Passphrase: "p", Identity: "AGE-SECRET-KEY-1"}},
		{"work factor", &Config{KeyStorage: backend, Passphrase: "p", WorkFactor: 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.cfg.Validate())
		})
	}
}

func TestKeyStore_CreateAndGet(t *testing.T) {
	backend := storage.NewMemory()
	ks := newTestStore(t, backend)
	assert.Equal(t, keystore.StoreTypeSoftware, ks.Type())

	ok, err := ks.HasKey(testAlias)
	require.NoError(t, err)
	assert.False(t, ok)

	h, err := ks.CreateKey(keystore.DefaultKeySpec(testAlias))
	require.NoError(t, err)
	assert.Equal(t, testAlias, h.Alias())
	assert.Equal(t, "hello", sealOpen(t, h, "hello"))

	ok, err = ks.HasKey(testAlias)
	require.NoError(t, err)
	assert.True(t, ok)

	sealed, err := backend.Get(storage.KeyPath(testAlias, storage.ExtSealedKey))
	require.NoError(t, err)
	assert.Contains(t, string(sealed), "age-encryption.org/v1")

	aliases, err := ks.Aliases()
	require.NoError(t, err)
	assert.Equal(t, []string{testAlias}, aliases)
}

func TestKeyStore_CreateExisting(t *testing.T) {
	ks := newTestStore(t, storage.NewMemory())
	_, err := ks.CreateKey(keystore.DefaultKeySpec(testAlias))
	require.NoError(t, err)

	_, err = ks.CreateKey(keystore.DefaultKeySpec(testAlias))
	assert.ErrorIs(t, err, keystore.ErrKeyExists)
}

func TestKeyStore_ReopenUnsealsSameKey(t *testing.T) {
	backend := storage.NewMemory()
	first := newTestStore(t, backend)
	h1, err := first.CreateKey(keystore.DefaultKeySpec(testAlias))
	require.NoError(t, err)

	c1, err := h1.NewAEAD(16)
	require.NoError(t, err)
	iv := make([]byte, 12)
	ct := c1.Seal(nil, iv, []byte("persisted"), nil)
	require.NoError(t, first.Close())

	second := newTestStore(t, backend)
	h2, err := second.GetKey(testAlias)
	require.NoError(t, err)
	c2, err := h2.NewAEAD(16)
	require.NoError(t, err)
	pt, err := c2.Open(nil, iv, ct, nil)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(pt))
}

func TestKeyStore_WrongPassphrase(t *testing.T) {
	backend := storage.NewMemory()
	ks := newTestStore(t, backend)
	_, err := ks.CreateKey(keystore.DefaultKeySpec(testAlias))
	require.NoError(t, err)

	other, err := New(&Config{KeyStorage: backend, Passphrase: "wrong", WorkFactor: 10})
	require.NoError(t, err)
	_, err = other.GetKey(testAlias)
	assert.ErrorIs(t, err, keystore.ErrUnavailable)
}

func TestKeyStore_X25519Identity(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	ks, err := New(&Config{KeyStorage: storage.NewMemory(), Identity: id.String()})
	require.NoError(t, err)

	h, err := ks.CreateKey(keystore.DefaultKeySpec(testAlias))
	require.NoError(t, err)
	assert.Equal(t, "x25519", sealOpen(t, h, "x25519"))

	_, err = New(&Config{KeyStorage: storage.NewMemory(), Identity: "not-an-identity"})
	assert.Error(t, err)
}

func TestKeyStore_GetMissingAndDelete(t *testing.T) {
	ks := newTestStore(t, storage.NewMemory())

	_, err := ks.GetKey(testAlias)
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
	assert.ErrorIs(t, ks.DeleteKey(testAlias), keystore.ErrKeyNotFound)

	_, err = ks.CreateKey(keystore.DefaultKeySpec(testAlias))
	require.NoError(t, err)
	require.NoError(t, ks.DeleteKey(testAlias))

	_, err = ks.GetKey(testAlias)
	assert.ErrorIs(t, err, keystore.ErrKeyNotFound)
}

func TestKeyStore_InvalidSpecAndAlias(t *testing.T) {
	ks := newTestStore(t, storage.NewMemory())

	spec := keystore.DefaultKeySpec(testAlias)
	spec.BlockMode = "CBC"
	_, err := ks.CreateKey(spec)
	assert.ErrorIs(t, err, keystore.ErrUnsupportedSpec)

	_, err = ks.HasKey("../escape")
	assert.ErrorIs(t, err, keystore.ErrInvalidAlias)
}

func TestKeyStore_UnavailableStorage(t *testing.T) {
	backend := storage.NewMemory()
	ks := newTestStore(t, backend)
	require.NoError(t, backend.Close())

	_, err := ks.HasKey(testAlias)
	assert.ErrorIs(t, err, keystore.ErrUnavailable)

	_, err = ks.CreateKey(keystore.DefaultKeySpec(testAlias))
	assert.ErrorIs(t, err, keystore.ErrUnavailable)
}

func TestKeyStore_Closed(t *testing.T) {
	ks := newTestStore(t, storage.NewMemory())
	require.NoError(t, ks.Close())

	_, err := ks.HasKey(testAlias)
	assert.ErrorIs(t, err, keystore.ErrClosed)
	_, err = ks.GetKey(testAlias)
	assert.ErrorIs(t, err, keystore.ErrClosed)
}

func TestKeyStore_ConcurrentGet(t *testing.T) {
	ks := newTestStore(t, storage.NewMemory())
	_, err := ks.CreateKey(keystore.DefaultKeySpec(testAlias))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := ks.GetKey(testAlias)
			assert.NoError(t, err)
			assert.NotNil(t, h)
		}()
	}
	wg.Wait()
}
