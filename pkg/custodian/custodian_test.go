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

package custodian

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	itestutil "github.com/jeremyhahn/go-superkey/internal/testutil"
	"github.com/jeremyhahn/go-superkey/pkg/keystore"
	"github.com/jeremyhahn/go-superkey/pkg/logging"
	"github.com/jeremyhahn/go-superkey/pkg/metrics"
)

func newCustodian(t *testing.T, ks keystore.KeyStore, opts ...Option) *Custodian {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	c, err := New(ks, opts...)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNoKeyStore)

	_, err = New(itestutil.NewKeyStore(), WithAlias(""))
	assert.ErrorIs(t, err, keystore.ErrInvalidAlias)

	c := newCustodian(t, itestutil.NewKeyStore())
	assert.Equal(t, DefaultAlias, c.Alias())
	assert.Equal(t, keystore.StoreTypeSoftware, c.StoreType())
	assert.False(t, c.Ready())

	c = newCustodian(t, itestutil.NewKeyStore(), WithAlias("custom"))
	assert.Equal(t, "custom", c.Alias())
}

func TestEnsureKey_Idempotent(t *testing.T) {
	ks := itestutil.NewKeyStore()
	c := newCustodian(t, ks)

	created, err := c.EnsureKey()
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, c.Ready())

	created, err = c.EnsureKey()
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 1, ks.Creates)
	assert.Equal(t, uint64(1), c.Generation())

	has, err := ks.HasKey(DefaultAlias)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestEnsureKey_Concurrent(t *testing.T) {
	ks := itestutil.NewKeyStore()
	c := newCustodian(t, ks)

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := c.EnsureKey()
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	assert.Equal(t, 1, ks.Creates)
}

func TestEnsureKey_RacingCreatorIsSuccess(t *testing.T) {
	ks := itestutil.NewKeyStore()
	ks.RaceCreate = true
	c := newCustodian(t, ks)

	created, err := c.EnsureKey()
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, c.Ready())

	h, err := c.Key()
	require.NoError(t, err)
	assert.Equal(t, DefaultAlias, h.Alias())
}

func TestEnsureKey_Errors(t *testing.T) {
	t.Run("store unavailable", func(t *testing.T) {
		ks := itestutil.NewKeyStore()
		ks.FailHas = errors.New("device missing")
		c := newCustodian(t, ks)

		created, err := c.EnsureKey()
		assert.False(t, created)
		assert.ErrorIs(t, err, keystore.ErrUnavailable)
		assert.False(t, c.Ready())
	})

	t.Run("generation failed", func(t *testing.T) {
		ks := itestutil.NewKeyStore()
		ks.FailCreate = errors.New("template rejected")
		c := newCustodian(t, ks)

		_, err := c.EnsureKey()
		assert.ErrorIs(t, err, keystore.ErrKeyGeneration)
		assert.NotErrorIs(t, err, keystore.ErrUnavailable)
	})

	t.Run("locked during create", func(t *testing.T) {
		ks := itestutil.NewKeyStore()
		ks.FailCreate = keystore.ErrUnavailable
		c := newCustodian(t, ks)

		_, err := c.EnsureKey()
		assert.ErrorIs(t, err, keystore.ErrUnavailable)
		assert.NotErrorIs(t, err, keystore.ErrKeyGeneration)
	})

	t.Run("recovers after fault clears", func(t *testing.T) {
		ks := itestutil.NewKeyStore()
		ks.FailHas = errors.New("transient")
		c := newCustodian(t, ks)

		_, err := c.EnsureKey()
		require.Error(t, err)

		ks.FailHas = nil
		created, err := c.EnsureKey()
		require.NoError(t, err)
		assert.True(t, created)
	})
}

func TestKey(t *testing.T) {
	ks := itestutil.NewKeyStore()
	c := newCustodian(t, ks)

	h, err := c.Key()
	require.NoError(t, err)
	assert.Equal(t, DefaultAlias, h.Alias())
	assert.Equal(t, 1, ks.Creates)

	h2, err := c.Key()
	require.NoError(t, err)
	assert.Same(t, h, h2)
}

func TestKey_ExistingKeyLoadedFromStore(t *testing.T) {
	ks := itestutil.NewKeyStore()
	_, err := ks.CreateKey(keystore.DefaultKeySpec(DefaultAlias))
	require.NoError(t, err)

	c := newCustodian(t, ks)
	_, err = c.Key()
	require.NoError(t, err)
	assert.Equal(t, 1, ks.Gets)

	ks.FailGet = errors.New("session closed")
	c = newCustodian(t, ks)
	_, err = c.Key()
	assert.ErrorIs(t, err, keystore.ErrUnavailable)
}

func TestEnsureKey_RecordsKeyGeneration(t *testing.T) {
	metrics.Enable()
	metrics.KeyGenerationsTotal.Reset()

	c := newCustodian(t, itestutil.NewKeyStore())
	_, err := c.EnsureKey()
	require.NoError(t, err)
	_, err = c.EnsureKey()
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.KeyGenerationsTotal.WithLabelValues("software")))
}

func TestGeneration_CountsRegeneratedKeys(t *testing.T) {
	ks := itestutil.NewKeyStore()
	c := newCustodian(t, ks)
	assert.Equal(t, uint64(0), c.Generation())

	_, err := c.EnsureKey()
	require.NoError(t, err)
	require.NoError(t, ks.DeleteKey(DefaultAlias))

	created, err := c.EnsureKey()
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, uint64(2), c.Generation())

	ks.RaceCreate = true
	require.NoError(t, ks.DeleteKey(DefaultAlias))
	created, err = c.EnsureKey()
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, uint64(2), c.Generation())

	// the handle cached before the race must not be reused
	stored, err := ks.GetKey(DefaultAlias)
	require.NoError(t, err)
	handle, err := c.Key()
	require.NoError(t, err)
	assert.Same(t, stored, handle)
}
