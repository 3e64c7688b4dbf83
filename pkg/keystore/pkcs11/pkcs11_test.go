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

//go:build pkcs11

package pkcs11

import (
	"errors"
	"os"
	"testing"

	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-superkey/pkg/keystore"
	"github.com/jeremyhahn/go-superkey/pkg/logging"
)

// newSoftHSMStore expects a SoftHSM token initialized with
// softhsm2-util --init-token --label superkey-test --pin 1234 --so-pin 5678
func newSoftHSMStore(t *testing.T) keystore.KeyStore {
	t.Helper()
	lib := os.Getenv("SOFTHSM_LIB")
	if lib == "" {
		t.Skip("SOFTHSM_LIB not set, skipping PKCS#11 integration test")
	}
	label := os.Getenv("SOFTHSM_TOKEN")
	if label == "" {
		label = "superkey-test"
	}
	ks, err := New(&Config{
		Library:    lib,
		TokenLabel: label,
		PIN:        "1234",
		Logger:     logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ks.Close() })
	return ks
}

func TestClassify(t *testing.T) {
	err := classify(pkcs11.Error(pkcs11.CKR_PIN_INCORRECT), keystore.ErrKeyGeneration)
	assert.ErrorIs(t, err, keystore.ErrUnavailable)

	err = classify(pkcs11.Error(pkcs11.CKR_DEVICE_REMOVED), keystore.ErrKeyGeneration)
	assert.ErrorIs(t, err, keystore.ErrUnavailable)

	err = classify(pkcs11.Error(pkcs11.CKR_TEMPLATE_INCONSISTENT), keystore.ErrKeyGeneration)
	assert.ErrorIs(t, err, keystore.ErrKeyGeneration)
	assert.NotErrorIs(t, err, keystore.ErrUnavailable)

	err = classify(errors.New("opaque"), keystore.ErrUnavailable)
	assert.ErrorIs(t, err, keystore.ErrUnavailable)
}

func TestSoftHSM_KeyLifecycle(t *testing.T) {
	ks := newSoftHSMStore(t)
	alias := "superkey-test-" + t.Name()
	_ = ks.DeleteKey(alias)

	ok, err := ks.HasKey(alias)
	require.NoError(t, err)
	assert.False(t, ok)

	h, err := ks.CreateKey(keystore.DefaultKeySpec(alias))
	require.NoError(t, err)
	defer ks.DeleteKey(alias)

	_, err = ks.CreateKey(keystore.DefaultKeySpec(alias))
	assert.ErrorIs(t, err, keystore.ErrKeyExists)

	c, err := h.NewAEAD(16)
	require.NoError(t, err)
	iv := make([]byte, 12)
	ct := c.Seal(nil, iv, []byte("hsm"), nil)

	h2, err := ks.GetKey(alias)
	require.NoError(t, err)
	c2, err := h2.NewAEAD(16)
	require.NoError(t, err)
	pt, err := c2.Open(nil, iv, ct, nil)
	require.NoError(t, err)
	assert.Equal(t, "hsm", string(pt))

	_, err = h2.NewAEAD(12)
	assert.ErrorIs(t, err, keystore.ErrUnsupportedSpec)
}

func TestSoftHSM_RandomSource(t *testing.T) {
	ks := newSoftHSMStore(t)
	rs, ok := ks.(keystore.RandomSource)
	require.True(t, ok)

	src, err := rs.RandomSource()
	require.NoError(t, err)
	b, err := src.Rand(12)
	require.NoError(t, err)
	assert.Len(t, b, 12)
}
