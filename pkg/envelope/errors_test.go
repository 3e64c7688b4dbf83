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

package envelope

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jeremyhahn/go-superkey/pkg/crypto/aead"
	"github.com/jeremyhahn/go-superkey/pkg/keystore"
	"github.com/jeremyhahn/go-superkey/pkg/storage"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{wrap(ErrAuthenticationFailed, errors.New("tag")), KindAuthenticationFailed},
		{aead.ErrAuthentication, KindAuthenticationFailed},
		{fmt.Errorf("%w: bad", ErrEncoding), KindEncoding},
		{aead.ErrCipherInit, KindCipherInitFailed},
		{keystore.ErrKeyGeneration, KindKeyGenerationFailed},
		{keystore.ErrUnavailable, KindKeyStoreUnavailable},
		{keystore.ErrClosed, KindKeyStoreUnavailable},
		{storage.ErrClosed, KindPersistence},
		{wrap(ErrPersistence, errors.New("disk")), KindPersistence},
		{errors.New("something else"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "authentication_failed", KindAuthenticationFailed.String())
	assert.Equal(t, "unknown", Kind(99).String())
}

func TestKeyErrorMapping(t *testing.T) {
	err := keyError(fmt.Errorf("%w: template", keystore.ErrKeyGeneration))
	assert.ErrorIs(t, err, ErrKeyGenerationFailed)
	assert.ErrorIs(t, err, keystore.ErrKeyGeneration)

	err = keyError(errors.New("pin locked"))
	assert.ErrorIs(t, err, ErrKeyStoreUnavailable)
}

func TestCipherErrorMapping(t *testing.T) {
	assert.ErrorIs(t, cipherError(aead.ErrAuthentication), ErrAuthenticationFailed)
	assert.ErrorIs(t, cipherError(aead.ErrCipherInit), ErrCipherInitFailed)
}

func TestRecordStateText(t *testing.T) {
	b, err := StateEncryptedRecord.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "encrypted", string(b))
	assert.Equal(t, "none", StateNoRecord.String())
}

func TestRecordStateUnmarshalText(t *testing.T) {
	for _, s := range []RecordState{StateNoRecord, StateLegacyPlaintext, StateEncryptedRecord} {
		b, err := s.MarshalText()
		assert.NoError(t, err)

		var got RecordState
		assert.NoError(t, got.UnmarshalText(b))
		assert.Equal(t, s, got)
	}

	var bad RecordState
	assert.Error(t, bad.UnmarshalText([]byte("sealed")))
}
