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

	"github.com/jeremyhahn/go-superkey/pkg/crypto/aead"
	"github.com/jeremyhahn/go-superkey/pkg/keystore"
	"github.com/jeremyhahn/go-superkey/pkg/prefs"
	"github.com/jeremyhahn/go-superkey/pkg/storage"
)

var (
	// ErrKeyStoreUnavailable is returned when the secure key store is
	// inaccessible or locked.
	ErrKeyStoreUnavailable = errors.New("envelope: key store unavailable")

	// ErrKeyGenerationFailed is returned when the key could not be created.
	ErrKeyGenerationFailed = errors.New("envelope: key generation failed")

	// ErrCipherInitFailed is returned for a rejected key, IV or algorithm.
	ErrCipherInitFailed = errors.New("envelope: cipher initialization failed")

	// ErrAuthenticationFailed is returned when the ciphertext does not
	// verify: tampering, corruption, or a key or IV other than the one
	// used to encrypt.
	ErrAuthenticationFailed = errors.New("envelope: authentication failed")

	// ErrEncoding is returned for malformed base64 or a stored IV of the
	// wrong length.
	ErrEncoding = errors.New("envelope: encoding error")

	// ErrPersistence is returned when a configuration record cannot be
	// read or written.
	ErrPersistence = errors.New("envelope: persistence failure")

	// ErrInvalidConfig is returned by New.
	ErrInvalidConfig = errors.New("envelope: invalid configuration")
)

// Kind classifies an envelope error.
type Kind int

const (
	KindNone Kind = iota
	KindKeyStoreUnavailable
	KindKeyGenerationFailed
	KindCipherInitFailed
	KindAuthenticationFailed
	KindEncoding
	KindPersistence
	KindUnknown
)

var kindNames = map[Kind]string{
	KindNone:                 "none",
	KindKeyStoreUnavailable:  "key_store_unavailable",
	KindKeyGenerationFailed:  "key_generation_failed",
	KindCipherInitFailed:     "cipher_init_failed",
	KindAuthenticationFailed: "authentication_failed",
	KindEncoding:             "encoding",
	KindPersistence:          "persistence",
	KindUnknown:              "unknown",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// KindOf classifies err. Errors from the key store, cipher and storage
// layers are classified even when they were not wrapped by this package.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrAuthenticationFailed), errors.Is(err, aead.ErrAuthentication):
		return KindAuthenticationFailed
	case errors.Is(err, ErrEncoding):
		return KindEncoding
	case errors.Is(err, ErrCipherInitFailed), errors.Is(err, aead.ErrCipherInit):
		return KindCipherInitFailed
	case errors.Is(err, ErrKeyGenerationFailed), errors.Is(err, keystore.ErrKeyGeneration):
		return KindKeyGenerationFailed
	case errors.Is(err, ErrKeyStoreUnavailable),
		errors.Is(err, keystore.ErrUnavailable),
		errors.Is(err, keystore.ErrClosed),
		errors.Is(err, keystore.ErrKeyNotFound):
		return KindKeyStoreUnavailable
	case errors.Is(err, ErrPersistence),
		errors.Is(err, storage.ErrClosed),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, prefs.ErrNotInt):
		return KindPersistence
	default:
		return KindUnknown
	}
}

func wrap(kind, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}

// keyError maps a custodian failure onto the envelope taxonomy.
func keyError(err error) error {
	if errors.Is(err, keystore.ErrKeyGeneration) {
		return wrap(ErrKeyGenerationFailed, err)
	}
	return wrap(ErrKeyStoreUnavailable, err)
}

// cipherError maps an aead.Provider failure onto the envelope taxonomy.
func cipherError(err error) error {
	if errors.Is(err, aead.ErrAuthentication) {
		return wrap(ErrAuthenticationFailed, err)
	}
	return wrap(ErrCipherInitFailed, err)
}
