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

// Package keystore defines the secure key store abstraction that custodies
// the AES key protecting the credential. Implementations live in the
// software, pkcs11 and tpm2 subpackages. Key material never crosses this
// interface: callers receive a KeyHandle that builds a cipher.AEAD.
package keystore

import (
	"crypto/cipher"

	"github.com/jeremyhahn/go-superkey/pkg/crypto/rand"
)

// StoreType identifies a key store implementation.
type StoreType string

const (
	StoreTypeSoftware StoreType = "software" // age sealed key file
	StoreTypePKCS11   StoreType = "pkcs11"   // PKCS#11 hardware security module
	StoreTypeTPM2     StoreType = "tpm2"     // TPM 2.0 sealed data object
)

// String returns the store type name.
func (t StoreType) String() string {
	return string(t)
}

// KeyStore custodies symmetric keys by alias. Implementations are safe
// for concurrent use.
type KeyStore interface {
	// Type returns the store implementation.
	Type() StoreType

	// HasKey reports whether a key exists under alias.
	HasKey(alias string) (bool, error)

	// CreateKey generates a new key inside the store. Returns ErrKeyExists
	// when the alias is taken.
	CreateKey(spec *KeySpec) (KeyHandle, error)

	// GetKey returns a handle to an existing key or ErrKeyNotFound.
	GetKey(alias string) (KeyHandle, error)

	// DeleteKey destroys the key. Returns ErrKeyNotFound when absent.
	DeleteKey(alias string) error

	// Close releases the store's device or session.
	Close() error
}

// KeyHandle references a key held by a store.
type KeyHandle interface {
	// Alias returns the key alias.
	Alias() string

	// NewAEAD returns an AES-GCM cipher bound to the key with a 12 byte
	// nonce and the given tag size in bytes.
	NewAEAD(tagSize int) (cipher.AEAD, error)
}

// RandomSource is implemented by stores with a hardware RNG.
type RandomSource interface {
	RandomSource() (rand.Source, error)
}
