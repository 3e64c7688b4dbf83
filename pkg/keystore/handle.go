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

package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/awnumar/memguard"
)

// EnclaveHandle holds raw AES key bytes in a memguard enclave. Used by
// stores whose key is unwrapped on the host (software and TPM sealed).
type EnclaveHandle struct {
	alias   string
	enclave *memguard.Enclave
}

// NewEnclaveHandle moves key into an encrypted enclave. The key slice is
// wiped before this returns.
func NewEnclaveHandle(alias string, key []byte) (*EnclaveHandle, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		memguard.WipeBytes(key)
		return nil, fmt.Errorf("%w: key length %d", ErrUnsupportedSpec, len(key))
	}
	return &EnclaveHandle{
		alias:   alias,
		enclave: memguard.NewEnclave(key),
	}, nil
}

// Alias returns the key alias.
func (h *EnclaveHandle) Alias() string {
	return h.alias
}

// NewAEAD opens the enclave just long enough to expand the AES key.
func (h *EnclaveHandle) NewAEAD(tagSize int) (cipher.AEAD, error) {
	buf, err := h.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("keystore: open key enclave: %w", err)
	}
	defer buf.Destroy()

	block, err := aes.NewCipher(buf.Bytes())
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithTagSize(block, tagSize)
}

var _ KeyHandle = (*EnclaveHandle)(nil)
