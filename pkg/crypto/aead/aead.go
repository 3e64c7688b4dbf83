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

// Package aead seals and opens credential bytes with AES-GCM using a key
// held by a key store. The key never leaves the store's handle: the
// provider asks the handle for a cipher.AEAD bound to the requested tag
// size and supplies the caller's persisted IV.
package aead

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sys/cpu"

	"github.com/jeremyhahn/go-superkey/pkg/keystore"
)

const (
	// IVSize is the GCM nonce length in bytes.
	IVSize = 12

	// TagBits is the only supported authentication tag length.
	TagBits = 128

	// Algorithm is the transformation name recorded in status output.
	Algorithm = "AES/GCM/NoPadding"
)

var (
	// ErrCipherInit is returned when the key, IV or tag size is rejected.
	ErrCipherInit = errors.New("aead: cipher initialization failed")

	// ErrAuthentication is returned when the tag does not verify.
	ErrAuthentication = errors.New("aead: message authentication failed")
)

// Provider encrypts and decrypts with an authenticated cipher.
type Provider interface {
	Encrypt(key keystore.KeyHandle, iv []byte, tagBits int, plaintext []byte) ([]byte, error)
	Decrypt(key keystore.KeyHandle, iv []byte, tagBits int, ciphertext []byte) ([]byte, error)
}

// GCM is the AES-GCM Provider.
type GCM struct{}

// NewGCM returns the AES-GCM provider.
func NewGCM() *GCM {
	return &GCM{}
}

func (g *GCM) newAEAD(key keystore.KeyHandle, iv []byte, tagBits int) (cipher.AEAD, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil key handle", ErrCipherInit)
	}
	if tagBits != TagBits {
		return nil, fmt.Errorf("%w: unsupported tag length %d", ErrCipherInit, tagBits)
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("%w: iv must be %d bytes, got %d", ErrCipherInit, IVSize, len(iv))
	}
	c, err := key.NewAEAD(tagBits / 8)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCipherInit, key.Alias(), err)
	}
	if c.NonceSize() != len(iv) {
		return nil, fmt.Errorf("%w: key %s expects %d byte nonce", ErrCipherInit, key.Alias(), c.NonceSize())
	}
	return c, nil
}

// Encrypt returns ciphertext || tag.
func (g *GCM) Encrypt(key keystore.KeyHandle, iv []byte, tagBits int, plaintext []byte) (out []byte, err error) {
	c, err := g.newAEAD(key, iv, tagBits)
	if err != nil {
		return nil, err
	}
	// HSM backed AEADs panic when the token rejects the operation
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: seal: %v", ErrCipherInit, r)
		}
	}()
	return c.Seal(nil, iv, plaintext, nil), nil
}

// Decrypt verifies the tag and returns the plaintext.
func (g *GCM) Decrypt(key keystore.KeyHandle, iv []byte, tagBits int, ciphertext []byte) (out []byte, err error) {
	c, err := g.newAEAD(key, iv, tagBits)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: open: %v", ErrAuthentication, r)
		}
	}()
	if len(ciphertext) < c.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext shorter than tag", ErrAuthentication)
	}
	plaintext, err := c.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return plaintext, nil
}

// HasAESNI returns true if the CPU has AES instructions. Reported by the
// status command for software and TPM sealed keys, whose GCM runs on the host.
func HasAESNI() bool {
	switch runtime.GOARCH {
	case "amd64":
		return cpu.X86.HasAES
	case "arm64":
		return cpu.ARM64.HasAES
	default:
		return false
	}
}

var _ Provider = (*GCM)(nil)
