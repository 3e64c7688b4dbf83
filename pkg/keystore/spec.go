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
	"fmt"
	"strings"
)

// Purpose is a bit set of permitted key operations.
type Purpose uint8

const (
	PurposeEncrypt Purpose = 1 << iota
	PurposeDecrypt
)

// Has reports whether p includes all bits of other.
func (p Purpose) Has(other Purpose) bool {
	return p&other == other
}

func (p Purpose) String() string {
	var parts []string
	if p.Has(PurposeEncrypt) {
		parts = append(parts, "encrypt")
	}
	if p.Has(PurposeDecrypt) {
		parts = append(parts, "decrypt")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

const (
	AlgorithmAES  = "AES"
	BlockModeGCM  = "GCM"
	PaddingNone   = "NoPadding"
	DefaultKeyBit = 256
)

// KeySpec describes the key to generate.
type KeySpec struct {
	Alias     string
	Algorithm string
	KeySize   int
	Purposes  Purpose
	BlockMode string
	Padding   string

	// RandomizedEncryptionRequired asks the store to refuse caller
	// supplied IVs. The credential envelope persists its own IV, so the
	// default spec leaves this false.
	RandomizedEncryptionRequired bool
}

// DefaultKeySpec returns the AES-256 GCM spec for alias.
func DefaultKeySpec(alias string) *KeySpec {
	return &KeySpec{
		Alias:     alias,
		Algorithm: AlgorithmAES,
		KeySize:   DefaultKeyBit,
		Purposes:  PurposeEncrypt | PurposeDecrypt,
		BlockMode: BlockModeGCM,
		Padding:   PaddingNone,
	}
}

// Validate checks the spec against what every store supports.
func (s *KeySpec) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil spec", ErrUnsupportedSpec)
	}
	if err := ValidateAlias(s.Alias); err != nil {
		return err
	}
	if s.Algorithm != AlgorithmAES {
		return fmt.Errorf("%w: algorithm %q", ErrUnsupportedSpec, s.Algorithm)
	}
	switch s.KeySize {
	case 128, 192, 256:
	default:
		return fmt.Errorf("%w: key size %d", ErrUnsupportedSpec, s.KeySize)
	}
	if !s.Purposes.Has(PurposeEncrypt | PurposeDecrypt) {
		return fmt.Errorf("%w: purposes %s", ErrUnsupportedSpec, s.Purposes)
	}
	if s.BlockMode != BlockModeGCM {
		return fmt.Errorf("%w: block mode %q", ErrUnsupportedSpec, s.BlockMode)
	}
	if s.Padding != PaddingNone {
		return fmt.Errorf("%w: padding %q", ErrUnsupportedSpec, s.Padding)
	}
	if s.RandomizedEncryptionRequired {
		return fmt.Errorf("%w: randomized encryption would reject the persisted IV", ErrUnsupportedSpec)
	}
	return nil
}

// ValidateAlias rejects aliases that cannot be used as a storage key or
// token label.
func ValidateAlias(alias string) error {
	if alias == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAlias)
	}
	if strings.ContainsAny(alias, "/\\\x00") || alias == "." || alias == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidAlias, alias)
	}
	return nil
}
