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

package pkcs11

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jeremyhahn/go-superkey/pkg/logging"
)

var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("pkcs11: invalid configuration")

	// ErrLibraryNotFound is returned when the PKCS#11 library cannot be found.
	ErrLibraryNotFound = errors.New("pkcs11: library not found")

	// ErrInvalidPINLength is returned when the user PIN is too short.
	ErrInvalidPINLength = errors.New("pkcs11: invalid pin length, must be at least 4 characters")

	// ErrNotCompiled is returned by New in builds without the pkcs11 tag.
	ErrNotCompiled = errors.New("pkcs11: support not compiled (build with -tags pkcs11)")
)

// Config identifies the token holding the credential key.
type Config struct {
	// Library is the path to the PKCS#11 module, for example
	// /usr/lib/softhsm/libsofthsm2.so
	Library string `yaml:"library" json:"library" mapstructure:"library"`

	// TokenLabel selects the token. Either TokenLabel or Slot is required.
	TokenLabel string `yaml:"label" json:"label" mapstructure:"label"`

	// Slot selects the token by slot number.
	Slot *int `yaml:"slot,omitempty" json:"slot,omitempty" mapstructure:"slot"`

	// PIN is the user PIN.
	PIN string `yaml:"pin,omitempty" json:"pin,omitempty" mapstructure:"pin"`

	Logger *logging.Logger `yaml:"-" json:"-" mapstructure:"-"`
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.Library == "" {
		return fmt.Errorf("%w: library path is required", ErrInvalidConfig)
	}
	if _, err := os.Stat(c.Library); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", ErrLibraryNotFound, c.Library)
	}
	if c.TokenLabel == "" && c.Slot == nil {
		return fmt.Errorf("%w: token label or slot is required", ErrInvalidConfig)
	}
	if len(c.PIN) < 4 {
		return ErrInvalidPINLength
	}
	return nil
}

// IsSoftHSM returns true if the library path indicates SoftHSM is being used.
func (c *Config) IsSoftHSM() bool {
	return strings.Contains(c.Library, "libsofthsm")
}

// String returns a string representation of the config with the PIN masked.
func (c *Config) String() string {
	slot := "<not set>"
	if c.Slot != nil {
		slot = fmt.Sprintf("%d", *c.Slot)
	}
	return fmt.Sprintf("PKCS#11 Config{Library: %s, TokenLabel: %s, Slot: %s, PIN: ****}",
		c.Library, c.TokenLabel, slot)
}
