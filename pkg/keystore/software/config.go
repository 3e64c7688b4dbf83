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
	"fmt"

	"github.com/jeremyhahn/go-superkey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-superkey/pkg/logging"
	"github.com/jeremyhahn/go-superkey/pkg/storage"
)

// DefaultWorkFactor is the scrypt work factor (log2 N) for new key files.
const DefaultWorkFactor = 18

// Config contains configuration for the software key store.
type Config struct {
	// KeyStorage holds the age encrypted key files.
	KeyStorage storage.Backend

	// Passphrase seals key files with an age scrypt recipient.
	// Exactly one of Passphrase and Identity must be set.
	Passphrase string

	// Identity is an AGE-SECRET-KEY-1 X25519 identity used to seal key
	// files instead of a passphrase.
	Identity string

	// WorkFactor is the scrypt log2 cost for new key files.
	// Defaults to DefaultWorkFactor. Tests use a low value.
	WorkFactor int

	// Random supplies key material. Defaults to crypto/rand.
	Random rand.Resolver

	Logger *logging.Logger
}

// Validate checks if the Config is valid.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("software keystore: config is nil")
	}
	if c.KeyStorage == nil {
		return fmt.Errorf("software keystore: KeyStorage is required")
	}
	if (c.Passphrase == "") == (c.Identity == "") {
		return fmt.Errorf("software keystore: exactly one of Passphrase or Identity is required")
	}
	if c.WorkFactor < 0 || c.WorkFactor > 30 {
		return fmt.Errorf("software keystore: work factor %d out of range", c.WorkFactor)
	}
	return nil
}
