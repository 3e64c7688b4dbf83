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

import "fmt"

// Logical record names in the configuration store.
const (
	RecordCiphertext = "encrypted-credential"
	RecordLegacy     = "legacy-plaintext-credential"
	RecordIV         = "credential-iv"
	RecordSkipFlag   = "skip-persistence-flag"
)

// Records names the configuration records used by an Envelope. Envelopes
// protecting other values use their own names so IVs are never shared.
type Records struct {
	Ciphertext string
	Legacy     string
	IV         string
	SkipFlag   string
}

// DefaultRecords returns the super key record names.
func DefaultRecords() *Records {
	return &Records{
		Ciphertext: RecordCiphertext,
		Legacy:     RecordLegacy,
		IV:         RecordIV,
		SkipFlag:   RecordSkipFlag,
	}
}

// Validate requires every name to be set and distinct.
func (r *Records) Validate() error {
	seen := make(map[string]bool, 4)
	for _, name := range []string{r.Ciphertext, r.Legacy, r.IV, r.SkipFlag} {
		if name == "" {
			return fmt.Errorf("%w: empty record name", ErrInvalidConfig)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate record name %q", ErrInvalidConfig, name)
		}
		seen[name] = true
	}
	return nil
}

// credentialRecords are removed by Clear and by enabling skip persistence.
func (r *Records) credentialRecords() []string {
	return []string{r.Ciphertext, r.Legacy, r.IV}
}
