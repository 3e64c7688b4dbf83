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

// RecordState is the persistence state of the credential.
type RecordState int

const (
	StateNoRecord RecordState = iota
	StateLegacyPlaintext
	StateEncryptedRecord
)

func (s RecordState) String() string {
	switch s {
	case StateLegacyPlaintext:
		return "legacy-plaintext"
	case StateEncryptedRecord:
		return "encrypted"
	default:
		return "none"
	}
}

// MarshalText renders the state name in JSON and YAML output.
func (s RecordState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name written by MarshalText.
func (s *RecordState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none":
		*s = StateNoRecord
	case "legacy-plaintext":
		*s = StateLegacyPlaintext
	case "encrypted":
		*s = StateEncryptedRecord
	default:
		return fmt.Errorf("envelope: unknown record state %q", text)
	}
	return nil
}

// State is a snapshot of the envelope's records.
type State struct {
	Record      RecordState `json:"record" yaml:"record"`
	SkipEnabled bool        `json:"skip_enabled" yaml:"skip_enabled"`
	IVPresent   bool        `json:"iv_present" yaml:"iv_present"`
}
