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

package tpm2

import (
	"errors"
	"fmt"

	"github.com/google/go-tpm/tpm2/transport"

	"github.com/jeremyhahn/go-superkey/pkg/logging"
	"github.com/jeremyhahn/go-superkey/pkg/storage"
)

const (
	// DefaultDevice is the kernel resource manager device.
	DefaultDevice = "/dev/tpmrm0"

	// DefaultMaxRandomRequest is the GetRandom chunk size in bytes.
	DefaultMaxRandomRequest = 32
)

var (
	ErrOpeningDevice = errors.New("tpm2 keystore: failed to open TPM device")
	ErrInvalidConfig = errors.New("tpm2 keystore: invalid configuration")
)

// Config contains configuration for the TPM2 key store.
type Config struct {
	// Device is the TPM character device or a swtpm unix socket (*.sock).
	Device string

	// UseSimulator opens the embedded go-tpm-tools simulator. Requires
	// building with -tags tpm_simulator.
	UseSimulator bool

	// KeyStorage holds the sealed object public and private blobs.
	KeyStorage storage.Backend

	// MaxRandomRequest caps each TPM2_GetRandom call.
	MaxRandomRequest int

	// Transport overrides Device and UseSimulator. Used by tests.
	Transport transport.TPMCloser

	Logger *logging.Logger
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if c.KeyStorage == nil {
		return fmt.Errorf("%w: KeyStorage is required", ErrInvalidConfig)
	}
	if c.Device == "" && !c.UseSimulator && c.Transport == nil {
		c.Device = DefaultDevice
	}
	if c.MaxRandomRequest <= 0 {
		c.MaxRandomRequest = DefaultMaxRandomRequest
	}
	return nil
}
