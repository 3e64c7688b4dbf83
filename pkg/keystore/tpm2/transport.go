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
	"os"
	"strings"

	"github.com/google/go-tpm/tpm2/transport"
	"github.com/google/go-tpm/tpm2/transport/linuxudstpm"
)

// ErrSimulatorNotAvailable is returned when UseSimulator is set in a
// build without the tpm_simulator tag.
var ErrSimulatorNotAvailable = errors.New("tpm2 keystore: simulator support not compiled (build with -tags tpm_simulator)")

// simulatorOpener is replaced by simulator.go in tpm_simulator builds.
var simulatorOpener = func() (transport.TPMCloser, error) {
	return nil, ErrSimulatorNotAvailable
}

func openTransport(config *Config) (transport.TPMCloser, error) {
	switch {
	case config.Transport != nil:
		return config.Transport, nil
	case config.UseSimulator:
		return simulatorOpener()
	case strings.HasSuffix(config.Device, ".sock"):
		t, err := linuxudstpm.Open(config.Device)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrOpeningDevice, config.Device, err)
		}
		return t, nil
	default:
		f, err := os.OpenFile(config.Device, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrOpeningDevice, config.Device, err)
		}
		return transport.FromReadWriteCloser(f), nil
	}
}
