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

import "errors"

var (
	// ErrKeyNotFound is returned when no key exists under the alias.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrKeyExists is returned when creating a key whose alias is taken.
	ErrKeyExists = errors.New("keystore: key already exists")

	// ErrUnavailable is returned when the store cannot be reached or is
	// locked (device missing, PIN rejected, token not present).
	ErrUnavailable = errors.New("keystore: store unavailable")

	// ErrKeyGeneration is returned when the store fails to create a key.
	ErrKeyGeneration = errors.New("keystore: key generation failed")

	// ErrUnsupportedSpec is returned for a KeySpec the store cannot honour.
	ErrUnsupportedSpec = errors.New("keystore: unsupported key spec")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("keystore: closed")

	// ErrInvalidAlias is returned for an empty or unsafe alias.
	ErrInvalidAlias = errors.New("keystore: invalid alias")
)
