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

//go:build !pkcs11

package pkcs11

import "github.com/jeremyhahn/go-superkey/pkg/keystore"

// New is a stub when PKCS#11 support is not compiled.
func New(config *Config) (keystore.KeyStore, error) {
	return nil, ErrNotCompiled
}
