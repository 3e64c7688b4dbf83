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

package storage

import (
	"errors"
	"strings"
)

// Key blob extensions used by the key stores.
const (
	ExtSealedKey  = ".age"
	ExtPublicBlob = ".pub"
	ExtPrivBlob   = ".priv"
)

// KeyPath returns the storage path for a key blob: keys/{alias}{ext}
func KeyPath(alias, ext string) string {
	return "keys/" + alias + ext
}

// PrefPath returns the storage path for a preference record:
// prefs/{namespace}/{name}, or prefs/{name} when namespace is empty.
func PrefPath(namespace, name string) string {
	if namespace == "" {
		return "prefs/" + name
	}
	return "prefs/" + strings.Trim(namespace, "/") + "/" + name
}

// SaveKey stores a key blob with owner-only permissions.
func SaveKey(backend Backend, path string, data []byte) error {
	if path == "" {
		return ErrInvalidKey
	}
	return backend.Put(path, data, &Options{Permissions: 0600})
}

// DeleteIfExists removes the key, treating ErrNotFound as success.
func DeleteIfExists(backend Backend, key string) error {
	if err := backend.Delete(key); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// ListKeyAliases returns the aliases of all key blobs with the given
// extension.
func ListKeyAliases(backend Backend, ext string) ([]string, error) {
	keys, err := backend.List("keys/")
	if err != nil {
		return nil, err
	}
	aliases := make([]string, 0, len(keys))
	for _, k := range keys {
		if !strings.HasSuffix(k, ext) {
			continue
		}
		alias := strings.TrimSuffix(strings.TrimPrefix(k, "keys/"), ext)
		if alias != "" {
			aliases = append(aliases, alias)
		}
	}
	return aliases, nil
}
