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

// Package software implements keystore.KeyStore with AES keys sealed to
// age recipients and stored through a storage.Backend. It is the fallback
// custody option on hosts without an HSM or TPM. Unsealed keys are kept
// only inside memguard enclaves.
package software

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"filippo.io/age"
	"github.com/awnumar/memguard"

	"github.com/jeremyhahn/go-superkey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-superkey/pkg/keystore"
	"github.com/jeremyhahn/go-superkey/pkg/logging"
	"github.com/jeremyhahn/go-superkey/pkg/storage"
)

// KeyStore is the age sealed software key store.
type KeyStore struct {
	mu        sync.RWMutex
	storage   storage.Backend
	recipient age.Recipient
	identity  age.Identity
	random    rand.Resolver
	logger    *logging.Logger
	handles   map[string]*keystore.EnclaveHandle
	closed    bool
}

// New creates a software key store.
func New(config *Config) (*KeyStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	ks := &KeyStore{
		storage: config.KeyStorage,
		random:  config.Random,
		logger:  config.Logger,
		handles: make(map[string]*keystore.EnclaveHandle),
	}
	if ks.random == nil {
		ks.random = rand.NewSoftware()
	}
	if ks.logger == nil {
		ks.logger = logging.DefaultLogger()
	}

	if config.Passphrase != "" {
		r, err := age.NewScryptRecipient(config.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("software keystore: scrypt recipient: %w", err)
		}
		wf := config.WorkFactor
		if wf == 0 {
			wf = DefaultWorkFactor
		}
		r.SetWorkFactor(wf)
		id, err := age.NewScryptIdentity(config.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("software keystore: scrypt identity: %w", err)
		}
		ks.recipient, ks.identity = r, id
	} else {
		id, err := age.ParseX25519Identity(config.Identity)
		if err != nil {
			return nil, fmt.Errorf("software keystore: parsing identity: %w", err)
		}
		ks.recipient, ks.identity = id.Recipient(), id
	}
	return ks, nil
}

// Type returns keystore.StoreTypeSoftware.
func (ks *KeyStore) Type() keystore.StoreType {
	return keystore.StoreTypeSoftware
}

// HasKey reports whether a sealed key file exists for alias.
func (ks *KeyStore) HasKey(alias string) (bool, error) {
	if err := keystore.ValidateAlias(alias); err != nil {
		return false, err
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.closed {
		return false, keystore.ErrClosed
	}
	ok, err := ks.storage.Exists(storage.KeyPath(alias, storage.ExtSealedKey))
	if err != nil {
		return false, fmt.Errorf("%w: %w", keystore.ErrUnavailable, err)
	}
	return ok, nil
}

// CreateKey generates spec.KeySize random bits, seals them and stores
// the key file.
func (ks *KeyStore) CreateKey(spec *keystore.KeySpec) (keystore.KeyHandle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return nil, keystore.ErrClosed
	}
	path := storage.KeyPath(spec.Alias, storage.ExtSealedKey)
	exists, err := ks.storage.Exists(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", keystore.ErrUnavailable, err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyExists, spec.Alias)
	}

	key, err := ks.random.Rand(spec.KeySize / 8)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", keystore.ErrKeyGeneration, err)
	}
	sealed, err := ks.seal(key)
	if err != nil {
		memguard.WipeBytes(key)
		return nil, fmt.Errorf("%w: %w", keystore.ErrKeyGeneration, err)
	}
	if err := storage.SaveKey(ks.storage, path, sealed); err != nil {
		memguard.WipeBytes(key)
		return nil, fmt.Errorf("%w: %w", keystore.ErrKeyGeneration, err)
	}

	handle, err := keystore.NewEnclaveHandle(spec.Alias, key)
	if err != nil {
		return nil, err
	}
	ks.handles[spec.Alias] = handle
	ks.logger.Debug("software key created", "alias", spec.Alias, "bits", spec.KeySize)
	return handle, nil
}

// GetKey unseals the key file for alias. Handles are cached so the
// scrypt cost is paid once per process.
func (ks *KeyStore) GetKey(alias string) (keystore.KeyHandle, error) {
	if err := keystore.ValidateAlias(alias); err != nil {
		return nil, err
	}
	ks.mu.RLock()
	if ks.closed {
		ks.mu.RUnlock()
		return nil, keystore.ErrClosed
	}
	if h, ok := ks.handles[alias]; ok {
		ks.mu.RUnlock()
		return h, nil
	}
	ks.mu.RUnlock()

	ks.mu.Lock()
	defer ks.mu.Unlock()

	if h, ok := ks.handles[alias]; ok {
		return h, nil
	}
	sealed, err := ks.storage.Get(storage.KeyPath(alias, storage.ExtSealedKey))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", keystore.ErrUnavailable, err)
	}
	key, err := ks.unseal(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: unseal %s: %w", keystore.ErrUnavailable, alias, err)
	}
	handle, err := keystore.NewEnclaveHandle(alias, key)
	if err != nil {
		return nil, err
	}
	ks.handles[alias] = handle
	return handle, nil
}

// DeleteKey removes the key file and the cached handle.
func (ks *KeyStore) DeleteKey(alias string) error {
	if err := keystore.ValidateAlias(alias); err != nil {
		return err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return keystore.ErrClosed
	}
	delete(ks.handles, alias)
	err := ks.storage.Delete(storage.KeyPath(alias, storage.ExtSealedKey))
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	return err
}

// Aliases lists the sealed keys in storage.
func (ks *KeyStore) Aliases() ([]string, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return storage.ListKeyAliases(ks.storage, storage.ExtSealedKey)
}

// Close drops cached handles. The key storage is owned by the caller.
func (ks *KeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.closed = true
	ks.handles = nil
	return nil
}

func (ks *KeyStore) seal(key []byte) ([]byte, error) {
	var out bytes.Buffer
	w, err := age.Encrypt(&out, ks.recipient)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(key); err != nil {
		return nil, fmt.Errorf("writing key to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return out.Bytes(), nil
}

func (ks *KeyStore) unseal(sealed []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(sealed), ks.identity)
	if err != nil {
		return nil, err
	}
	key, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted key: %w", err)
	}
	return key, nil
}

var _ keystore.KeyStore = (*KeyStore)(nil)
