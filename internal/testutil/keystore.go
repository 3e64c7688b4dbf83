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

// Package testutil provides an in-memory key store with failure injection
// for custodian, envelope and CLI tests.
package testutil

import (
	"crypto/rand"
	"sync"

	"github.com/jeremyhahn/go-superkey/pkg/keystore"
)

// KeyStore is an in-memory keystore.KeyStore. The Fail* fields inject
// errors into the matching operation; they may be changed between calls.
type KeyStore struct {
	mu   sync.Mutex
	keys map[string]*keystore.EnclaveHandle

	FailHas    error
	FailCreate error
	FailGet    error

	// RaceCreate makes CreateKey behave as if another process created
	// the key between HasKey and CreateKey.
	RaceCreate bool

	Creates int
	Gets    int
	closed  bool
}

// NewKeyStore returns an empty KeyStore.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]*keystore.EnclaveHandle)}
}

func (ks *KeyStore) Type() keystore.StoreType {
	return keystore.StoreTypeSoftware
}

func (ks *KeyStore) HasKey(alias string) (bool, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return false, keystore.ErrClosed
	}
	if ks.FailHas != nil {
		return false, ks.FailHas
	}
	_, ok := ks.keys[alias]
	return ok, nil
}

func (ks *KeyStore) CreateKey(spec *keystore.KeySpec) (keystore.KeyHandle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return nil, keystore.ErrClosed
	}
	if ks.FailCreate != nil {
		return nil, ks.FailCreate
	}
	if ks.RaceCreate {
		ks.RaceCreate = false
		if err := ks.generate(spec); err != nil {
			return nil, err
		}
		return nil, keystore.ErrKeyExists
	}
	if _, ok := ks.keys[spec.Alias]; ok {
		return nil, keystore.ErrKeyExists
	}
	if err := ks.generate(spec); err != nil {
		return nil, err
	}
	ks.Creates++
	return ks.keys[spec.Alias], nil
}

func (ks *KeyStore) generate(spec *keystore.KeySpec) error {
	raw := make([]byte, spec.KeySize/8)
	if _, err := rand.Read(raw); err != nil {
		return err
	}
	h, err := keystore.NewEnclaveHandle(spec.Alias, raw)
	if err != nil {
		return err
	}
	ks.keys[spec.Alias] = h
	return nil
}

func (ks *KeyStore) GetKey(alias string) (keystore.KeyHandle, error) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return nil, keystore.ErrClosed
	}
	if ks.FailGet != nil {
		return nil, ks.FailGet
	}
	h, ok := ks.keys[alias]
	if !ok {
		return nil, keystore.ErrKeyNotFound
	}
	ks.Gets++
	return h, nil
}

func (ks *KeyStore) DeleteKey(alias string) error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if ks.closed {
		return keystore.ErrClosed
	}
	if _, ok := ks.keys[alias]; !ok {
		return keystore.ErrKeyNotFound
	}
	delete(ks.keys, alias)
	return nil
}

func (ks *KeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.closed = true
	return nil
}

var _ keystore.KeyStore = (*KeyStore)(nil)
