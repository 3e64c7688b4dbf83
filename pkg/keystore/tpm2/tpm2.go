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

// Package tpm2 implements keystore.KeyStore with a TPM 2.0. The AES key is
// generated by the TPM RNG and sealed as a keyed hash data object under an
// ECC storage root key, so the key blobs in storage are only usable on the
// TPM that created them. GCM itself runs on the host because TPM2_EncryptDecrypt
// has no GCM mode; unsealed keys stay inside memguard enclaves.
package tpm2

import (
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/jeremyhahn/go-superkey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-superkey/pkg/keystore"
	"github.com/jeremyhahn/go-superkey/pkg/logging"
	"github.com/jeremyhahn/go-superkey/pkg/storage"
)

// sealedKeyTemplate is the public area of the data object holding the
// AES key: no scheme, fixed to this TPM and parent.
var sealedKeyTemplate = tpm2.TPMTPublic{
	Type:    tpm2.TPMAlgKeyedHash,
	NameAlg: tpm2.TPMAlgSHA256,
	ObjectAttributes: tpm2.TPMAObject{
		FixedTPM:     true,
		FixedParent:  true,
		UserWithAuth: true,
		NoDA:         true,
	},
	Parameters: tpm2.NewTPMUPublicParms(
		tpm2.TPMAlgKeyedHash,
		&tpm2.TPMSKeyedHashParms{
			Scheme: tpm2.TPMTKeyedHashScheme{
				Scheme: tpm2.TPMAlgNull,
			},
		},
	),
}

// KeyStore is the TPM backed key store.
type KeyStore struct {
	mu        sync.RWMutex
	config    *Config
	tpm       transport.TPMCloser
	srkHandle tpm2.TPMHandle
	srkName   tpm2.TPM2BName
	storage   storage.Backend
	logger    *logging.Logger
	handles   map[string]*keystore.EnclaveHandle
	closed    bool
}

// New opens the TPM and creates the storage root key.
func New(config *Config) (*KeyStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	t, err := openTransport(config)
	if err != nil {
		logger.Error(err)
		return nil, fmt.Errorf("%w: %w", keystore.ErrUnavailable, err)
	}

	srk, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: tpm2.New2B(tpm2.ECCSRKTemplate),
	}.Execute(t)
	if err != nil {
		_ = t.Close()
		logger.Error(err)
		return nil, fmt.Errorf("%w: create storage root key: %w", keystore.ErrUnavailable, err)
	}

	return &KeyStore{
		config:    config,
		tpm:       t,
		srkHandle: srk.ObjectHandle,
		srkName:   srk.Name,
		storage:   config.KeyStorage,
		logger:    logger,
		handles:   make(map[string]*keystore.EnclaveHandle),
	}, nil
}

// Type returns keystore.StoreTypeTPM2.
func (ks *KeyStore) Type() keystore.StoreType {
	return keystore.StoreTypeTPM2
}

func (ks *KeyStore) srk() tpm2.AuthHandle {
	return tpm2.AuthHandle{
		Handle: ks.srkHandle,
		Name:   ks.srkName,
		Auth:   tpm2.PasswordAuth(nil),
	}
}

// HasKey reports whether both sealed blobs exist for alias.
func (ks *KeyStore) HasKey(alias string) (bool, error) {
	if err := keystore.ValidateAlias(alias); err != nil {
		return false, err
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.closed {
		return false, keystore.ErrClosed
	}
	return ks.hasKey(alias)
}

func (ks *KeyStore) hasKey(alias string) (bool, error) {
	for _, ext := range []string{storage.ExtPublicBlob, storage.ExtPrivBlob} {
		ok, err := ks.storage.Exists(storage.KeyPath(alias, ext))
		if err != nil {
			return false, fmt.Errorf("%w: %w", keystore.ErrUnavailable, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// CreateKey draws key material from the TPM RNG and seals it.
func (ks *KeyStore) CreateKey(spec *keystore.KeySpec) (keystore.KeyHandle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return nil, keystore.ErrClosed
	}
	exists, err := ks.hasKey(spec.Alias)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyExists, spec.Alias)
	}

	key, err := ks.random().Rand(spec.KeySize / 8)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", keystore.ErrKeyGeneration, err)
	}

	createRsp, err := tpm2.Create{
		ParentHandle: ks.srk(),
		InPublic:     tpm2.New2B(sealedKeyTemplate),
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				Data: tpm2.NewTPMUSensitiveCreate(
					&tpm2.TPM2BSensitiveData{Buffer: key},
				),
			},
		},
	}.Execute(ks.tpm)
	if err != nil {
		memguard.WipeBytes(key)
		return nil, fmt.Errorf("%w: seal %s: %w", keystore.ErrKeyGeneration, spec.Alias, err)
	}

	privPath := storage.KeyPath(spec.Alias, storage.ExtPrivBlob)
	pubPath := storage.KeyPath(spec.Alias, storage.ExtPublicBlob)
	if err := storage.SaveKey(ks.storage, privPath, tpm2.Marshal(createRsp.OutPrivate)); err != nil {
		memguard.WipeBytes(key)
		return nil, fmt.Errorf("%w: save private blob: %w", keystore.ErrKeyGeneration, err)
	}
	// The public blob is written last; HasKey requires both.
	if err := storage.SaveKey(ks.storage, pubPath, tpm2.Marshal(createRsp.OutPublic)); err != nil {
		memguard.WipeBytes(key)
		_ = storage.DeleteIfExists(ks.storage, privPath)
		return nil, fmt.Errorf("%w: save public blob: %w", keystore.ErrKeyGeneration, err)
	}

	handle, err := keystore.NewEnclaveHandle(spec.Alias, key)
	if err != nil {
		return nil, err
	}
	ks.handles[spec.Alias] = handle
	ks.logger.Debug("tpm2 sealed key created", "alias", spec.Alias, "bits", spec.KeySize)
	return handle, nil
}

// GetKey loads and unseals the data object for alias.
func (ks *KeyStore) GetKey(alias string) (keystore.KeyHandle, error) {
	if err := keystore.ValidateAlias(alias); err != nil {
		return nil, err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return nil, keystore.ErrClosed
	}
	if h, ok := ks.handles[alias]; ok {
		return h, nil
	}

	key, err := ks.unseal(alias)
	if err != nil {
		return nil, err
	}
	handle, err := keystore.NewEnclaveHandle(alias, key)
	if err != nil {
		return nil, err
	}
	ks.handles[alias] = handle
	return handle, nil
}

func (ks *KeyStore) unseal(alias string) ([]byte, error) {
	privBlob, err := ks.storage.Get(storage.KeyPath(alias, storage.ExtPrivBlob))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", keystore.ErrUnavailable, err)
	}
	pubBlob, err := ks.storage.Get(storage.KeyPath(alias, storage.ExtPublicBlob))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", keystore.ErrUnavailable, err)
	}

	priv, err := tpm2.Unmarshal[tpm2.TPM2BPrivate](privBlob)
	if err != nil {
		return nil, fmt.Errorf("%w: private blob for %s: %w", keystore.ErrUnavailable, alias, err)
	}
	pub, err := tpm2.Unmarshal[tpm2.TPM2BPublic](pubBlob)
	if err != nil {
		return nil, fmt.Errorf("%w: public blob for %s: %w", keystore.ErrUnavailable, alias, err)
	}

	loadRsp, err := tpm2.Load{
		ParentHandle: ks.srk(),
		InPrivate:    *priv,
		InPublic:     *pub,
	}.Execute(ks.tpm)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %w", keystore.ErrUnavailable, alias, err)
	}
	defer func() {
		_, _ = tpm2.FlushContext{FlushHandle: loadRsp.ObjectHandle}.Execute(ks.tpm)
	}()

	unsealRsp, err := tpm2.Unseal{
		ItemHandle: tpm2.AuthHandle{
			Handle: loadRsp.ObjectHandle,
			Name:   loadRsp.Name,
			Auth:   tpm2.PasswordAuth(nil),
		},
	}.Execute(ks.tpm)
	if err != nil {
		return nil, fmt.Errorf("%w: unseal %s: %w", keystore.ErrUnavailable, alias, err)
	}
	return unsealRsp.OutData.Buffer, nil
}

// DeleteKey removes the sealed blobs for alias.
func (ks *KeyStore) DeleteKey(alias string) error {
	if err := keystore.ValidateAlias(alias); err != nil {
		return err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return keystore.ErrClosed
	}
	exists, err := ks.hasKey(alias)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	delete(ks.handles, alias)
	if err := storage.DeleteIfExists(ks.storage, storage.KeyPath(alias, storage.ExtPublicBlob)); err != nil {
		return err
	}
	return storage.DeleteIfExists(ks.storage, storage.KeyPath(alias, storage.ExtPrivBlob))
}

// random returns a GetRandom backed source. Caller holds ks.mu.
func (ks *KeyStore) random() rand.Source {
	return rand.NewChunkedSource("tpm2", ks.config.MaxRandomRequest, func(n int) ([]byte, error) {
		rsp, err := tpm2.GetRandom{BytesRequested: uint16(n)}.Execute(ks.tpm)
		if err != nil {
			return nil, fmt.Errorf("TPM2 GetRandom failed: %w", err)
		}
		return rsp.RandomBytes.Buffer, nil
	})
}

// RandomSource exposes the TPM RNG for IV generation.
func (ks *KeyStore) RandomSource() (rand.Source, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.closed {
		return nil, keystore.ErrClosed
	}
	return &lockedSource{ks: ks, src: ks.random()}, nil
}

// lockedSource serializes RNG calls with other TPM commands.
type lockedSource struct {
	ks  *KeyStore
	src rand.Source
}

func (s *lockedSource) Name() string { return s.src.Name() }

func (s *lockedSource) Rand(n int) ([]byte, error) {
	s.ks.mu.Lock()
	defer s.ks.mu.Unlock()
	if s.ks.closed {
		return nil, keystore.ErrClosed
	}
	return s.src.Rand(n)
}

func (s *lockedSource) Available() bool {
	s.ks.mu.RLock()
	defer s.ks.mu.RUnlock()
	return !s.ks.closed
}

// Close leaves the TPM open; the key store owns the device.
func (s *lockedSource) Close() error { return nil }

// Close flushes the SRK and closes the TPM transport.
func (ks *KeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return nil
	}
	ks.closed = true
	ks.handles = nil
	if _, err := (tpm2.FlushContext{FlushHandle: ks.srkHandle}).Execute(ks.tpm); err != nil {
		ks.logger.Warnf("tpm2 keystore: flush srk: %v", err)
	}
	return ks.tpm.Close()
}

var (
	_ keystore.KeyStore     = (*KeyStore)(nil)
	_ keystore.RandomSource = (*KeyStore)(nil)
)
