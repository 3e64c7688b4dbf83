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

//go:build pkcs11

// Package pkcs11 implements keystore.KeyStore on a PKCS#11 token through
// crypto11. The AES key is generated on the token as a non extractable
// CKO_SECRET_KEY and every GCM operation runs on the token (CKM_AES_GCM)
// with the caller's IV.
package pkcs11

import (
	"crypto/cipher"
	"errors"
	"fmt"
	"sync"

	"github.com/ThalesGroup/crypto11"
	"github.com/miekg/pkcs11"

	"github.com/jeremyhahn/go-superkey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-superkey/pkg/keystore"
	"github.com/jeremyhahn/go-superkey/pkg/logging"
)

// contextRef tracks reference count for a cached context
type contextRef struct {
	ctx      *crypto11.Context
	refCount int
}

// contextCache stores crypto11 contexts keyed by library, token and PIN.
// A token may only be logged in once per process.
var (
	contextCache   = make(map[string]*contextRef)
	contextCacheMu sync.Mutex
)

func contextCacheKey(config *Config) string {
	slot := -1
	if config.Slot != nil {
		slot = *config.Slot
	}
	return fmt.Sprintf("%s:%s:%d:%s", config.Library, config.TokenLabel, slot, config.PIN)
}

func acquireContext(config *Config) (*crypto11.Context, error) {
	key := contextCacheKey(config)

	contextCacheMu.Lock()
	defer contextCacheMu.Unlock()

	if ref, ok := contextCache[key]; ok {
		ref.refCount++
		return ref.ctx, nil
	}
	ctx, err := crypto11.Configure(&crypto11.Config{
		Path:       config.Library,
		TokenLabel: config.TokenLabel,
		SlotNumber: config.Slot,
		Pin:        config.PIN,
	})
	if err != nil {
		return nil, err
	}
	contextCache[key] = &contextRef{ctx: ctx, refCount: 1}
	return ctx, nil
}

func releaseContext(config *Config) error {
	key := contextCacheKey(config)

	contextCacheMu.Lock()
	ref, ok := contextCache[key]
	if !ok {
		contextCacheMu.Unlock()
		return nil
	}
	ref.refCount--
	if ref.refCount > 0 {
		contextCacheMu.Unlock()
		return nil
	}
	delete(contextCache, key)
	contextCacheMu.Unlock()
	return ref.ctx.Close()
}

// KeyStore is the PKCS#11 key store.
type KeyStore struct {
	mu     sync.RWMutex
	config *Config
	ctx    *crypto11.Context
	logger *logging.Logger
	closed bool
}

// New logs in to the token.
func New(config *Config) (keystore.KeyStore, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.DefaultLogger()
	}

	ctx, err := acquireContext(config)
	if err != nil {
		logger.Error(err)
		return nil, fmt.Errorf("%w: %w", keystore.ErrUnavailable, err)
	}
	logger.Debug("pkcs11 token opened", "library", config.Library, "token", config.TokenLabel)
	return &KeyStore{config: config, ctx: ctx, logger: logger}, nil
}

// Type returns keystore.StoreTypePKCS11.
func (ks *KeyStore) Type() keystore.StoreType {
	return keystore.StoreTypePKCS11
}

func (ks *KeyStore) find(alias string) (*crypto11.SecretKey, error) {
	key, err := ks.ctx.FindKey(nil, []byte(alias))
	if err != nil {
		return nil, classify(err, keystore.ErrUnavailable)
	}
	return key, nil
}

// HasKey searches the token for a secret key labelled alias.
func (ks *KeyStore) HasKey(alias string) (bool, error) {
	if err := keystore.ValidateAlias(alias); err != nil {
		return false, err
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.closed {
		return false, keystore.ErrClosed
	}
	key, err := ks.find(alias)
	if err != nil {
		return false, err
	}
	return key != nil, nil
}

// CreateKey generates an AES key on the token.
func (ks *KeyStore) CreateKey(spec *keystore.KeySpec) (keystore.KeyHandle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return nil, keystore.ErrClosed
	}
	existing, err := ks.find(spec.Alias)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyExists, spec.Alias)
	}

	id := []byte(spec.Alias)
	key, err := ks.ctx.GenerateSecretKeyWithLabel(id, []byte(spec.Alias), spec.KeySize, crypto11.CipherAES)
	if err != nil {
		return nil, classify(err, keystore.ErrKeyGeneration)
	}
	ks.logger.Debug("pkcs11 secret key generated", "alias", spec.Alias, "bits", spec.KeySize)
	return &keyHandle{alias: spec.Alias, key: key}, nil
}

// GetKey returns a handle to the token key labelled alias.
func (ks *KeyStore) GetKey(alias string) (keystore.KeyHandle, error) {
	if err := keystore.ValidateAlias(alias); err != nil {
		return nil, err
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.closed {
		return nil, keystore.ErrClosed
	}
	key, err := ks.find(alias)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	return &keyHandle{alias: alias, key: key}, nil
}

// DeleteKey destroys the token object.
func (ks *KeyStore) DeleteKey(alias string) error {
	if err := keystore.ValidateAlias(alias); err != nil {
		return err
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()

	if ks.closed {
		return keystore.ErrClosed
	}
	key, err := ks.find(alias)
	if err != nil {
		return err
	}
	if key == nil {
		return fmt.Errorf("%w: %s", keystore.ErrKeyNotFound, alias)
	}
	if err := key.Delete(); err != nil {
		return classify(err, keystore.ErrUnavailable)
	}
	return nil
}

// RandomSource exposes C_GenerateRandom for IV generation.
func (ks *KeyStore) RandomSource() (rand.Source, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.closed {
		return nil, keystore.ErrClosed
	}
	r, err := ks.ctx.NewRandomReader()
	if err != nil {
		return nil, classify(err, keystore.ErrUnavailable)
	}
	return rand.NewReaderSource("pkcs11", r), nil
}

// Close releases this store's reference to the token context.
func (ks *KeyStore) Close() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	// crypto11 may panic closing a context whose library was finalized.
	defer func() {
		if r := recover(); r != nil {
			ks.logger.Warnf("pkcs11: recovered closing context: %v", r)
		}
	}()

	if ks.closed {
		return nil
	}
	ks.closed = true
	if err := releaseContext(ks.config); err != nil {
		return fmt.Errorf("failed to close PKCS#11 context: %w", err)
	}
	return nil
}

// keyHandle wraps a token secret key.
type keyHandle struct {
	alias string
	key   *crypto11.SecretKey
}

func (h *keyHandle) Alias() string {
	return h.alias
}

// NewAEAD returns crypto11's token GCM. Only 16 byte tags are supported.
func (h *keyHandle) NewAEAD(tagSize int) (cipher.AEAD, error) {
	if tagSize != 16 {
		return nil, fmt.Errorf("%w: tag size %d", keystore.ErrUnsupportedSpec, tagSize)
	}
	aead, err := h.key.NewGCM()
	if err != nil {
		return nil, classify(err, keystore.ErrUnavailable)
	}
	return aead, nil
}

// unavailableCodes are return values meaning the token is missing or locked.
var unavailableCodes = map[uint]bool{
	pkcs11.CKR_PIN_INCORRECT:            true,
	pkcs11.CKR_PIN_LOCKED:               true,
	pkcs11.CKR_PIN_EXPIRED:              true,
	pkcs11.CKR_USER_NOT_LOGGED_IN:       true,
	pkcs11.CKR_TOKEN_NOT_PRESENT:        true,
	pkcs11.CKR_TOKEN_NOT_RECOGNIZED:     true,
	pkcs11.CKR_DEVICE_REMOVED:           true,
	pkcs11.CKR_DEVICE_ERROR:             true,
	pkcs11.CKR_SESSION_CLOSED:           true,
	pkcs11.CKR_CRYPTOKI_NOT_INITIALIZED: true,
}

// classify wraps err with keystore.ErrUnavailable when the return value
// says the token is missing or locked, otherwise with fallback.
func classify(err error, fallback error) error {
	var p11 pkcs11.Error
	if errors.As(err, &p11) && unavailableCodes[uint(p11)] {
		return fmt.Errorf("%w: %w", keystore.ErrUnavailable, err)
	}
	return fmt.Errorf("%w: %w", fallback, err)
}

var (
	_ keystore.KeyStore     = (*KeyStore)(nil)
	_ keystore.RandomSource = (*KeyStore)(nil)
	_ keystore.KeyHandle    = (*keyHandle)(nil)
)
