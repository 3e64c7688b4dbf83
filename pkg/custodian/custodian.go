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

// Package custodian ensures the hardware key protecting the super key
// credential exists in the configured key store and hands out its handle.
package custodian

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jeremyhahn/go-superkey/pkg/keystore"
	"github.com/jeremyhahn/go-superkey/pkg/logging"
	"github.com/jeremyhahn/go-superkey/pkg/metrics"
)

// DefaultAlias is the alias of the super key security key.
const DefaultAlias = "SuperKeySecurityKey"

// ErrNoKeyStore is returned by New when no key store is supplied.
var ErrNoKeyStore = errors.New("custodian: key store is required")

// Custodian owns the lifecycle of one key in a key store.
type Custodian struct {
	mu     sync.Mutex
	store  keystore.KeyStore
	alias  string
	logger *logging.Logger
	handle keystore.KeyHandle
	ready  bool

	// incremented each time this custodian generates key material
	generation uint64
}

// Option configures a Custodian.
type Option func(*Custodian)

// WithAlias overrides DefaultAlias.
func WithAlias(alias string) Option {
	return func(c *Custodian) {
		c.alias = alias
	}
}

// WithLogger sets the logger. The default is logging.DefaultLogger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Custodian) {
		c.logger = logger
	}
}

// New returns a Custodian for store. No key store calls are made until
// EnsureKey or Key.
func New(store keystore.KeyStore, opts ...Option) (*Custodian, error) {
	if store == nil {
		return nil, ErrNoKeyStore
	}
	c := &Custodian{
		store: store,
		alias: DefaultAlias,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := keystore.ValidateAlias(c.alias); err != nil {
		return nil, err
	}
	if c.logger == nil {
		c.logger = logging.DefaultLogger()
	}
	c.logger = c.logger.With("component", "custodian", "alias", c.alias, "store", store.Type().String())
	return c, nil
}

// Alias returns the key alias.
func (c *Custodian) Alias() string {
	return c.alias
}

// StoreType returns the type of the underlying key store.
func (c *Custodian) StoreType() keystore.StoreType {
	return c.store.Type()
}

// Ready reports whether the key has been confirmed or created.
func (c *Custodian) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Generation counts the keys this custodian has generated. Callers that
// bind state to the key compare it across calls to detect regeneration.
func (c *Custodian) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// EnsureKey creates the key when the store does not hold it. created is
// true only when this call generated new key material. A concurrent
// creator winning the race is reported as created == false.
func (c *Custodian) EnsureKey() (created bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureKey()
}

func (c *Custodian) ensureKey() (bool, error) {
	start := time.Now()
	storeType := c.store.Type().String()

	has, err := c.store.HasKey(c.alias)
	if err != nil {
		err = wrap(keystore.ErrUnavailable, err)
		c.fail(err)
		metrics.RecordOperation(metrics.OpEnsureKey, storeType, metrics.StatusError, time.Since(start).Seconds())
		return false, err
	}
	if has {
		c.ready = true
		metrics.RecordOperation(metrics.OpEnsureKey, storeType, metrics.StatusSuccess, time.Since(start).Seconds())
		return false, nil
	}

	handle, err := c.store.CreateKey(keystore.DefaultKeySpec(c.alias))
	switch {
	case errors.Is(err, keystore.ErrKeyExists):
		c.logger.Debug("key created concurrently")
		c.handle = nil
		c.ready = true
		metrics.RecordOperation(metrics.OpEnsureKey, storeType, metrics.StatusSuccess, time.Since(start).Seconds())
		return false, nil
	case err != nil:
		if !errors.Is(err, keystore.ErrUnavailable) {
			err = wrap(keystore.ErrKeyGeneration, err)
		}
		c.fail(err)
		metrics.RecordOperation(metrics.OpEnsureKey, storeType, metrics.StatusError, time.Since(start).Seconds())
		return false, err
	}

	c.handle = handle
	c.ready = true
	c.generation++
	c.logger.Info("generated super key", "generation", c.generation)
	metrics.RecordKeyGeneration(storeType)
	metrics.RecordOperation(metrics.OpEnsureKey, storeType, metrics.StatusSuccess, time.Since(start).Seconds())
	return true, nil
}

// Key ensures the key exists and returns a handle to it.
func (c *Custodian) Key() (keystore.KeyHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.ensureKey(); err != nil {
		return nil, err
	}
	if c.handle != nil {
		return c.handle, nil
	}
	handle, err := c.store.GetKey(c.alias)
	if err != nil {
		if !errors.Is(err, keystore.ErrUnavailable) {
			err = wrap(keystore.ErrUnavailable, err)
		}
		c.fail(err)
		return nil, err
	}
	c.handle = handle
	return handle, nil
}

func (c *Custodian) fail(err error) {
	c.ready = false
	c.handle = nil
	c.logger.Error(err)
}

func wrap(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
