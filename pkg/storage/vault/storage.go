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

// Package vault stores preference records in a HashiCorp Vault KV version 2
// secrets engine. Values are base64 encoded under a single "value" field so
// binary sealed key blobs survive the JSON round trip.
package vault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	vault "github.com/hashicorp/vault/api"

	"github.com/jeremyhahn/go-superkey/pkg/storage"
)

const (
	valueField     = "value"
	defaultMount   = "secret"
	defaultTimeout = 10 * time.Second
)

// Config holds the connection settings for the KV v2 backend.
type Config struct {
	// Address is the Vault server address (e.g., "http://127.0.0.1:8200")
	Address string

	// Token is the Vault authentication token
	Token string

	// Mount is the KV v2 mount path (default: "secret")
	Mount string

	// BasePath prefixes every storage key inside the mount
	BasePath string

	// Namespace is the Vault namespace (Enterprise feature, optional)
	Namespace string

	// TLSSkipVerify disables TLS certificate verification
	TLSSkipVerify bool

	// Timeout bounds each request (default: 10s)
	Timeout time.Duration
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("vault address is required")
	}
	if c.Token == "" {
		return fmt.Errorf("vault token is required")
	}
	if c.Mount == "" {
		c.Mount = defaultMount
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	c.Mount = strings.Trim(c.Mount, "/")
	c.BasePath = strings.Trim(c.BasePath, "/")
	return nil
}

// Storage implements storage.Backend over KV v2.
type Storage struct {
	mu     sync.RWMutex
	client *vault.Client
	kv     *vault.KVv2
	config *Config
	closed bool
}

// New connects to Vault using cfg.
func New(cfg *Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vault storage: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("vault storage: %w", err)
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = cfg.Address
	vaultConfig.Timeout = cfg.Timeout
	if cfg.TLSSkipVerify {
		if err := vaultConfig.ConfigureTLS(&vault.TLSConfig{Insecure: true}); err != nil {
			return nil, fmt.Errorf("vault storage: failed to configure TLS: %w", err)
		}
	}

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("vault storage: failed to create client: %w", err)
	}
	client.SetToken(cfg.Token)
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	return &Storage{
		client: client,
		kv:     client.KVv2(cfg.Mount),
		config: cfg,
	}, nil
}

func (s *Storage) secretPath(key string) string {
	if s.config.BasePath == "" {
		return key
	}
	return path.Join(s.config.BasePath, key)
}

func (s *Storage) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.config.Timeout)
}

// Get reads the latest version of key.
func (s *Storage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	if key == "" {
		return nil, storage.ErrInvalidKey
	}
	ctx, cancel := s.context()
	defer cancel()

	secret, err := s.kv.Get(ctx, s.secretPath(key))
	if errors.Is(err, vault.ErrSecretNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vault storage: failed to read key %q: %w", key, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, storage.ErrNotFound
	}
	encoded, ok := secret.Data[valueField].(string)
	if !ok {
		return nil, fmt.Errorf("vault storage: key %q has no %s field", key, valueField)
	}
	value, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault storage: key %q is not base64: %w", key, err)
	}
	return value, nil
}

// Put writes a new version of key. Options.Metadata is stored as KV v2
// custom metadata.
func (s *Storage) Put(key string, value []byte, opts *storage.Options) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return storage.ErrClosed
	}
	if key == "" {
		return storage.ErrInvalidKey
	}
	ctx, cancel := s.context()
	defer cancel()

	data := map[string]interface{}{
		valueField: base64.StdEncoding.EncodeToString(value),
	}
	if _, err := s.kv.Put(ctx, s.secretPath(key), data); err != nil {
		return fmt.Errorf("vault storage: failed to write key %q: %w", key, err)
	}

	if opts != nil && len(opts.Metadata) > 0 {
		custom := make(map[string]interface{}, len(opts.Metadata))
		for k, v := range opts.Metadata {
			custom[k] = v
		}
		err := s.kv.PutMetadata(ctx, s.secretPath(key), vault.KVMetadataPutInput{
			CustomMetadata: custom,
		})
		if err != nil {
			return fmt.Errorf("vault storage: failed to write metadata for %q: %w", key, err)
		}
	}
	return nil
}

// Delete removes every version of key along with its metadata.
func (s *Storage) Delete(key string) error {
	if ok, err := s.Exists(key); err != nil {
		return err
	} else if !ok {
		return storage.ErrNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := s.context()
	defer cancel()

	if err := s.kv.DeleteMetadata(ctx, s.secretPath(key)); err != nil {
		return fmt.Errorf("vault storage: failed to delete key %q: %w", key, err)
	}
	return nil
}

// List walks the metadata tree below BasePath and returns keys with prefix.
func (s *Storage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrClosed
	}
	ctx, cancel := s.context()
	defer cancel()

	keys := make([]string, 0)
	if err := s.walk(ctx, "", prefix, &keys); err != nil {
		return nil, fmt.Errorf("vault storage: failed to list keys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Storage) walk(ctx context.Context, dir, prefix string, out *[]string) error {
	listPath := path.Join(s.config.Mount, "metadata", s.config.BasePath, dir)
	secret, err := s.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return err
	}
	if secret == nil || secret.Data == nil {
		return nil
	}
	entries, _ := secret.Data["keys"].([]interface{})
	for _, e := range entries {
		name, ok := e.(string)
		if !ok {
			continue
		}
		if strings.HasSuffix(name, "/") {
			sub := dir + name
			if strings.HasPrefix(sub, prefix) || strings.HasPrefix(prefix, sub) {
				if err := s.walk(ctx, sub, prefix, out); err != nil {
					return err
				}
			}
			continue
		}
		key := dir + name
		if strings.HasPrefix(key, prefix) {
			*out = append(*out, key)
		}
	}
	return nil
}

// Exists reports whether key has a readable latest version.
func (s *Storage) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close clears the client token.
func (s *Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.client.ClearToken()
	}
	return nil
}

var _ storage.Backend = (*Storage)(nil)
