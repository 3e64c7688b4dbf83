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

// Package service assembles the storage backend, key store, random
// source, custodian and envelope described by a config.Config.
package service

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jeremyhahn/go-superkey/internal/config"
	"github.com/jeremyhahn/go-superkey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-superkey/pkg/custodian"
	"github.com/jeremyhahn/go-superkey/pkg/envelope"
	"github.com/jeremyhahn/go-superkey/pkg/keystore"
	"github.com/jeremyhahn/go-superkey/pkg/keystore/pkcs11"
	"github.com/jeremyhahn/go-superkey/pkg/keystore/software"
	"github.com/jeremyhahn/go-superkey/pkg/keystore/tpm2"
	"github.com/jeremyhahn/go-superkey/pkg/logging"
	"github.com/jeremyhahn/go-superkey/pkg/prefs"
	"github.com/jeremyhahn/go-superkey/pkg/storage"
	badgerstore "github.com/jeremyhahn/go-superkey/pkg/storage/badger"
	"github.com/jeremyhahn/go-superkey/pkg/storage/file"
	vaultstore "github.com/jeremyhahn/go-superkey/pkg/storage/vault"
)

// Service holds the components built from a configuration. Close
// releases them in reverse order.
type Service struct {
	Config    *config.Config
	Storage   storage.Backend
	KeyStore  keystore.KeyStore
	Random    rand.Resolver
	Prefs     *prefs.BackendStore
	Custodian *custodian.Custodian
	Envelope  *envelope.Envelope
	Logger    *logging.Logger
}

// Open builds every component. No key is created until the envelope's
// Init, Read or Write runs.
func Open(cfg *config.Config, logger *logging.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("service: config is required")
	}
	if logger == nil {
		logger = logging.DefaultLogger()
	}
	s := &Service{Config: cfg, Logger: logger}

	var err error
	if s.Storage, err = NewStorage(&cfg.Storage); err != nil {
		return nil, err
	}
	if s.KeyStore, err = NewKeyStore(&cfg.KeyStore, s.Storage, logger); err != nil {
		s.Close()
		return nil, err
	}
	if s.Random, err = NewRandom(&cfg.RNG, s.KeyStore, logger); err != nil {
		s.Close()
		return nil, err
	}
	if s.Prefs, err = prefs.New(s.Storage, cfg.Storage.Namespace); err != nil {
		s.Close()
		return nil, err
	}
	s.Custodian, err = custodian.New(s.KeyStore,
		custodian.WithAlias(cfg.KeyStore.Alias),
		custodian.WithLogger(logger))
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Envelope, err = envelope.New(&envelope.Config{
		Custodian: s.Custodian,
		Prefs:     s.Prefs,
		Random:    s.Random,
		Logger:    logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the random source, key store and storage backend.
func (s *Service) Close() error {
	var errs []error
	if s.Random != nil {
		errs = append(errs, s.Random.Close())
	}
	if s.KeyStore != nil {
		errs = append(errs, s.KeyStore.Close())
	}
	if s.Storage != nil {
		errs = append(errs, s.Storage.Close())
	}
	return errors.Join(errs...)
}

// NewStorage opens the configured storage backend.
func NewStorage(cfg *config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case config.StorageFile, "":
		fs, err := file.New(cfg.Path)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case config.StorageBadger:
		db, err := badgerstore.New(&badgerstore.Config{
			Path:       cfg.Path,
			SyncWrites: cfg.SyncWrites,
		})
		if err != nil {
			return nil, err
		}
		return db, nil
	case config.StorageVault:
		if cfg.Vault == nil {
			return nil, fmt.Errorf("service: vault storage requires vault settings")
		}
		vs, err := vaultstore.New(&vaultstore.Config{
			Address:       cfg.Vault.Address,
			Token:         cfg.Vault.Token,
			Mount:         cfg.Vault.MountPath,
			BasePath:      cfg.Vault.BasePath,
			Namespace:     cfg.Vault.Namespace,
			TLSSkipVerify: cfg.Vault.TLSSkipVerify,
			Timeout:       cfg.Vault.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return vs, nil
	case config.StorageMemory:
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("service: unsupported storage backend %q", cfg.Backend)
	}
}

// NewKeyStore opens the configured key store. Key blobs for the software
// and tpm2 stores are kept in backend.
func NewKeyStore(cfg *config.KeyStoreConfig, backend storage.Backend, logger *logging.Logger) (keystore.KeyStore, error) {
	switch cfg.Type {
	case config.KeyStoreSoftware, "":
		sw := cfg.Software
		if sw == nil {
			return nil, fmt.Errorf("service: software keystore settings are required")
		}
		passphrase := sw.Passphrase
		if passphrase == "" && sw.PassphraseFile != "" {
			p, err := readSecretFile(sw.PassphraseFile)
			if err != nil {
				return nil, err
			}
			passphrase = p
		}
		ks, err := software.New(&software.Config{
			KeyStorage: backend,
			Passphrase: passphrase,
			Identity:   sw.Identity,
			WorkFactor: sw.WorkFactor,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return ks, nil
	case config.KeyStorePKCS11:
		p := cfg.PKCS11
		if p == nil {
			return nil, fmt.Errorf("service: pkcs11 keystore settings are required")
		}
		return pkcs11.New(&pkcs11.Config{
			Library:    p.Library,
			TokenLabel: p.Token,
			Slot:       p.Slot,
			PIN:        p.Pin,
			Logger:     logger,
		})
	case config.KeyStoreTPM2:
		tc := &tpm2.Config{KeyStorage: backend, Logger: logger}
		if cfg.TPM2 != nil {
			tc.Device = cfg.TPM2.DevicePath
			tc.UseSimulator = cfg.TPM2.Simulator
			tc.MaxRandomRequest = cfg.TPM2.MaxRandomRequest
		}
		ks, err := tpm2.New(tc)
		if err != nil {
			return nil, err
		}
		return ks, nil
	default:
		return nil, fmt.Errorf("service: unsupported keystore type %q", cfg.Type)
	}
}

// NewRandom builds the IV random resolver. Hardware mode borrows the key
// store's RNG when it has one.
func NewRandom(cfg *config.RNGConfig, ks keystore.KeyStore, logger *logging.Logger) (rand.Resolver, error) {
	mode, err := rand.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	rc := &rand.Config{Mode: mode, Fallback: cfg.Fallback}
	if mode != rand.ModeSoftware {
		if rs, ok := ks.(keystore.RandomSource); ok {
			src, err := rs.RandomSource()
			if err != nil {
				logger.Warnf("key store random source unavailable: %v", err)
			} else {
				rc.Hardware = src
			}
		}
	}
	return rand.NewResolver(rc)
}

func readSecretFile(path string) (string, error) {
	// #nosec G304 - path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("service: reading passphrase file: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}
