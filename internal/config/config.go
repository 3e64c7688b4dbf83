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

// Package config loads the superkey YAML configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-superkey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-superkey/pkg/custodian"
	"github.com/jeremyhahn/go-superkey/pkg/logging"
)

const (
	DefaultDataDir   = "/var/lib/superkey"
	DefaultNamespace = "superkey"
)

// Key store types
const (
	KeyStoreSoftware = "software"
	KeyStorePKCS11   = "pkcs11"
	KeyStoreTPM2     = "tpm2"
)

// Storage backends
const (
	StorageFile   = "file"
	StorageBadger = "badger"
	StorageVault  = "vault"
	StorageMemory = "memory"
)

// Config represents the complete superkey configuration
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	KeyStore KeyStoreConfig `yaml:"keystore"`
	Storage  StorageConfig  `yaml:"storage"`
	RNG      RNGConfig      `yaml:"rng"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Syslog bool   `yaml:"syslog"`
}

// MetricsConfig controls the Prometheus textfile export
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Textfile string `yaml:"textfile"`
}

// KeyStoreConfig selects and configures the secure key store
type KeyStoreConfig struct {
	Type     string          `yaml:"type"`
	Alias    string          `yaml:"alias"`
	Software *SoftwareConfig `yaml:"software,omitempty"`
	PKCS11   *PKCS11Config   `yaml:"pkcs11,omitempty"`
	TPM2     *TPM2Config     `yaml:"tpm2,omitempty"`
}

// SoftwareConfig contains age sealed key store settings
type SoftwareConfig struct {
	Passphrase     string `yaml:"passphrase"`
	PassphraseFile string `yaml:"passphrase_file"`
	Identity       string `yaml:"identity"`
	WorkFactor     int    `yaml:"work_factor"`
}

// PKCS11Config contains PKCS#11 key store settings
type PKCS11Config struct {
	Library string `yaml:"library"`
	Token   string `yaml:"token"`
	Slot    *int   `yaml:"slot,omitempty"`
	Pin     string `yaml:"pin"`
}

// TPM2Config contains TPM 2.0 key store settings
type TPM2Config struct {
	DevicePath       string `yaml:"device_path"`
	Simulator        bool   `yaml:"simulator"`
	MaxRandomRequest int    `yaml:"max_random_request"`
}

// StorageConfig selects the backend holding key blobs and records
type StorageConfig struct {
	Backend    string       `yaml:"backend"`
	Path       string       `yaml:"path"`
	Namespace  string       `yaml:"namespace"`
	SyncWrites bool         `yaml:"sync_writes"`
	Vault      *VaultConfig `yaml:"vault,omitempty"`
}

// VaultConfig contains HashiCorp Vault KV v2 settings
type VaultConfig struct {
	Address       string        `yaml:"address"`
	Token         string        `yaml:"token"`
	Namespace     string        `yaml:"namespace"`
	MountPath     string        `yaml:"mount_path"`
	BasePath      string        `yaml:"base_path"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify"`
	Timeout       time.Duration `yaml:"timeout"`
}

// RNGConfig selects the IV random source
type RNGConfig struct {
	Mode     string `yaml:"mode"`
	Fallback bool   `yaml:"fallback"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatText),
		},
		KeyStore: KeyStoreConfig{
			Type:  KeyStoreSoftware,
			Alias: custodian.DefaultAlias,
		},
		Storage: StorageConfig{
			Backend:   StorageFile,
			Path:      DefaultDataDir,
			Namespace: DefaultNamespace,
		},
		RNG: RNGConfig{
			Mode:     string(rand.ModeAuto),
			Fallback: true,
		},
	}
}

// Load reads configuration from a YAML file on top of Default and
// applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration on top of Default
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides applies SUPERKEY_* and VAULT_* environment variables.
// Secrets are normally supplied this way rather than in the file.
func ApplyEnvOverrides(cfg *Config) {
	if level := os.Getenv("SUPERKEY_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("SUPERKEY_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if dataDir := os.Getenv("SUPERKEY_DATA_DIR"); dataDir != "" {
		cfg.Storage.Path = dataDir
	}
	if backend := os.Getenv("SUPERKEY_STORAGE"); backend != "" {
		cfg.Storage.Backend = backend
	}
	if ks := os.Getenv("SUPERKEY_KEYSTORE"); ks != "" {
		cfg.KeyStore.Type = ks
	}
	if alias := os.Getenv("SUPERKEY_ALIAS"); alias != "" {
		cfg.KeyStore.Alias = alias
	}
	if mode := os.Getenv("SUPERKEY_RNG_MODE"); mode != "" {
		cfg.RNG.Mode = mode
	}

	if pass := os.Getenv("SUPERKEY_PASSPHRASE"); pass != "" {
		if cfg.KeyStore.Software == nil {
			cfg.KeyStore.Software = &SoftwareConfig{}
		}
		cfg.KeyStore.Software.Passphrase = pass
	}

	if lib := os.Getenv("SUPERKEY_PKCS11_LIBRARY"); lib != "" {
		if cfg.KeyStore.PKCS11 == nil {
			cfg.KeyStore.PKCS11 = &PKCS11Config{}
		}
		cfg.KeyStore.PKCS11.Library = lib
	}
	if cfg.KeyStore.PKCS11 != nil {
		if token := os.Getenv("SUPERKEY_PKCS11_TOKEN"); token != "" {
			cfg.KeyStore.PKCS11.Token = token
		}
		if pin := os.Getenv("SUPERKEY_PKCS11_PIN"); pin != "" {
			cfg.KeyStore.PKCS11.Pin = pin
		}
		if slot := os.Getenv("SUPERKEY_PKCS11_SLOT"); slot != "" {
			if n, err := strconv.Atoi(slot); err == nil {
				cfg.KeyStore.PKCS11.Slot = &n
			}
		}
	}

	if dev := os.Getenv("SUPERKEY_TPM_DEVICE"); dev != "" {
		if cfg.KeyStore.TPM2 == nil {
			cfg.KeyStore.TPM2 = &TPM2Config{}
		}
		cfg.KeyStore.TPM2.DevicePath = dev
	}

	if cfg.Storage.Vault != nil {
		if addr := os.Getenv("VAULT_ADDR"); addr != "" {
			cfg.Storage.Vault.Address = addr
		}
		if token := os.Getenv("VAULT_TOKEN"); token != "" {
			cfg.Storage.Vault.Token = token
		}
		if namespace := os.Getenv("VAULT_NAMESPACE"); namespace != "" {
			cfg.Storage.Vault.Namespace = namespace
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if _, err := logging.ParseFormat(c.Logging.Format); err != nil {
		return err
	}
	if c.Metrics.Enabled && c.Metrics.Textfile == "" {
		return fmt.Errorf("metrics textfile is required when metrics are enabled")
	}

	if c.KeyStore.Alias == "" {
		return fmt.Errorf("keystore alias must be specified")
	}
	switch c.KeyStore.Type {
	case KeyStoreSoftware:
		sw := c.KeyStore.Software
		if sw == nil || (sw.Passphrase == "" && sw.PassphraseFile == "" && sw.Identity == "") {
			return fmt.Errorf("software keystore requires a passphrase, passphrase_file or identity")
		}
	case KeyStorePKCS11:
		p := c.KeyStore.PKCS11
		if p == nil || p.Library == "" {
			return fmt.Errorf("PKCS11 library is required")
		}
		if p.Token == "" && p.Slot == nil {
			return fmt.Errorf("PKCS11 token or slot is required")
		}
	case KeyStoreTPM2:
		// device path defaults to the resource manager
	default:
		return fmt.Errorf("invalid keystore type: %q (must be software, pkcs11, or tpm2)", c.KeyStore.Type)
	}

	switch c.Storage.Backend {
	case StorageFile, StorageBadger:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified")
		}
	case StorageVault:
		if c.Storage.Vault == nil || c.Storage.Vault.Address == "" {
			return fmt.Errorf("vault address is required for the vault storage backend")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("invalid storage backend: %q (must be file, badger, vault, or memory)", c.Storage.Backend)
	}
	if strings.Contains(strings.Trim(c.Storage.Namespace, "/"), "..") {
		return fmt.Errorf("invalid storage namespace: %q", c.Storage.Namespace)
	}

	if _, err := rand.ParseMode(c.RNG.Mode); err != nil {
		return err
	}
	return nil
}

// Debug reports whether debug logging is configured
func (c *Config) Debug() bool {
	return strings.EqualFold(c.Logging.Level, "debug")
}
