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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
logging:
  level: debug
  format: json

metrics:
  enabled: true
  textfile: /var/lib/node_exporter/superkey.prom

keystore:
  type: software
  alias: AppKey
  software:
    passphrase_file: /etc/superkey/passphrase
    work_factor: 15

storage:
  backend: badger
  path: /data/superkey
  namespace: app

rng:
  mode: software
`

func TestLoad_Success(t *testing.T) {
	path := filepath.Join(t.TempDir(), "superkey.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validYAML), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Debug())
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, KeyStoreSoftware, cfg.KeyStore.Type)
	assert.Equal(t, "AppKey", cfg.KeyStore.Alias)
	require.NotNil(t, cfg.KeyStore.Software)
	assert.Equal(t, 15, cfg.KeyStore.Software.WorkFactor)
	assert.Equal(t, StorageBadger, cfg.Storage.Backend)
	assert.Equal(t, "/data/superkey", cfg.Storage.Path)
	assert.Equal(t, "app", cfg.Storage.Namespace)
	assert.Equal(t, "software", cfg.RNG.Mode)
	assert.True(t, cfg.RNG.Fallback, "unset fields keep their defaults")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("keystore: [unclosed"))
	assert.Error(t, err)
}

func TestParse_VaultDuration(t *testing.T) {
	cfg, err := Parse([]byte(`
keystore:
  type: tpm2
storage:
  backend: vault
  vault:
    address: https://vault.example.com:8200
    mount_path: kv
    timeout: 5s
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Storage.Vault)
	assert.Equal(t, 5*time.Second, cfg.Storage.Vault.Timeout)
	assert.Equal(t, "kv", cfg.Storage.Vault.MountPath)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SUPERKEY_LOG_LEVEL", "warn")
	t.Setenv("SUPERKEY_DATA_DIR", "/srv/superkey")
	t.Setenv("SUPERKEY_KEYSTORE", "pkcs11")
	t.Setenv("SUPERKEY_PASSPHRASE", "from-env")
	t.Setenv("SUPERKEY_PKCS11_LIBRARY", "/usr/lib/softhsm/libsofthsm2.so")
	t.Setenv("SUPERKEY_PKCS11_TOKEN", "superkey")
	t.Setenv("SUPERKEY_PKCS11_PIN", "1234")
	t.Setenv("SUPERKEY_PKCS11_SLOT", "3")
	t.Setenv("SUPERKEY_TPM_DEVICE", "/dev/tpm0")

	cfg := Default()
	cfg.Storage.Vault = &VaultConfig{}
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:8200")
	t.Setenv("VAULT_TOKEN", "root")
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/srv/superkey", cfg.Storage.Path)
	assert.Equal(t, KeyStorePKCS11, cfg.KeyStore.Type)
	assert.Equal(t, "from-env", cfg.KeyStore.Software.Passphrase)
	assert.Equal(t, "/usr/lib/softhsm/libsofthsm2.so", cfg.KeyStore.PKCS11.Library)
	assert.Equal(t, "superkey", cfg.KeyStore.PKCS11.Token)
	assert.Equal(t, "1234", cfg.KeyStore.PKCS11.Pin)
	require.NotNil(t, cfg.KeyStore.PKCS11.Slot)
	assert.Equal(t, 3, *cfg.KeyStore.PKCS11.Slot)
	assert.Equal(t, "/dev/tpm0", cfg.KeyStore.TPM2.DevicePath)
	assert.Equal(t, "http://127.0.0.1:8200", cfg.Storage.Vault.Address)
	assert.Equal(t, "root", cfg.Storage.Vault.Token)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.KeyStore.Software = &SoftwareConfig{Passphrase: "secret"}
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"metrics textfile", func(c *Config) { c.Metrics.Enabled = true }},
		{"empty alias", func(c *Config) { c.KeyStore.Alias = "" }},
		{"keystore type", func(c *Config) { c.KeyStore.Type = "awskms" }},
		{"software secret", func(c *Config) { c.KeyStore.Software = nil }},
		{"pkcs11 library", func(c *Config) { c.KeyStore.Type = KeyStorePKCS11 }},
		{"pkcs11 token", func(c *Config) {
			c.KeyStore.Type = KeyStorePKCS11
			c.KeyStore.PKCS11 = &PKCS11Config{Library: "/lib/p11.so"}
		}},
		{"storage backend", func(c *Config) { c.Storage.Backend = "s3" }},
		{"storage path", func(c *Config) { c.Storage.Path = "" }},
		{"vault address", func(c *Config) { c.Storage.Backend = StorageVault }},
		{"namespace", func(c *Config) { c.Storage.Namespace = "../escape" }},
		{"rng mode", func(c *Config) { c.RNG.Mode = "quantum" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidate_MemoryAndTPM(t *testing.T) {
	cfg := Default()
	cfg.KeyStore.Type = KeyStoreTPM2
	cfg.Storage.Backend = StorageMemory
	cfg.Storage.Path = ""
	assert.NoError(t, cfg.Validate())
}
