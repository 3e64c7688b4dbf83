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

// Package cli implements the superkey command line interface.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global configuration
	globalConfig *Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "superkey",
	Short: "superkey - hardware protected credential storage",
	Long: `superkey stores a single credential encrypted with AES-GCM under a key
held by a secure key store. The credential is never written in plaintext;
a legacy plaintext record is migrated on first read.

Supported key stores:
  - software: AES key sealed with age (scrypt passphrase or X25519 identity)
  - pkcs11:   AES key generated inside a PKCS#11 HSM (build tag pkcs11)
  - tpm2:     AES key sealed under the TPM 2.0 storage root key

Supported storage backends: file, badger, vault, memory.

Every flag can also be set with a SUPERKEY_ environment variable,
for example SUPERKEY_DATA_DIR or SUPERKEY_KEYSTORE.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	globalConfig = NewConfig()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globalConfig.ConfigFile, "config", "",
		"config file (YAML)")
	flags.StringVarP(&globalConfig.OutputFormat, "output", "o", "text",
		"output format (text, json)")
	flags.BoolVarP(&globalConfig.Verbose, "verbose", "v", false,
		"debug logging")
	flags.String("data-dir", "", "storage directory for the file and badger backends")
	flags.String("storage", "", "storage backend (file, badger, vault, memory)")
	flags.String("namespace", "", "record namespace in the storage backend")
	flags.String("keystore", "", "key store (software, pkcs11, tpm2)")
	flags.String("alias", "", "key alias")
	flags.String("rng", "", "IV random source (auto, software, hardware)")
	flags.String("log-format", "", "log format (text, json)")
	flags.String("passphrase-file", "", "passphrase file for the software key store")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(skipCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(clearCmd)
}

// getConfig returns the global configuration
func getConfig() *Config {
	return globalConfig
}

// HandleError prints an error and exits with code 1
func HandleError(err error) {
	printer := NewPrinter(globalConfig.OutputFormat, os.Stderr)
	_ = printer.PrintError(err) // Error printing to stderr is best-effort
	os.Exit(1)
}
