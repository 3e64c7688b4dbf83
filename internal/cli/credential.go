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

package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-superkey/internal/service"
)

// initCmd provisions the key
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the key if it does not exist",
	Long: `Ensure the key exists in the configured key store. Running init
again is a no-op. When a new key is created any stored IV is discarded.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *service.Service) error {
			if err := svc.Envelope.Init(); err != nil {
				return err
			}
			return printer(cmd).PrintSuccess(fmt.Sprintf("Key %s ready in %s key store",
				svc.Custodian.Alias(), svc.Custodian.StoreType()))
		})
	},
}

// readCmd decrypts the credential
var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Decrypt and print the credential",
	Long: `Decrypt and print the credential. A legacy plaintext credential is
encrypted, stored and removed before it is printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *service.Service) error {
			credential, err := svc.Envelope.Read()
			if err != nil {
				return err
			}
			return printer(cmd).PrintCredential(credential)
		})
	},
}

// writeCmd encrypts and stores the credential
var writeCmd = &cobra.Command{
	Use:   "write [credential]",
	Short: "Encrypt and store the credential",
	Long: `Encrypt and store the credential. Without an argument the credential
is read from standard input, up to the first newline, so it does not
appear in shell history. Nothing is stored while skip persistence is
enabled.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		credential, err := credentialInput(cmd, args)
		if err != nil {
			return err
		}
		return withService(cmd, func(svc *service.Service) error {
			skip, err := svc.Envelope.IsSkipPersistenceEnabled()
			if err != nil {
				return err
			}
			if err := svc.Envelope.Write(credential); err != nil {
				return err
			}
			if skip {
				return printer(cmd).PrintSuccess("Skip persistence is enabled, credential not stored")
			}
			return printer(cmd).PrintSuccess("Credential stored")
		})
	},
}

// clearCmd removes the credential records
var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the stored credential, legacy record and IV",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if !force {
			return errors.New("refusing to clear the credential without --force")
		}
		return withService(cmd, func(svc *service.Service) error {
			if err := svc.Envelope.Clear(); err != nil {
				return err
			}
			return printer(cmd).PrintSuccess("Credential records removed")
		})
	},
}

func init() {
	clearCmd.Flags().Bool("force", false, "skip confirmation")
}

func credentialInput(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	in := cmd.InOrStdin()
	if isTerminal(in) {
		fmt.Fprint(cmd.ErrOrStderr(), "Credential: ")
	}
	buf, err := io.ReadAll(io.LimitReader(in, 64*1024))
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	defer memguard.WipeBytes(buf)

	line, _, _ := strings.Cut(string(buf), "\n")
	return strings.TrimSuffix(line, "\r"), nil
}
