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
	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-superkey/internal/service"
)

// skipCmd manages the skip persistence policy
var skipCmd = &cobra.Command{
	Use:   "skip",
	Short: "Manage the skip persistence policy",
	Long: `While skip persistence is enabled writes are not stored. Enabling it
removes the stored credential, legacy record and IV; disabling it does
not restore them.`,
}

var skipEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Remove the stored credential and stop persisting writes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSkip(cmd, true)
	},
}

var skipDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Persist subsequent writes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return setSkip(cmd, false)
	},
}

var skipStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the skip persistence policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *service.Service) error {
			enabled, err := svc.Envelope.IsSkipPersistenceEnabled()
			if err != nil {
				return err
			}
			return printer(cmd).PrintSkip(enabled)
		})
	},
}

func setSkip(cmd *cobra.Command, enabled bool) error {
	return withService(cmd, func(svc *service.Service) error {
		if err := svc.Envelope.SetSkipPersistence(enabled); err != nil {
			return err
		}
		return printer(cmd).PrintSkip(enabled)
	})
}

func init() {
	skipCmd.AddCommand(skipEnableCmd)
	skipCmd.AddCommand(skipDisableCmd)
	skipCmd.AddCommand(skipStatusCmd)
}
