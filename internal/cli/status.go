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
	"github.com/jeremyhahn/go-superkey/pkg/crypto/aead"
)

// statusCmd reports the key and record state without creating anything
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show key and credential status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *service.Service) error {
			state, err := svc.Envelope.State()
			if err != nil {
				return err
			}
			present, err := svc.KeyStore.HasKey(svc.Custodian.Alias())
			if err != nil {
				return err
			}
			return printer(cmd).PrintStatus(&StatusReport{
				Alias:      svc.Custodian.Alias(),
				KeyStore:   svc.KeyStore.Type().String(),
				KeyPresent: present,
				Storage:    svc.Config.Storage.Backend,
				Namespace:  svc.Prefs.Namespace(),
				Algorithm:  aead.Algorithm,
				RandomSrc:  svc.Random.Source().Name(),
				AESNI:      aead.HasAESNI(),
				State:      state,
			})
		})
	},
}
