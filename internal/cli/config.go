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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-superkey/internal/config"
	"github.com/jeremyhahn/go-superkey/internal/service"
	"github.com/jeremyhahn/go-superkey/pkg/logging"
	"github.com/jeremyhahn/go-superkey/pkg/metrics"
)

// Config holds global CLI configuration
type Config struct {
	// ConfigFile is the path to the YAML configuration file
	ConfigFile string

	// OutputFormat controls output formatting (text, json)
	OutputFormat string

	// Verbose enables debug logging
	Verbose bool
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		OutputFormat: string(OutputFormatText),
	}
}

// flag name -> setter applied when the flag or its SUPERKEY_ variable is set
var overrides = map[string]func(*config.Config, string){
	"data-dir":   func(c *config.Config, v string) { c.Storage.Path = v },
	"storage":    func(c *config.Config, v string) { c.Storage.Backend = v },
	"namespace":  func(c *config.Config, v string) { c.Storage.Namespace = v },
	"keystore":   func(c *config.Config, v string) { c.KeyStore.Type = v },
	"alias":      func(c *config.Config, v string) { c.KeyStore.Alias = v },
	"rng":        func(c *config.Config, v string) { c.RNG.Mode = v },
	"log-format": func(c *config.Config, v string) { c.Logging.Format = v },
	"passphrase-file": func(c *config.Config, v string) {
		if c.KeyStore.Software == nil {
			c.KeyStore.Software = &config.SoftwareConfig{}
		}
		c.KeyStore.Software.PassphraseFile = v
	},
}

// loadConfig merges the config file, SUPERKEY_* variables and flags,
// in increasing precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SUPERKEY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	var cfg *config.Config
	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
		config.ApplyEnvOverrides(cfg)
	}

	for name, apply := range overrides {
		if v.IsSet(name) {
			apply(cfg, v.GetString(name))
		}
	}
	if v.GetBool("verbose") {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger writes to stderr so command output stays parseable.
func newLogger(cfg *config.Config, w io.Writer) *logging.Logger {
	format, _ := logging.ParseFormat(cfg.Logging.Format)
	return logging.New(&logging.Config{
		Debug:     cfg.Debug(),
		Format:    format,
		Output:    w,
		SystemLog: cfg.Logging.Syslog,
	})
}

// withService opens the configured service for the duration of fn and
// exports metrics afterwards when enabled.
func withService(cmd *cobra.Command, fn func(*service.Service) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())
	defer logger.Close()

	if !cfg.Metrics.Enabled {
		metrics.Disable()
	}
	svc, err := service.Open(cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(svc)
	closeErr := svc.Close()

	if cfg.Metrics.Enabled {
		if err := metrics.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			logger.Warnf("writing metrics textfile: %v", err)
		}
	}
	if runErr != nil {
		return runErr
	}
	return closeErr
}

func printer(cmd *cobra.Command) *Printer {
	return NewPrinter(getConfig().OutputFormat, cmd.OutOrStdout())
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
