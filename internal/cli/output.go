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
	"encoding/json"
	"fmt"
	"io"

	"github.com/jeremyhahn/go-superkey/pkg/envelope"
)

// OutputFormat defines the output format type
type OutputFormat string

const (
	OutputFormatText OutputFormat = "text"
	OutputFormatJSON OutputFormat = "json"
)

// Printer handles formatted output
type Printer struct {
	format OutputFormat
	writer io.Writer
}

// NewPrinter creates a new Printer
func NewPrinter(format string, writer io.Writer) *Printer {
	return &Printer{
		format: OutputFormat(format),
		writer: writer,
	}
}

// StatusReport is the output of the status command
type StatusReport struct {
	Alias      string         `json:"alias"`
	KeyStore   string         `json:"keystore"`
	KeyPresent bool           `json:"key_present"`
	Storage    string         `json:"storage"`
	Namespace  string         `json:"namespace"`
	Algorithm  string         `json:"algorithm"`
	RandomSrc  string         `json:"random_source"`
	AESNI      bool           `json:"aes_ni"`
	State      envelope.State `json:"state"`
}

// PrintStatus prints the credential and key status
func (p *Printer) PrintStatus(r *StatusReport) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(r)
	case OutputFormatText:
		fmt.Fprintf(p.writer, "Key alias:        %s\n", r.Alias)
		fmt.Fprintf(p.writer, "Key store:        %s\n", r.KeyStore)
		fmt.Fprintf(p.writer, "Key present:      %t\n", r.KeyPresent)
		fmt.Fprintf(p.writer, "Storage:          %s\n", r.Storage)
		fmt.Fprintf(p.writer, "Namespace:        %s\n", r.Namespace)
		fmt.Fprintf(p.writer, "Algorithm:        %s\n", r.Algorithm)
		fmt.Fprintf(p.writer, "Random source:    %s\n", r.RandomSrc)
		fmt.Fprintf(p.writer, "AES-NI:           %t\n", r.AESNI)
		fmt.Fprintf(p.writer, "Credential:       %s\n", r.State.Record)
		fmt.Fprintf(p.writer, "IV present:       %t\n", r.State.IVPresent)
		fmt.Fprintf(p.writer, "Skip persistence: %t\n", r.State.SkipEnabled)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintCredential prints the decrypted credential. An empty credential
// is reported as not set.
func (p *Printer) PrintCredential(credential string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"set":        credential != "",
			"credential": credential,
		})
	case OutputFormatText:
		if credential == "" {
			fmt.Fprintln(p.writer, "No credential set")
			return nil
		}
		fmt.Fprintln(p.writer, credential)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSkip prints the skip persistence policy
func (p *Printer) PrintSkip(enabled bool) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"skip_persistence": enabled,
		})
	case OutputFormatText:
		state := "disabled"
		if enabled {
			state = "enabled"
		}
		fmt.Fprintf(p.writer, "Skip persistence: %s\n", state)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintSuccess prints a success message
func (p *Printer) PrintSuccess(message string) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status":  "success",
			"message": message,
		})
	case OutputFormatText:
		fmt.Fprintln(p.writer, message)
		return nil
	default:
		return fmt.Errorf("unknown output format: %s", p.format)
	}
}

// PrintError prints an error message with its kind
func (p *Printer) PrintError(err error) error {
	switch p.format {
	case OutputFormatJSON:
		return p.printJSON(map[string]interface{}{
			"status": "error",
			"kind":   envelope.KindOf(err).String(),
			"error":  err.Error(),
		})
	default:
		fmt.Fprintf(p.writer, "Error: %v\n", err)
		return nil
	}
}

func (p *Printer) printJSON(data interface{}) error {
	encoder := json.NewEncoder(p.writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
