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

package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Output: &buf})

	l.Info("key provisioned", "alias", "test-key")
	l.Warnf("iv %s", "regenerated")
	l.Error(errors.New("decrypt failed"))

	out := buf.String()
	assert.Contains(t, out, "key provisioned")
	assert.Contains(t, out, "alias=test-key")
	assert.Contains(t, out, "iv regenerated")
	assert.Contains(t, out, "decrypt failed")
}

func TestLogger_DebugSuppressed(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Output: &buf})
	l.Debug("hidden")
	l.Debugf("hidden %d", 1)
	assert.Empty(t, buf.String())

	buf.Reset()
	l = New(&Config{Output: &buf, Debug: true})
	l.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestLogger_JSONWith(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Output: &buf, Format: FormatJSON}).With("component", "envelope")
	l.Info("read")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "read", record["msg"])
	assert.Equal(t, "envelope", record["component"])
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatText, false},
		{"text", FormatText, false},
		{"JSON", FormatJSON, false},
		{"xml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogger_MaybeErrorNil(t *testing.T) {
	var buf bytes.Buffer
	l := New(&Config{Output: &buf})
	l.MaybeError(nil)
	assert.Empty(t, buf.String())
}
