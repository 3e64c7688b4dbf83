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

package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsEnabled(t *testing.T) {
	assert.True(t, IsEnabled())

	Disable()
	assert.False(t, IsEnabled())

	Enable()
	assert.True(t, IsEnabled())
}

func TestRecordOperation(t *testing.T) {
	Enable()
	OperationsTotal.Reset()
	OperationDuration.Reset()

	RecordOperation(OpWrite, "software", StatusSuccess, 0.002)
	RecordOperation(OpWrite, "software", StatusSuccess, 0.003)
	RecordOperation(OpRead, "tpm2", StatusError, 0.1)

	assert.Equal(t, 2, testutil.CollectAndCount(OperationsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(OperationsTotal.WithLabelValues(OpWrite, "software", StatusSuccess)))
	assert.Equal(t, 2, testutil.CollectAndCount(OperationDuration))
}

func TestRecordOperationWhenDisabled(t *testing.T) {
	Disable()
	defer Enable()
	OperationsTotal.Reset()

	RecordOperation(OpInit, "software", StatusSuccess, 0.5)
	assert.Equal(t, 0, testutil.CollectAndCount(OperationsTotal))
}

func TestRecordError(t *testing.T) {
	Enable()
	ErrorsTotal.Reset()

	RecordError(OpDecrypt, "authentication_failed")
	RecordError(OpDecrypt, "authentication_failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(ErrorsTotal.WithLabelValues(OpDecrypt, "authentication_failed")))
}

func TestRecordMigrationAndKeyGeneration(t *testing.T) {
	Enable()
	MigrationsTotal.Reset()
	KeyGenerationsTotal.Reset()

	RecordMigration(MigrationMigrated)
	RecordMigration(MigrationEmpty)
	RecordKeyGeneration("pkcs11")

	assert.Equal(t, 1.0, testutil.ToFloat64(MigrationsTotal.WithLabelValues(MigrationMigrated)))
	assert.Equal(t, 1.0, testutil.ToFloat64(MigrationsTotal.WithLabelValues(MigrationEmpty)))
	assert.Equal(t, 1.0, testutil.ToFloat64(KeyGenerationsTotal.WithLabelValues("pkcs11")))
}

func TestStatus(t *testing.T) {
	assert.Equal(t, StatusSuccess, Status(nil))
	assert.Equal(t, StatusError, Status(errors.New("boom")))
}

func TestWriteTextfile(t *testing.T) {
	Enable()
	KeyGenerationsTotal.Reset()
	RecordKeyGeneration("software")

	path := filepath.Join(t.TempDir(), "superkey.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "superkey_key_generations_total"))
}

func TestConcurrentMetricUpdates(t *testing.T) {
	Enable()
	OperationsTotal.Reset()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			RecordOperation(OpEncrypt, "software", StatusSuccess, 0.001)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100.0, testutil.ToFloat64(OperationsTotal.WithLabelValues(OpEncrypt, "software", StatusSuccess)))
}

func BenchmarkRecordOperation(b *testing.B) {
	Enable()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		RecordOperation(OpEncrypt, "software", StatusSuccess, 0.001)
	}
}
