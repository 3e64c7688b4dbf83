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

// Package metrics provides Prometheus instrumentation for super key custody
// and credential envelope operations.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all superkey metrics
	Namespace = "superkey"

	// Label names
	LabelOperation = "operation"
	LabelStore     = "store"
	LabelStatus    = "status"
	LabelKind      = "kind"
	LabelResult    = "result"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpInit      = "init"
	OpEnsureKey = "ensure_key"
	OpIV        = "iv"
	OpEncrypt   = "encrypt"
	OpDecrypt   = "decrypt"
	OpRead      = "read"
	OpWrite     = "write"
	OpSkip      = "skip"
	OpClear     = "clear"
	OpState     = "state"

	// Migration results
	MigrationMigrated = "migrated"
	MigrationEmpty    = "empty"
	MigrationSkipped  = "skipped"
	MigrationFailed   = "failed"
)

var (
	// OperationsTotal tracks envelope and custodian operations by type, key store and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of superkey operations by type, key store, and status",
		},
		[]string{LabelOperation, LabelStore, LabelStatus},
	)

	// OperationDuration tracks the duration of operations in seconds. HSM
	// and TPM round trips dominate, hence the wide upper buckets.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of superkey operations in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelOperation, LabelStore},
	)

	// ErrorsTotal tracks errors by operation and error kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation and error kind",
		},
		[]string{LabelOperation, LabelKind},
	)

	// MigrationsTotal tracks legacy plaintext migrations by result.
	MigrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "migrations_total",
			Help:      "Total number of legacy plaintext credential migrations by result",
		},
		[]string{LabelResult},
	)

	// KeyGenerationsTotal tracks hardware key creations per key store.
	KeyGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "key_generations_total",
			Help:      "Total number of super keys generated by key store",
		},
		[]string{LabelStore},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordOperation records an operation with its duration and status.
//
// Example:
//
//	start := time.Now()
//	err := env.Write(secret)
//	metrics.RecordOperation(metrics.OpWrite, "tpm2", metrics.Status(err), time.Since(start).Seconds())
func RecordOperation(operation, store, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, store, status).Inc()
	OperationDuration.WithLabelValues(operation, store).Observe(duration)
}

// RecordError records an error of the given kind.
func RecordError(operation, kind string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, kind).Inc()
}

// RecordMigration records the outcome of a legacy record migration.
func RecordMigration(result string) {
	if !enabled.Load() {
		return
	}
	MigrationsTotal.WithLabelValues(result).Inc()
}

// RecordKeyGeneration records a newly created super key.
func RecordKeyGeneration(store string) {
	if !enabled.Load() {
		return
	}
	KeyGenerationsTotal.WithLabelValues(store).Inc()
}

// Status maps an error to a status label.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

// WriteTextfile writes the default registry in the text exposition format,
// for collection by the node exporter textfile collector.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
// Useful for testing or when metrics are not desired.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
