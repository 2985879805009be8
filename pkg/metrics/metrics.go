// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-ndnkeychain.
//
// go-ndnkeychain is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for keychain
// transactions: operation counts and latencies, error kinds, and the size of
// the persisted PIB.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all keychain metrics
	Namespace = "ndnkeychain"

	// Label names
	LabelOperation = "operation"
	LabelBackend   = "backend"
	LabelStatus    = "status"
	LabelErrorType = "error_type"
	LabelTable     = "table"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"

	// Operation names
	OpListIdentities  = "list_identities"
	OpListKeys        = "list_keys"
	OpListCerts       = "list_certs"
	OpGetCert         = "get_cert"
	OpGetKeyPair      = "get_key_pair"
	OpInsertKey       = "insert_key"
	OpInsertCert      = "insert_cert"
	OpDeleteKey       = "delete_key"
	OpDeleteCert      = "delete_cert"
	OpDeleteIdentity  = "delete_identity"
	OpGenerate        = "generate"
	OpDefaultIdentity = "default_identity"
	OpSetDefault      = "set_default"
	OpExport          = "export"
	OpPersist         = "persist"

	// Table names for row gauges
	TableIdentities   = "identities"
	TableKeys         = "keys"
	TableCertificates = "certificates"
)

var (
	// OperationsTotal tracks the total number of keychain operations by type, backend, and status.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of keychain operations by type, backend, and status",
		},
		[]string{LabelOperation, LabelBackend, LabelStatus},
	)

	// OperationDuration tracks the duration of keychain operations in seconds.
	// RSA key generation dominates the upper buckets.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of keychain operations in seconds",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{LabelOperation, LabelBackend},
	)

	// ErrorsTotal tracks the total number of errors by operation, backend, and error type.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by operation, backend, and error type",
		},
		[]string{LabelOperation, LabelBackend, LabelErrorType},
	)

	// RowsTotal tracks the number of rows in each PIB table after the last commit.
	RowsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pib_rows",
			Help:      "Number of rows in each PIB table after the last commit",
		},
		[]string{LabelTable},
	)

	// SnapshotBytes tracks the size of the last persisted PIB snapshot.
	SnapshotBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "pib_snapshot_bytes",
			Help:      "Size in bytes of the last persisted PIB snapshot",
		},
	)

	// enabled tracks whether metrics collection is enabled
	enabled atomic.Bool
)

func init() {
	// Metrics are enabled by default
	enabled.Store(true)
}

// RecordOperation records a keychain operation with its duration and status.
//
// Example:
//
//	start := time.Now()
//	err := kc.InsertKey(ctx, keyName, stored)
//	metrics.RecordOperation(metrics.OpInsertKey, "file", status(err), time.Since(start).Seconds())
func RecordOperation(operation, backend, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	OperationsTotal.WithLabelValues(operation, backend, status).Inc()
	OperationDuration.WithLabelValues(operation, backend).Observe(duration)
}

// RecordError records an error of errorType (e.g., "not_found", "read_only")
// raised by operation.
func RecordError(operation, backend, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(operation, backend, errorType).Inc()
}

// SetRows sets the row gauges of the three PIB tables.
func SetRows(identities, keys, certificates int) {
	if !enabled.Load() {
		return
	}
	RowsTotal.WithLabelValues(TableIdentities).Set(float64(identities))
	RowsTotal.WithLabelValues(TableKeys).Set(float64(keys))
	RowsTotal.WithLabelValues(TableCertificates).Set(float64(certificates))
}

// SetSnapshotBytes records the size of a persisted snapshot.
func SetSnapshotBytes(n int) {
	if !enabled.Load() {
		return
	}
	SnapshotBytes.Set(float64(n))
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
