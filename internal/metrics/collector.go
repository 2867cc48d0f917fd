// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes Prometheus metrics for the coordination layer.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Locks
	lockAcquisitionsTotal *prometheus.CounterVec
	lockHoldDuration      *prometheus.HistogramVec
	lockWaitDuration      *prometheus.HistogramVec

	// Idempotency
	idempotencyHits   *prometheus.CounterVec
	idempotencyMisses *prometheus.CounterVec

	// Checkpoints
	checkpointsSaved *prometheus.CounterVec

	// Audit
	auditAppendsTotal   *prometheus.CounterVec
	auditAppendDuration *prometheus.HistogramVec
	auditVerifyTotal    *prometheus.CounterVec
	auditExportsTotal   *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers all collectors under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP
	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Locks
	c.lockAcquisitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquisitions_total",
			Help:      "Total number of lock acquisition attempts",
		},
		[]string{"backend", "result"}, // result: acquired, conflict, error
	)

	c.lockHoldDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_hold_duration_seconds",
			Help:      "How long run locks were held",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
		[]string{"backend"},
	)

	c.lockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_duration_seconds",
			Help:      "How long acquirers waited for contended locks",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		},
		[]string{"backend"},
	)

	// Idempotency
	c.idempotencyHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_hits_total",
			Help:      "Operations short-circuited by an existing idempotency record",
		},
		[]string{"status"},
	)

	c.idempotencyMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotency_misses_total",
			Help:      "Operations that executed because no record existed",
		},
		[]string{"operation"},
	)

	// Checkpoints
	c.checkpointsSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_saved_total",
			Help:      "Total number of checkpoints saved",
		},
		[]string{"backend"},
	)

	// Audit
	c.auditAppendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_appends_total",
			Help:      "Total number of audit entries appended",
		},
		[]string{"tenant_id", "result"},
	)

	c.auditAppendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "audit_append_duration_seconds",
			Help:      "Audit append duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tenant_id"},
	)

	c.auditVerifyTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_verifications_total",
			Help:      "Total number of chain integrity verifications",
		},
		[]string{"tenant_id", "result"}, // result: valid, invalid
	)

	c.auditExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_exports_total",
			Help:      "Total number of audit exports",
		},
		[]string{"format", "signed"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// ====== HTTP ======

// RecordHTTPRequest records one handled HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ====== Locks ======

// RecordLockAcquisition records a lock acquisition attempt and its result.
func (c *Collector) RecordLockAcquisition(backend, result string, waited time.Duration) {
	c.lockAcquisitionsTotal.WithLabelValues(backend, result).Inc()
	c.lockWaitDuration.WithLabelValues(backend).Observe(waited.Seconds())
}

// RecordLockHold records how long a lock was held before release.
func (c *Collector) RecordLockHold(backend string, held time.Duration) {
	c.lockHoldDuration.WithLabelValues(backend).Observe(held.Seconds())
}

// ====== Idempotency ======

// RecordIdempotencyHit records a replay from an existing record.
func (c *Collector) RecordIdempotencyHit(recordStatus string) {
	c.idempotencyHits.WithLabelValues(recordStatus).Inc()
}

// RecordIdempotencyMiss records a fresh execution.
func (c *Collector) RecordIdempotencyMiss(operation string) {
	c.idempotencyMisses.WithLabelValues(operation).Inc()
}

// ====== Checkpoints ======

// RecordCheckpointSaved records one checkpoint write.
func (c *Collector) RecordCheckpointSaved(backend string) {
	c.checkpointsSaved.WithLabelValues(backend).Inc()
}

// ====== Audit ======

// RecordAuditAppend records an append and its duration.
func (c *Collector) RecordAuditAppend(tenantID, result string, duration time.Duration) {
	c.auditAppendsTotal.WithLabelValues(tenantID, result).Inc()
	c.auditAppendDuration.WithLabelValues(tenantID).Observe(duration.Seconds())
}

// RecordAuditVerification records a chain verification outcome.
func (c *Collector) RecordAuditVerification(tenantID string, valid bool) {
	result := "valid"
	if !valid {
		result = "invalid"
	}
	c.auditVerifyTotal.WithLabelValues(tenantID, result).Inc()
}

// RecordAuditExport records one export.
func (c *Collector) RecordAuditExport(format string, signed bool) {
	signedLabel := "false"
	if signed {
		signedLabel = "true"
	}
	c.auditExportsTotal.WithLabelValues(format, signedLabel).Inc()
}

// statusCode buckets HTTP status codes for the status label.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
