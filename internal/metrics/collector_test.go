package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

// Each test registers into a fresh namespace: promauto registers into the
// default registry, and duplicate registrations panic.
func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.lockAcquisitionsTotal)
	assert.NotNil(t, collector.idempotencyHits)
	assert.NotNil(t, collector.checkpointsSaved)
	assert.NotNil(t, collector.auditAppendsTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("GET", "/v1/audit/entries", 200, 100*time.Millisecond)
	collector.RecordHTTPRequest("GET", "/v1/audit/entries", 500, 50*time.Millisecond)

	count := testutil.CollectAndCount(collector.httpRequestsTotal)
	assert.Equal(t, 2, count) // one series per status bucket
}

func TestCollector_RecordLockMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordLockAcquisition("redis", "acquired", 5*time.Millisecond)
	collector.RecordLockAcquisition("redis", "conflict", 30*time.Second)
	collector.RecordLockHold("redis", 2*time.Second)

	assert.Equal(t, 2, testutil.CollectAndCount(collector.lockAcquisitionsTotal))
	assert.Greater(t, testutil.CollectAndCount(collector.lockHoldDuration), 0)
}

func TestCollector_RecordIdempotencyMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordIdempotencyHit("completed")
	collector.RecordIdempotencyMiss("send_email")

	assert.Greater(t, testutil.CollectAndCount(collector.idempotencyHits), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.idempotencyMisses), 0)
}

func TestCollector_RecordAuditMetrics(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordAuditAppend("t1", "success", 10*time.Millisecond)
	collector.RecordAuditVerification("t1", true)
	collector.RecordAuditVerification("t1", false)
	collector.RecordAuditExport("json", true)
	collector.RecordCheckpointSaved("memory")

	assert.Greater(t, testutil.CollectAndCount(collector.auditAppendsTotal), 0)
	assert.Equal(t, 2, testutil.CollectAndCount(collector.auditVerifyTotal))
	assert.Greater(t, testutil.CollectAndCount(collector.auditExportsTotal), 0)
	assert.Greater(t, testutil.CollectAndCount(collector.checkpointsSaved), 0)
}
