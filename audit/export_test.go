package audit

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExportLog(t *testing.T) *Log {
	t.Helper()
	l := newTestLog()
	seedQueryEntries(t, l)
	return l
}

func TestExport_JSON(t *testing.T) {
	l := newExportLog(t)

	result, err := l.Export(context.Background(), ExportOptions{
		QueryOptions:     QueryOptions{TenantID: "t1"},
		Format:           FormatJSON,
		IncludeChainData: true,
		IncludeMetadata:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", result.ContentType)
	assert.Contains(t, result.Filename, "audit_t1_")
	assert.True(t, strings.HasSuffix(result.Filename, ".json"))
	assert.Equal(t, 5, result.Metadata.EntryCount)
	assert.Nil(t, result.Signature)

	var doc struct {
		Entries []exportedEntry `json:"entries"`
		Metadata *ExportMetadata `json:"metadata"`
	}
	require.NoError(t, json.Unmarshal(result.Content, &doc))
	require.Len(t, doc.Entries, 5)
	require.NotNil(t, doc.Metadata)

	// Chronological by default.
	require.NotNil(t, doc.Entries[0].Chain)
	assert.Equal(t, int64(0), doc.Entries[0].Chain.Sequence)
}

func TestExport_JSONOmitsChainDataByDefault(t *testing.T) {
	l := newExportLog(t)

	result, err := l.Export(context.Background(), ExportOptions{
		QueryOptions: QueryOptions{TenantID: "t1"},
		Format:       FormatJSON,
	})
	require.NoError(t, err)

	var doc struct {
		Entries []exportedEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(result.Content, &doc))
	for _, e := range doc.Entries {
		assert.Nil(t, e.Chain)
	}
}

func TestExport_JSONLines(t *testing.T) {
	l := newExportLog(t)

	result, err := l.Export(context.Background(), ExportOptions{
		QueryOptions: QueryOptions{TenantID: "t1"},
		Format:       FormatJSONLines,
	})
	require.NoError(t, err)

	assert.Equal(t, "application/x-ndjson", result.ContentType)
	lines := strings.Split(strings.TrimRight(string(result.Content), "\n"), "\n")
	require.Len(t, lines, 5)
	for _, line := range lines {
		var e exportedEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
	}
}

func TestExport_CSV(t *testing.T) {
	l := newExportLog(t)

	result, err := l.Export(context.Background(), ExportOptions{
		QueryOptions:     QueryOptions{TenantID: "t1"},
		Format:           FormatCSV,
		IncludeChainData: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "text/csv", result.ContentType)
	lines := strings.Split(strings.TrimRight(string(result.Content), "\n"), "\n")
	require.Len(t, lines, 6) // header + 5 rows
	assert.Contains(t, lines[0], "content_hash")
	assert.Contains(t, lines[0], "outcome_status")
}

func TestExport_CEFElevatesHighRiskSeverity(t *testing.T) {
	l := newExportLog(t)

	result, err := l.Export(context.Background(), ExportOptions{
		QueryOptions: QueryOptions{TenantID: "t1"},
		Format:       FormatCEF,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(result.Content), "\n"), "\n")
	require.Len(t, lines, 5)
	for _, line := range lines {
		assert.True(t, strings.HasPrefix(line, "CEF:0|RunLedger|audit|1.0|"))
	}

	// approval.granted and policy.denied were seeded high-risk.
	for _, line := range lines {
		if strings.Contains(line, "approval.granted") || strings.Contains(line, "policy.denied") {
			assert.Contains(t, line, "|9|")
		}
	}
	// A plain success entry stays at base severity.
	for _, line := range lines {
		if strings.Contains(line, "lock.acquired") {
			assert.Contains(t, line, "|3|")
		}
	}
}

func TestExport_Syslog(t *testing.T) {
	l := newExportLog(t)

	result, err := l.Export(context.Background(), ExportOptions{
		QueryOptions: QueryOptions{TenantID: "t1"},
		Format:       FormatSyslog,
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(result.Content), "\n"), "\n")
	require.Len(t, lines, 5)
	for _, line := range lines {
		assert.Contains(t, line, "runledger audit")
	}

	// High-risk entries use critical severity: 13*8+2 = 106.
	var sawCritical bool
	for _, line := range lines {
		if strings.HasPrefix(line, "<106>") {
			sawCritical = true
		}
	}
	assert.True(t, sawCritical)
}

func TestExport_UnknownFormat(t *testing.T) {
	l := newExportLog(t)

	_, err := l.Export(context.Background(), ExportOptions{
		QueryOptions: QueryOptions{TenantID: "t1"},
		Format:       "yaml",
	})
	assert.Error(t, err)
}

func TestExport_RespectsFilters(t *testing.T) {
	l := newExportLog(t)

	result, err := l.Export(context.Background(), ExportOptions{
		QueryOptions: QueryOptions{TenantID: "t1", HighRiskOnly: true},
		Format:       FormatJSONLines,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Metadata.EntryCount)
	assert.Equal(t, int64(2), result.Metadata.TotalCount)
}

func TestExport_SignedRoundTrip(t *testing.T) {
	l := newExportLog(t)

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	result, err := l.Export(context.Background(), ExportOptions{
		QueryOptions: QueryOptions{TenantID: "t1"},
		Format:       FormatJSONLines,
		Sign:         true,
		PrivateKey:   priv,
		KeyID:        "export-key-1",
	})
	require.NoError(t, err)

	require.NotNil(t, result.Signature)
	assert.Equal(t, "ed25519", result.Signature.Algorithm)
	assert.Equal(t, "export-key-1", result.Signature.KeyID)
	assert.True(t, VerifySignature(result.Content, result.Signature, pub))

	// Any single-byte mutation invalidates the signature.
	mutated := append([]byte(nil), result.Content...)
	mutated[len(mutated)/2] ^= 0x01
	assert.False(t, VerifySignature(mutated, result.Signature, pub))
}

func TestExport_SigningWithoutKeyFailsImmediately(t *testing.T) {
	l := newExportLog(t)

	_, err := l.Export(context.Background(), ExportOptions{
		QueryOptions: QueryOptions{TenantID: "t1"},
		Format:       FormatJSON,
		Sign:         true,
	})
	assert.ErrorIs(t, err, ErrSigningKeyMissing)
}
