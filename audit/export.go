package audit

import (
	"context"
	"crypto/ed25519"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/runledger/internal/pool"
)

// ExportFormat selects the rendering of an audit export.
type ExportFormat string

const (
	FormatJSON      ExportFormat = "json"
	FormatJSONLines ExportFormat = "json-lines"
	FormatCSV       ExportFormat = "csv"
	FormatCEF       ExportFormat = "cef"
	FormatSyslog    ExportFormat = "syslog"
)

// ExportOptions configures an audit export. The embedded QueryOptions
// scope and filter the exported entry set.
type ExportOptions struct {
	QueryOptions

	Format ExportFormat `json:"format"`

	// IncludeChainData keeps sequence/hash fields in json and csv
	// output.
	IncludeChainData bool `json:"include_chain_data,omitempty"`

	// IncludeMetadata embeds export metadata into the json payload.
	IncludeMetadata bool `json:"include_metadata,omitempty"`

	// Sign requests a detached Ed25519 signature over the rendered
	// content. PrivateKey must be set when Sign is true.
	Sign       bool               `json:"sign,omitempty"`
	PrivateKey ed25519.PrivateKey `json:"-"`
	KeyID      string             `json:"key_id,omitempty"`
}

// ExportMetadata describes what an export contains.
type ExportMetadata struct {
	TenantID    string       `json:"tenant_id"`
	Format      ExportFormat `json:"format"`
	EntryCount  int          `json:"entry_count"`
	TotalCount  int64        `json:"total_count"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// ExportResult is the rendered export payload.
type ExportResult struct {
	Content     []byte         `json:"content"`
	ContentType string         `json:"content_type"`
	Filename    string         `json:"filename"`
	Metadata    ExportMetadata `json:"metadata"`
	Signature   *Signature     `json:"signature,omitempty"`
}

// exportedEntry is the serialized view of an entry; chain data is
// dropped unless requested.
type exportedEntry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Actor     Actor          `json:"actor"`
	Action    Action         `json:"action"`
	Resource  Resource       `json:"resource"`
	Outcome   Outcome        `json:"outcome"`
	Context   Context        `json:"context"`
	Details   map[string]any `json:"details,omitempty"`
	HighRisk  bool           `json:"high_risk,omitempty"`
	Chain     *Chain         `json:"chain,omitempty"`
}

// Export renders the filtered entry set into the requested format and
// optionally signs the exact output bytes. Entries are exported in
// chronological (ascending sequence) order unless the options say
// otherwise.
func (l *Log) Export(ctx context.Context, opts ExportOptions) (*ExportResult, error) {
	if opts.TenantID == "" {
		return nil, fmt.Errorf("audit: tenant ID is required")
	}
	if opts.Sign && len(opts.PrivateKey) == 0 {
		return nil, ErrSigningKeyMissing
	}
	if opts.SortOrder == "" {
		opts.SortOrder = "asc"
	}

	result, err := l.Query(ctx, opts.QueryOptions)
	if err != nil {
		return nil, err
	}

	meta := ExportMetadata{
		TenantID:    opts.TenantID,
		Format:      opts.Format,
		EntryCount:  len(result.Entries),
		TotalCount:  result.TotalCount,
		GeneratedAt: l.now(),
	}

	var content []byte
	var contentType, extension string
	switch opts.Format {
	case FormatJSON:
		content, err = renderJSON(result.Entries, meta, opts)
		contentType, extension = "application/json", "json"
	case FormatJSONLines:
		content, err = renderJSONLines(result.Entries, opts)
		contentType, extension = "application/x-ndjson", "jsonl"
	case FormatCSV:
		content, err = renderCSV(result.Entries, opts)
		contentType, extension = "text/csv", "csv"
	case FormatCEF:
		content = renderCEF(result.Entries)
		contentType, extension = "text/plain", "cef"
	case FormatSyslog:
		content = renderSyslog(result.Entries)
		contentType, extension = "text/plain", "log"
	default:
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render audit export: %w", err)
	}

	out := &ExportResult{
		Content:     content,
		ContentType: contentType,
		Filename:    fmt.Sprintf("audit_%s_%s.%s", opts.TenantID, meta.GeneratedAt.UTC().Format("20060102T150405Z"), extension),
		Metadata:    meta,
	}

	if opts.Sign {
		sig, err := Sign(content, opts.PrivateKey, opts.KeyID)
		if err != nil {
			return nil, err
		}
		out.Signature = sig
	}
	return out, nil
}

func toExported(e *Entry, includeChain bool) exportedEntry {
	out := exportedEntry{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Actor:     e.Actor,
		Action:    e.Action,
		Resource:  e.Resource,
		Outcome:   e.Outcome,
		Context:   e.Context,
		Details:   e.Details,
		HighRisk:  e.HighRisk,
	}
	if includeChain {
		chain := e.Chain
		out.Chain = &chain
	}
	return out
}

func renderJSON(entries []*Entry, meta ExportMetadata, opts ExportOptions) ([]byte, error) {
	exported := make([]exportedEntry, len(entries))
	for i, e := range entries {
		exported[i] = toExported(e, opts.IncludeChainData)
	}

	doc := map[string]any{"entries": exported}
	if opts.IncludeMetadata {
		doc["metadata"] = meta
	}
	return json.MarshalIndent(doc, "", "  ")
}

func renderJSONLines(entries []*Entry, opts ExportOptions) ([]byte, error) {
	buf := pool.ByteBuffers.Get()
	defer pool.ByteBuffers.Put(buf)

	for _, e := range entries {
		line, err := json.Marshal(toExported(e, opts.IncludeChainData))
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

func renderCSV(entries []*Entry, opts ExportOptions) ([]byte, error) {
	buf := pool.ByteBuffers.Get()
	defer pool.ByteBuffers.Put(buf)
	w := csv.NewWriter(buf)

	header := []string{
		"id", "timestamp", "tenant_id", "run_id",
		"actor_type", "actor_id", "action_category", "action_name",
		"resource_type", "resource_id", "outcome_status", "outcome_reason",
		"high_risk",
	}
	if opts.IncludeChainData {
		header = append(header, "sequence", "prev_hash", "content_hash")
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, e := range entries {
		row := []string{
			e.ID, e.Timestamp.UTC().Format(time.RFC3339Nano),
			e.Context.TenantID, e.Context.RunID,
			e.Actor.Type, e.Actor.ID, e.Action.Category, e.Action.Name,
			e.Resource.Type, e.Resource.ID, e.Outcome.Status, e.Outcome.Reason,
			strconv.FormatBool(e.HighRisk),
		}
		if opts.IncludeChainData {
			row = append(row,
				strconv.FormatInt(e.Chain.Sequence, 10),
				e.Chain.PrevHash, e.Chain.ContentHash,
			)
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return append([]byte(nil), buf.Bytes()...), nil
}

// cefSeverity maps outcome and risk onto the 0-10 CEF severity scale.
// High-risk entries are elevated regardless of outcome.
func cefSeverity(e *Entry) int {
	if e.HighRisk {
		return 9
	}
	switch e.Outcome.Status {
	case "failure", "denied":
		return 6
	default:
		return 3
	}
}

func renderCEF(entries []*Entry) []byte {
	buf := pool.ByteBuffers.Get()
	defer pool.ByteBuffers.Put(buf)

	for _, e := range entries {
		ext := fmt.Sprintf("suser=%s suid=%s cs1Label=tenantId cs1=%s cs2Label=runId cs2=%s cs3Label=resource cs3=%s/%s outcome=%s",
			cefEscape(e.Actor.Name), cefEscape(e.Actor.ID),
			cefEscape(e.Context.TenantID), cefEscape(e.Context.RunID),
			cefEscape(e.Resource.Type), cefEscape(e.Resource.ID),
			cefEscape(e.Outcome.Status),
		)
		fmt.Fprintf(buf, "CEF:0|RunLedger|audit|1.0|%s|%s|%d|%s\n",
			cefEscape(e.Action.Category), cefEscape(e.Action.Name), cefSeverity(e), ext)
	}
	return append([]byte(nil), buf.Bytes()...)
}

func cefEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `|`, `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// syslogPriority encodes facility 13 (log audit) with severity informational,
// or critical for high-risk entries.
func syslogPriority(e *Entry) int {
	severity := 6
	if e.HighRisk {
		severity = 2
	} else if e.Outcome.Status == "failure" || e.Outcome.Status == "denied" {
		severity = 4
	}
	return 13*8 + severity
}

func renderSyslog(entries []*Entry) []byte {
	buf := pool.ByteBuffers.Get()
	defer pool.ByteBuffers.Put(buf)

	for _, e := range entries {
		msg := fmt.Sprintf("%s actor=%s:%s resource=%s:%s outcome=%s tenant=%s seq=%d",
			e.Action.Name, e.Actor.Type, e.Actor.ID,
			e.Resource.Type, e.Resource.ID, e.Outcome.Status,
			e.Context.TenantID, e.Chain.Sequence,
		)
		fmt.Fprintf(buf, "<%d>1 %s runledger audit - %s - %s\n",
			syslogPriority(e), e.Timestamp.UTC().Format(time.RFC3339), e.ID, msg)
	}
	return append([]byte(nil), buf.Bytes()...)
}
