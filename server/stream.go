package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// handleAuditStream upgrades to a websocket and tails a tenant's audit
// chain: entries appended after the requested sequence are pushed to the
// client as JSON text frames, in chain order.
func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.resolveTenant(w, r, r.URL.Query().Get("tenant_id"))
	if !ok {
		return
	}

	// Default to the chain tail so clients see only new entries; from_seq
	// rewinds into history.
	cursor := int64(-1)
	if raw := r.URL.Query().Get("from_seq"); raw != "" {
		seq, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seq < 0 {
			WriteErrorMessage(w, r, http.StatusBadRequest, CodeInvalidRequest, "from_seq must be a non-negative integer")
			return
		}
		cursor = seq
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	// CloseRead cancels the context when the client goes away.
	ctx := conn.CloseRead(r.Context())

	logger := s.logger.With(
		zap.String("component", "audit_stream"),
		zap.String("tenant_id", tenantID),
	)
	logger.Info("audit stream opened", zap.Int64("from_seq", cursor))

	if cursor < 0 {
		state, err := s.coord.Audit().GetChainState(ctx, tenantID)
		if err != nil {
			logger.Warn("failed to read chain state", zap.Error(err))
			conn.Close(websocket.StatusInternalError, "chain state unavailable")
			return
		}
		cursor = state.NextSequence
	}

	ticker := time.NewTicker(s.streamPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("audit stream closed")
			conn.Close(websocket.StatusNormalClosure, "client closed")
			return
		case <-ticker.C:
			next, err := s.pushNewEntries(ctx, conn, tenantID, cursor)
			if err != nil {
				logger.Warn("audit stream write failed", zap.Error(err))
				return
			}
			cursor = next
		}
	}
}

// pushNewEntries sends every entry from cursor up to the chain tail and
// returns the new cursor.
func (s *Server) pushNewEntries(ctx context.Context, conn *websocket.Conn, tenantID string, cursor int64) (int64, error) {
	state, err := s.coord.Audit().GetChainState(ctx, tenantID)
	if err != nil {
		return cursor, err
	}
	if state.NextSequence <= cursor {
		return cursor, nil
	}

	entries, err := s.coord.Audit().GetChainSegment(ctx, tenantID, cursor, state.NextSequence-1)
	if err != nil {
		return cursor, err
	}

	for _, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			return cursor, err
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return cursor, err
		}
		cursor = entry.Chain.Sequence + 1
	}
	return cursor, nil
}
