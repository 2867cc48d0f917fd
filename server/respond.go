package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/runledger/audit"
	"github.com/BaSui01/runledger/checkpoint"
	"github.com/BaSui01/runledger/coordinator"
	"github.com/BaSui01/runledger/lock"
)

// Response is the uniform API envelope.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// ErrorInfo carries a machine-readable error code plus a human message.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error codes returned by the API.
const (
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeLockHeld           = "LOCK_HELD"
	CodeResumeBlocked      = "RESUME_BLOCKED"
	CodeIntegrityViolation = "CHAIN_INTEGRITY_VIOLATION"
	CodeSigningKeyMissing  = "SIGNING_KEY_MISSING"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternalError      = "INTERNAL_ERROR"
)

// WriteJSON writes data as a JSON response body.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// Headers are already sent; an encode failure cannot be reported to
	// the client anymore.
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// WriteError maps a domain error onto an HTTP status and code and writes
// the error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, err error, logger *zap.Logger) {
	status, code := classifyError(err)

	if logger != nil {
		logger.Error("API error",
			zap.String("code", code),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: err.Error(),
		},
		Timestamp: time.Now(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// WriteErrorMessage writes an error envelope with an explicit status and
// code.
func WriteErrorMessage(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
		Timestamp: time.Now(),
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// classifyError maps domain sentinel and typed errors to HTTP semantics.
func classifyError(err error) (int, string) {
	var (
		integrityErr *audit.IntegrityError
		blockedErr   *checkpoint.ResumeBlockedError
	)

	switch {
	case errors.Is(err, lock.ErrLockHeld):
		return http.StatusConflict, CodeLockHeld
	case errors.Is(err, lock.ErrInvalidRunID):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, checkpoint.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, audit.ErrSigningKeyMissing):
		return http.StatusPreconditionFailed, CodeSigningKeyMissing
	case errors.Is(err, audit.ErrEmptyBatch),
		errors.Is(err, coordinator.ErrInvalidRun),
		errors.Is(err, coordinator.ErrUnknownStep):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.As(err, &integrityErr):
		return http.StatusConflict, CodeIntegrityViolation
	case errors.As(err, &blockedErr):
		return http.StatusConflict, CodeResumeBlocked
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

// DecodeJSONBody strictly decodes the request body into dst, writing a
// 400 envelope on failure.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	if r.Body == nil {
		WriteErrorMessage(w, r, http.StatusBadRequest, CodeInvalidRequest, "request body is empty")
		return errors.New("request body is empty")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		WriteErrorMessage(w, r, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body: "+err.Error())
		return err
	}

	return nil
}
