package web

// errors.go provides unified error response handling for the web layer.
//
// It ensures all errors are:
//   - Logged with full technical details for debugging (server-side)
//   - Returned to clients as user-friendly messages with action suggestions
//   - Given an HTTP status that matches the sentinel error they wrap
//
// The error flow:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. Sentinel errors pick the HTTP status via statusFor
//  4. Error is mapped via core.MapError to get user-friendly message
//  5. Technical error + context is logged with request ID for correlation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/casevault/importer/internal/core"
)

// ErrorResponse is the JSON structure for API error responses. Includes
// both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Action  string                 `json:"action,omitempty"`
	Code    string                 `json:"code"`
	Issues  []core.ValidationIssue `json:"issues,omitempty"`
}

// respondError writes a mapped JSON error for err and logs the technical
// detail server-side. The status comes from the sentinel the error wraps.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	s.writeMapped(w, r, err, statusFor(err), nil)
}

// respondErrorStatus is respondError with an explicit status, for handlers
// that know a plain error is the client's fault.
func (s *Server) respondErrorStatus(w http.ResponseWriter, r *http.Request, err error, status int) {
	s.writeMapped(w, r, err, status, nil)
}

// respondErrorIssues is respondError with validation issues attached, for
// confirm-style endpoints that fail with a list of problems.
func (s *Server) respondErrorIssues(w http.ResponseWriter, r *http.Request, err error, issues []core.ValidationIssue) {
	s.writeMapped(w, r, err, statusFor(err), issues)
}

func (s *Server) writeMapped(w http.ResponseWriter, r *http.Request, err error, statusCode int, issues []core.ValidationIssue) {
	userMsg := core.MapError(err)

	slog.Error("request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", err.Error(),
		"code", userMsg.Code,
		"request_id", middleware.GetReqID(r.Context()),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   userMsg.Message,
		Message: userMsg.Message,
		Action:  userMsg.Action,
		Code:    userMsg.Code,
		Issues:  issues,
	})
}

// statusFor maps pipeline sentinel errors onto HTTP statuses. Anything
// unmatched is a 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrBatchNotFound),
		errors.Is(err, core.ErrRecordNotFound),
		errors.Is(err, core.ErrCorrectionNotFound),
		errors.Is(err, core.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrInvalidState),
		errors.Is(err, core.ErrInvalidTransition),
		errors.Is(err, core.ErrNotRollbackable),
		errors.Is(err, core.ErrNothingToCorrect),
		errors.Is(err, core.ErrRecordSettled),
		errors.Is(err, core.ErrDuplicateEntity):
		return http.StatusConflict
	case errors.Is(err, core.ErrValidationFailed),
		errors.Is(err, core.ErrUnresolvedValues),
		errors.Is(err, core.ErrFileRejected):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrImportBusy):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// statusOr returns the sentinel-mapped status, or the fallback when the
// error matches no sentinel.
func statusOr(err error, fallback int) int {
	if st := statusFor(err); st != http.StatusInternalServerError {
		return st
	}
	return fallback
}
