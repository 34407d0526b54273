// Error sanitization for client responses. Full errors are logged
// server-side; clients only ever see the generic messages below.

package admin

import (
	"errors"
	"log/slog"

	"github.com/bunkerm/mqadmin/pkg/dynsec"
)

// Safe error messages for client responses.
const (
	// ErrMsgInternalError is returned for unexpected internal errors.
	ErrMsgInternalError = "An internal error occurred"

	// ErrMsgInvalidJSON is returned for JSON parsing errors.
	ErrMsgInvalidJSON = "Invalid JSON in request body"

	// ErrMsgOperationFailed is returned for generic operation failures.
	ErrMsgOperationFailed = "Operation failed"

	// ErrMsgValidationFailed is returned for validation errors.
	ErrMsgValidationFailed = "Request validation failed"

	// ErrMsgCtrlFailed is returned when a broker management command fails.
	ErrMsgCtrlFailed = "Broker management command failed"

	// ErrMsgStatsTimeout is returned when snapshot assembly exceeds its budget.
	ErrMsgStatsTimeout = "Statistics collection timed out"

	// ErrMsgNotConfigured is returned when a route's backing component
	// was not wired at startup.
	ErrMsgNotConfigured = "Feature is not configured on this server"
)

// sanitizeError logs the full error and returns a message safe to
// send to the client.
func sanitizeError(err error, log *slog.Logger, operation string, details ...any) string {
	if log != nil {
		args := []any{"operation", operation, "error", err}
		args = append(args, details...)
		log.Error("operation failed", args...)
	}

	var cmdErr *dynsec.CommandError
	if errors.As(err, &cmdErr) {
		return ErrMsgCtrlFailed
	}
	if errors.Is(err, dynsec.ErrInvalidACL) {
		return ErrMsgValidationFailed
	}
	return ErrMsgOperationFailed
}

// sanitizeJSONError logs a body-decoding failure at debug level.
func sanitizeJSONError(err error, log *slog.Logger) string {
	if log != nil {
		log.Debug("JSON parsing failed", "error", err)
	}
	return ErrMsgInvalidJSON
}
