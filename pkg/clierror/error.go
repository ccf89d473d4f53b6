// Package clierror provides structured errors for CLI output with codes,
// exit codes, and remediation hints.
package clierror

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Exit codes returned by usufruitctl.
const (
	ExitSuccess     = 0 // Operation completed successfully
	ExitGeneral     = 1 // Unknown/unhandled error
	ExitAuth        = 2 // Missing or unknown secret key
	ExitForbidden   = 3 // Authenticated but not permitted
	ExitNotFound    = 4 // Resource doesn't exist
	ExitConflict    = 5 // State conflict (book on loan, loan returned)
	ExitValidation  = 6 // Bad input
	ExitUnavailable = 7 // Server or dependency unreachable
)

// Error codes (strings) for programmatic error handling
const (
	CodeNotAuthenticated  = "NOT_AUTHENTICATED"
	CodeMissingKey        = "MISSING_KEY"
	CodeForbidden         = "FORBIDDEN"
	CodeNotFound          = "NOT_FOUND"
	CodeConflict          = "CONFLICT"
	CodeValidation        = "VALIDATION"
	CodeConnectionFailed  = "CONNECTION_FAILED"
	CodeServerUnavailable = "SERVER_UNAVAILABLE"
	CodeVersionMismatch   = "VERSION_MISMATCH"
	CodeInternalError     = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	ExitCode  int    `json:"-"` // Not serialized, used for os.Exit
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// NotAuthenticated creates an error for a rejected or absent secret key.
func NotAuthenticated(message string) *CLIError {
	if message == "" {
		message = "authentication required"
	}
	return &CLIError{
		Code:     CodeNotAuthenticated,
		Message:  message,
		Hint:     "Pass --key or set USUFRUIT_KEY to a librarian secret key",
		ExitCode: ExitAuth,
	}
}

// MissingKey creates an error for commands that need a key when none is set.
func MissingKey() *CLIError {
	return &CLIError{
		Code:     CodeMissingKey,
		Message:  "this command requires a librarian secret key",
		Hint:     "Pass --key or set USUFRUIT_KEY",
		ExitCode: ExitAuth,
	}
}

// Forbidden creates an error for authorization denials.
func Forbidden(message string) *CLIError {
	if message == "" {
		message = "not permitted"
	}
	return &CLIError{
		Code:     CodeForbidden,
		Message:  message,
		Hint:     "Ask a super librarian of this library to perform the action",
		ExitCode: ExitForbidden,
	}
}

// NotFound creates an error when a resource doesn't exist.
func NotFound(message string) *CLIError {
	return &CLIError{
		Code:     CodeNotFound,
		Message:  message,
		Hint:     "Check the IDs with 'usufruitctl library list' or the matching list command",
		ExitCode: ExitNotFound,
	}
}

// Conflict creates an error for state conflicts.
func Conflict(message string) *CLIError {
	return &CLIError{
		Code:     CodeConflict,
		Message:  message,
		Hint:     "Refresh with 'usufruitctl loan list --active' and retry",
		ExitCode: ExitConflict,
	}
}

// Validation creates an error for rejected input.
func Validation(message string) *CLIError {
	return &CLIError{
		Code:     CodeValidation,
		Message:  message,
		ExitCode: ExitValidation,
	}
}

// ConnectionFailed creates an error for connection failures.
func ConnectionFailed(target string) *CLIError {
	return &CLIError{
		Code:      CodeConnectionFailed,
		Message:   fmt.Sprintf("failed to connect to '%s'", target),
		Hint:      "Check that usufruitd is running and --server is correct",
		Retryable: true,
		ExitCode:  ExitUnavailable,
	}
}

// ServerUnavailable creates an error for 503 responses.
func ServerUnavailable(message string) *CLIError {
	if message == "" {
		message = "service unavailable"
	}
	return &CLIError{
		Code:      CodeServerUnavailable,
		Message:   message,
		Hint:      "Run 'usufruitctl health' to see which dependency is down",
		Retryable: true,
		ExitCode:  ExitUnavailable,
	}
}

// VersionMismatch creates an error when client and server are incompatible.
func VersionMismatch(client, server string) *CLIError {
	return &CLIError{
		Code:     CodeVersionMismatch,
		Message:  fmt.Sprintf("client %s is not compatible with server %s", client, server),
		Hint:     "Install a usufruitctl release matching the server",
		ExitCode: ExitGeneral,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = fmt.Sprintf("internal error: %s", err.Error())
	}
	return &CLIError{
		Code:     CodeInternalError,
		Message:  msg,
		ExitCode: ExitGeneral,
	}
}

// FromHTTP maps an API error response to a CLIError. message is the
// server's public error text.
func FromHTTP(status int, message string) *CLIError {
	switch status {
	case http.StatusUnauthorized:
		return NotAuthenticated(message)
	case http.StatusForbidden:
		return Forbidden(message)
	case http.StatusNotFound:
		if message == "" {
			message = "not found"
		}
		return NotFound(message)
	case http.StatusConflict:
		return Conflict(message)
	case http.StatusBadRequest:
		return Validation(message)
	case http.StatusServiceUnavailable:
		return ServerUnavailable(message)
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return &CLIError{
		Code:      CodeInternalError,
		Message:   fmt.Sprintf("server returned %d: %s", status, message),
		Retryable: status >= 500,
		ExitCode:  ExitGeneral,
	}
}

// FormatError returns the error formatted for the given output format.
// Supported formats: "json" for JSON output, anything else for human-readable table format.
func FormatError(err *CLIError, outputFormat string) string {
	if outputFormat == "json" {
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			return fmt.Sprintf(`{"code":%q,"message":%q}`, err.Code, err.Message)
		}
		return string(data)
	}

	output := fmt.Sprintf("Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		output += fmt.Sprintf("\nHint: %s", err.Hint)
	}
	return output
}

// PrintError writes the error to w in the appropriate format.
func PrintError(w io.Writer, err *CLIError, outputFormat string) {
	fmt.Fprintln(w, FormatError(err, outputFormat))
}
