package clierror

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestExitCodes(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		got      int
		expected int
	}{
		{"ExitSuccess", ExitSuccess, 0},
		{"ExitGeneral", ExitGeneral, 1},
		{"ExitAuth", ExitAuth, 2},
		{"ExitForbidden", ExitForbidden, 3},
		{"ExitNotFound", ExitNotFound, 4},
		{"ExitConflict", ExitConflict, 5},
		{"ExitValidation", ExitValidation, 6},
		{"ExitUnavailable", ExitUnavailable, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestFromHTTP(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status    int
		message   string
		wantCode  string
		wantExit  int
		retryable bool
	}{
		{http.StatusUnauthorized, "authentication required", CodeNotAuthenticated, ExitAuth, false},
		{http.StatusForbidden, "permission denied", CodeForbidden, ExitForbidden, false},
		{http.StatusNotFound, "book not found", CodeNotFound, ExitNotFound, false},
		{http.StatusConflict, "book is already on loan", CodeConflict, ExitConflict, false},
		{http.StatusBadRequest, "title is required", CodeValidation, ExitValidation, false},
		{http.StatusServiceUnavailable, "database unavailable", CodeServerUnavailable, ExitUnavailable, true},
		{http.StatusInternalServerError, "internal server error", CodeInternalError, ExitGeneral, true},
		{http.StatusTeapot, "", CodeInternalError, ExitGeneral, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Logf("Testing: HTTP %d maps to %s", tt.status, tt.wantCode)
			err := FromHTTP(tt.status, tt.message)
			if err.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", err.Code, tt.wantCode)
			}
			if err.ExitCode != tt.wantExit {
				t.Errorf("ExitCode = %d, want %d", err.ExitCode, tt.wantExit)
			}
			if err.Retryable != tt.retryable {
				t.Errorf("Retryable = %v, want %v", err.Retryable, tt.retryable)
			}
			if tt.message != "" && !strings.Contains(err.Message, tt.message) {
				t.Errorf("Message = %q, want it to contain %q", err.Message, tt.message)
			}
			if err.Message == "" {
				t.Error("Message should never be empty")
			}
		})
	}
}

func TestEmptyMessagesGetDefaults(t *testing.T) {
	t.Parallel()
	for _, err := range []*CLIError{NotAuthenticated(""), Forbidden(""), ServerUnavailable(""), FromHTTP(http.StatusNotFound, "")} {
		if err.Message == "" {
			t.Errorf("%s has an empty message", err.Code)
		}
	}
}

func TestMissingKey(t *testing.T) {
	t.Parallel()
	err := MissingKey()
	if err.ExitCode != ExitAuth {
		t.Errorf("ExitCode = %d, want %d", err.ExitCode, ExitAuth)
	}
	if !strings.Contains(err.Hint, "USUFRUIT_KEY") {
		t.Errorf("Hint should mention USUFRUIT_KEY, got %q", err.Hint)
	}
}

func TestConnectionFailed(t *testing.T) {
	t.Parallel()
	err := ConnectionFailed("http://localhost:8080")
	if !strings.Contains(err.Message, "http://localhost:8080") {
		t.Errorf("Message should contain target, got %q", err.Message)
	}
	if !err.Retryable {
		t.Error("connection failures should be retryable")
	}
}

func TestVersionMismatch(t *testing.T) {
	t.Parallel()
	err := VersionMismatch("v1.2.0", "v2.0.0")
	if !strings.Contains(err.Message, "v1.2.0") || !strings.Contains(err.Message, "v2.0.0") {
		t.Errorf("Message should name both versions, got %q", err.Message)
	}
}

func TestInternalError(t *testing.T) {
	t.Parallel()
	if got := InternalError(nil).Message; got != "an unexpected internal error occurred" {
		t.Errorf("nil cause message = %q", got)
	}
	if got := InternalError(errors.New("boom")).Message; !strings.Contains(got, "boom") {
		t.Errorf("message should contain cause, got %q", got)
	}
}

func TestCLIError_JSONSerialization(t *testing.T) {
	t.Parallel()
	err := Conflict("book is already on loan")

	data, jsonErr := json.Marshal(err)
	if jsonErr != nil {
		t.Fatalf("json.Marshal failed: %v", jsonErr)
	}

	var parsed map[string]any
	if jsonErr := json.Unmarshal(data, &parsed); jsonErr != nil {
		t.Fatalf("json.Unmarshal failed: %v", jsonErr)
	}
	if parsed["code"] != CodeConflict {
		t.Errorf("JSON code = %v, want %v", parsed["code"], CodeConflict)
	}
	if _, exists := parsed["ExitCode"]; exists {
		t.Error("ExitCode should not be serialized to JSON")
	}

	data, _ = json.Marshal(Validation("title is required"))
	if strings.Contains(string(data), "hint") {
		t.Errorf("empty hint should be omitted, got %s", data)
	}
}

func TestFormatError(t *testing.T) {
	t.Parallel()
	err := NotFound("book not found")

	out := FormatError(err, "json")
	var parsed map[string]any
	if jsonErr := json.Unmarshal([]byte(out), &parsed); jsonErr != nil {
		t.Fatalf("FormatError(json) produced invalid JSON: %v\nOutput: %s", jsonErr, out)
	}

	table := FormatError(err, "table")
	if !strings.HasPrefix(table, "Error [NOT_FOUND]: book not found") {
		t.Errorf("unexpected table output %q", table)
	}
	if !strings.Contains(table, "Hint: ") {
		t.Errorf("table output should include the hint, got %q", table)
	}
	if FormatError(err, "yaml") != table {
		t.Error("unknown formats should fall back to table output")
	}

	var buf bytes.Buffer
	PrintError(&buf, err, "table")
	if buf.String() != table+"\n" {
		t.Errorf("PrintError wrote %q", buf.String())
	}
}
