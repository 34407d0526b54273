package httputil

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 200, map[string]int{"count": 7})

	if rec.Code != 200 {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["count"] != 7 {
		t.Errorf("count = %d, want 7", body["count"])
	}
}

func TestWriteJSONNilData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 204, nil)

	if rec.Code != 204 {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body should be empty, got %q", rec.Body.String())
	}
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name   string
		write  func(*httptest.ResponseRecorder)
		status int
		code   string
	}{
		{"bad request", func(r *httptest.ResponseRecorder) { WriteBadRequest(r, "invalid_request", "bad") }, 400, "invalid_request"},
		{"unauthorized", func(r *httptest.ResponseRecorder) { WriteUnauthorized(r, "invalid_token", "no") }, 401, "invalid_token"},
		{"forbidden", func(r *httptest.ResponseRecorder) { WriteForbidden(r, "insufficient_role", "no") }, 403, "insufficient_role"},
		{"not found", func(r *httptest.ResponseRecorder) { WriteNotFound(r, "not_found", "gone") }, 404, "not_found"},
		{"rate limited", func(r *httptest.ResponseRecorder) { WriteTooManyRequests(r, "rate_limit_exceeded", "slow down") }, 429, "rate_limit_exceeded"},
		{"internal", func(r *httptest.ResponseRecorder) { WriteInternalError(r, "internal_error", "oops") }, 500, "internal_error"},
		{"timeout", func(r *httptest.ResponseRecorder) { WriteGatewayTimeout(r, "timeout", "too slow") }, 504, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.write(rec)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON body: %v", err)
			}
			if body["error"] != tt.code {
				t.Errorf("error = %q, want %q", body["error"], tt.code)
			}
			if body["message"] == "" {
				t.Error("message should not be empty")
			}
		})
	}
}
