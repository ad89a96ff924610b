package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSONErrorCode(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSONErrorCode(rec, "rule not found", "rule_not_found", http.StatusNotFound)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Error != "rule not found" || body.Code != "rule_not_found" || body.Status != http.StatusNotFound {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestWriteJSONErrorDefaultsToGenericCode(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSONError(rec, "internal error", http.StatusInternalServerError)

	var body errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body.Code != "error" {
		t.Errorf("Code = %q, want \"error\"", body.Code)
	}
}
