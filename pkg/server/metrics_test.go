package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetricsHandlerExposesRegisteredCollectors(t *testing.T) {
	m := NewMetrics()
	m.ObserveIssuance("ok", time.Now().Add(-10*time.Millisecond))
	m.ObserveBatch(42, time.Now().Add(-50*time.Millisecond))
	m.ObserveLedgerCall("anchor_batch", time.Now().Add(-5*time.Millisecond))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	for _, want := range []string{
		"attestd_issuance_total",
		"attestd_issuance_duration_seconds",
		"attestd_batch_leaf_count",
		"attestd_batch_commit_duration_seconds",
		"attestd_ledger_call_duration_seconds",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected /metrics output to contain %q", want)
		}
	}
}

func TestObserveIssuanceIncrementsLabeledCounter(t *testing.T) {
	m := NewMetrics()
	m.ObserveIssuance("quota_exceeded", time.Now())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	if !strings.Contains(rec.Body.String(), `code="quota_exceeded"`) {
		t.Errorf("expected metrics output to contain the quota_exceeded label, got:\n%s", rec.Body.String())
	}
}
