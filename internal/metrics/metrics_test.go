package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCSRF(t *testing.T) {
	c := NewCollector()
	c.TokenIssued("forms")
	c.TokenIssued("forms")
	c.CheckOutcome("forms", "verified")
	c.CheckOutcome("forms", "mismatch")
	c.CheckOutcome("forms", "mismatch")

	if got := testutil.ToFloat64(c.tokensIssued.WithLabelValues("forms")); got != 2 {
		t.Errorf("expected 2 tokens issued, got %v", got)
	}
	if got := testutil.ToFloat64(c.csrfChecks.WithLabelValues("forms", "mismatch")); got != 2 {
		t.Errorf("expected 2 mismatches, got %v", got)
	}
	if got := testutil.ToFloat64(c.csrfChecks.WithLabelValues("forms", "verified")); got != 1 {
		t.Errorf("expected 1 verified, got %v", got)
	}
}

func TestCollectorSessionsAndRequests(t *testing.T) {
	c := NewCollector()
	c.SessionEvent("created")
	c.RecordRequest("forms", "POST", 403, 10*time.Millisecond)

	if got := testutil.ToFloat64(c.sessionEvents.WithLabelValues("created")); got != 1 {
		t.Errorf("expected 1 created session, got %v", got)
	}
	if got := testutil.ToFloat64(c.requestsTotal.WithLabelValues("forms", "POST", "403")); got != 1 {
		t.Errorf("expected 1 request, got %v", got)
	}
	if n := testutil.CollectAndCount(c.requestDurations); n != 1 {
		t.Errorf("expected 1 histogram series, got %d", n)
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.CheckOutcome("admin", "missing")

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(w.Body)

	for _, want := range []string{
		`csrfguard_csrf_checks_total{outcome="missing",route="admin"} 1`,
		"# TYPE csrfguard_csrf_checks_total counter",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
