package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveAndExpose(t *testing.T) {
	m := New("posauth")

	m.Observe("signin", OutcomeSuccess, time.Now())
	m.Observe("signin", OutcomeRejected, time.Now())
	m.Observe("signin", OutcomeRejected, time.Now())
	m.Locked()
	m.Swept(3, nil)
	m.Swept(0, errors.New("db down"))
	m.Email(nil)
	m.ClientConnected(2)
	m.ClientConnected(-1)
	m.AuditDropped("realtime")
	m.AuditDropped("realtime")

	if got := testutil.ToFloat64(m.Operations.WithLabelValues("signin", OutcomeRejected)); got != 2 {
		t.Fatalf("rejected signins = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ResetsSwept); got != 3 {
		t.Fatalf("swept = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.SweepErrors); got != 1 {
		t.Fatalf("sweep errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RealtimeClients); got != 1 {
		t.Fatalf("clients = %v, want 1", got)
	}

	if got := testutil.ToFloat64(m.AuditDrops.WithLabelValues("realtime")); got != 2 {
		t.Fatalf("audit drops = %v, want 2", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "posauth_account_lockouts_total 1") {
		t.Fatalf("exposition missing lockout counter:\n%s", rec.Body.String())
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Observe("signin", OutcomeSuccess, time.Now())
	m.Locked()
	m.Swept(1, nil)
	m.Email(nil)
	m.ClientConnected(1)
	m.AuditDropped("log")
}
