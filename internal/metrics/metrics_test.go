package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionOpened("map")
	m.SessionOpened("map")
	m.VoteSubmitted("rank")
	m.VoteRejected("duplicate")
	m.RankEvaluated("Tank", true)
	m.RatingsDeleted(3)

	if got := testutil.ToFloat64(m.sessionsOpened.WithLabelValues("map")); got != 2 {
		t.Errorf("sessions opened = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.votesSubmitted.WithLabelValues("rank")); got != 1 {
		t.Errorf("votes submitted = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.votesRejected.WithLabelValues("duplicate")); got != 1 {
		t.Errorf("votes rejected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.rankEvaluations.WithLabelValues("Tank", "true")); got != 1 {
		t.Errorf("rank evaluations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ratingsDeleted); got != 3 {
		t.Errorf("ratings deleted = %v, want 3", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.SessionOpened("map")
	m.SessionExpired()
	m.VoteSubmitted("map")
	m.VoteRejected("storage")
	m.RankEvaluated("Support", false)
	m.RatingsDeleted(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil handler status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.VoteSubmitted("map")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("unexpected error reading body: %s", err)
	}
	if !strings.Contains(string(body), `srwatch_votes_submitted_total{kind="map"} 1`) {
		t.Errorf("metrics output missing submitted counter:\n%s", body)
	}
}
