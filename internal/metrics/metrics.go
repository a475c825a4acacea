// Package metrics exposes the prometheus counters for votes, rank updates and the ledger.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "srwatch"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	sessionsOpened  *prometheus.CounterVec
	sessionsExpired prometheus.Counter
	votesSubmitted  *prometheus.CounterVec
	votesRejected   *prometheus.CounterVec
	rankEvaluations *prometheus.CounterVec
	ratingsDeleted  prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		sessionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "votes",
			Name:      "sessions_opened_total",
			Help:      "Voting sessions opened, by kind.",
		}, []string{"kind"}),
		sessionsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "votes",
			Name:      "sessions_expired_total",
			Help:      "Voting sessions torn down after their time to live.",
		}),
		votesSubmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "votes",
			Name:      "submitted_total",
			Help:      "Votes committed to a ledger, by session kind.",
		}, []string{"kind"}),
		votesRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "votes",
			Name:      "rejected_total",
			Help:      "Submissions refused, by reason.",
		}, []string{"reason"}),
		rankEvaluations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rank",
			Name:      "evaluations_total",
			Help:      "Checkpoint evaluations, by role and whether the checkpoint moved.",
		}, []string{"role", "triggered"}),
		ratingsDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "ratings_deleted_total",
			Help:      "Ratings removed through undo.",
		}),
	}
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened(kind string) {
	if m == nil {
		return
	}
	m.sessionsOpened.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionExpired() {
	if m == nil {
		return
	}
	m.sessionsExpired.Inc()
}

func (m *Metrics) VoteSubmitted(kind string) {
	if m == nil {
		return
	}
	m.votesSubmitted.WithLabelValues(kind).Inc()
}

// VoteRejected counts a refused submission; reason is "incomplete", "duplicate" or "storage"
func (m *Metrics) VoteRejected(reason string) {
	if m == nil {
		return
	}
	m.votesRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) RankEvaluated(role string, triggered bool) {
	if m == nil {
		return
	}
	t := "false"
	if triggered {
		t = "true"
	}
	m.rankEvaluations.WithLabelValues(role, t).Inc()
}

func (m *Metrics) RatingsDeleted(n int) {
	if m == nil {
		return
	}
	m.ratingsDeleted.Add(float64(n))
}
