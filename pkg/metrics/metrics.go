package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "consent"

// Metrics groups the collectors exported by the API and the worker.
type Metrics struct {
	RoleTransitions      *prometheus.CounterVec // by result: ok, validation, constraint, error
	VotesDelegated       prometheus.Counter
	VotesRemoved         prometheus.Counter
	ElectionsReopened    prometheus.Counter
	NotificationsSent    prometheus.Counter
	NotificationFailures prometheus.Counter
	EmailJobs            *prometheus.CounterVec // by status: sent, failed, retried, disabled
	HTTPRequests         *prometheus.CounterVec
	HTTPDuration         *prometheus.HistogramVec
}

// New registers all collectors on reg. Pass prometheus.DefaultRegisterer in
// binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RoleTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "role_transitions_total",
			Help:      "Role update transactions by outcome",
		}, []string{"result"}),
		VotesDelegated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_delegated_total",
			Help:      "Votes moved or copied to a delegate",
		}),
		VotesRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_removed_total",
			Help:      "Votes deleted during role removal",
		}),
		ElectionsReopened: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elections_reopened_total",
			Help:      "Final DataAccess elections reopened after chairperson succession",
		}),
		NotificationsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegation_notifications_total",
			Help:      "Delegation notifications handed to the notifier",
		}),
		NotificationFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delegation_notification_failures_total",
			Help:      "Delegation notifications that failed",
		}),
		EmailJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "email_jobs_total",
			Help:      "Email jobs processed by the worker",
		}, []string{"status"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Nop returns collectors registered on a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}
