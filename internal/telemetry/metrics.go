package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wikifront"

var (
	// RequestsTotal counts finished requests by how they ended.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Requests handled by the pipeline, by outcome.",
	}, []string{"outcome"})

	// RedirectsTotal counts redirects issued before dispatch.
	RedirectsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "redirects_total",
		Help:      "Redirects issued by the pipeline, by kind.",
	}, []string{"kind"})

	// PermissionDenialsTotal counts requests refused by the access gate or an action right.
	PermissionDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "permission_denials_total",
		Help:      "Permission denials, by action.",
	}, []string{"action"})

	// JobTriggersTotal counts job trigger attempts by result.
	JobTriggersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "job_triggers_total",
		Help:      "Background job trigger attempts after requests, by result.",
	}, []string{"result"})

	// PostResponseFailuresTotal counts contained failures after the response was sent.
	PostResponseFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "post_response_failures_total",
		Help:      "Failures contained in post-response work.",
	})

	// PhaseDuration observes time spent in each lifecycle phase.
	PhaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "phase_duration_seconds",
		Help:      "Time spent in each request lifecycle phase.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"phase"})
)
