package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medassist_request_duration_seconds",
			Help:    "End-to-end request processing duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"endpoint"},
	)

	RequestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassist_request_total",
			Help: "Total number of requests processed",
		},
		[]string{"endpoint", "status"},
	)

	UpstreamAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassist_upstream_attempts_total",
			Help: "Outbound attempts per upstream service",
		},
		[]string{"service", "outcome"},
	)

	UpstreamExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassist_upstream_exhausted_total",
			Help: "Calls that failed after exhausting all retry attempts",
		},
		[]string{"service"},
	)

	ConceptsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medassist_concepts_created_total",
			Help: "New concepts written to the terminology store",
		},
	)

	ConceptLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassist_concept_lookups_total",
			Help: "Concept mapping lookups by result",
		},
		[]string{"result"},
	)

	AuditDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "medassist_audit_dropped_total",
			Help: "Audit records dropped because the queue was full",
		},
	)

	AuditIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassist_audit_indexed_total",
			Help: "Audit records shipped to the index",
		},
		[]string{"index", "outcome"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassist_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medassist_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(RequestTotal)
	prometheus.MustRegister(UpstreamAttempts)
	prometheus.MustRegister(UpstreamExhausted)
	prometheus.MustRegister(ConceptsCreated)
	prometheus.MustRegister(ConceptLookups)
	prometheus.MustRegister(AuditDropped)
	prometheus.MustRegister(AuditIndexed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
