package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shawn/wecom-gateway/internal/tokencache"
)

const namespace = "wecom_gateway"

// Metrics holds the gateway collectors. A nil *Metrics records nothing.
type Metrics struct {
	CallbackRequests *prometheus.CounterVec
	APICalls         *prometheus.CounterVec
	APIDuration      *prometheus.HistogramVec
	TokenLookups     *prometheus.CounterVec
	SyncRuns         *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		CallbackRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "callback",
			Name:      "requests_total",
			Help:      "Inbound callbacks by path and outcome.",
		}, []string{"path", "outcome"}),
		APICalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "calls_total",
			Help:      "Outbound API calls by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "call_duration_seconds",
			Help:      "Outbound API call latency including token acquisition.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		TokenLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "token",
			Name:      "lookups_total",
			Help:      "Access token lookups by outcome.",
		}, []string{"outcome"}),
		SyncRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "directory",
			Name:      "sync_runs_total",
			Help:      "Directory sync runs by outcome.",
		}, []string{"outcome"}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.CallbackRequests,
		m.APICalls,
		m.APIDuration,
		m.TokenLookups,
		m.SyncRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveCallback(path, outcome string) {
	if m == nil {
		return
	}
	m.CallbackRequests.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) ObserveAPICall(endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.APICalls.WithLabelValues(endpoint, outcome).Inc()
	m.APIDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveToken has the tokencache observer signature. The app ID is not a
// label to keep cardinality bounded.
func (m *Metrics) ObserveToken(_ string, o tokencache.Outcome) {
	if m == nil {
		return
	}
	m.TokenLookups.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) ObserveSync(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SyncRuns.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
