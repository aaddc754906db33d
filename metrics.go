package spartan

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsSink is the process-wide destination for per-upstream and
// per-query counters and histograms. It must be concurrency-safe: every
// FSM writes to it without any coordination between FSM instances.
type MetricsSink interface {
	// IncUpstreamSuccess records a successful (or draining-successful)
	// reply from ep, along with its latency since the probe was spawned.
	IncUpstreamSuccess(ep UpstreamEndpoint, latency float64)

	// IncUpstreamFailure records a failed, timed-out, or cancelled probe
	// against ep.
	IncUpstreamFailure(ep UpstreamEndpoint)

	// AddIgnoredQuestions records additional questions dropped from a
	// multi-question request.
	AddIgnoredQuestions(n int)

	// IncNoUpstreamsAvailable records a query for which the router
	// returned an empty endpoint list.
	IncNoUpstreamsAvailable()

	// IncUpstreamsFailed records a query for which every probe failed or
	// timed out, so no reply was sent to the client.
	IncUpstreamsFailed()
}

// promMetrics is the default MetricsSink, backed by Prometheus vectors and
// served over HTTP by the admin listener.
type promMetrics struct {
	successes         *prometheus.CounterVec
	failures          *prometheus.CounterVec
	latencyMicros     *prometheus.HistogramVec
	ignoredQuestions  prometheus.Counter
	noUpstreamsAvail  prometheus.Counter
	upstreamsFailed   prometheus.Counter
}

var _ MetricsSink = &promMetrics{}

// NewPromMetrics creates and registers the forwarder's metrics with reg. It
// returns an error if registration fails (e.g. duplicate metric names),
// which callers should treat as a startup-fatal misconfiguration.
func NewPromMetrics(reg prometheus.Registerer) (*promMetrics, error) {
	m := &promMetrics{
		successes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spartan",
			Subsystem: "query_fsm",
			Name:      "successes_total",
			Help:      "Successful (including draining) probe replies per upstream.",
		}, []string{"endpoint"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spartan",
			Subsystem: "query_fsm",
			Name:      "failures_total",
			Help:      "Failed, timed-out, or cancelled probes per upstream.",
		}, []string{"endpoint"}),
		latencyMicros: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "spartan",
			Subsystem: "query_fsm",
			Name:      "latency_microseconds",
			Help:      "Microseconds between probe spawn and reply receipt, per upstream.",
			Buckets:   prometheus.ExponentialBuckets(500, 2, 14),
		}, []string{"endpoint"}),
		ignoredQuestions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spartan",
			Name:      "ignored_questions_total",
			Help:      "Extra questions dropped from multi-question requests.",
		}),
		noUpstreamsAvail: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spartan",
			Name:      "no_upstreams_available_total",
			Help:      "Queries for which the router returned no endpoints.",
		}),
		upstreamsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "spartan",
			Name:      "upstreams_failed_total",
			Help:      "Queries for which every probe failed or timed out.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.successes, m.failures, m.latencyMicros,
		m.ignoredQuestions, m.noUpstreamsAvail, m.upstreamsFailed,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *promMetrics) IncUpstreamSuccess(ep UpstreamEndpoint, latencyMicros float64) {
	m.successes.WithLabelValues(ep.String()).Inc()
	m.latencyMicros.WithLabelValues(ep.String()).Observe(latencyMicros)
}

func (m *promMetrics) IncUpstreamFailure(ep UpstreamEndpoint) {
	m.failures.WithLabelValues(ep.String()).Inc()
}

func (m *promMetrics) AddIgnoredQuestions(n int) {
	m.ignoredQuestions.Add(float64(n))
}

func (m *promMetrics) IncNoUpstreamsAvailable() {
	m.noUpstreamsAvail.Inc()
}

func (m *promMetrics) IncUpstreamsFailed() {
	m.upstreamsFailed.Inc()
}
