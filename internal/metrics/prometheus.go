package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mstress"

// Recorder owns the process metrics. It satisfies probe.Recorder and
// tracks the NATS connection state reported by natsconn.
type Recorder struct {
	registry *prometheus.Registry

	probesTotal    *prometheus.CounterVec
	probeDuration  *prometheus.HistogramVec
	floodMessages  *prometheus.CounterVec
	throughputMPS  prometheus.Histogram
	natsConnected  prometheus.Gauge
	natsReconnects prometheus.Counter
	wsSubscribers  prometheus.Gauge
	httpRequests   *prometheus.CounterVec
}

// NewRecorder registers every metric on a private registry, together with
// the Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		probesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Finished probes by kind and outcome",
		}, []string{"kind", "outcome"}),
		probeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_duration_seconds",
			Help:      "Wall time of a probe from subscribe to result",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 15},
		}, []string{"kind"}),
		floodMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flood_messages_total",
			Help:      "Flood requests sent and replies received",
		}, []string{"direction"}),
		throughputMPS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "throughput_mps",
			Help:      "Round trips per second measured by throughput probes",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		natsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nats_connected",
			Help:      "1 while the NATS connection is up",
		}),
		natsReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nats_reconnects_total",
			Help:      "NATS reconnections since start",
		}),
		wsSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "event_subscribers",
			Help:      "Connected live event feed clients",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Control plane requests by route and status",
		}, []string{"route", "status"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.probesTotal,
		r.probeDuration,
		r.floodMessages,
		r.throughputMPS,
		r.natsConnected,
		r.natsReconnects,
		r.wsSubscribers,
		r.httpRequests,
	)
	return r
}

func (r *Recorder) ObserveProbe(kind, outcome string, elapsed time.Duration) {
	r.probesTotal.WithLabelValues(kind, outcome).Inc()
	r.probeDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

func (r *Recorder) AddFloodMessages(direction string, n int) {
	if n <= 0 {
		return
	}
	r.floodMessages.WithLabelValues(direction).Add(float64(n))
}

func (r *Recorder) ObserveThroughput(mps float64) {
	r.throughputMPS.Observe(mps)
}

func (r *Recorder) SetConnected(up bool) {
	if up {
		r.natsConnected.Set(1)
		return
	}
	r.natsConnected.Set(0)
}

func (r *Recorder) IncReconnects() {
	r.natsReconnects.Inc()
}

func (r *Recorder) SetSubscribers(n int) {
	r.wsSubscribers.Set(float64(n))
}

func (r *Recorder) ObserveRequest(route string, status int) {
	r.httpRequests.WithLabelValues(route, http.StatusText(status)).Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
