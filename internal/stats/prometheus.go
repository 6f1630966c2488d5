package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Exporter publishes live run counters for scraping, an optional
// component not present in the original (which only prints a final text
// report) but consistent with how etalazz-vsa instruments its own
// request-handling paths with prometheus/client_golang.
type Exporter struct {
	registry   *prometheus.Registry
	requests   prometheus.Counter
	errors     prometheus.Counter
	bytesSent  prometheus.Counter
	bytesRecv  prometheus.Counter
	reconnects prometheus.Counter
}

// NewExporter registers mb's counters against a private registry so
// multiple runs in the same process (e.g. under test) don't collide on
// the default global registry.
func NewExporter() *Exporter {
	reg := prometheus.NewRegistry()
	e := &Exporter{
		registry: reg,
		requests: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mb_requests_total",
			Help: "Total HTTP requests issued.",
		}),
		errors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mb_errors_total",
			Help: "Total responses with status >= 400.",
		}),
		bytesSent: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mb_bytes_sent_total",
			Help: "Total request bytes written.",
		}),
		bytesRecv: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mb_bytes_received_total",
			Help: "Total response bytes read.",
		}),
		reconnects: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "mb_reconnects_total",
			Help: "Total connection re-establishments.",
		}),
	}
	return e
}

// Observe advances the exporter's counters to t's absolute totals. Since
// prometheus.Counter only ever increases, Observe tracks the last-seen
// absolute value itself and adds the delta.
type observed struct {
	requests, errors, bytesSent, bytesRecv, reconnects uint64
}

func (e *Exporter) Observe(t Totals, last *observed) {
	e.requests.Add(float64(t.Requests - last.requests))
	e.errors.Add(float64(t.Errors - last.errors))
	e.bytesSent.Add(float64(t.BytesSent - last.bytesSent))
	e.bytesRecv.Add(float64(t.BytesRecv - last.bytesRecv))
	e.reconnects.Add(float64(t.Reconnects - last.reconnects))
	last.requests, last.errors = t.Requests, t.Errors
	last.bytesSent, last.bytesRecv, last.reconnects = t.BytesSent, t.BytesRecv, t.Reconnects
}

// NewObserved returns a zeroed delta tracker for use with Observe.
func NewObserved() *observed { return &observed{} }

// Handler returns the /metrics HTTP handler for this exporter's registry.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
