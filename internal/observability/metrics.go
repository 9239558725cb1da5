package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	derivations     *prometheus.CounterVec
	closures        prometheus.Counter
	cascadeFailures *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procuremesh_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "procuremesh_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	derivations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procuremesh_order_status_derivations_total",
		Help: "Jumlah derivasi status master order per hasil.",
	}, []string{"status"})
	closures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "procuremesh_indent_closures_total",
		Help: "Jumlah indent yang berhasil ditutup.",
	})
	cascades := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "procuremesh_cascade_failures_total",
		Help: "Jumlah kegagalan cascade pasca-commit per tahap.",
	}, []string{"stage"})
	registry.MustRegister(requests, duration, derivations, closures, cascades)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		derivations:     derivations,
		closures:        closures,
		cascadeFailures: cascades,
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveDerivation mencatat hasil derivasi status master order.
func (m *Metrics) ObserveDerivation(status string) {
	if m == nil {
		return
	}
	m.derivations.WithLabelValues(status).Inc()
}

// ObserveClosure mencatat penutupan indent.
func (m *Metrics) ObserveClosure() {
	if m == nil {
		return
	}
	m.closures.Inc()
}

// ObserveCascadeFailure mencatat kegagalan cascade pasca-commit.
func (m *Metrics) ObserveCascadeFailure(stage string) {
	if m == nil {
		return
	}
	m.cascadeFailures.WithLabelValues(stage).Inc()
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
