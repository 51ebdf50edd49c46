package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics mengumpulkan metrik Prometheus untuk layanan custody.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	transferTransitions *prometheus.CounterVec
	itemsReassigned     prometheus.Counter
	cleanupOutcomes     *prometheus.CounterVec
	changesPublished    *prometheus.CounterVec
}

// NewMetrics menginisialisasi registry, metrik HTTP, dan metrik domain.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "custody_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_transfer_transitions_total",
		Help: "Jumlah transisi status ITR berdasarkan status tujuan.",
	}, []string{"status"})
	reassigned := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "custody_items_reassigned_total",
		Help: "Jumlah item yang berpindah custodian melalui ITR.",
	})
	cleanup := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_cleanup_outcomes_total",
		Help: "Hasil penghapusan referensial per entitas.",
	}, []string{"entity", "outcome"})
	changes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_changes_published_total",
		Help: "Jumlah perubahan yang diumumkan ke change feed per tabel.",
	}, []string{"table"})
	registry.MustRegister(requests, duration, transitions, reassigned, cleanup, changes)
	return &Metrics{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:       requests,
		requestDuration:     duration,
		transferTransitions: transitions,
		itemsReassigned:     reassigned,
		cleanupOutcomes:     cleanup,
		changesPublished:    changes,
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

// TransferTransition menghitung transisi ITR ke status tertentu.
func (m *Metrics) TransferTransition(status string) {
	if m == nil {
		return
	}
	m.transferTransitions.WithLabelValues(status).Inc()
}

// ItemsReassigned menambah jumlah item yang berpindah custodian.
func (m *Metrics) ItemsReassigned(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsReassigned.Add(float64(n))
}

// CleanupOutcome mencatat hasil penghapusan: deleted, blocked, atau failed.
func (m *Metrics) CleanupOutcome(entity, outcome string) {
	if m == nil {
		return
	}
	m.cleanupOutcomes.WithLabelValues(entity, outcome).Inc()
}

// ChangePublished mencatat perubahan yang dikirim ke change feed.
func (m *Metrics) ChangePublished(table string) {
	if m == nil {
		return
	}
	m.changesPublished.WithLabelValues(table).Inc()
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
