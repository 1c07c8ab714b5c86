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
	registry          *prometheus.Registry
	handler           http.Handler
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	settingsLookups   *prometheus.CounterVec
	summaryRecomputes *prometheus.CounterVec
	currentStock      prometheus.Gauge
}

// NewMetrics menginisialisasi registry dan metrik dasar.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_business_hours_lookups_total",
		Help: "Sumber jadwal jam operasional yang dipakai (cache, remote, fallback, default).",
	}, []string{"source"})
	recomputes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_inventory_summary_recomputes_total",
		Help: "Jumlah perhitungan ulang ringkasan stok berdasarkan status.",
	}, []string{"status"})
	stock := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_inventory_current_stock_kg",
		Help: "Stok arang saat ini menurut ringkasan terakhir.",
	})
	registry.MustRegister(requests, duration, lookups, recomputes, stock)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		settingsLookups:   lookups,
		summaryRecomputes: recomputes,
		currentStock:      stock,
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

// ObserveSettingsSource mencatat lapisan yang menjawab pembacaan jadwal.
func (m *Metrics) ObserveSettingsSource(source string) {
	if m == nil {
		return
	}
	m.settingsLookups.WithLabelValues(source).Inc()
}

// ObserveSummaryRecompute mencatat hasil perhitungan ulang ringkasan stok.
func (m *Metrics) ObserveSummaryRecompute(currentStockKg float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.summaryRecomputes.WithLabelValues("failure").Inc()
		return
	}
	m.summaryRecomputes.WithLabelValues("success").Inc()
	m.currentStock.Set(currentStockKg)
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
