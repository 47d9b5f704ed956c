// Package metrics owns the Prometheus collectors of the ledger and the HTTP
// surface.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pos"

// Ledger groups the sale lifecycle collectors. A nil *Ledger is a valid
// no-op.
type Ledger struct {
	SalesOpened       prometheus.Counter
	ItemsAdded        prometheus.Counter
	Settlements       *prometheus.CounterVec
	SettledCents      prometheus.Counter
	OperationDuration *prometheus.HistogramVec
}

func NewLedger(reg prometheus.Registerer) *Ledger {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Ledger{
		SalesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_opened_total",
			Help:      "Number of sales opened.",
		}),
		ItemsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sale_items_added_total",
			Help:      "Number of sale items appended.",
		}),
		Settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Settlement attempts by outcome.",
		}, []string{"result"}),
		SettledCents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settled_amount_cents_total",
			Help:      "Sum of settled sale totals in cents.",
		}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ledger_operation_duration_ms",
			Help:      "Ledger operation latency in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"op"}),
	}
	m.SalesOpened = register(reg, m.SalesOpened)
	m.ItemsAdded = register(reg, m.ItemsAdded)
	m.Settlements = register(reg, m.Settlements)
	m.SettledCents = register(reg, m.SettledCents)
	m.OperationDuration = register(reg, m.OperationDuration)
	return m
}

func (m *Ledger) ObserveOperation(op string, started time.Time) {
	if m == nil {
		return
	}
	m.OperationDuration.WithLabelValues(op).Observe(float64(time.Since(started).Microseconds()) / 1000)
}

func (m *Ledger) SaleOpened() {
	if m == nil {
		return
	}
	m.SalesOpened.Inc()
}

func (m *Ledger) ItemAdded() {
	if m == nil {
		return
	}
	m.ItemsAdded.Inc()
}

// Settlement records one settle attempt. amountCents only counts on success.
func (m *Ledger) Settlement(result string, amountCents int64) {
	if m == nil {
		return
	}
	m.Settlements.WithLabelValues(result).Inc()
	if result == "settled" && amountCents > 0 {
		m.SettledCents.Add(float64(amountCents))
	}
}

// HTTP tracks request counts and latency by route pattern.
type HTTP struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
}

func NewHTTP(reg prometheus.Registerer) *HTTP {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &HTTP{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "HTTP request latency in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"method", "route"}),
	}
	m.Requests = register(reg, m.Requests)
	m.Latency = register(reg, m.Latency)
	return m
}

func (m *HTTP) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.Latency.WithLabelValues(r.Method, route).Observe(float64(time.Since(start).Microseconds()) / 1000)
	})
}

// register returns the already registered collector when an identical one
// exists, so constructors can run more than once against one registry.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
