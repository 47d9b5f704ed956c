package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLedgerCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedger(reg)

	m.SaleOpened()
	m.ItemAdded()
	m.ItemAdded()
	m.Settlement("settled", 1000)
	m.Settlement("amount_mismatch", 999)
	m.ObserveOperation("settle", time.Now())

	require.Equal(t, 1.0, testutil.ToFloat64(m.SalesOpened))
	require.Equal(t, 2.0, testutil.ToFloat64(m.ItemsAdded))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Settlements.WithLabelValues("settled")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Settlements.WithLabelValues("amount_mismatch")))
	require.Equal(t, 1000.0, testutil.ToFloat64(m.SettledCents))

	again := NewLedger(reg)
	require.Same(t, m.SalesOpened, again.SalesOpened)
}

func TestNilLedgerIsNoop(t *testing.T) {
	var m *Ledger
	m.SaleOpened()
	m.Settlement("settled", 1)
	m.ObserveOperation("open", time.Now())
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTP(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/api/v1/sales/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sales/42", nil))

	require.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("GET", "/api/v1/sales/{id}", "404")))
}
