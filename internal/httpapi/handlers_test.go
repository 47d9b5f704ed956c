package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"kasirinaja/ledger/internal/auth"
	"kasirinaja/ledger/internal/cache"
	"kasirinaja/ledger/internal/catalog"
	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/ledger"
	"kasirinaja/ledger/internal/metrics"
	"kasirinaja/ledger/internal/store/memory"
)

// newTestAPI wires the real services over a seeded in-memory store so
// handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	reg := prometheus.NewRegistry()
	logger := zerolog.Nop()

	authSvc := auth.NewService(repo, cache.NoopSessionCache{}, "test-secret-key-0123456789abcdef", time.Hour, logger)
	catalogSvc := catalog.NewService(repo, logger)
	ledgerSvc := ledger.New(repo, ledger.Options{
		Timeout: 2 * time.Second,
		Metrics: metrics.NewLedger(reg),
		Logger:  logger,
	})

	return New(authSvc, catalogSvc, ledgerSvc, Options{
		AllowedOrigin: "*",
		Logger:        logger,
		Metrics:       metrics.NewHTTP(reg),
		Gatherer:      reg,
	})
}

type testClient struct {
	t       *testing.T
	handler http.Handler
	token   string
	csrf    string
}

func newClient(t *testing.T, api *API) *testClient {
	t.Helper()
	return &testClient{t: t, handler: api.Handler()}
}

func (c *testClient) do(method, path string, payload any) *httptest.ResponseRecorder {
	c.t.Helper()

	var body *bytes.Reader
	if payload == nil {
		body = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(payload)
		if err != nil {
			c.t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.7:41000"
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

// login authenticates and fetches a CSRF token for later mutations.
func (c *testClient) login(username, pin string) {
	c.t.Helper()

	rec := c.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: username, PIN: pin})
	if rec.Code != http.StatusOK {
		c.t.Fatalf("login expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	decodeBody(c.t, rec, &resp)
	if resp.AccessToken == "" {
		c.t.Fatalf("expected access token")
	}
	c.token = resp.AccessToken

	rec = c.do(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	var csrf map[string]string
	decodeBody(c.t, rec, &csrf)
	c.csrf = csrf["csrf_token"]
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
}

func TestHandleHealth(t *testing.T) {
	client := newClient(t, newTestAPI(t))

	rec := client.do(http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestLoginRejectsWrongPIN(t *testing.T) {
	client := newClient(t, newTestAPI(t))

	rec := client.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "cajero", PIN: "000000"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginRejectsMalformedPIN(t *testing.T) {
	client := newClient(t, newTestAPI(t))

	rec := client.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "cajero", PIN: "12ab"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMeReturnsSessionUser(t *testing.T) {
	client := newClient(t, newTestAPI(t))
	client.login("cajero", "275031")

	rec := client.do(http.MethodGet, "/api/v1/auth/me", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		User domain.User `json:"user"`
	}
	decodeBody(t, rec, &body)
	if body.User.Username != "cajero" || body.User.Role != domain.RoleCashier {
		t.Fatalf("unexpected user %+v", body.User)
	}
}

func TestLogoutRevokesToken(t *testing.T) {
	client := newClient(t, newTestAPI(t))
	client.login("cajero", "275031")

	if rec := client.do(http.MethodPost, "/api/v1/auth/logout", nil); rec.Code != http.StatusOK {
		t.Fatalf("logout expected 200, got %d", rec.Code)
	}
	if rec := client.do(http.MethodGet, "/api/v1/auth/me", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rec.Code)
	}
}

func TestSalesRequireAuth(t *testing.T) {
	client := newClient(t, newTestAPI(t))

	rec := client.do(http.MethodGet, "/api/v1/sales/1", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSaleFlow(t *testing.T) {
	client := newClient(t, newTestAPI(t))
	client.login("cajero", "275031")

	rec := client.do(http.MethodPost, "/api/v1/sales", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var sale domain.Sale
	decodeBody(t, rec, &sale)
	if sale.Status != domain.SaleStatusOpen || sale.TotalCents != 0 || !strings.HasPrefix(sale.Folio, "V-") {
		t.Fatalf("unexpected opened sale %+v", sale)
	}

	salePath := "/api/v1/sales/" + itoa(sale.ID)
	rec = client.do(http.MethodPost, salePath+"/items", domain.AddItemRequest{Identifier: "SKU1", Qty: 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("add expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &sale)
	if sale.SubtotalCents != 1000 || sale.TotalCents != 1000 {
		t.Fatalf("expected totals 1000, got %+v", sale)
	}

	rec = client.do(http.MethodPost, salePath+"/settle", domain.SettleRequest{
		Payments: []domain.PaymentInput{{Method: "CASH", AmountCents: 1000}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("settle expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &sale)
	if sale.Status != domain.SaleStatusSettled || sale.SettledAt == nil {
		t.Fatalf("expected settled sale, got %+v", sale)
	}

	rec = client.do(http.MethodGet, salePath, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get expected 200, got %d", rec.Code)
	}
	var detail domain.SaleDetail
	decodeBody(t, rec, &detail)
	if len(detail.Items) != 1 || detail.Items[0].LineTotalCents != 1000 {
		t.Fatalf("unexpected items %+v", detail.Items)
	}
	if len(detail.Payments) != 1 || detail.Payments[0].Method != domain.PaymentCash {
		t.Fatalf("unexpected payments %+v", detail.Payments)
	}

	rec = client.do(http.MethodPost, salePath+"/items", domain.AddItemRequest{Identifier: "SKU1", Qty: 1})
	if rec.Code != http.StatusConflict {
		t.Fatalf("add after settle expected 409, got %d", rec.Code)
	}
}

func TestSettleMismatchReturns422WithAmounts(t *testing.T) {
	client := newClient(t, newTestAPI(t))
	client.login("cajero", "275031")

	rec := client.do(http.MethodPost, "/api/v1/sales", nil)
	var sale domain.Sale
	decodeBody(t, rec, &sale)
	salePath := "/api/v1/sales/" + itoa(sale.ID)

	client.do(http.MethodPost, salePath+"/items", domain.AddItemRequest{Identifier: "7501000000011", Qty: 2})

	rec = client.do(http.MethodPost, salePath+"/settle", domain.SettleRequest{
		Payments: []domain.PaymentInput{{Method: "CARD", AmountCents: 900, Reference: "4321"}},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	decodeBody(t, rec, &body)
	if body["expected_cents"] != float64(1000) || body["received_cents"] != float64(900) {
		t.Fatalf("unexpected mismatch body %v", body)
	}

	rec = client.do(http.MethodGet, salePath, nil)
	var detail domain.SaleDetail
	decodeBody(t, rec, &detail)
	if detail.Sale.Status != domain.SaleStatusOpen || len(detail.Payments) != 0 {
		t.Fatalf("mismatch must not persist anything, got %+v", detail)
	}
}

func TestAddItemErrors(t *testing.T) {
	client := newClient(t, newTestAPI(t))
	client.login("cajero", "275031")

	rec := client.do(http.MethodPost, "/api/v1/sales", nil)
	var sale domain.Sale
	decodeBody(t, rec, &sale)
	salePath := "/api/v1/sales/" + itoa(sale.ID)

	cases := []struct {
		name   string
		path   string
		req    domain.AddItemRequest
		status int
	}{
		{name: "unknown identifier", path: salePath, req: domain.AddItemRequest{Identifier: "NOPE", Qty: 1}, status: http.StatusNotFound},
		{name: "zero qty", path: salePath, req: domain.AddItemRequest{Identifier: "SKU1", Qty: 0}, status: http.StatusBadRequest},
		{name: "blank identifier", path: salePath, req: domain.AddItemRequest{Identifier: "  ", Qty: 1}, status: http.StatusBadRequest},
		{name: "unknown sale", path: "/api/v1/sales/9999", req: domain.AddItemRequest{Identifier: "SKU1", Qty: 1}, status: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := client.do(http.MethodPost, tc.path+"/items", tc.req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (body: %s)", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestProductAdminFlow(t *testing.T) {
	api := newTestAPI(t)

	cashier := newClient(t, api)
	cashier.login("cajero", "275031")
	rec := cashier.do(http.MethodPost, "/api/v1/products", domain.ProductInput{SKU: "SKU9", Name: "Te verde", PriceCents: 1000, CostCents: 800})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("cashier create expected 403, got %d", rec.Code)
	}

	admin := newClient(t, api)
	admin.login("admin", "482916")
	rec = admin.do(http.MethodPost, "/api/v1/products", domain.ProductInput{SKU: "SKU9", Name: "Te verde", PriceCents: 1000, CostCents: 800})
	if rec.Code != http.StatusCreated {
		t.Fatalf("admin create expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.ProductResult
	decodeBody(t, rec, &created)
	if created.Product.ProfitPctBp != 2500 || created.Product.Barcode != "SKU9" {
		t.Fatalf("unexpected created product %+v", created.Product)
	}

	rec = admin.do(http.MethodPost, "/api/v1/products", domain.ProductInput{SKU: "SKU9", Name: "Otro", PriceCents: 1, CostCents: 1})
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate sku expected 409, got %d", rec.Code)
	}

	rec = cashier.do(http.MethodGet, "/api/v1/products?search=verde", nil)
	var page domain.ProductPage
	decodeBody(t, rec, &page)
	if page.Total != 1 || page.Items[0].SKU != "SKU9" {
		t.Fatalf("unexpected search page %+v", page)
	}

	productPath := "/api/v1/products/" + itoa(created.Product.ID)
	if rec := admin.do(http.MethodDelete, productPath, nil); rec.Code != http.StatusOK {
		t.Fatalf("deactivate expected 200, got %d", rec.Code)
	}
	rec = cashier.do(http.MethodGet, "/api/v1/products?search=verde", nil)
	decodeBody(t, rec, &page)
	if page.Total != 0 {
		t.Fatalf("inactive products must not be listed, got %+v", page)
	}
}

func TestPricingDerive(t *testing.T) {
	client := newClient(t, newTestAPI(t))
	client.login("admin", "482916")

	cost := "10"
	rec := client.do(http.MethodPost, "/api/v1/pricing/derive", map[string]any{
		"cost": cost,
		"edit": map[string]string{"field": "sell_price", "value": "12.50"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp deriveResponse
	decodeBody(t, rec, &resp)
	if resp.Driver != "sell" || resp.ProfitPct == nil || *resp.ProfitPct != "25" {
		t.Fatalf("unexpected derive response %+v", resp)
	}
	if resp.PriceCents == nil || *resp.PriceCents != 1250 || resp.ProfitPctBp == nil || *resp.ProfitPctBp != 2500 {
		t.Fatalf("unexpected projections %+v", resp)
	}

	rec = client.do(http.MethodPost, "/api/v1/pricing/derive", map[string]any{
		"cost":       "10",
		"sell_price": "12.5",
		"profit_pct": "25",
		"driver":     "percent",
		"edit":       map[string]string{"field": "profit_pct", "value": "-150"},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative sell expected 400, got %d", rec.Code)
	}
	decodeBody(t, rec, &resp)
	if resp.Error == "" || resp.SellPrice == nil || *resp.SellPrice != "12.5" {
		t.Fatalf("rejected edit must keep previous state, got %+v", resp)
	}
}

func TestPricingDeriveFromStoredUnits(t *testing.T) {
	client := newClient(t, newTestAPI(t))
	client.login("admin", "482916")

	rec := client.do(http.MethodPost, "/api/v1/pricing/derive", map[string]any{
		"cost_cents":    1000,
		"price_cents":   1500,
		"profit_pct_bp": 5000,
		"driver":        "sell",
		"edit":          map[string]string{"field": "cost", "value": "12"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp deriveResponse
	decodeBody(t, rec, &resp)
	if resp.SellPrice == nil || *resp.SellPrice != "15" || resp.ProfitPct == nil || *resp.ProfitPct != "25" {
		t.Fatalf("expected sell kept at 15 and profit 25, got %+v", resp)
	}
	if resp.CostCents == nil || *resp.CostCents != 1200 || resp.PriceCents == nil || *resp.PriceCents != 1500 {
		t.Fatalf("unexpected projections %+v", resp)
	}
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	client := newClient(t, newTestAPI(t))
	client.do(http.MethodGet, "/healthz", nil)

	rec := client.do(http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `pos_http_requests_total{method="GET",route="/healthz",status="200"} 1`) {
		t.Fatalf("expected healthz counter in metrics output")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
