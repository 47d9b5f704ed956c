package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/pricing"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestLoginRateLimitReturns429(t *testing.T) {
	client := newClient(t, newTestAPI(t))

	for i := 0; i < 6; i++ {
		res := client.do(http.MethodPost, "/api/v1/auth/login", domain.LoginRequest{Username: "admin", PIN: "000000"})

		if i < 5 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 5 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 6 expected 429, got %d", res.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","pin":"1234"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	client := newClient(t, newTestAPI(t))

	res := client.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"username": "admin", "password": "x"})
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", res.Code)
	}
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	client := newClient(t, newTestAPI(t))
	client.login("cajero", "275031")

	client.csrf = ""
	if res := client.do(http.MethodPost, "/api/v1/sales", nil); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without csrf token, got %d", res.Code)
	}

	client.csrf = "forged"
	if res := client.do(http.MethodPost, "/api/v1/sales", nil); res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with forged csrf token, got %d", res.Code)
	}
}

func TestCSRFTokenAcceptsPreviousHour(t *testing.T) {
	api := newTestAPI(t)
	current := api.generateCSRFToken()
	if !api.validateCSRFToken(current) {
		t.Fatalf("expected current token to validate")
	}
	if api.validateCSRFToken("") {
		t.Fatalf("expected empty token to be rejected")
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 20, 100); got != 100 {
		t.Fatalf("expected capped limit 100, got %d", got)
	}
	if got := parsePositiveLimit("", 20, 100); got != 20 {
		t.Fatalf("expected fallback limit 20, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 20, 100); got != 20 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

func TestClientKeyStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.168.1.20:53211"
	req.Header.Set("X-Forwarded-For", "1.2.3.4")
	if got := clientKey(req); got != "192.168.1.20" {
		t.Fatalf("expected remote address without port, got %q", got)
	}
}

func TestStatusForDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{domain.NewValidationError("qty", "bad"), http.StatusBadRequest},
		{domain.ErrInvalidQuantity, http.StatusBadRequest},
		{domain.ErrEmptyPayments, http.StatusBadRequest},
		{pricing.ErrNegativeSellPrice, http.StatusBadRequest},
		{fmt.Errorf("resolve: %w", domain.ErrUnauthenticated), http.StatusUnauthorized},
		{domain.ErrProductNotFound, http.StatusNotFound},
		{domain.ErrSaleNotFound, http.StatusNotFound},
		{domain.ErrDuplicateIdentifier, http.StatusConflict},
		{domain.ErrAlreadySettled, http.StatusConflict},
		{&domain.AmountMismatchError{Expected: 10, Received: 9}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w after 5s", domain.ErrOperationTimedOut), http.StatusGatewayTimeout},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.status {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.status)
		}
	}
}

type timingOutLedger struct{ Ledger }

func (timingOutLedger) Settle(context.Context, domain.Session, int64, []domain.PaymentInput) (*domain.Sale, error) {
	return nil, fmt.Errorf("%w after 5s", domain.ErrOperationTimedOut)
}

func TestSettleTimeoutReturns504(t *testing.T) {
	api := newTestAPI(t)
	api.ledger = timingOutLedger{Ledger: api.ledger}

	client := newClient(t, api)
	client.login("cajero", "275031")

	res := client.do(http.MethodPost, "/api/v1/sales/1/settle", domain.SettleRequest{
		Payments: []domain.PaymentInput{{Method: "CASH", AmountCents: 100}},
	})
	if res.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "timed out") {
		t.Fatalf("expected timeout message, got %s", res.Body.String())
	}
}

func TestInternalErrorsAreMasked(t *testing.T) {
	res := httptest.NewRecorder()
	writeError(res, http.StatusInternalServerError, errors.New("pq: relation does not exist"))
	if strings.Contains(res.Body.String(), "relation") {
		t.Fatalf("internal error leaked: %s", res.Body.String())
	}
}
