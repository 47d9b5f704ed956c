package httpapi

import (
	"errors"
	"net/http"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/pricing"
)

// statusFor maps domain failures to HTTP statuses. Anything unknown is a 500.
func statusFor(err error) int {
	var validation *domain.ValidationError
	var mismatch *domain.AmountMismatchError
	switch {
	case errors.As(err, &validation),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrEmptyPayments),
		errors.Is(err, pricing.ErrNegativeSellPrice):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrSaleNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateIdentifier),
		errors.Is(err, domain.ErrAlreadySettled):
		return http.StatusConflict
	case errors.As(err, &mismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrOperationTimedOut):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		a.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}

	var mismatch *domain.AmountMismatchError
	if errors.As(err, &mismatch) {
		writeJSON(w, status, map[string]any{
			"error":          err.Error(),
			"expected_cents": mismatch.Expected,
			"received_cents": mismatch.Received,
		})
		return
	}

	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, status, map[string]any{
			"error": err.Error(),
			"field": validation.Field,
		})
		return
	}

	if status == http.StatusGatewayTimeout {
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	writeError(w, status, err)
}
