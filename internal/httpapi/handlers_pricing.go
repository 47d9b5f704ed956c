package httpapi

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"kasirinaja/ledger/internal/money"
	"kasirinaja/ledger/internal/pricing"
)

// deriveRequest carries the current form state plus one edit. Values are
// raw form strings so malformed input can be replayed faithfully. A form
// opened from a stored product may send persisted units instead.
type deriveRequest struct {
	Cost        *string `json:"cost"`
	SellPrice   *string `json:"sell_price"`
	ProfitPct   *string `json:"profit_pct"`
	CostCents   *int64  `json:"cost_cents"`
	PriceCents  *int64  `json:"price_cents"`
	ProfitPctBp *int64  `json:"profit_pct_bp"`
	Driver      string  `json:"driver"`
	Edit      struct {
		Field string `json:"field"`
		Value string `json:"value"`
	} `json:"edit"`
}

type deriveResponse struct {
	Cost        *string  `json:"cost"`
	SellPrice   *string  `json:"sell_price"`
	ProfitPct   *string  `json:"profit_pct"`
	Driver      string   `json:"driver"`
	CostCents   *int64   `json:"cost_cents,omitempty"`
	PriceCents  *int64   `json:"price_cents,omitempty"`
	ProfitPctBp *int64   `json:"profit_pct_bp,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func (a *API) handlePricingDerive(w http.ResponseWriter, r *http.Request) {
	var req deriveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resolver := pricing.NewResolver(pricing.State{
		Cost:      parseField(req.Cost, req.CostCents, money.FromCents),
		Sell:      parseField(req.SellPrice, req.PriceCents, money.FromCents),
		ProfitPct: parseField(req.ProfitPct, req.ProfitPctBp, money.FromBasisPoints),
	}, pricing.ParseDriver(req.Driver))

	if err := resolver.Apply(req.Edit.Field, req.Edit.Value); err != nil {
		if errors.Is(err, pricing.ErrNegativeSellPrice) {
			resp := buildDeriveResponse(resolver)
			resp.Error = err.Error()
			writeJSON(w, http.StatusBadRequest, resp)
			return
		}
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, buildDeriveResponse(resolver))
}

func parseField(raw *string, units *int64, fromUnits func(int64) decimal.Decimal) *decimal.Decimal {
	if raw == nil {
		if units == nil {
			return nil
		}
		value := fromUnits(*units)
		return &value
	}
	value, ok := money.ParseDecimal(*raw)
	if !ok {
		return nil
	}
	return &value
}

func buildDeriveResponse(resolver *pricing.Resolver) deriveResponse {
	state := resolver.State()
	resp := deriveResponse{
		Cost:      formatField(state.Cost),
		SellPrice: formatField(state.Sell),
		ProfitPct: formatField(state.ProfitPct),
		Driver:    string(resolver.Driver()),
		Warnings:  resolver.Warnings(),
	}
	if state.Cost != nil {
		cents := money.ToCents(*state.Cost)
		resp.CostCents = &cents
	}
	if state.Sell != nil {
		cents := money.ToCents(*state.Sell)
		resp.PriceCents = &cents
	}
	if state.ProfitPct != nil {
		bp := money.ToBasisPoints(*state.ProfitPct)
		resp.ProfitPctBp = &bp
	}
	if len(resp.Warnings) == 0 {
		resp.Warnings = nil
	}
	return resp
}

func formatField(value *decimal.Decimal) *string {
	if value == nil {
		return nil
	}
	formatted := money.Format(*value, 2)
	return &formatted
}

