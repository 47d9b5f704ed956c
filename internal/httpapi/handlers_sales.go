package httpapi

import (
	"net/http"

	"kasirinaja/ledger/internal/domain"
)

func (a *API) handleOpenSale(w http.ResponseWriter, r *http.Request) {
	session, _ := sessionFromContext(r.Context())
	sale, err := a.ledger.Open(r.Context(), session)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (a *API) handleGetSale(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	session, _ := sessionFromContext(r.Context())
	detail, err := a.ledger.Get(r.Context(), session, id)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) handleAddSaleItem(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	var req domain.AddItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, _ := sessionFromContext(r.Context())
	sale, err := a.ledger.AddItemByIdentifier(r.Context(), session, id, req.Identifier, req.Qty)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func (a *API) handleSettleSale(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	var req domain.SettleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	session, _ := sessionFromContext(r.Context())
	sale, err := a.ledger.Settle(r.Context(), session, id, req.Payments)
	if err != nil {
		a.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}
