package rest

import (
	"net/http"

	"github.com/fleetdesk/fleetdesk-backend/internal/domain/bond"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/errors"
	"github.com/fleetdesk/fleetdesk-backend/internal/domain/values"
	bondsvc "github.com/fleetdesk/fleetdesk-backend/internal/service/bond"
)

func (h *Handler) getBondBalance(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	view, err := h.services.Bonds.GetBalance(r.Context(), driverID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) listBondTransactions(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := h.services.Bonds.ListTransactions(r.Context(), driverID,
		queryInt(q.Get("page"), 1), queryInt(q.Get("limit"), 20))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

type bondTransactionRequest struct {
	Amount      float64 `json:"amount" validate:"required"`
	Currency    string  `json:"currency" validate:"required,len=3"`
	Reason      string  `json:"reason"`
	Description string  `json:"description"`
}

// bondTransaction serves the typed mutation endpoints; the transaction
// type comes from the route, everything else from the body. Sign and
// reason rules are enforced by the domain constructor.
func (h *Handler) bondTransaction(txnType bond.TransactionType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, ok := h.actor(w, r)
		if !ok {
			return
		}
		driverID, ok := h.pathID(w, r)
		if !ok {
			return
		}
		var req bondTransactionRequest
		if !h.decode(w, r, &req) {
			return
		}

		amount, err := values.NewMoneyFromFloat(req.Amount, req.Currency)
		if err != nil {
			h.writeError(w, r, errors.NewValidationError("INVALID_AMOUNT", err.Error()))
			return
		}

		txn, err := h.services.Bonds.AddTransaction(r.Context(), bondsvc.TransactionRequest{
			DriverID:    driverID,
			Type:        txnType,
			Amount:      amount,
			Reason:      req.Reason,
			Description: req.Description,
			ActorID:     actorID,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusCreated, txn)
	}
}

func (h *Handler) checkBondSufficiency(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	sufficiency, err := h.services.Bonds.CheckSufficiency(r.Context(), driverID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sufficiency)
}

func (h *Handler) checkBondLockdown(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	status, err := h.services.Bonds.CheckLockdown(r.Context(), driverID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// verifyBondLedger recomputes the fold for auditing; mismatches indicate
// data corruption and are worth paging on.
func (h *Handler) verifyBondLedger(w http.ResponseWriter, r *http.Request) {
	driverID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	consistent, err := h.services.Bonds.VerifyFold(r.Context(), driverID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"driver_id":  driverID,
		"consistent": consistent,
	})
}
