package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ovalpay/settlements/internal/domain"
	"github.com/ovalpay/settlements/internal/models"
	"github.com/ovalpay/settlements/internal/service"
	"go.uber.org/zap"
)

// TransactionHandler serves the admin transaction endpoints: status
// transitions, trader assignment, and manual merchant callbacks.
type TransactionHandler struct {
	transitions *service.TransitionService
	assignments *service.AssignmentService
	reader      service.Reader
	notifier    *service.CallbackNotifier
}

func NewTransactionHandler(
	transitions *service.TransitionService,
	assignments *service.AssignmentService,
	reader service.Reader,
	notifier *service.CallbackNotifier,
) *TransactionHandler {
	return &TransactionHandler{
		transitions: transitions,
		assignments: assignments,
		reader:      reader,
		notifier:    notifier,
	}
}

// Get handles GET /v1/admin/transactions/{id}
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	trx, err := h.reader.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, trx)
}

// ChangeStatusRequest is the body for PATCH /v1/admin/transactions/{id}/status.
type ChangeStatusRequest struct {
	Status string `json:"status"`
}

// ChangeStatusResponse returns the updated transaction together with the
// merchant callback outcome. Callback failures show up here, never as a
// failed transition.
type ChangeStatusResponse struct {
	Transaction *models.Transaction   `json:"transaction"`
	Callback    *service.NotifyResult `json:"callback,omitempty"`
}

// ChangeStatus handles PATCH /v1/admin/transactions/{id}/status
func (h *TransactionHandler) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req ChangeStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if !domain.ValidStatus(req.Status) {
		RespondError(w, r, http.StatusBadRequest, "transaction/invalid-status", "unknown transaction status")
		return
	}

	trx, callback, err := h.transitions.ChangeStatus(r.Context(), chi.URLParam(r, "id"), req.Status, requestActor(r))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, ChangeStatusResponse{Transaction: trx, Callback: callback})
}

// AssignTraderRequest is the body for PATCH /v1/admin/transactions/{id}/trader.
// A null trader_id unbinds the current trader.
type AssignTraderRequest struct {
	TraderID *string `json:"trader_id"`
}

// AssignTrader handles PATCH /v1/admin/transactions/{id}/trader
func (h *TransactionHandler) AssignTrader(w http.ResponseWriter, r *http.Request) {
	var req AssignTraderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	trx, err := h.assignments.AssignTrader(r.Context(), chi.URLParam(r, "id"), req.TraderID, requestActor(r))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	RespondJSON(w, http.StatusOK, trx)
}

// DispatchCallbackRequest is the body for POST /v1/admin/transactions/{id}/callback.
type DispatchCallbackRequest struct {
	Type   string `json:"type"`             // success, fail or standard
	Status string `json:"status,omitempty"` // overrides the status field of a standard callback
}

// DispatchCallback handles POST /v1/admin/transactions/{id}/callback
func (h *TransactionHandler) DispatchCallback(w http.ResponseWriter, r *http.Request) {
	var req DispatchCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	trx, err := h.reader.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}

	token := ""
	if merchant, err := h.reader.GetMerchant(r.Context(), trx.MerchantID); err == nil {
		token = merchant.Token
	} else {
		zap.L().Warn("merchant lookup for manual callback failed",
			zap.String("merchant_id", trx.MerchantID),
			zap.Error(err),
		)
	}

	result, err := h.notifier.Dispatch(r.Context(), trx, token, req.Type, req.Status)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "callback/invalid-request", err.Error())
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

func (h *TransactionHandler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if status, problemType, message, ok := mapDomainError(err); ok {
		RespondError(w, r, status, problemType, message)
		return
	}
	zap.L().Error("transaction request failed", zap.Error(err))
	RespondError(w, r, http.StatusInternalServerError, "internal-server-error", "unexpected server error")
}
