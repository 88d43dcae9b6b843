package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/ovalpay/settlements/internal/api/middleware"
	"github.com/ovalpay/settlements/internal/api/problem"
	"github.com/ovalpay/settlements/internal/models"
)

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func requestActor(r *http.Request) *string {
	if id := middleware.ActorIDFromContext(r.Context()); id != "" {
		return &id
	}
	return nil
}

// mapDomainError translates the service error taxonomy into HTTP problems.
func mapDomainError(err error) (status int, problemType, message string, ok bool) {
	switch {
	case errors.Is(err, models.ErrTransactionNotFound):
		return http.StatusNotFound, "transaction/not-found", "transaction not found", true
	case errors.Is(err, models.ErrTraderNotFound):
		return http.StatusNotFound, "trader/not-found", "trader not found", true
	case errors.Is(err, models.ErrMerchantNotFound):
		return http.StatusNotFound, "merchant/not-found", "merchant not found", true
	case errors.Is(err, models.ErrPreconditionFailed):
		return http.StatusConflict, "transaction/status-conflict", "transaction status changed concurrently", true
	case errors.Is(err, models.ErrInvariantViolation):
		return http.StatusUnprocessableEntity, "ledger/invariant-violation", "settlement would take a balance negative", true
	case errors.Is(err, models.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "trader/insufficient-balance", "trader balance cannot cover the deal", true
	default:
		return mapDBError(err)
	}
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23503": // foreign_key_violation
		return http.StatusBadRequest, "db/foreign-key-violation", "invalid reference", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	case "23502": // not_null_violation
		return http.StatusBadRequest, "db/not-null-violation", "missing required field", true
	default:
		return 0, "", "", false
	}
}
