package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/davekale/bankledger/internal/errors"
	"github.com/davekale/bankledger/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func writeError(w http.ResponseWriter, status int, errorMsg, details string) {
	writeJSON(w, status, models.ErrorResponse{
		Error:   errorMsg,
		Message: details,
	})
}

// writeDomainError maps ledger errors onto HTTP statuses. Anything
// unclassified is a 500 and gets logged; domain rejections are the caller's
// problem and logged by the engine already.
func writeDomainError(w http.ResponseWriter, logger *slog.Logger, err error, operation string) {
	switch {
	case err == errors.ErrInvalidAmount:
		writeError(w, http.StatusBadRequest, "invalid amount", "amount must be a positive number")
	case err == errors.ErrSameAccount:
		writeError(w, http.StatusBadRequest, "same account", "source and destination accounts must differ")
	case errors.IsValidationError(err):
		writeError(w, http.StatusBadRequest, "validation error", err.Error())
	case errors.IsNotFound(err):
		writeError(w, http.StatusNotFound, "account not found", "")
	case err == errors.ErrUserNotFound:
		writeError(w, http.StatusNotFound, "user not found", "")
	case err == errors.ErrUserAlreadyExists:
		writeError(w, http.StatusConflict, "user already exists", "")
	case errors.IsClosed(err):
		writeError(w, http.StatusConflict, "account closed", err.Error())
	case errors.IsInsufficientFunds(err):
		writeError(w, http.StatusConflict, "insufficient funds", "")
	case errors.IsStoreUnavailable(err):
		logger.Error("store unavailable during "+operation, "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, "store unavailable", "")
	default:
		logger.Error("internal server error during "+operation, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
