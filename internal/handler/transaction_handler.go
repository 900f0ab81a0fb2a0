package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/davekale/bankledger/internal/ledger"
	"github.com/davekale/bankledger/internal/models"
)

type TransactionHandler struct {
	engine *ledger.Engine
	logger *slog.Logger
}

func NewTransactionHandler(engine *ledger.Engine, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{
		engine: engine,
		logger: logger,
	}
}

// RegisterRoutes mounts the balance-affecting endpoints plus history reads.
// The router is expected to run behind ActorMiddleware.
func (h *TransactionHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/accounts/{id}/deposit", h.Deposit).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}/withdraw", h.Withdraw).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}/transactions", h.ListTransactions).Methods(http.MethodGet)
	router.HandleFunc("/transfers", h.Transfer).Methods(http.MethodPost)
}

func (h *TransactionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, h.engine.Deposit, "deposit")
}

func (h *TransactionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.post(w, r, h.engine.Withdraw, "withdraw")
}

func (h *TransactionHandler) post(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, ownerID, accountID string, req *models.AmountRequest) (*models.Transaction, error),
	operation string,
) {
	accountID := mux.Vars(r)["id"]

	var req models.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid "+operation+" request", "error", err.Error())
		writeError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	transaction, err := op(r.Context(), actorFrom(r), accountID, &req)
	if err != nil {
		writeDomainError(w, h.logger, err, operation)
		return
	}

	writeJSON(w, http.StatusCreated, transaction)
}

func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid transfer request", "error", err.Error())
		writeError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	result, err := h.engine.Transfer(r.Context(), actorFrom(r), &req)
	if err != nil {
		writeDomainError(w, h.logger, err, "transfer")
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *TransactionHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]
	limit := queryInt(r, "limit", 0)
	offset := queryInt(r, "offset", 0)

	transactions, err := h.engine.ListTransactions(r.Context(), actorFrom(r), accountID, limit, offset)
	if err != nil {
		writeDomainError(w, h.logger, err, "list transactions")
		return
	}

	if transactions == nil {
		transactions = []*models.Transaction{}
	}
	writeJSON(w, http.StatusOK, transactions)
}
