package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/davekale/bankledger/internal/ledger"
	"github.com/davekale/bankledger/internal/models"
)

// recentTransactionLimit bounds the history attached to detail and summary
// views.
const recentTransactionLimit = 10

type AccountHandler struct {
	engine *ledger.Engine
	logger *slog.Logger
}

func NewAccountHandler(engine *ledger.Engine, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		engine: engine,
		logger: logger,
	}
}

// RegisterRoutes mounts the account endpoints. The router is expected to run
// behind ActorMiddleware.
func (h *AccountHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/accounts", h.OpenAccount).Methods(http.MethodPost)
	router.HandleFunc("/accounts", h.ListAccounts).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/balance", h.GetBalance).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/closure", h.CheckClosure).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/close", h.CloseAccount).Methods(http.MethodPost)
	router.HandleFunc("/summary", h.Summary).Methods(http.MethodGet)
}

func (h *AccountHandler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req models.OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid open account request", "error", err.Error())
		writeError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	account, err := h.engine.OpenAccount(r.Context(), actorFrom(r), &req)
	if err != nil {
		writeDomainError(w, h.logger, err, "open account")
		return
	}

	writeJSON(w, http.StatusCreated, account)
}

func (h *AccountHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.engine.ListAccounts(r.Context(), actorFrom(r))
	if err != nil {
		writeDomainError(w, h.logger, err, "list accounts")
		return
	}

	if accounts == nil {
		accounts = []*models.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	detail, err := h.engine.AccountDetail(r.Context(), actorFrom(r), accountID, recentTransactionLimit)
	if err != nil {
		writeDomainError(w, h.logger, err, "get account")
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	balance, err := h.engine.GetBalance(r.Context(), actorFrom(r), accountID)
	if err != nil {
		writeDomainError(w, h.logger, err, "get balance")
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

func (h *AccountHandler) CheckClosure(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	check, err := h.engine.CheckClosure(r.Context(), actorFrom(r), accountID)
	if err != nil {
		writeDomainError(w, h.logger, err, "check closure")
		return
	}

	writeJSON(w, http.StatusOK, check)
}

func (h *AccountHandler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	if err := h.engine.CloseAccount(r.Context(), actorFrom(r), accountID); err != nil {
		writeDomainError(w, h.logger, err, "close account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AccountHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.engine.Summary(r.Context(), actorFrom(r), recentTransactionLimit)
	if err != nil {
		writeDomainError(w, h.logger, err, "summary")
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
