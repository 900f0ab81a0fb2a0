package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/davekale/bankledger/internal/ledger"
	"github.com/davekale/bankledger/internal/models"
)

type UserHandler struct {
	engine *ledger.Engine
	logger *slog.Logger
}

func NewUserHandler(engine *ledger.Engine, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		engine: engine,
		logger: logger,
	}
}

func (h *UserHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.CreateUser).Methods(http.MethodPost)
	router.HandleFunc("/users/{id}", h.GetUser).Methods(http.MethodGet)
}

func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid create user request", "error", err.Error())
		writeError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	user, err := h.engine.CreateUser(r.Context(), &req)
	if err != nil {
		writeDomainError(w, h.logger, err, "create user")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	user, err := h.engine.GetUser(r.Context(), userID)
	if err != nil {
		writeDomainError(w, h.logger, err, "get user")
		return
	}

	writeJSON(w, http.StatusOK, user)
}
