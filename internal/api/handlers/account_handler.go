package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"riskcontrol/internal/models"
	"riskcontrol/internal/repository"
)

// AccountReader читает субаккаунты
type AccountReader interface {
	GetAll() ([]*models.Account, error)
	GetByID(id string) (*models.Account, error)
}

// AccountHandler обрабатывает запросы ops API по субаккаунтам.
//
// Endpoints:
// - GET /api/v1/accounts - список субаккаунтов с балансами и маржой
// - GET /api/v1/accounts/{id} - один субаккаунт
type AccountHandler struct {
	accounts AccountReader
}

// NewAccountHandler создает новый AccountHandler с внедрением зависимостей.
func NewAccountHandler(accounts AccountReader) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// GetAccounts возвращает все субаккаунты.
//
// GET /api/v1/accounts
func (h *AccountHandler) GetAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.accounts.GetAll()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get accounts", err)
		return
	}

	if accounts == nil {
		accounts = []*models.Account{}
	}
	respondJSON(w, http.StatusOK, accounts)
}

// GetAccount возвращает один субаккаунт.
//
// GET /api/v1/accounts/{id}
func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	account, err := h.accounts.GetByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			respondError(w, http.StatusNotFound, "account not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get account", err)
		return
	}

	respondJSON(w, http.StatusOK, account)
}
