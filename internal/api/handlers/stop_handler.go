package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"riskcontrol/internal/models"
	"riskcontrol/internal/repository"
	"riskcontrol/internal/stop"
)

// StopReader читает записи аварийных остановок
type StopReader interface {
	GetAll() ([]*models.EmergencyStopRecord, error)
	GetActive() ([]*models.EmergencyStopRecord, error)
}

// StopOps выполняет ручные операции с остановками
type StopOps interface {
	StopManually(scope, scopeID, reason string) error
	ResetManually(scope, scopeID string) error
	EvaluateConditions(ctx context.Context) error
}

// StopHandler обрабатывает запросы ops API по аварийным остановкам.
//
// Endpoints:
// - GET /api/v1/stops - все записи остановок (включая сброшенные, audit trail)
// - GET /api/v1/stops/active - только действующие остановки
// - POST /api/v1/stops - ручная остановка оператором
// - DELETE /api/v1/stops/{scope}/{scopeId} - ручной сброс оператором
// - POST /api/v1/stops/evaluate - внеплановая переоценка условий
//
// Внеплановая переоценка подчиняется общему троттлингу: повторный
// вызов внутри интервала ничего не пересчитывает.
type StopHandler struct {
	stops      StopReader
	controller StopOps
}

// NewStopHandler создает новый StopHandler с внедрением зависимостей.
func NewStopHandler(stops StopReader, controller StopOps) *StopHandler {
	return &StopHandler{
		stops:      stops,
		controller: controller,
	}
}

// GetStops возвращает все записи остановок.
//
// GET /api/v1/stops
func (h *StopHandler) GetStops(w http.ResponseWriter, r *http.Request) {
	stops, err := h.stops.GetAll()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get stops", err)
		return
	}

	if stops == nil {
		stops = []*models.EmergencyStopRecord{}
	}
	respondJSON(w, http.StatusOK, stops)
}

// GetActiveStops возвращает действующие остановки.
//
// GET /api/v1/stops/active
func (h *StopHandler) GetActiveStops(w http.ResponseWriter, r *http.Request) {
	stops, err := h.stops.GetActive()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get active stops", err)
		return
	}

	if stops == nil {
		stops = []*models.EmergencyStopRecord{}
	}
	respondJSON(w, http.StatusOK, stops)
}

// ManualStopRequest - запрос ручной остановки
type ManualStopRequest struct {
	Scope   string `json:"scope"`
	ScopeID string `json:"scope_id"`
	Reason  string `json:"reason"`
}

// CreateStop взводит остановку вручную.
//
// POST /api/v1/stops
//
// Request:
//
//	{"scope": "SUBACCOUNT", "scope_id": "sub-1", "reason": "operator: suspicious fills"}
//
// Для PORTFOLIO и SYSTEM scope_id можно опустить - используются
// синглтонные идентификаторы.
func (h *StopHandler) CreateStop(w http.ResponseWriter, r *http.Request) {
	var req ManualStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Reason == "" {
		respondError(w, http.StatusBadRequest, "reason is required", nil)
		return
	}

	err := h.controller.StopManually(req.Scope, req.ScopeID, req.Reason)
	if err != nil {
		if errors.Is(err, stop.ErrUnknownScope) {
			respondError(w, http.StatusBadRequest, "unknown scope", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to activate stop", err)
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Message: "stop activated"})
}

// DeleteStop сбрасывает остановку вручную.
//
// DELETE /api/v1/stops/{scope}/{scopeId}
func (h *StopHandler) DeleteStop(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	scope := vars["scope"]
	scopeID := vars["scopeId"]

	err := h.controller.ResetManually(scope, scopeID)
	if err != nil {
		switch {
		case errors.Is(err, stop.ErrUnknownScope):
			respondError(w, http.StatusBadRequest, "unknown scope", err)
		case errors.Is(err, repository.ErrStopNotFound):
			respondError(w, http.StatusNotFound, "no active stop for this scope", err)
		default:
			respondError(w, http.StatusInternalServerError, "failed to reset stop", err)
		}
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Message: "stop reset"})
}

// Evaluate запускает внеплановую переоценку условий остановок.
//
// POST /api/v1/stops/evaluate
func (h *StopHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.EvaluateConditions(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "evaluation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Message: "evaluation completed"})
}
