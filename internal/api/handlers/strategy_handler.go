package handlers

import (
	"net/http"
	"strconv"

	"riskcontrol/internal/models"
)

// StrategyReader читает стратегии
type StrategyReader interface {
	GetPool() ([]*models.Strategy, error)
	GetLive() ([]*models.Strategy, error)
}

// RotationReader читает журнал решений ротации
type RotationReader interface {
	GetRecent(limit int) ([]*models.RotationDecision, error)
}

// StrategyHandler обрабатывает запросы ops API по стратегиям и ротации.
//
// Endpoints:
// - GET /api/v1/strategies/pool - кандидаты в пуле (по убыванию score)
// - GET /api/v1/strategies/live - торгующие стратегии
// - GET /api/v1/rotations?limit=50 - последние решения ротации
type StrategyHandler struct {
	strategies StrategyReader
	rotations  RotationReader
}

// NewStrategyHandler создает новый StrategyHandler с внедрением зависимостей.
func NewStrategyHandler(strategies StrategyReader, rotations RotationReader) *StrategyHandler {
	return &StrategyHandler{
		strategies: strategies,
		rotations:  rotations,
	}
}

// GetPool возвращает стратегии в пуле.
//
// GET /api/v1/strategies/pool
func (h *StrategyHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	strategies, err := h.strategies.GetPool()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get pool", err)
		return
	}

	if strategies == nil {
		strategies = []*models.Strategy{}
	}
	respondJSON(w, http.StatusOK, strategies)
}

// GetLive возвращает торгующие стратегии.
//
// GET /api/v1/strategies/live
func (h *StrategyHandler) GetLive(w http.ResponseWriter, r *http.Request) {
	strategies, err := h.strategies.GetLive()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get live strategies", err)
		return
	}

	if strategies == nil {
		strategies = []*models.Strategy{}
	}
	respondJSON(w, http.StatusOK, strategies)
}

// GetRotations возвращает последние решения ротации.
//
// GET /api/v1/rotations?limit=50
func (h *StrategyHandler) GetRotations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	decisions, err := h.rotations.GetRecent(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get rotation decisions", err)
		return
	}

	if decisions == nil {
		decisions = []*models.RotationDecision{}
	}
	respondJSON(w, http.StatusOK, decisions)
}
