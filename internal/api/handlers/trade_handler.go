package handlers

import (
	"errors"
	"net/http"

	"riskcontrol/internal/config"
	"riskcontrol/internal/sizing"
	"riskcontrol/internal/stop"
)

// TradeGate проверяет разрешение на вход в позицию
type TradeGate interface {
	CanTrade(accountID, strategyID string) (*stop.Decision, error)
}

// MarginLedger выполняет сайзинг и учет маржи
type MarginLedger interface {
	SizeAndReserve(accountID string, riskPct, stopLossPct, leverage float64, maxPositions int) (*sizing.Result, error)
	Release(accountID string, margin float64) error
}

// TradeHandler обрабатывает запросы торгового ядра перед входом в позицию.
//
// Endpoints:
// - GET /api/v1/trade/can-trade?account_id=...&strategy_id=... - проверка остановок
// - POST /api/v1/trade/size - расчет размера позиции и резервирование маржи
// - POST /api/v1/trade/release - возврат маржи после закрытия позиции
//
// Порядок для входа в позицию: can-trade, затем size. Резервирование
// атомарное: успешный ответ size означает, что маржа уже списана.
type TradeHandler struct {
	gate   TradeGate
	ledger MarginLedger
	risk   config.RiskConfig
}

// NewTradeHandler создает новый TradeHandler с внедрением зависимостей.
func NewTradeHandler(gate TradeGate, ledger MarginLedger, risk config.RiskConfig) *TradeHandler {
	return &TradeHandler{
		gate:   gate,
		ledger: ledger,
		risk:   risk,
	}
}

// CanTrade проверяет, разрешен ли вход для пары (субаккаунт, стратегия).
//
// GET /api/v1/trade/can-trade?account_id=sub-1&strategy_id=strat-1
//
// Response 200 OK:
//
//	{"allowed": true}
//	{"allowed": false, "blocked_by": ["PORTFOLIO", "STRATEGY"]}
//
// Ответ 200 в обоих случаях: запрет на вход - штатный результат
// проверки, не ошибка HTTP.
func (h *TradeHandler) CanTrade(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("account_id")
	strategyID := r.URL.Query().Get("strategy_id")
	if accountID == "" || strategyID == "" {
		respondError(w, http.StatusBadRequest, "account_id and strategy_id are required", nil)
		return
	}

	decision, err := h.gate.CanTrade(accountID, strategyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to check trading permission", err)
		return
	}

	respondJSON(w, http.StatusOK, decision)
}

// SizeRequest - запрос расчета размера позиции
type SizeRequest struct {
	AccountID   string  `json:"account_id"`
	StrategyID  string  `json:"strategy_id"`
	StopLossPct float64 `json:"stop_loss_pct"`
	Leverage    float64 `json:"leverage"`
}

// Size рассчитывает размер позиции и резервирует маржу.
//
// POST /api/v1/trade/size
//
// Request:
//
//	{"account_id": "sub-1", "strategy_id": "strat-1", "stop_loss_pct": 0.03, "leverage": 1}
//
// Response 200 OK:
//
//	{"margin": 1000.0, "notional": 1000.0, "capped": true, "effective_risk": 30.0}
//
// Response 409 Conflict: вход заблокирован остановкой или не хватает маржи.
// Response 400 Bad Request: невалидные параметры сайзинга.
func (h *TradeHandler) Size(w http.ResponseWriter, r *http.Request) {
	var req SizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.AccountID == "" || req.StrategyID == "" {
		respondError(w, http.StatusBadRequest, "account_id and strategy_id are required", nil)
		return
	}

	// Остановки проверяются до сайзинга: заблокированный вход
	// не должен трогать маржу
	decision, err := h.gate.CanTrade(req.AccountID, req.StrategyID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to check trading permission", err)
		return
	}
	if !decision.Allowed {
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":      "trading is blocked by an emergency stop",
			"blocked_by": decision.BlockedBy,
		})
		return
	}

	result, err := h.ledger.SizeAndReserve(
		req.AccountID,
		h.risk.RiskPerTradePct,
		req.StopLossPct,
		req.Leverage,
		h.risk.MaxOpenPositionsPerSubacct,
	)
	if err != nil {
		switch {
		case errors.Is(err, sizing.ErrInsufficientMargin):
			respondError(w, http.StatusConflict, "insufficient margin", err)
		case errors.Is(err, sizing.ErrInvalidStopLoss),
			errors.Is(err, sizing.ErrInvalidLeverage),
			errors.Is(err, sizing.ErrInvalidEquity),
			errors.Is(err, sizing.ErrInvalidPositions):
			respondError(w, http.StatusBadRequest, "invalid sizing parameters", err)
		default:
			respondError(w, http.StatusInternalServerError, "failed to size position", err)
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// ReleaseRequest - запрос возврата маржи
type ReleaseRequest struct {
	AccountID string  `json:"account_id"`
	Margin    float64 `json:"margin"`
}

// Release возвращает зарезервированную маржу после закрытия позиции.
//
// POST /api/v1/trade/release
//
// Request:
//
//	{"account_id": "sub-1", "margin": 400.0}
//
// Response 200 OK:
//
//	{"message": "margin released"}
func (h *TradeHandler) Release(w http.ResponseWriter, r *http.Request) {
	var req ReleaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.AccountID == "" || req.Margin <= 0 {
		respondError(w, http.StatusBadRequest, "account_id and positive margin are required", nil)
		return
	}

	if err := h.ledger.Release(req.AccountID, req.Margin); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to release margin", err)
		return
	}

	respondJSON(w, http.StatusOK, SuccessResponse{Message: "margin released"})
}
