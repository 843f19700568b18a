package sizing

import (
	"errors"
)

// engine.go - расчет размера позиции
//
// Чистая функция от (equity, риск-параметры, плечо, стоп-лосс, доступная
// маржа) к марже и номиналу ордера. Никаких обращений к БД или бирже.

// Ошибки сайзинга
var (
	ErrInvalidStopLoss    = errors.New("stop loss distance must be positive")
	ErrInvalidLeverage    = errors.New("leverage must be positive")
	ErrInvalidEquity      = errors.New("equity must be positive")
	ErrInvalidPositions   = errors.New("max positions must be at least 1")
	ErrInsufficientMargin = errors.New("insufficient margin for trade")
)

// Request - входные параметры расчета размера позиции
//
// Чистый вход без идентичности: движок не знает про аккаунты.
type Request struct {
	Equity       float64 `json:"equity"`         // текущий баланс субаккаунта
	RiskPct      float64 `json:"risk_pct"`       // целевой риск на сделку (доля equity)
	StopLossPct  float64 `json:"stop_loss_pct"`  // дистанция до стоп-лосса (доля цены)
	Leverage     float64 `json:"leverage"`       // плечо
	MaxPositions int     `json:"max_positions"`  // знаменатель кепа диверсификации
}

// Result - результат расчета
type Result struct {
	Margin        float64 `json:"margin"`         // маржа под позицию
	Notional      float64 `json:"notional"`       // номинал позиции
	Capped        bool    `json:"capped"`         // сработал ли кеп диверсификации
	EffectiveRisk float64 `json:"effective_risk"` // фактический риск в деньгах
}

// Size рассчитывает размер позиции
//
// Порядок шагов фиксирован:
//  1. riskAmount = equity * riskPct
//  2. notional = riskAmount / stopLossPct
//  3. marginNeeded = notional / leverage
//  4. кеп диверсификации: marginNeeded не больше equity / maxPositions;
//     при срабатывании notional пересчитывается, фактический риск
//     становится НИЖЕ запрошенного riskPct
//  5. проверка доступности: marginNeeded > marginAvailable - отказ
//     целиком, без частичного уменьшения размера
//
// Кеп применяется ДО проверки доступности: сначала ограничиваем долю
// одной сделки в бюджете, затем финальная проверка остатка маржи,
// которая может отклонить даже кепнутый запрос.
func Size(req Request, marginAvailable float64) (*Result, error) {
	if req.Equity <= 0 {
		return nil, ErrInvalidEquity
	}
	if req.StopLossPct <= 0 {
		return nil, ErrInvalidStopLoss
	}
	if req.Leverage <= 0 {
		return nil, ErrInvalidLeverage
	}
	if req.MaxPositions < 1 {
		return nil, ErrInvalidPositions
	}

	riskAmount := req.Equity * req.RiskPct
	notional := riskAmount / req.StopLossPct
	marginNeeded := notional / req.Leverage

	capped := false
	maxMarginPerTrade := req.Equity / float64(req.MaxPositions)
	if marginNeeded > maxMarginPerTrade {
		marginNeeded = maxMarginPerTrade
		notional = marginNeeded * req.Leverage
		capped = true
	}

	if marginNeeded > marginAvailable {
		return nil, ErrInsufficientMargin
	}

	return &Result{
		Margin:        marginNeeded,
		Notional:      notional,
		Capped:        capped,
		EffectiveRisk: notional * req.StopLossPct,
	}, nil
}
