package models

import (
	"time"

	"riskcontrol/pkg/utils"
)

// Статусы стратегии
//
// Переходы: ACTIVE_POOL → LIVE (деплой), LIVE → RETIRED (вывод из торговли).
// RETIRED — терминальный статус, повторная промоция не выполняется.
const (
	StrategyStatusActivePool = "ACTIVE_POOL" // кандидат в пуле, прошла бэктест
	StrategyStatusLive       = "LIVE"        // торгует на субаккаунте
	StrategyStatusRetired    = "RETIRED"     // выведена из торговли
)

// Strategy представляет торговую стратегию в жизненном цикле ротации
type Strategy struct {
	ID                string     `json:"id" db:"id"`
	Status            string     `json:"status" db:"status"`
	ScoreBacktest     float64    `json:"score_backtest" db:"score_backtest"` // оценка по бэктесту
	ScoreLive         float64    `json:"score_live" db:"score_live"`         // оценка по live торговле
	Type              string     `json:"type" db:"type"`                     // trend, meanrev, breakout...
	Timeframe         string     `json:"timeframe" db:"timeframe"`           // 5m, 1h, 4h...
	Direction         string     `json:"direction" db:"direction"`           // long, short, both
	ConsecutiveLosses int        `json:"consecutive_losses" db:"consecutive_losses"`
	LiveTradeCount    int        `json:"live_trade_count" db:"live_trade_count"`
	LivePnl           float64    `json:"live_pnl" db:"live_pnl"`             // реализованный PNL за live период
	LiveDrawdown      float64    `json:"live_drawdown" db:"live_drawdown"`   // просадка live equity (0.0 - 1.0)
	ExpectedTradesPerDay float64 `json:"expected_trades_per_day" db:"expected_trades_per_day"` // из бэктеста
	SubaccountID      *string    `json:"subaccount_id" db:"subaccount_id"`   // null пока не LIVE
	LiveSince         *time.Time `json:"live_since" db:"live_since"`
	RetireReason      string     `json:"retire_reason" db:"retire_reason"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// LiveDays возвращает количество полных суток в live торговле
func (s *Strategy) LiveDays(now time.Time) float64 {
	if s.LiveSince == nil {
		return 0
	}
	return now.Sub(*s.LiveSince).Hours() / 24
}

// ScoreDegradation возвращает относительное падение live оценки
// против бэктеста (0.0 - 1.0). Для нулевого бэктеста деградация не определена.
func (s *Strategy) ScoreDegradation() float64 {
	return utils.CalculateDegradation(s.ScoreBacktest, s.ScoreLive)
}
