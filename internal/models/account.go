package models

import "time"

// Account представляет торговый субаккаунт с учетом маржи
//
// Инварианты:
// - PeakBalance >= CurrentBalance всегда (high-water mark, не убывает)
// - MarginUsed <= AllocatedCapital обеспечивается движком сайзинга,
//   а не просто наблюдается
type Account struct {
	ID               string    `json:"id" db:"id"`
	AllocatedCapital float64   `json:"allocated_capital" db:"allocated_capital"` // базовый капитал, задается один раз
	CurrentBalance   float64   `json:"current_balance" db:"current_balance"`     // текущий баланс с биржи
	PeakBalance      float64   `json:"peak_balance" db:"peak_balance"`           // максимум баланса (для расчета просадки)
	MarginUsed       float64   `json:"margin_used" db:"margin_used"`             // зарезервированная маржа
	DailyRealizedPnl float64   `json:"daily_realized_pnl" db:"daily_realized_pnl"` // сбрасывается в полночь UTC
	LastSyncDay      time.Time `json:"last_sync_day" db:"last_sync_day"`         // день (UTC) последней синхронизации
	Version          int64     `json:"version" db:"version"`                     // для optimistic locking при sync
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// MarginAvailable возвращает доступную для резервирования маржу
func (a *Account) MarginAvailable() float64 {
	avail := a.CurrentBalance - a.MarginUsed
	if avail < 0 {
		return 0
	}
	return avail
}

// Drawdown возвращает текущую просадку от пика (0.0 - 1.0)
func (a *Account) Drawdown() float64 {
	if a.PeakBalance <= 0 {
		return 0
	}
	return (a.PeakBalance - a.CurrentBalance) / a.PeakBalance
}
