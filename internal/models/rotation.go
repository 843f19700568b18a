package models

import "time"

// RotationDecision представляет решение о деплое стратегии на субаккаунт
//
// Round (1-4) — раунд прогрессивного ослабления ограничений диверсификации,
// на котором стратегия была выбрана. Записывается для аудита.
type RotationDecision struct {
	ID                 int64     `json:"id" db:"id"`
	StrategyID         string    `json:"strategy_id" db:"strategy_id"`
	TargetSubaccountID string    `json:"target_subaccount_id" db:"target_subaccount_id"`
	Round              int       `json:"round" db:"round"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}
