package models

import "time"

// Области действия аварийной остановки
const (
	ScopePortfolio  = "PORTFOLIO"  // весь портфель
	ScopeSubaccount = "SUBACCOUNT" // один субаккаунт
	ScopeStrategy   = "STRATEGY"   // одна стратегия
	ScopeSystem     = "SYSTEM"     // вся система (например, устаревшие данные)
)

// Действия при срабатывании остановки
const (
	ActionHaltEntries = "HALT_ENTRIES" // блокировка новых входов, открытые позиции не трогаем
	ActionForceClose  = "FORCE_CLOSE"  // принудительное закрытие всех позиций
)

// Триггеры автоматического сброса остановки
const (
	ResetMidnightUTC         = "MIDNIGHT_UTC"          // следующая полночь UTC
	ResetCooldownAndRotation = "COOLDOWN_AND_ROTATION" // cooldown прошел И убыточные стратегии ротированы
	ResetRotation            = "ROTATION"              // деплой новой стратегии на субаккаунт
	ResetFixedCooldown       = "FIXED_COOLDOWN"        // фиксированный cooldown
	ResetConditionCleared    = "CONDITION_CLEARED"     // условие перестало выполняться (без cooldown)
)

// Синглтон-идентификаторы для scope без конкретного объекта
const (
	ScopeIDPortfolio = "portfolio"
	ScopeIDSystem    = "system"
)

// EmergencyStopRecord представляет запись аварийной остановки
//
// Одна запись на (scope, scope_id). Создается при первом срабатывании,
// мутируется при повторном срабатывании/сбросе, физически НЕ удаляется
// (audit trail). Переход считается действительным только после записи в БД.
type EmergencyStopRecord struct {
	ID            int64      `json:"id" db:"id"`
	Scope         string     `json:"scope" db:"scope"`
	ScopeID       string     `json:"scope_id" db:"scope_id"`
	IsStopped     bool       `json:"is_stopped" db:"is_stopped"`
	StopReason    string     `json:"stop_reason" db:"stop_reason"`
	StopAction    string     `json:"stop_action" db:"stop_action"`
	StoppedAt     *time.Time `json:"stopped_at" db:"stopped_at"`
	CooldownUntil *time.Time `json:"cooldown_until" db:"cooldown_until"`
	ResetTrigger  string     `json:"reset_trigger" db:"reset_trigger"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// ValidScope проверяет допустимость значения scope
func ValidScope(s string) bool {
	switch s {
	case ScopePortfolio, ScopeSubaccount, ScopeStrategy, ScopeSystem:
		return true
	}
	return false
}

// ScopeInfo возвращает описание области остановки
func ScopeInfo(s string) string {
	switch s {
	case ScopePortfolio:
		return "Остановка всего портфеля"
	case ScopeSubaccount:
		return "Остановка субаккаунта"
	case ScopeStrategy:
		return "Остановка стратегии"
	case ScopeSystem:
		return "Системная остановка (данные/инфраструктура)"
	default:
		return "Неизвестная область"
	}
}
