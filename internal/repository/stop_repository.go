package repository

import (
	"database/sql"
	"errors"
	"time"

	"riskcontrol/internal/models"
)

// Ошибки репозитория остановок
var (
	ErrStopNotFound = errors.New("emergency stop record not found")
)

// StopRepository - работа с таблицей emergency_stops
//
// Одна запись на (scope, scope_id). Активация выполняется UPSERT'ом,
// сброс - мутацией is_stopped. Записи не удаляются (audit trail).
// Остановка считается действующей только после фиксации в БД:
// executor узнает о ней через IsTradingBlocked.
type StopRepository struct {
	db *sql.DB
}

// NewStopRepository создает новый экземпляр репозитория
func NewStopRepository(db *sql.DB) *StopRepository {
	return &StopRepository{db: db}
}

// Activate взводит остановку для (scope, scopeID)
//
// Повторная активация уже взведенной остановки обновляет причину
// и cooldown (условие могло усилиться), но не создает вторую запись.
func (r *StopRepository) Activate(scope, scopeID, reason, action, resetTrigger string, cooldownUntil *time.Time) error {
	query := `
		INSERT INTO emergency_stops (scope, scope_id, is_stopped, stop_reason, stop_action, stopped_at, cooldown_until, reset_trigger, created_at, updated_at)
		VALUES ($1, $2, TRUE, $3, $4, NOW(), $5, $6, NOW(), NOW())
		ON CONFLICT (scope, scope_id) DO UPDATE
		SET is_stopped = TRUE,
		    stop_reason = EXCLUDED.stop_reason,
		    stop_action = EXCLUDED.stop_action,
		    stopped_at = NOW(),
		    cooldown_until = EXCLUDED.cooldown_until,
		    reset_trigger = EXCLUDED.reset_trigger,
		    updated_at = NOW()`

	_, err := r.db.Exec(query, scope, scopeID, reason, action, cooldownUntil, resetTrigger)
	return err
}

// Clear сбрасывает остановку для (scope, scopeID)
//
// Запись остается в таблице с is_stopped = FALSE.
func (r *StopRepository) Clear(scope, scopeID string) error {
	query := `
		UPDATE emergency_stops
		SET is_stopped = FALSE, cooldown_until = NULL, updated_at = NOW()
		WHERE scope = $1 AND scope_id = $2 AND is_stopped`

	result, err := r.db.Exec(query, scope, scopeID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStopNotFound
	}

	return nil
}

// Get возвращает запись остановки для (scope, scopeID)
func (r *StopRepository) Get(scope, scopeID string) (*models.EmergencyStopRecord, error) {
	query := `
		SELECT id, scope, scope_id, is_stopped, stop_reason, stop_action, stopped_at, cooldown_until, reset_trigger, created_at, updated_at
		FROM emergency_stops
		WHERE scope = $1 AND scope_id = $2`

	stop := &models.EmergencyStopRecord{}
	err := r.db.QueryRow(query, scope, scopeID).Scan(
		&stop.ID,
		&stop.Scope,
		&stop.ScopeID,
		&stop.IsStopped,
		&stop.StopReason,
		&stop.StopAction,
		&stop.StoppedAt,
		&stop.CooldownUntil,
		&stop.ResetTrigger,
		&stop.CreatedAt,
		&stop.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStopNotFound
		}
		return nil, err
	}

	return stop, nil
}

// GetActive возвращает все действующие остановки
func (r *StopRepository) GetActive() ([]*models.EmergencyStopRecord, error) {
	query := `
		SELECT id, scope, scope_id, is_stopped, stop_reason, stop_action, stopped_at, cooldown_until, reset_trigger, created_at, updated_at
		FROM emergency_stops
		WHERE is_stopped
		ORDER BY stopped_at`

	return r.queryStops(query)
}

// GetAll возвращает все записи остановок, включая сброшенные
func (r *StopRepository) GetAll() ([]*models.EmergencyStopRecord, error) {
	query := `
		SELECT id, scope, scope_id, is_stopped, stop_reason, stop_action, stopped_at, cooldown_until, reset_trigger, created_at, updated_at
		FROM emergency_stops
		ORDER BY scope, scope_id`

	return r.queryStops(query)
}

// IsTradingBlocked проверяет, блокирует ли какая-либо остановка вход
// для пары (субаккаунт, стратегия)
//
// Горячий путь canTrade: один индексированный запрос без троттлинга.
// Вход заблокирован, если действует хотя бы одна из остановок:
// PORTFOLIO, SYSTEM (синглтоны), SUBACCOUNT данного аккаунта
// или STRATEGY данной стратегии.
func (r *StopRepository) IsTradingBlocked(accountID, strategyID string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM emergency_stops
		WHERE is_stopped
		  AND ((scope = $1 AND scope_id = $2)
		    OR (scope = $3 AND scope_id = $4)
		    OR (scope = $5 AND scope_id = $6)
		    OR (scope = $7 AND scope_id = $8))`

	var count int
	err := r.db.QueryRow(
		query,
		models.ScopePortfolio, models.ScopeIDPortfolio,
		models.ScopeSystem, models.ScopeIDSystem,
		models.ScopeSubaccount, accountID,
		models.ScopeStrategy, strategyID,
	).Scan(&count)

	if err != nil {
		return false, err
	}

	return count > 0, nil
}

// BlockingScopes возвращает список scope действующих остановок,
// блокирующих вход для пары (субаккаунт, стратегия)
//
// Пустой список означает, что вход разрешен. Тот же индексированный
// запрос, что и IsTradingBlocked, но с деталями для ответа canTrade.
func (r *StopRepository) BlockingScopes(accountID, strategyID string) ([]string, error) {
	query := `
		SELECT scope
		FROM emergency_stops
		WHERE is_stopped
		  AND ((scope = $1 AND scope_id = $2)
		    OR (scope = $3 AND scope_id = $4)
		    OR (scope = $5 AND scope_id = $6)
		    OR (scope = $7 AND scope_id = $8))
		ORDER BY scope`

	rows, err := r.db.Query(
		query,
		models.ScopePortfolio, models.ScopeIDPortfolio,
		models.ScopeSystem, models.ScopeIDSystem,
		models.ScopeSubaccount, accountID,
		models.ScopeStrategy, strategyID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scopes []string
	for rows.Next() {
		var scope string
		if err := rows.Scan(&scope); err != nil {
			return nil, err
		}
		scopes = append(scopes, scope)
	}

	return scopes, rows.Err()
}

// queryStops выполняет запрос и сканирует список записей
func (r *StopRepository) queryStops(query string, args ...interface{}) ([]*models.EmergencyStopRecord, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []*models.EmergencyStopRecord
	for rows.Next() {
		stop := &models.EmergencyStopRecord{}
		err := rows.Scan(
			&stop.ID,
			&stop.Scope,
			&stop.ScopeID,
			&stop.IsStopped,
			&stop.StopReason,
			&stop.StopAction,
			&stop.StoppedAt,
			&stop.CooldownUntil,
			&stop.ResetTrigger,
			&stop.CreatedAt,
			&stop.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		stops = append(stops, stop)
	}

	return stops, rows.Err()
}
