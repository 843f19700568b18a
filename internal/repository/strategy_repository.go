package repository

import (
	"database/sql"
	"errors"

	"riskcontrol/internal/models"
)

// Ошибки репозитория стратегий
var (
	ErrStrategyNotFound = errors.New("strategy not found")
)

const strategyColumns = `id, status, score_backtest, score_live, type, timeframe, direction, consecutive_losses, live_trade_count, live_pnl, live_drawdown, expected_trades_per_day, subaccount_id, live_since, retire_reason, created_at, updated_at`

// StrategyRepository - работа с таблицей strategies
type StrategyRepository struct {
	db *sql.DB
}

// NewStrategyRepository создает новый экземпляр репозитория
func NewStrategyRepository(db *sql.DB) *StrategyRepository {
	return &StrategyRepository{db: db}
}

// GetByID возвращает стратегию по ID
func (r *StrategyRepository) GetByID(id string) (*models.Strategy, error) {
	query := `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE id = $1`

	return r.scanOne(r.db.QueryRow(query, id))
}

// GetPool возвращает кандидатов из пула, отсортированных для ротации:
// score_backtest по убыванию, при равенстве - id по возрастанию
// (детерминированный порядок при одинаковых оценках)
func (r *StrategyRepository) GetPool() ([]*models.Strategy, error) {
	query := `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE status = $1
		ORDER BY score_backtest DESC, id ASC`

	return r.queryStrategies(query, models.StrategyStatusActivePool)
}

// GetLive возвращает все live стратегии
func (r *StrategyRepository) GetLive() ([]*models.Strategy, error) {
	query := `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE status = $1
		ORDER BY id`

	return r.queryStrategies(query, models.StrategyStatusLive)
}

// GetBySubaccount возвращает live стратегии на указанном субаккаунте
func (r *StrategyRepository) GetBySubaccount(subaccountID string) ([]*models.Strategy, error) {
	query := `
		SELECT ` + strategyColumns + `
		FROM strategies
		WHERE status = $1 AND subaccount_id = $2
		ORDER BY id`

	return r.queryStrategies(query, models.StrategyStatusLive, subaccountID)
}

// Promote переводит стратегию из пула в live на указанный субаккаунт
//
// Условие status = ACTIVE_POOL защищает от двойной промоции.
func (r *StrategyRepository) Promote(strategyID, subaccountID string) error {
	query := `
		UPDATE strategies
		SET status = $2,
		    subaccount_id = $3,
		    live_since = NOW(),
		    score_live = 0,
		    consecutive_losses = 0,
		    live_trade_count = 0,
		    live_pnl = 0,
		    live_drawdown = 0,
		    updated_at = NOW()
		WHERE id = $1 AND status = $4`

	result, err := r.db.Exec(query, strategyID, models.StrategyStatusLive, subaccountID, models.StrategyStatusActivePool)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStrategyNotFound
	}

	return nil
}

// Retire выводит live стратегию из торговли с указанием причины
//
// RETIRED - терминальный статус, повторная промоция не выполняется.
func (r *StrategyRepository) Retire(strategyID, reason string) error {
	query := `
		UPDATE strategies
		SET status = $2,
		    retire_reason = $3,
		    subaccount_id = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = $4`

	result, err := r.db.Exec(query, strategyID, models.StrategyStatusRetired, reason, models.StrategyStatusLive)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStrategyNotFound
	}

	return nil
}

// UpdateLiveMetrics записывает наблюдаемые live метрики стратегии
//
// Вызывается executor'ом после каждой закрытой сделки.
func (r *StrategyRepository) UpdateLiveMetrics(s *models.Strategy) error {
	query := `
		UPDATE strategies
		SET score_live = $2,
		    consecutive_losses = $3,
		    live_trade_count = $4,
		    live_pnl = $5,
		    live_drawdown = $6,
		    updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(
		query,
		s.ID,
		s.ScoreLive,
		s.ConsecutiveLosses,
		s.LiveTradeCount,
		s.LivePnl,
		s.LiveDrawdown,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrStrategyNotFound
	}

	return nil
}

// scanOne сканирует одну стратегию из строки
func (r *StrategyRepository) scanOne(row *sql.Row) (*models.Strategy, error) {
	s := &models.Strategy{}
	err := row.Scan(
		&s.ID,
		&s.Status,
		&s.ScoreBacktest,
		&s.ScoreLive,
		&s.Type,
		&s.Timeframe,
		&s.Direction,
		&s.ConsecutiveLosses,
		&s.LiveTradeCount,
		&s.LivePnl,
		&s.LiveDrawdown,
		&s.ExpectedTradesPerDay,
		&s.SubaccountID,
		&s.LiveSince,
		&s.RetireReason,
		&s.CreatedAt,
		&s.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStrategyNotFound
		}
		return nil, err
	}

	return s, nil
}

// queryStrategies выполняет запрос и сканирует список стратегий
func (r *StrategyRepository) queryStrategies(query string, args ...interface{}) ([]*models.Strategy, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var strategies []*models.Strategy
	for rows.Next() {
		s := &models.Strategy{}
		err := rows.Scan(
			&s.ID,
			&s.Status,
			&s.ScoreBacktest,
			&s.ScoreLive,
			&s.Type,
			&s.Timeframe,
			&s.Direction,
			&s.ConsecutiveLosses,
			&s.LiveTradeCount,
			&s.LivePnl,
			&s.LiveDrawdown,
			&s.ExpectedTradesPerDay,
			&s.SubaccountID,
			&s.LiveSince,
			&s.RetireReason,
			&s.CreatedAt,
			&s.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		strategies = append(strategies, s)
	}

	return strategies, rows.Err()
}
