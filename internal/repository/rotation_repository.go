package repository

import (
	"database/sql"

	"riskcontrol/internal/models"
)

// RotationRepository - работа с таблицей rotation_decisions
//
// Журнал решений append-only: каждая промоция записывается
// с раундом ослабления, на котором стратегия прошла отбор.
type RotationRepository struct {
	db *sql.DB
}

// NewRotationRepository создает новый экземпляр репозитория
func NewRotationRepository(db *sql.DB) *RotationRepository {
	return &RotationRepository{db: db}
}

// Create записывает решение о деплое
func (r *RotationRepository) Create(decision *models.RotationDecision) error {
	query := `
		INSERT INTO rotation_decisions (strategy_id, target_subaccount_id, round, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING id, created_at`

	return r.db.QueryRow(
		query,
		decision.StrategyID,
		decision.TargetSubaccountID,
		decision.Round,
	).Scan(&decision.ID, &decision.CreatedAt)
}

// GetRecent возвращает последние решения ротации
func (r *RotationRepository) GetRecent(limit int) ([]*models.RotationDecision, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, strategy_id, target_subaccount_id, round, created_at
		FROM rotation_decisions
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var decisions []*models.RotationDecision
	for rows.Next() {
		d := &models.RotationDecision{}
		err := rows.Scan(&d.ID, &d.StrategyID, &d.TargetSubaccountID, &d.Round, &d.CreatedAt)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, d)
	}

	return decisions, rows.Err()
}
