package repository

import (
	"database/sql"
	"fmt"
)

// migrate.go - схема БД риск-контроля
//
// Обе программы (executor и monitor) вызывают RunMigrations на старте.
// Все выражения идемпотентны (IF NOT EXISTS), порядок запуска процессов
// не имеет значения.

// RunMigrations создает таблицы риск-контроля, если их еще нет
func RunMigrations(db *sql.DB) error {
	statements := []string{
		// Субаккаунты с учетом маржи и дневного PNL
		`CREATE TABLE IF NOT EXISTS accounts (
			id                 TEXT PRIMARY KEY,
			allocated_capital  DOUBLE PRECISION NOT NULL,
			current_balance    DOUBLE PRECISION NOT NULL DEFAULT 0,
			peak_balance       DOUBLE PRECISION NOT NULL DEFAULT 0,
			margin_used        DOUBLE PRECISION NOT NULL DEFAULT 0,
			daily_realized_pnl DOUBLE PRECISION NOT NULL DEFAULT 0,
			last_sync_day      TIMESTAMPTZ NOT NULL DEFAULT '1970-01-01',
			version            BIGINT NOT NULL DEFAULT 0,
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Аварийные остановки: одна запись на (scope, scope_id),
		// записи мутируются при повторном срабатывании и никогда не удаляются
		`CREATE TABLE IF NOT EXISTS emergency_stops (
			id             BIGSERIAL PRIMARY KEY,
			scope          TEXT NOT NULL,
			scope_id       TEXT NOT NULL,
			is_stopped     BOOLEAN NOT NULL DEFAULT FALSE,
			stop_reason    TEXT NOT NULL DEFAULT '',
			stop_action    TEXT NOT NULL DEFAULT '',
			stopped_at     TIMESTAMPTZ,
			cooldown_until TIMESTAMPTZ,
			reset_trigger  TEXT NOT NULL DEFAULT '',
			created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (scope, scope_id)
		)`,

		// Индекс под горячий путь canTrade: выборка только активных остановок
		`CREATE INDEX IF NOT EXISTS idx_emergency_stops_active
			ON emergency_stops (scope, scope_id) WHERE is_stopped`,

		// Стратегии в жизненном цикле ротации
		`CREATE TABLE IF NOT EXISTS strategies (
			id                      TEXT PRIMARY KEY,
			status                  TEXT NOT NULL DEFAULT 'ACTIVE_POOL',
			score_backtest          DOUBLE PRECISION NOT NULL DEFAULT 0,
			score_live              DOUBLE PRECISION NOT NULL DEFAULT 0,
			type                    TEXT NOT NULL DEFAULT '',
			timeframe               TEXT NOT NULL DEFAULT '',
			direction               TEXT NOT NULL DEFAULT '',
			consecutive_losses      INTEGER NOT NULL DEFAULT 0,
			live_trade_count        INTEGER NOT NULL DEFAULT 0,
			live_pnl                DOUBLE PRECISION NOT NULL DEFAULT 0,
			live_drawdown           DOUBLE PRECISION NOT NULL DEFAULT 0,
			expected_trades_per_day DOUBLE PRECISION NOT NULL DEFAULT 0,
			subaccount_id           TEXT,
			live_since              TIMESTAMPTZ,
			retire_reason           TEXT NOT NULL DEFAULT '',
			created_at              TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at              TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE INDEX IF NOT EXISTS idx_strategies_status
			ON strategies (status)`,

		// Журнал решений ротации (audit trail)
		`CREATE TABLE IF NOT EXISTS rotation_decisions (
			id                   BIGSERIAL PRIMARY KEY,
			strategy_id          TEXT NOT NULL,
			target_subaccount_id TEXT NOT NULL,
			round                INTEGER NOT NULL,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}
