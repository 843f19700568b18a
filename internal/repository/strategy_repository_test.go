package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"riskcontrol/internal/models"
)

// ============================================================
// StrategyRepository Tests
// ============================================================

func strategyRows(strategies ...*models.Strategy) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "status", "score_backtest", "score_live", "type", "timeframe", "direction",
		"consecutive_losses", "live_trade_count", "live_pnl", "live_drawdown",
		"expected_trades_per_day", "subaccount_id", "live_since", "retire_reason",
		"created_at", "updated_at",
	})
	for _, s := range strategies {
		rows.AddRow(
			s.ID, s.Status, s.ScoreBacktest, s.ScoreLive, s.Type, s.Timeframe, s.Direction,
			s.ConsecutiveLosses, s.LiveTradeCount, s.LivePnl, s.LiveDrawdown,
			s.ExpectedTradesPerDay, s.SubaccountID, s.LiveSince, s.RetireReason,
			s.CreatedAt, s.UpdatedAt,
		)
	}
	return rows
}

func TestStrategyRepositoryGetPool(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	s1 := &models.Strategy{ID: "strat-a", Status: models.StrategyStatusActivePool, ScoreBacktest: 80, Type: "trend", Timeframe: "1h", Direction: "long", CreatedAt: now, UpdatedAt: now}
	s2 := &models.Strategy{ID: "strat-b", Status: models.StrategyStatusActivePool, ScoreBacktest: 72, Type: "meanrev", Timeframe: "5m", Direction: "short", CreatedAt: now, UpdatedAt: now}

	mock.ExpectQuery(`SELECT .+ FROM strategies`).
		WithArgs(models.StrategyStatusActivePool).
		WillReturnRows(strategyRows(s1, s2))

	repo := NewStrategyRepository(db)
	pool, err := repo.GetPool()
	if err != nil {
		t.Fatalf("GetPool() error: %v", err)
	}

	if len(pool) != 2 {
		t.Fatalf("len(pool) = %d, want 2", len(pool))
	}
	if pool[0].ID != "strat-a" || pool[1].ID != "strat-b" {
		t.Errorf("GetPool() order = %s, %s", pool[0].ID, pool[1].ID)
	}
}

func TestStrategyRepositoryPromote(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec(`UPDATE strategies`).
			WithArgs("strat-a", models.StrategyStatusLive, "sub-2", models.StrategyStatusActivePool).
			WillReturnResult(sqlmock.NewResult(0, 1))

		repo := NewStrategyRepository(db)
		if err := repo.Promote("strat-a", "sub-2"); err != nil {
			t.Errorf("Promote() error: %v", err)
		}
	})

	t.Run("not in pool", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectExec(`UPDATE strategies`).
			WithArgs("strat-a", models.StrategyStatusLive, "sub-2", models.StrategyStatusActivePool).
			WillReturnResult(sqlmock.NewResult(0, 0))

		repo := NewStrategyRepository(db)
		err = repo.Promote("strat-a", "sub-2")
		if !errors.Is(err, ErrStrategyNotFound) {
			t.Errorf("Promote() error = %v, want ErrStrategyNotFound", err)
		}
	})
}

func TestStrategyRepositoryRetire(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE strategies`).
		WithArgs("strat-a", models.StrategyStatusRetired, "score degradation 50.0% > 30.0%", models.StrategyStatusLive).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewStrategyRepository(db)
	if err := repo.Retire("strat-a", "score degradation 50.0% > 30.0%"); err != nil {
		t.Errorf("Retire() error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestStrategyRepositoryUpdateLiveMetrics(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	s := &models.Strategy{
		ID:                "strat-a",
		ScoreLive:         44.5,
		ConsecutiveLosses: 2,
		LiveTradeCount:    17,
		LivePnl:           -120.5,
		LiveDrawdown:      0.08,
	}

	mock.ExpectExec(`UPDATE strategies`).
		WithArgs("strat-a", 44.5, 2, 17, -120.5, 0.08).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewStrategyRepository(db)
	if err := repo.UpdateLiveMetrics(s); err != nil {
		t.Errorf("UpdateLiveMetrics() error: %v", err)
	}
}
