package sizing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"riskcontrol/internal/models"
	"riskcontrol/internal/repository"
	"riskcontrol/pkg/retry"
	"riskcontrol/pkg/utils"
)

// ledger.go - учет маржи субаккаунтов
//
// Ledger - единственная точка изменения margin_used. Резервирование
// атомарно на уровне БД (условный UPDATE), синхронизация балансов
// защищена optimistic locking с повтором при конфликте версий.

// AccountStore - хранилище аккаунтов, используемое ledger'ом
type AccountStore interface {
	GetByID(id string) (*models.Account, error)
	GetAll() ([]*models.Account, error)
	ReserveMargin(accountID string, amount float64) error
	ReleaseMargin(accountID string, amount float64) error
	BootstrapCapital(accountID string, capital float64) error
	SyncBalance(account *models.Account) error
}

// Ledger - учет маржи поверх хранилища аккаунтов
type Ledger struct {
	accounts    AccountStore
	logger      *zap.Logger
	conflictCfg retry.Config
}

// NewLedger создает новый ledger
func NewLedger(accounts AccountStore, logger *zap.Logger, maxConflictRetries int) *Ledger {
	cfg := retry.ConflictConfig()
	if maxConflictRetries > 0 {
		cfg.MaxRetries = maxConflictRetries
	}
	cfg.RetryIf = func(err error) bool {
		return errors.Is(err, repository.ErrVersionConflict)
	}

	return &Ledger{
		accounts:    accounts,
		logger:      logger,
		conflictCfg: cfg,
	}
}

// SizeAndReserve рассчитывает размер позиции и резервирует маржу
//
// Сначала чистый расчет по снимку аккаунта, затем атомарный условный
// резерв в БД. Между снимком и резервом состояние могло измениться -
// финальную проверку выполняет сам UPDATE, и он же может отклонить.
func (l *Ledger) SizeAndReserve(accountID string, riskPct, stopLossPct, leverage float64, maxPositions int) (*Result, error) {
	account, err := l.accounts.GetByID(accountID)
	if err != nil {
		return nil, err
	}

	req := Request{
		Equity:       account.CurrentBalance,
		RiskPct:      riskPct,
		StopLossPct:  stopLossPct,
		Leverage:     leverage,
		MaxPositions: maxPositions,
	}

	result, err := Size(req, account.MarginAvailable())
	if err != nil {
		return nil, err
	}

	if err := l.accounts.ReserveMargin(accountID, result.Margin); err != nil {
		if errors.Is(err, repository.ErrInsufficientMargin) {
			return nil, ErrInsufficientMargin
		}
		return nil, err
	}

	l.logger.Info("margin reserved",
		zap.String("account_id", accountID),
		zap.Float64("margin", result.Margin),
		zap.Float64("notional", result.Notional),
		zap.Bool("capped", result.Capped),
	)

	return result, nil
}

// Release освобождает маржу после закрытия позиции
func (l *Ledger) Release(accountID string, margin float64) error {
	if err := l.accounts.ReleaseMargin(accountID, margin); err != nil {
		return err
	}

	l.logger.Info("margin released",
		zap.String("account_id", accountID),
		zap.Float64("margin", margin),
	)

	return nil
}

// SyncFromExchange записывает наблюдаемый баланс биржи в аккаунт
//
// Правила:
//   - allocated_capital == 0: бутстрап первым наблюдаемым балансом,
//     дальше капитал внешним дрейфом не перезаписывается
//   - current_balance всегда обновляется
//   - peak_balance = max(peak_balance, current_balance), не убывает
//   - daily_realized_pnl накапливает дельту баланса за сутки UTC
//     и обнуляется при первой синхронизации новых суток
//
// Конфликт версий (параллельная запись другого процесса) разрешается
// перечитыванием аккаунта и повтором расчета.
func (l *Ledger) SyncFromExchange(ctx context.Context, accountID string, observedBalance float64) error {
	return retry.Do(ctx, func() error {
		account, err := l.accounts.GetByID(accountID)
		if err != nil {
			return retry.Permanent(err)
		}

		if account.AllocatedCapital == 0 {
			if err := l.accounts.BootstrapCapital(accountID, observedBalance); err != nil {
				return retry.Permanent(fmt.Errorf("bootstrap capital: %w", err))
			}
			account.AllocatedCapital = observedBalance
			l.logger.Info("allocated capital bootstrapped",
				zap.String("account_id", accountID),
				zap.Float64("capital", observedBalance),
			)
		}

		now := time.Now().UTC()
		today := utils.GetDayStartFrom(now)

		// Новые сутки UTC: дневной PNL начинается с нуля
		if !utils.SameUTCDay(account.LastSyncDay, now) {
			account.DailyRealizedPnl = 0
			account.LastSyncDay = today
		}

		delta := observedBalance - account.CurrentBalance
		account.DailyRealizedPnl += delta
		account.CurrentBalance = observedBalance
		if account.CurrentBalance > account.PeakBalance {
			account.PeakBalance = account.CurrentBalance
		}

		if err := l.accounts.SyncBalance(account); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				l.logger.Debug("balance sync version conflict, retrying",
					zap.String("account_id", accountID),
				)
			}
			return err
		}

		return nil
	}, l.conflictCfg)
}

// TotalAllocatedCapital возвращает суммарный выделенный капитал
// и суммарный дневной PNL по всем субаккаунтам
func (l *Ledger) TotalAllocatedCapital() (capital, dailyPnl float64, err error) {
	accounts, err := l.accounts.GetAll()
	if err != nil {
		return 0, 0, err
	}

	for _, account := range accounts {
		capital += account.AllocatedCapital
		dailyPnl += account.DailyRealizedPnl
	}

	return capital, dailyPnl, nil
}
