package stop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"riskcontrol/internal/config"
	"riskcontrol/internal/models"
	"riskcontrol/internal/repository"
	"riskcontrol/internal/scheduler"
	"riskcontrol/pkg/retry"
	"riskcontrol/pkg/utils"
)

// controller.go - контроллер аварийных остановок
//
// Машина состояний на (scope, scope_id): OK <-> STOPPED, терминальных
// состояний нет. Переход действителен только после записи в БД:
// рестарт процесса посреди перехода не оставляет торговлю без защиты.
//
// Горячий путь CanTrade никогда не троттлится. Переоценка условий
// и автосбросы троттлятся (дефолт 60s), чтобы ограничить нагрузку на БД.

// Ошибки контроллера
var (
	ErrUnknownScope = errors.New("unknown stop scope")
)

// StopStore - хранилище записей остановок
type StopStore interface {
	Activate(scope, scopeID, reason, action, resetTrigger string, cooldownUntil *time.Time) error
	Clear(scope, scopeID string) error
	Get(scope, scopeID string) (*models.EmergencyStopRecord, error)
	GetActive() ([]*models.EmergencyStopRecord, error)
	BlockingScopes(accountID, strategyID string) ([]string, error)
}

// AccountReader - чтение аккаунтов для портфельных предикатов
type AccountReader interface {
	GetAll() ([]*models.Account, error)
}

// StrategyReader - чтение live стратегий
type StrategyReader interface {
	GetLive() ([]*models.Strategy, error)
}

// PositionCloser - закрытие позиций на бирже при FORCE_CLOSE
type PositionCloser interface {
	CloseAllPositions(ctx context.Context, accountID string) error
}

// FeedAge - возраст последнего сообщения рыночных данных
type FeedAge interface {
	Age() time.Duration
}

// Decision - результат проверки canTrade
type Decision struct {
	Allowed   bool     `json:"allowed"`
	BlockedBy []string `json:"blocked_by,omitempty"`
}

// Controller - контроллер аварийных остановок
type Controller struct {
	stops      StopStore
	accounts   AccountReader
	strategies StrategyReader
	closer     PositionCloser
	feed       FeedAge

	risk     config.RiskConfig
	dryRun   bool
	logger   *zap.Logger
	throttle *scheduler.Throttle
	now      func() time.Time // подменяется в тестах
}

// NewController создает контроллер остановок
//
// dryRun пробрасывается из конфигурации процесса: в dry-run режиме
// FORCE_CLOSE фиксирует остановки в БД, но не шлет ордера на биржу.
func NewController(
	stops StopStore,
	accounts AccountReader,
	strategies StrategyReader,
	closer PositionCloser,
	feed FeedAge,
	risk config.RiskConfig,
	evaluateInterval time.Duration,
	dryRun bool,
	logger *zap.Logger,
) *Controller {
	return &Controller{
		stops:      stops,
		accounts:   accounts,
		strategies: strategies,
		closer:     closer,
		feed:       feed,
		risk:       risk,
		dryRun:     dryRun,
		logger:     logger,
		throttle:   scheduler.NewThrottle(evaluateInterval),
		now:        time.Now,
	}
}

// ============================================================
// Горячий путь
// ============================================================

// CanTrade проверяет, разрешен ли вход для пары (субаккаунт, стратегия)
//
// Один индексированный запрос по материализованному состоянию,
// без пересчета предикатов и БЕЗ троттлинга: вызывается на каждый
// торговый сигнал.
func (c *Controller) CanTrade(accountID, strategyID string) (*Decision, error) {
	scopes, err := c.stops.BlockingScopes(accountID, strategyID)
	if err != nil {
		return nil, err
	}

	decision := &Decision{
		Allowed:   len(scopes) == 0,
		BlockedBy: scopes,
	}

	RecordCanTrade(decision.Allowed)
	return decision, nil
}

// DeploymentsAllowed проверяет, можно ли деплоить стратегии
//
// Деплой приостановлен, пока действует остановка PORTFOLIO или SYSTEM:
// нет смысла выводить стратегию на субаккаунт, которому запрещен вход.
// Остановки SUBACCOUNT и STRATEGY деплой не блокируют - деплой на
// остановленный субаккаунт как раз и сбрасывает его остановку.
func (c *Controller) DeploymentsAllowed() (bool, error) {
	scopes, err := c.stops.BlockingScopes("", "")
	if err != nil {
		return false, err
	}
	return len(scopes) == 0, nil
}

// ============================================================
// Переоценка условий (троттлится)
// ============================================================

// EvaluateConditions пересчитывает все предикаты остановок
//
// Пропускается, если с прошлой переоценки прошло меньше интервала
// троттлинга. Ошибка одного предиката не прерывает остальные.
func (c *Controller) EvaluateConditions(ctx context.Context) error {
	if !c.throttle.Allow() {
		EvaluateSkipped.Inc()
		return nil
	}

	start := c.now()
	defer func() {
		EvaluateDuration.Observe(time.Since(start).Seconds())
	}()

	var errs []error

	if err := c.evaluatePortfolio(ctx); err != nil {
		errs = append(errs, fmt.Errorf("portfolio: %w", err))
	}
	if err := c.evaluateSubaccounts(); err != nil {
		errs = append(errs, fmt.Errorf("subaccounts: %w", err))
	}
	if err := c.evaluateStrategies(); err != nil {
		errs = append(errs, fmt.Errorf("strategies: %w", err))
	}
	if err := c.evaluateSystem(); err != nil {
		errs = append(errs, fmt.Errorf("system: %w", err))
	}

	if err := c.refreshActiveGauge(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// evaluatePortfolio проверяет портфельные условия
//
// Просадка (FORCE_CLOSE) проверяется первой как более строгая:
// активный FORCE_CLOSE не понижается до HALT_ENTRIES дневным лимитом.
func (c *Controller) evaluatePortfolio(ctx context.Context) error {
	accounts, err := c.accounts.GetAll()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return nil
	}

	now := c.now()
	var totalCapital, totalDailyPnl, totalPeak, totalCurrent float64
	for _, a := range accounts {
		totalCapital += a.AllocatedCapital
		totalPeak += a.PeakBalance
		totalCurrent += a.CurrentBalance

		// Счетчик дневного PNL обнуляется лениво - первой синхронизацией
		// балансов новых суток. До нее в аккаунте лежит вчерашнее значение,
		// и учитывать его нельзя: остановка взведется заново на сутки вперед
		if utils.SameUTCDay(a.LastSyncDay, now) {
			totalDailyPnl += a.DailyRealizedPnl
		}
	}

	// Просадка портфеля от пика: единственное условие с FORCE_CLOSE
	drawdown := utils.CalculateDrawdown(totalPeak, totalCurrent)
	if drawdown >= c.risk.MaxPortfolioDrawdown {
		reason := fmt.Sprintf("portfolio drawdown %.2f%% >= %.2f%%",
			drawdown*100, c.risk.MaxPortfolioDrawdown*100)
		return c.forceCloseAll(ctx, accounts, reason)
	}

	// Дневной убыток портфеля: HALT_ENTRIES до следующей полуночи UTC.
	// Порог включительно: ровно maxDailyLoss срабатывает.
	dailyLoss := utils.CalculateDailyLossFraction(totalDailyPnl, totalCapital)
	if dailyLoss >= c.risk.MaxDailyLoss {
		existing, err := c.stops.Get(models.ScopePortfolio, models.ScopeIDPortfolio)
		if err != nil && !errors.Is(err, repository.ErrStopNotFound) {
			return err
		}
		// Активный FORCE_CLOSE строже - не перезаписываем
		if existing != nil && existing.IsStopped {
			return nil
		}

		midnight := utils.NextMidnight(now)
		reason := fmt.Sprintf("portfolio daily loss %.2f%% >= %.2f%%",
			dailyLoss*100, c.risk.MaxDailyLoss*100)
		return c.activate(models.ScopePortfolio, models.ScopeIDPortfolio,
			reason, models.ActionHaltEntries, models.ResetMidnightUTC, &midnight)
	}

	return nil
}

// forceCloseAll выполняет FORCE_CLOSE всего портфеля
//
// Порядок жестко фиксирован (cross-account fence): сначала остановки
// ВСЕХ аккаунтов фиксируются в БД, и только потом уходят ордера на
// закрытие. Параллельный запрос сайзинга не откроет позицию на
// аккаунте посреди ликвидации.
func (c *Controller) forceCloseAll(ctx context.Context, accounts []*models.Account, reason string) error {
	existing, err := c.stops.Get(models.ScopePortfolio, models.ScopeIDPortfolio)
	if err != nil && !errors.Is(err, repository.ErrStopNotFound) {
		return err
	}
	// Уже в FORCE_CLOSE - позиции закрыты ранее
	if existing != nil && existing.IsStopped && existing.StopAction == models.ActionForceClose {
		return nil
	}

	cooldown := c.now().Add(time.Duration(c.risk.PortfolioDdCooldownHours) * time.Hour)

	if err := c.activate(models.ScopePortfolio, models.ScopeIDPortfolio,
		reason, models.ActionForceClose, models.ResetCooldownAndRotation, &cooldown); err != nil {
		return err
	}

	// Fence-записи несут действие FORCE_CLOSE: по нему CheckAutoResets
	// отличает их от остановок по просадке субаккаунта и снимает вместе
	// со сбросом портфельной остановки (либо раньше - ротацией)
	for _, account := range accounts {
		if err := c.activate(models.ScopeSubaccount, account.ID,
			reason, models.ActionForceClose, models.ResetRotation, nil); err != nil {
			return fmt.Errorf("fence subaccount %s: %w", account.ID, err)
		}
	}

	// Остановки зафиксированы - можно закрывать позиции
	for _, account := range accounts {
		if c.dryRun {
			c.logger.Warn("dry-run: skipping position close",
				zap.String("account_id", account.ID),
				zap.String("reason", reason),
			)
			ForceClosedPositions.WithLabelValues("dry_run").Inc()
			continue
		}

		closeErr := retry.Do(ctx, func() error {
			return c.closer.CloseAllPositions(ctx, account.ID)
		}, retry.AggressiveConfig())

		// Частичный провал логируется, остальные аккаунты закрываются
		if closeErr != nil {
			c.logger.Error("force close failed for account",
				zap.String("account_id", account.ID),
				zap.Error(closeErr),
			)
			ForceClosedPositions.WithLabelValues("failed").Inc()
			continue
		}
		ForceClosedPositions.WithLabelValues("closed").Inc()
	}

	return nil
}

// evaluateSubaccounts проверяет просадку каждого субаккаунта
func (c *Controller) evaluateSubaccounts() error {
	accounts, err := c.accounts.GetAll()
	if err != nil {
		return err
	}

	var errs []error
	for _, account := range accounts {
		drawdown := account.Drawdown()
		if drawdown < c.risk.MaxSubaccountDrawdown {
			continue
		}

		active, err := c.isActive(models.ScopeSubaccount, account.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if active {
			continue
		}

		reason := fmt.Sprintf("subaccount drawdown %.2f%% >= %.2f%%",
			drawdown*100, c.risk.MaxSubaccountDrawdown*100)
		if err := c.activate(models.ScopeSubaccount, account.ID,
			reason, models.ActionHaltEntries, models.ResetRotation, nil); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// evaluateStrategies проверяет серии убытков live стратегий
func (c *Controller) evaluateStrategies() error {
	strategies, err := c.strategies.GetLive()
	if err != nil {
		return err
	}

	var errs []error
	for _, s := range strategies {
		if s.ConsecutiveLosses < c.risk.MaxConsecutiveLosses {
			continue
		}

		active, err := c.isActive(models.ScopeStrategy, s.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if active {
			continue
		}

		cooldown := c.now().Add(time.Duration(c.risk.StrategyCooldownHours) * time.Hour)
		reason := fmt.Sprintf("consecutive losses %d >= %d",
			s.ConsecutiveLosses, c.risk.MaxConsecutiveLosses)
		if err := c.activate(models.ScopeStrategy, s.ID,
			reason, models.ActionHaltEntries, models.ResetFixedCooldown, &cooldown); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// evaluateSystem проверяет свежесть потока рыночных данных
func (c *Controller) evaluateSystem() error {
	age := c.feed.Age()
	threshold := time.Duration(c.risk.DataStaleSeconds) * time.Second

	if age <= threshold {
		return nil
	}

	active, err := c.isActive(models.ScopeSystem, models.ScopeIDSystem)
	if err != nil {
		return err
	}
	if active {
		return nil
	}

	reason := fmt.Sprintf("market data stale: age %s > %s",
		utils.FormatDuration(age), utils.FormatDuration(threshold))
	return c.activate(models.ScopeSystem, models.ScopeIDSystem,
		reason, models.ActionHaltEntries, models.ResetConditionCleared, nil)
}

// ============================================================
// Автосбросы (троттлятся интервалом цикла scheduler'а)
// ============================================================

// CheckAutoResets сбрасывает остановки, чьи условия сброса выполнились
//
// SUBACCOUNT с триггером ROTATION сбрасывается не здесь, а явным
// вызовом ResetOnRotation из движка ротации. Исключение - fence-записи
// FORCE_CLOSE: они снимаются вместе со сбросом портфельной остановки.
func (c *Controller) CheckAutoResets(ctx context.Context) error {
	stops, err := c.stops.GetActive()
	if err != nil {
		return err
	}

	now := c.now()
	var errs []error

	for _, s := range stops {
		shouldReset := false

		switch s.ResetTrigger {
		case models.ResetMidnightUTC, models.ResetFixedCooldown:
			shouldReset = s.CooldownUntil != nil && !now.Before(*s.CooldownUntil)

		case models.ResetCooldownAndRotation:
			if s.CooldownUntil == nil || now.Before(*s.CooldownUntil) {
				break
			}
			ok, err := c.losingStrategiesRotatedOut()
			if err != nil {
				errs = append(errs, err)
				break
			}
			shouldReset = ok

		case models.ResetConditionCleared:
			age := c.feed.Age()
			shouldReset = age <= time.Duration(c.risk.DataStaleSeconds)*time.Second

		case models.ResetRotation:
			// Сбрасывается только ротацией
		}

		if !shouldReset {
			continue
		}

		if err := c.clear(s.Scope, s.ScopeID, s.ResetTrigger); err != nil {
			errs = append(errs, err)
			continue
		}

		// Сброс портфельного FORCE_CLOSE снимает и fence-остановки
		// субаккаунтов, взведенные вместе с ним: деплой на занятый
		// субаккаунт невозможен, другого пути сброса у них нет.
		// Остановки по просадке самого субаккаунта (HALT_ENTRIES)
		// остаются до ротации.
		if s.Scope == models.ScopePortfolio && s.ResetTrigger == models.ResetCooldownAndRotation {
			for _, sub := range stops {
				if sub.Scope != models.ScopeSubaccount || sub.StopAction != models.ActionForceClose {
					continue
				}
				if err := c.clear(sub.Scope, sub.ScopeID, s.ResetTrigger); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}

	if err := c.refreshActiveGauge(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// losingStrategiesRotatedOut проверяет, что все стратегии с live убытком
// не ниже порога ротации выведены из торговли
func (c *Controller) losingStrategiesRotatedOut() (bool, error) {
	strategies, err := c.strategies.GetLive()
	if err != nil {
		return false, err
	}

	for _, s := range strategies {
		if s.LiveDrawdown >= c.risk.RotationLossThreshold {
			return false, nil
		}
	}

	return true, nil
}

// ResetOnRotation сбрасывает остановку субаккаунта после деплоя
// новой стратегии
//
// Любой деплой снимает остановку, без требований к оценке новой
// стратегии. Отсутствие активной остановки - не ошибка.
func (c *Controller) ResetOnRotation(subaccountID string) error {
	err := c.clear(models.ScopeSubaccount, subaccountID, models.ResetRotation)
	if errors.Is(err, repository.ErrStopNotFound) {
		return nil
	}
	return err
}

// ============================================================
// Ручное управление (ops API)
// ============================================================

// StopManually взводит остановку вручную
func (c *Controller) StopManually(scope, scopeID, reason string) error {
	if !models.ValidScope(scope) {
		return ErrUnknownScope
	}
	return c.activate(scope, scopeID, "manual: "+reason,
		models.ActionHaltEntries, models.ResetConditionCleared, nil)
}

// ResetManually сбрасывает остановку вручную
func (c *Controller) ResetManually(scope, scopeID string) error {
	if !models.ValidScope(scope) {
		return ErrUnknownScope
	}
	return c.clear(scope, scopeID, "manual")
}

// ============================================================
// Внутренние помощники
// ============================================================

// activate фиксирует остановку в БД, логирует и обновляет метрики
func (c *Controller) activate(scope, scopeID, reason, action, resetTrigger string, cooldownUntil *time.Time) error {
	if err := c.stops.Activate(scope, scopeID, reason, action, resetTrigger, cooldownUntil); err != nil {
		return err
	}

	c.logger.Warn("emergency stop triggered",
		zap.String("scope", scope),
		zap.String("scope_id", scopeID),
		zap.String("reason", reason),
		zap.String("action", action),
		zap.String("reset_trigger", resetTrigger),
	)
	RecordStopTriggered(scope, action)

	return nil
}

// clear сбрасывает остановку в БД, логирует и обновляет метрики
func (c *Controller) clear(scope, scopeID, trigger string) error {
	if err := c.stops.Clear(scope, scopeID); err != nil {
		return err
	}

	c.logger.Info("emergency stop reset",
		zap.String("scope", scope),
		zap.String("scope_id", scopeID),
		zap.String("trigger", trigger),
	)
	RecordStopReset(scope, trigger)

	return nil
}

// isActive проверяет, действует ли остановка для (scope, scopeID)
func (c *Controller) isActive(scope, scopeID string) (bool, error) {
	record, err := c.stops.Get(scope, scopeID)
	if err != nil {
		if errors.Is(err, repository.ErrStopNotFound) {
			return false, nil
		}
		return false, err
	}
	return record.IsStopped, nil
}

// refreshActiveGauge пересчитывает gauge действующих остановок
func (c *Controller) refreshActiveGauge() error {
	stops, err := c.stops.GetActive()
	if err != nil {
		return err
	}

	counts := make(map[string]int)
	for _, s := range stops {
		counts[s.Scope]++
	}
	UpdateActiveStops(counts)

	return nil
}
