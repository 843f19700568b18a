package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"riskcontrol/internal/config"
	"riskcontrol/internal/models"
)

// engine.go - ротация стратегий
//
// Деплой: ACTIVE_POOL -> LIVE на свободный субаккаунт, до четырех
// раундов прогрессивного ослабления ограничений диверсификации.
// Вывод: LIVE -> RETIRED по наблюдаемым live метрикам.
//
// Оба цикла выполняются на фиксированном интервале процессом monitor.

// StrategyStore - хранилище стратегий
type StrategyStore interface {
	GetPool() ([]*models.Strategy, error)
	GetLive() ([]*models.Strategy, error)
	Promote(strategyID, subaccountID string) error
	Retire(strategyID, reason string) error
}

// AccountReader - чтение субаккаунтов для поиска свободных слотов
type AccountReader interface {
	GetAll() ([]*models.Account, error)
}

// DecisionLog - журнал решений ротации
type DecisionLog interface {
	Create(decision *models.RotationDecision) error
}

// StopGate - взаимодействие с контроллером аварийных остановок
//
// DeploymentsAllowed приостанавливает деплой при остановке PORTFOLIO
// или SYSTEM; ResetOnRotation снимает остановку субаккаунта после
// деплоя на него.
type StopGate interface {
	DeploymentsAllowed() (bool, error)
	ResetOnRotation(subaccountID string) error
}

// roundConstraints - набор ограничений диверсификации одного раунда
//
// Раунды идут от строгого к свободному, упорядоченным списком:
// каждый следующий раунд снимает одно ограничение, поэтому множество
// кандидатов раунда N+1 всегда включает множество раунда N.
type roundConstraints struct {
	round       int
	byType      bool
	byTimeframe bool
	byDirection bool
}

var relaxationRounds = []roundConstraints{
	{round: 1, byType: true, byTimeframe: true, byDirection: true},
	{round: 2, byType: true, byTimeframe: true, byDirection: false},
	{round: 3, byType: true, byTimeframe: false, byDirection: false},
	{round: 4, byType: false, byTimeframe: false, byDirection: false},
}

// Engine - движок ротации стратегий
type Engine struct {
	strategies StrategyStore
	accounts   AccountReader
	decisions  DecisionLog
	stops      StopGate

	risk   config.RiskConfig
	logger *zap.Logger
	now    func() time.Time // подменяется в тестах
}

// NewEngine создает движок ротации
func NewEngine(
	strategies StrategyStore,
	accounts AccountReader,
	decisions DecisionLog,
	stops StopGate,
	risk config.RiskConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		strategies: strategies,
		accounts:   accounts,
		decisions:  decisions,
		stops:      stops,
		risk:       risk,
		logger:     logger,
		now:        time.Now,
	}
}

// Rotate выполняет один цикл ротации: сначала вывод деградировавших
// стратегий, затем деплой кандидатов на освободившиеся слоты
func (e *Engine) Rotate(ctx context.Context) error {
	var errs []error

	if err := e.retireCycle(); err != nil {
		errs = append(errs, fmt.Errorf("retire: %w", err))
	}
	if err := e.deployCycle(); err != nil {
		errs = append(errs, fmt.Errorf("deploy: %w", err))
	}

	return errors.Join(errs...)
}

// ============================================================
// Вывод из торговли (LIVE -> RETIRED)
// ============================================================

// retireCycle проверяет все live стратегии на условия вывода
func (e *Engine) retireCycle() error {
	live, err := e.strategies.GetLive()
	if err != nil {
		return err
	}

	var errs []error
	for _, s := range live {
		// До минимальной выборки сделок live метрики не оцениваются
		if s.LiveTradeCount < e.risk.MinTradesBeforeEval {
			continue
		}

		reason := e.retireReason(s)
		if reason == "" {
			continue
		}

		if err := e.strategies.Retire(s.ID, reason); err != nil {
			errs = append(errs, fmt.Errorf("retire %s: %w", s.ID, err))
			continue
		}

		e.logger.Info("strategy retired",
			zap.String("strategy_id", s.ID),
			zap.String("reason", reason),
		)
	}

	return errors.Join(errs...)
}

// retireReason возвращает причину вывода или пустую строку
//
// Достаточно одного выполнившегося условия.
func (e *Engine) retireReason(s *models.Strategy) string {
	// Гистерезис: порог удержания ниже порога входа, чтобы стратегия
	// на границе не мигала между пулом и live
	if s.ScoreLive < e.risk.MinScoreToStay {
		return fmt.Sprintf("live score %.1f < %.1f", s.ScoreLive, e.risk.MinScoreToStay)
	}

	if degradation := s.ScoreDegradation(); degradation > e.risk.MaxScoreDegradation {
		return fmt.Sprintf("score degradation %.1f%% > %.1f%%",
			degradation*100, e.risk.MaxScoreDegradation*100)
	}

	if s.LiveDrawdown > e.risk.MaxLiveDrawdown {
		return fmt.Sprintf("live drawdown %.1f%% > %.1f%%",
			s.LiveDrawdown*100, e.risk.MaxLiveDrawdown*100)
	}

	if s.ConsecutiveLosses >= e.risk.MaxConsecutiveLosses {
		return fmt.Sprintf("consecutive losses %d >= %d",
			s.ConsecutiveLosses, e.risk.MaxConsecutiveLosses)
	}

	// Частота сделок оценивается только после 7 live суток:
	// на меньшей выборке проверка пропускается, а не проваливается
	liveDays := s.LiveDays(e.now())
	if liveDays >= 7 && s.ExpectedTradesPerDay > 0 {
		expected := s.ExpectedTradesPerDay * liveDays
		shortfall := (expected - float64(s.LiveTradeCount)) / expected
		if shortfall > e.risk.MaxTradesDegradation {
			return fmt.Sprintf("trade frequency shortfall %.1f%% > %.1f%%",
				shortfall*100, e.risk.MaxTradesDegradation*100)
		}
	}

	return ""
}

// ============================================================
// Деплой (ACTIVE_POOL -> LIVE)
// ============================================================

// deployCycle заполняет свободные слоты кандидатами из пула
func (e *Engine) deployCycle() error {
	allowed, err := e.stops.DeploymentsAllowed()
	if err != nil {
		return err
	}
	if !allowed {
		e.logger.Debug("deploy suspended by portfolio or system stop")
		return nil
	}

	pool, err := e.strategies.GetPool()
	if err != nil {
		return err
	}

	if len(pool) < e.risk.MinPoolSize {
		e.logger.Debug("pool below minimum size, skipping deploy",
			zap.Int("pool_size", len(pool)),
			zap.Int("min_pool_size", e.risk.MinPoolSize),
		)
		return nil
	}

	live, err := e.strategies.GetLive()
	if err != nil {
		return err
	}

	freeAccounts, err := e.freeSubaccounts(live)
	if err != nil {
		return err
	}

	slots := e.risk.MaxLiveStrategies - len(live)
	if slots > len(freeAccounts) {
		slots = len(freeAccounts)
	}
	if slots <= 0 {
		return nil
	}

	// Кандидаты: только прошедшие порог входа, порядок пула
	// (score_backtest по убыванию, id по возрастанию) сохраняется
	var candidates []*models.Strategy
	for _, s := range pool {
		if s.ScoreBacktest >= e.risk.MinScoreToEnter {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	selected := e.selectCandidates(candidates, live, slots)

	var errs []error
	for i, sel := range selected {
		target := freeAccounts[i]
		if err := e.promote(sel.strategy, target, sel.round); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// selection - выбранный кандидат с раундом отбора
type selection struct {
	strategy *models.Strategy
	round    int
}

// selectCandidates прогоняет раунды ослабления, пока слоты не заполнены
//
// Внутри раунда кандидаты идут в порядке пула. Уже выбранные в ранних
// раундах остаются выбранными: следующий раунд лишь дозаполняет слоты.
func (e *Engine) selectCandidates(candidates, live []*models.Strategy, slots int) []selection {
	counts := newDiversityCounts(live)
	chosen := make(map[string]bool)
	var selected []selection

	for _, round := range relaxationRounds {
		for _, s := range candidates {
			if len(selected) >= slots {
				return selected
			}
			if chosen[s.ID] {
				continue
			}
			if !e.fits(round, counts, s) {
				continue
			}

			chosen[s.ID] = true
			counts.add(s)
			selected = append(selected, selection{strategy: s, round: round.round})
		}

		if len(selected) >= slots {
			break
		}
	}

	return selected
}

// fits проверяет ограничения диверсификации раунда для кандидата
func (e *Engine) fits(round roundConstraints, counts *diversityCounts, s *models.Strategy) bool {
	if round.byType && counts.byType[s.Type] >= e.risk.MaxPerType {
		return false
	}
	if round.byTimeframe && counts.byTimeframe[s.Timeframe] >= e.risk.MaxPerTimeframe {
		return false
	}
	if round.byDirection && counts.byDirection[s.Direction] >= e.risk.MaxPerDirection {
		return false
	}
	return true
}

// promote выполняет деплой одного кандидата
//
// Порядок: перевод в LIVE, журнал решения, сброс остановки субаккаунта.
func (e *Engine) promote(s *models.Strategy, subaccountID string, round int) error {
	if err := e.strategies.Promote(s.ID, subaccountID); err != nil {
		return fmt.Errorf("promote %s: %w", s.ID, err)
	}

	decision := &models.RotationDecision{
		StrategyID:         s.ID,
		TargetSubaccountID: subaccountID,
		Round:              round,
	}
	if err := e.decisions.Create(decision); err != nil {
		e.logger.Error("failed to record rotation decision",
			zap.String("strategy_id", s.ID),
			zap.Error(err),
		)
	}

	if err := e.stops.ResetOnRotation(subaccountID); err != nil {
		e.logger.Error("failed to reset subaccount stop after rotation",
			zap.String("subaccount_id", subaccountID),
			zap.Error(err),
		)
	}

	e.logger.Info("strategy deployed",
		zap.String("strategy_id", s.ID),
		zap.String("subaccount_id", subaccountID),
		zap.Int("round", round),
		zap.Float64("score_backtest", s.ScoreBacktest),
	)

	return nil
}

// freeSubaccounts возвращает ID субаккаунтов без live стратегии,
// в детерминированном порядке (по id)
func (e *Engine) freeSubaccounts(live []*models.Strategy) ([]string, error) {
	accounts, err := e.accounts.GetAll()
	if err != nil {
		return nil, err
	}

	occupied := make(map[string]bool)
	for _, s := range live {
		if s.SubaccountID != nil {
			occupied[*s.SubaccountID] = true
		}
	}

	var free []string
	for _, a := range accounts {
		if !occupied[a.ID] {
			free = append(free, a.ID)
		}
	}

	return free, nil
}

// diversityCounts - счетчики занятости по измерениям диверсификации
type diversityCounts struct {
	byType      map[string]int
	byTimeframe map[string]int
	byDirection map[string]int
}

func newDiversityCounts(live []*models.Strategy) *diversityCounts {
	c := &diversityCounts{
		byType:      make(map[string]int),
		byTimeframe: make(map[string]int),
		byDirection: make(map[string]int),
	}
	for _, s := range live {
		c.add(s)
	}
	return c
}

func (c *diversityCounts) add(s *models.Strategy) {
	c.byType[s.Type]++
	c.byTimeframe[s.Timeframe]++
	c.byDirection[s.Direction]++
}
