package rotation

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"riskcontrol/internal/config"
	"riskcontrol/internal/models"
)

// ============================================================
// Фейки зависимостей
// ============================================================

type fakeStrategyStore struct {
	pool []*models.Strategy
	live []*models.Strategy

	promoted map[string]string // strategyID -> subaccountID
	retired  map[string]string // strategyID -> reason
}

func newFakeStrategyStore() *fakeStrategyStore {
	return &fakeStrategyStore{
		promoted: make(map[string]string),
		retired:  make(map[string]string),
	}
}

func (f *fakeStrategyStore) GetPool() ([]*models.Strategy, error) { return f.pool, nil }
func (f *fakeStrategyStore) GetLive() ([]*models.Strategy, error) { return f.live, nil }

func (f *fakeStrategyStore) Promote(strategyID, subaccountID string) error {
	f.promoted[strategyID] = subaccountID
	return nil
}

func (f *fakeStrategyStore) Retire(strategyID, reason string) error {
	f.retired[strategyID] = reason
	return nil
}

type fakeAccountReader struct {
	accounts []*models.Account
}

func (f *fakeAccountReader) GetAll() ([]*models.Account, error) { return f.accounts, nil }

type fakeDecisionLog struct {
	decisions []*models.RotationDecision
}

func (f *fakeDecisionLog) Create(d *models.RotationDecision) error {
	f.decisions = append(f.decisions, d)
	return nil
}

type fakeStopGate struct {
	suspended bool
	resets    []string
}

func (f *fakeStopGate) DeploymentsAllowed() (bool, error) {
	return !f.suspended, nil
}

func (f *fakeStopGate) ResetOnRotation(subaccountID string) error {
	f.resets = append(f.resets, subaccountID)
	return nil
}

// ============================================================
// Фикстура
// ============================================================

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MinPoolSize:          2,
		MaxLiveStrategies:    3,
		MaxPerType:           1,
		MaxPerTimeframe:      1,
		MaxPerDirection:      1,
		MinScoreToEnter:      60,
		MinScoreToStay:       40,
		MaxScoreDegradation:  0.30,
		MaxLiveDrawdown:      0.20,
		MinTradesBeforeEval:  20,
		MaxTradesDegradation: 0.50,
		MaxConsecutiveLosses: 5,
	}
}

type fixture struct {
	engine     *Engine
	strategies *fakeStrategyStore
	accounts   *fakeAccountReader
	decisions  *fakeDecisionLog
	stops      *fakeStopGate
}

func newFixture(risk config.RiskConfig) *fixture {
	f := &fixture{
		strategies: newFakeStrategyStore(),
		accounts:   &fakeAccountReader{},
		decisions:  &fakeDecisionLog{},
		stops:      &fakeStopGate{},
	}
	f.engine = NewEngine(f.strategies, f.accounts, f.decisions, f.stops, risk, zap.NewNop())
	f.engine.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) addAccounts(ids ...string) {
	for _, id := range ids {
		f.accounts.accounts = append(f.accounts.accounts, &models.Account{ID: id})
	}
}

func poolStrategy(id, typ, timeframe, direction string, score float64) *models.Strategy {
	return &models.Strategy{
		ID:            id,
		Status:        models.StrategyStatusActivePool,
		ScoreBacktest: score,
		Type:          typ,
		Timeframe:     timeframe,
		Direction:     direction,
	}
}

func liveStrategy(id, subaccountID, typ, timeframe, direction string) *models.Strategy {
	sub := subaccountID
	since := testNow.AddDate(0, 0, -30)
	return &models.Strategy{
		ID:            id,
		Status:        models.StrategyStatusLive,
		ScoreBacktest: 70,
		ScoreLive:     70,
		Type:          typ,
		Timeframe:     timeframe,
		Direction:     direction,
		SubaccountID:  &sub,
		LiveSince:     &since,
	}
}

func (f *fixture) rotate(t *testing.T) {
	t.Helper()
	if err := f.engine.Rotate(context.Background()); err != nil {
		t.Fatalf("Rotate() error = %v", err)
	}
}

// ============================================================
// Деплой
// ============================================================

func TestDeployFillsFreeSlots(t *testing.T) {
	f := newFixture(testRiskConfig())
	f.addAccounts("sub-1", "sub-2", "sub-3")

	f.strategies.pool = []*models.Strategy{
		poolStrategy("strat-a", "trend", "1h", "long", 90),
		poolStrategy("strat-b", "meanrev", "4h", "short", 80),
	}

	f.rotate(t)

	if got := f.strategies.promoted["strat-a"]; got != "sub-1" {
		t.Errorf("strat-a deployed to %q, want sub-1", got)
	}
	if got := f.strategies.promoted["strat-b"]; got != "sub-2" {
		t.Errorf("strat-b deployed to %q, want sub-2", got)
	}
	if len(f.decisions.decisions) != 2 {
		t.Fatalf("recorded %d decisions, want 2", len(f.decisions.decisions))
	}
	for _, d := range f.decisions.decisions {
		if d.Round != 1 {
			t.Errorf("decision for %s at round %d, want 1", d.StrategyID, d.Round)
		}
	}
}

func TestDeployResetsSubaccountStop(t *testing.T) {
	f := newFixture(testRiskConfig())
	f.addAccounts("sub-1")

	f.strategies.pool = []*models.Strategy{
		poolStrategy("strat-a", "trend", "1h", "long", 90),
		poolStrategy("strat-b", "meanrev", "4h", "short", 80),
	}

	f.rotate(t)

	if len(f.stops.resets) != 1 || f.stops.resets[0] != "sub-1" {
		t.Errorf("stop resets = %v, want [sub-1]", f.stops.resets)
	}
}

// Раунды ослабления: кандидат, нарушающий только направление, проходит
// на раунде 2; нарушающий направление и таймфрейм - на раунде 3.
// Множество кандидатов каждого следующего раунда включает предыдущее.
func TestDeployRelaxationRounds(t *testing.T) {
	risk := testRiskConfig()
	risk.MaxLiveStrategies = 4
	f := newFixture(risk)
	f.addAccounts("sub-1", "sub-2", "sub-3")

	f.strategies.live = []*models.Strategy{
		liveStrategy("strat-live", "sub-0", "trend", "1h", "long"),
	}
	f.accounts.accounts = append(f.accounts.accounts, &models.Account{ID: "sub-0"})

	f.strategies.pool = []*models.Strategy{
		// Конфликт по направлению с live стратегией
		poolStrategy("strat-dir", "meanrev", "4h", "long", 95),
		// Конфликт по направлению и таймфрейму
		poolStrategy("strat-tf", "breakout", "1h", "long", 85),
		// Без конфликтов
		poolStrategy("strat-clean", "grid", "15m", "short", 70),
	}

	f.rotate(t)

	rounds := make(map[string]int)
	for _, d := range f.decisions.decisions {
		rounds[d.StrategyID] = d.Round
	}

	if rounds["strat-clean"] != 1 {
		t.Errorf("strat-clean selected at round %d, want 1", rounds["strat-clean"])
	}
	if rounds["strat-dir"] != 2 {
		t.Errorf("strat-dir selected at round %d, want 2", rounds["strat-dir"])
	}
	if rounds["strat-tf"] != 3 {
		t.Errorf("strat-tf selected at round %d, want 3", rounds["strat-tf"])
	}
}

func TestDeployStopsAtEarliestSufficientRound(t *testing.T) {
	f := newFixture(testRiskConfig())
	f.addAccounts("sub-1")

	f.strategies.live = []*models.Strategy{
		liveStrategy("strat-live", "sub-0", "trend", "1h", "long"),
	}
	f.accounts.accounts = append(f.accounts.accounts, &models.Account{ID: "sub-0"})

	// Лучший по score конфликтует по направлению, но свободный слот один
	// и его занимает чистый кандидат на раунде 1
	f.strategies.pool = []*models.Strategy{
		poolStrategy("strat-dir", "meanrev", "4h", "long", 95),
		poolStrategy("strat-clean", "grid", "15m", "short", 70),
	}

	f.rotate(t)

	if _, ok := f.strategies.promoted["strat-dir"]; ok {
		t.Error("strat-dir deployed despite round 1 filling the only slot")
	}
	if got := f.strategies.promoted["strat-clean"]; got != "sub-1" {
		t.Errorf("strat-clean deployed to %q, want sub-1", got)
	}
}

func TestDeploySkipsWhenPoolBelowMinimum(t *testing.T) {
	f := newFixture(testRiskConfig())
	f.addAccounts("sub-1")

	f.strategies.pool = []*models.Strategy{
		poolStrategy("strat-a", "trend", "1h", "long", 90),
	}

	f.rotate(t)

	if len(f.strategies.promoted) != 0 {
		t.Errorf("deployed %d strategies with pool below minimum, want 0", len(f.strategies.promoted))
	}
}

func TestDeployRequiresEntryScoreEvenInFinalRound(t *testing.T) {
	f := newFixture(testRiskConfig())
	f.addAccounts("sub-1", "sub-2")

	f.strategies.pool = []*models.Strategy{
		poolStrategy("strat-a", "trend", "1h", "long", 90),
		poolStrategy("strat-weak", "meanrev", "4h", "short", 59.9),
	}

	f.rotate(t)

	if _, ok := f.strategies.promoted["strat-weak"]; ok {
		t.Error("strat-weak deployed below MinScoreToEnter")
	}
	if _, ok := f.strategies.promoted["strat-a"]; !ok {
		t.Error("strat-a not deployed")
	}
}

func TestDeploySkipsWhenNoFreeSlots(t *testing.T) {
	risk := testRiskConfig()
	risk.MaxLiveStrategies = 1
	f := newFixture(risk)
	f.addAccounts("sub-0", "sub-1")

	f.strategies.live = []*models.Strategy{
		liveStrategy("strat-live", "sub-0", "trend", "1h", "long"),
	}
	f.strategies.pool = []*models.Strategy{
		poolStrategy("strat-a", "meanrev", "4h", "short", 90),
		poolStrategy("strat-b", "grid", "15m", "both", 80),
	}

	f.rotate(t)

	if len(f.strategies.promoted) != 0 {
		t.Errorf("deployed %d strategies with no free slots, want 0", len(f.strategies.promoted))
	}
}

// Остановка PORTFOLIO или SYSTEM приостанавливает деплой целиком,
// но вывод деградировавших стратегий продолжает работать
func TestDeploySuspendedDuringGlobalStop(t *testing.T) {
	f := newFixture(testRiskConfig())
	f.addAccounts("sub-1", "sub-2")
	f.stops.suspended = true

	f.strategies.pool = []*models.Strategy{
		poolStrategy("strat-a", "trend", "1h", "long", 90),
		poolStrategy("strat-b", "meanrev", "4h", "short", 80),
	}

	failing := liveStrategy("strat-bad", "sub-3", "grid", "15m", "both")
	failing.ScoreLive = 10
	failing.LiveTradeCount = 25
	f.strategies.live = []*models.Strategy{failing}
	f.accounts.accounts = append(f.accounts.accounts, &models.Account{ID: "sub-3"})

	f.rotate(t)

	if len(f.strategies.promoted) != 0 {
		t.Errorf("deployed %d strategies during global stop, want 0", len(f.strategies.promoted))
	}
	if _, ok := f.strategies.retired["strat-bad"]; !ok {
		t.Error("retire cycle suppressed during global stop")
	}
}

func TestDeploySkipsOccupiedSubaccounts(t *testing.T) {
	f := newFixture(testRiskConfig())
	f.addAccounts("sub-0", "sub-1")

	f.strategies.live = []*models.Strategy{
		liveStrategy("strat-live", "sub-0", "trend", "1h", "long"),
	}
	f.strategies.pool = []*models.Strategy{
		poolStrategy("strat-a", "meanrev", "4h", "short", 90),
		poolStrategy("strat-b", "grid", "15m", "both", 80),
	}

	f.rotate(t)

	if got := f.strategies.promoted["strat-a"]; got != "sub-1" {
		t.Errorf("strat-a deployed to %q, want sub-1 (sub-0 is occupied)", got)
	}
}

// ============================================================
// Вывод из торговли
// ============================================================

func retireFixture(s *models.Strategy) *fixture {
	f := newFixture(testRiskConfig())
	f.strategies.live = []*models.Strategy{s}
	return f
}

func TestRetireOnScoreDegradation(t *testing.T) {
	s := liveStrategy("strat-1", "sub-1", "trend", "1h", "long")
	s.ScoreBacktest = 65
	s.ScoreLive = 35 // деградация 46.2% > 30%, но выше MinScoreToStay не падает
	s.LiveTradeCount = 25

	risk := testRiskConfig()
	risk.MinScoreToStay = 30
	f := newFixture(risk)
	f.strategies.live = []*models.Strategy{s}

	f.rotate(t)

	reason, ok := f.strategies.retired["strat-1"]
	if !ok {
		t.Fatal("strategy not retired on score degradation")
	}
	if !strings.Contains(reason, "score degradation 46.2% > 30.0%") {
		t.Errorf("reason = %q, want score degradation 46.2%% > 30.0%%", reason)
	}
}

func TestRetireOnLowLiveScore(t *testing.T) {
	s := liveStrategy("strat-1", "sub-1", "trend", "1h", "long")
	s.ScoreLive = 39.9
	s.LiveTradeCount = 25

	f := retireFixture(s)
	f.rotate(t)

	reason, ok := f.strategies.retired["strat-1"]
	if !ok {
		t.Fatal("strategy not retired on low live score")
	}
	if !strings.Contains(reason, "live score") {
		t.Errorf("reason = %q, want live score", reason)
	}
}

func TestRetireOnLiveDrawdown(t *testing.T) {
	s := liveStrategy("strat-1", "sub-1", "trend", "1h", "long")
	s.LiveDrawdown = 0.25
	s.LiveTradeCount = 25

	f := retireFixture(s)
	f.rotate(t)

	if _, ok := f.strategies.retired["strat-1"]; !ok {
		t.Error("strategy not retired on live drawdown 25% > 20%")
	}
}

func TestRetireOnConsecutiveLosses(t *testing.T) {
	s := liveStrategy("strat-1", "sub-1", "trend", "1h", "long")
	s.ConsecutiveLosses = 5
	s.LiveTradeCount = 25

	f := retireFixture(s)
	f.rotate(t)

	if _, ok := f.strategies.retired["strat-1"]; !ok {
		t.Error("strategy not retired on 5 consecutive losses")
	}
}

func TestNoRetireBelowMinimumTrades(t *testing.T) {
	s := liveStrategy("strat-1", "sub-1", "trend", "1h", "long")
	s.ScoreLive = 10 // провал по всем метрикам
	s.LiveDrawdown = 0.5
	s.LiveTradeCount = 19 // но выборка еще мала

	f := retireFixture(s)
	f.rotate(t)

	if len(f.strategies.retired) != 0 {
		t.Error("strategy retired before minimum trade count")
	}
}

func TestRetireOnTradeFrequencyShortfall(t *testing.T) {
	s := liveStrategy("strat-1", "sub-1", "trend", "1h", "long")
	since := testNow.AddDate(0, 0, -10)
	s.LiveSince = &since
	s.ExpectedTradesPerDay = 10 // ожидалось 100 сделок за 10 дней
	s.LiveTradeCount = 40       // недобор 60% > 50%

	f := retireFixture(s)
	f.rotate(t)

	reason, ok := f.strategies.retired["strat-1"]
	if !ok {
		t.Fatal("strategy not retired on trade frequency shortfall")
	}
	if !strings.Contains(reason, "trade frequency") {
		t.Errorf("reason = %q, want trade frequency", reason)
	}
}

// Недостаточно live суток: проверка частоты пропускается, не проваливается
func TestTradeFrequencySkippedBeforeSevenDays(t *testing.T) {
	s := liveStrategy("strat-1", "sub-1", "trend", "1h", "long")
	since := testNow.AddDate(0, 0, -5)
	s.LiveSince = &since
	s.ExpectedTradesPerDay = 10
	s.LiveTradeCount = 20 // сильный недобор, но выборка по времени мала

	f := retireFixture(s)
	f.rotate(t)

	if len(f.strategies.retired) != 0 {
		t.Error("strategy retired on trade frequency before 7 live days")
	}
}

func TestHealthyStrategyNotRetired(t *testing.T) {
	s := liveStrategy("strat-1", "sub-1", "trend", "1h", "long")
	s.LiveTradeCount = 100
	s.ExpectedTradesPerDay = 4 // 120 ожидаемых за 30 дней, недобор 16.7%

	f := retireFixture(s)
	f.rotate(t)

	if len(f.strategies.retired) != 0 {
		t.Errorf("healthy strategy retired: %v", f.strategies.retired)
	}
}
