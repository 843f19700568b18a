package stop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики риск-контроля
// ============================================================
//
// Использование:
// - Grafana дашборды для визуализации остановок и маржи
// - Alertmanager: алерт на FORCE_CLOSE и затяжные SYSTEM остановки

// ============ Счётчики остановок ============

// StopsTriggered - срабатывания аварийных остановок
var StopsTriggered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskcontrol",
		Subsystem: "stops",
		Name:      "triggered_total",
		Help:      "Number of emergency stop activations",
	},
	[]string{"scope", "action"},
)

// StopsReset - сбросы аварийных остановок
var StopsReset = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskcontrol",
		Subsystem: "stops",
		Name:      "reset_total",
		Help:      "Number of emergency stop resets",
	},
	[]string{"scope", "trigger"},
)

// ActiveStops - текущее количество действующих остановок по scope
var ActiveStops = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "riskcontrol",
		Subsystem: "stops",
		Name:      "active",
		Help:      "Current number of active emergency stops by scope",
	},
	[]string{"scope"},
)

// ============ Горячий путь canTrade ============

// CanTradeChecks - проверки canTrade по результату
var CanTradeChecks = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskcontrol",
		Subsystem: "stops",
		Name:      "can_trade_checks_total",
		Help:      "Number of canTrade checks by outcome",
	},
	[]string{"allowed"},
)

// ============ Переоценка условий ============

// EvaluateDuration - длительность цикла переоценки условий
var EvaluateDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "riskcontrol",
		Subsystem: "stops",
		Name:      "evaluate_duration_seconds",
		Help:      "Duration of a condition evaluation cycle",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	},
)

// EvaluateSkipped - пропуски переоценки из-за троттлинга
var EvaluateSkipped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "riskcontrol",
		Subsystem: "stops",
		Name:      "evaluate_skipped_total",
		Help:      "Number of evaluation cycles skipped by the throttle",
	},
)

// ForceClosedPositions - позиции, закрытые принудительно
var ForceClosedPositions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "riskcontrol",
		Subsystem: "stops",
		Name:      "force_closed_accounts_total",
		Help:      "Accounts processed during FORCE_CLOSE by result",
	},
	[]string{"result"}, // closed, failed, dry_run
)

// ============ Вспомогательные функции ============

// RecordStopTriggered записывает срабатывание остановки
func RecordStopTriggered(scope, action string) {
	StopsTriggered.WithLabelValues(scope, action).Inc()
}

// RecordStopReset записывает сброс остановки
func RecordStopReset(scope, trigger string) {
	StopsReset.WithLabelValues(scope, trigger).Inc()
}

// RecordCanTrade записывает результат проверки canTrade
func RecordCanTrade(allowed bool) {
	if allowed {
		CanTradeChecks.WithLabelValues("yes").Inc()
	} else {
		CanTradeChecks.WithLabelValues("no").Inc()
	}
}

// UpdateActiveStops обновляет gauge действующих остановок
func UpdateActiveStops(countByScope map[string]int) {
	for _, scope := range []string{"PORTFOLIO", "SUBACCOUNT", "STRATEGY", "SYSTEM"} {
		ActiveStops.WithLabelValues(scope).Set(float64(countByScope[scope]))
	}
}
