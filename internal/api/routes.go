package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"riskcontrol/internal/api/handlers"
	"riskcontrol/internal/api/middleware"
	"riskcontrol/internal/config"
	"riskcontrol/internal/repository"
	"riskcontrol/internal/sizing"
	"riskcontrol/internal/stop"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Ledger     *sizing.Ledger
	Controller *stop.Controller
	Stops      *repository.StopRepository
	Accounts   *repository.AccountRepository
	Strategies *repository.StrategyRepository
	Rotations  *repository.RotationRepository

	Risk         config.RiskConfig
	OpsTokenHash string
	Logger       *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /trade/
//	│   ├── GET /can-trade - проверка разрешения на вход
//	│   ├── POST /size - расчет размера и резервирование маржи
//	│   └── POST /release - возврат маржи
//	├── /stops/
//	│   ├── GET / - все записи остановок
//	│   ├── GET /active - действующие остановки
//	│   ├── POST / - ручная остановка
//	│   ├── DELETE /{scope}/{scopeId} - ручной сброс
//	│   └── POST /evaluate - внеплановая переоценка
//	├── /accounts/
//	│   ├── GET / - список субаккаунтов
//	│   └── GET /{id} - один субаккаунт
//	├── /strategies/
//	│   ├── GET /pool - кандидаты в пуле
//	│   └── GET /live - торгующие стратегии
//	└── /rotations/ - журнал решений ротации
//
// /metrics - Prometheus метрики
// /health - health check
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (для /api/v1, если задан OPS_TOKEN_HASH)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS)

	var tradeHandler *handlers.TradeHandler
	if deps.Controller != nil && deps.Ledger != nil {
		tradeHandler = handlers.NewTradeHandler(deps.Controller, deps.Ledger, deps.Risk)
	}

	var stopHandler *handlers.StopHandler
	if deps.Stops != nil && deps.Controller != nil {
		stopHandler = handlers.NewStopHandler(deps.Stops, deps.Controller)
	}

	var accountHandler *handlers.AccountHandler
	if deps.Accounts != nil {
		accountHandler = handlers.NewAccountHandler(deps.Accounts)
	}

	var strategyHandler *handlers.StrategyHandler
	if deps.Strategies != nil && deps.Rotations != nil {
		strategyHandler = handlers.NewStrategyHandler(deps.Strategies, deps.Rotations)
	}

	// API v1 routes
	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Auth(deps.OpsTokenHash, deps.Logger))

	// Trade routes (горячий путь executor'а)
	if tradeHandler != nil {
		api.HandleFunc("/trade/can-trade", tradeHandler.CanTrade).Methods("GET")
		api.HandleFunc("/trade/size", tradeHandler.Size).Methods("POST")
		api.HandleFunc("/trade/release", tradeHandler.Release).Methods("POST")
	}

	// Stop routes
	if stopHandler != nil {
		api.HandleFunc("/stops", stopHandler.GetStops).Methods("GET")
		api.HandleFunc("/stops", stopHandler.CreateStop).Methods("POST")
		api.HandleFunc("/stops/active", stopHandler.GetActiveStops).Methods("GET")
		api.HandleFunc("/stops/evaluate", stopHandler.Evaluate).Methods("POST")
		api.HandleFunc("/stops/{scope}/{scopeId}", stopHandler.DeleteStop).Methods("DELETE")
	}

	// Account routes
	if accountHandler != nil {
		api.HandleFunc("/accounts", accountHandler.GetAccounts).Methods("GET")
		api.HandleFunc("/accounts/{id}", accountHandler.GetAccount).Methods("GET")
	}

	// Strategy routes
	if strategyHandler != nil {
		api.HandleFunc("/strategies/pool", strategyHandler.GetPool).Methods("GET")
		api.HandleFunc("/strategies/live", strategyHandler.GetLive).Methods("GET")
		api.HandleFunc("/rotations", strategyHandler.GetRotations).Methods("GET")
	}

	// Prometheus метрики - вне /api/v1, без auth (скрейпится изнутри сети)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
