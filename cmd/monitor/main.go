// Процесс monitor: фоновые циклы риск-контроля - переоценка условий
// аварийных остановок, автосбросы и ротация стратегий.
//
// Пишет переходы остановок в Postgres; executor видит их через
// materialized-state запросы. HTTP здесь только служебный:
// /metrics для Prometheus и /health.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"riskcontrol/internal/config"
	"riskcontrol/internal/exchange"
	"riskcontrol/internal/feed"
	"riskcontrol/internal/repository"
	"riskcontrol/internal/rotation"
	"riskcontrol/internal/scheduler"
	"riskcontrol/internal/stop"
	"riskcontrol/pkg/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	db, err := initDatabase(cfg)
	if err != nil {
		logger.Fatal("failed to connect to database",
			zap.String("dsn", cfg.Database.DSNWithoutPassword()),
			zap.Error(err),
		)
	}
	defer db.Close()

	if err := repository.RunMigrations(db); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	logger.Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))

	// Репозитории
	accountRepo := repository.NewAccountRepository(db)
	stopRepo := repository.NewStopRepository(db)
	strategyRepo := repository.NewStrategyRepository(db)
	rotationRepo := repository.NewRotationRepository(db)

	// Биржа и поток рыночных данных
	client, err := exchange.NewBybit(cfg.Exchange, cfg.Security.EncryptionKey, logger)
	if err != nil {
		logger.Fatal("failed to create exchange client", zap.Error(err))
	}
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := feed.NewWatcher(cfg.Exchange.WSURL, cfg.Exchange.FeedSymbol, logger)
	watcher.Start(ctx)
	defer watcher.Close()

	// Контроллер остановок и движок ротации
	controller := stop.NewController(
		stopRepo,
		accountRepo,
		strategyRepo,
		client,
		watcher,
		cfg.Risk,
		cfg.Intervals.EvaluateInterval,
		cfg.DryRun,
		logger,
	)

	engine := rotation.NewEngine(
		strategyRepo,
		accountRepo,
		rotationRepo,
		controller,
		cfg.Risk,
		logger,
	)

	logger.Info("starting monitor",
		zap.Duration("evaluate_interval", cfg.Intervals.EvaluateInterval),
		zap.Duration("rotation_interval", cfg.Intervals.RotationInterval),
		zap.Bool("dry_run", cfg.DryRun),
	)

	// Фоновые циклы
	sched := scheduler.NewScheduler(logger)
	sched.Every(ctx, "evaluate-stops", cfg.Intervals.EvaluateInterval, controller.EvaluateConditions)
	sched.Every(ctx, "auto-resets", cfg.Intervals.ResetInterval, controller.CheckAutoResets)
	sched.Every(ctx, "rotation", cfg.Intervals.RotationInterval, engine.Rotate)

	// Служебный HTTP: метрики и health check
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("metrics server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down monitor")
	cancel()
	sched.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server forced to shutdown", zap.Error(err))
	}

	logger.Info("monitor exited")
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
