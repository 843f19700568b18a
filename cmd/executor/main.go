// Процесс executor: HTTP API для торгового ядра (canTrade, сайзинг,
// резервирование маржи) и периодическая синхронизация балансов с биржей.
//
// Координация с процессом monitor - только через Postgres: остановки,
// взведенные monitor'ом, видны здесь через materialized-state запросы.
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
	"go.uber.org/zap"

	"riskcontrol/internal/api"
	"riskcontrol/internal/config"
	"riskcontrol/internal/exchange"
	"riskcontrol/internal/feed"
	"riskcontrol/internal/repository"
	"riskcontrol/internal/scheduler"
	"riskcontrol/internal/sizing"
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

	// Ядро риск-контроля
	ledger := sizing.NewLedger(accountRepo, logger, cfg.Intervals.MaxConflictRetries)
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

	// Синхронизация балансов с биржей
	sched := scheduler.NewScheduler(logger)
	sched.Every(ctx, "balance-sync", cfg.Intervals.SyncInterval, func(ctx context.Context) error {
		return syncBalances(ctx, accountRepo, client, ledger)
	})

	// HTTP API
	deps := &api.Dependencies{
		Ledger:       ledger,
		Controller:   controller,
		Stops:        stopRepo,
		Accounts:     accountRepo,
		Strategies:   strategyRepo,
		Rotations:    rotationRepo,
		Risk:         cfg.Risk,
		OpsTokenHash: cfg.Security.OpsTokenHash,
		Logger:       logger,
	}
	router := api.SetupRoutes(deps)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting executor API",
			zap.String("addr", server.Addr),
			zap.Bool("dry_run", cfg.DryRun),
		)
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down executor")
	cancel()
	sched.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("executor exited")
}

// syncBalances синхронизирует балансы всех субаккаунтов с биржей
func syncBalances(ctx context.Context, accounts *repository.AccountRepository, client exchange.Client, ledger *sizing.Ledger) error {
	all, err := accounts.GetAll()
	if err != nil {
		return err
	}

	var errs []error
	for _, account := range all {
		balance, err := client.GetBalance(ctx, account.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch balance %s: %w", account.ID, err))
			continue
		}

		if err := ledger.SyncFromExchange(ctx, account.ID, balance); err != nil {
			errs = append(errs, fmt.Errorf("sync %s: %w", account.ID, err))
		}
	}

	return errors.Join(errs...)
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
