package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler - запуск именованных периодических задач
//
// Каждая задача крутится в своей горутине на тикере. Ошибки задач
// логируются и не останавливают цикл: одна неудачная переоценка
// не должна ронять процесс мониторинга. Паника внутри задачи
// перехватывается по той же причине.
type Scheduler struct {
	logger *zap.Logger
	wg     sync.WaitGroup
}

// Job - периодическая задача
type Job func(ctx context.Context) error

// NewScheduler создает новый scheduler
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Every запускает задачу с указанным периодом до отмены контекста
//
// Первый запуск выполняется сразу, не дожидаясь первого тика.
func (s *Scheduler) Every(ctx context.Context, name string, interval time.Duration, job Job) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.logger.Info("scheduler job started",
			zap.String("job", name),
			zap.Duration("interval", interval),
		)

		s.runOnce(ctx, name, job)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("scheduler job stopped", zap.String("job", name))
				return
			case <-ticker.C:
				s.runOnce(ctx, name, job)
			}
		}
	}()
}

// Wait блокирует до завершения всех задач
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// runOnce выполняет одну итерацию задачи с защитой от паники
func (s *Scheduler) runOnce(ctx context.Context, name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler job panicked",
				zap.String("job", name),
				zap.Any("panic", r),
			)
		}
	}()

	start := time.Now()
	if err := job(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("scheduler job failed",
			zap.String("job", name),
			zap.Error(err),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
