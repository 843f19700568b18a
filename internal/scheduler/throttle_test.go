package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestThrottleAllow(t *testing.T) {
	current := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	throttle := NewThrottle(60 * time.Second)
	throttle.now = func() time.Time { return current }

	// Первый вызов проходит всегда
	if !throttle.Allow() {
		t.Fatal("first Allow() = false, want true")
	}

	// Сразу после - блокируется
	if throttle.Allow() {
		t.Error("immediate second Allow() = true, want false")
	}

	// Через 59 секунд - все еще рано
	current = current.Add(59 * time.Second)
	if throttle.Allow() {
		t.Error("Allow() after 59s = true, want false")
	}

	// Через 60 секунд - проходит
	current = current.Add(time.Second)
	if !throttle.Allow() {
		t.Error("Allow() after 60s = false, want true")
	}
}

func TestThrottleRemaining(t *testing.T) {
	current := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	throttle := NewThrottle(60 * time.Second)
	throttle.now = func() time.Time { return current }

	if got := throttle.Remaining(); got != 0 {
		t.Errorf("Remaining() before first Allow = %v, want 0", got)
	}

	throttle.Allow()
	current = current.Add(20 * time.Second)

	if got := throttle.Remaining(); got != 40*time.Second {
		t.Errorf("Remaining() = %v, want 40s", got)
	}
}

func TestThrottleReset(t *testing.T) {
	current := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	throttle := NewThrottle(60 * time.Second)
	throttle.now = func() time.Time { return current }

	throttle.Allow()
	throttle.Reset()

	if !throttle.Allow() {
		t.Error("Allow() after Reset() = false, want true")
	}
}

func TestSchedulerRunsJobAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(zap.NewNop())

	var runs int64
	s.Every(ctx, "test-job", 10*time.Millisecond, func(ctx context.Context) error {
		atomic.AddInt64(&runs, 1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)
	cancel()
	s.Wait()

	// Немедленный первый запуск + несколько тиков
	if got := atomic.LoadInt64(&runs); got < 2 {
		t.Errorf("runs = %d, want >= 2", got)
	}
}

func TestSchedulerSurvivesErrorsAndPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(zap.NewNop())

	var runs int64
	s.Every(ctx, "flaky-job", 10*time.Millisecond, func(ctx context.Context) error {
		n := atomic.AddInt64(&runs, 1)
		if n == 1 {
			panic("boom")
		}
		return errors.New("transient failure")
	})

	time.Sleep(60 * time.Millisecond)
	cancel()
	s.Wait()

	// Паника и ошибки не останавливают цикл
	if got := atomic.LoadInt64(&runs); got < 3 {
		t.Errorf("runs = %d, want >= 3", got)
	}
}
