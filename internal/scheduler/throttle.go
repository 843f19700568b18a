package scheduler

import (
	"sync"
	"time"
)

// Throttle - ограничитель частоты для дорогих переоценок
//
// Пропускает не чаще одного вызова за interval. Используется monitor'ом
// для циклов переоценки условий остановок и автосбросов (дефолт 60s).
//
// ВАЖНО: троттлинг применяется ТОЛЬКО к фоновым переоценкам.
// Путь canTrade перед каждым входом в позицию не троттлится никогда -
// проверка остановок должна видеть актуальное состояние.
//
// Использование:
//
//	throttle := NewThrottle(60 * time.Second)
//	if throttle.Allow() { ... } // неблокирующая проверка
type Throttle struct {
	interval time.Duration
	lastRun  time.Time
	now      func() time.Time // подменяется в тестах
	mu       sync.Mutex
}

// NewThrottle создает новый throttle с указанным минимальным интервалом
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{
		interval: interval,
		now:      time.Now,
	}
}

// Allow проверяет, прошел ли минимальный интервал с последнего пропуска
//
// Возвращает:
//   - true: интервал прошел (или это первый вызов), момент зафиксирован
//   - false: слишком рано, вызов пропускается
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.lastRun.IsZero() && now.Sub(t.lastRun) < t.interval {
		return false
	}

	t.lastRun = now
	return true
}

// Remaining возвращает время до следующего разрешенного вызова
// Полезно для мониторинга и отладки
func (t *Throttle) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastRun.IsZero() {
		return 0
	}

	remaining := t.interval - t.now().Sub(t.lastRun)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset сбрасывает throttle: следующий Allow пройдет немедленно
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRun = time.Time{}
}

// Interval возвращает минимальный интервал
func (t *Throttle) Interval() time.Duration {
	return t.interval
}
