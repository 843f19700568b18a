// Package feed отслеживает свежесть рыночных данных биржи.
package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Watcher подписывается на публичный WebSocket поток тикеров и
// фиксирует время последнего сообщения.
//
// Назначение: источник возраста данных для SYSTEM остановки.
// Любое сообщение потока (тикер, ping, подтверждение подписки)
// считается heartbeat'ом - важен факт живости канала, не содержимое.
//
// Переподключение автоматическое, с exponential backoff 2s..16s.
// Пока соединения нет, Age() продолжает расти от последнего
// полученного сообщения, что и взводит SYSTEM остановку.
type Watcher struct {
	wsURL  string
	symbol string
	logger *zap.Logger

	// Unix-наносекунды последнего сообщения
	lastMessage atomic.Int64

	connectTimeout time.Duration
	initialDelay   time.Duration
	maxDelay       time.Duration

	closeOnce sync.Once
	closeChan chan struct{}
}

// NewWatcher создает watcher для символа heartbeat-потока
func NewWatcher(wsURL, symbol string, logger *zap.Logger) *Watcher {
	w := &Watcher{
		wsURL:          wsURL,
		symbol:         symbol,
		logger:         logger,
		connectTimeout: 10 * time.Second,
		initialDelay:   2 * time.Second,
		maxDelay:       16 * time.Second,
		closeChan:      make(chan struct{}),
	}
	// До первого сообщения возраст отсчитывается от старта процесса:
	// мертвый с самого начала поток тоже должен взвести остановку
	w.lastMessage.Store(time.Now().UnixNano())
	return w
}

// Age возвращает возраст последнего сообщения потока
//
// Lock-free чтение: вызывается из цикла переоценки условий.
func (w *Watcher) Age() time.Duration {
	last := time.Unix(0, w.lastMessage.Load())
	return time.Since(last)
}

// Start запускает цикл подключения в отдельной горутине
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Close останавливает watcher
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.closeChan)
	})
}

// run держит соединение живым, переподключаясь с backoff
//
// Живая сессия (хотя бы одно принятое сообщение) возвращает backoff
// к начальному: разрыв после часов здорового соединения не должен
// ждать накопленные от старых сбоев 16 секунд.
func (w *Watcher) run(ctx context.Context) {
	delay := w.initialDelay

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.closeChan:
			return
		default:
		}

		before := w.lastMessage.Load()
		err := w.connectAndRead(ctx)
		if err != nil {
			w.logger.Warn("feed connection lost",
				zap.String("url", w.wsURL),
				zap.Duration("retry_in", delay),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-w.closeChan:
			return
		case <-time.After(delay):
		}

		delay = w.nextDelay(delay, w.lastMessage.Load() != before)
	}
}

// nextDelay возвращает задержку следующего переподключения
func (w *Watcher) nextDelay(current time.Duration, received bool) time.Duration {
	if received {
		return w.initialDelay
	}
	current *= 2
	if current > w.maxDelay {
		return w.maxDelay
	}
	return current
}

// connectAndRead подключается, подписывается и читает до разрыва
//
// Успешная подписка сбрасывается на вызывающей стороне неявно:
// каждое прочитанное сообщение обновляет lastMessage.
func (w *Watcher) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: w.connectTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	subMsg := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"tickers." + w.symbol},
	}
	if err := conn.WriteJSON(subMsg); err != nil {
		return err
	}

	w.logger.Info("feed connected",
		zap.String("url", w.wsURL),
		zap.String("symbol", w.symbol),
	)

	// Разрыв соединения обнаруживается через read deadline,
	// чтобы не зависнуть навсегда на мертвом TCP
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.closeChan:
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			return err
		}

		w.lastMessage.Store(time.Now().UnixNano())
	}
}
