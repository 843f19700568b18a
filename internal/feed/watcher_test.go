package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestAgeGrowsWithoutMessages(t *testing.T) {
	w := NewWatcher("ws://unused", "BTCUSDT", zap.NewNop())
	w.lastMessage.Store(time.Now().Add(-45 * time.Second).UnixNano())

	age := w.Age()
	if age < 44*time.Second || age > 47*time.Second {
		t.Errorf("Age() = %v, want ~45s", age)
	}
}

func TestWatcherUpdatesAgeOnMessages(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Читаем подписку, затем шлем несколько тикеров
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		for i := 0; i < 3; i++ {
			msg := `{"topic":"tickers.BTCUSDT","data":{"lastPrice":"60000"}}`
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	w := NewWatcher(wsURL, "BTCUSDT", zap.NewNop())
	// Состарим стартовую отметку, чтобы отличить обновление от инициализации
	w.lastMessage.Store(time.Now().Add(-time.Hour).UnixNano())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Close()

	deadline := time.After(2 * time.Second)
	for {
		if w.Age() < time.Second {
			return // сообщения дошли, отметка обновилась
		}
		select {
		case <-deadline:
			t.Fatalf("Age() = %v, watcher never received a message", w.Age())
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestBackoffCapped(t *testing.T) {
	w := NewWatcher("ws://127.0.0.1:1", "BTCUSDT", zap.NewNop())

	delay := w.initialDelay
	for i := 0; i < 10; i++ {
		delay = w.nextDelay(delay, false)
	}
	if delay != w.maxDelay {
		t.Errorf("backoff delay = %v, want capped at %v", delay, w.maxDelay)
	}
}

// Сессия с принятыми сообщениями возвращает backoff к начальному,
// накопленная от старых сбоев задержка не переживает здоровое соединение
func TestBackoffResetsAfterHealthySession(t *testing.T) {
	w := NewWatcher("ws://127.0.0.1:1", "BTCUSDT", zap.NewNop())

	if got := w.nextDelay(w.maxDelay, true); got != w.initialDelay {
		t.Errorf("nextDelay после живой сессии = %v, want %v", got, w.initialDelay)
	}
	if got := w.nextDelay(w.initialDelay, false); got != 2*w.initialDelay {
		t.Errorf("nextDelay после сбоя = %v, want %v", got, 2*w.initialDelay)
	}
}
