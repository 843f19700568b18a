package exchange

import (
	"context"
	"time"
)

// Client определяет операции с биржей, нужные risk-control plane
//
// Поверхность намеренно узкая: синхронизация балансов субаккаунтов
// и принудительное закрытие позиций. Открытие позиций выполняет
// торговое ядро, не этот модуль.
type Client interface {
	// GetBalance получает equity субаккаунта в USDT
	GetBalance(ctx context.Context, subaccountID string) (float64, error)

	// GetOpenPositions получает открытые позиции субаккаунта
	GetOpenPositions(ctx context.Context, subaccountID string) ([]*Position, error)

	// ClosePosition закрывает позицию рыночным reduce-only ордером
	ClosePosition(ctx context.Context, subaccountID string, position *Position) error

	// CloseAllPositions закрывает все открытые позиции субаккаунта
	CloseAllPositions(ctx context.Context, subaccountID string) error

	// Close закрывает соединения с биржей
	Close() error
}

// Position представляет открытую позицию
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"` // "long" или "short"
	Size          float64   `json:"size"`
	EntryPrice    float64   `json:"entry_price"`
	MarkPrice     float64   `json:"mark_price"`
	Leverage      int       `json:"leverage"`
	UnrealizedPnl float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ExchangeError представляет ошибку от биржи
type ExchangeError struct {
	Exchange string
	Code     string
	Message  string
	Original error
}

func (e *ExchangeError) Error() string {
	return e.Exchange + ": " + e.Message
}

// Unwrap возвращает оригинальную ошибку для поддержки errors.Is() и errors.As()
func (e *ExchangeError) Unwrap() error {
	return e.Original
}

// Side constants for positions
const (
	SideLong  = "long"
	SideShort = "short"
)
