package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"riskcontrol/internal/config"
	"riskcontrol/pkg/crypto"
	"riskcontrol/pkg/utils"
)

const (
	bybitRecvWindow = "5000"
)

// Bybit реализует интерфейс Client для биржи Bybit (API v5)
//
// Работает мастер-ключом: запросы по субаккаунтам маршрутизируются
// параметром memberId. API ключи хранятся в конфигурации зашифрованными
// (AES-256-GCM) и расшифровываются один раз при создании клиента.
type Bybit struct {
	baseURL   string
	apiKey    string
	secretKey string

	httpClient *http.Client
	logger     *zap.Logger
}

// NewBybit создает клиент Bybit, расшифровывая API ключи из конфигурации
func NewBybit(cfg config.ExchangeConfig, encryptionKey string, logger *zap.Logger) (*Bybit, error) {
	apiKey, err := crypto.DecryptWithKeyString(cfg.APIKeyEnc, encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt exchange API key: %w", err)
	}

	secretKey, err := crypto.DecryptWithKeyString(cfg.APISecretEnc, encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt exchange API secret: %w", err)
	}

	return &Bybit{
		baseURL:    cfg.BaseURL,
		apiKey:     apiKey,
		secretKey:  secretKey,
		httpClient: getGlobalHTTPClient(),
		logger:     logger,
	}, nil
}

// sign создает подпись для запроса к Bybit API v5
func (b *Bybit) sign(timestamp string, params string) string {
	message := timestamp + b.apiKey + bybitRecvWindow + params
	h := hmac.New(sha256.New, []byte(b.secretKey))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest выполняет подписанный HTTP запрос к Bybit API
func (b *Bybit) doRequest(ctx context.Context, method, endpoint string, params map[string]string) ([]byte, error) {
	var reqBody string
	var reqURL string

	if method == http.MethodGet {
		query := url.Values{}
		for k, v := range params {
			query.Set(k, v)
		}
		reqBody = query.Encode()
		if reqBody != "" {
			reqURL = b.baseURL + endpoint + "?" + reqBody
		} else {
			reqURL = b.baseURL + endpoint
		}
	} else {
		reqURL = b.baseURL + endpoint
		if len(params) > 0 {
			jsonBytes, _ := json.Marshal(params)
			reqBody = string(jsonBytes)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, strings.NewReader(reqBody))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")

	timestamp := strconv.FormatInt(utils.UnixMillis(), 10)
	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, reqBody))
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var baseResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &baseResp); err != nil {
		return nil, err
	}

	if baseResp.RetCode != 0 {
		return nil, &ExchangeError{
			Exchange: "bybit",
			Code:     strconv.Itoa(baseResp.RetCode),
			Message:  baseResp.RetMsg,
		}
	}

	return body, nil
}

// GetBalance получает equity субаккаунта в USDT
func (b *Bybit) GetBalance(ctx context.Context, subaccountID string) (float64, error) {
	params := map[string]string{
		"accountType": "UNIFIED",
		"coin":        "USDT",
		"memberId":    subaccountID,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params)
	if err != nil {
		return 0, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin   string `json:"coin"`
					Equity string `json:"equity"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}

	for _, acct := range resp.Result.List {
		for _, coin := range acct.Coin {
			if coin.Coin == "USDT" {
				equity, err := strconv.ParseFloat(coin.Equity, 64)
				if err != nil {
					return 0, fmt.Errorf("invalid equity %q in balance response: %w", coin.Equity, err)
				}
				return equity, nil
			}
		}
	}

	return 0, fmt.Errorf("no USDT balance for subaccount %s", subaccountID)
}

// GetOpenPositions получает открытые позиции субаккаунта
func (b *Bybit) GetOpenPositions(ctx context.Context, subaccountID string) ([]*Position, error) {
	params := map[string]string{
		"category":   "linear",
		"settleCoin": "USDT",
		"memberId":   subaccountID,
	}

	body, err := b.doRequest(ctx, http.MethodGet, "/v5/position/list", params)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Result struct {
			List []struct {
				Symbol        string `json:"symbol"`
				Side          string `json:"side"`
				Size          string `json:"size"`
				AvgPrice      string `json:"avgPrice"`
				MarkPrice     string `json:"markPrice"`
				Leverage      string `json:"leverage"`
				UnrealisedPnl string `json:"unrealisedPnl"`
				UpdatedTime   string `json:"updatedTime"`
			} `json:"list"`
		} `json:"result"`
	}

	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}

	positions := make([]*Position, 0)
	for _, p := range resp.Result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if size == 0 {
			continue
		}

		entryPrice, _ := strconv.ParseFloat(p.AvgPrice, 64)
		markPrice, _ := strconv.ParseFloat(p.MarkPrice, 64)
		leverage, _ := strconv.Atoi(p.Leverage)
		unrealizedPnl, _ := strconv.ParseFloat(p.UnrealisedPnl, 64)
		updatedTime, _ := strconv.ParseInt(p.UpdatedTime, 10, 64)

		side := SideLong
		if p.Side == "Sell" {
			side = SideShort
		}

		positions = append(positions, &Position{
			Symbol:        p.Symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entryPrice,
			MarkPrice:     markPrice,
			Leverage:      leverage,
			UnrealizedPnl: unrealizedPnl,
			UpdatedAt:     utils.FromUnixMillis(updatedTime),
		})
	}

	return positions, nil
}

// ClosePosition закрывает позицию рыночным reduce-only ордером
//
// Для закрытия размещается противоположный ордер: Sell для long,
// Buy для short. reduceOnly гарантирует, что ордер не откроет
// новую позицию, даже если состояние на бирже уже изменилось.
func (b *Bybit) ClosePosition(ctx context.Context, subaccountID string, position *Position) error {
	closeSide := "Sell"
	if position.Side == SideShort {
		closeSide = "Buy"
	}

	params := map[string]string{
		"category":    "linear",
		"symbol":      position.Symbol,
		"side":        closeSide,
		"orderType":   "Market",
		"qty":         strconv.FormatFloat(position.Size, 'f', -1, 64),
		"timeInForce": "IOC",
		"reduceOnly":  "true",
		"memberId":    subaccountID,
	}

	_, err := b.doRequest(ctx, http.MethodPost, "/v5/order/create", params)
	return err
}

// CloseAllPositions закрывает все открытые позиции субаккаунта
//
// Частичный отказ не прерывает обход: оставшиеся позиции закрываются,
// накопленные ошибки возвращаются одной.
func (b *Bybit) CloseAllPositions(ctx context.Context, subaccountID string) error {
	positions, err := b.GetOpenPositions(ctx, subaccountID)
	if err != nil {
		return fmt.Errorf("failed to list positions for %s: %w", subaccountID, err)
	}

	var errs []error
	for _, p := range positions {
		if err := b.ClosePosition(ctx, subaccountID, p); err != nil {
			errs = append(errs, fmt.Errorf("close %s %s: %w", p.Symbol, p.Side, err))
			continue
		}

		b.logger.Info("position closed",
			zap.String("subaccount_id", subaccountID),
			zap.String("symbol", p.Symbol),
			zap.String("side", p.Side),
			zap.Float64("size", p.Size),
		)
	}

	return errors.Join(errs...)
}

// Close закрывает соединения с биржей
func (b *Bybit) Close() error {
	CloseGlobalClient()
	return nil
}
