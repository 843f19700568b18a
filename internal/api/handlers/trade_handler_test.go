package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"riskcontrol/internal/config"
	"riskcontrol/internal/sizing"
)

var testRisk = config.RiskConfig{
	RiskPerTradePct:            0.02,
	MaxOpenPositionsPerSubacct: 10,
}

// ============ TradeHandler Tests ============

func TestTradeHandler_CanTrade(t *testing.T) {
	t.Run("allowed", func(t *testing.T) {
		gate := NewMockTradeGate()
		handler := NewTradeHandler(gate, NewMockMarginLedger(), testRisk)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/trade/can-trade?account_id=sub-1&strategy_id=strat-1", nil)
		w := httptest.NewRecorder()

		handler.CanTrade(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response["allowed"] != true {
			t.Error("expected allowed = true")
		}
	})

	t.Run("blocked returns 200 with scopes", func(t *testing.T) {
		gate := NewMockTradeGate()
		gate.Block("PORTFOLIO", "STRATEGY")
		handler := NewTradeHandler(gate, NewMockMarginLedger(), testRisk)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/trade/can-trade?account_id=sub-1&strategy_id=strat-1", nil)
		w := httptest.NewRecorder()

		handler.CanTrade(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		var response struct {
			Allowed   bool     `json:"allowed"`
			BlockedBy []string `json:"blocked_by"`
		}
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if response.Allowed {
			t.Error("expected allowed = false")
		}
		if len(response.BlockedBy) != 2 {
			t.Errorf("blocked_by = %v, want 2 scopes", response.BlockedBy)
		}
	})

	t.Run("missing params returns 400", func(t *testing.T) {
		handler := NewTradeHandler(NewMockTradeGate(), NewMockMarginLedger(), testRisk)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/trade/can-trade?account_id=sub-1", nil)
		w := httptest.NewRecorder()

		handler.CanTrade(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}

func TestTradeHandler_Size(t *testing.T) {
	sizeRequest := func() *bytes.Reader {
		body, _ := json.Marshal(SizeRequest{
			AccountID:   "sub-1",
			StrategyID:  "strat-1",
			StopLossPct: 0.05,
			Leverage:    5,
		})
		return bytes.NewReader(body)
	}

	t.Run("successfully sizes and reserves", func(t *testing.T) {
		ledger := NewMockMarginLedger()
		handler := NewTradeHandler(NewMockTradeGate(), ledger, testRisk)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/trade/size", sizeRequest())
		w := httptest.NewRecorder()

		handler.Size(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
		}

		var result sizing.Result
		if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if result.Margin != 400 {
			t.Errorf("margin = %v, want 400", result.Margin)
		}
		if ledger.sizeCalls != 1 {
			t.Errorf("sizeCalls = %d, want 1", ledger.sizeCalls)
		}
	})

	t.Run("blocked entry returns 409 without touching margin", func(t *testing.T) {
		gate := NewMockTradeGate()
		gate.Block("SUBACCOUNT")
		ledger := NewMockMarginLedger()
		handler := NewTradeHandler(gate, ledger, testRisk)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/trade/size", sizeRequest())
		w := httptest.NewRecorder()

		handler.Size(w, req)

		if w.Code != http.StatusConflict {
			t.Errorf("expected status %d, got %d", http.StatusConflict, w.Code)
		}
		if ledger.sizeCalls != 0 {
			t.Error("sizing must not run when entry is blocked")
		}
	})

	t.Run("insufficient margin returns 409", func(t *testing.T) {
		ledger := NewMockMarginLedger()
		ledger.SetError(sizing.ErrInsufficientMargin)
		handler := NewTradeHandler(NewMockTradeGate(), ledger, testRisk)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/trade/size", sizeRequest())
		w := httptest.NewRecorder()

		handler.Size(w, req)

		if w.Code != http.StatusConflict {
			t.Errorf("expected status %d, got %d", http.StatusConflict, w.Code)
		}
	})

	t.Run("invalid stop loss returns 400", func(t *testing.T) {
		ledger := NewMockMarginLedger()
		ledger.SetError(sizing.ErrInvalidStopLoss)
		handler := NewTradeHandler(NewMockTradeGate(), ledger, testRisk)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/trade/size", sizeRequest())
		w := httptest.NewRecorder()

		handler.Size(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}

func TestTradeHandler_Release(t *testing.T) {
	t.Run("successfully releases margin", func(t *testing.T) {
		ledger := NewMockMarginLedger()
		handler := NewTradeHandler(NewMockTradeGate(), ledger, testRisk)

		body, _ := json.Marshal(ReleaseRequest{AccountID: "sub-1", Margin: 250})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/trade/release", bytes.NewReader(body))
		w := httptest.NewRecorder()

		handler.Release(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
		}
		if ledger.released != 250 {
			t.Errorf("released = %v, want 250", ledger.released)
		}
	})

	t.Run("non-positive margin returns 400", func(t *testing.T) {
		ledger := NewMockMarginLedger()
		handler := NewTradeHandler(NewMockTradeGate(), ledger, testRisk)

		body, _ := json.Marshal(ReleaseRequest{AccountID: "sub-1", Margin: 0})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/trade/release", bytes.NewReader(body))
		w := httptest.NewRecorder()

		handler.Release(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
		if ledger.releaseCalls != 0 {
			t.Error("release must not run on invalid request")
		}
	})
}
