package handlers

import (
	"context"
	"errors"

	"riskcontrol/internal/sizing"
	"riskcontrol/internal/stop"
)

// ErrMockDatabase имитирует ошибку БД в моках
var ErrMockDatabase = errors.New("mock database error")

// ============ MockTradeGate ============

type MockTradeGate struct {
	decision *stop.Decision
	err      error
}

func NewMockTradeGate() *MockTradeGate {
	return &MockTradeGate{decision: &stop.Decision{Allowed: true}}
}

func (m *MockTradeGate) Block(scopes ...string) {
	m.decision = &stop.Decision{Allowed: false, BlockedBy: scopes}
}

func (m *MockTradeGate) SetError(err error) { m.err = err }

func (m *MockTradeGate) CanTrade(accountID, strategyID string) (*stop.Decision, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.decision, nil
}

// ============ MockMarginLedger ============

type MockMarginLedger struct {
	result *sizing.Result
	err    error

	sizeCalls    int
	released     float64
	releaseCalls int
}

func NewMockMarginLedger() *MockMarginLedger {
	return &MockMarginLedger{
		result: &sizing.Result{Margin: 400, Notional: 2000, EffectiveRisk: 100},
	}
}

func (m *MockMarginLedger) SetError(err error) { m.err = err }

func (m *MockMarginLedger) SizeAndReserve(accountID string, riskPct, stopLossPct, leverage float64, maxPositions int) (*sizing.Result, error) {
	m.sizeCalls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *MockMarginLedger) Release(accountID string, margin float64) error {
	m.releaseCalls++
	m.released += margin
	return m.err
}

// ============ MockStopOps ============

type MockStopOps struct {
	err error

	manualStops  []string // "scope:scopeID"
	manualResets []string
	evaluations  int
}

func NewMockStopOps() *MockStopOps { return &MockStopOps{} }

func (m *MockStopOps) SetError(err error) { m.err = err }

func (m *MockStopOps) StopManually(scope, scopeID, reason string) error {
	if m.err != nil {
		return m.err
	}
	m.manualStops = append(m.manualStops, scope+":"+scopeID)
	return nil
}

func (m *MockStopOps) ResetManually(scope, scopeID string) error {
	if m.err != nil {
		return m.err
	}
	m.manualResets = append(m.manualResets, scope+":"+scopeID)
	return nil
}

func (m *MockStopOps) EvaluateConditions(ctx context.Context) error {
	if m.err != nil {
		return m.err
	}
	m.evaluations++
	return nil
}
