package utils

import (
	"testing"
)

func TestCalculateDrawdown(t *testing.T) {
	tests := []struct {
		name     string
		peak     float64
		current  float64
		expected float64
	}{
		{"10 percent", 10000, 9000, 0.1},
		{"at peak", 10000, 10000, 0},
		{"above peak negative", 10000, 11000, -0.1},
		{"zero peak", 0, 5000, 0},
		{"negative peak", -100, 50, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateDrawdown(tt.peak, tt.current)
			if !almostEqual(got, tt.expected, 1e-9) {
				t.Errorf("CalculateDrawdown(%v, %v) = %v, want %v", tt.peak, tt.current, got, tt.expected)
			}
		})
	}
}

func TestCalculateDailyLossFraction(t *testing.T) {
	tests := []struct {
		name     string
		dailyPnl float64
		balance  float64
		expected float64
	}{
		{"5 percent loss", -500, 10000, 0.05},
		{"profitable day", 300, 10000, -0.03},
		{"flat day", 0, 10000, 0},
		{"zero balance", -500, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateDailyLossFraction(tt.dailyPnl, tt.balance)
			if !almostEqual(got, tt.expected, 1e-9) {
				t.Errorf("CalculateDailyLossFraction(%v, %v) = %v, want %v", tt.dailyPnl, tt.balance, got, tt.expected)
			}
		})
	}
}

func TestCalculateDegradation(t *testing.T) {
	tests := []struct {
		name     string
		baseline float64
		live     float64
		expected float64
	}{
		{"30 percent worse", 100, 70, 0.3},
		{"live better", 50, 60, -0.2},
		{"zero baseline", 0, 30, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateDegradation(tt.baseline, tt.live)
			if !almostEqual(got, tt.expected, 1e-9) {
				t.Errorf("CalculateDegradation(%v, %v) = %v, want %v", tt.baseline, tt.live, got, tt.expected)
			}
		})
	}
}

func almostEqual(a, b, epsilon float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= epsilon
}
