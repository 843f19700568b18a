package utils

import (
	"testing"
	"time"
)

func TestGetDayStartFrom(t *testing.T) {
	input := time.Date(2024, 1, 15, 14, 30, 45, 123, time.UTC)
	expected := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	if got := GetDayStartFrom(input); !got.Equal(expected) {
		t.Errorf("GetDayStartFrom() = %v, want %v", got, expected)
	}

	// Время в другой timezone приводится к UTC до усечения
	msk := time.FixedZone("MSK", 3*3600)
	inputMsk := time.Date(2024, 1, 16, 1, 30, 0, 0, msk) // 2024-01-15 22:30 UTC
	if got := GetDayStartFrom(inputMsk); !got.Equal(expected) {
		t.Errorf("GetDayStartFrom(MSK) = %v, want %v", got, expected)
	}
}

func TestNextMidnight(t *testing.T) {
	input := time.Date(2024, 1, 15, 14, 30, 45, 0, time.UTC)
	expected := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	if got := NextMidnight(input); !got.Equal(expected) {
		t.Errorf("NextMidnight() = %v, want %v", got, expected)
	}

	// Ровно в полночь следующая полночь - через сутки
	midnight := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	expectedNext := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)
	if got := NextMidnight(midnight); !got.Equal(expectedNext) {
		t.Errorf("NextMidnight(midnight) = %v, want %v", got, expectedNext)
	}
}

func TestSameUTCDay(t *testing.T) {
	a := time.Date(2024, 1, 15, 0, 0, 1, 0, time.UTC)
	b := time.Date(2024, 1, 15, 23, 59, 59, 0, time.UTC)
	c := time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC)

	if !SameUTCDay(a, b) {
		t.Error("SameUTCDay(a, b) = false, want true")
	}
	if SameUTCDay(b, c) {
		t.Error("SameUTCDay(b, c) = true, want false")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		d        time.Duration
		expected string
	}{
		{"seconds", 45 * time.Second, "45s"},
		{"minutes and seconds", 5*time.Minute + 30*time.Second, "5m30s"},
		{"hours and minutes", 2*time.Hour + 15*time.Minute, "2h15m0s"},
		{"negative", -45 * time.Second, "45s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDuration(tt.d); got != tt.expected {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.d, got, tt.expected)
			}
		})
	}
}
