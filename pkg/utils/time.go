package utils

import (
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Вспомогательные функции для временных операций. Все границы суток
// считаются строго в UTC: дневной лимит убытка и сброс дневного PNL
// привязаны к полуночи UTC, независимо от timezone сервера.
//
// Функции:
// - GetDayStartFrom: начало суток UTC для указанного времени
// - NextMidnight: ближайшая будущая полночь UTC
// - SameUTCDay: принадлежность двух моментов одним суткам UTC

// ============================================================
// Границы суток UTC
// ============================================================

// GetDayStartFrom возвращает начало дня для указанного времени в UTC
//
// Параметры:
//   - t: исходное время
//
// Возвращает: начало дня (00:00:00 UTC) для указанной даты
func GetDayStartFrom(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NextMidnight возвращает ближайшую будущую полночь UTC после t
//
// Используется для выставления cooldown_until при остановке
// по дневному лимиту убытка.
//
// Пример:
//
//	// t: 2024-01-15 14:30:45 UTC
//	next := NextMidnight(t)
//	// next: 2024-01-16 00:00:00 UTC
func NextMidnight(t time.Time) time.Time {
	return GetDayStartFrom(t).AddDate(0, 0, 1)
}

// SameUTCDay проверяет, принадлежат ли два момента одним суткам UTC
//
// Используется синхронизацией балансов для определения момента
// сброса дневного реализованного PNL.
func SameUTCDay(a, b time.Time) bool {
	return GetDayStartFrom(a).Equal(GetDayStartFrom(b))
}

// ============================================================
// Форматирование времени
// ============================================================

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		if minutes > 0 {
			return (time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute).String()
		}
		return (time.Duration(hours) * time.Hour).String()
	}

	if minutes > 0 {
		if seconds > 0 {
			return (time.Duration(minutes)*time.Minute + time.Duration(seconds)*time.Second).String()
		}
		return (time.Duration(minutes) * time.Minute).String()
	}

	return (time.Duration(seconds) * time.Second).String()
}

// UnixMillis возвращает текущее время в миллисекундах Unix
func UnixMillis() int64 {
	return time.Now().UnixMilli()
}

// FromUnixMillis конвертирует миллисекунды Unix в time.Time
func FromUnixMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
