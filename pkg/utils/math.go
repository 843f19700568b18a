package utils

// math.go - математические утилиты риск-контроля
//
// Назначение:
// Вспомогательные математические функции для расчета риск-метрик.
// Все функции являются чистыми (pure functions) без побочных эффектов.
//
// Функции:
// - CalculateDrawdown: просадка от пика
// - CalculateDailyLossFraction: дневной убыток как доля баланса
// - CalculateDegradation: относительная деградация метрики

// CalculateDrawdown расчитывает просадку от пика в долях.
//
// Формула:
//
//	Drawdown = (peak - current) / peak
//
// Параметры:
//   - peak: максимум баланса (high-water mark)
//   - current: текущий баланс
//
// Возвращает:
//   - Просадку в долях (0.12 означает 12%)
//   - 0 если peak <= 0 (новый аккаунт без истории)
//
// Примеры:
//   - CalculateDrawdown(10000, 9000) = 0.1
//   - CalculateDrawdown(10000, 10500) = -0.05 (новый пик)
func CalculateDrawdown(peak, current float64) float64 {
	if peak <= 0 {
		return 0
	}
	return (peak - current) / peak
}

// CalculateDailyLossFraction расчитывает дневной убыток как долю баланса.
//
// Положительный результат означает убыток. Прибыльный день дает
// отрицательное значение и никогда не срабатывает как лимит.
//
// Параметры:
//   - dailyPnl: реализованный PNL за сутки UTC (отрицательный при убытке)
//   - balance: текущий баланс
//
// Возвращает:
//   - Долю убытка (0.05 означает потеряно 5% баланса)
//   - 0 если balance <= 0
func CalculateDailyLossFraction(dailyPnl, balance float64) float64 {
	if balance <= 0 {
		return 0
	}
	return -dailyPnl / balance
}

// CalculateDegradation расчитывает относительное падение live метрики
// против базовой (бэктест).
//
// Формула:
//
//	Degradation = (baseline - live) / baseline
//
// Параметры:
//   - baseline: базовое значение (из бэктеста)
//   - live: наблюдаемое значение
//
// Возвращает:
//   - Деградацию в долях (0.3 означает live хуже бэктеста на 30%)
//   - 0 если baseline <= 0 (деградация не определена)
func CalculateDegradation(baseline, live float64) float64 {
	if baseline <= 0 {
		return 0
	}
	return (baseline - live) / baseline
}
