package utils

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - настройка логирования
//
// Назначение:
// Инициализация структурированного логирования на базе uber-go/zap.
// Оба процесса (executor и monitor) создают logger один раз на старте
// и передают его компонентам через конструкторы.
//
// Функции:
// - InitLogger: создать и настроить logger
//   * Формат: json (production) или console (разработка)
//   * Уровни: debug, info, warn, error

// InitLogger создает настроенный zap logger
//
// Параметры:
//   - level: уровень логирования ("debug", "info", "warn", "error")
//   - format: формат вывода ("json" или "console")
//
// Возвращает:
//   - Настроенный *zap.Logger
//   - Ошибку при неизвестном уровне
func InitLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info", "":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level: %q", level)
	}

	var cfg zap.Config
	if strings.ToLower(format) == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return logger, nil
}
