package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config содержит всю конфигурацию risk-control plane
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Security  SecurityConfig
	Exchange  ExchangeConfig
	Risk      RiskConfig
	Intervals IntervalsConfig
	Logging   LoggingConfig

	// DryRun - режим без реальных ордеров (закрытия позиций только логируются).
	// Явное инжектируемое значение, читается один раз на старте процесса,
	// компоненты получают его через конструкторы - никаких глобальных флагов.
	DryRun bool
}

// ServerConfig - настройки HTTP сервера (ops API / sizing API)
type ServerConfig struct {
	Port     int
	Host     string
	UseHTTPS bool
	CertFile string
	KeyFile  string
}

// DatabaseConfig - настройки подключения к БД
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	EncryptionKey string // AES-256 ключ для API ключей биржи (32 байта)
	OpsTokenHash  string // bcrypt-хеш токена ops API (пусто = auth отключен)
}

// ExchangeConfig - настройки подключения к бирже
type ExchangeConfig struct {
	Name         string
	BaseURL      string
	WSURL        string // публичный WebSocket для feed watcher
	APIKeyEnc    string // зашифрованный API ключ (base64 AES-GCM)
	APISecretEnc string // зашифрованный секрет
	FeedSymbol   string // символ heartbeat-потока рыночных данных
}

// RiskConfig - риск-параметры ядра
//
// ВСЕ параметры обязательны: отсутствие значения - ошибка старта процесса,
// никаких тихих дефолтов для риск-лимитов.
type RiskConfig struct {
	// Сайзинг
	RiskPerTradePct            float64 // риск на сделку как доля equity
	MaxOpenPositionsPerSubacct int     // знаменатель кепа диверсификации

	// Аварийные остановки
	MaxPortfolioDrawdown     float64 // просадка портфеля от пика → FORCE_CLOSE
	MaxDailyLoss             float64 // дневной убыток портфеля → HALT_ENTRIES
	MaxSubaccountDrawdown    float64 // просадка субаккаунта → HALT_ENTRIES
	MaxConsecutiveLosses     int     // подряд убыточных сделок стратегии
	DataStaleSeconds         int     // возраст рыночных данных → SYSTEM остановка
	RotationLossThreshold    float64 // live убыток, требующий ротации для сброса FORCE_CLOSE
	PortfolioDdCooldownHours int     // cooldown после FORCE_CLOSE
	StrategyCooldownHours    int     // cooldown остановки стратегии

	// Ротация
	MinPoolSize          int
	MaxLiveStrategies    int
	MaxPerType           int
	MaxPerTimeframe      int
	MaxPerDirection      int
	MinScoreToEnter      float64
	MinScoreToStay       float64 // ниже MinScoreToEnter - гистерезис против flip-flop
	MaxScoreDegradation  float64
	MaxLiveDrawdown      float64
	MinTradesBeforeEval  int
	MaxTradesDegradation float64
}

// IntervalsConfig - периоды фоновых циклов
//
// Троттлинг касается только evaluate/reset/rotation циклов.
// Путь canTrade НЕ троттлится никогда.
type IntervalsConfig struct {
	EvaluateInterval time.Duration // переоценка условий остановок
	ResetInterval    time.Duration // проверка автосбросов
	RotationInterval time.Duration // деплой/вывод стратегий
	SyncInterval     time.Duration // синхронизация балансов с биржей

	// Retry для конфликтов записи в БД
	MaxConflictRetries int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnvAsInt("SERVER_PORT", 8080),
			Host:     getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS: getEnvAsBool("USE_HTTPS", false),
			CertFile: getEnv("CERT_FILE", ""),
			KeyFile:  getEnv("KEY_FILE", ""),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "riskcontrol"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Security: SecurityConfig{
			EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
			OpsTokenHash:  getEnv("OPS_TOKEN_HASH", ""),
		},
		Exchange: ExchangeConfig{
			Name:         getEnv("EXCHANGE_NAME", "bybit"),
			BaseURL:      getEnv("EXCHANGE_BASE_URL", "https://api.bybit.com"),
			WSURL:        getEnv("EXCHANGE_WS_URL", "wss://stream.bybit.com/v5/public/linear"),
			APIKeyEnc:    getEnv("EXCHANGE_API_KEY_ENC", ""),
			APISecretEnc: getEnv("EXCHANGE_API_SECRET_ENC", ""),
			FeedSymbol:   getEnv("FEED_SYMBOL", "BTCUSDT"),
		},
		Intervals: IntervalsConfig{
			// Документированный дефолт троттлинга переоценки: 60s
			EvaluateInterval:   getEnvAsDuration("EVALUATE_INTERVAL", 60*time.Second),
			ResetInterval:      getEnvAsDuration("RESET_INTERVAL", 60*time.Second),
			RotationInterval:   getEnvAsDuration("ROTATION_INTERVAL", 15*time.Minute),
			SyncInterval:       getEnvAsDuration("SYNC_INTERVAL", 1*time.Minute),
			MaxConflictRetries: getEnvAsInt("MAX_CONFLICT_RETRIES", 4),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		DryRun: getEnvAsBool("DRY_RUN", true),
	}

	// Риск-параметры обязательны, без тихих дефолтов
	risk, err := loadRiskConfig()
	if err != nil {
		return nil, err
	}
	cfg.Risk = *risk

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadRiskConfig читает обязательные риск-параметры
func loadRiskConfig() (*RiskConfig, error) {
	var errs []string

	requireFloat := func(key string) float64 {
		v, err := requireEnvAsFloat(key)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}
	requireInt := func(key string) int {
		v, err := requireEnvAsInt(key)
		if err != nil {
			errs = append(errs, err.Error())
		}
		return v
	}

	cfg := &RiskConfig{
		RiskPerTradePct:            requireFloat("RISK_PER_TRADE_PCT"),
		MaxOpenPositionsPerSubacct: requireInt("MAX_OPEN_POSITIONS_PER_SUBACCOUNT"),
		MaxPortfolioDrawdown:       requireFloat("MAX_PORTFOLIO_DRAWDOWN"),
		MaxDailyLoss:               requireFloat("MAX_DAILY_LOSS"),
		MaxSubaccountDrawdown:      requireFloat("MAX_SUBACCOUNT_DRAWDOWN"),
		MaxConsecutiveLosses:       requireInt("MAX_CONSECUTIVE_LOSSES"),
		DataStaleSeconds:           requireInt("DATA_STALE_SECONDS"),
		RotationLossThreshold:      requireFloat("ROTATION_LOSS_THRESHOLD"),
		PortfolioDdCooldownHours:   requireInt("PORTFOLIO_DD_COOLDOWN_HOURS"),
		StrategyCooldownHours:      requireInt("STRATEGY_COOLDOWN_HOURS"),
		MinPoolSize:                requireInt("MIN_POOL_SIZE"),
		MaxLiveStrategies:          requireInt("MAX_LIVE_STRATEGIES"),
		MaxPerType:                 requireInt("MAX_PER_TYPE"),
		MaxPerTimeframe:            requireInt("MAX_PER_TIMEFRAME"),
		MaxPerDirection:            requireInt("MAX_PER_DIRECTION"),
		MinScoreToEnter:            requireFloat("MIN_SCORE_TO_ENTER"),
		MinScoreToStay:             requireFloat("MIN_SCORE_TO_STAY"),
		MaxScoreDegradation:        requireFloat("MAX_SCORE_DEGRADATION"),
		MaxLiveDrawdown:            requireFloat("MAX_LIVE_DRAWDOWN"),
		MinTradesBeforeEval:        requireInt("MIN_TRADES_BEFORE_EVAL"),
		MaxTradesDegradation:       requireFloat("MAX_TRADES_DEGRADATION"),
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("missing or invalid risk parameters: %v", errs)
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY обязателен для расшифровки API ключей биржи
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for decrypting exchange API keys")
	}

	if len(c.Security.EncryptionKey) != 32 {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly 32 bytes for AES-256")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	r := c.Risk

	// Доли: (0, 1]
	fractions := map[string]float64{
		"RISK_PER_TRADE_PCT":      r.RiskPerTradePct,
		"MAX_PORTFOLIO_DRAWDOWN":  r.MaxPortfolioDrawdown,
		"MAX_DAILY_LOSS":          r.MaxDailyLoss,
		"MAX_SUBACCOUNT_DRAWDOWN": r.MaxSubaccountDrawdown,
		"MAX_SCORE_DEGRADATION":   r.MaxScoreDegradation,
		"MAX_LIVE_DRAWDOWN":       r.MaxLiveDrawdown,
		"MAX_TRADES_DEGRADATION":  r.MaxTradesDegradation,
	}
	for key, v := range fractions {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", key, v)
		}
	}

	// Целые: строго положительные
	positives := map[string]int{
		"MAX_OPEN_POSITIONS_PER_SUBACCOUNT": r.MaxOpenPositionsPerSubacct,
		"MAX_CONSECUTIVE_LOSSES":            r.MaxConsecutiveLosses,
		"DATA_STALE_SECONDS":                r.DataStaleSeconds,
		"PORTFOLIO_DD_COOLDOWN_HOURS":       r.PortfolioDdCooldownHours,
		"STRATEGY_COOLDOWN_HOURS":           r.StrategyCooldownHours,
		"MIN_POOL_SIZE":                     r.MinPoolSize,
		"MAX_LIVE_STRATEGIES":               r.MaxLiveStrategies,
		"MAX_PER_TYPE":                      r.MaxPerType,
		"MAX_PER_TIMEFRAME":                 r.MaxPerTimeframe,
		"MAX_PER_DIRECTION":                 r.MaxPerDirection,
		"MIN_TRADES_BEFORE_EVAL":            r.MinTradesBeforeEval,
	}
	for key, v := range positives {
		if v < 1 {
			return fmt.Errorf("%s must be >= 1, got %d", key, v)
		}
	}

	// Гистерезис: порог удержания должен быть ниже порога входа
	if r.MinScoreToStay >= r.MinScoreToEnter {
		return fmt.Errorf("MIN_SCORE_TO_STAY (%v) must be below MIN_SCORE_TO_ENTER (%v) for hysteresis",
			r.MinScoreToStay, r.MinScoreToEnter)
	}

	if c.Intervals.EvaluateInterval <= 0 {
		return fmt.Errorf("EVALUATE_INTERVAL must be positive, got %v", c.Intervals.EvaluateInterval)
	}

	if c.Intervals.MaxConflictRetries < 1 || c.Intervals.MaxConflictRetries > 10 {
		return fmt.Errorf("MAX_CONFLICT_RETRIES must be between 1 and 10, got %d", c.Intervals.MaxConflictRetries)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// requireEnvAsFloat читает обязательную float переменную
func requireEnvAsFloat(key string) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid float %q", key, valueStr)
	}
	return value, nil
}

// requireEnvAsInt читает обязательную int переменную
func requireEnvAsInt(key string) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid int %q", key, valueStr)
	}
	return value, nil
}
