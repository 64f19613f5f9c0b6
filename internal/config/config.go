package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"tapduel/internal/logger"

	"github.com/joho/godotenv"
)

// Config собирает настройки процесса из окружения
type Config struct {
	AppPort     string
	DatabaseURL string
	RedisURL    string

	BotToken         string
	AdminTelegramIDs []int64
	OpsBotEnabled    bool

	JWTSecret     string
	PaymentSecret string // HMAC ключ для подписи выплат

	DevMode bool

	// TON
	TonNetwork        string // mainnet | testnet
	TonAPIKey         string
	TonAllowedDomain  string // домен приложения для проверки TON Connect proof
	EscrowAddress     string // адрес escrow контракта, получатель депозитов
	RefundMnemonic    string // мнемоника кошелька для возвратов/выплат
	DepositInterval   time.Duration
	IntentSweepPeriod time.Duration
}

// Load читает .env (если есть) и окружение. Отсутствие обязательного
// секрета - фатальная ошибка конфигурации, падаем сразу.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		AppPort:           getEnv("APP_PORT", "8080"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          getEnv("REDIS_URL", ""),
		BotToken:          os.Getenv("BOT_TOKEN"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		PaymentSecret:     os.Getenv("PAYMENT_SECRET"),
		DevMode:           os.Getenv("DEV_MODE") == "true",
		TonNetwork:        getEnv("TON_NETWORK", "mainnet"),
		TonAPIKey:         os.Getenv("TON_API_KEY"),
		TonAllowedDomain:  os.Getenv("TON_ALLOWED_DOMAIN"),
		EscrowAddress:     os.Getenv("TON_ESCROW_ADDRESS"),
		RefundMnemonic:    os.Getenv("TON_REFUND_MNEMONIC"),
		DepositInterval:   getDuration("DEPOSIT_CHECK_INTERVAL", 30*time.Second),
		IntentSweepPeriod: getDuration("INTENT_SWEEP_PERIOD", time.Minute),
		OpsBotEnabled:     os.Getenv("OPS_BOT_ENABLED") == "true",
	}

	for _, part := range strings.Split(os.Getenv("ADMIN_TELEGRAM_IDS"), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			cfg.AdminTelegramIDs = append(cfg.AdminTelegramIDs, id)
		}
	}

	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL не задан")
	}
	if cfg.JWTSecret == "" && !cfg.DevMode {
		logger.Fatal("JWT_SECRET не задан")
	}
	if cfg.PaymentSecret == "" && !cfg.DevMode {
		logger.Fatal("PAYMENT_SECRET не задан")
	}

	return cfg
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
