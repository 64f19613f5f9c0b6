package db

import (
	"context"
	"time"

	"tapduel/internal/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect открывает пул соединений к Postgres и проверяет его пингом
func Connect(databaseURL string) *pgxpool.Pool {
	log := logger.Get()

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		logger.Fatal("неверный DATABASE_URL", "error", err)
	}
	cfg.MaxConns = 20

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		logger.Fatal("не удалось создать пул соединений", "error", err)
	}

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("база данных недоступна", "error", err)
	}

	log.Info("подключение к базе данных установлено")
	return pool
}
