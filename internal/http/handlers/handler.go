package handlers

import (
	"tapduel/internal/config"
	"tapduel/internal/http/middleware"
	"tapduel/internal/repository"
	"tapduel/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Handler собирает зависимости HTTP endpoints
type Handler struct {
	DB         *pgxpool.Pool
	Users      *repository.UserRepository
	Wallets    *repository.WalletRepository
	Stats      *repository.StatsRepository
	Intents    *service.IntentService
	Settlement *service.SettlementService
	Cache      *redis.Client
	Cfg        *config.Config
}

func NewHandler(db *pgxpool.Pool, intents *service.IntentService, settlement *service.SettlementService, cache *redis.Client, cfg *config.Config) *Handler {
	return &Handler{
		DB:         db,
		Users:      repository.NewUserRepository(db),
		Wallets:    repository.NewWalletRepository(db),
		Stats:      repository.NewStatsRepository(db),
		Intents:    intents,
		Settlement: settlement,
		Cache:      cache,
		Cfg:        cfg,
	}
}

func getUserID(c *gin.Context) (int64, bool) {
	return middleware.UserID(c)
}
