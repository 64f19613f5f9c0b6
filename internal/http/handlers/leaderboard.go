package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"tapduel/internal/repository"

	"github.com/gin-gonic/gin"
)

const (
	leaderboardLimit = 100
	leaderboardTTL   = 30 * time.Second
)

// Лидерборд с кэшем в redis: пересчитывать топ на каждый запрос
// незачем, полминуты устаревания никого не волнуют
func (h *Handler) Leaderboard(c *gin.Context) {
	sortBy := c.DefaultQuery("sort", repository.LeaderboardByWins)
	switch sortBy {
	case repository.LeaderboardByWins, repository.LeaderboardByScore, repository.LeaderboardByWinRate:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort: wins | score | winrate"})
		return
	}

	ctx := c.Request.Context()
	cacheKey := "leaderboard:" + sortBy

	if h.Cache != nil {
		if raw, err := h.Cache.Get(ctx, cacheKey).Bytes(); err == nil {
			c.Data(http.StatusOK, "application/json; charset=utf-8", raw)
			return
		}
	}

	top, err := h.Stats.Top(ctx, sortBy, leaderboardLimit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}

	body, err := json.Marshal(gin.H{"leaderboard": top, "sort": sortBy})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
		return
	}

	if h.Cache != nil {
		h.Cache.Set(ctx, cacheKey, body, leaderboardTTL)
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}
