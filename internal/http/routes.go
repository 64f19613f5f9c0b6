package http

import (
	"net/http"
	"time"

	"tapduel/internal/http/handlers"
	"tapduel/internal/http/middleware"
	"tapduel/internal/ws"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes вешает HTTP и websocket маршруты
func RegisterRoutes(r *gin.Engine, h *handlers.Handler, wsh *ws.WSHandler, version string) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})

	api := r.Group("/api")

	// публичные
	api.POST("/auth", middleware.RateLimit(10, time.Minute), h.Auth)
	api.GET("/rooms", h.Rooms)
	api.GET("/leaderboard", middleware.RateLimit(60, time.Minute), h.Leaderboard)

	// под JWT
	auth := api.Group("", middleware.RequireAuth())
	auth.GET("/me", h.MyProfile)

	auth.GET("/wallet", h.GetWallet)
	auth.POST("/wallet/connect", middleware.RateLimit(10, time.Minute), h.ConnectWallet)
	auth.POST("/wallet/disconnect", h.DisconnectWallet)

	auth.POST("/join-intents", middleware.RateLimit(20, time.Minute), h.CreateJoinIntent)
	auth.GET("/join-intents/:id", h.GetJoinIntent)
	auth.POST("/payments/verify", middleware.RateLimit(30, time.Minute), h.VerifyPayment)

	auth.GET("/winnings", h.ListWinnings)
	auth.POST("/winnings/claim", middleware.RateLimit(30, time.Minute), h.ClaimWinnings)

	r.GET("/ws", wsh.HandleWS())
}
