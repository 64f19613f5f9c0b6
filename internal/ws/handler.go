package ws

import (
	"context"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"tapduel/internal/repository"
	"tapduel/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// содержит зависимости для обработки WebSocket
type WSHandler struct {
	Hub      *Hub
	UserRepo *repository.UserRepository
	DevMode  bool
}

func NewWSHandler(hub *Hub, userRepo *repository.UserRepository, devMode bool) *WSHandler {
	return &WSHandler{
		Hub:      hub,
		UserRepo: userRepo,
		DevMode:  devMode,
	}
}

func (h *WSHandler) HandleWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, name, ok := h.authenticate(c)
		if !ok {
			return
		}

		allowedOrigin := os.Getenv("ALLOWED_ORIGIN")
		upgrader := websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if allowedOrigin == "" {
					return true
				}
				return r.Header.Get("Origin") == allowedOrigin
			},
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Println("ошибка обновления ws:", err)
			return
		}

		client := NewClient(userID, name, conn, h.Hub)
		go client.Run()
	}
}

// authenticate проверяет JWT из query. В dev-режиме допускается
// user_id без токена, чтобы играть без Telegram.
func (h *WSHandler) authenticate(c *gin.Context) (int64, string, bool) {
	token := c.Query("token")

	var userID int64
	switch {
	case token != "":
		id, err := service.ParseJWT(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "неверный токен"})
			return 0, "", false
		}
		userID = id
	case h.DevMode:
		id, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user_id обязателен в dev-режиме"})
			return 0, "", false
		}
		userID = id
	default:
		c.JSON(http.StatusUnauthorized, gin.H{"error": "токен обязателен"})
		return 0, "", false
	}

	name := "player_" + strconv.FormatInt(userID, 10)
	if h.UserRepo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if user, err := h.UserRepo.GetByID(ctx, userID); err == nil && user != nil {
			if user.FirstName != "" {
				name = user.FirstName
			} else if user.Username != "" {
				name = user.Username
			}
		}
	}

	return userID, name, true
}
