package middleware

import (
	"net/http"
	"strings"

	"tapduel/internal/service"

	"github.com/gin-gonic/gin"
)

const userIDKey = "user_id"

// RequireAuth проверяет JWT из заголовка Authorization и кладет id
// пользователя в контекст запроса
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "токен обязателен"})
			return
		}

		userID, err := service.ParseJWT(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "неверный токен"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID достает id пользователя, положенный RequireAuth
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
