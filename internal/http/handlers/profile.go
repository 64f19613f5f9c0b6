package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Профиль текущего пользователя: балансы, статистика, кошелек
func (h *Handler) MyProfile(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()
	user, err := h.Users.GetByID(ctx, userID)
	if err != nil || user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "пользователь не найден"})
		return
	}

	// статистика и кошелек - best-effort, профиль без них не ломается
	stats, _ := h.Stats.GetByPlayer(ctx, userID)
	wallet, _ := h.Wallets.GetByUserID(ctx, userID)

	c.JSON(http.StatusOK, gin.H{
		"id":         user.ID,
		"tg_id":      user.TgID,
		"username":   user.Username,
		"first_name": user.FirstName,
		"created_at": user.CreatedAt,
		"points":     user.Points,
		"stars":      user.Stars,
		"stats":      stats,
		"wallet":     wallet,
	})
}
