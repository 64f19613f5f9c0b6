package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Невостребованные и полученные выплаты пользователя
func (h *Handler) ListWinnings(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	payments, err := h.Settlement.ListWinnings(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"winnings": payments})
}

// ClaimWinnings забирает выплату по подписи, выданной при расчете
// матча. Повторный запрос того же выигрыша - no-op.
func (h *Handler) ClaimWinnings(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		MatchID   string `json:"match_id"`
		Signature string `json:"signature"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MatchID == "" || req.Signature == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "match_id и signature обязательны"})
		return
	}

	payment, err := h.Settlement.ClaimWinnings(c.Request.Context(), userID, req.MatchID, req.Signature)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payment": payment})
}
