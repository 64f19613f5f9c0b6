package handlers

import (
	"net/http"

	"tapduel/internal/game"

	"github.com/gin-gonic/gin"
)

// список доступных типов комнат с условиями входа
func (h *Handler) Rooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": game.Presets()})
}
