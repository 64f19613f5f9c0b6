package handlers

import (
	"net/http"

	"tapduel/internal/service"

	"github.com/gin-gonic/gin"
)

// Аутентификация по подписанным Telegram WebApp initData. Валидный
// initData создает или обновляет пользователя и выдает JWT.
func (h *Handler) Auth(c *gin.Context) {
	var req struct {
		InitData string `json:"init_data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.InitData == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "init_data обязателен"})
		return
	}

	values, ok := service.ValidateTelegramInitData(req.InitData, h.Cfg.BotToken)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "подпись initData не прошла проверку"})
		return
	}

	tgUser, ok := service.ExtractTelegramUser(values)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "initData без данных пользователя"})
		return
	}

	user, err := h.Users.GetOrCreateByTg(c.Request.Context(), tgUser.ID, tgUser.Username, tgUser.FirstName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}

	token, err := service.GenerateJWT(user.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "не удалось выдать токен"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  user,
	})
}
