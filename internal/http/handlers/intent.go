package handlers

import (
	"errors"
	"net/http"

	"tapduel/internal/domain"
	"tapduel/internal/service"

	"github.com/gin-gonic/gin"
)

// Создание интента на депозит для входа в ton комнату. Повторный вызов
// с живым интентом возвращает его же, а не создает новый.
func (h *Handler) CreateJoinIntent(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		RoomType string `json:"room_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}

	intent, params, err := h.Intents.CreateJoinIntent(c.Request.Context(), userID, domain.RoomType(req.RoomType))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrWalletNotLinked):
			c.JSON(http.StatusBadRequest, gin.H{"error": "сначала привяжите кошелек"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"intent":         intent,
		"payment_params": params,
	})
}

// Статус интента для поллинга фронтендом. Чужой интент неотличим от
// несуществующего.
func (h *Handler) GetJoinIntent(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	intent, err := h.Intents.GetIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if intent == nil || intent.PlayerID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "интент не найден"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"intent": intent})
}

// Пользовательская проверка платежа: игрок сам сверяет свою транзакцию
// с интентом, не дожидаясь сканера. Каждое несоответствие возвращается
// явно, в отличие от молчаливого отбрасывания при сканировании.
func (h *Handler) VerifyPayment(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		IntentID string `json:"intent_id"`
		TxHash   string `json:"tx_hash"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.IntentID == "" || req.TxHash == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}

	res, err := h.Intents.VerifyEntryPayment(c.Request.Context(), userID, req.IntentID, req.TxHash)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if res == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "интент не найден"})
		return
	}

	c.JSON(http.StatusOK, res)
}
