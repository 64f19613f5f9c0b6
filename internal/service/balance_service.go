package service

import (
	"context"
	"errors"
	"fmt"

	"tapduel/internal/domain"
	"tapduel/internal/logger"
	"tapduel/internal/repository"
)

var ErrInvalidAmount = errors.New("неверная сумма")

// BalanceService - кастодиальные балансы points/stars. Ton сюда не
// попадает: он живет в escrow и проходит через пайплайн интентов.
type BalanceService struct {
	users *repository.UserRepository
	audit AuditWriter
}

func NewBalanceService(users *repository.UserRepository, audit AuditWriter) *BalanceService {
	return &BalanceService{users: users, audit: audit}
}

// DebitEntryFee списывает вступительный взнос stars-комнаты.
// Проверка достатка и списание - один атомарный UPDATE в репозитории.
func (s *BalanceService) DebitEntryFee(ctx context.Context, userID, fee int64, matchID string) error {
	if fee <= 0 {
		return ErrInvalidAmount
	}

	newBalance, err := s.users.UpdateStars(ctx, userID, -fee)
	if err != nil {
		return fmt.Errorf("списание взноса: %w", err)
	}

	s.writeAudit(ctx, userID, domain.AuditActionStarsDebited, map[string]interface{}{
		"match_id":    matchID,
		"amount":      fee,
		"new_balance": newBalance,
	})
	logger.Get().Info("списан вступительный взнос",
		"player", userID, "match", matchID, "stars", fee, "balance", newBalance)
	return nil
}

// RefundEntryFee возвращает взнос при выходе из stars-комнаты до старта
func (s *BalanceService) RefundEntryFee(ctx context.Context, userID, fee int64, matchID string) error {
	if fee <= 0 {
		return ErrInvalidAmount
	}

	newBalance, err := s.users.UpdateStars(ctx, userID, fee)
	if err != nil {
		return fmt.Errorf("возврат взноса: %w", err)
	}

	s.writeAudit(ctx, userID, domain.AuditActionStarsCredited, map[string]interface{}{
		"match_id":    matchID,
		"amount":      fee,
		"new_balance": newBalance,
		"reason":      "entry_fee_refund",
	})
	return nil
}

// CreditPoints начисляет очки (бесплатные комнаты, ретеншен)
func (s *BalanceService) CreditPoints(ctx context.Context, userID, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	_, err := s.users.UpdatePoints(ctx, userID, amount)
	return err
}

func (s *BalanceService) writeAudit(ctx context.Context, userID int64, action string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	entry := &domain.AuditLog{
		UserID:   userID,
		Action:   action,
		Category: domain.AuditCategoryPayment,
		Details:  details,
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		logger.Get().Warn("не удалось записать аудит", "action", action, "error", err)
	}
}
