package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"tapduel/internal/domain"
	"tapduel/internal/game"
	"tapduel/internal/logger"
	"tapduel/internal/metrics"

	"github.com/google/uuid"
)

// PaymentStore - нужный расчету срез репозитория выплат
type PaymentStore interface {
	Create(ctx context.Context, p *domain.Payment) error
	GetByMatchAndPlayer(ctx context.Context, matchID string, playerID int64) (*domain.Payment, error)
	ExistsForMatch(ctx context.Context, matchID string) (bool, error)
	MarkClaimed(ctx context.Context, id string) (bool, error)
	ListPendingByPlayer(ctx context.Context, playerID int64) ([]*domain.Payment, error)
}

// StatsStore накапливает статистику игроков
type StatsStore interface {
	ApplyMatchResult(ctx context.Context, playerID int64, name string, score int, won bool) error
}

// BalanceStore - кастодиальные балансы stars/points
type BalanceStore interface {
	UpdateStars(ctx context.Context, userID, delta int64) (int64, error)
	UpdatePoints(ctx context.Context, userID, delta int64) (int64, error)
}

// SettlementService закрывает доигранный матч: определяет победителей,
// делит банк за вычетом комиссии платформы, пишет подписанные записи
// выплат и обновляет статистику. Расчет обязан пройти ровно один раз
// на матч, сколько бы триггеров завершения ни сработало одновременно.
type SettlementService struct {
	payments PaymentStore
	stats    StatsStore
	balances BalanceStore
	audit    AuditWriter
	secret   []byte // PAYMENT_SECRET для подписи выплат

	mu      sync.Mutex
	settled map[string]bool
}

func NewSettlementService(payments PaymentStore, stats StatsStore, balances BalanceStore, audit AuditWriter, paymentSecret string) *SettlementService {
	return &SettlementService{
		payments: payments,
		stats:    stats,
		balances: balances,
		audit:    audit,
		secret:   []byte(paymentSecret),
		settled:  make(map[string]bool),
	}
}

// Winners возвращает игроков с максимальным итоговым счетом.
// Считаем по AllPlayers: вышедший до конца игрок не теряет право на
// честный расчет.
func Winners(m *domain.Match) []*domain.Player {
	best := -1
	for _, p := range m.AllPlayers {
		if p.Score > best {
			best = p.Score
		}
	}
	if best < 0 {
		return nil
	}

	var winners []*domain.Player
	for _, p := range m.AllPlayers {
		if p.Score == best {
			winners = append(winners, p)
		}
	}
	return winners
}

// SignPayment строит HMAC-SHA256 подпись выплаты от тройки
// (матч, игрок, сумма)
func (s *SettlementService) SignPayment(matchID string, playerID, amount int64) string {
	h := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(h, "%s:%d:%d", matchID, playerID, amount)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyPaymentSignature проверяет подпись выплаты
func (s *SettlementService) VerifyPaymentSignature(p *domain.Payment, signature string) bool {
	expected := s.SignPayment(p.MatchID, p.PlayerID, p.Amount)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SettleMatch проводит расчет доигранного матча. Повторные вызовы для
// того же матча - no-op: одношотовый флаг StatsUpdated плюс проверка
// уже записанных выплат (рестарт процесса).
func (s *SettlementService) SettleMatch(ctx context.Context, m *domain.Match) error {
	if m.Status != domain.MatchFinished {
		return fmt.Errorf("%w: матч %s не завершен", ErrInvalidState, m.ID)
	}

	s.mu.Lock()
	if m.StatsUpdated || s.settled[m.ID] {
		s.mu.Unlock()
		return nil
	}
	s.settled[m.ID] = true
	m.StatsUpdated = true
	s.mu.Unlock()

	// запись нужна только на время расчета: дальше дубли режут флаг
	// StatsUpdated и проверка уже записанных выплат. Вечные записи
	// копили бы память по матчу за матчем.
	defer func() {
		s.mu.Lock()
		delete(s.settled, m.ID)
		s.mu.Unlock()
	}()

	// защита от повторного расчета через рестарт процесса
	if exists, err := s.payments.ExistsForMatch(ctx, m.ID); err != nil {
		return fmt.Errorf("проверка выплат матча: %w", err)
	} else if exists {
		logger.Get().Warn("расчет пропущен: выплаты по матчу уже записаны", "match", m.ID)
		return nil
	}

	preset, err := game.PresetFor(m.RoomType)
	if err != nil {
		return err
	}

	winners := Winners(m)
	winnerIDs := make(map[int64]bool, len(winners))
	for _, w := range winners {
		winnerIDs[w.ID] = true
	}

	// статистика по всем участникам, включая вышедших
	for _, p := range m.AllPlayers {
		if err := s.stats.ApplyMatchResult(ctx, p.ID, p.Name, p.Score, winnerIDs[p.ID]); err != nil {
			logger.Get().Error("не удалось обновить статистику игрока",
				"match", m.ID, "player", p.ID, "error", err)
		}
	}

	if preset.EntryFee > 0 && len(winners) > 0 {
		if err := s.createPayouts(ctx, m, preset, winners); err != nil {
			return err
		}
	}

	metrics.MatchesFinished.Inc()
	logger.Get().Info("матч рассчитан",
		"match", m.ID, "room_type", m.RoomType, "winners", len(winners), "players", len(m.AllPlayers))
	return nil
}

// делит банк между победителями и пишет подписанные выплаты
func (s *SettlementService) createPayouts(ctx context.Context, m *domain.Match, preset *game.RoomPreset, winners []*domain.Player) error {
	pot := preset.EntryFee * int64(len(m.AllPlayers))
	fee := pot * int64(preset.PlatformFeePct) / 100
	// остаток целочисленного деления остается платформе
	perWinner := (pot - fee) / int64(len(winners))
	if perWinner <= 0 {
		return nil
	}

	for _, w := range winners {
		payment := &domain.Payment{
			ID:        uuid.New().String(),
			MatchID:   m.ID,
			PlayerID:  w.ID,
			Amount:    perWinner,
			Currency:  preset.Currency,
			Status:    domain.PaymentStatusPending,
			Signature: s.SignPayment(m.ID, w.ID, perWinner),
		}
		// денежная запись: ошибка здесь - ошибка всего расчета
		if err := s.payments.Create(ctx, payment); err != nil {
			return fmt.Errorf("запись выплаты игроку %d: %w", w.ID, err)
		}

		s.writeAudit(ctx, w.ID, domain.AuditActionPayoutCreated, map[string]interface{}{
			"match_id":   m.ID,
			"payment_id": payment.ID,
			"amount":     perWinner,
			"currency":   string(preset.Currency),
		})
	}
	return nil
}

// ClaimWinnings выдает выигрыш по подписанной записи выплаты.
// Кастодиальные валюты зачисляются на баланс сразу; ton-выплаты
// переходят в claimed и уходят в очередь отправки.
func (s *SettlementService) ClaimWinnings(ctx context.Context, playerID int64, matchID, signature string) (*domain.Payment, error) {
	payment, err := s.payments.GetByMatchAndPlayer(ctx, matchID, playerID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("выплата для игрока %d в матче %s не найдена", playerID, matchID)
	}

	if !s.VerifyPaymentSignature(payment, signature) {
		return nil, fmt.Errorf("неверная подпись выплаты %s", payment.ID)
	}

	ok, err := s.payments.MarkClaimed(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// уже востребована - идемпотентный исход
		return payment, nil
	}
	payment.Status = domain.PaymentStatusClaimed

	switch payment.Currency {
	case domain.CurrencyStars:
		if _, err := s.balances.UpdateStars(ctx, playerID, payment.Amount); err != nil {
			return nil, fmt.Errorf("зачисление stars: %w", err)
		}
	case domain.CurrencyPoints:
		if _, err := s.balances.UpdatePoints(ctx, playerID, payment.Amount); err != nil {
			return nil, fmt.Errorf("зачисление points: %w", err)
		}
	}

	s.writeAudit(ctx, playerID, domain.AuditActionPayoutClaimed, map[string]interface{}{
		"match_id":   matchID,
		"payment_id": payment.ID,
		"amount":     payment.Amount,
	})
	logger.Get().Info("выигрыш востребован",
		"payment", payment.ID, "match", matchID, "player", playerID, "amount", payment.Amount)
	return payment, nil
}

// ListWinnings возвращает невостребованные выплаты игрока
func (s *SettlementService) ListWinnings(ctx context.Context, playerID int64) ([]*domain.Payment, error) {
	return s.payments.ListPendingByPlayer(ctx, playerID)
}

func (s *SettlementService) writeAudit(ctx context.Context, userID int64, action string, details map[string]interface{}) {
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
