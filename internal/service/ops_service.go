package service

import (
	"context"
	"fmt"
	"time"

	"tapduel/internal/domain"
	"tapduel/internal/repository"
	"tapduel/internal/ton"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// statsQuerier - ровно то, что нужно сводке; удовлетворяется pgxpool.Pool
type statsQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OpsService - операции дежурного через телеграм-бота: статистика
// платформы, разбор интентов и отправка возвратов
type OpsService struct {
	db      statsQuerier
	intents *repository.IntentRepository
	refunds *repository.RefundRepository
	wallet  *ton.Wallet // горячий кошелек для возвратов, может отсутствовать
}

func NewOpsService(db *pgxpool.Pool) *OpsService {
	return &OpsService{
		db:      db,
		intents: repository.NewIntentRepository(db),
		refunds: repository.NewRefundRepository(db),
	}
}

func (s *OpsService) SetWallet(wallet *ton.Wallet) {
	s.wallet = wallet
}

type OpsStats struct {
	TotalUsers      int64 `json:"total_users"`
	TotalMatches    int64 `json:"total_matches"`
	MatchesToday    int64 `json:"matches_today"`
	IntentsCreated  int64 `json:"intents_created"`
	IntentsPaid     int64 `json:"intents_paid"`
	DepositedNano   int64 `json:"deposited_nano"`
	PendingRefunds  int64 `json:"pending_refunds"`
	RefundedNano    int64 `json:"refunded_nano"`
	UnclaimedPayout int64 `json:"unclaimed_payouts"`
}

// Stats собирает сводку платформы. Каждый счетчик best-effort:
// упавший запрос оставляет ноль, сводка уходит целиком.
func (s *OpsService) Stats(ctx context.Context) (*OpsStats, error) {
	stats := &OpsStats{}
	today := time.Now().Truncate(24 * time.Hour)

	_ = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&stats.TotalUsers)

	_ = s.db.QueryRow(ctx, `SELECT COUNT(*) FROM matches`).Scan(&stats.TotalMatches)

	_ = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM matches WHERE created_at >= $1
	`, today).Scan(&stats.MatchesToday)

	_ = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM join_intents WHERE status = $1
	`, domain.IntentCreated).Scan(&stats.IntentsCreated)

	_ = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM join_intents WHERE status = $1
	`, domain.IntentPaid).Scan(&stats.IntentsPaid)

	_ = s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_nano), 0) FROM deposit_txs
	`).Scan(&stats.DepositedNano)

	_ = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM refunds WHERE status = $1
	`, domain.RefundStatusPending).Scan(&stats.PendingRefunds)

	_ = s.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_nano), 0) FROM refunds WHERE status = $1
	`, domain.RefundStatusSent).Scan(&stats.RefundedNano)

	_ = s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM payments WHERE status = $1
	`, domain.PaymentStatusPending).Scan(&stats.UnclaimedPayout)

	return stats, nil
}

func (s *OpsService) GetIntent(ctx context.Context, id string) (*domain.JoinIntent, error) {
	return s.intents.GetByID(ctx, id)
}

func (s *OpsService) PendingRefunds(ctx context.Context, limit int) ([]*domain.Refund, error) {
	return s.refunds.ListPending(ctx, limit)
}

// SendRefund отправляет возврат с горячего кошелька и помечает запись.
// Неудачная отправка переводит возврат в failed - на ручной разбор,
// иначе ретраи льют деньги дважды.
func (s *OpsService) SendRefund(ctx context.Context, refundID string) (string, error) {
	if s.wallet == nil {
		return "", fmt.Errorf("горячий кошелек не настроен, возврат только вручную")
	}

	rf, err := s.refunds.GetByID(ctx, refundID)
	if err != nil {
		return "", err
	}
	if rf == nil {
		return "", fmt.Errorf("возврат %s не найден", refundID)
	}
	if rf.Status != domain.RefundStatusPending {
		return "", fmt.Errorf("возврат %s уже в статусе %s", refundID, rf.Status)
	}

	comment := "refund:" + rf.JoinIntentID
	result, err := s.wallet.SendTON(ctx, rf.ToAddress, uint64(rf.AmountNano), comment)
	if err != nil {
		_ = s.refunds.MarkFailed(ctx, refundID)
		return "", fmt.Errorf("отправка возврата %s: %w", refundID, err)
	}

	if err := s.refunds.MarkSent(ctx, refundID, result.TxHash); err != nil {
		// деньги ушли, запись не обновилась - громко, это ручной разбор
		return result.TxHash, fmt.Errorf("возврат %s отправлен (tx %s), но не помечен в базе: %w", refundID, result.TxHash, err)
	}
	return result.TxHash, nil
}

// MarkRefundSent фиксирует возврат, отправленный оператором вручную
func (s *OpsService) MarkRefundSent(ctx context.Context, refundID, txHash string) error {
	rf, err := s.refunds.GetByID(ctx, refundID)
	if err != nil {
		return err
	}
	if rf == nil {
		return fmt.Errorf("возврат %s не найден", refundID)
	}
	if rf.Status == domain.RefundStatusSent {
		return fmt.Errorf("возврат %s уже отправлен (tx %s)", refundID, rf.TxHash)
	}
	return s.refunds.MarkSent(ctx, refundID, txHash)
}
