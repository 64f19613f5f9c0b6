package repository

import (
	"context"

	"tapduel/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// создает запись выплаты
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO payments (id, match_id, player_id, amount, currency, status, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, p.ID, p.MatchID, p.PlayerID, p.Amount, p.Currency, p.Status, p.Signature).Scan(&p.CreatedAt)
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	if err := row.Scan(&p.ID, &p.MatchID, &p.PlayerID, &p.Amount, &p.Currency,
		&p.Status, &p.Signature, &p.TxHash, &p.CreatedAt, &p.ClaimedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// выплата игроку за конкретный матч
func (r *PaymentRepository) GetByMatchAndPlayer(ctx context.Context, matchID string, playerID int64) (*domain.Payment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, match_id, player_id, amount, currency, status, signature, COALESCE(tx_hash, ''), created_at, claimed_at
		FROM payments
		WHERE match_id = $1 AND player_id = $2
	`, matchID, playerID)
	return scanPayment(row)
}

// проверяет, есть ли уже выплаты по матчу (защита от повторного расчета)
func (r *PaymentRepository) ExistsForMatch(ctx context.Context, matchID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM payments WHERE match_id = $1)
	`, matchID).Scan(&exists)
	return exists, err
}

// MarkClaimed переводит pending выплату в claimed; false если выплата
// не в pending (повторный claim)
func (r *PaymentRepository) MarkClaimed(ctx context.Context, id string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments SET status = $2, claimed_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, domain.PaymentStatusClaimed, domain.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// невостребованные выплаты игрока
func (r *PaymentRepository) ListPendingByPlayer(ctx context.Context, playerID int64) ([]*domain.Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, match_id, player_id, amount, currency, status, signature, COALESCE(tx_hash, ''), created_at, claimed_at
		FROM payments
		WHERE player_id = $1 AND status = $2
		ORDER BY created_at DESC
	`, playerID, domain.PaymentStatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.MatchID, &p.PlayerID, &p.Amount, &p.Currency,
			&p.Status, &p.Signature, &p.TxHash, &p.CreatedAt, &p.ClaimedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
