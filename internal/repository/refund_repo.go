package repository

import (
	"context"

	"tapduel/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RefundRepository struct {
	db *pgxpool.Pool
}

func NewRefundRepository(db *pgxpool.Pool) *RefundRepository {
	return &RefundRepository{db: db}
}

func scanRefund(row pgx.Row) (*domain.Refund, error) {
	var rf domain.Refund
	if err := row.Scan(&rf.ID, &rf.JoinIntentID, &rf.AmountNano, &rf.ToAddress,
		&rf.Status, &rf.Reason, &rf.TxHash, &rf.CreatedAt, &rf.SentAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rf, nil
}

// возврат по интенту; уникальное ограничение гарантирует не больше одного
func (r *RefundRepository) GetByIntentID(ctx context.Context, intentID string) (*domain.Refund, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, join_intent_id, amount_nano, to_address, status, reason, COALESCE(tx_hash, ''), created_at, sent_at
		FROM refunds
		WHERE join_intent_id = $1
	`, intentID)
	return scanRefund(row)
}

func (r *RefundRepository) GetByID(ctx context.Context, id string) (*domain.Refund, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, join_intent_id, amount_nano, to_address, status, reason, COALESCE(tx_hash, ''), created_at, sent_at
		FROM refunds
		WHERE id = $1
	`, id)
	return scanRefund(row)
}

// создает запись возврата
func (r *RefundRepository) Create(ctx context.Context, rf *domain.Refund) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO refunds (id, join_intent_id, amount_nano, to_address, status, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, rf.ID, rf.JoinIntentID, rf.AmountNano, rf.ToAddress, rf.Status, rf.Reason).Scan(&rf.CreatedAt)
}

// помечает возврат отправленным с хэшем транзакции
func (r *RefundRepository) MarkSent(ctx context.Context, id, txHash string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE refunds SET status = $2, tx_hash = $3, sent_at = NOW()
		WHERE id = $1
	`, id, domain.RefundStatusSent, txHash)
	return err
}

// помечает возврат неудавшимся; после ручного разбора оператор может
// перевести его обратно в pending прямо в базе
func (r *RefundRepository) MarkFailed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE refunds SET status = $2 WHERE id = $1
	`, id, domain.RefundStatusFailed)
	return err
}

// возвраты в ожидании отправки, старые первыми
func (r *RefundRepository) ListPending(ctx context.Context, limit int) ([]*domain.Refund, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, join_intent_id, amount_nano, to_address, status, reason, COALESCE(tx_hash, ''), created_at, sent_at
		FROM refunds
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`, domain.RefundStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Refund
	for rows.Next() {
		var rf domain.Refund
		if err := rows.Scan(&rf.ID, &rf.JoinIntentID, &rf.AmountNano, &rf.ToAddress,
			&rf.Status, &rf.Reason, &rf.TxHash, &rf.CreatedAt, &rf.SentAt); err != nil {
			return nil, err
		}
		out = append(out, &rf)
	}
	return out, rows.Err()
}
