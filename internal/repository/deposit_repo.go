package repository

import (
	"context"

	"tapduel/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DepositRepository struct {
	db *pgxpool.Pool
}

func NewDepositRepository(db *pgxpool.Pool) *DepositRepository {
	return &DepositRepository{db: db}
}

// проверяет, обрабатывали ли уже транзакцию с таким хэшем
func (r *DepositRepository) TxHashExists(ctx context.Context, txHash string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM deposit_txs WHERE tx_hash = $1)
	`, txHash).Scan(&exists)
	return exists, err
}

// получает запись депозита по хэшу транзакции
func (r *DepositRepository) GetByTxHash(ctx context.Context, txHash string) (*domain.DepositTx, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, tx_hash, join_intent_id, from_address, to_address, amount_nano, lt, confirmed_at
		FROM deposit_txs
		WHERE tx_hash = $1
	`, txHash)

	var d domain.DepositTx
	if err := row.Scan(&d.ID, &d.TxHash, &d.JoinIntentID, &d.FromAddress, &d.ToAddress,
		&d.AmountNano, &d.Lt, &d.ConfirmedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// CreateTx пишет запись депозита внутри транзакции воркера. Уникальные
// ограничения tx_hash и join_intent_id держат идемпотентность на уровне базы.
func (r *DepositRepository) CreateTx(ctx context.Context, tx pgx.Tx, d *domain.DepositTx) error {
	return tx.QueryRow(ctx, `
		INSERT INTO deposit_txs (tx_hash, join_intent_id, from_address, to_address, amount_nano, lt, confirmed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, d.TxHash, d.JoinIntentID, d.FromAddress, d.ToAddress, d.AmountNano, d.Lt, d.ConfirmedAt).Scan(&d.ID)
}
