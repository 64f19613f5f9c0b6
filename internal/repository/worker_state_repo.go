package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Один ряд курсора на тип воркера. Курсор сканирования блокчейна
// двигается строго вперед и переживает рестарты.
type WorkerStateRepository struct {
	db *pgxpool.Pool
}

func NewWorkerStateRepository(db *pgxpool.Pool) *WorkerStateRepository {
	return &WorkerStateRepository{db: db}
}

// последний обработанный lt; 0 если воркер еще не запускался
func (r *WorkerStateRepository) GetLastCheckedLt(ctx context.Context, workerType string) (int64, error) {
	var lt int64
	err := r.db.QueryRow(ctx, `
		SELECT last_checked_lt FROM worker_state WHERE worker_type = $1
	`, workerType).Scan(&lt)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	return lt, err
}

// SetLastCheckedLtTx двигает курсор внутри транзакции воркера - атомарно
// с платежными записями, которые этот курсор покрывает
func (r *WorkerStateRepository) SetLastCheckedLtTx(ctx context.Context, tx pgx.Tx, workerType string, lt int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO worker_state (worker_type, last_checked_lt, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_type)
		DO UPDATE SET last_checked_lt = GREATEST(worker_state.last_checked_lt, $2), updated_at = NOW()
	`, workerType, lt)
	return err
}

// SetLastCheckedLt двигает курсор вне транзакции (пустой батч)
func (r *WorkerStateRepository) SetLastCheckedLt(ctx context.Context, workerType string, lt int64) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO worker_state (worker_type, last_checked_lt, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_type)
		DO UPDATE SET last_checked_lt = GREATEST(worker_state.last_checked_lt, $2), updated_at = NOW()
	`, workerType, lt)
	return err
}
