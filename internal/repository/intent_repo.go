package repository

import (
	"context"
	"fmt"
	"time"

	"tapduel/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type IntentRepository struct {
	db *pgxpool.Pool
}

func NewIntentRepository(db *pgxpool.Pool) *IntentRepository {
	return &IntentRepository{db: db}
}

const intentColumns = `id, match_id, on_chain_room_id, player_id, wallet_id, room_type,
	stake_nano, nonce, status, expires_at, created_at, paid_at`

func scanIntent(row pgx.Row) (*domain.JoinIntent, error) {
	var i domain.JoinIntent
	var roomID *int64

	if err := row.Scan(
		&i.ID, &i.MatchID, &roomID, &i.PlayerID, &i.WalletID, &i.RoomType,
		&i.StakeNano, &i.Nonce, &i.Status, &i.ExpiresAt, &i.CreatedAt, &i.PaidAt,
	); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	if roomID != nil {
		v := uint64(*roomID)
		i.OnChainRoomID = &v
	}
	return &i, nil
}

// создает новый интент. Уникальный nonce и частичный индекс
// (player_id, room_type) WHERE status = 'CREATED' держат
// идемпотентность на уровне базы: конкурентные ретраи клиента дают
// нарушение уникальности, не второй ряд.
func (r *IntentRepository) Create(ctx context.Context, i *domain.JoinIntent) error {
	var roomID *int64
	if i.OnChainRoomID != nil {
		v := int64(*i.OnChainRoomID)
		roomID = &v
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO join_intents (id, match_id, on_chain_room_id, player_id, wallet_id,
			room_type, stake_nano, nonce, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, i.ID, i.MatchID, roomID, i.PlayerID, i.WalletID,
		i.RoomType, i.StakeNano, i.Nonce, i.Status, i.ExpiresAt, i.CreatedAt)
	return err
}

// получает интент по id
func (r *IntentRepository) GetByID(ctx context.Context, id string) (*domain.JoinIntent, error) {
	row := r.db.QueryRow(ctx, `SELECT `+intentColumns+` FROM join_intents WHERE id = $1`, id)
	return scanIntent(row)
}

// активный (CREATED, не истекший) интент игрока для типа комнаты -
// основа идемпотентности создания
func (r *IntentRepository) GetActive(ctx context.Context, playerID int64, roomType domain.RoomType, now time.Time) (*domain.JoinIntent, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+intentColumns+`
		FROM join_intents
		WHERE player_id = $1 AND room_type = $2 AND status = $3 AND expires_at > $4
		ORDER BY created_at DESC
		LIMIT 1
	`, playerID, roomType, domain.IntentCreated, now)
	return scanIntent(row)
}

// ищет активный интент по nonce из комментария транзакции
func (r *IntentRepository) GetActiveByNonce(ctx context.Context, nonce string, now time.Time) (*domain.JoinIntent, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+intentColumns+`
		FROM join_intents
		WHERE nonce = $1 AND status = $2 AND expires_at > $3
	`, nonce, domain.IntentCreated, now)
	return scanIntent(row)
}

// ищет PAID интент игрока, привязанный к конкретному матчу
func (r *IntentRepository) GetPaidForMatch(ctx context.Context, playerID int64, matchID string) (*domain.JoinIntent, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+intentColumns+`
		FROM join_intents
		WHERE player_id = $1 AND match_id = $2 AND status = $3
	`, playerID, matchID, domain.IntentPaid)
	return scanIntent(row)
}

// свежайший PAID интент игрока для типа комнаты - вход в ton матч
// после подтверждения депозита
func (r *IntentRepository) GetPaidByPlayer(ctx context.Context, playerID int64, roomType domain.RoomType) (*domain.JoinIntent, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+intentColumns+`
		FROM join_intents
		WHERE player_id = $1 AND room_type = $2 AND status = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, playerID, roomType, domain.IntentPaid)
	return scanIntent(row)
}

// ищет интент игрока для матча, по которому прошел депозит
// (PAID или уже REFUNDED) - нужен идемпотентному оформлению возврата
func (r *IntentRepository) GetDepositedForMatch(ctx context.Context, playerID int64, matchID string) (*domain.JoinIntent, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+intentColumns+`
		FROM join_intents
		WHERE player_id = $1 AND match_id = $2 AND status IN ($3, $4)
	`, playerID, matchID, domain.IntentPaid, domain.IntentRefunded)
	return scanIntent(row)
}

// Transition переводит интент из from в to. Условие по текущему статусу
// прямо в UPDATE - это и есть защита от недопустимых переходов под
// конкурентными вызовами. false - переход не случился.
func (r *IntentRepository) Transition(ctx context.Context, id string, from, to domain.IntentStatus) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE join_intents SET status = $3,
			paid_at = CASE WHEN $3 = 'PAID' THEN NOW() ELSE paid_at END
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TransitionTx - то же, но внутри внешней транзакции (воркер депозитов)
func (r *IntentRepository) TransitionTx(ctx context.Context, tx pgx.Tx, id string, from, to domain.IntentStatus) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE join_intents SET status = $3,
			paid_at = CASE WHEN $3 = 'PAID' THEN NOW() ELSE paid_at END
		WHERE id = $1 AND status = $2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// CancelExpired переводит все просроченные CREATED интенты в CANCELLED,
// возвращает число затронутых
func (r *IntentRepository) CancelExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE join_intents SET status = $1
		WHERE status = $2 AND expires_at <= $3
	`, domain.IntentCancelled, domain.IntentCreated, now)
	if err != nil {
		return 0, fmt.Errorf("не удалось отменить просроченные интенты: %w", err)
	}
	return tag.RowsAffected(), nil
}
