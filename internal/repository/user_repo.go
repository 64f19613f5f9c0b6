package repository

import (
	"context"
	"errors"

	"tapduel/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrInsufficientBalance = errors.New("недостаточно средств")

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// получает пользователя по внутреннему id
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, tg_id, username, first_name, created_at, points, stars
		FROM users
		WHERE id = $1
	`, id)

	var u domain.User
	if err := row.Scan(&u.ID, &u.TgID, &u.Username, &u.FirstName, &u.CreatedAt, &u.Points, &u.Stars); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// находит или создает пользователя по telegram id
func (r *UserRepository) GetOrCreateByTg(ctx context.Context, tgID int64, username, firstName string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `
		INSERT INTO users (tg_id, username, first_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (tg_id) DO UPDATE SET
			username = EXCLUDED.username,
			first_name = EXCLUDED.first_name
		RETURNING id, tg_id, username, first_name, created_at, points, stars
	`, tgID, username, firstName)

	var u domain.User
	if err := row.Scan(&u.ID, &u.TgID, &u.Username, &u.FirstName, &u.CreatedAt, &u.Points, &u.Stars); err != nil {
		return nil, err
	}
	return &u, nil
}

// UpdateStars атомарно меняет баланс stars. Списание с проверкой
// достаточности прямо в UPDATE - уйти в минус нельзя.
func (r *UserRepository) UpdateStars(ctx context.Context, userID, delta int64) (int64, error) {
	var newBalance int64
	err := r.db.QueryRow(ctx, `
		UPDATE users SET stars = stars + $2
		WHERE id = $1 AND stars + $2 >= 0
		RETURNING stars
	`, userID, delta).Scan(&newBalance)
	if err == pgx.ErrNoRows {
		return 0, ErrInsufficientBalance
	}
	return newBalance, err
}

// UpdatePoints атомарно меняет f2p баланс
func (r *UserRepository) UpdatePoints(ctx context.Context, userID, delta int64) (int64, error) {
	var newBalance int64
	err := r.db.QueryRow(ctx, `
		UPDATE users SET points = points + $2
		WHERE id = $1 AND points + $2 >= 0
		RETURNING points
	`, userID, delta).Scan(&newBalance)
	if err == pgx.ErrNoRows {
		return 0, ErrInsufficientBalance
	}
	return newBalance, err
}
