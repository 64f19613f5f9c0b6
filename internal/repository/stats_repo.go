package repository

import (
	"context"
	"errors"
	"fmt"

	"tapduel/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type StatsRepository struct {
	db *pgxpool.Pool
}

func NewStatsRepository(db *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{db: db}
}

// ApplyMatchResult инкрементит статистику игрока по итогам матча
func (r *StatsRepository) ApplyMatchResult(ctx context.Context, playerID int64, name string, score int, won bool) error {
	wins := 0
	if won {
		wins = 1
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO player_stats (player_id, name, games_played, wins, total_score, updated_at)
		VALUES ($1, $2, 1, $3, $4, NOW())
		ON CONFLICT (player_id) DO UPDATE SET
			name = EXCLUDED.name,
			games_played = player_stats.games_played + 1,
			wins = player_stats.wins + $3,
			total_score = player_stats.total_score + $4,
			updated_at = NOW()
	`, playerID, name, wins, score)
	return err
}

// GetByPlayer возвращает накопленную статистику игрока, nil если игрок
// еще не сыграл ни одного матча
func (r *StatsRepository) GetByPlayer(ctx context.Context, playerID int64) (*domain.PlayerStats, error) {
	row := r.db.QueryRow(ctx, `
		SELECT player_id, name, games_played, wins, total_score, updated_at
		FROM player_stats
		WHERE player_id = $1
	`, playerID)

	var s domain.PlayerStats
	if err := row.Scan(&s.PlayerID, &s.Name, &s.GamesPlayed, &s.Wins, &s.TotalScore, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Сортировки лидерборда
const (
	LeaderboardByWins    = "wins"
	LeaderboardByScore   = "score"
	LeaderboardByWinRate = "winrate"
)

// Top возвращает лидерборд. Для win-rate требуется минимум 3 игры,
// иначе одна случайная победа дает 100%.
func (r *StatsRepository) Top(ctx context.Context, sortBy string, limit int) ([]*domain.PlayerStats, error) {
	var query string
	switch sortBy {
	case LeaderboardByScore:
		query = `
			SELECT player_id, name, games_played, wins, total_score, updated_at
			FROM player_stats
			ORDER BY total_score DESC, wins DESC
			LIMIT $1`
	case LeaderboardByWinRate:
		query = `
			SELECT player_id, name, games_played, wins, total_score, updated_at
			FROM player_stats
			WHERE games_played >= 3
			ORDER BY wins::float / games_played DESC, games_played DESC
			LIMIT $1`
	case LeaderboardByWins:
		query = `
			SELECT player_id, name, games_played, wins, total_score, updated_at
			FROM player_stats
			ORDER BY wins DESC, total_score DESC
			LIMIT $1`
	default:
		return nil, fmt.Errorf("неизвестная сортировка лидерборда: %s", sortBy)
	}

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PlayerStats
	for rows.Next() {
		var s domain.PlayerStats
		if err := rows.Scan(&s.PlayerID, &s.Name, &s.GamesPlayed, &s.Wins, &s.TotalScore, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
