package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tapduel/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MatchRepository хранит снимки матчей. Это историческая запись и
// источник восстановления брошенных waiting матчей, не источник истины
// для живой игры.
type MatchRepository struct {
	db *pgxpool.Pool
}

func NewMatchRepository(db *pgxpool.Pool) *MatchRepository {
	return &MatchRepository{db: db}
}

// SaveMatch апсертит матч и его игроков
func (r *MatchRepository) SaveMatch(ctx context.Context, m *domain.Match) error {
	roundsJSON, err := json.Marshal(m.RoundResults)
	if err != nil {
		roundsJSON = []byte("[]")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO matches (id, room_type, status, current_round, round_results,
			stats_updated, on_chain_room_id, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			current_round = EXCLUDED.current_round,
			round_results = EXCLUDED.round_results,
			stats_updated = EXCLUDED.stats_updated,
			on_chain_room_id = EXCLUDED.on_chain_room_id,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`, m.ID, m.RoomType, m.Status, m.CurrentRound, roundsJSON,
		m.StatsUpdated, int64(m.OnChainRoomID), m.CreatedAt, m.StartedAt, m.FinishedAt)
	if err != nil {
		return fmt.Errorf("не удалось сохранить матч: %w", err)
	}

	for _, p := range m.AllPlayers {
		active := m.FindPlayer(p.ID) != nil
		_, err = tx.Exec(ctx, `
			INSERT INTO match_players (match_id, player_id, name, score, active)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (match_id, player_id) DO UPDATE SET
				score = EXCLUDED.score,
				active = EXCLUDED.active
		`, m.ID, p.ID, p.Name, p.Score, active)
		if err != nil {
			return fmt.Errorf("не удалось сохранить игрока матча: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// DeleteMatch удаляет запись матча (брошенные пустые waiting комнаты)
func (r *MatchRepository) DeleteMatch(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM matches WHERE id = $1`, id)
	return err
}

// FindWaitingMatches возвращает waiting матчи типа с игроками,
// старые первыми
func (r *MatchRepository) FindWaitingMatches(ctx context.Context, roomType domain.RoomType) ([]*domain.Match, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, room_type, status, current_round, round_results,
			stats_updated, on_chain_room_id, created_at, started_at, finished_at
		FROM matches
		WHERE room_type = $1 AND status = $2
		ORDER BY created_at
		LIMIT 20
	`, roomType, domain.MatchWaiting)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Match
	for rows.Next() {
		m, err := scanMatchRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, m := range out {
		if err := r.loadPlayers(ctx, m); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetByID возвращает сохраненный матч с игроками, nil если нет
func (r *MatchRepository) GetByID(ctx context.Context, id string) (*domain.Match, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, room_type, status, current_round, round_results,
			stats_updated, on_chain_room_id, created_at, started_at, finished_at
		FROM matches
		WHERE id = $1
	`, id)

	m, err := scanMatchRow(row.Scan)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}
	if err := r.loadPlayers(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func scanMatchRow(scan func(dest ...any) error) (*domain.Match, error) {
	var m domain.Match
	var roundsJSON []byte
	var roomID int64

	if err := scan(&m.ID, &m.RoomType, &m.Status, &m.CurrentRound, &roundsJSON,
		&m.StatsUpdated, &roomID, &m.CreatedAt, &m.StartedAt, &m.FinishedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	m.OnChainRoomID = uint64(roomID)
	if len(roundsJSON) > 0 {
		_ = json.Unmarshal(roundsJSON, &m.RoundResults)
	}
	return &m, nil
}

func (r *MatchRepository) loadPlayers(ctx context.Context, m *domain.Match) error {
	rows, err := r.db.Query(ctx, `
		SELECT player_id, name, score, active
		FROM match_players
		WHERE match_id = $1
		ORDER BY id
	`, m.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Player
		var active bool
		if err := rows.Scan(&p.ID, &p.Name, &p.Score, &active); err != nil {
			return err
		}
		pl := &p
		m.AllPlayers = append(m.AllPlayers, pl)
		if active {
			m.Players = append(m.Players, pl)
		}
	}
	return rows.Err()
}
