package domain

import "time"

// Статус выплаты выигрыша
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusClaimed PaymentStatus = "claimed"
	PaymentStatusSent    PaymentStatus = "sent"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Подписанная запись о выплате победителю. Signature - HMAC от
// (match_id, player_id, amount), проверяется при claim.
type Payment struct {
	ID        string        `db:"id" json:"id"`
	MatchID   string        `db:"match_id" json:"match_id"`
	PlayerID  int64         `db:"player_id" json:"player_id"`
	Amount    int64         `db:"amount" json:"amount"` // нано для ton, целые для points/stars
	Currency  Currency      `db:"currency" json:"currency"`
	Status    PaymentStatus `db:"status" json:"status"`
	Signature string        `db:"signature" json:"signature"`
	TxHash    string        `db:"tx_hash" json:"tx_hash,omitempty"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	ClaimedAt *time.Time    `db:"claimed_at" json:"claimed_at,omitempty"`
}

// Накопленная статистика игрока для лидерборда
type PlayerStats struct {
	PlayerID    int64     `db:"player_id" json:"player_id"`
	Name        string    `db:"name" json:"name"`
	GamesPlayed int64     `db:"games_played" json:"games_played"`
	Wins        int64     `db:"wins" json:"wins"`
	TotalScore  int64     `db:"total_score" json:"total_score"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// доля побед; для рейтинга по win-rate требуется минимум 3 игры
func (s *PlayerStats) WinRate() float64 {
	if s.GamesPlayed == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.GamesPlayed)
}
