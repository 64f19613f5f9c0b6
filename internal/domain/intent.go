package domain

import "time"

// Статус интента. Разрешенные переходы:
// CREATED -> PAID, CREATED -> CANCELLED, PAID -> REFUNDED.
// Любой другой переход - жесткая ошибка.
type IntentStatus string

const (
	IntentCreated   IntentStatus = "CREATED"
	IntentPaid      IntentStatus = "PAID"
	IntentCancelled IntentStatus = "CANCELLED"
	IntentRefunded  IntentStatus = "REFUNDED"
)

// Намерение игрока внести депозит за вход в ton комнату.
// Nonce - единственный ключ корреляции с транзакцией в блокчейне.
type JoinIntent struct {
	ID            string       `db:"id" json:"id"`
	MatchID       *string      `db:"match_id" json:"match_id,omitempty"`
	OnChainRoomID *uint64      `db:"on_chain_room_id" json:"on_chain_room_id,omitempty"`
	PlayerID      int64        `db:"player_id" json:"player_id"`
	WalletID      int64        `db:"wallet_id" json:"wallet_id"`
	RoomType      RoomType     `db:"room_type" json:"room_type"`
	StakeNano     int64        `db:"stake_nano" json:"stake_nano"`
	Nonce         string       `db:"nonce" json:"nonce"` // 64 hex символа
	Status        IntentStatus `db:"status" json:"status"`
	ExpiresAt     time.Time    `db:"expires_at" json:"expires_at"`
	CreatedAt     time.Time    `db:"created_at" json:"created_at"`
	PaidAt        *time.Time   `db:"paid_at" json:"paid_at,omitempty"`
}

// проверяет, истек ли интент
func (i *JoinIntent) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// Параметры платежа, которые фронтенд подставляет в TON Connect
type PaymentParams struct {
	Destination string `json:"destination"` // адрес escrow контракта
	AmountNano  int64  `json:"amount_nano"` // stake + газовый резерв
	Comment     string `json:"comment"`     // join:<roomId>:<nonce>
}
