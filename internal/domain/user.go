package domain

import "time"

type User struct {
	ID        int64     `db:"id" json:"id"`
	TgID      int64     `db:"tg_id" json:"tg_id"`
	Username  string    `db:"username" json:"username"`
	FirstName string    `db:"first_name" json:"first_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Points    int64     `db:"points" json:"points"` // f2p валюта для free комнат
	Stars     int64     `db:"stars" json:"stars"`   // Telegram Stars, кастодиальный баланс
}

// Валюты расчета за вход в комнату
type Currency string

const (
	CurrencyPoints Currency = "points"
	CurrencyStars  Currency = "stars"
	CurrencyTON    Currency = "ton"
)
