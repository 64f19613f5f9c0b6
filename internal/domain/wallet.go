package domain

import "time"

// Подключенный TON кошелек, один на пользователя
type Wallet struct {
	ID                 int64     `db:"id" json:"id"`
	UserID             int64     `db:"user_id" json:"user_id"`
	Address            string    `db:"address" json:"address"`
	RawAddress         string    `db:"raw_address" json:"raw_address,omitempty"`
	LinkedAt           time.Time `db:"linked_at" json:"linked_at"`
	IsVerified         bool      `db:"is_verified" json:"is_verified"`
	LastProofTimestamp int64     `db:"last_proof_timestamp" json:"last_proof_timestamp,omitempty"`
}

// Обработанная on-chain транзакция депозита. Уникальность tx_hash и
// join_intent_id - это защита от повторной обработки одного депозита
// и от оплаты двух интентов одной транзакцией.
type DepositTx struct {
	ID           int64     `db:"id" json:"id"`
	TxHash       string    `db:"tx_hash" json:"tx_hash"`
	JoinIntentID string    `db:"join_intent_id" json:"join_intent_id"`
	FromAddress  string    `db:"from_address" json:"from_address"`
	ToAddress    string    `db:"to_address" json:"to_address"`
	AmountNano   int64     `db:"amount_nano" json:"amount_nano"`
	Lt           int64     `db:"lt" json:"lt"`
	ConfirmedAt  time.Time `db:"confirmed_at" json:"confirmed_at"`
}

// Возврат депозита при выходе игрока до старта матча.
// Не больше одного возврата на интент.
type Refund struct {
	ID           string       `db:"id" json:"id"`
	JoinIntentID string       `db:"join_intent_id" json:"join_intent_id"`
	AmountNano   int64        `db:"amount_nano" json:"amount_nano"`
	ToAddress    string       `db:"to_address" json:"to_address"`
	Status       RefundStatus `db:"status" json:"status"`
	Reason       RefundReason `db:"reason" json:"reason"`
	TxHash       string       `db:"tx_hash" json:"tx_hash,omitempty"`
	CreatedAt    time.Time    `db:"created_at" json:"created_at"`
	SentAt       *time.Time   `db:"sent_at" json:"sent_at,omitempty"`
}

type RefundStatus string

const (
	RefundStatusPending RefundStatus = "pending"
	RefundStatusSent    RefundStatus = "sent"
	RefundStatusFailed  RefundStatus = "failed"
)

type RefundReason string

const (
	RefundReasonPlayerLeft     RefundReason = "player_left"
	RefundReasonMatchCancelled RefundReason = "match_cancelled"
)

// Курсор сканирования блокчейна. Одна строка на тип воркера,
// переживает рестарт процесса.
type WorkerState struct {
	WorkerType    string    `db:"worker_type" json:"worker_type"`
	LastCheckedLt int64     `db:"last_checked_lt" json:"last_checked_lt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}
