package domain

import "time"

// Журнал важных действий, в первую очередь движение денег
type AuditLog struct {
	ID        int64                  `db:"id" json:"id"`
	UserID    int64                  `db:"user_id" json:"user_id"`
	Action    string                 `db:"action" json:"action"`
	Category  string                 `db:"category" json:"category"`
	Details   map[string]interface{} `db:"details" json:"details"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}

const (
	AuditCategoryMatch   = "match"
	AuditCategoryPayment = "payment"
)

const (
	AuditActionMatchStarted  = "match_started"
	AuditActionMatchFinished = "match_finished"

	AuditActionIntentCreated  = "intent_created"
	AuditActionIntentPaid     = "intent_paid"
	AuditActionRefundCreated  = "refund_created"
	AuditActionPayoutCreated  = "payout_created"
	AuditActionPayoutClaimed  = "payout_claimed"
	AuditActionStarsDebited   = "stars_debited"
	AuditActionStarsCredited  = "stars_credited"
)
