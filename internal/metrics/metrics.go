package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Счетчики пайплайна депозитов и игрового цикла. Экспортируются
// через /metrics стандартным promhttp хендлером.
var (
	DepositsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapduel_deposits_processed_total",
		Help: "Подтвержденные депозиты, переведшие интент в PAID",
	})

	DepositsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tapduel_deposits_rejected_total",
		Help: "Отброшенные при сверке транзакции по причинам",
	}, []string{"reason"})

	IntentsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapduel_intents_cancelled_total",
		Help: "Интенты, отмененные свипером по истечению",
	})

	RefundsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapduel_refunds_created_total",
		Help: "Оформленные возвраты депозитов",
	})

	MatchesStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapduel_matches_started_total",
		Help: "Матчи, перешедшие из waiting в playing",
	})

	MatchesFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapduel_matches_finished_total",
		Help: "Доигранные до конца матчи",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tapduel_ws_connections",
		Help: "Открытые websocket соединения",
	})

	ChainScanErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tapduel_chain_scan_errors_total",
		Help: "Неудачные обращения к TON API при сканировании",
	})
)
