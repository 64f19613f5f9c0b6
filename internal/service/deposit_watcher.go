package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tapduel/internal/domain"
	"tapduel/internal/logger"
	"tapduel/internal/metrics"
	"tapduel/internal/repository"
	"tapduel/internal/ton"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaidNotification уходит подписчикам (ws хаб), когда интент оплачен
type PaidNotification struct {
	IntentID   string
	PlayerID   int64
	MatchID    string
	TxHash     string
	AmountNano int64
}

// AnomalyNotification уходит в опс-бот: переплата, подозрительная
// транзакция, все что требует человеческого взгляда
type AnomalyNotification struct {
	Kind       string
	TxHash     string
	IntentID   string
	AmountNano int64
	Details    string
}

// ChainFeed - источник транзакций escrow адреса
type ChainFeed interface {
	GetTransactionsAfter(ctx context.Context, address string, limit int, afterLt int64) ([]ton.Transaction, error)
}

// Срезы репозиториев, нужные сверке. Денежный путь должен проверяться
// без живой базы, поэтому интерфейсы, а не конкретные типы.
type watcherIntentStore interface {
	GetByID(ctx context.Context, id string) (*domain.JoinIntent, error)
	GetActiveByNonce(ctx context.Context, nonce string, now time.Time) (*domain.JoinIntent, error)
	Transition(ctx context.Context, id string, from, to domain.IntentStatus) (bool, error)
	TransitionTx(ctx context.Context, tx pgx.Tx, id string, from, to domain.IntentStatus) (bool, error)
}

type watcherDepositStore interface {
	GetByTxHash(ctx context.Context, txHash string) (*domain.DepositTx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, d *domain.DepositTx) error
}

type watcherStateStore interface {
	GetLastCheckedLt(ctx context.Context, workerType string) (int64, error)
	SetLastCheckedLt(ctx context.Context, workerType string, lt int64) error
	SetLastCheckedLtTx(ctx context.Context, tx pgx.Tx, workerType string, lt int64) error
}

type watcherAuditStore interface {
	CreateWithTx(ctx context.Context, tx pgx.Tx, log *domain.AuditLog) error
}

// txBeginner удовлетворяется pgxpool.Pool
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

const depositWorkerType = "deposit_watcher"

const scanBatchLimit = 50

// DepositWatcher сверяет входящие on-chain депозиты с активными
// интентами и переводит оплаченные интенты в PAID. Курсор lastCheckedLt
// двигается вперед в той же транзакции БД, что и денежные записи:
// рестарт процесса продолжает сканирование, а не начинает заново.
type DepositWatcher struct {
	db          txBeginner
	feed        ChainFeed
	intentRepo  watcherIntentStore
	depositRepo watcherDepositStore
	stateRepo   watcherStateStore
	auditRepo   watcherAuditStore
	escrow      string
	interval    time.Duration

	mu              sync.Mutex
	stop            chan struct{}
	running         bool
	paidCallback    func(PaidNotification)
	anomalyCallback func(AnomalyNotification)

	now func() time.Time
}

func NewDepositWatcher(db *pgxpool.Pool, feed ChainFeed, escrowAddress string, interval time.Duration) *DepositWatcher {
	return &DepositWatcher{
		db:          db,
		feed:        feed,
		intentRepo:  repository.NewIntentRepository(db),
		depositRepo: repository.NewDepositRepository(db),
		stateRepo:   repository.NewWorkerStateRepository(db),
		auditRepo:   repository.NewAuditRepository(db),
		escrow:      escrowAddress,
		interval:    interval,
		stop:        make(chan struct{}),
		now:         time.Now,
	}
}

// Start запускает цикл опроса. Блокирует, запускать в горутине.
func (w *DepositWatcher) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	log := logger.Get()
	log.Info("запуск deposit watcher", "escrow", w.escrow, "interval", w.interval)

	w.checkDeposits()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.checkDeposits()
		case <-w.stop:
			log.Info("остановка deposit watcher")
			return
		}
	}
}

// Stop останавливает цикл опроса
func (w *DepositWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stop)
		w.running = false
	}
}

// SetPaidCallback подписывает получателя уведомлений об оплате
func (w *DepositWatcher) SetPaidCallback(cb func(PaidNotification)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.paidCallback = cb
}

// SetAnomalyCallback подписывает получателя уведомлений об аномалиях
func (w *DepositWatcher) SetAnomalyCallback(cb func(AnomalyNotification)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.anomalyCallback = cb
}

// один проход сверки: курсор -> батч транзакций -> обработка по одной.
// Падение TON API пропускает батч и ждет следующего тика, но никогда
// не роняет цикл.
func (w *DepositWatcher) checkDeposits() {
	log := logger.Get()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if w.escrow == "" {
		log.Warn("deposit watcher: escrow адрес не настроен")
		return
	}

	lastLt, err := w.stateRepo.GetLastCheckedLt(ctx, depositWorkerType)
	if err != nil {
		log.Error("deposit watcher: не удалось прочитать курсор", "error", err)
		return
	}

	txs, err := w.feed.GetTransactionsAfter(ctx, w.escrow, scanBatchLimit, lastLt)
	if err != nil {
		metrics.ChainScanErrors.Inc()
		log.Error("deposit watcher: ошибка получения транзакций", "error", err, "after_lt", lastLt)
		return
	}
	if len(txs) == 0 {
		return
	}
	log.Debug("deposit watcher: получен батч", "count", len(txs), "after_lt", lastLt)

	// высшая метка lt отброшенных транзакций; оплаты двигают курсор
	// сами, внутри своей транзакции БД
	var maxDiscardedLt int64

	for i := range txs {
		tx := &txs[i]
		if err := w.processTransaction(ctx, tx); err != nil {
			// денежный путь обязан падать громко; курсор не двигаем,
			// следующий тик попробует эту транзакцию снова
			log.Error("deposit watcher: ошибка обработки транзакции", "hash", tx.Hash, "error", err)
			return
		}
		if tx.Lt > maxDiscardedLt {
			maxDiscardedLt = tx.Lt
		}
	}

	if maxDiscardedLt > lastLt {
		if err := w.stateRepo.SetLastCheckedLt(ctx, depositWorkerType, maxDiscardedLt); err != nil {
			log.Error("deposit watcher: не удалось продвинуть курсор", "lt", maxDiscardedLt, "error", err)
		}
	}
}

// причина отбраковки транзакции при сверке; пустая строка - депозит
// валиден
func classifyDeposit(tx *ton.Transaction, intent *domain.JoinIntent, parsedRoomID uint64, escrow string, now time.Time) string {
	// сверка on-chain room id со значением интента закрывает подмену
	// комнаты и перенос депозита между комнатами
	if intent.OnChainRoomID == nil || *intent.OnChainRoomID != parsedRoomID {
		return "room_id_mismatch"
	}

	// адрес назначения берем из входящего сообщения; отсутствие данных
	// не трактуем в пользу транзакции
	if tx.InMsg == nil || tx.InMsg.Destination == nil || tx.InMsg.Destination.Address == "" {
		return "no_destination"
	}
	if !ton.SameAddress(tx.InMsg.Destination.Address, escrow) {
		return "wrong_destination"
	}

	// сумма только из value входящего сообщения: исходящие и
	// нотификационные поля подделываются внутренними переводами
	amount := tx.InMsg.Value
	if amount <= 0 {
		return "zero_amount"
	}
	if !ton.MeetsEntryFee(amount, intent.StakeNano) {
		return "amount_too_low"
	}

	// окно свежести: старые и "из будущего" депозиты отбрасываем
	blockTime := time.Unix(tx.Utime, 0)
	if now.Sub(blockTime) > ton.DepositMaxAge {
		return "stale"
	}
	if blockTime.Sub(now) > ton.DepositMaxClockSkew {
		return "future_block_time"
	}

	return ""
}

// превышает ли сумма ставку с газовым резервом настолько, что это
// стоит показать людям
func isOverpayment(amountNano, stakeNano int64) bool {
	return amountNano > stakeNano+ton.GasReserveNano+ton.AmountToleranceNano
}

// обрабатывает одну транзакцию. Возвращает ошибку только на денежном
// пути (БД недоступна и т.п.); все проверочные отбраковки - штатный
// исход, большинство транзакций на escrow адресе вообще чужие.
func (w *DepositWatcher) processTransaction(ctx context.Context, tx *ton.Transaction) error {
	log := logger.Get()

	comment := ton.ExtractComment(tx)
	if comment == "" {
		return nil
	}

	roomID, nonce, ok := ton.ParseJoinComment(comment)
	if !ok {
		metrics.DepositsRejected.WithLabelValues("malformed_comment").Inc()
		return nil
	}

	// идемпотентность: уже обработанный хэш не переобрабатываем, но
	// доводим интент до PAID, если прошлый запуск упал посередине
	existing, err := w.depositRepo.GetByTxHash(ctx, tx.Hash)
	if err != nil {
		return fmt.Errorf("проверка хэша депозита: %w", err)
	}
	if existing != nil {
		return w.ensurePaid(ctx, existing)
	}

	intent, err := w.intentRepo.GetActiveByNonce(ctx, nonce, w.now())
	if err != nil {
		return fmt.Errorf("поиск интента по nonce: %w", err)
	}
	if intent == nil {
		metrics.DepositsRejected.WithLabelValues("unknown_nonce").Inc()
		return nil
	}

	if reason := classifyDeposit(tx, intent, roomID, w.escrow, w.now()); reason != "" {
		metrics.DepositsRejected.WithLabelValues(reason).Inc()
		log.Warn("deposit watcher: транзакция отброшена",
			"reason", reason, "hash", tx.Hash, "intent", intent.ID)
		return nil
	}

	amount := tx.InMsg.Value
	if isOverpayment(amount, intent.StakeNano) {
		log.Warn("deposit watcher: аномальная переплата",
			"hash", tx.Hash, "intent", intent.ID,
			"amount_nano", amount, "stake_nano", intent.StakeNano)
		w.notifyAnomaly(AnomalyNotification{
			Kind:       "overpayment",
			TxHash:     tx.Hash,
			IntentID:   intent.ID,
			AmountNano: amount,
			Details:    fmt.Sprintf("ставка %d нано, пришло %d нано", intent.StakeNano, amount),
		})
	}

	fromAddr := ""
	if tx.InMsg.Source != nil {
		fromAddr = tx.InMsg.Source.Address
	}
	deposit := &domain.DepositTx{
		TxHash:       tx.Hash,
		JoinIntentID: intent.ID,
		FromAddress:  fromAddr,
		ToAddress:    tx.InMsg.Destination.Address,
		AmountNano:   amount,
		Lt:           tx.Lt,
		ConfirmedAt:  time.Unix(tx.Utime, 0),
	}

	// запись депозита, переход в PAID и сдвиг курсора - одна
	// транзакция БД
	dbTx, err := w.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("открытие транзакции: %w", err)
	}
	defer dbTx.Rollback(ctx)

	if err := w.depositRepo.CreateTx(ctx, dbTx, deposit); err != nil {
		return fmt.Errorf("запись депозита: %w", err)
	}

	ok, err = w.intentRepo.TransitionTx(ctx, dbTx, intent.ID, domain.IntentCreated, domain.IntentPaid)
	if err != nil {
		return fmt.Errorf("перевод интента в PAID: %w", err)
	}
	if !ok {
		// интент успел отмениться свипером между выборкой и записью
		log.Warn("deposit watcher: интент уже не CREATED, депозит не зачтен",
			"intent", intent.ID, "hash", tx.Hash)
		return nil
	}

	if err := w.stateRepo.SetLastCheckedLtTx(ctx, dbTx, depositWorkerType, tx.Lt); err != nil {
		return fmt.Errorf("сдвиг курсора: %w", err)
	}

	if err := w.auditRepo.CreateWithTx(ctx, dbTx, &domain.AuditLog{
		UserID:   intent.PlayerID,
		Action:   domain.AuditActionIntentPaid,
		Category: domain.AuditCategoryPayment,
		Details: map[string]interface{}{
			"intent_id":   intent.ID,
			"tx_hash":     tx.Hash,
			"amount_nano": amount,
		},
	}); err != nil {
		return fmt.Errorf("запись аудита: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("коммит депозита: %w", err)
	}

	metrics.DepositsProcessed.Inc()
	log.Info("deposit watcher: депозит подтвержден",
		"intent", intent.ID, "player", intent.PlayerID,
		"amount_nano", amount, "hash", tx.Hash, "lt", tx.Lt)

	w.notifyPaid(intent, tx.Hash, amount)
	return nil
}

// ensurePaid доводит интент уже записанного депозита до PAID после
// падения прошлого запуска между записью и переходом
func (w *DepositWatcher) ensurePaid(ctx context.Context, deposit *domain.DepositTx) error {
	intent, err := w.intentRepo.GetByID(ctx, deposit.JoinIntentID)
	if err != nil {
		return fmt.Errorf("поиск интента депозита: %w", err)
	}
	if intent == nil || intent.Status != domain.IntentCreated {
		return nil
	}

	ok, err := w.intentRepo.Transition(ctx, intent.ID, domain.IntentCreated, domain.IntentPaid)
	if err != nil {
		return fmt.Errorf("восстановительный перевод в PAID: %w", err)
	}
	if ok {
		logger.Get().Info("deposit watcher: интент доведен до PAID после сбоя",
			"intent", intent.ID, "hash", deposit.TxHash)
		w.notifyPaid(intent, deposit.TxHash, deposit.AmountNano)
	}
	return nil
}

func (w *DepositWatcher) notifyPaid(intent *domain.JoinIntent, txHash string, amount int64) {
	w.mu.Lock()
	cb := w.paidCallback
	w.mu.Unlock()
	if cb == nil {
		return
	}
	matchID := ""
	if intent.MatchID != nil {
		matchID = *intent.MatchID
	}
	go cb(PaidNotification{
		IntentID:   intent.ID,
		PlayerID:   intent.PlayerID,
		MatchID:    matchID,
		TxHash:     txHash,
		AmountNano: amount,
	})
}

func (w *DepositWatcher) notifyAnomaly(n AnomalyNotification) {
	w.mu.Lock()
	cb := w.anomalyCallback
	w.mu.Unlock()
	if cb != nil {
		go cb(n)
	}
}
