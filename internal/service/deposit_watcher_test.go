package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"tapduel/internal/domain"
	"tapduel/internal/ton"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const testEscrow = "0:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func depositTx(value int64, dest string, utime time.Time) *ton.Transaction {
	return &ton.Transaction{
		Hash:  "hash-1",
		Lt:    100,
		Utime: utime.Unix(),
		InMsg: &ton.Message{
			Value:       value,
			Destination: &ton.AccountAddress{Address: dest},
			Source:      &ton.AccountAddress{Address: "0:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"},
		},
	}
}

func depositIntent(roomID uint64, stake int64) *domain.JoinIntent {
	return &domain.JoinIntent{
		ID:            "intent-1",
		OnChainRoomID: &roomID,
		PlayerID:      1,
		StakeNano:     stake,
		Status:        domain.IntentCreated,
	}
}

func TestClassifyDeposit_Valid(t *testing.T) {
	now := time.Now()
	tx := depositTx(ton.NanoTON/10+ton.GasReserveNano, testEscrow, now)
	intent := depositIntent(42, ton.NanoTON/10)

	if reason := classifyDeposit(tx, intent, 42, testEscrow, now); reason != "" {
		t.Fatalf("валидный депозит отброшен: %s", reason)
	}
}

func TestClassifyDeposit_RoomIDMismatch(t *testing.T) {
	now := time.Now()
	tx := depositTx(ton.NanoTON, testEscrow, now)
	intent := depositIntent(42, ton.NanoTON/10)

	// комментарий указывает на чужую комнату - перенос депозита
	// между комнатами должен резаться
	if reason := classifyDeposit(tx, intent, 43, testEscrow, now); reason != "room_id_mismatch" {
		t.Fatalf("ожидалась room_id_mismatch, получено %q", reason)
	}
}

func TestClassifyDeposit_WrongDestination(t *testing.T) {
	now := time.Now()
	other := "0:cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
	tx := depositTx(ton.NanoTON, other, now)
	intent := depositIntent(42, ton.NanoTON/10)

	if reason := classifyDeposit(tx, intent, 42, testEscrow, now); reason != "wrong_destination" {
		t.Fatalf("ожидалась wrong_destination, получено %q", reason)
	}
}

func TestClassifyDeposit_MissingDestination(t *testing.T) {
	now := time.Now()
	tx := depositTx(ton.NanoTON, testEscrow, now)
	tx.InMsg.Destination = nil
	intent := depositIntent(42, ton.NanoTON/10)

	// отсутствие данных не трактуется в пользу транзакции
	if reason := classifyDeposit(tx, intent, 42, testEscrow, now); reason != "no_destination" {
		t.Fatalf("ожидалась no_destination, получено %q", reason)
	}
}

func TestClassifyDeposit_AmountTooLow(t *testing.T) {
	now := time.Now()
	// депозит сильно меньше ставки 0.1 TON
	tx := depositTx(ton.NanoTON/100, testEscrow, now)
	intent := depositIntent(42, ton.NanoTON/10)

	if reason := classifyDeposit(tx, intent, 42, testEscrow, now); reason != "amount_too_low" {
		t.Fatalf("ожидалась amount_too_low, получено %q", reason)
	}
}

func TestClassifyDeposit_AmountFromOutMsgsIgnored(t *testing.T) {
	now := time.Now()
	// нулевой value во входящем сообщении и "жирный" исходящий перевод:
	// классика подделки суммы, учитываться должен только InMsg.Value
	tx := depositTx(0, testEscrow, now)
	tx.OutMsgs = []ton.Message{{Value: 100 * ton.NanoTON}}
	intent := depositIntent(42, ton.NanoTON/10)

	if reason := classifyDeposit(tx, intent, 42, testEscrow, now); reason != "zero_amount" {
		t.Fatalf("ожидалась zero_amount, получено %q", reason)
	}
}

func TestClassifyDeposit_Freshness(t *testing.T) {
	now := time.Now()
	intent := depositIntent(42, ton.NanoTON/10)

	stale := depositTx(ton.NanoTON, testEscrow, now.Add(-ton.DepositMaxAge-time.Minute))
	if reason := classifyDeposit(stale, intent, 42, testEscrow, now); reason != "stale" {
		t.Fatalf("ожидалась stale, получено %q", reason)
	}

	future := depositTx(ton.NanoTON, testEscrow, now.Add(5*time.Minute))
	if reason := classifyDeposit(future, intent, 42, testEscrow, now); reason != "future_block_time" {
		t.Fatalf("ожидалась future_block_time, получено %q", reason)
	}

	// небольшой сдвиг часов вперед допустим
	skewed := depositTx(ton.NanoTON/10, testEscrow, now.Add(30*time.Second))
	if reason := classifyDeposit(skewed, intent, 42, testEscrow, now); reason != "" {
		t.Fatalf("сдвиг в 30с должен быть допустим, получено %q", reason)
	}
}

func TestIsOverpayment(t *testing.T) {
	stake := int64(ton.NanoTON / 10)

	// ставка + газ - штатная сумма
	if isOverpayment(stake+ton.GasReserveNano, stake) {
		t.Fatalf("штатная сумма не должна считаться переплатой")
	}
	// двукратная ставка - аномалия (но депозит все равно принимается)
	if !isOverpayment(2*stake+ton.GasReserveNano, stake) {
		t.Fatalf("двукратная ставка должна считаться переплатой")
	}
}

// транзакция БД-заглушка: мутации копятся и применяются на Commit,
// Rollback их отбрасывает - как в настоящей базе
type fakeTx struct {
	staged     []func()
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	for _, apply := range t.staged {
		apply()
	}
	t.staged = nil
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
		t.staged = nil
	}
	return nil
}

func (t *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (t *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (t *fakeTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (t *fakeTx) Conn() *pgx.Conn                                               { return nil }

func stage(tx pgx.Tx, apply func()) {
	tx.(*fakeTx).staged = append(tx.(*fakeTx).staged, apply)
}

type fakeTxDB struct {
	last *fakeTx
}

func (db *fakeTxDB) Begin(ctx context.Context) (pgx.Tx, error) {
	db.last = &fakeTx{}
	return db.last, nil
}

type fakeWatcherIntents struct {
	intents map[string]*domain.JoinIntent
}

func (f *fakeWatcherIntents) GetByID(_ context.Context, id string) (*domain.JoinIntent, error) {
	if i, ok := f.intents[id]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeWatcherIntents) GetActiveByNonce(_ context.Context, nonce string, now time.Time) (*domain.JoinIntent, error) {
	for _, i := range f.intents {
		if i.Nonce == nonce && i.Status == domain.IntentCreated {
			cp := *i
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeWatcherIntents) Transition(_ context.Context, id string, from, to domain.IntentStatus) (bool, error) {
	i, ok := f.intents[id]
	if !ok || i.Status != from {
		return false, nil
	}
	i.Status = to
	return true, nil
}

func (f *fakeWatcherIntents) TransitionTx(_ context.Context, tx pgx.Tx, id string, from, to domain.IntentStatus) (bool, error) {
	i, ok := f.intents[id]
	if !ok || i.Status != from {
		return false, nil
	}
	stage(tx, func() { i.Status = to })
	return true, nil
}

type fakeWatcherDeposits struct {
	byHash    map[string]*domain.DepositTx
	createErr error
}

func (f *fakeWatcherDeposits) GetByTxHash(_ context.Context, txHash string) (*domain.DepositTx, error) {
	if d, ok := f.byHash[txHash]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeWatcherDeposits) CreateTx(_ context.Context, tx pgx.Tx, d *domain.DepositTx) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.byHash[d.TxHash]; ok {
		return errors.New("duplicate tx_hash")
	}
	cp := *d
	stage(tx, func() { f.byHash[cp.TxHash] = &cp })
	return nil
}

type fakeWatcherState struct {
	lt       int64
	setTxErr error
}

func (f *fakeWatcherState) GetLastCheckedLt(_ context.Context, workerType string) (int64, error) {
	return f.lt, nil
}

func (f *fakeWatcherState) SetLastCheckedLt(_ context.Context, workerType string, lt int64) error {
	f.lt = lt
	return nil
}

func (f *fakeWatcherState) SetLastCheckedLtTx(_ context.Context, tx pgx.Tx, workerType string, lt int64) error {
	if f.setTxErr != nil {
		return f.setTxErr
	}
	stage(tx, func() { f.lt = lt })
	return nil
}

type fakeWatcherAudit struct {
	logs []*domain.AuditLog
}

func (f *fakeWatcherAudit) CreateWithTx(_ context.Context, tx pgx.Tx, log *domain.AuditLog) error {
	stage(tx, func() { f.logs = append(f.logs, log) })
	return nil
}

type fakeFeed struct {
	txs []ton.Transaction
}

func (f *fakeFeed) GetTransactionsAfter(_ context.Context, address string, limit int, afterLt int64) ([]ton.Transaction, error) {
	var out []ton.Transaction
	for _, tx := range f.txs {
		if tx.Lt > afterLt {
			out = append(out, tx)
		}
	}
	return out, nil
}

const testNonce = "abababababababababababababababababababababababababababababababab"

func paidChainTx(hash string, lt int64, roomID uint64, amount int64) ton.Transaction {
	return ton.Transaction{
		Hash:  hash,
		Lt:    lt,
		Utime: time.Now().Unix(),
		InMsg: &ton.Message{
			Value:       amount,
			Destination: &ton.AccountAddress{Address: testEscrow},
			Source:      &ton.AccountAddress{Address: "0:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"},
			DecodedBody: &ton.DecodedBody{Text: ton.BuildJoinComment(roomID, testNonce)},
		},
	}
}

func newTestWatcher(feed ChainFeed) (*DepositWatcher, *fakeWatcherIntents, *fakeWatcherDeposits, *fakeWatcherState) {
	roomID := uint64(42)
	intents := &fakeWatcherIntents{intents: map[string]*domain.JoinIntent{
		"intent-1": {
			ID:            "intent-1",
			PlayerID:      1,
			Nonce:         testNonce,
			OnChainRoomID: &roomID,
			StakeNano:     ton.NanoTON / 10,
			Status:        domain.IntentCreated,
		},
	}}
	deposits := &fakeWatcherDeposits{byHash: make(map[string]*domain.DepositTx)}
	state := &fakeWatcherState{}
	w := &DepositWatcher{
		db:          &fakeTxDB{},
		feed:        feed,
		intentRepo:  intents,
		depositRepo: deposits,
		stateRepo:   state,
		auditRepo:   &fakeWatcherAudit{},
		escrow:      testEscrow,
		interval:    time.Minute,
		stop:        make(chan struct{}),
		now:         time.Now,
	}
	return w, intents, deposits, state
}

func TestDepositWatcher_PaidTransitionAndCursorAtomic(t *testing.T) {
	feed := &fakeFeed{txs: []ton.Transaction{
		paidChainTx("tx-1", 200, 42, ton.NanoTON/10+ton.GasReserveNano),
	}}
	w, intents, deposits, state := newTestWatcher(feed)

	paid := make(chan PaidNotification, 1)
	w.SetPaidCallback(func(n PaidNotification) { paid <- n })

	w.checkDeposits()

	if got := intents.intents["intent-1"].Status; got != domain.IntentPaid {
		t.Fatalf("интент должен стать PAID, получен %s", got)
	}
	if deposits.byHash["tx-1"] == nil {
		t.Fatalf("запись депозита не создана")
	}
	if state.lt != 200 {
		t.Fatalf("курсор должен встать на lt оплаты: ожидалось 200, получено %d", state.lt)
	}

	select {
	case n := <-paid:
		if n.IntentID != "intent-1" || n.TxHash != "tx-1" {
			t.Fatalf("неверное уведомление об оплате: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("уведомление об оплате не пришло")
	}

	// второй проход: курсор за батчем, повторной обработки нет
	w.checkDeposits()
	if len(deposits.byHash) != 1 {
		t.Fatalf("депозит продублирован: %d записей", len(deposits.byHash))
	}
}

func TestDepositWatcher_CrashBeforeCursorLeavesNothing(t *testing.T) {
	feed := &fakeFeed{txs: []ton.Transaction{
		paidChainTx("tx-1", 200, 42, ton.NanoTON/10+ton.GasReserveNano),
	}}
	w, intents, deposits, state := newTestWatcher(feed)

	// сдвиг курсора падает - вся транзакция БД должна откатиться
	state.setTxErr = errors.New("db down")
	w.checkDeposits()

	if got := intents.intents["intent-1"].Status; got != domain.IntentCreated {
		t.Fatalf("откат должен оставить интент CREATED, получен %s", got)
	}
	if len(deposits.byHash) != 0 {
		t.Fatalf("откат не должен оставлять запись депозита")
	}
	if state.lt != 0 {
		t.Fatalf("курсор не должен двигаться при откате: %d", state.lt)
	}

	// база ожила - следующий тик дообрабатывает ту же транзакцию
	state.setTxErr = nil
	w.checkDeposits()
	if got := intents.intents["intent-1"].Status; got != domain.IntentPaid {
		t.Fatalf("повторный проход должен довести интент до PAID, получен %s", got)
	}
	if state.lt != 200 {
		t.Fatalf("курсор после повтора: ожидалось 200, получено %d", state.lt)
	}
}

func TestDepositWatcher_ReplayRepairsPaid(t *testing.T) {
	feed := &fakeFeed{txs: []ton.Transaction{
		paidChainTx("tx-1", 200, 42, ton.NanoTON/10+ton.GasReserveNano),
	}}
	w, intents, deposits, _ := newTestWatcher(feed)

	// прошлый запуск успел записать депозит, но не перевел интент:
	// повтор того же хэша чинит статус, не создавая второй ряд
	deposits.byHash["tx-1"] = &domain.DepositTx{
		TxHash:       "tx-1",
		JoinIntentID: "intent-1",
		AmountNano:   ton.NanoTON/10 + ton.GasReserveNano,
		Lt:           200,
	}

	paid := make(chan PaidNotification, 1)
	w.SetPaidCallback(func(n PaidNotification) { paid <- n })

	w.checkDeposits()

	if got := intents.intents["intent-1"].Status; got != domain.IntentPaid {
		t.Fatalf("восстановительный проход должен довести интент до PAID, получен %s", got)
	}
	if len(deposits.byHash) != 1 {
		t.Fatalf("повтор хэша не должен создавать второй ряд: %d", len(deposits.byHash))
	}

	select {
	case n := <-paid:
		if n.IntentID != "intent-1" {
			t.Fatalf("неверное уведомление: %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("уведомление об оплате не пришло")
	}
}

func TestDepositWatcher_DiscardedBatchAdvancesCursor(t *testing.T) {
	// чужая транзакция без комментария: отбрасывается, но курсор
	// двигается, иначе каждый тик перечитывает тот же батч
	foreign := ton.Transaction{
		Hash:  "tx-foreign",
		Lt:    500,
		Utime: time.Now().Unix(),
		InMsg: &ton.Message{
			Value:       ton.NanoTON,
			Destination: &ton.AccountAddress{Address: testEscrow},
		},
	}
	w, intents, deposits, state := newTestWatcher(&fakeFeed{txs: []ton.Transaction{foreign}})

	w.checkDeposits()

	if state.lt != 500 {
		t.Fatalf("курсор должен продвинуться за отброшенный батч: %d", state.lt)
	}
	if len(deposits.byHash) != 0 {
		t.Fatalf("чужая транзакция не должна давать запись депозита")
	}
	if got := intents.intents["intent-1"].Status; got != domain.IntentCreated {
		t.Fatalf("интент не должен меняться: %s", got)
	}
}
