package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tapduel/internal/domain"
	"tapduel/internal/ton"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeIntentStore struct {
	mu      sync.Mutex
	intents map[string]*domain.JoinIntent
}

func newFakeIntentStore() *fakeIntentStore {
	return &fakeIntentStore{intents: make(map[string]*domain.JoinIntent)}
}

func (f *fakeIntentStore) Create(_ context.Context, i *domain.JoinIntent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *i
	f.intents[i.ID] = &cp
	return nil
}

func (f *fakeIntentStore) GetByID(_ context.Context, id string) (*domain.JoinIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i, ok := f.intents[id]; ok {
		cp := *i
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeIntentStore) GetActive(_ context.Context, playerID int64, roomType domain.RoomType, now time.Time) (*domain.JoinIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.intents {
		if i.PlayerID == playerID && i.RoomType == roomType &&
			i.Status == domain.IntentCreated && i.ExpiresAt.After(now) {
			cp := *i
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeIntentStore) GetPaidForMatch(_ context.Context, playerID int64, matchID string) (*domain.JoinIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.intents {
		if i.PlayerID == playerID && i.MatchID != nil && *i.MatchID == matchID && i.Status == domain.IntentPaid {
			cp := *i
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeIntentStore) GetPaidByPlayer(_ context.Context, playerID int64, roomType domain.RoomType) (*domain.JoinIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.intents {
		if i.PlayerID == playerID && i.RoomType == roomType && i.Status == domain.IntentPaid {
			cp := *i
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeIntentStore) GetDepositedForMatch(_ context.Context, playerID int64, matchID string) (*domain.JoinIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.intents {
		if i.PlayerID == playerID && i.MatchID != nil && *i.MatchID == matchID &&
			(i.Status == domain.IntentPaid || i.Status == domain.IntentRefunded) {
			cp := *i
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeIntentStore) Transition(_ context.Context, id string, from, to domain.IntentStatus) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i, ok := f.intents[id]
	if !ok || i.Status != from {
		return false, nil
	}
	i.Status = to
	return true, nil
}

func (f *fakeIntentStore) CancelExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, i := range f.intents {
		if i.Status == domain.IntentCreated && !i.ExpiresAt.After(now) {
			i.Status = domain.IntentCancelled
			n++
		}
	}
	return n, nil
}

type fakeWalletStore struct {
	wallets map[int64]*domain.Wallet // по user id
}

func (f *fakeWalletStore) GetByUserID(_ context.Context, userID int64) (*domain.Wallet, error) {
	return f.wallets[userID], nil
}

func (f *fakeWalletStore) GetByID(_ context.Context, id int64) (*domain.Wallet, error) {
	for _, w := range f.wallets {
		if w.ID == id {
			return w, nil
		}
	}
	return nil, nil
}

type fakeRefundStore struct {
	mu      sync.Mutex
	refunds map[string]*domain.Refund // по intent id
	creates int
}

func newFakeRefundStore() *fakeRefundStore {
	return &fakeRefundStore{refunds: make(map[string]*domain.Refund)}
}

func (f *fakeRefundStore) GetByIntentID(_ context.Context, intentID string) (*domain.Refund, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunds[intentID], nil
}

func (f *fakeRefundStore) Create(_ context.Context, rf *domain.Refund) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.refunds[rf.JoinIntentID]; ok {
		return errors.New("duplicate refund")
	}
	f.creates++
	f.refunds[rf.JoinIntentID] = rf
	rf.CreatedAt = time.Now()
	return nil
}

type fakeLocator struct {
	match *domain.Match
}

func (f *fakeLocator) LocateOrCreateMatch(_ context.Context, roomType domain.RoomType) (*domain.Match, error) {
	if f.match == nil {
		f.match = &domain.Match{
			ID:       "match_1700000000000_abc12345",
			RoomType: roomType,
			Status:   domain.MatchWaiting,
		}
	}
	return f.match, nil
}

func (f *fakeLocator) SetOnChainRoomID(matchID string, roomID uint64) {
	if f.match != nil && f.match.ID == matchID {
		f.match.OnChainRoomID = roomID
	}
}

func newTestIntentService(t *testing.T) (*IntentService, *fakeIntentStore, *fakeRefundStore) {
	t.Helper()
	intents := newFakeIntentStore()
	refunds := newFakeRefundStore()
	wallets := &fakeWalletStore{wallets: map[int64]*domain.Wallet{
		1: {ID: 11, UserID: 1, Address: "UQtest-address-player-1"},
	}}
	svc := NewIntentService(intents, wallets, refunds, &fakeLocator{}, nil, "UQescrow-address")
	return svc, intents, refunds
}

func TestCreateJoinIntent_Idempotent(t *testing.T) {
	svc, intents, _ := newTestIntentService(t)
	ctx := context.Background()

	first, params, err := svc.CreateJoinIntent(ctx, 1, domain.RoomTON)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	second, _, err := svc.CreateJoinIntent(ctx, 1, domain.RoomTON)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("ожидался тот же интент, получены %s и %s", first.ID, second.ID)
	}
	if len(intents.intents) != 1 {
		t.Fatalf("ожидался один ряд интента, есть %d", len(intents.intents))
	}

	if params.Destination != "UQescrow-address" {
		t.Fatalf("неверный адрес назначения: %s", params.Destination)
	}
	if params.AmountNano != first.StakeNano+ton.GasReserveNano {
		t.Fatalf("сумма должна включать газовый резерв: %d", params.AmountNano)
	}
	if _, nonce, ok := ton.ParseJoinComment(params.Comment); !ok || nonce != first.Nonce {
		t.Fatalf("комментарий не разбирается обратно: %q", params.Comment)
	}
}

func TestCreateJoinIntent_WalletNotLinked(t *testing.T) {
	svc, _, _ := newTestIntentService(t)

	_, _, err := svc.CreateJoinIntent(context.Background(), 99, domain.RoomTON)
	if !errors.Is(err, ErrWalletNotLinked) {
		t.Fatalf("ожидалась ErrWalletNotLinked, получено %v", err)
	}
}

func TestMarkIntentPaid_Guards(t *testing.T) {
	svc, _, _ := newTestIntentService(t)
	ctx := context.Background()

	intent, _, err := svc.CreateJoinIntent(ctx, 1, domain.RoomTON)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if err := svc.MarkIntentPaid(ctx, intent.ID, "hash1"); err != nil {
		t.Fatalf("первый перевод в PAID должен пройти: %v", err)
	}
	// повторная оплата того же интента - ошибка состояния
	if err := svc.MarkIntentPaid(ctx, intent.ID, "hash2"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("ожидалась ErrInvalidState, получено %v", err)
	}
}

func TestCancelExpiredIntents(t *testing.T) {
	svc, intents, _ := newTestIntentService(t)
	ctx := context.Background()

	intent, _, err := svc.CreateJoinIntent(ctx, 1, domain.RoomTON)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	// сдвигаем часы сервиса за срок жизни интента
	svc.now = func() time.Time { return time.Now().Add(ton.IntentTTL + time.Minute) }

	n, err := svc.CancelExpiredIntents(ctx)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if n != 1 {
		t.Fatalf("ожидался один отмененный интент, получено %d", n)
	}

	got, _ := intents.GetByID(ctx, intent.ID)
	if got.Status != domain.IntentCancelled {
		t.Fatalf("ожидался статус CANCELLED, получен %s", got.Status)
	}

	// просроченный интент нельзя оплатить
	if err := svc.MarkIntentPaid(ctx, intent.ID, "hash1"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("ожидалась ErrInvalidState, получено %v", err)
	}
}

func TestCreateRefundForPlayer_Idempotent(t *testing.T) {
	svc, _, refunds := newTestIntentService(t)
	ctx := context.Background()

	intent, _, err := svc.CreateJoinIntent(ctx, 1, domain.RoomTON)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if err := svc.MarkIntentPaid(ctx, intent.ID, "hash1"); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	first, err := svc.CreateRefundForPlayer(ctx, 1, *intent.MatchID, domain.RefundReasonPlayerLeft)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if first == nil {
		t.Fatalf("ожидался возврат для оплаченного интента")
	}
	if first.AmountNano != intent.StakeNano {
		t.Fatalf("возврат на полную ставку: ожидалось %d, получено %d", intent.StakeNano, first.AmountNano)
	}
	if first.ToAddress != "UQtest-address-player-1" {
		t.Fatalf("возврат на адрес кошелька игрока, получен %s", first.ToAddress)
	}

	// повторный вызов не создает второй ряд - тот же id
	second, err := svc.CreateRefundForPlayer(ctx, 1, *intent.MatchID, domain.RefundReasonPlayerLeft)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if second == nil || second.ID != first.ID {
		t.Fatalf("ожидался тот же возврат %s", first.ID)
	}
	if refunds.creates != 1 {
		t.Fatalf("ожидался ровно один создающий вызов, было %d", refunds.creates)
	}
}

func TestCreateRefundForPlayer_NoPaidIntent(t *testing.T) {
	svc, _, refunds := newTestIntentService(t)

	// игрок без оплаченного интента (бесплатная комната) - возврат не нужен
	rf, err := svc.CreateRefundForPlayer(context.Background(), 1, "match_1700000000000_abc12345", domain.RefundReasonPlayerLeft)
	if err != nil {
		t.Fatalf("отсутствие интента не должно быть ошибкой: %v", err)
	}
	if rf != nil {
		t.Fatalf("возврат не ожидался, получен %+v", rf)
	}
	if refunds.creates != 0 {
		t.Fatalf("создания возврата не ожидалось")
	}
}

type fakeDepositStore struct {
	byHash map[string]*domain.DepositTx
}

func (f *fakeDepositStore) GetByTxHash(_ context.Context, txHash string) (*domain.DepositTx, error) {
	return f.byHash[txHash], nil
}

func TestVerifyEntryPayment(t *testing.T) {
	svc, _, _ := newTestIntentService(t)
	ctx := context.Background()

	intent, params, err := svc.CreateJoinIntent(ctx, 1, domain.RoomTON)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if err := svc.MarkIntentPaid(ctx, intent.ID, "hash-ok"); err != nil {
		t.Fatalf("перевод в PAID: %v", err)
	}

	svc.SetDeposits(&fakeDepositStore{byHash: map[string]*domain.DepositTx{
		"hash-ok": {
			TxHash:       "hash-ok",
			JoinIntentID: intent.ID,
			AmountNano:   params.AmountNano,
		},
		"hash-short": {
			TxHash:       "hash-short",
			JoinIntentID: intent.ID,
			AmountNano:   params.AmountNano - 2*ton.AmountToleranceNano,
		},
		"hash-foreign": {
			TxHash:       "hash-foreign",
			JoinIntentID: "intent-someone-else",
			AmountNano:   params.AmountNano,
		},
	}})

	res, err := svc.VerifyEntryPayment(ctx, 1, intent.ID, "hash-ok")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res == nil || !res.Verified || !res.AmountValid {
		t.Fatalf("оплаченный депозит с точной суммой должен пройти проверку: %+v", res)
	}

	// недоплата за пределами допуска - явный отказ, не молчание
	res, err = svc.VerifyEntryPayment(ctx, 1, intent.ID, "hash-short")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.Verified || res.AmountValid || res.Reason == "" {
		t.Fatalf("недоплата должна быть отклонена с причиной: %+v", res)
	}

	// транзакция чужого интента
	res, err = svc.VerifyEntryPayment(ctx, 1, intent.ID, "hash-foreign")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.Verified || res.Reason == "" {
		t.Fatalf("чужая транзакция должна быть отклонена: %+v", res)
	}

	// неизвестный хэш
	res, err = svc.VerifyEntryPayment(ctx, 1, intent.ID, "hash-missing")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.Verified || res.Reason == "" {
		t.Fatalf("неизвестная транзакция должна быть отклонена: %+v", res)
	}

	// чужой интент неотличим от несуществующего
	res, err = svc.VerifyEntryPayment(ctx, 99, intent.ID, "hash-ok")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res != nil {
		t.Fatalf("чужой интент должен выглядеть несуществующим, получено %+v", res)
	}
}

// хранилище, отклоняющее вставку как конкурентную: уникальный индекс
// уже пропустил чужой интент той же пары (игрок, тип комнаты)
type racingIntentStore struct {
	*fakeIntentStore
	winner *domain.JoinIntent
	raced  bool
}

func (f *racingIntentStore) Create(_ context.Context, i *domain.JoinIntent) error {
	// соперник вставил свой интент между проверкой и нашей вставкой
	f.raced = true
	return &pgconn.PgError{Code: "23505", ConstraintName: "join_intents_player_room_created_idx"}
}

func (f *racingIntentStore) GetActive(_ context.Context, playerID int64, roomType domain.RoomType, now time.Time) (*domain.JoinIntent, error) {
	if !f.raced {
		return nil, nil
	}
	cp := *f.winner
	return &cp, nil
}

func TestCreateJoinIntent_ConcurrentRetryReturnsWinner(t *testing.T) {
	winner := &domain.JoinIntent{
		ID:       "intent-winner",
		PlayerID: 1,
		RoomType: domain.RoomTON,
		Status:   domain.IntentCreated,
	}
	wallets := &fakeWalletStore{wallets: map[int64]*domain.Wallet{
		1: {ID: 11, UserID: 1, Address: "UQtest-address-player-1"},
	}}
	store := &racingIntentStore{fakeIntentStore: newFakeIntentStore(), winner: winner}
	svc := NewIntentService(store, wallets, newFakeRefundStore(), &fakeLocator{}, nil, "UQescrow-address")

	// GetActive встроенного fakeIntentStore пуст, проверка до вставки
	// проходит; сама вставка упирается в уникальный индекс
	got, params, err := svc.CreateJoinIntent(context.Background(), 1, domain.RoomTON)
	if err != nil {
		t.Fatalf("конкурентный ретрай должен вернуть выигравший интент: %v", err)
	}
	if got.ID != "intent-winner" {
		t.Fatalf("ожидался интент победителя гонки, получен %s", got.ID)
	}
	if params == nil {
		t.Fatalf("параметры платежа должны вернуться и для чужой вставки")
	}
}
