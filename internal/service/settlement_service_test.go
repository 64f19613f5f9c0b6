package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"tapduel/internal/domain"
	"tapduel/internal/ton"
)

type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[string]*domain.Payment
	creates  int
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{payments: make(map[string]*domain.Payment)}
}

func (f *fakePaymentStore) Create(_ context.Context, p *domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	cp := *p
	f.payments[p.ID] = &cp
	return nil
}

func (f *fakePaymentStore) GetByMatchAndPlayer(_ context.Context, matchID string, playerID int64) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.MatchID == matchID && p.PlayerID == playerID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePaymentStore) ExistsForMatch(_ context.Context, matchID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.payments {
		if p.MatchID == matchID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePaymentStore) MarkClaimed(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.payments[id]
	if !ok || p.Status != domain.PaymentStatusPending {
		return false, nil
	}
	p.Status = domain.PaymentStatusClaimed
	return true, nil
}

func (f *fakePaymentStore) ListPendingByPlayer(_ context.Context, playerID int64) ([]*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Payment
	for _, p := range f.payments {
		if p.PlayerID == playerID && p.Status == domain.PaymentStatusPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type fakeStatsStore struct {
	mu      sync.Mutex
	applied map[int64]int // player -> число применений
	wins    map[int64]int
}

func newFakeStatsStore() *fakeStatsStore {
	return &fakeStatsStore{applied: make(map[int64]int), wins: make(map[int64]int)}
}

func (f *fakeStatsStore) ApplyMatchResult(_ context.Context, playerID int64, _ string, _ int, won bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied[playerID]++
	if won {
		f.wins[playerID]++
	}
	return nil
}

type fakeBalanceStore struct {
	mu     sync.Mutex
	stars  map[int64]int64
	points map[int64]int64
}

func newFakeBalanceStore() *fakeBalanceStore {
	return &fakeBalanceStore{stars: make(map[int64]int64), points: make(map[int64]int64)}
}

func (f *fakeBalanceStore) UpdateStars(_ context.Context, userID, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stars[userID] += delta
	return f.stars[userID], nil
}

func (f *fakeBalanceStore) UpdatePoints(_ context.Context, userID, delta int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.points[userID] += delta
	return f.points[userID], nil
}

func finishedTonMatch(scores ...int) *domain.Match {
	m := &domain.Match{
		ID:       "match_1700000000000_abc12345",
		RoomType: domain.RoomTON,
		Status:   domain.MatchFinished,
	}
	for i, sc := range scores {
		p := &domain.Player{ID: int64(i + 1), Name: "p", Score: sc}
		m.Players = append(m.Players, p)
		m.AllPlayers = append(m.AllPlayers, p)
	}
	return m
}

func newTestSettlement() (*SettlementService, *fakePaymentStore, *fakeStatsStore, *fakeBalanceStore) {
	payments := newFakePaymentStore()
	stats := newFakeStatsStore()
	balances := newFakeBalanceStore()
	svc := NewSettlementService(payments, stats, balances, nil, "test-payment-secret")
	return svc, payments, stats, balances
}

func TestWinners_TiesShare(t *testing.T) {
	m := finishedTonMatch(9, 9, 3, 0)

	winners := Winners(m)
	if len(winners) != 2 {
		t.Fatalf("ожидались 2 победителя при равном счете, получено %d", len(winners))
	}
	for _, w := range winners {
		if w.Score != 9 {
			t.Fatalf("победитель со счетом %d", w.Score)
		}
	}
}

func TestSettleMatch_PotSplit(t *testing.T) {
	svc, payments, stats, _ := newTestSettlement()
	m := finishedTonMatch(9, 5, 3, 1)

	if err := svc.SettleMatch(context.Background(), m); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	// банк 4 x 0.1 TON, комиссия 10%, один победитель
	wantPayout := int64(4) * (ton.NanoTON / 10) * 90 / 100
	p, _ := payments.GetByMatchAndPlayer(context.Background(), m.ID, 1)
	if p == nil {
		t.Fatalf("ожидалась выплата победителю")
	}
	if p.Amount != wantPayout {
		t.Fatalf("выплата: ожидалось %d, получено %d", wantPayout, p.Amount)
	}
	if !svc.VerifyPaymentSignature(p, p.Signature) {
		t.Fatalf("подпись выплаты не проходит проверку")
	}

	// статистика применена ко всем, победа только у первого
	if len(stats.applied) != 4 {
		t.Fatalf("статистика должна примениться к 4 игрокам, применена к %d", len(stats.applied))
	}
	if stats.wins[1] != 1 || stats.wins[2] != 0 {
		t.Fatalf("победа засчитана неверно: %v", stats.wins)
	}
}

func TestSettleMatch_ExactlyOnce(t *testing.T) {
	svc, payments, stats, _ := newTestSettlement()
	m := finishedTonMatch(9, 5)

	// конкурентные дубли триггера завершения
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.SettleMatch(context.Background(), m)
		}()
	}
	wg.Wait()

	if payments.creates != 1 {
		t.Fatalf("ожидалась одна запись выплаты, создано %d", payments.creates)
	}
	if stats.applied[1] != 1 || stats.applied[2] != 1 {
		t.Fatalf("статистика применена не ровно один раз: %v", stats.applied)
	}
	if !m.StatsUpdated {
		t.Fatalf("флаг StatsUpdated должен быть взведен")
	}
}

func TestSettleMatch_SkipsWhenPaymentsExist(t *testing.T) {
	svc, payments, _, _ := newTestSettlement()
	m := finishedTonMatch(9, 5)

	// выплата по матчу уже записана прошлым запуском процесса
	_ = payments.Create(context.Background(), &domain.Payment{
		ID: "old", MatchID: m.ID, PlayerID: 1, Amount: 1,
		Currency: domain.CurrencyTON, Status: domain.PaymentStatusPending,
	})
	payments.creates = 0

	if err := svc.SettleMatch(context.Background(), m); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if payments.creates != 0 {
		t.Fatalf("повторных выплат быть не должно, создано %d", payments.creates)
	}
}

func TestSettleMatch_NotFinished(t *testing.T) {
	svc, _, _, _ := newTestSettlement()
	m := finishedTonMatch(9, 5)
	m.Status = domain.MatchPlaying

	if err := svc.SettleMatch(context.Background(), m); err == nil {
		t.Fatalf("расчет незавершенного матча должен быть ошибкой")
	}
}

func TestClaimWinnings(t *testing.T) {
	svc, _, _, balances := newTestSettlement()

	// stars матч: банк 10 x 50, комиссия 10%
	m := finishedTonMatch(9, 5)
	m.RoomType = domain.RoomStars
	if err := svc.SettleMatch(context.Background(), m); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	sig := svc.SignPayment(m.ID, 1, 2*50*90/100)
	payment, err := svc.ClaimWinnings(context.Background(), 1, m.ID, sig)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if payment.Status != domain.PaymentStatusClaimed {
		t.Fatalf("выплата должна стать claimed, статус %s", payment.Status)
	}
	if balances.stars[1] != 2*50*90/100 {
		t.Fatalf("stars не зачислены: %v", balances.stars)
	}

	// повторный claim не удваивает баланс
	if _, err := svc.ClaimWinnings(context.Background(), 1, m.ID, sig); err != nil {
		t.Fatalf("повторный claim должен быть no-op: %v", err)
	}
	if balances.stars[1] != 2*50*90/100 {
		t.Fatalf("повторный claim удвоил баланс: %v", balances.stars)
	}
}

func TestClaimWinnings_ForgedSignature(t *testing.T) {
	svc, _, _, _ := newTestSettlement()
	m := finishedTonMatch(9, 5)
	if err := svc.SettleMatch(context.Background(), m); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if _, err := svc.ClaimWinnings(context.Background(), 1, m.ID, "deadbeef"); err == nil {
		t.Fatalf("поддельная подпись должна отклоняться")
	}
}

func TestSettleMatch_DedupTableDoesNotGrow(t *testing.T) {
	svc, _, _, _ := newTestSettlement()

	// таблица дедупликации живет только на время расчета: после
	// завершения повторы режутся флагом матча и записями выплат
	for i := 0; i < 50; i++ {
		m := finishedTonMatch(9, 5)
		m.ID = fmt.Sprintf("match_170000000%04d_abc12345", i)
		if err := svc.SettleMatch(context.Background(), m); err != nil {
			t.Fatalf("расчет матча %s: %v", m.ID, err)
		}
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.settled) != 0 {
		t.Fatalf("таблица дедупликации должна опустеть, осталось %d записей", len(svc.settled))
	}
}
