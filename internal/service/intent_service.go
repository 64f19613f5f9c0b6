package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"tapduel/internal/domain"
	"tapduel/internal/game"
	"tapduel/internal/logger"
	"tapduel/internal/ton"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrWalletNotLinked = errors.New("кошелек не привязан")
	ErrInvalidState    = errors.New("недопустимое состояние интента")
)

// IntentStore - нужный сервису срез репозитория интентов
type IntentStore interface {
	Create(ctx context.Context, i *domain.JoinIntent) error
	GetByID(ctx context.Context, id string) (*domain.JoinIntent, error)
	GetActive(ctx context.Context, playerID int64, roomType domain.RoomType, now time.Time) (*domain.JoinIntent, error)
	GetPaidForMatch(ctx context.Context, playerID int64, matchID string) (*domain.JoinIntent, error)
	GetDepositedForMatch(ctx context.Context, playerID int64, matchID string) (*domain.JoinIntent, error)
	GetPaidByPlayer(ctx context.Context, playerID int64, roomType domain.RoomType) (*domain.JoinIntent, error)
	Transition(ctx context.Context, id string, from, to domain.IntentStatus) (bool, error)
	CancelExpired(ctx context.Context, now time.Time) (int64, error)
}

// WalletStore - доступ к привязанным кошелькам
type WalletStore interface {
	GetByUserID(ctx context.Context, userID int64) (*domain.Wallet, error)
	GetByID(ctx context.Context, id int64) (*domain.Wallet, error)
}

// RefundStore - доступ к возвратам
type RefundStore interface {
	GetByIntentID(ctx context.Context, intentID string) (*domain.Refund, error)
	Create(ctx context.Context, rf *domain.Refund) error
}

// DepositStore - подтвержденные депозиты, нужен пользовательской
// проверке платежа
type DepositStore interface {
	GetByTxHash(ctx context.Context, txHash string) (*domain.DepositTx, error)
}

// MatchLocator выдает матч-цель для нового интента
type MatchLocator interface {
	LocateOrCreateMatch(ctx context.Context, roomType domain.RoomType) (*domain.Match, error)
	SetOnChainRoomID(matchID string, roomID uint64)
}

// AuditWriter пишет записи аудита; ошибки записи не блокируют операцию
type AuditWriter interface {
	Create(ctx context.Context, log *domain.AuditLog) error
}

// IntentService управляет жизненным циклом интентов на депозит:
// создание, оплата, отмена по истечению, возвраты.
type IntentService struct {
	intents  IntentStore
	wallets  WalletStore
	refunds  RefundStore
	deposits DepositStore
	locator  MatchLocator
	audit    AuditWriter
	escrow   string // адрес escrow, куда идут депозиты
	now      func() time.Time
}

func NewIntentService(intents IntentStore, wallets WalletStore, refunds RefundStore, locator MatchLocator, audit AuditWriter, escrowAddress string) *IntentService {
	return &IntentService{
		intents: intents,
		wallets: wallets,
		refunds: refunds,
		locator: locator,
		audit:   audit,
		escrow:  escrowAddress,
		now:     time.Now,
	}
}

// нарушение уникального ограничения postgres
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// генерирует 256-битный nonce в виде 64 hex символов
func newNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("не удалось сгенерировать nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// CreateJoinIntent создает интент на депозит для входа в ton комнату.
// Идемпотентность: неистекший CREATED интент той же пары
// (игрок, тип комнаты) возвращается как есть, второй ряд не создается -
// защита от двойного списания при ретраях клиента.
func (s *IntentService) CreateJoinIntent(ctx context.Context, playerID int64, roomType domain.RoomType) (*domain.JoinIntent, *domain.PaymentParams, error) {
	preset, err := game.PresetFor(roomType)
	if err != nil {
		return nil, nil, err
	}

	wallet, err := s.wallets.GetByUserID(ctx, playerID)
	if err != nil {
		return nil, nil, err
	}
	if wallet == nil {
		return nil, nil, ErrWalletNotLinked
	}

	if existing, err := s.intents.GetActive(ctx, playerID, roomType, s.now()); err != nil {
		return nil, nil, err
	} else if existing != nil {
		return existing, s.paymentParams(existing), nil
	}

	match, err := s.locator.LocateOrCreateMatch(ctx, roomType)
	if err != nil {
		return nil, nil, err
	}

	roomID, err := ton.MatchIDToRoomID(match.ID)
	if err != nil {
		return nil, nil, err
	}
	s.locator.SetOnChainRoomID(match.ID, roomID)

	nonce, err := newNonce()
	if err != nil {
		return nil, nil, err
	}

	matchID := match.ID
	intent := &domain.JoinIntent{
		ID:            uuid.New().String(),
		MatchID:       &matchID,
		OnChainRoomID: &roomID,
		PlayerID:      playerID,
		WalletID:      wallet.ID,
		RoomType:      roomType,
		StakeNano:     preset.EntryFee,
		Nonce:         nonce,
		Status:        domain.IntentCreated,
		ExpiresAt:     s.now().Add(ton.IntentTTL),
		CreatedAt:     s.now(),
	}
	if err := s.intents.Create(ctx, intent); err != nil {
		// два конкурентных ретрая прошли проверку GetActive одновременно;
		// частичный уникальный индекс (player_id, room_type) WHERE
		// status = 'CREATED' пропускает только одного, второму отдаем
		// выигравший интент
		if isUniqueViolation(err) {
			existing, gerr := s.intents.GetActive(ctx, playerID, roomType, s.now())
			if gerr == nil && existing != nil {
				return existing, s.paymentParams(existing), nil
			}
		}
		return nil, nil, err
	}

	s.writeAudit(ctx, playerID, domain.AuditActionIntentCreated, map[string]interface{}{
		"intent_id":  intent.ID,
		"match_id":   matchID,
		"stake_nano": intent.StakeNano,
	})
	logger.Get().Info("создан интент на депозит",
		"intent", intent.ID, "player", playerID, "match", matchID, "stake_nano", intent.StakeNano)

	return intent, s.paymentParams(intent), nil
}

// собирает параметры платежа для TON Connect. Адрес отдаем в
// user-friendly форме, кошельки с raw работают неохотно.
func (s *IntentService) paymentParams(i *domain.JoinIntent) *domain.PaymentParams {
	var roomID uint64
	if i.OnChainRoomID != nil {
		roomID = *i.OnChainRoomID
	}
	destination := s.escrow
	if friendly, err := ton.RawToUserFriendly(s.escrow, true); err == nil {
		destination = friendly
	}
	return &domain.PaymentParams{
		Destination: destination,
		AmountNano:  i.StakeNano + ton.GasReserveNano,
		Comment:     ton.BuildJoinComment(roomID, i.Nonce),
	}
}

// HasActiveIntent - есть ли у игрока неистекший CREATED интент.
// Используется как защита от отвязки кошелька посреди оплаты.
func (s *IntentService) HasActiveIntent(ctx context.Context, playerID int64) (bool, error) {
	i, err := s.intents.GetActive(ctx, playerID, domain.RoomTON, s.now())
	if err != nil {
		return false, err
	}
	return i != nil, nil
}

// GetIntent возвращает интент по id (nil если не найден)
func (s *IntentService) GetIntent(ctx context.Context, id string) (*domain.JoinIntent, error) {
	return s.intents.GetByID(ctx, id)
}

// SetDeposits подключает хранилище депозитов для проверки платежей
func (s *IntentService) SetDeposits(deposits DepositStore) {
	s.deposits = deposits
}

// PaymentVerification - итог пользовательской проверки платежа
type PaymentVerification struct {
	IntentID    string              `json:"intent_id"`
	Status      domain.IntentStatus `json:"status"`
	TxHash      string              `json:"tx_hash,omitempty"`
	AmountNano  int64               `json:"amount_nano,omitempty"`
	AmountValid bool                `json:"amount_valid"`
	Verified    bool                `json:"verified"`
	Reason      string              `json:"reason,omitempty"`
}

// VerifyEntryPayment сверяет транзакцию игрока с его интентом: депозит
// должен существовать, принадлежать этому интенту и почти точно
// совпадать по сумме с запрошенной (stake + газовый резерв). В отличие
// от сканера, который молча отбрасывает чужие транзакции, здесь каждое
// несоответствие возвращается игроку явно. Чужой или несуществующий
// интент - nil.
func (s *IntentService) VerifyEntryPayment(ctx context.Context, playerID int64, intentID, txHash string) (*PaymentVerification, error) {
	if s.deposits == nil {
		return nil, errors.New("проверка платежей не настроена")
	}

	intent, err := s.intents.GetByID(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent == nil || intent.PlayerID != playerID {
		return nil, nil
	}

	res := &PaymentVerification{IntentID: intent.ID, Status: intent.Status}

	d, err := s.deposits.GetByTxHash(ctx, txHash)
	if err != nil {
		return nil, err
	}
	if d == nil {
		res.Reason = "транзакция не найдена среди депозитов"
		return res, nil
	}
	if d.JoinIntentID != intent.ID {
		res.Reason = "транзакция оплачивает другой интент"
		return res, nil
	}

	res.TxHash = d.TxHash
	res.AmountNano = d.AmountNano
	res.AmountValid = ton.ValidateDepositAmount(d.AmountNano, intent.StakeNano+ton.GasReserveNano)
	if !res.AmountValid {
		res.Reason = "сумма депозита не совпадает с запрошенной"
	}
	res.Verified = res.AmountValid && intent.Status == domain.IntentPaid
	return res, nil
}

// CancelExpiredIntents переводит все просроченные CREATED интенты в
// CANCELLED. Запускается свипером по расписанию.
func (s *IntentService) CancelExpiredIntents(ctx context.Context) (int64, error) {
	n, err := s.intents.CancelExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Get().Info("отменены просроченные интенты", "count", n)
	}
	return n, nil
}

// MarkIntentPaid переводит интент CREATED -> PAID. Любой другой исходный
// статус - ошибка состояния: это последний рубеж против двойной оплаты
// и оплаты отмененного интента.
func (s *IntentService) MarkIntentPaid(ctx context.Context, intentID, txHash string) error {
	ok, err := s.intents.Transition(ctx, intentID, domain.IntentCreated, domain.IntentPaid)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: интент %s не в статусе CREATED", ErrInvalidState, intentID)
	}

	i, err := s.intents.GetByID(ctx, intentID)
	if err == nil && i != nil {
		s.writeAudit(ctx, i.PlayerID, domain.AuditActionIntentPaid, map[string]interface{}{
			"intent_id": intentID,
			"tx_hash":   txHash,
		})
	}
	return nil
}

// GetPaidIntentForJoin находит PAID интент игрока, привязанный именно к
// этому матчу. Так join-поток подтверждает право игрока войти в
// конкретный on-chain матч.
func (s *IntentService) GetPaidIntentForJoin(ctx context.Context, playerID int64, matchID string) (*domain.JoinIntent, error) {
	return s.intents.GetPaidForMatch(ctx, playerID, matchID)
}

// GetPaidIntentForPlayer - свежайший оплаченный интент игрока для типа
// комнаты; вход в ton комнату возможен только при его наличии
func (s *IntentService) GetPaidIntentForPlayer(ctx context.Context, playerID int64, roomType domain.RoomType) (*domain.JoinIntent, error) {
	return s.intents.GetPaidByPlayer(ctx, playerID, roomType)
}

// CreateRefundForPlayer оформляет возврат депозита при выходе игрока до
// старта матча. Если PAID интента нет - возврат не нужен (nil, nil), это
// не ошибка: игрок мог играть бесплатную комнату. Повторный вызов
// возвращает уже существующий возврат.
func (s *IntentService) CreateRefundForPlayer(ctx context.Context, playerID int64, matchID string, reason domain.RefundReason) (*domain.Refund, error) {
	intent, err := s.intents.GetDepositedForMatch(ctx, playerID, matchID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, nil
	}

	if existing, err := s.refunds.GetByIntentID(ctx, intent.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	if intent.Status != domain.IntentPaid {
		// REFUNDED без записи возврата - рассинхронизация, требует рук
		return nil, fmt.Errorf("интент %s в статусе %s без записи возврата", intent.ID, intent.Status)
	}

	wallet, err := s.wallets.GetByID(ctx, intent.WalletID)
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, fmt.Errorf("кошелек %d интента %s не найден", intent.WalletID, intent.ID)
	}

	refund := &domain.Refund{
		ID:           uuid.New().String(),
		JoinIntentID: intent.ID,
		AmountNano:   intent.StakeNano,
		ToAddress:    wallet.Address,
		Status:       domain.RefundStatusPending,
		Reason:       reason,
	}
	if err := s.refunds.Create(ctx, refund); err != nil {
		return nil, err
	}

	ok, err := s.intents.Transition(ctx, intent.ID, domain.IntentPaid, domain.IntentRefunded)
	if err != nil {
		return nil, err
	}
	if !ok {
		// возврат уже записан, а статус увел кто-то другой - фиксируем
		// громко, деньги требуют ручного разбора
		logger.Get().Error("интент не перешел в REFUNDED после создания возврата",
			"intent", intent.ID, "refund", refund.ID)
	}

	s.writeAudit(ctx, playerID, domain.AuditActionRefundCreated, map[string]interface{}{
		"intent_id":   intent.ID,
		"refund_id":   refund.ID,
		"amount_nano": refund.AmountNano,
		"reason":      string(reason),
	})
	logger.Get().Info("создан возврат депозита",
		"refund", refund.ID, "intent", intent.ID, "player", playerID, "amount_nano", refund.AmountNano)

	return refund, nil
}

func (s *IntentService) writeAudit(ctx context.Context, userID int64, action string, details map[string]interface{}) {
	if s.audit == nil {
		return
	}
	entry := &domain.AuditLog{
		UserID:   userID,
		Action:   action,
		Category: domain.AuditCategoryPayment,
		Details:  details,
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		logger.Get().Warn("не удалось записать аудит", "action", action, "error", err)
	}
}
