package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"tapduel/internal/domain"
	"tapduel/internal/game"
	"tapduel/internal/matchmaker"
	"tapduel/internal/metrics"
	"tapduel/internal/service"
)

const (
	// пауза между набором полного состава и первым раундом
	startDelay = 1 * time.Second
	// пауза между раундами, чтобы клиенты успели показать итоги
	interRoundDelay = 2 * time.Second

	handlerTimeout = 5 * time.Second
)

// Hub - оркестратор игрового цикла. Владеет таблицей соединений и
// подписок на интенты; мутации матчей (старт, нажатия, итоги раундов)
// сериализует своим мьютексом, engine сам не синхронизирован.
// Таймеры раундов взводятся через time.AfterFunc и перепроверяют
// состояние матча при срабатывании: устаревший таймер - no-op.
type Hub struct {
	mm         *matchmaker.Matchmaker
	engine     *game.Engine
	intents    *service.IntentService
	settlement *service.SettlementService
	balances   *service.BalanceService

	mu         sync.Mutex
	clients    map[string]*Client         // socket id -> клиент
	intentSubs map[string]map[string]bool // intent id -> socket id

	refundNotify func(refundID string, amountNano int64, reason string)
}

// SetRefundNotify подключает уведомление дежурных о возвратах,
// созданных игровым циклом
func (h *Hub) SetRefundNotify(fn func(refundID string, amountNano int64, reason string)) {
	h.refundNotify = fn
}

func NewHub(
	mm *matchmaker.Matchmaker,
	engine *game.Engine,
	intents *service.IntentService,
	settlement *service.SettlementService,
	balances *service.BalanceService,
) *Hub {
	return &Hub{
		mm:         mm,
		engine:     engine,
		intents:    intents,
		settlement: settlement,
		balances:   balances,
		clients:    make(map[string]*Client),
		intentSubs: make(map[string]map[string]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	log.Printf("Hub: подключение пользователь=%d socket=%s", c.UserID, c.ID)
}

func (h *Hub) onDisconnect(c *Client) {
	h.leaveCurrentMatch(c)

	h.mu.Lock()
	delete(h.clients, c.ID)
	for intentID, socks := range h.intentSubs {
		delete(socks, c.ID)
		if len(socks) == 0 {
			delete(h.intentSubs, intentID)
		}
	}
	h.mu.Unlock()
	log.Printf("Hub: отключение пользователь=%d socket=%s", c.UserID, c.ID)
}

// HandleMessage - точка входа всех клиентских сообщений
func (h *Hub) HandleMessage(c *Client, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.enqueue(errorEvent("некорректное сообщение"))
		return
	}

	switch msg.Type {
	case EvMatchJoin:
		h.handleJoin(c, domain.RoomType(msg.RoomType))
	case EvMatchLeave:
		h.handleLeave(c)
	case EvMatchStatus:
		h.handleStatus(c, msg.MatchID)
	case EvRoundPress:
		h.handlePress(c)
	case EvIntentSubscribe:
		h.subscribeIntent(c, msg.IntentID)
	case EvIntentUnsubscribe:
		h.unsubscribeIntent(c, msg.IntentID)
	default:
		c.enqueue(errorEvent("неизвестный тип события: " + msg.Type))
	}
}

// handleJoin сажает игрока в матч. Порядок оплаты зависит от типа
// комнаты: free - бесплатно, stars - списание до входа (возврат при
// неудаче), ton - вход строго после подтвержденного депозита, матч
// уже выбран интентом.
func (h *Hub) handleJoin(c *Client, roomType domain.RoomType) {
	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	preset, err := game.PresetFor(roomType)
	if err != nil {
		c.enqueue(errorEvent("неизвестный тип комнаты"))
		return
	}

	player := &domain.Player{ID: c.UserID, Name: c.Name}

	var m *domain.Match
	var already bool

	switch roomType {
	case domain.RoomTON:
		intent, err := h.intents.GetPaidIntentForPlayer(ctx, c.UserID, roomType)
		if err != nil {
			c.enqueue(errorEvent("не удалось проверить депозит"))
			return
		}
		if intent == nil || intent.MatchID == nil {
			c.enqueue(errorEvent("депозит не подтвержден"))
			return
		}
		m, already, err = h.mm.JoinMatch(*intent.MatchID, player)
		if err != nil {
			// матч интента ушел без игрока (заполнился, стартовал) -
			// депозит возвращается
			if refund, rerr := h.intents.CreateRefundForPlayer(ctx, c.UserID, *intent.MatchID, domain.RefundReasonMatchCancelled); rerr != nil {
				log.Printf("Hub.handleJoin: возврат депозита пользователь=%d: %v", c.UserID, rerr)
			} else if refund != nil {
				metrics.RefundsCreated.Inc()
				if h.refundNotify != nil {
					h.refundNotify(refund.ID, refund.AmountNano, string(refund.Reason))
				}
			}
			c.enqueue(errorEvent(err.Error()))
			return
		}

	case domain.RoomStars:
		if h.mm.GetMatchByPlayerID(c.UserID) == nil {
			if err := h.balances.DebitEntryFee(ctx, c.UserID, preset.EntryFee, ""); err != nil {
				c.enqueue(errorEvent("недостаточно stars для входа"))
				return
			}
		}
		m, already, err = h.mm.FindOrCreateMatch(ctx, roomType, player)
		if err != nil {
			if rerr := h.balances.RefundEntryFee(ctx, c.UserID, preset.EntryFee, ""); rerr != nil {
				log.Printf("Hub.handleJoin: возврат stars пользователь=%d: %v", c.UserID, rerr)
			}
			c.enqueue(errorEvent(err.Error()))
			return
		}

	default:
		m, already, err = h.mm.FindOrCreateMatch(ctx, roomType, player)
		if err != nil {
			c.enqueue(errorEvent(err.Error()))
			return
		}
	}

	h.mm.AddSocketToMatch(m.ID, c.ID, c.UserID)

	if already {
		c.enqueue(event(EvMatchAlreadyJoined, map[string]interface{}{"match": m}))
		return
	}

	c.enqueue(event(EvMatchJoined, map[string]interface{}{"match": m}))
	h.sendToMatchExcept(m.ID, c.ID, event(EvMatchPlayerJoined, map[string]interface{}{
		"match":  m,
		"player": player,
	}))

	if h.mm.IsMatchReady(m.ID) {
		if started := h.mm.StartMatch(m.ID); started != nil {
			metrics.MatchesStarted.Inc()
			h.sendToMatch(m.ID, event(EvMatchStarted, map[string]interface{}{"match": started}))
			matchID := m.ID
			time.AfterFunc(startDelay, func() { h.startRound(matchID) })
		}
	}
}

// startRound запускает очередной раунд и взводит таймер его окончания.
// Перед мутацией перепроверяет матч: игроки могли разойтись, пока
// таймер ждал.
func (h *Hub) startRound(matchID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m := h.mm.GetMatch(matchID)
	if m == nil || m.Status != domain.MatchPlaying || m.RoundStartTime != nil {
		return
	}

	if err := h.engine.StartRound(m); err != nil {
		log.Printf("Hub.startRound: матч=%s: %v", matchID, err)
		return
	}

	h.sendToMatchLocked(matchID, event(EvRoundStarted, map[string]interface{}{
		"match":       m,
		"round":       m.CurrentRound,
		"start_time":  m.RoundStartTime,
		"duration_ms": *m.RoundEndTime,
	}))

	round := m.CurrentRound
	deadline := time.Duration(*m.RoundEndTime) * time.Millisecond
	time.AfterFunc(deadline, func() { h.endRound(matchID, round) })

	h.mm.SaveSnapshot(matchID)
}

// endRound подводит итог раунда и либо взводит следующий, либо
// рассчитывает матч. Устаревший таймер (матч ушел вперед или исчез)
// молча ничего не делает.
func (h *Hub) endRound(matchID string, round int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m := h.mm.GetMatch(matchID)
	if m == nil || m.Status != domain.MatchPlaying ||
		m.CurrentRound != round || m.RoundStartTime == nil {
		return
	}

	result, err := h.engine.EndRound(m)
	if err != nil {
		log.Printf("Hub.endRound: матч=%s раунд=%d: %v", matchID, round, err)
		return
	}

	h.sendToMatchLocked(matchID, event(EvRoundEnded, map[string]interface{}{
		"match":  m,
		"result": result,
	}))
	h.mm.SaveSnapshot(matchID)

	if m.Status != domain.MatchFinished {
		time.AfterFunc(interRoundDelay, func() { h.startRound(matchID) })
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if err := h.settlement.SettleMatch(ctx, m); err != nil {
		log.Printf("Hub.endRound: расчет матча %s: %v", matchID, err)
	}
	h.mm.SaveSnapshot(matchID)

	h.sendToMatchLocked(matchID, event(EvMatchFinished, map[string]interface{}{
		"match":       m,
		"winners":     service.Winners(m),
		"all_players": m.AllPlayers,
	}))
	h.mm.PurgeMatch(matchID)
}

// handlePress фиксирует нажатие; подтверждение уходит только нажавшему,
// соперники момент нажатия не видят до конца раунда
func (h *Hub) handlePress(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m := h.mm.GetMatchByPlayerID(c.UserID)
	if m == nil {
		c.enqueue(errorEvent("вы не в матче"))
		return
	}

	pressTime, err := h.engine.RecordPress(m, c.UserID)
	if err != nil {
		c.enqueue(errorEvent(err.Error()))
		return
	}

	c.enqueue(event(EvRoundPlayerPressed, map[string]interface{}{
		"match_id":   m.ID,
		"player_id":  c.UserID,
		"press_time": pressTime,
	}))
}

func (h *Hub) handleLeave(c *Client) {
	if !h.leaveCurrentMatch(c) {
		c.enqueue(errorEvent("вы не в матче"))
		return
	}
	c.enqueue(event(EvMatchLeft, nil))
}

// leaveCurrentMatch выводит игрока из его матча с возвратом взноса,
// если матч еще не начался. Выход из идущего матча взнос не возвращает.
func (h *Hub) leaveCurrentMatch(c *Client) bool {
	m := h.mm.GetMatchByPlayerID(c.UserID)
	if m == nil {
		h.mm.RemoveSocketFromMatch(c.ID)
		return false
	}
	matchID := m.ID
	wasWaiting := m.Status == domain.MatchWaiting

	if wasWaiting {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()

		switch m.RoomType {
		case domain.RoomTON:
			refund, err := h.intents.CreateRefundForPlayer(ctx, c.UserID, matchID, domain.RefundReasonPlayerLeft)
			if err != nil {
				log.Printf("Hub.leaveCurrentMatch: возврат депозита пользователь=%d матч=%s: %v", c.UserID, matchID, err)
			} else if refund != nil {
				metrics.RefundsCreated.Inc()
				if h.refundNotify != nil {
					h.refundNotify(refund.ID, refund.AmountNano, string(refund.Reason))
				}
			}
		case domain.RoomStars:
			if preset, err := game.PresetFor(m.RoomType); err == nil {
				if err := h.balances.RefundEntryFee(ctx, c.UserID, preset.EntryFee, matchID); err != nil {
					log.Printf("Hub.leaveCurrentMatch: возврат stars пользователь=%d: %v", c.UserID, err)
				}
			}
		}
	}

	h.mm.RemovePlayer(c.UserID)
	h.mm.RemoveSocketFromMatch(c.ID)

	h.sendToMatch(matchID, event(EvMatchPlayerLeft, map[string]interface{}{
		"match_id":  matchID,
		"player_id": c.UserID,
	}))
	return true
}

func (h *Hub) handleStatus(c *Client, matchID string) {
	m := h.mm.GetMatch(matchID)
	if m == nil {
		c.enqueue(errorEvent("матч не найден"))
		return
	}
	c.enqueue(event(EvMatchStatus, map[string]interface{}{"match": m}))
}

func (h *Hub) subscribeIntent(c *Client, intentID string) {
	if intentID == "" {
		c.enqueue(errorEvent("intent_id обязателен"))
		return
	}
	h.mu.Lock()
	if h.intentSubs[intentID] == nil {
		h.intentSubs[intentID] = make(map[string]bool)
	}
	h.intentSubs[intentID][c.ID] = true
	h.mu.Unlock()
}

func (h *Hub) unsubscribeIntent(c *Client, intentID string) {
	h.mu.Lock()
	if socks, ok := h.intentSubs[intentID]; ok {
		delete(socks, c.ID)
		if len(socks) == 0 {
			delete(h.intentSubs, intentID)
		}
	}
	h.mu.Unlock()
}

// NotifyIntentPaid доставляет подтверждение депозита: подписчикам
// интента и всем соединениям самого плательщика. Подключается как
// колбэк наблюдателя депозитов.
func (h *Hub) NotifyIntentPaid(n service.PaidNotification) {
	msg := event(EvIntentPaid, map[string]interface{}{
		"intent_id": n.IntentID,
		"status":    string(domain.IntentPaid),
		"tx_hash":   n.TxHash,
	})

	h.mu.Lock()
	targets := make(map[string]*Client)
	for sock := range h.intentSubs[n.IntentID] {
		if c, ok := h.clients[sock]; ok {
			targets[sock] = c
		}
	}
	for sock, c := range h.clients {
		if c.UserID == n.PlayerID {
			targets[sock] = c
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.enqueue(msg)
	}
}

// рассылка всем соединениям матча
func (h *Hub) sendToMatch(matchID string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendToMatchExceptLocked(matchID, "", msg)
}

func (h *Hub) sendToMatchExcept(matchID, exceptSocket string, msg []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendToMatchExceptLocked(matchID, exceptSocket, msg)
}

// вызывать под h.mu
func (h *Hub) sendToMatchLocked(matchID string, msg []byte) {
	h.sendToMatchExceptLocked(matchID, "", msg)
}

func (h *Hub) sendToMatchExceptLocked(matchID, exceptSocket string, msg []byte) {
	for _, sock := range h.mm.GetMatchSockets(matchID) {
		if sock == exceptSocket {
			continue
		}
		if c, ok := h.clients[sock]; ok {
			c.enqueue(msg)
		}
	}
}
