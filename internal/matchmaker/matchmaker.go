package matchmaker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"tapduel/internal/domain"
	"tapduel/internal/game"
	"tapduel/internal/logger"
)

// MatchStore - долговременное хранилище матчей. Сохранения best-effort:
// живая игра в памяти не должна останавливаться из-за недоступной базы.
type MatchStore interface {
	SaveMatch(ctx context.Context, m *domain.Match) error
	DeleteMatch(ctx context.Context, id string) error
	// waiting матчи типа, старые первыми (first-come-first-serve)
	FindWaitingMatches(ctx context.Context, roomType domain.RoomType) ([]*domain.Match, error)
}

// ActiveMatch - рантайм-обертка матча с привязанными соединениями.
// Никогда не персистится.
type ActiveMatch struct {
	Match   *domain.Match
	Sockets map[string]struct{}
}

// Matchmaker владеет таблицей активных матчей и всеми отображениями
// игрок/сокет/матч. Все остальные компоненты ходят к состоянию матчей
// только через его методы и не кэшируют матч через точки ожидания.
type Matchmaker struct {
	mu             sync.RWMutex
	matches        map[string]*ActiveMatch
	playerToMatch  map[int64]string
	socketToPlayer map[string]int64
	socketToMatch  map[string]string

	store MatchStore
	now   func() time.Time
}

func New(store MatchStore) *Matchmaker {
	return &Matchmaker{
		matches:        make(map[string]*ActiveMatch),
		playerToMatch:  make(map[int64]string),
		socketToPlayer: make(map[string]int64),
		socketToMatch:  make(map[string]string),
		store:          store,
		now:            time.Now,
	}
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randomSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = suffixAlphabet[rand.Intn(len(suffixAlphabet))]
	}
	return string(b)
}

// NewMatchID собирает id вида match_<мс>_<суффикс>
func (mm *Matchmaker) NewMatchID() string {
	return fmt.Sprintf("match_%d_%s", mm.now().UnixMilli(), randomSuffix(8))
}

// FindOrCreateMatch сажает игрока в ожидающий матч его типа комнаты,
// либо восстанавливает жизнеспособный waiting матч из базы, либо создает
// новый. Повторный join участника - no-op, возвращает его матч
// (already=true).
func (mm *Matchmaker) FindOrCreateMatch(ctx context.Context, roomType domain.RoomType, player *domain.Player) (m *domain.Match, already bool, err error) {
	preset, err := game.PresetFor(roomType)
	if err != nil {
		return nil, false, err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	if m := mm.memberMatchLocked(player.ID); m != nil {
		return m, true, nil
	}
	candidateID := mm.findWaitingLocked(roomType, preset)

	// кандидата в памяти нет - пробуем восстановить брошенный waiting
	// матч из базы, старые первыми. Блокировка отпускается только на
	// время запроса к базе.
	if candidateID == "" && mm.store != nil {
		mm.mu.Unlock()
		restoredID := mm.restoreWaiting(ctx, roomType, preset)
		mm.mu.Lock()

		// пока блокировка была отпущена, конкурентный join мог посадить
		// этого игрока или создать подходящий матч - ищем заново
		if m := mm.memberMatchLocked(player.ID); m != nil {
			return m, true, nil
		}
		candidateID = mm.findWaitingLocked(roomType, preset)
		if candidateID == "" {
			// восстановленный матч годится, даже пустой
			candidateID = restoredID
		}
	}

	if candidateID != "" {
		if am, ok := mm.matches[candidateID]; ok &&
			am.Match.Status == domain.MatchWaiting &&
			len(am.Match.Players) < preset.MaxPlayers {
			mm.addPlayerLocked(am.Match, player)
			mm.saveAsyncLocked(am.Match)
			return am.Match, false, nil
		}
	}

	newMatch := &domain.Match{
		ID:        mm.NewMatchID(),
		RoomType:  roomType,
		Status:    domain.MatchWaiting,
		CreatedAt: mm.now(),
	}
	mm.matches[newMatch.ID] = &ActiveMatch{
		Match:   newMatch,
		Sockets: make(map[string]struct{}),
	}
	mm.addPlayerLocked(newMatch, player)
	mm.saveAsyncLocked(newMatch)

	return newMatch, false, nil
}

// LocateOrCreateMatch находит ожидающий незаполненный матч типа комнаты
// или создает новый, не добавляя игрока. Нужен при создании интента:
// в ton матч игрок попадает только после подтверждения депозита, но
// интент должен быть привязан к конкретному матчу заранее.
func (mm *Matchmaker) LocateOrCreateMatch(ctx context.Context, roomType domain.RoomType) (*domain.Match, error) {
	preset, err := game.PresetFor(roomType)
	if err != nil {
		return nil, err
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	var bestID string
	var bestCreated time.Time
	for id, am := range mm.matches {
		m := am.Match
		if m.RoomType != roomType || m.Status != domain.MatchWaiting {
			continue
		}
		// пустой матч тоже годится: его мог создать чужой интент
		if len(m.Players) >= preset.MaxPlayers {
			continue
		}
		if bestID == "" || m.CreatedAt.Before(bestCreated) {
			bestID = id
			bestCreated = m.CreatedAt
		}
	}
	if bestID != "" {
		return mm.matches[bestID].Match, nil
	}

	newMatch := &domain.Match{
		ID:        mm.NewMatchID(),
		RoomType:  roomType,
		Status:    domain.MatchWaiting,
		CreatedAt: mm.now(),
	}
	mm.matches[newMatch.ID] = &ActiveMatch{
		Match:   newMatch,
		Sockets: make(map[string]struct{}),
	}
	mm.saveAsyncLocked(newMatch)
	return newMatch, nil
}

// JoinMatch сажает игрока в конкретный матч (ton: матч выбран еще на
// этапе интента). Валидация статуса и вместимости под блокировкой.
// Повторный join участника - no-op (already=true).
func (mm *Matchmaker) JoinMatch(matchID string, player *domain.Player) (m *domain.Match, already bool, err error) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	am, ok := mm.matches[matchID]
	if !ok {
		return nil, false, fmt.Errorf("матч %s не найден", matchID)
	}
	if am.Match.FindPlayer(player.ID) != nil {
		return am.Match, true, nil
	}

	preset, err := game.PresetFor(am.Match.RoomType)
	if err != nil {
		return nil, false, err
	}
	if am.Match.Status != domain.MatchWaiting {
		return nil, false, fmt.Errorf("матч %s уже начался", matchID)
	}
	if len(am.Match.Players) >= preset.MaxPlayers {
		return nil, false, fmt.Errorf("матч %s заполнен", matchID)
	}

	mm.addPlayerLocked(am.Match, player)
	mm.saveAsyncLocked(am.Match)
	return am.Match, false, nil
}

// SetOnChainRoomID записывает матчу производный on-chain идентификатор
func (mm *Matchmaker) SetOnChainRoomID(matchID string, roomID uint64) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	if am, ok := mm.matches[matchID]; ok && am.Match.OnChainRoomID == 0 {
		am.Match.OnChainRoomID = roomID
		mm.saveAsyncLocked(am.Match)
	}
}

// ищет waiting матч типа с 0 < players < max; вызывать под блокировкой
func (mm *Matchmaker) findWaitingLocked(roomType domain.RoomType, preset *game.RoomPreset) string {
	var bestID string
	var bestCreated time.Time
	for id, am := range mm.matches {
		m := am.Match
		if m.RoomType != roomType || m.Status != domain.MatchWaiting {
			continue
		}
		if len(m.Players) == 0 || len(m.Players) >= preset.MaxPlayers {
			continue
		}
		if bestID == "" || m.CreatedAt.Before(bestCreated) {
			bestID = id
			bestCreated = m.CreatedAt
		}
	}
	return bestID
}

// restoreWaiting поднимает из базы старейший жизнеспособный waiting матч
func (mm *Matchmaker) restoreWaiting(ctx context.Context, roomType domain.RoomType, preset *game.RoomPreset) string {
	restored, err := mm.store.FindWaitingMatches(ctx, roomType)
	if err != nil {
		logger.Get().Warn("не удалось восстановить waiting матчи", "room_type", roomType, "error", err)
		return ""
	}

	mm.mu.Lock()
	defer mm.mu.Unlock()

	for _, m := range restored {
		if _, inMem := mm.matches[m.ID]; inMem {
			continue
		}
		if m.Status != domain.MatchWaiting || len(m.Players) >= preset.MaxPlayers {
			continue
		}
		mm.matches[m.ID] = &ActiveMatch{
			Match:   m,
			Sockets: make(map[string]struct{}),
		}
		for _, p := range m.Players {
			mm.playerToMatch[p.ID] = m.ID
		}
		logger.Get().Info("восстановлен waiting матч из базы", "match", m.ID, "players", len(m.Players))
		return m.ID
	}
	return ""
}

// memberMatchLocked возвращает активный матч, в котором игрок уже
// состоит, и чистит устаревшее отображение; вызывать под блокировкой
func (mm *Matchmaker) memberMatchLocked(playerID int64) *domain.Match {
	id, ok := mm.playerToMatch[playerID]
	if !ok {
		return nil
	}
	if am, found := mm.matches[id]; found {
		return am.Match
	}
	delete(mm.playerToMatch, playerID)
	return nil
}

// добавляет игрока в состав, повторное добавление - no-op;
// вызывать под блокировкой
func (mm *Matchmaker) addPlayerLocked(m *domain.Match, player *domain.Player) {
	if m.FindPlayer(player.ID) == nil {
		m.Players = append(m.Players, player)
	}
	if m.FindAnyPlayer(player.ID) == nil {
		m.AllPlayers = append(m.AllPlayers, player)
	}
	mm.playerToMatch[player.ID] = m.ID
}

// GetMatch возвращает матч по id, nil если отсутствует
func (mm *Matchmaker) GetMatch(id string) *domain.Match {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	if am, ok := mm.matches[id]; ok {
		return am.Match
	}
	return nil
}

// GetMatchByPlayerID возвращает активный матч игрока, nil если его нет.
// У игрока не бывает больше одного активного матча.
func (mm *Matchmaker) GetMatchByPlayerID(playerID int64) *domain.Match {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	if id, ok := mm.playerToMatch[playerID]; ok {
		if am, found := mm.matches[id]; found {
			return am.Match
		}
	}
	return nil
}

// StartMatch переводит матч waiting -> playing. Только для полного
// матча минимум из двух игроков: "полная" комната на одного игрока -
// это ошибка конфигурации, такой матч молча не стартует. Возвращает nil
// для нестартуемого матча, вызывающие не считают это исключением.
func (mm *Matchmaker) StartMatch(id string) *domain.Match {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	am, ok := mm.matches[id]
	if !ok {
		return nil
	}
	m := am.Match

	preset, err := game.PresetFor(m.RoomType)
	if err != nil {
		return nil
	}
	if m.Status != domain.MatchWaiting || len(m.Players) != preset.MaxPlayers {
		return nil
	}
	if len(m.Players) < 2 {
		logger.Get().Error("пресет с maxPlayers < 2 - матч не стартует",
			"match", m.ID, "room_type", m.RoomType, "max_players", preset.MaxPlayers)
		return nil
	}

	m.Status = domain.MatchPlaying
	started := mm.now()
	m.StartedAt = &started
	mm.saveAsyncLocked(m)

	return m
}

// IsMatchReady - waiting матч набрал полный состав
func (mm *Matchmaker) IsMatchReady(id string) bool {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	am, ok := mm.matches[id]
	if !ok {
		return false
	}
	preset, err := game.PresetFor(am.Match.RoomType)
	if err != nil {
		return false
	}
	return am.Match.Status == domain.MatchWaiting && len(am.Match.Players) >= preset.MaxPlayers
}

// RemovePlayer убирает игрока из активного состава (из AllPlayers -
// никогда). Опустевший матч выгружается из памяти; если он еще был
// waiting - запись в базе удаляется fire-and-forget, чтобы не копились
// осиротевшие пустые комнаты.
func (mm *Matchmaker) RemovePlayer(playerID int64) *domain.Match {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	id, ok := mm.playerToMatch[playerID]
	if !ok {
		return nil
	}
	delete(mm.playerToMatch, playerID)

	am, ok := mm.matches[id]
	if !ok {
		return nil
	}
	m := am.Match

	for i, p := range m.Players {
		if p.ID == playerID {
			m.Players = append(m.Players[:i], m.Players[i+1:]...)
			break
		}
	}

	if len(m.Players) == 0 {
		delete(mm.matches, id)
		for sock, mid := range mm.socketToMatch {
			if mid == id {
				delete(mm.socketToMatch, sock)
				delete(mm.socketToPlayer, sock)
			}
		}
		if m.Status == domain.MatchWaiting && mm.store != nil {
			go func(matchID string) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := mm.store.DeleteMatch(ctx, matchID); err != nil {
					logger.Get().Warn("не удалось удалить брошенный матч", "match", matchID, "error", err)
				}
			}(id)
		}
	}

	return m
}

// PurgeMatch выгружает завершенный матч из памяти вместе со всеми
// отображениями игроков и сокетов. Запись в базе остается: это история.
func (mm *Matchmaker) PurgeMatch(id string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	am, ok := mm.matches[id]
	if !ok {
		return
	}
	for _, p := range am.Match.Players {
		if mm.playerToMatch[p.ID] == id {
			delete(mm.playerToMatch, p.ID)
		}
	}
	for sock, mid := range mm.socketToMatch {
		if mid == id {
			delete(mm.socketToMatch, sock)
			delete(mm.socketToPlayer, sock)
		}
	}
	delete(mm.matches, id)
}

// AddSocketToMatch привязывает соединение к матчу и игроку
func (mm *Matchmaker) AddSocketToMatch(matchID, socketID string, playerID int64) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if am, ok := mm.matches[matchID]; ok {
		am.Sockets[socketID] = struct{}{}
		mm.socketToMatch[socketID] = matchID
		mm.socketToPlayer[socketID] = playerID
	}
}

// RemoveSocketFromMatch отвязывает соединение
func (mm *Matchmaker) RemoveSocketFromMatch(socketID string) {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if matchID, ok := mm.socketToMatch[socketID]; ok {
		if am, found := mm.matches[matchID]; found {
			delete(am.Sockets, socketID)
		}
	}
	delete(mm.socketToMatch, socketID)
	delete(mm.socketToPlayer, socketID)
}

// GetPlayerBySocket возвращает игрока привязанного к соединению
func (mm *Matchmaker) GetPlayerBySocket(socketID string) (int64, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	playerID, ok := mm.socketToPlayer[socketID]
	return playerID, ok
}

// GetMatchSockets возвращает id соединений матча для рассылки
func (mm *Matchmaker) GetMatchSockets(matchID string) []string {
	mm.mu.RLock()
	defer mm.mu.RUnlock()

	am, ok := mm.matches[matchID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(am.Sockets))
	for s := range am.Sockets {
		out = append(out, s)
	}
	return out
}

// SaveSnapshot сохраняет срез матча в базу best-effort
func (mm *Matchmaker) SaveSnapshot(matchID string) {
	mm.mu.RLock()
	am, ok := mm.matches[matchID]
	if !ok {
		mm.mu.RUnlock()
		return
	}
	snap := snapshotLocked(am.Match)
	mm.mu.RUnlock()

	mm.persistSnapshot(snap)
}

// saveAsyncLocked делает срез под блокировкой и пишет его вне ее
func (mm *Matchmaker) saveAsyncLocked(m *domain.Match) {
	if mm.store == nil {
		return
	}
	snap := snapshotLocked(m)
	go mm.persistSnapshot(snap)
}

func (mm *Matchmaker) persistSnapshot(snap *domain.Match) {
	if mm.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mm.store.SaveMatch(ctx, snap); err != nil {
		// персистентность матчей - best-effort, игра продолжается
		logger.Get().Warn("не удалось сохранить матч", "match", snap.ID, "error", err)
	}
}

// глубокая копия для записи вне блокировки; вызывать под блокировкой
func snapshotLocked(m *domain.Match) *domain.Match {
	snap := *m
	snap.Players = make([]*domain.Player, len(m.Players))
	for i, p := range m.Players {
		cp := *p
		snap.Players[i] = &cp
	}
	snap.AllPlayers = make([]*domain.Player, len(m.AllPlayers))
	for i, p := range m.AllPlayers {
		cp := *p
		snap.AllPlayers[i] = &cp
	}
	snap.RoundResults = append([]domain.RoundResult(nil), m.RoundResults...)
	return &snap
}
