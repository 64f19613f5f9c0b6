package domain

import "time"

// Тип комнаты определяет способ расчета за вход
type RoomType string

const (
	RoomFree  RoomType = "free"
	RoomStars RoomType = "stars"
	RoomTON   RoomType = "ton"
)

// Статус матча, движется только вперед
type MatchStatus string

const (
	MatchWaiting  MatchStatus = "waiting"
	MatchPlaying  MatchStatus = "playing"
	MatchFinished MatchStatus = "finished"
)

// Игрок внутри матча. PressTime и Position живут только в рамках раунда
// и сбрасываются при старте следующего.
type Player struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	PressTime *int64 `json:"press_time,omitempty"` // мс от начала раунда
	Position  *int   `json:"position,omitempty"`
}

// Результат одного игрока в раунде
type PlayerRoundScore struct {
	PlayerID  int64  `json:"player_id"`
	PressTime *int64 `json:"press_time,omitempty"`
	Position  *int   `json:"position,omitempty"`
	Score     int    `json:"score"`
}

// Итог завершенного раунда, история неизменяемая
type RoundResult struct {
	Round   int                `json:"round"`
	Results []PlayerRoundScore `json:"results"`
	EndedAt time.Time          `json:"ended_at"`
}

// Центральный агрегат. Players - активный состав, AllPlayers - все кто
// когда-либо заходил (нужно для честного расчета после дисконнектов).
type Match struct {
	ID       string      `json:"id"` // формат match_<мс>_<суффикс>
	RoomType RoomType    `json:"room_type"`
	Status   MatchStatus `json:"status"`

	Players    []*Player `json:"players"`
	AllPlayers []*Player `json:"all_players"`

	CurrentRound   int           `json:"current_round"`
	RoundResults   []RoundResult `json:"round_results"`
	RoundStartTime *time.Time    `json:"round_start_time,omitempty"`
	RoundEndTime   *int64        `json:"round_end_time,omitempty"` // дедлайн раунда в мс от старта

	// одноразовый флаг: расчет (статы + выплаты) выполняется ровно один раз
	StatsUpdated bool `json:"stats_updated"`

	OnChainRoomID uint64 `json:"on_chain_room_id,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ищет игрока в активном составе
func (m *Match) FindPlayer(playerID int64) *Player {
	for _, p := range m.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

// ищет игрока среди всех когда-либо заходивших
func (m *Match) FindAnyPlayer(playerID int64) *Player {
	for _, p := range m.AllPlayers {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}
