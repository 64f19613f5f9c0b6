package game

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"tapduel/internal/domain"
)

var (
	// операция вызвана не в той фазе жизненного цикла
	ErrInvalidState = errors.New("недопустимое состояние матча")
	// все раунды матча уже сыграны
	ErrRoundsExhausted = errors.New("раунды исчерпаны")
	// нет активного раунда
	ErrNoActiveRound = errors.New("раунд не запущен")
)

const (
	// границы случайной длительности раунда, мс.
	// Непредсказуемый дедлайн - игроки не могут подгадать нажатие
	// по известным часам.
	RoundMinMs = 5000
	RoundMaxMs = 15000
)

// Engine - машина состояний раундов одного матча. Сам ничего не
// планирует: владеющий оркестратор (ws комната) взводит таймер и
// дергает EndRound. Engine не защищен мьютексом, синхронизацию дает
// вызывающая сторона.
type Engine struct {
	now    func() time.Time
	randMs func() int64
}

func NewEngine() *Engine {
	return &Engine{
		now: time.Now,
		randMs: func() int64 {
			return RoundMinMs + rand.Int63n(RoundMaxMs-RoundMinMs)
		},
	}
}

// StartRound запускает следующий раунд: сбрасывает нажатия, двигает
// счетчик раундов и взводит случайный дедлайн.
func (e *Engine) StartRound(m *domain.Match) error {
	if m.Status != domain.MatchPlaying {
		return fmt.Errorf("%w: статус %s", ErrInvalidState, m.Status)
	}

	preset, err := PresetFor(m.RoomType)
	if err != nil {
		return err
	}
	if m.CurrentRound >= preset.Rounds {
		return fmt.Errorf("%w: %d/%d", ErrRoundsExhausted, m.CurrentRound, preset.Rounds)
	}
	if m.RoundStartTime != nil {
		return fmt.Errorf("%w: раунд уже идет", ErrInvalidState)
	}

	for _, p := range m.Players {
		p.PressTime = nil
		p.Position = nil
	}

	m.CurrentRound++
	start := e.now()
	deadline := e.randMs()
	m.RoundStartTime = &start
	m.RoundEndTime = &deadline

	return nil
}

// RecordPress фиксирует нажатие игрока. Учитывается только первое
// нажатие за раунд, повторные клики молча игнорируются. Момент нажатия
// приватен до конца раунда.
func (e *Engine) RecordPress(m *domain.Match, playerID int64) (int64, error) {
	if m.RoundStartTime == nil {
		return 0, ErrNoActiveRound
	}

	p := m.FindPlayer(playerID)
	if p == nil {
		return 0, fmt.Errorf("игрок %d не в матче %s", playerID, m.ID)
	}

	if p.PressTime != nil {
		// дубль клика - не ошибка
		return *p.PressTime, nil
	}

	elapsed := e.now().Sub(*m.RoundStartTime).Milliseconds()
	p.PressTime = &elapsed
	return elapsed, nil
}

// ShouldEndRound - чистый предикат для внешнего планировщика
func (e *Engine) ShouldEndRound(m *domain.Match) bool {
	if m.RoundStartTime == nil || m.RoundEndTime == nil {
		return false
	}
	return e.now().Sub(*m.RoundStartTime).Milliseconds() >= *m.RoundEndTime
}

// EndRound подводит итог раунда. Валидное нажатие - не позже дедлайна;
// ранжируем по близости к дедлайну снизу: чем меньше (дедлайн - нажатие),
// тем выше место. Место k дает max(1, 10-k) очков, промах - 0.
func (e *Engine) EndRound(m *domain.Match) (*domain.RoundResult, error) {
	if m.RoundStartTime == nil || m.RoundEndTime == nil {
		return nil, ErrNoActiveRound
	}

	deadline := *m.RoundEndTime

	var valid []*domain.Player
	for _, p := range m.Players {
		if p.PressTime != nil && *p.PressTime <= deadline {
			valid = append(valid, p)
		}
	}

	sort.SliceStable(valid, func(i, j int) bool {
		return deadline-*valid[i].PressTime < deadline-*valid[j].PressTime
	})

	result := domain.RoundResult{
		Round:   m.CurrentRound,
		EndedAt: e.now(),
	}

	for rank, p := range valid {
		pos := rank + 1
		score := 10 - pos
		if score < 1 {
			score = 1
		}
		p.Position = &pos
		p.Score += score
		result.Results = append(result.Results, domain.PlayerRoundScore{
			PlayerID:  p.ID,
			PressTime: p.PressTime,
			Position:  p.Position,
			Score:     score,
		})
	}

	for _, p := range m.Players {
		if p.Position == nil {
			result.Results = append(result.Results, domain.PlayerRoundScore{
				PlayerID:  p.ID,
				PressTime: p.PressTime, // нажатие после дедлайна тоже попадает в историю
				Score:     0,
			})
		}
	}

	m.RoundResults = append(m.RoundResults, result)
	m.RoundStartTime = nil
	m.RoundEndTime = nil

	preset, err := PresetFor(m.RoomType)
	if err != nil {
		return nil, err
	}
	if m.CurrentRound >= preset.Rounds {
		m.Status = domain.MatchFinished
		finished := e.now()
		m.FinishedAt = &finished
	}

	return &result, nil
}
