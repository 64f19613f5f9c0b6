package game

import (
	"errors"
	"fmt"

	"tapduel/internal/domain"
	"tapduel/internal/ton"
)

var ErrRoomPresetNotFound = errors.New("пресет комнаты не найден")

// RoomPreset - статичная конфигурация типа комнаты. Никогда не мутирует
// в рантайме.
type RoomPreset struct {
	ID             string          `json:"id"`
	Type           domain.RoomType `json:"type"`
	EntryFee       int64           `json:"entry_fee"` // нано для ton, целые stars, 0 для free
	Currency       domain.Currency `json:"currency"`
	MaxPlayers     int             `json:"max_players"`
	Rounds         int             `json:"rounds"`
	PlatformFeePct int             `json:"platform_fee_pct"`
}

var presets = map[domain.RoomType]*RoomPreset{
	domain.RoomFree: {
		ID:             "room_free",
		Type:           domain.RoomFree,
		EntryFee:       0,
		Currency:       domain.CurrencyPoints,
		MaxPlayers:     10,
		Rounds:         3,
		PlatformFeePct: 0,
	},
	domain.RoomStars: {
		ID:             "room_stars",
		Type:           domain.RoomStars,
		EntryFee:       50,
		Currency:       domain.CurrencyStars,
		MaxPlayers:     10,
		Rounds:         3,
		PlatformFeePct: 10,
	},
	domain.RoomTON: {
		ID:             "room_ton",
		Type:           domain.RoomTON,
		EntryFee:       ton.NanoTON / 10, // 0.1 TON
		Currency:       domain.CurrencyTON,
		MaxPlayers:     4,
		Rounds:         3,
		PlatformFeePct: 10,
	},
}

// PresetFor возвращает пресет по типу комнаты
func PresetFor(roomType domain.RoomType) (*RoomPreset, error) {
	p, ok := presets[roomType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomPresetNotFound, roomType)
	}
	return p, nil
}

// Presets возвращает все сконфигурированные пресеты
func Presets() []*RoomPreset {
	out := make([]*RoomPreset, 0, len(presets))
	for _, t := range []domain.RoomType{domain.RoomFree, domain.RoomStars, domain.RoomTON} {
		if p, ok := presets[t]; ok {
			out = append(out, p)
		}
	}
	return out
}
