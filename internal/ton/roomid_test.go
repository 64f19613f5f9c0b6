package ton

import (
	"errors"
	"testing"
)

func TestMatchIDToRoomID_Deterministic(t *testing.T) {
	id := "match_1700000000000_a1b2c3"

	first, err := MatchIDToRoomID(id)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	second, err := MatchIDToRoomID(id)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if first != second {
		t.Fatalf("деривация недетерминирована: %d != %d", first, second)
	}

	// старшие биты - это миллисекунды создания
	if first>>16 != 1700000000000 {
		t.Fatalf("старшие биты должны быть timestamp: %d", first>>16)
	}
}

func TestMatchIDToRoomID_SameMillisecond(t *testing.T) {
	a, err := MatchIDToRoomID("match_1700000000000_abc123")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	b, err := MatchIDToRoomID("match_1700000000000_xyz789")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if a == b {
		t.Fatalf("разные суффиксы одной миллисекунды дали одинаковый room id: %d", a)
	}
}

func TestMatchIDToRoomID_Malformed(t *testing.T) {
	bad := []string{
		"",
		"match_",
		"match_abc_def",
		"game_1700000000000_abc",
		"match_1700000000000",
		"match_1700000000000_",
		"match_1700000000000_ab!c",
	}

	for _, id := range bad {
		if _, err := MatchIDToRoomID(id); !errors.Is(err, ErrMalformedMatchID) {
			t.Fatalf("ожидалась ErrMalformedMatchID для %q, получено: %v", id, err)
		}
	}
}
