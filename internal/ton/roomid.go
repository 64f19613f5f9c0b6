package ton

import (
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
)

// Детерминированная привязка внутреннего id матча к uint64 room id
// escrow контракта. Старшие биты - миллисекунды создания, поэтому room id
// монотонно растут во времени; младшие 16 бит - короткий хэш случайного
// суффикса, различающий матчи одной миллисекунды.

var ErrMalformedMatchID = errors.New("неверный формат id матча")

var matchIDRe = regexp.MustCompile(`^match_(\d+)_([A-Za-z0-9]+)$`)

// MatchIDToRoomID выводит on-chain room id из id матча вида
// match_<мс>_<суффикс>. Никакого тихого fallback: непредсказуемая
// деривация сломала бы привязку матча к escrow комнате.
func MatchIDToRoomID(matchID string) (uint64, error) {
	m := matchIDRe.FindStringSubmatch(matchID)
	if m == nil {
		return 0, fmt.Errorf("%w: %s", ErrMalformedMatchID, matchID)
	}

	tsMs, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMalformedMatchID, matchID)
	}

	h := fnv.New32a()
	h.Write([]byte(m[2]))
	suffixHash16 := uint64(h.Sum32() & 0xFFFF)

	return tsMs<<16 | suffixHash16, nil
}
