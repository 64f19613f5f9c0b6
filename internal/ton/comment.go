package ton

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Формат комментария депозита: join:<roomId>:<nonce>.
// Nonce - ровно 64 hex символа в нижнем регистре; все прочее считаем
// чужим или подделанным комментарием и отбрасываем.

var nonceRe = regexp.MustCompile(`^[0-9a-f]{64}$`)

// BuildJoinComment собирает комментарий для транзакции депозита
func BuildJoinComment(roomID uint64, nonce string) string {
	return fmt.Sprintf("join:%d:%s", roomID, nonce)
}

// ParseJoinComment разбирает комментарий депозита. Возвращает ok=false
// для любого сообщения, не проходящего строгую самопроверку формата.
func ParseJoinComment(comment string) (roomID uint64, nonce string, ok bool) {
	parts := strings.Split(strings.TrimSpace(comment), ":")
	if len(parts) != 3 || parts[0] != "join" {
		return 0, "", false
	}

	roomID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, "", false
	}

	if !nonceRe.MatchString(parts[2]) {
		return 0, "", false
	}

	return roomID, parts[2], true
}

// ValidNonce проверяет, что строка - валидный 64-символьный hex nonce
func ValidNonce(nonce string) bool {
	return nonceRe.MatchString(nonce)
}
