package ton

import (
	"strings"
	"testing"
)

func TestJoinComment_RoundTrip(t *testing.T) {
	nonce := strings.Repeat("ab", 32) // 64 hex символа
	comment := BuildJoinComment(111486746187661312, nonce)

	roomID, parsedNonce, ok := ParseJoinComment(comment)
	if !ok {
		t.Fatalf("валидный комментарий не распарсился: %s", comment)
	}
	if roomID != 111486746187661312 {
		t.Fatalf("room id не совпал: %d", roomID)
	}
	if parsedNonce != nonce {
		t.Fatalf("nonce не совпал: %s", parsedNonce)
	}
}

func TestParseJoinComment_Rejects(t *testing.T) {
	good := strings.Repeat("0f", 32)
	bad := []string{
		"",
		"join:123",
		"join:123:" + good + ":extra",
		"leave:123:" + good,
		"join:abc:" + good,
		"join:123:" + good[:63],          // короткий nonce
		"join:123:" + good + "0",         // длинный nonce
		"join:123:" + strings.Repeat("G", 64), // не hex
		"join:123:" + strings.ToUpper(good),   // верхний регистр не принимаем
	}

	for _, c := range bad {
		if _, _, ok := ParseJoinComment(c); ok {
			t.Fatalf("ожидался отказ для комментария %q", c)
		}
	}
}

func TestValidateDepositAmount_ToleranceBoundary(t *testing.T) {
	// 0.1005 TON против ожидаемых 0.1 TON - в пределах допуска
	if !ValidateDepositAmount(TONToNano(0.1005), TONToNano(0.1)) {
		t.Fatalf("0.1005 против 0.1 должно пройти")
	}
	// 0.102 TON против 0.1 TON - за границей допуска 0.001
	if ValidateDepositAmount(TONToNano(0.102), TONToNano(0.1)) {
		t.Fatalf("0.102 против 0.1 должно быть отклонено")
	}
}

func TestMeetsEntryFee(t *testing.T) {
	fee := TONToNano(1.0)

	if !MeetsEntryFee(fee, fee) {
		t.Fatalf("точная сумма должна покрывать ставку")
	}
	if !MeetsEntryFee(fee-AmountToleranceNano, fee) {
		t.Fatalf("недобор в пределах допуска должен покрывать ставку")
	}
	if MeetsEntryFee(fee-AmountToleranceNano-1, fee) {
		t.Fatalf("недобор за пределами допуска должен быть отклонен")
	}
	// переплата валидна, воркер только логирует аномалию
	if !MeetsEntryFee(fee*3, fee) {
		t.Fatalf("переплата не должна наказываться")
	}
}
