package ton

import "time"

const (
	// наименьшая единица TON (1 TON = 10^9 наноTON)
	NanoTON = 1_000_000_000

	// газовый резерв поверх ставки, остаток возвращается контрактом
	GasReserveNano = 50_000_000 // 0.05 TON

	// допуск при сверке суммы депозита (округления кошельков)
	AmountToleranceNano = 1_000_000 // 0.001 TON

	// время жизни интента на депозит
	IntentTTL = 5 * time.Minute

	// окно свежести депозита: старше - отбрасываем как устаревший
	DepositMaxAge = 15 * time.Minute

	// допуск на рассинхронизацию часов (время блока в будущем)
	DepositMaxClockSkew = 60 * time.Second

	// интервал опроса новых депозитов
	DepositCheckInterval = 30 * time.Second

	// время жизни доказательства TON Connect
	ProofTTL = 15 * time.Minute
)

// тип сети TON
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
)

// конечные точки TON API
const (
	TonAPIMainnet = "https://tonapi.io/v2"
	TonAPITestnet = "https://testnet.tonapi.io/v2"
)

// конвертирует TON в наноTON
func TONToNano(ton float64) int64 {
	return int64(ton * NanoTON)
}

// конвертирует наноTON в TON
func NanoToTON(nano int64) float64 {
	return float64(nano) / NanoTON
}

// ValidateDepositAmount сверяет сумму с ожидаемой на пользовательском
// пути верификации платежа: отклонение больше допуска в любую сторону -
// отказ. Все сравнения в целых нано, без float.
func ValidateDepositAmount(amountNano, expectedNano int64) bool {
	diff := amountNano - expectedNano
	if diff < 0 {
		diff = -diff
	}
	return diff <= AmountToleranceNano
}

// MeetsEntryFee проверяет, покрывает ли депозит входную ставку с учетом
// допуска на округление. Переплата здесь валидна, ее логирует воркер.
func MeetsEntryFee(amountNano, entryFeeNano int64) bool {
	return amountNano >= entryFeeNano-AmountToleranceNano
}
