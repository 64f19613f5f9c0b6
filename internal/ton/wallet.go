package ton

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/tlb"
	"github.com/xssnick/tonutils-go/ton"
	"github.com/xssnick/tonutils-go/ton/wallet"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Wallet - горячий кошелек платформы, с него уходят возвраты депозитов
// и выплаты выигрышей
type Wallet struct {
	client  *ton.APIClient
	wallet  *wallet.Wallet
	network Network
}

// SendResult результат отправки транзакции
type SendResult struct {
	TxHash  string
	Success bool
}

// NewWallet создает кошелек из мнемоники (24 слова, V5R1)
func NewWallet(mnemonic string, network Network) (*Wallet, error) {
	configURL := "https://ton.org/global.config.json"
	if network == NetworkTestnet {
		configURL = "https://ton.org/testnet-global.config.json"
	}

	client := liteclient.NewConnectionPool()
	err := client.AddConnectionsFromConfigUrl(context.Background(), configURL)
	if err != nil {
		return nil, fmt.Errorf("не удалось подключиться к lite-серверам: %w", err)
	}

	api := ton.NewAPIClient(client)

	words := strings.Fields(strings.TrimSpace(mnemonic))
	if len(words) != 24 {
		return nil, fmt.Errorf("неверная мнемоника: ожидалось 24 слова, получено %d", len(words))
	}

	// NetworkGlobalID: -239 для mainnet, -3 для testnet
	networkID := int32(-239)
	if network == NetworkTestnet {
		networkID = -3
	}
	w, err := wallet.FromSeed(api, words, wallet.ConfigV5R1Final{
		NetworkGlobalID: networkID,
		Workchain:       0,
	})
	if err != nil {
		return nil, fmt.Errorf("не удалось создать кошелек из seed: %w", err)
	}

	return &Wallet{
		client:  api,
		wallet:  w,
		network: network,
	}, nil
}

// GetAddress возвращает адрес кошелька
func (w *Wallet) GetAddress() string {
	return w.wallet.WalletAddress().String()
}

// GetBalance возвращает баланс кошелька в нанотонах
func (w *Wallet) GetBalance(ctx context.Context) (uint64, error) {
	block, err := w.client.CurrentMasterchainInfo(ctx)
	if err != nil {
		return 0, fmt.Errorf("не удалось получить masterchain info: %w", err)
	}

	acc, err := w.client.GetAccount(ctx, block, w.wallet.WalletAddress())
	if err != nil {
		return 0, fmt.Errorf("не удалось получить аккаунт: %w", err)
	}

	if acc.State == nil {
		// кошелек еще не задеплоен или пуст
		return 0, nil
	}

	return acc.State.Balance.Nano().Uint64(), nil
}

// SendTON отправляет amountNano на адрес с опциональным текстовым
// комментарием. Используется для возвратов и выплат.
func (w *Wallet) SendTON(ctx context.Context, toAddress string, amountNano uint64, comment string) (*SendResult, error) {
	var addr *address.Address
	var err error

	if strings.HasPrefix(toAddress, "0:") || strings.HasPrefix(toAddress, "-1:") {
		addr, err = parseRawAddress(toAddress)
		if err != nil {
			return nil, fmt.Errorf("неверный raw адрес: %w (исходный: %s)", err, toAddress)
		}
	} else {
		addr, err = address.ParseAddr(toAddress)
		if err != nil {
			return nil, fmt.Errorf("неверный адрес получателя: %w (исходный: %s)", err, toAddress)
		}
	}

	balance, err := w.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("не удалось проверить баланс: %w", err)
	}

	// комиссия сети ~0.01 TON
	networkFee := uint64(10_000_000)
	if balance < amountNano+networkFee {
		return nil, fmt.Errorf("недостаточно средств: есть %d, нужно %d + комиссия", balance, amountNano)
	}

	amount := tlb.MustFromTON(fmt.Sprintf("%.9f", float64(amountNano)/float64(NanoTON)))

	var msg *wallet.Message
	if comment != "" {
		msg = &wallet.Message{
			Mode: wallet.PayGasSeparately + wallet.IgnoreErrors,
			InternalMessage: &tlb.InternalMessage{
				IHRDisabled: true,
				Bounce:      false,
				DstAddr:     addr,
				Amount:      amount,
				Body:        buildCommentCell(comment),
			},
		}
	} else {
		msg = wallet.SimpleMessage(addr, amount, nil)
	}

	tx, _, err := w.wallet.SendWaitTransaction(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("не удалось отправить транзакцию: %w", err)
	}

	return &SendResult{
		TxHash:  fmt.Sprintf("%x", tx.Hash),
		Success: true,
	}, nil
}

// buildCommentCell создает cell с текстовым комментарием
// (32 бита нулей + UTF-8 текст)
func buildCommentCell(comment string) *cell.Cell {
	return cell.BeginCell().
		MustStoreUInt(0, 32).
		MustStoreStringSnake(comment).
		EndCell()
}

// parseRawAddress парсит raw адрес формата "0:hex" или "-1:hex"
func parseRawAddress(rawAddr string) (*address.Address, error) {
	var workchain int32
	var hashHex string

	if strings.HasPrefix(rawAddr, "0:") {
		workchain = 0
		hashHex = rawAddr[2:]
	} else if strings.HasPrefix(rawAddr, "-1:") {
		workchain = -1
		hashHex = rawAddr[3:]
	} else {
		return nil, fmt.Errorf("неизвестный формат raw адреса: %s", rawAddr)
	}

	hashBytes, err := hex.DecodeString(hashHex)
	if err != nil {
		return nil, fmt.Errorf("неверный hex в адресе: %w", err)
	}

	if len(hashBytes) != 32 {
		return nil, fmt.Errorf("неверная длина хэша: ожидалось 32 байта, получено %d", len(hashBytes))
	}

	return address.NewAddress(0, byte(workchain), hashBytes), nil
}
