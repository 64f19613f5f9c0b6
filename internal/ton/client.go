package ton

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// клиент TON API (tonapi.io v2)
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	network    Network
}

// создает новый клиент TON API
func NewClient(network Network, apiKey string) *Client {
	baseURL := TonAPIMainnet
	if network == NetworkTestnet {
		baseURL = TonAPITestnet
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		network: network,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// AccountAddress представляет адрес аккаунта в ответе API
type AccountAddress struct {
	Address  string `json:"address"`
	IsScam   bool   `json:"is_scam"`
	IsWallet bool   `json:"is_wallet"`
}

// Transaction представляет транзакцию в сети TON (tonapi.io v2 format)
type Transaction struct {
	Hash       string          `json:"hash"`
	Lt         int64           `json:"lt"`
	Account    *AccountAddress `json:"account"`
	Utime      int64           `json:"utime"`
	OrigStatus string          `json:"orig_status"`
	EndStatus  string          `json:"end_status"`
	TotalFees  int64           `json:"total_fees"`
	InMsg      *Message        `json:"in_msg"`
	OutMsgs    []Message       `json:"out_msgs"`
	Success    bool            `json:"success"`
}

// Message представляет сообщение в сети TON
type Message struct {
	MsgType       string          `json:"msg_type"`
	CreatedLt     int64           `json:"created_lt"`
	Bounce        bool            `json:"bounce"`
	Bounced       bool            `json:"bounced"`
	Value         int64           `json:"value"`
	FwdFee        int64           `json:"fwd_fee"`
	Destination   *AccountAddress `json:"destination"`
	Source        *AccountAddress `json:"source"`
	CreatedAt     int64           `json:"created_at"`
	OpCode        string          `json:"op_code"`
	Hash          string          `json:"hash"`
	RawBody       string          `json:"raw_body"`
	DecodedOpName string          `json:"decoded_op_name"`
	DecodedBody   *DecodedBody    `json:"decoded_body"`
}

// DecodedBody представляет декодированное тело сообщения
type DecodedBody struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
}

// GetTransactionsAfter возвращает транзакции аккаунта новее заданного
// логического времени, в порядке возрастания lt. Это основа сканирования
// вперед с устойчивым курсором.
func (c *Client) GetTransactionsAfter(ctx context.Context, address string, limit int, afterLt int64) ([]Transaction, error) {
	reqURL := fmt.Sprintf("%s/blockchain/accounts/%s/transactions?limit=%d&sort_order=asc", c.baseURL, address, limit)
	if afterLt > 0 {
		reqURL = fmt.Sprintf("%s&after_lt=%d", reqURL, afterLt)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}

	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ошибка API: %s - %s", resp.Status, string(body))
	}

	var result struct {
		Transactions []Transaction `json:"transactions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return result.Transactions, nil
}

// получает конкретную транзакцию по хэшу
func (c *Client) GetTransaction(ctx context.Context, hash string) (*Transaction, error) {
	reqURL := fmt.Sprintf("%s/blockchain/transactions/%s", c.baseURL, hash)

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, err
	}

	c.setAuthHeader(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ошибка API: %s - %s", resp.Status, string(body))
	}

	var tx Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, err
	}

	return &tx, nil
}

// setAuthHeader устанавливает заголовок авторизации если ключ валидный
func (c *Client) setAuthHeader(req *http.Request) {
	// пропускаем невалидные ключи (ключи tonapi начинаются с AF/AG или это длинные JWT)
	if c.apiKey == "" {
		return
	}
	if strings.HasPrefix(c.apiKey, "AF") || strings.HasPrefix(c.apiKey, "AG") || len(c.apiKey) > 100 {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// ExtractComment извлекает текстовый комментарий входящего сообщения.
// Сумму депозита отсюда брать нельзя, только из InMsg.Value.
func ExtractComment(tx *Transaction) string {
	if tx.InMsg != nil && tx.InMsg.DecodedBody != nil {
		return tx.InMsg.DecodedBody.Text
	}
	return ""
}

// SameAddress сравнивает два адреса в любых форматах через нормализацию
func SameAddress(a, b string) bool {
	na, err := NormalizeAddress(a)
	if err != nil {
		na = a
	}
	nb, err := NormalizeAddress(b)
	if err != nil {
		nb = b
	}
	return na != "" && na == nb
}
