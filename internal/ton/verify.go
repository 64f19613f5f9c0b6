package ton

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Проверка владения кошельком по ton-proof из TON Connect:
// https://docs.ton.org/develop/dapps/ton-connect/sign

var (
	ErrProofExpired    = errors.New("срок действия proof истек")
	ErrBadSignature    = errors.New("подпись proof не сходится")
	ErrUnknownAddrForm = errors.New("неизвестный формат адреса")
)

// Proof, который кошелек подписывает при подключении
type ConnectProof struct {
	Timestamp int64  `json:"timestamp"`
	Domain    Domain `json:"domain"`
	Signature string `json:"signature"`
	Payload   string `json:"payload"`
}

type Domain struct {
	LengthBytes int    `json:"lengthBytes"`
	Value       string `json:"value"`
}

// Аккаунт кошелька из TON Connect
type WalletAccount struct {
	Address   string `json:"address"`
	Chain     string `json:"chain"`
	PublicKey string `json:"publicKey"`
}

// VerifyProof проверяет свежесть, домен и ed25519 подпись proof
func VerifyProof(account WalletAccount, proof ConnectProof, allowedDomain string) error {
	if time.Since(time.Unix(proof.Timestamp, 0)) > ProofTTL {
		return ErrProofExpired
	}
	if proof.Domain.Value != allowedDomain {
		return fmt.Errorf("домен proof %q, ожидался %q", proof.Domain.Value, allowedDomain)
	}

	pubKey, err := hex.DecodeString(account.PublicKey)
	if err != nil {
		return fmt.Errorf("публичный ключ: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return errors.New("публичный ключ неверного размера")
	}

	signature, err := base64.StdEncoding.DecodeString(proof.Signature)
	if err != nil {
		return fmt.Errorf("подпись: %w", err)
	}

	if !ed25519.Verify(pubKey, proofMessage(account.Address, proof), signature) {
		return ErrBadSignature
	}
	return nil
}

// proofMessage собирает хэш подписанного сообщения:
// sha256("ton-connect" + sha256("ton-proof-item-v2/" + address +
// domain_len + domain + timestamp + payload))
func proofMessage(address string, proof ConnectProof) []byte {
	msg := []byte("ton-proof-item-v2/")
	msg = append(msg, []byte(address)...)

	msg = binary.LittleEndian.AppendUint32(msg, uint32(proof.Domain.LengthBytes))
	msg = append(msg, []byte(proof.Domain.Value)...)
	msg = binary.LittleEndian.AppendUint64(msg, uint64(proof.Timestamp))
	msg = append(msg, []byte(proof.Payload)...)

	inner := sha256.Sum256(msg)
	outer := sha256.Sum256(append([]byte("ton-connect"), inner[:]...))
	return outer[:]
}

// ValidateAddress принимает raw (0:hex, -1:hex) и user-friendly
// (48 символов base64) формы адреса
func ValidateAddress(address string) bool {
	if isRawAddress(address) {
		return true
	}
	if len(address) == 48 {
		_, err := base64.URLEncoding.DecodeString(address)
		return err == nil
	}
	return false
}

func isRawAddress(address string) bool {
	if len(address) >= 66 && address[0:2] == "0:" {
		return true
	}
	return len(address) >= 67 && address[0:3] == "-1:"
}

// NormalizeAddress приводит адрес к raw форме workchain:hash
func NormalizeAddress(address string) (string, error) {
	if isRawAddress(address) {
		return address, nil
	}
	if len(address) != 48 {
		return "", ErrUnknownAddrForm
	}

	decoded, err := base64.URLEncoding.DecodeString(address)
	if err != nil {
		return "", fmt.Errorf("адрес: %w", err)
	}
	// флаг + workchain + 32 байта хэша + crc16
	if len(decoded) != 36 {
		return "", errors.New("адрес неверной длины")
	}

	workchain := int8(decoded[1])
	return fmt.Sprintf("%d:%s", workchain, hex.EncodeToString(decoded[2:34])), nil
}

// RawToUserFriendly кодирует raw адрес в форму для кошельков.
// bounceable=true дает EQ-адрес (контракты), false - UQ (кошельки).
func RawToUserFriendly(rawAddress string, bounceable bool) (string, error) {
	var workchain int8
	var hashHex string
	switch {
	case len(rawAddress) >= 66 && rawAddress[0:2] == "0:":
		workchain, hashHex = 0, rawAddress[2:]
	case len(rawAddress) >= 67 && rawAddress[0:3] == "-1:":
		workchain, hashHex = -1, rawAddress[3:]
	case len(rawAddress) == 48:
		// уже user-friendly
		return rawAddress, nil
	default:
		return "", ErrUnknownAddrForm
	}

	hash, err := hex.DecodeString(hashHex)
	if err != nil {
		return "", fmt.Errorf("хэш адреса: %w", err)
	}
	if len(hash) != 32 {
		return "", errors.New("хэш адреса неверной длины")
	}

	data := make([]byte, 34)
	if bounceable {
		data[0] = 0x11
	} else {
		data[0] = 0x51
	}
	data[1] = byte(workchain)
	copy(data[2:], hash)

	crc := crc16(data)
	result := append(data, byte(crc>>8), byte(crc&0xFF))

	// base64 без padding, так адрес понимает tonutils-go
	return base64.RawStdEncoding.EncodeToString(result), nil
}

// CRC16-XMODEM
func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
