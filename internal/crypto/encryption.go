package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
)

// The Rec login endpoint expects credential payloads encrypted with
// AES-128-CBC under a key that is fixed for all clients. The IV is the key
// with its bytes reversed, and the plaintext carries its own length in a
// 4-byte big-endian prefix so the server can strip the zero fill.
const loginKeyBase64 = "NmYwWHo4TGRQZ1cxVGtRYQ=="

const (
	// KeySize - 128-bit key for AES-128
	KeySize = 16
	// IVSize - 128-bit IV for AES
	IVSize = 16
)

// LoginKey returns the fixed AES key used for login payloads.
func LoginKey() []byte {
	key, err := base64.StdEncoding.DecodeString(loginKeyBase64)
	if err != nil || len(key) != KeySize {
		// The literal above is a compile-time constant; a decode failure is a
		// build defect, not a runtime condition.
		panic(fmt.Sprintf("invalid login key literal: %v", err))
	}
	return key
}

// LoginIV returns the IV derived from the login key (reversed byte order).
func LoginIV() []byte {
	key := LoginKey()
	iv := make([]byte, len(key))
	for i, b := range key {
		iv[len(key)-1-i] = b
	}
	return iv
}

// lengthPrefixPad frames data as <uint32 big-endian length><data> and fills
// with zero bytes up to a multiple of blockSize.
func lengthPrefixPad(data []byte, blockSize int) []byte {
	framed := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(framed, uint32(len(data)))
	copy(framed[4:], data)

	if rem := len(framed) % blockSize; rem != 0 {
		framed = append(framed, make([]byte, blockSize-rem)...)
	}
	return framed
}

// lengthPrefixUnpad reverses lengthPrefixPad, validating the declared length.
func lengthPrefixUnpad(data []byte) ([]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("framed payload too short: %d bytes", len(data))
	}
	n := binary.BigEndian.Uint32(data)
	if int(n) > len(data)-4 {
		return nil, fmt.Errorf("framed payload declares %d bytes, only %d present", n, len(data)-4)
	}
	return data[4 : 4+n], nil
}

// EncryptLogin encrypts a login payload for the Rec API and returns it
// base64-encoded.
func EncryptLogin(payload []byte) (string, error) {
	block, err := aes.NewCipher(LoginKey())
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	plain := lengthPrefixPad(payload, block.BlockSize())
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, LoginIV()).CryptBlocks(out, plain)

	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptLogin reverses EncryptLogin. The Rec client itself never decrypts;
// this exists for the test fakes that stand in for the server.
func DecryptLogin(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	block, err := aes.NewCipher(LoginKey())
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(raw) == 0 || len(raw)%block.BlockSize() != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a block multiple", len(raw))
	}

	plain := make([]byte, len(raw))
	cipher.NewCBCDecrypter(block, LoginIV()).CryptBlocks(plain, raw)

	return lengthPrefixUnpad(plain)
}

// SignTempTicket computes the MD5 signature the login endpoint verifies:
// uppercase hex of MD5("A" + tempticket + payload).
func SignTempTicket(tempticket string, payload []byte) string {
	var b bytes.Buffer
	b.WriteString("A")
	b.WriteString(tempticket)
	b.Write(payload)
	sum := md5.Sum(b.Bytes())
	return strings.ToUpper(fmt.Sprintf("%x", sum))
}

// HashAccount returns the hex SHA-256 of an account name. Cached credential
// files are named by this hash so account names never appear on disk.
func HashAccount(account string) string {
	sum := sha256.Sum256([]byte(account))
	return fmt.Sprintf("%x", sum)
}

// EncodeBase64 encodes data to a base64 string.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes a base64 string.
func DecodeBase64(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
