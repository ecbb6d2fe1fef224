package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	keyLengthBytes = 32
	ivLengthBytes  = aes.BlockSize
	tagLengthBytes = sha256.Size
	macKeyInfo     = "securenotes/encryption/hmac-sha256"

	// DecryptionFailedPlaceholder replaces plaintext for records that cannot be decrypted.
	DecryptionFailedPlaceholder = "[decryption failed]"
)

var (
	// ErrConfiguration indicates a missing or malformed encryption key.
	ErrConfiguration = errors.New("encryption: invalid configuration")
	// ErrDecryption indicates that a ciphertext/iv pair could not be opened with the configured key.
	ErrDecryption = errors.New("encryption: decryption failed")
)

// Config carries the server-wide key and an optional randomness source.
type Config struct {
	// Key is the 256-bit key encoded as 64 hexadecimal characters.
	Key    string
	Random io.Reader
}

// Sealed is a hex-encoded ciphertext together with the IV that produced it.
type Sealed struct {
	Content string
	IV      string
}

// Service encrypts text with AES-256-CBC and authenticates iv||ciphertext with HMAC-SHA256.
// It holds no mutable state and is safe for concurrent use.
type Service struct {
	block  cipher.Block
	macKey []byte
	random io.Reader
}

// NewService validates the key and prepares the block cipher and MAC key.
func NewService(cfg Config) (*Service, error) {
	encodedKey := strings.TrimSpace(cfg.Key)
	if encodedKey == "" {
		return nil, fmt.Errorf("%w: key is required", ErrConfiguration)
	}
	if len(encodedKey) != keyLengthBytes*2 {
		return nil, fmt.Errorf("%w: key must be %d hex characters, got %d", ErrConfiguration, keyLengthBytes*2, len(encodedKey))
	}
	key, err := hex.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("%w: key is not hex encoded", ErrConfiguration)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	macKey := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(macKeyInfo)), macKey); err != nil {
		return nil, fmt.Errorf("%w: derive mac key: %v", ErrConfiguration, err)
	}

	random := cfg.Random
	if random == nil {
		random = rand.Reader
	}

	return &Service{
		block:  block,
		macKey: macKey,
		random: random,
	}, nil
}

// Encrypt seals plaintext under a freshly generated IV.
func (s *Service) Encrypt(plaintext string) (Sealed, error) {
	iv := make([]byte, ivLengthBytes)
	if _, err := io.ReadFull(s.random, iv); err != nil {
		return Sealed{}, fmt.Errorf("encryption: generate iv: %w", err)
	}

	padded := pad([]byte(plaintext))
	ciphertext := make([]byte, len(padded), len(padded)+tagLengthBytes)
	cipher.NewCBCEncrypter(s.block, iv).CryptBlocks(ciphertext, padded)
	tag := s.tag(iv, ciphertext)
	ciphertext = append(ciphertext, tag...)

	return Sealed{
		Content: hex.EncodeToString(ciphertext),
		IV:      hex.EncodeToString(iv),
	}, nil
}

// Decrypt opens a pair produced by Encrypt. Every failure wraps ErrDecryption.
func (s *Service) Decrypt(content, iv string) (string, error) {
	ivBytes, err := hex.DecodeString(iv)
	if err != nil || len(ivBytes) != ivLengthBytes {
		return "", fmt.Errorf("%w: malformed iv", ErrDecryption)
	}
	raw, err := hex.DecodeString(content)
	if err != nil {
		return "", fmt.Errorf("%w: malformed ciphertext", ErrDecryption)
	}
	if len(raw) < aes.BlockSize+tagLengthBytes || (len(raw)-tagLengthBytes)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext length %d", ErrDecryption, len(raw))
	}

	body := raw[:len(raw)-tagLengthBytes]
	tag := raw[len(raw)-tagLengthBytes:]
	if !hmac.Equal(tag, s.tag(ivBytes, body)) {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}

	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(s.block, ivBytes).CryptBlocks(plain, body)
	unpadded, err := unpad(plain)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// DecryptOrPlaceholder returns DecryptionFailedPlaceholder and false when Decrypt fails.
func (s *Service) DecryptOrPlaceholder(content, iv string) (string, bool) {
	plaintext, err := s.Decrypt(content, iv)
	if err != nil {
		return DecryptionFailedPlaceholder, false
	}
	return plaintext, true
}

func (s *Service) tag(iv, ciphertext []byte) []byte {
	mac := hmac.New(sha256.New, s.macKey)
	mac.Write(iv)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}

// pad applies PKCS#7 padding; a full block is added when the input is already aligned.
func pad(data []byte) []byte {
	padding := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: invalid padding", ErrDecryption)
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > aes.BlockSize {
		return nil, fmt.Errorf("%w: invalid padding", ErrDecryption)
	}
	for _, value := range data[len(data)-padding:] {
		if int(value) != padding {
			return nil, fmt.Errorf("%w: invalid padding", ErrDecryption)
		}
	}
	return data[:len(data)-padding], nil
}
