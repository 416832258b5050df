package secrets

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	KeyLength = 32
	IVLength  = aes.BlockSize
)

var (
	ErrInvalidKey        = errors.New("AES key must be 32 bytes long")
	ErrInvalidIV         = errors.New("AES IV must be 16 bytes long")
	ErrInvalidCiphertext = errors.New("ciphertext is not a whole number of blocks")
	ErrInvalidPadding    = errors.New("invalid PKCS#7 padding")
)

// Decrypter turns a stored secret back into its plaintext.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Encrypter produces the stored form of a secret.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// Codec encrypts stored passwords with AES-256-CBC and PKCS#7 padding, encoded as URL-safe base64.
type Codec struct {
	block cipher.Block
	iv    []byte
}

// NewCodec builds a Codec from the base64 encoded key and IV found in the configuration.
func NewCodec(encodedKey, encodedIV string) (*Codec, error) {
	key, err := base64.URLEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("error decoding AES key: %w", err)
	}
	iv, err := base64.URLEncoding.DecodeString(encodedIV)
	if err != nil {
		return nil, fmt.Errorf("error decoding AES IV: %w", err)
	}
	if len(key) != KeyLength {
		return nil, ErrInvalidKey
	}
	if len(iv) != IVLength {
		return nil, ErrInvalidIV
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("error creating AES cipher: %w", err)
	}
	return &Codec{block: block, iv: iv}, nil
}

func (c *Codec) Encrypt(plaintext string) (string, error) {
	padded := pad([]byte(plaintext))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv).CryptBlocks(out, padded)
	return base64.URLEncoding.EncodeToString(out), nil
}

// Decrypt never returns a partial plaintext: any corrupt input is an error.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("error decoding ciphertext: %w", err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", ErrInvalidCiphertext
	}

	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, c.iv).CryptBlocks(out, raw)
	plain, err := unpad(out)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, ErrInvalidPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrInvalidPadding
		}
	}
	return data[:len(data)-n], nil
}
