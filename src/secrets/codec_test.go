package secrets

import (
	"crypto/cipher"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testKey = base64.URLEncoding.EncodeToString([]byte(strings.Repeat("k", KeyLength)))
	testIV  = base64.URLEncoding.EncodeToString([]byte(strings.Repeat("i", IVLength)))
)

func TestNewCodec(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		iv      string
		wantErr error
	}{
		{name: "Valid key and IV", key: testKey, iv: testIV},
		{name: "Short key", key: base64.URLEncoding.EncodeToString([]byte("short")), iv: testIV, wantErr: ErrInvalidKey},
		{name: "Short IV", key: testKey, iv: base64.URLEncoding.EncodeToString([]byte("short")), wantErr: ErrInvalidIV},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codec, err := NewCodec(tt.key, tt.iv)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, codec)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, codec)
		})
	}
}

func TestNewCodecRejectsInvalidBase64(t *testing.T) {
	_, err := NewCodec("%%%", testIV)
	assert.Error(t, err)
}

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(testKey, testIV)
	require.NoError(t, err)

	for _, plaintext := range []string{"", "p", "DBpwd1234!", strings.Repeat("x", 16), "비밀번호"} {
		ciphertext, err := codec.Encrypt(plaintext)
		require.NoError(t, err)
		assert.NotEqual(t, plaintext, ciphertext)

		decrypted, err := codec.Decrypt(ciphertext)
		require.NoError(t, err)
		assert.Equal(t, plaintext, decrypted)
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	codec, err := NewCodec(testKey, testIV)
	require.NoError(t, err)

	// a single block whose last byte is a zero padding length
	badPadding := make([]byte, IVLength)
	raw := make([]byte, IVLength)
	cipher.NewCBCEncrypter(codec.block, codec.iv).CryptBlocks(raw, badPadding)

	tests := []struct {
		name       string
		ciphertext string
	}{
		{name: "Not base64", ciphertext: "not base64!"},
		{name: "Empty", ciphertext: ""},
		{name: "Partial block", ciphertext: base64.URLEncoding.EncodeToString([]byte("abc"))},
		{name: "Corrupt padding", ciphertext: base64.URLEncoding.EncodeToString(raw)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plaintext, err := codec.Decrypt(tt.ciphertext)
			assert.Error(t, err)
			assert.Empty(t, plaintext)
		})
	}
}
