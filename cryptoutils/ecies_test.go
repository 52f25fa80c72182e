package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestECIESEncryptDecrypt(t *testing.T) {
	cipher := ECIESCipher{}
	pub, priv, err := cipher.GenerateKey()
	require.NoError(t, err)
	require.Len(t, priv, PrivateKeyLength)
	require.Len(t, pub, 65)

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "Simple string", data: []byte("This is a secret message")},
		{name: "JSON data", data: []byte(`{"username":"admin","password":"secret123"}`)},
		{name: "Binary data", data: []byte{0x00, 0x01, 0x02, 0x03, 0xFF, 0xFE, 0xFD}},
		{name: "Long data", data: make([]byte, 1024)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ciphertext, err := cipher.Encrypt(tc.data, pub)
			require.NoError(t, err)
			assert.NotEqual(t, tc.data, ciphertext)

			plaintext, err := cipher.Decrypt(ciphertext, priv)
			require.NoError(t, err)
			assert.Equal(t, tc.data, plaintext)
		})
	}
}

func TestECIESWrongKey(t *testing.T) {
	cipher := ECIESCipher{}
	pub, _, err := cipher.GenerateKey()
	require.NoError(t, err)
	_, otherPriv, err := cipher.GenerateKey()
	require.NoError(t, err)

	ciphertext, err := cipher.Encrypt([]byte("secret"), pub)
	require.NoError(t, err)

	_, err = cipher.Decrypt(ciphertext, otherPriv)
	assert.Error(t, err)

	_, err = cipher.Decrypt(ciphertext, []byte("short"))
	assert.Error(t, err)

	_, err = cipher.Decrypt(ciphertext, make([]byte, PrivateKeyLength))
	assert.Error(t, err)
}

func TestECIESInvalidPublicKey(t *testing.T) {
	_, err := ECIESCipher{}.Encrypt([]byte("secret"), []byte("not a key"))
	assert.Error(t, err)
}

func TestPublicKeyFor(t *testing.T) {
	pub, priv, err := ECIESCipher{}.GenerateKey()
	require.NoError(t, err)

	derived, err := PublicKeyFor(priv)
	require.NoError(t, err)
	assert.Equal(t, pub, derived)
}
