package cryptoutils

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
	"github.com/ruteri/keyshare-backup/interfaces"
)

// ECIESCipher implements interfaces.Cipher with ECIES over secp256k1.
//
// Public keys are 65-byte uncompressed points, private keys are the raw 32-byte
// scalar. The raw scalar is what gets split into shares.
type ECIESCipher struct{}

var _ interfaces.Cipher = ECIESCipher{}

// PrivateKeyLength is the length of an encoded private key.
const PrivateKeyLength = 32

func (ECIESCipher) GenerateKey() ([]byte, []byte, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return crypto.FromECDSAPub(&key.PublicKey), crypto.FromECDSA(key), nil
}

func (ECIESCipher) Encrypt(plaintext []byte, publicKey []byte) ([]byte, error) {
	pub, err := crypto.UnmarshalPubkey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}

	ciphertext, err := ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), plaintext, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return ciphertext, nil
}

func (ECIESCipher) Decrypt(ciphertext []byte, privateKey []byte) ([]byte, error) {
	if len(privateKey) != PrivateKeyLength {
		return nil, errors.New("invalid private key length")
	}

	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	plaintext, err := ecies.ImportECDSA(key).Decrypt(ciphertext, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// PublicKeyFor derives the encoded public key of an encoded private key.
func PublicKeyFor(privateKey []byte) ([]byte, error) {
	key, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return crypto.FromECDSAPub(&key.PublicKey), nil
}
