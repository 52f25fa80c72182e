package interfaces

// SecretSplitter splits a secret into shares and combines shares back.
type SecretSplitter interface {
	// Split divides secret into total shares, any threshold of which recover it.
	Split(secret []byte, threshold, total int) ([][]byte, error)

	// Combine reconstructs the secret from shares. It does not know the
	// threshold: combining too few shares yields a wrong secret, not an error.
	Combine(shares [][]byte) ([]byte, error)
}

// Cipher is the asymmetric primitive protecting backups.
type Cipher interface {
	// GenerateKey creates a new keypair in the encodings Encrypt and Decrypt expect.
	GenerateKey() (publicKey []byte, privateKey []byte, err error)

	Encrypt(plaintext []byte, publicKey []byte) ([]byte, error)

	// Decrypt fails when privateKey does not match the key used to encrypt.
	Decrypt(ciphertext []byte, privateKey []byte) ([]byte, error)
}
