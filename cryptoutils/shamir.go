package cryptoutils

import (
	"errors"
	"fmt"

	"github.com/hashicorp/vault/shamir"
	"github.com/ruteri/keyshare-backup/interfaces"
)

// ShamirSplitter implements interfaces.SecretSplitter over GF(2^8) Shamir
// secret sharing. Every share is the secret length plus one byte, the last
// byte holding the share's x-coordinate.
type ShamirSplitter struct{}

var _ interfaces.SecretSplitter = ShamirSplitter{}

// Split divides secret into total shares, any threshold of which recover it.
// A threshold of one yields shares that each carry the secret on their own.
func (ShamirSplitter) Split(secret []byte, threshold, total int) ([][]byte, error) {
	if err := interfaces.ValidateThreshold(threshold, total); err != nil {
		return nil, err
	}
	if len(secret) == 0 {
		return nil, errors.New("cannot split an empty secret")
	}

	if threshold == 1 {
		shares := make([][]byte, total)
		for i := range shares {
			share := make([]byte, len(secret)+1)
			copy(share, secret)
			share[len(secret)] = byte(i + 1)
			shares[i] = share
		}
		return shares, nil
	}

	shares, err := shamir.Split(secret, total, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split secret: %w", err)
	}
	return shares, nil
}

// Combine reconstructs the secret from shares.
func (ShamirSplitter) Combine(shares [][]byte) ([]byte, error) {
	switch len(shares) {
	case 0:
		return nil, errors.New("no shares to combine")
	case 1:
		if len(shares[0]) < 2 {
			return nil, errors.New("share must be at least two bytes")
		}
		return append([]byte(nil), shares[0][:len(shares[0])-1]...), nil
	}

	secret, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	return secret, nil
}

// ShareIndex returns the x-coordinate of a share, 0 for an empty share.
func ShareIndex(share []byte) byte {
	if len(share) == 0 {
		return 0
	}
	return share[len(share)-1]
}
