package order

import (
	"crypto/rand"
	"crypto/sha256"

	"github.com/ethereum/go-ethereum/common"
)

// SecretSize is the size of secrets generated by NewSecret.
const SecretSize = 32

// SecretHash is the commitment published in an order. It is sha256 so the
// same secret can unlock bitcoin style HTLCs as well.
func SecretHash(secret []byte) common.Hash {
	return sha256.Sum256(secret)
}

// NewSecret returns a random secret and its hash.
func NewSecret() ([]byte, common.Hash, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, common.Hash{}, err
	}
	return secret, SecretHash(secret), nil
}
