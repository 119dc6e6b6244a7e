package order

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the length of an R || S || V signature.
const SignatureLength = crypto.SignatureLength

// Sign signs the order's domain digest. The returned signature uses V in {27, 28}.
func Sign(o Order, domain Domain, key *ecdsa.PrivateKey) ([]byte, error) {
	digest := domain.Digest(o)
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// Recover returns the address that produced sig over the order's digest.
func Recover(o Order, domain Domain, sig []byte) (common.Address, error) {
	digest := domain.Digest(o)
	return RecoverDigest(digest, sig)
}

// RecoverDigest recovers the signer of an arbitrary 32 byte digest. Only low-S
// signatures with V in {0, 1, 27, 28} are accepted.
func RecoverDigest(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != SignatureLength {
		return common.Address{}, fmt.Errorf("%w: length %v", ErrInvalidSignature, len(sig))
	}
	normalized := make([]byte, SignatureLength)
	copy(normalized, sig)
	v := normalized[crypto.RecoveryIDOffset]
	switch v {
	case 27, 28:
		v -= 27
	case 0, 1:
	default:
		return common.Address{}, fmt.Errorf("%w: recovery id %v", ErrInvalidSignature, v)
	}
	normalized[crypto.RecoveryIDOffset] = v

	r := new(big.Int).SetBytes(normalized[:32])
	s := new(big.Int).SetBytes(normalized[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, fmt.Errorf("%w: malformed values", ErrInvalidSignature)
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature reports whether sig is the maker's signature over the order
// in the given domain.
func VerifySignature(o Order, domain Domain, sig []byte) bool {
	signer, err := Recover(o, domain, sig)
	if err != nil {
		return false
	}
	return signer == o.Maker
}
