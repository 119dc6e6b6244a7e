package order

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// TypeString is the EIP-712 type of an order. Changing it is a protocol
	// version bump.
	TypeString = "Order(uint256 salt,address maker,address makerAsset,address takerAsset,uint256 makerAmount,uint256 takerAmount,uint64 deadline,bytes32 secretHash,uint64 sourceChain,uint64 destinationChain,bytes predicate,uint32 slippageBps,bytes interaction,bytes transferCallback)"

	domainTypeString = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"

	DefaultDomainName    = "xswap Order Execution"
	DefaultDomainVersion = "1"
)

var (
	TypeHash       = crypto.Keccak256Hash([]byte(TypeString))
	domainTypeHash = crypto.Keccak256Hash([]byte(domainTypeString))
)

// Domain binds signatures to one protocol version on one contract on one chain.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract common.Address
}

// NewDomain returns the default protocol domain for a contract.
func NewDomain(chainID uint64, contract common.Address) Domain {
	return Domain{
		Name:              DefaultDomainName,
		Version:           DefaultDomainVersion,
		ChainID:           chainID,
		VerifyingContract: contract,
	}
}

// Separator returns the EIP-712 domain separator.
func (domain Domain) Separator() common.Hash {
	return crypto.Keccak256Hash(
		domainTypeHash.Bytes(),
		crypto.Keccak256([]byte(domain.Name)),
		crypto.Keccak256([]byte(domain.Version)),
		uintWord(domain.ChainID),
		common.LeftPadBytes(domain.VerifyingContract.Bytes(), 32),
	)
}

// Digest is the value an order signature commits to.
func (domain Domain) Digest(o Order) common.Hash {
	separator := domain.Separator()
	hash := Hash(o)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, separator.Bytes(), hash.Bytes())
}

// Hash returns the EIP-712 struct hash of the order. It does not depend on the
// domain, so both chains of a swap key their records by the same value.
func Hash(o Order) common.Hash {
	return crypto.Keccak256Hash(
		TypeHash.Bytes(),
		bigWord(o.Salt),
		common.LeftPadBytes(o.Maker.Bytes(), 32),
		common.LeftPadBytes(o.MakerAsset.Bytes(), 32),
		common.LeftPadBytes(o.TakerAsset.Bytes(), 32),
		bigWord(o.MakerAmount),
		bigWord(o.TakerAmount),
		uintWord(o.Deadline),
		o.SecretHash.Bytes(),
		uintWord(o.SourceChain),
		uintWord(o.DestinationChain),
		crypto.Keccak256(o.Predicate),
		uintWord(uint64(o.SlippageBps)),
		crypto.Keccak256(o.Interaction),
		crypto.Keccak256(o.TransferCallback),
	)
}

func uintWord(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

// bigWord encodes n as a uint256 word. Out of range values are reduced modulo
// 2^256 so the hash stays total; ValidateConditions rejects them anyway.
func bigWord(n *big.Int) []byte {
	if n == nil {
		return make([]byte, 32)
	}
	return math.U256Bytes(new(big.Int).Set(n))
}
