package evm

import (
	"math/big"
	"strings"

	"github.com/catalogfi/xswap/pkg/escrow"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const orderComponents = `[
	{"name":"salt","type":"uint256"},
	{"name":"maker","type":"address"},
	{"name":"makerAsset","type":"address"},
	{"name":"takerAsset","type":"address"},
	{"name":"makerAmount","type":"uint256"},
	{"name":"takerAmount","type":"uint256"},
	{"name":"deadline","type":"uint64"},
	{"name":"secretHash","type":"bytes32"},
	{"name":"sourceChain","type":"uint64"},
	{"name":"destinationChain","type":"uint64"},
	{"name":"predicate","type":"bytes"},
	{"name":"slippageBps","type":"uint32"},
	{"name":"interaction","type":"bytes"},
	{"name":"transferCallback","type":"bytes"}
]`

const orderInput = `{"name":"order","type":"tuple","components":` + orderComponents + `}`

// ContractABI is the interface of the deployed order execution contract.
// Escrow withdrawals and refunds are forwarded by the contract to its factory.
const ContractABI = `[
	{"type":"function","name":"validateOrderConditions","stateMutability":"view",
	 "inputs":[` + orderInput + `],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"validateOrderSignature","stateMutability":"view",
	 "inputs":[` + orderInput + `,{"name":"signature","type":"bytes"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"isResolver","stateMutability":"view",
	 "inputs":[{"name":"resolver","type":"address"}],
	 "outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"getOrderStatus","stateMutability":"view",
	 "inputs":[{"name":"orderHash","type":"bytes32"}],
	 "outputs":[{"name":"","type":"uint8"}]},
	{"type":"function","name":"getEscrow","stateMutability":"view",
	 "inputs":[{"name":"orderHash","type":"bytes32"}],
	 "outputs":[{"name":"","type":"tuple","components":[
		{"name":"escrow","type":"address"},
		{"name":"side","type":"uint8"},
		{"name":"depositor","type":"address"},
		{"name":"beneficiary","type":"address"},
		{"name":"asset","type":"address"},
		{"name":"amount","type":"uint256"},
		{"name":"secretHash","type":"bytes32"},
		{"name":"timeoutWithdraw","type":"uint64"},
		{"name":"timeoutCancel","type":"uint64"},
		{"name":"createdAt","type":"uint64"},
		{"name":"status","type":"uint8"}
	 ]}]},
	{"type":"function","name":"executeOrder","stateMutability":"nonpayable",
	 "inputs":[` + orderInput + `,{"name":"signature","type":"bytes"},{"name":"taker","type":"address"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"deployDestinationEscrow","stateMutability":"nonpayable",
	 "inputs":[` + orderInput + `,{"name":"amount","type":"uint256"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"cancelOrder","stateMutability":"nonpayable",
	 "inputs":[` + orderInput + `],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable",
	 "inputs":[{"name":"orderHash","type":"bytes32"},{"name":"secret","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"cancel","stateMutability":"nonpayable",
	 "inputs":[{"name":"orderHash","type":"bytes32"}],"outputs":[]},
	{"type":"event","name":"OrderFilled","anonymous":false,"inputs":[
		{"name":"orderHash","type":"bytes32","indexed":true},
		{"name":"resolver","type":"address","indexed":true},
		{"name":"taker","type":"address","indexed":false},
		{"name":"escrow","type":"address","indexed":false},
		{"name":"chainId","type":"uint256","indexed":false}]},
	{"type":"event","name":"OrderCancelled","anonymous":false,"inputs":[
		{"name":"orderHash","type":"bytes32","indexed":true},
		{"name":"maker","type":"address","indexed":true}]},
	{"type":"event","name":"DstEscrowDeployed","anonymous":false,"inputs":[
		{"name":"orderHash","type":"bytes32","indexed":true},
		{"name":"resolver","type":"address","indexed":true},
		{"name":"escrow","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"EscrowCreated","anonymous":false,"inputs":[
		{"name":"orderHash","type":"bytes32","indexed":true},
		{"name":"escrow","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]},
	{"type":"event","name":"EscrowWithdrawn","anonymous":false,"inputs":[
		{"name":"orderHash","type":"bytes32","indexed":true},
		{"name":"escrow","type":"address","indexed":false},
		{"name":"secret","type":"bytes","indexed":false}]},
	{"type":"event","name":"EscrowCancelled","anonymous":false,"inputs":[
		{"name":"orderHash","type":"bytes32","indexed":true},
		{"name":"escrow","type":"address","indexed":false}]}
]`

var parsedABI = mustParseABI(ContractABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// orderTuple mirrors the Solidity Order struct for the abi packer.
type orderTuple struct {
	Salt             *big.Int
	Maker            common.Address
	MakerAsset       common.Address
	TakerAsset       common.Address
	MakerAmount      *big.Int
	TakerAmount      *big.Int
	Deadline         uint64
	SecretHash       [32]byte
	SourceChain      uint64
	DestinationChain uint64
	Predicate        []byte
	SlippageBps      uint32
	Interaction      []byte
	TransferCallback []byte
}

func toTuple(o order.Order) orderTuple {
	orZero := func(n *big.Int) *big.Int {
		if n == nil {
			return new(big.Int)
		}
		return n
	}
	orEmpty := func(b []byte) []byte {
		if b == nil {
			return []byte{}
		}
		return b
	}
	return orderTuple{
		Salt:             orZero(o.Salt),
		Maker:            o.Maker,
		MakerAsset:       o.MakerAsset,
		TakerAsset:       o.TakerAsset,
		MakerAmount:      orZero(o.MakerAmount),
		TakerAmount:      orZero(o.TakerAmount),
		Deadline:         o.Deadline,
		SecretHash:       o.SecretHash,
		SourceChain:      o.SourceChain,
		DestinationChain: o.DestinationChain,
		Predicate:        orEmpty(o.Predicate),
		SlippageBps:      o.SlippageBps,
		Interaction:      orEmpty(o.Interaction),
		TransferCallback: orEmpty(o.TransferCallback),
	}
}

type escrowTuple struct {
	Escrow          common.Address
	Side            uint8
	Depositor       common.Address
	Beneficiary     common.Address
	Asset           common.Address
	Amount          *big.Int
	SecretHash      [32]byte
	TimeoutWithdraw uint64
	TimeoutCancel   uint64
	CreatedAt       uint64
	Status          uint8
}

func (t escrowTuple) toEscrow(chainID uint64, orderHash common.Hash) *escrow.Escrow {
	amount := t.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	return &escrow.Escrow{
		Address:         t.Escrow,
		OrderHash:       orderHash,
		Side:            escrow.Side(t.Side),
		ChainID:         chainID,
		Depositor:       t.Depositor,
		Beneficiary:     t.Beneficiary,
		Asset:           t.Asset,
		Amount:          amount,
		SecretHash:      t.SecretHash,
		TimeoutWithdraw: t.TimeoutWithdraw,
		TimeoutCancel:   t.TimeoutCancel,
		CreatedAt:       t.CreatedAt,
		Status:          escrow.Status(t.Status),
	}
}

type logOrderFilled struct {
	OrderHash [32]byte
	Resolver  common.Address
	Taker     common.Address
	Escrow    common.Address
	ChainId   *big.Int
}

type logOrderCancelled struct {
	OrderHash [32]byte
	Maker     common.Address
}

type logDstEscrowDeployed struct {
	OrderHash [32]byte
	Resolver  common.Address
	Escrow    common.Address
	Amount    *big.Int
}

type logEscrowCreated struct {
	OrderHash [32]byte
	Escrow    common.Address
	Amount    *big.Int
}

type logEscrowWithdrawn struct {
	OrderHash [32]byte
	Escrow    common.Address
	Secret    []byte
}

type logEscrowCancelled struct {
	OrderHash [32]byte
	Escrow    common.Address
}
