// Package order defines the signed exchange intent and the rules that decide
// whether it may be executed: its canonical hash, the domain separated
// signature and the execution conditions.
package order

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Order is an intent to exchange MakerAmount of MakerAsset for TakerAmount of
// TakerAsset across two chains. An order is never mutated after signing; its
// identity is Hash(order).
type Order struct {
	Salt             *big.Int
	Maker            common.Address
	MakerAsset       common.Address
	TakerAsset       common.Address
	MakerAmount      *big.Int
	TakerAmount      *big.Int
	Deadline         uint64 // unix seconds, inclusive
	SecretHash       common.Hash
	SourceChain      uint64
	DestinationChain uint64
	Predicate        []byte
	SlippageBps      uint32
	Interaction      []byte
	TransferCallback []byte
}

type orderJSON struct {
	Salt             string         `json:"salt"`
	Maker            common.Address `json:"maker"`
	MakerAsset       common.Address `json:"makerAsset"`
	TakerAsset       common.Address `json:"takerAsset"`
	MakerAmount      string         `json:"makerAmount"`
	TakerAmount      string         `json:"takerAmount"`
	Deadline         uint64         `json:"deadline"`
	SecretHash       common.Hash    `json:"secretHash"`
	SourceChain      uint64         `json:"sourceChain"`
	DestinationChain uint64         `json:"destinationChain"`
	Predicate        hexutil.Bytes  `json:"predicate,omitempty"`
	SlippageBps      uint32         `json:"slippageBps"`
	Interaction      hexutil.Bytes  `json:"interaction,omitempty"`
	TransferCallback hexutil.Bytes  `json:"transferCallback,omitempty"`
}

// MarshalJSON encodes amounts and salt as decimal strings and byte fields as
// 0x-prefixed hex.
func (o Order) MarshalJSON() ([]byte, error) {
	return json.Marshal(orderJSON{
		Salt:             decimalString(o.Salt),
		Maker:            o.Maker,
		MakerAsset:       o.MakerAsset,
		TakerAsset:       o.TakerAsset,
		MakerAmount:      decimalString(o.MakerAmount),
		TakerAmount:      decimalString(o.TakerAmount),
		Deadline:         o.Deadline,
		SecretHash:       o.SecretHash,
		SourceChain:      o.SourceChain,
		DestinationChain: o.DestinationChain,
		Predicate:        o.Predicate,
		SlippageBps:      o.SlippageBps,
		Interaction:      o.Interaction,
		TransferCallback: o.TransferCallback,
	})
}

func (o *Order) UnmarshalJSON(data []byte) error {
	var raw orderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	salt, err := parseDecimal("salt", raw.Salt)
	if err != nil {
		return err
	}
	makerAmount, err := parseDecimal("makerAmount", raw.MakerAmount)
	if err != nil {
		return err
	}
	takerAmount, err := parseDecimal("takerAmount", raw.TakerAmount)
	if err != nil {
		return err
	}
	*o = Order{
		Salt:             salt,
		Maker:            raw.Maker,
		MakerAsset:       raw.MakerAsset,
		TakerAsset:       raw.TakerAsset,
		MakerAmount:      makerAmount,
		TakerAmount:      takerAmount,
		Deadline:         raw.Deadline,
		SecretHash:       raw.SecretHash,
		SourceChain:      raw.SourceChain,
		DestinationChain: raw.DestinationChain,
		Predicate:        raw.Predicate,
		SlippageBps:      raw.SlippageBps,
		Interaction:      raw.Interaction,
		TransferCallback: raw.TransferCallback,
	}
	return nil
}

// MinTakerAmount is the least amount of TakerAsset a resolver may lock for the
// maker on the destination chain.
func (o Order) MinTakerAmount() *big.Int {
	if o.TakerAmount == nil {
		return big.NewInt(0)
	}
	bps := int64(o.SlippageBps)
	if bps > 10000 {
		bps = 10000
	}
	minimum := new(big.Int).Mul(o.TakerAmount, big.NewInt(10000-bps))
	return minimum.Div(minimum, big.NewInt(10000))
}

func decimalString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func parseDecimal(field, value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("missing %v", field)
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("failed to decode %v = %v", field, value)
	}
	return n, nil
}
