// Package protocol defines the messages exchanged between the coordinator and
// resolvers over the websocket channel. Every message is a flat JSON object
// with a "type" discriminator.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/catalogfi/xswap/pkg/fault"
	"github.com/catalogfi/xswap/pkg/order"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
)

type Type string

const (
	TypeSubscribeResolver    Type = "subscribe_resolver"
	TypeNewOrder             Type = "new_order"
	TypeSecretAvailable      Type = "secret_available"
	TypeOrderCancelled       Type = "order_cancelled"
	TypeOrderPicked          Type = "order_picked"
	TypeOrderExecuted        Type = "order_executed"
	TypeOrderExecutionFailed Type = "order_execution_failed"
)

var ErrUnknownMessage = fault.New(fault.Validation, "unknown message type")

// Message is one of the message structs of this package.
type Message interface {
	Type() Type
	message()
}

// Capabilities advertise what a resolver is willing to execute.
type Capabilities struct {
	Chains      []uint64        `json:"chains"`
	MaxGasPrice decimal.Decimal `json:"maxGasPrice"`
	MinProfit   decimal.Decimal `json:"minProfit"`
}

// Supports reports whether the resolver serves both chains of an order.
func (caps Capabilities) Supports(source, destination uint64) bool {
	var src, dst bool
	for _, id := range caps.Chains {
		src = src || id == source
		dst = dst || id == destination
	}
	return src && dst
}

// SubscribeResolver is sent by a resolver after connecting.
type SubscribeResolver struct {
	Resolver     common.Address `json:"resolver"`
	Capabilities Capabilities   `json:"capabilities"`
}

// NewOrder broadcasts a pending order.
type NewOrder struct {
	OrderID   string        `json:"orderId"`
	OrderHash common.Hash   `json:"orderHash"`
	Order     order.Order   `json:"order"`
	Signature hexutil.Bytes `json:"signature"`
}

// SecretAvailable hands the maker's secret to the resolver that executed the order.
type SecretAvailable struct {
	OrderID string        `json:"orderId"`
	Secret  hexutil.Bytes `json:"secret"`
}

type OrderCancelled struct {
	OrderID string `json:"orderId"`
}

// OrderPicked tells the coordinator a resolver is about to execute an order.
type OrderPicked struct {
	OrderID         string          `json:"orderId"`
	Resolver        common.Address  `json:"resolver"`
	EstimatedProfit decimal.Decimal `json:"estimatedProfit"`
	EstimatedGas    uint64          `json:"estimatedGas"`
}

type OrderExecuted struct {
	OrderID       string         `json:"orderId"`
	TxHash        common.Hash    `json:"txHash"`
	EscrowAddress common.Address `json:"escrowAddress"`
	GasUsed       uint64         `json:"gasUsed"`
}

type OrderExecutionFailed struct {
	OrderID string `json:"orderId"`
	Error   string `json:"error"`
}

func (SubscribeResolver) Type() Type    { return TypeSubscribeResolver }
func (NewOrder) Type() Type             { return TypeNewOrder }
func (SecretAvailable) Type() Type      { return TypeSecretAvailable }
func (OrderCancelled) Type() Type       { return TypeOrderCancelled }
func (OrderPicked) Type() Type          { return TypeOrderPicked }
func (OrderExecuted) Type() Type        { return TypeOrderExecuted }
func (OrderExecutionFailed) Type() Type { return TypeOrderExecutionFailed }

func (SubscribeResolver) message()    {}
func (NewOrder) message()             {}
func (SecretAvailable) message()      {}
func (OrderCancelled) message()       {}
func (OrderPicked) message()          {}
func (OrderExecuted) message()        {}
func (OrderExecutionFailed) message() {}

// Encode writes msg as a JSON object with its type discriminator.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("message %v is not a JSON object", msg.Type())
	}
	out := make([]byte, 0, len(body)+len(msg.Type())+12)
	out = append(out, `{"type":`...)
	out = append(out, fmt.Sprintf("%q", msg.Type())...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	return append(out, body[1:]...), nil
}

// Decode parses a message, rejecting unknown types.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownMessage, err)
	}

	switch envelope.Type {
	case TypeSubscribeResolver:
		return decode[SubscribeResolver](data)
	case TypeNewOrder:
		return decode[NewOrder](data)
	case TypeSecretAvailable:
		return decode[SecretAvailable](data)
	case TypeOrderCancelled:
		return decode[OrderCancelled](data)
	case TypeOrderPicked:
		return decode[OrderPicked](data)
	case TypeOrderExecuted:
		return decode[OrderExecuted](data)
	case TypeOrderExecutionFailed:
		return decode[OrderExecutionFailed](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessage, envelope.Type)
	}
}

func decode[T Message](data []byte) (Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode %v: %w", msg.Type(), err)
	}
	return msg, nil
}
