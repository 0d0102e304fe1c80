package contracts

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/Layr-Labs/eigenx-metatx-go/pkg/chain"
	"github.com/Layr-Labs/eigenx-metatx-go/pkg/recipient"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethTypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

var (
	greetingSlot         = common.BytesToHash([]byte("greeter.greeting"))
	trustedForwarderSlot = common.BytesToHash([]byte("greeter.trustedForwarder"))
)

// Greeter is a recipient that accepts calls directly or through its trusted forwarder.
// greet() emits Greatings with the resolved originator, never the forwarder.
type Greeter struct {
	logger *zap.Logger
}

func NewGreeter(logger *zap.Logger) *Greeter {
	return &Greeter{logger: logger}
}

// DeployGreeter deploys a Greeter that trusts trustedForwarder
func DeployGreeter(
	ctx context.Context,
	c *chain.Chain,
	deployer *ecdsa.PrivateKey,
	greeting string,
	trustedForwarder common.Address,
	logger *zap.Logger,
) (common.Address, error) {
	args, err := PackGreeterConstructor(greeting, trustedForwarder)
	if err != nil {
		return common.Address{}, err
	}
	factory := func(common.Address) (chain.Contract, error) {
		return NewGreeter(logger), nil
	}

	addr, receipt, err := c.DeployContract(ctx, deployer, factory, args, 500_000)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to deploy greeter: %w", err)
	}
	if receipt.Status != ethTypes.ReceiptStatusSuccessful {
		return common.Address{}, fmt.Errorf("greeter deployment failed: %v", c.TransactionError(receipt.TxHash))
	}

	logger.Sugar().Infow("Deployed greeter",
		"address", addr.Hex(),
		"trustedForwarder", trustedForwarder.Hex(),
		"greeting", greeting,
	)
	return addr, nil
}

func (g *Greeter) Init(_ context.Context, call *chain.CallContext, args []byte) error {
	values, err := GreeterABI.Constructor.Inputs.Unpack(args)
	if err != nil {
		return chain.Revert("Greeter: bad constructor arguments")
	}
	greeting, _ := values[0].(string)
	forwarder, _ := values[1].(common.Address)

	if err := call.SetState(greetingSlot, []byte(greeting)); err != nil {
		return err
	}
	return call.SetState(trustedForwarderSlot, forwarder.Bytes())
}

func (g *Greeter) recipient(call *chain.CallContext) (recipient.TrustingRecipient, error) {
	raw, err := call.GetState(trustedForwarderSlot)
	if err != nil {
		return recipient.TrustingRecipient{}, err
	}
	return recipient.NewTrustingRecipient(common.BytesToAddress(raw)), nil
}

func (g *Greeter) Run(_ context.Context, call *chain.CallContext, input []byte) ([]byte, error) {
	trusting, err := g.recipient(call)
	if err != nil {
		return nil, err
	}
	resolved := trusting.Resolve(call.Caller(), input)

	payload := resolved.Payload
	if len(payload) < 4 {
		return nil, chain.Revert("Greeter: missing selector")
	}
	method, err := GreeterABI.MethodById(payload[:4])
	if err != nil {
		return nil, chain.Revert("Greeter: unknown selector %x", payload[:4])
	}
	if call.Value().Sign() > 0 {
		return nil, chain.Revert("Greeter: %s is not payable", method.Name)
	}

	switch method.Name {
	case "greet":
		return g.greet(call, resolved.Originator)
	case "greeting":
		raw, err := call.GetState(greetingSlot)
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(string(raw))
	case "setGreeting":
		return g.setGreeting(call, method, payload[4:], resolved.Originator)
	case "isTrustedForwarder":
		values, err := method.Inputs.Unpack(payload[4:])
		if err != nil {
			return nil, chain.Revert("Greeter: bad isTrustedForwarder arguments")
		}
		addr, _ := values[0].(common.Address)
		return method.Outputs.Pack(trusting.IsTrustedForwarder(addr))
	case "trustedForwarder":
		return method.Outputs.Pack(trusting.TrustedForwarder())
	}
	return nil, chain.Revert("Greeter: unhandled method %s", method.Name)
}

func (g *Greeter) greet(call *chain.CallContext, sender common.Address) ([]byte, error) {
	raw, err := call.GetState(greetingSlot)
	if err != nil {
		return nil, err
	}
	event := GreeterABI.Events["Greatings"]
	data, err := event.Inputs.NonIndexed().Pack(sender, string(raw))
	if err != nil {
		return nil, err
	}
	if err := call.Emit([]common.Hash{event.ID}, data); err != nil {
		return nil, err
	}

	g.logger.Sugar().Debugw("Greeter greeted", "sender", sender.Hex(), "caller", call.Caller().Hex())
	return nil, nil
}

func (g *Greeter) setGreeting(call *chain.CallContext, method *abi.Method, args []byte, sender common.Address) ([]byte, error) {
	values, err := method.Inputs.Unpack(args)
	if err != nil {
		return nil, chain.Revert("Greeter: bad setGreeting arguments")
	}
	greeting, _ := values[0].(string)
	if err := call.SetState(greetingSlot, []byte(greeting)); err != nil {
		return nil, err
	}

	g.logger.Sugar().Debugw("Greeting changed", "sender", sender.Hex(), "greeting", greeting)
	return nil, nil
}
